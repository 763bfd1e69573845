package metrics

import "sort"

// NoRepo is the repo-count bucket for issues without any pull request.
const NoRepo = "none"

// IssueRepoMapping maps issue keys to the repositories their pull requests
// live in, in the order the issues were processed.
type IssueRepoMapping struct {
	OrderedMap[[]string]
}

// Merge records repos for key. The first call keeps repos as given,
// duplicates included; later calls for the same key take the union of the
// stored and the new names, without duplicates.
func (m *IssueRepoMapping) Merge(key string, repos []string) {
	existing, ok := m.Get(key)
	if !ok {
		m.Set(key, append([]string{}, repos...))
		return
	}
	m.Set(key, union(existing, repos))
}

// Repos returns a copy of the repositories recorded for key.
func (m IssueRepoMapping) Repos(key string) []string {
	repos, _ := m.Get(key)
	return append([]string{}, repos...)
}

// Counts is an ordered name to count map.
type Counts struct {
	OrderedMap[int]
}

// Inc adds one to key, appending it if it is new.
func (c *Counts) Inc(key string) {
	n, _ := c.Get(key)
	c.Set(key, n+1)
}

// Count is a single entry of Counts.
type Count struct {
	Key   string
	Value int
}

// Ranked returns the entries ordered by descending count, ties broken by
// insertion order.
func (c Counts) Ranked() []Count {
	out := make([]Count, 0, c.Len())
	for _, k := range c.keys {
		out = append(out, Count{Key: k, Value: c.values[k]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Value > out[j].Value
	})
	return out
}

// TicketToRepoCount computes the number of repositories recorded for each
// issue. Duplicates are counted.
func TicketToRepoCount(mapping IssueRepoMapping) Counts {
	var counts Counts
	for _, key := range mapping.keys {
		counts.Set(key, len(mapping.values[key]))
	}
	return counts
}

// RepoToTicketCount computes, for each repository, the number of issues that
// reference it. An issue counts once per distinct repository; issues without
// repositories are counted under NoRepo.
func RepoToTicketCount(mapping IssueRepoMapping) Counts {
	var counts Counts
	for _, key := range mapping.keys {
		repos := mapping.values[key]
		if len(repos) == 0 {
			counts.Inc(NoRepo)
			continue
		}
		for _, repo := range unique(repos) {
			counts.Inc(repo)
		}
	}
	return counts
}

func unique(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func union(a, b []string) []string {
	all := make([]string, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return unique(all)
}
