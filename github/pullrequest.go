package github

import (
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"epic-repos/jira"
)

// ParsePullRequestURL splits a GitHub pull request link into owner,
// repository and pull request id. Anything after the id (such as /files) is
// ignored.
func ParsePullRequestURL(raw string) (PullRequestURL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PullRequestURL{}, &ParseError{URL: raw, Reason: "empty url"}
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return PullRequestURL{}, &ParseError{URL: raw, Reason: err.Error()}
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return PullRequestURL{}, &ParseError{URL: raw, Reason: "not an http(s) url"}
	}
	host := strings.ToLower(u.Hostname())
	if host != "github.com" && !strings.HasSuffix(host, ".github.com") {
		return PullRequestURL{}, &ParseError{URL: raw, Reason: "host is not github.com"}
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 || parts[2] != "pull" {
		return PullRequestURL{}, &ParseError{URL: raw, Reason: "path is not /<owner>/<repo>/pull/<id>"}
	}
	owner, repo, id := parts[0], parts[1], parts[3]
	switch {
	case !validName(owner, false):
		return PullRequestURL{}, &ParseError{URL: raw, Reason: "invalid owner " + strconv.Quote(owner)}
	case !validName(repo, true):
		return PullRequestURL{}, &ParseError{URL: raw, Reason: "invalid repository " + strconv.Quote(repo)}
	case id == "":
		return PullRequestURL{}, &ParseError{URL: raw, Reason: "missing pull request id"}
	}

	return PullRequestURL{Owner: owner, Repo: repo, ID: id}, nil
}

// ExtractRepoNames returns the repository name of every pull request in
// details, in order. References that cannot be parsed are left out and
// returned as errors.
func ExtractRepoNames(details []jira.PullRequestDetail, log *zap.Logger) ([]string, []error) {
	if log == nil {
		log = zap.NewNop()
	}

	repos := []string{}
	var errs []error
	for _, detail := range details {
		log.Info("found pull requests", zap.Int("count", len(detail.PullRequests)))
		for _, pr := range detail.PullRequests {
			parsed, err := ParsePullRequestURL(pr.URL)
			if err != nil {
				log.Warn("skipping pull request", zap.String("url", pr.URL), zap.Error(err))
				errs = append(errs, err)
				continue
			}
			log.Info("found pull request",
				zap.Stringer("pull_request", parsed),
				zap.String("user", parsed.Owner),
				zap.String("repository", parsed.Repo),
				zap.String("pr_id", parsed.ID),
			)
			repos = append(repos, parsed.Repo)
		}
	}
	return repos, errs
}

// validName accepts GitHub owner and repository names: letters, digits,
// '-' and '_', plus '.' for repositories.
func validName(s string, allowDot bool) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		case r == '.' && allowDot:
		default:
			return false
		}
	}
	return true
}
