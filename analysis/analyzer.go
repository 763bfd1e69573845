// Package analysis maps every issue of an epic to the repositories its pull
// requests were opened against.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"epic-repos/config"
	"epic-repos/github"
	"epic-repos/jira"
	"epic-repos/metrics"
)

// RunTimestampLayout formats the run timestamp used in output names.
const RunTimestampLayout = "20060102.150405"

// Output name prefixes; the run timestamp is appended.
const (
	TicketsToReposPrefix     = "tickets_to_repos"
	TicketsToRepoCountPrefix = "tickets_to_repo_count"
	ReposToTicketCountPrefix = "repos_to_ticket_count"
)

// ErrIssueFetch wraps failures to list the epic's issues. Nothing is written
// when it is returned.
var ErrIssueFetch = errors.New("fetching issues in epic failed")

// IssueSource lists the issues linked to an epic.
type IssueSource interface {
	FetchIssuesInEpic(ctx context.Context, epicKey string) ([]jira.Issue, error)
}

// PullRequestSource looks up the pull requests linked to an issue.
type PullRequestSource interface {
	GetPullRequestDetails(ctx context.Context, issue jira.Issue) (jira.DevStatusResponse, error)
}

// Sink persists one named report.
type Sink interface {
	Write(name string, v any) error
}

// Progress is told how far the per-issue loop has got.
type Progress interface {
	Start(total int)
	Increment()
	Finish()
}

type State int

const (
	StateIdle State = iota
	StateFetchingIssues
	StateResolvingPRs
	StateAggregating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingIssues:
		return "fetching_issues"
	case StateResolvingPRs:
		return "resolving_prs"
	case StateAggregating:
		return "aggregating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is everything a run produced.
type Result struct {
	EpicKey          string
	RunAt            time.Time
	Timestamp        string
	Issues           []jira.Issue
	Mapping          metrics.IssueRepoMapping
	TicketRepoCounts metrics.Counts
	RepoTicketCounts metrics.Counts
	// IssueErrors holds, per issue key, the problems hit while resolving it.
	IssueErrors   metrics.OrderedMap[[]string]
	TrackerErrors int
}

// OutputNames returns the three report names for this run.
func (r *Result) OutputNames() [3]string {
	return [3]string{
		TicketsToReposPrefix + "_" + r.Timestamp,
		TicketsToRepoCountPrefix + "_" + r.Timestamp,
		ReposToTicketCountPrefix + "_" + r.Timestamp,
	}
}

// Analyzer runs one epic analysis at a time. It is not safe for concurrent use.
type Analyzer struct {
	issues   IssueSource
	prs      PullRequestSource
	sink     Sink
	progress Progress
	policy   string
	now      func() time.Time
	log      *zap.Logger
	state    State
}

type Option func(*Analyzer)

func WithSink(s Sink) Option {
	return func(a *Analyzer) { a.sink = s }
}

func WithProgress(p Progress) Option {
	return func(a *Analyzer) { a.progress = p }
}

// WithMalformedURLPolicy selects what happens to an issue that links a pull
// request URL which cannot be parsed. See config.Policy*.
func WithMalformedURLPolicy(policy string) Option {
	return func(a *Analyzer) { a.policy = policy }
}

func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Analyzer) { a.log = l }
}

func NewAnalyzer(issues IssueSource, prs PullRequestSource, opts ...Option) *Analyzer {
	a := &Analyzer{
		issues:   issues,
		prs:      prs,
		progress: nopProgress{},
		policy:   config.PolicySkipReference,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State reports where the last Run got to.
func (a *Analyzer) State() State {
	return a.state
}

// Run fetches the epic's issues, resolves the repositories of each one in
// order, aggregates the mapping and hands the three reports to the sink.
// Failing to list the issues aborts the run; failures for a single issue are
// recorded in Result.IssueErrors and the run carries on.
func (a *Analyzer) Run(ctx context.Context, epicKey string) (*Result, error) {
	runAt := a.now()
	res := &Result{
		EpicKey:   epicKey,
		RunAt:     runAt,
		Timestamp: runAt.Format(RunTimestampLayout),
	}

	a.state = StateFetchingIssues
	issues, err := a.issues.FetchIssuesInEpic(ctx, epicKey)
	if err != nil {
		a.state = StateFailed
		return nil, fmt.Errorf("%w: %s: %w", ErrIssueFetch, epicKey, err)
	}
	res.Issues = issues

	a.state = StateResolvingPRs
	a.progress.Start(len(issues))
	for _, issue := range issues {
		if err := ctx.Err(); err != nil {
			a.state = StateFailed
			return nil, err
		}

		repos, problems, trackerErrs, err := a.resolve(ctx, issue)
		if err != nil {
			a.state = StateFailed
			return nil, err
		}
		res.Mapping.Merge(issue.Key, repos)
		res.TrackerErrors += trackerErrs
		if len(problems) > 0 {
			prev, _ := res.IssueErrors.Get(issue.Key)
			res.IssueErrors.Set(issue.Key, append(prev, problems...))
		}

		a.progress.Increment()
		a.log.Info("processed issue",
			zap.String("key", issue.Key),
			zap.Int("repos", len(repos)),
			zap.Int("problems", len(problems)),
		)
	}
	a.progress.Finish()

	a.state = StateAggregating
	res.TicketRepoCounts = metrics.TicketToRepoCount(res.Mapping)
	res.RepoTicketCounts = metrics.RepoToTicketCount(res.Mapping)
	a.log.Info("finished", zap.String("epic", epicKey), zap.Int("keys", res.Mapping.Len()))

	if a.sink != nil {
		names := res.OutputNames()
		reports := []any{res.Mapping, res.TicketRepoCounts, res.RepoTicketCounts}
		for i, name := range names {
			if err := a.sink.Write(name, reports[i]); err != nil {
				a.state = StateFailed
				return nil, fmt.Errorf("write %s: %w", name, err)
			}
		}
	}

	a.state = StateDone
	return res, nil
}

// resolve returns the repositories linked to issue, the problems to record
// against it and the number of tracker-reported errors. A non-nil error
// aborts the run.
func (a *Analyzer) resolve(ctx context.Context, issue jira.Issue) ([]string, []string, int, error) {
	resp, err := a.prs.GetPullRequestDetails(ctx, issue)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, 0, ctxErr
		}
		a.log.Warn("resolving pull requests failed, skipping issue",
			zap.String("key", issue.Key),
			zap.Error(err),
		)
		return []string{}, []string{err.Error()}, 0, nil
	}

	var problems []string
	for _, e := range resp.Errors {
		problems = append(problems, "tracker: "+e)
	}

	repos, parseErrs := github.ExtractRepoNames(resp.Details, a.log.With(zap.String("key", issue.Key)))
	if len(parseErrs) == 0 {
		return repos, problems, len(resp.Errors), nil
	}

	switch a.policy {
	case config.PolicyFailRun:
		return nil, nil, 0, fmt.Errorf("issue %s: %w", issue.Key, parseErrs[0])
	case config.PolicySkipIssue:
		a.log.Warn("dropping repositories of issue with malformed pull request url",
			zap.String("key", issue.Key),
			zap.Int("malformed", len(parseErrs)),
		)
		repos = []string{}
	}
	for _, e := range parseErrs {
		problems = append(problems, e.Error())
	}
	return repos, problems, len(resp.Errors), nil
}

type nopProgress struct{}

func (nopProgress) Start(int)  {}
func (nopProgress) Increment() {}
func (nopProgress) Finish()    {}
