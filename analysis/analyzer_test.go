package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"epic-repos/config"
	"epic-repos/github"
	"epic-repos/jira"
	"epic-repos/metrics"
	"epic-repos/mocks"
)

type analyzerDeps struct {
	issues   *mocks.MockIssueSource
	prs      *mocks.MockPullRequestSource
	sink     *mocks.MockSink
	progress *mocks.MockProgress
}

var fixedNow = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

func newTestAnalyzer(t *testing.T, opts ...Option) (*Analyzer, *analyzerDeps) {
	ctrl := gomock.NewController(t)

	deps := &analyzerDeps{
		issues:   mocks.NewMockIssueSource(ctrl),
		prs:      mocks.NewMockPullRequestSource(ctrl),
		sink:     mocks.NewMockSink(ctrl),
		progress: mocks.NewMockProgress(ctrl),
	}

	opts = append([]Option{
		WithSink(deps.sink),
		WithProgress(deps.progress),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	return NewAnalyzer(deps.issues, deps.prs, opts...), deps
}

func prDetails(urls ...string) jira.DevStatusResponse {
	refs := make([]jira.PullRequestRef, 0, len(urls))
	for _, u := range urls {
		refs = append(refs, jira.PullRequestRef{URL: u})
	}
	return jira.DevStatusResponse{
		Errors:  []string{},
		Details: []jira.PullRequestDetail{{PullRequests: refs}},
	}
}

func expectProgress(deps *analyzerDeps, total int) {
	deps.progress.EXPECT().Start(total)
	deps.progress.EXPECT().Increment().Times(total)
	deps.progress.EXPECT().Finish()
}

func TestRun_BuildsMappingAndWritesReports(t *testing.T) {
	a, deps := newTestAnalyzer(t)
	ctx := context.Background()

	t1 := jira.Issue{Key: "T1", ID: "1"}
	t2 := jira.Issue{Key: "T2", ID: "2"}

	gomock.InOrder(
		deps.issues.EXPECT().FetchIssuesInEpic(ctx, "EPIC-1").Return([]jira.Issue{t1, t2}, nil),
		deps.prs.EXPECT().GetPullRequestDetails(ctx, t1).Return(prDetails(
			"https://github.com/acme/widgets/pull/1",
			"https://github.com/acme/widgets/pull/2",
			"https://github.com/acme/core/pull/3",
		), nil),
		deps.prs.EXPECT().GetPullRequestDetails(ctx, t2).Return(prDetails(), nil),
	)
	expectProgress(deps, 2)

	written := map[string]any{}
	deps.sink.EXPECT().Write(gomock.Any(), gomock.Any()).Times(3).DoAndReturn(func(name string, v any) error {
		written[name] = v
		return nil
	})

	res, err := a.Run(ctx, "EPIC-1")
	require.NoError(t, err)
	assert.Equal(t, StateDone, a.State())

	assert.Equal(t, "20240305.140709", res.Timestamp)
	assert.Equal(t, []string{"T1", "T2"}, res.Mapping.Keys())
	assert.Equal(t, []string{"widgets", "widgets", "core"}, res.Mapping.Repos("T1"))
	assert.Equal(t, []string{}, res.Mapping.Repos("T2"))
	assert.Equal(t, map[string]int{"T1": 3, "T2": 0}, res.TicketRepoCounts.ToMap())
	assert.Equal(t, map[string]int{"widgets": 1, "core": 1, metrics.NoRepo: 1}, res.RepoTicketCounts.ToMap())
	assert.Zero(t, res.IssueErrors.Len())

	require.Len(t, written, 3)
	assert.Equal(t, res.Mapping, written["tickets_to_repos_20240305.140709"])
	assert.Equal(t, res.TicketRepoCounts, written["tickets_to_repo_count_20240305.140709"])
	assert.Equal(t, res.RepoTicketCounts, written["repos_to_ticket_count_20240305.140709"])
}

func TestRun_IssueFetchFailureWritesNothing(t *testing.T) {
	a, deps := newTestAnalyzer(t)
	ctx := context.Background()

	deps.issues.EXPECT().FetchIssuesInEpic(ctx, "EPIC-1").Return(nil, &jira.FetchError{
		URL: "https://jira/rest/api/2/search", Attempts: 5, Err: errors.New("timeout"),
	})

	res, err := a.Run(ctx, "EPIC-1")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrIssueFetch)
	assert.ErrorIs(t, err, jira.ErrFetchExhausted)
	assert.Equal(t, StateFailed, a.State())
}

func TestRun_ResolverFailureSkipsOnlyThatIssue(t *testing.T) {
	a, deps := newTestAnalyzer(t)
	ctx := context.Background()

	t1 := jira.Issue{Key: "T1", ID: "1"}
	t2 := jira.Issue{Key: "T2", ID: "2"}

	deps.issues.EXPECT().FetchIssuesInEpic(ctx, "EPIC-1").Return([]jira.Issue{t1, t2}, nil)
	deps.prs.EXPECT().GetPullRequestDetails(ctx, t1).Return(jira.DevStatusResponse{}, fmt.Errorf("dev-status: %w", jira.ErrFetchExhausted))
	deps.prs.EXPECT().GetPullRequestDetails(ctx, t2).Return(prDetails("https://github.com/acme/core/pull/9"), nil)
	expectProgress(deps, 2)
	deps.sink.EXPECT().Write(gomock.Any(), gomock.Any()).Times(3).Return(nil)

	res, err := a.Run(ctx, "EPIC-1")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Mapping.Len())
	assert.Equal(t, []string{}, res.Mapping.Repos("T1"))
	assert.Equal(t, []string{"core"}, res.Mapping.Repos("T2"))

	problems, ok := res.IssueErrors.Get("T1")
	require.True(t, ok)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "fetch retries exhausted")
}

func TestRun_TrackerErrorsAreNotFatal(t *testing.T) {
	a, deps := newTestAnalyzer(t)
	ctx := context.Background()

	t1 := jira.Issue{Key: "T1", ID: "1"}
	resp := prDetails("https://github.com/acme/core/pull/9")
	resp.Errors = []string{"github instance offline"}

	deps.issues.EXPECT().FetchIssuesInEpic(ctx, "EPIC-1").Return([]jira.Issue{t1}, nil)
	deps.prs.EXPECT().GetPullRequestDetails(ctx, t1).Return(resp, nil)
	expectProgress(deps, 1)
	deps.sink.EXPECT().Write(gomock.Any(), gomock.Any()).Times(3).Return(nil)

	res, err := a.Run(ctx, "EPIC-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"core"}, res.Mapping.Repos("T1"))
	assert.Equal(t, 1, res.TrackerErrors)
	problems, _ := res.IssueErrors.Get("T1")
	assert.Equal(t, []string{"tracker: github instance offline"}, problems)
}

func TestRun_MalformedURLPolicies(t *testing.T) {
	details := prDetails(
		"https://github.com/acme/widgets/pull/1",
		"https://github.com/acme/broken",
	)

	tests := []struct {
		policy    string
		wantRepos []string
	}{
		{config.PolicySkipReference, []string{"widgets"}},
		{config.PolicySkipIssue, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			a, deps := newTestAnalyzer(t, WithMalformedURLPolicy(tt.policy))
			ctx := context.Background()
			t1 := jira.Issue{Key: "T1", ID: "1"}

			deps.issues.EXPECT().FetchIssuesInEpic(ctx, "EPIC-1").Return([]jira.Issue{t1}, nil)
			deps.prs.EXPECT().GetPullRequestDetails(ctx, t1).Return(details, nil)
			expectProgress(deps, 1)
			deps.sink.EXPECT().Write(gomock.Any(), gomock.Any()).Times(3).Return(nil)

			res, err := a.Run(ctx, "EPIC-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantRepos, res.Mapping.Repos("T1"))

			problems, ok := res.IssueErrors.Get("T1")
			require.True(t, ok)
			require.Len(t, problems, 1)
			assert.Contains(t, problems[0], "https://github.com/acme/broken")
		})
	}
}

func TestRun_MalformedURLFailRun(t *testing.T) {
	a, deps := newTestAnalyzer(t, WithMalformedURLPolicy(config.PolicyFailRun))
	ctx := context.Background()
	t1 := jira.Issue{Key: "T1", ID: "1"}

	deps.issues.EXPECT().FetchIssuesInEpic(ctx, "EPIC-1").Return([]jira.Issue{t1}, nil)
	deps.prs.EXPECT().GetPullRequestDetails(ctx, t1).Return(prDetails("https://github.com/acme/broken"), nil)
	deps.progress.EXPECT().Start(1)

	res, err := a.Run(ctx, "EPIC-1")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, github.ErrMalformedPullRequestURL)
	assert.Contains(t, err.Error(), "T1")
	assert.Equal(t, StateFailed, a.State())
}

func TestRun_DuplicateIssueKeysAreMerged(t *testing.T) {
	a, deps := newTestAnalyzer(t)
	ctx := context.Background()

	first := jira.Issue{Key: "T1", ID: "1"}
	again := jira.Issue{Key: "T1", ID: "1"}

	deps.issues.EXPECT().FetchIssuesInEpic(ctx, "EPIC-1").Return([]jira.Issue{first, again}, nil)
	gomock.InOrder(
		deps.prs.EXPECT().GetPullRequestDetails(ctx, first).Return(prDetails(
			"https://github.com/acme/core/pull/1",
			"https://github.com/acme/api/pull/2",
		), nil),
		deps.prs.EXPECT().GetPullRequestDetails(ctx, again).Return(prDetails(
			"https://github.com/acme/api/pull/2",
			"https://github.com/acme/web/pull/3",
		), nil),
	)
	expectProgress(deps, 2)
	deps.sink.EXPECT().Write(gomock.Any(), gomock.Any()).Times(3).Return(nil)

	res, err := a.Run(ctx, "EPIC-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Mapping.Len())
	assert.Equal(t, []string{"core", "api", "web"}, res.Mapping.Repos("T1"))
}

func TestRun_SinkFailure(t *testing.T) {
	a, deps := newTestAnalyzer(t)
	ctx := context.Background()

	deps.issues.EXPECT().FetchIssuesInEpic(ctx, "EPIC-1").Return([]jira.Issue{}, nil)
	expectProgress(deps, 0)
	deps.sink.EXPECT().Write("tickets_to_repos_20240305.140709", gomock.Any()).Return(errors.New("disk full"))

	_, err := a.Run(ctx, "EPIC-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRun_CancelledContextStops(t *testing.T) {
	a, deps := newTestAnalyzer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	deps.issues.EXPECT().FetchIssuesInEpic(ctx, "EPIC-1").Return([]jira.Issue{{Key: "T1", ID: "1"}}, nil)
	deps.progress.EXPECT().Start(1)

	_, err := a.Run(ctx, "EPIC-1")
	require.ErrorIs(t, err, context.Canceled)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "resolving_prs", StateResolvingPRs.String())
	assert.Equal(t, "state(42)", State(42).String())
}
