package jira

import (
	"encoding/json"
	"strings"
)

// types.go - Data structures for the Jira search and dev-status APIs

// Issue is a ticket returned by an epic search.
type Issue struct {
	Key     string `json:"key" yaml:"key"`
	ID      string `json:"id" yaml:"id"`
	Summary string `json:"summary" yaml:"summary"`
	Status  string `json:"status" yaml:"status"`
}

// SearchPage is one page of /rest/api/2/search results.
type SearchPage struct {
	Issues     []Issue
	StartAt    int
	MaxResults int
	Total      int
}

// HasMore reports whether another page should be requested. The boundary is
// inclusive (startAt + maxResults <= total + 1), so an exactly full last page
// is followed by one more, empty, request.
func (p SearchPage) HasMore() bool {
	if p.MaxResults <= 0 {
		return false
	}
	return p.StartAt+p.MaxResults <= p.Total+1
}

// PullRequestRef is a pull request linked to an issue.
type PullRequestRef struct {
	URL string `json:"url"`
}

// PullRequestDetail groups the pull requests reported by one connected
// source-control instance.
type PullRequestDetail struct {
	PullRequests []PullRequestRef `json:"pullRequests"`
}

// DevStatusResponse is the result of a dev-status lookup for one issue.
type DevStatusResponse struct {
	Errors  []string
	Details []PullRequestDetail
}

// Jira API response structures
type searchResponse struct {
	Issues []struct {
		ID     string `json:"id"`
		Key    string `json:"key"`
		Fields struct {
			Summary string `json:"summary"`
			Status  struct {
				Name string `json:"name"`
			} `json:"status"`
		} `json:"fields"`
	} `json:"issues"`
	StartAt    int `json:"startAt"`
	MaxResults int `json:"maxResults"`
	Total      int `json:"total"`
}

func (r searchResponse) page() SearchPage {
	page := SearchPage{
		Issues:     make([]Issue, 0, len(r.Issues)),
		StartAt:    r.StartAt,
		MaxResults: r.MaxResults,
		Total:      r.Total,
	}
	for _, issue := range r.Issues {
		page.Issues = append(page.Issues, Issue{
			Key:     issue.Key,
			ID:      issue.ID,
			Summary: issue.Fields.Summary,
			Status:  issue.Fields.Status.Name,
		})
	}
	return page
}

type devStatusResponse struct {
	Errors []json.RawMessage   `json:"errors"`
	Detail []PullRequestDetail `json:"detail"`
}

func (r devStatusResponse) response() DevStatusResponse {
	out := DevStatusResponse{
		Errors:  make([]string, 0, len(r.Errors)),
		Details: r.Detail,
	}
	if out.Details == nil {
		out.Details = []PullRequestDetail{}
	}
	for _, raw := range r.Errors {
		out.Errors = append(out.Errors, errorText(raw))
	}
	return out
}

// errorText renders a dev-status error entry. Entries are usually strings but
// some Jira versions report objects; those are kept as compact JSON.
func errorText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
