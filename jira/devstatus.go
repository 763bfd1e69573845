package jira

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

// GetPullRequestDetails asks the dev-status endpoint for the pull requests
// linked to issue. Errors reported by the tracker are returned alongside the
// details, not as a Go error.
func (c *Client) GetPullRequestDetails(ctx context.Context, issue Issue) (DevStatusResponse, error) {
	c.log.Info("getting pull requests attached to issue",
		zap.String("key", issue.Key),
		zap.String("id", issue.ID),
	)

	query := url.Values{}
	query.Set("issueId", issue.ID)
	query.Set("applicationType", c.applicationType)
	query.Set("dataType", "pullrequest")

	var raw devStatusResponse
	if err := c.getJSON(ctx, c.endpoint("/rest/dev-status/1.0/issue/detail", query), &raw); err != nil {
		return DevStatusResponse{}, fmt.Errorf("error fetching dev-status for %s: %w", issue.Key, err)
	}

	resp := raw.response()
	c.log.Info("found dev-status entries",
		zap.String("key", issue.Key),
		zap.Int("errors", len(resp.Errors)),
		zap.Int("details", len(resp.Details)),
	)
	for _, e := range resp.Errors {
		c.log.Warn("dev-status reported error", zap.String("key", issue.Key), zap.String("error", e))
	}
	return resp, nil
}
