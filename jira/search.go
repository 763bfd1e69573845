package jira

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

const searchFields = "id,key,summary,status"

// EpicJQL is the filter selecting every issue linked to epicKey.
func EpicJQL(epicKey string) string {
	return `"Epic Link"=` + epicKey
}

// FetchSearchPage fetches one page of issues linked to epicKey.
func (c *Client) FetchSearchPage(ctx context.Context, epicKey string, startAt int) (SearchPage, error) {
	query := url.Values{
		"jql":        {EpicJQL(epicKey)},
		"fields":     {searchFields},
		"startAt":    {strconv.Itoa(startAt)},
		"maxResults": {strconv.Itoa(c.maxResults)},
	}

	var resp searchResponse
	if err := c.getJSON(ctx, c.endpoint("/rest/api/2/search", query), &resp); err != nil {
		return SearchPage{}, fmt.Errorf("error fetching Jira issues: %w", err)
	}
	return resp.page(), nil
}

// FetchIssuesInEpic walks the search results for epicKey page by page and
// returns every issue in page order.
func (c *Client) FetchIssuesInEpic(ctx context.Context, epicKey string) ([]Issue, error) {
	var issues []Issue
	startAt := 0

	for {
		page, err := c.FetchSearchPage(ctx, epicKey, startAt)
		if err != nil {
			return nil, err
		}
		issues = append(issues, page.Issues...)

		c.log.Info("checking if more results",
			zap.String("epic", epicKey),
			zap.Int("start_at", page.StartAt),
			zap.Int("max_results", page.MaxResults),
			zap.Int("total", page.Total),
		)
		if !page.HasMore() {
			break
		}
		startAt += c.maxResults
	}

	c.log.Info("queried issues", zap.String("epic", epicKey), zap.Int("count", len(issues)))
	return issues, nil
}
