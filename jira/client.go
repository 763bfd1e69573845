package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"epic-repos/config"
)

// JSONFetcher retrieves a JSON document with bounded retries.
type JSONFetcher interface {
	Fetch(ctx context.Context, rawURL string, maxRetries int, useTLS bool) (json.RawMessage, error)
}

// Client handles Jira API operations
type Client struct {
	baseURL         string
	fetcher         JSONFetcher
	maxRetries      int
	useTLS          bool
	maxResults      int
	applicationType string
	log             *zap.Logger
}

type ClientOption func(*Client)

// WithFetcher replaces the fetcher built from the configuration.
func WithFetcher(f JSONFetcher) ClientOption {
	return func(c *Client) {
		c.fetcher = f
	}
}

// NewClient creates a new Jira client
func NewClient(cfg config.Config, log *zap.Logger, opts ...ClientOption) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		baseURL:         cfg.Jira.RestEndpoint,
		maxRetries:      cfg.HTTP.MaxRetries,
		useTLS:          cfg.HTTP.UseTLS,
		maxResults:      cfg.Search.MaxResults,
		applicationType: cfg.Jira.ApplicationType,
		log:             log,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetcher == nil {
		c.fetcher = NewFetcher(
			Credentials{Username: cfg.Jira.Username, Password: cfg.Jira.Password},
			cfg.HTTP.Timeout,
			WithBackoff(cfg.HTTP.BackoffMin, cfg.HTTP.BackoffMax),
			WithLogger(log),
		)
	}
	if c.maxResults < 1 {
		c.maxResults = 50
	}
	if c.applicationType == "" {
		c.applicationType = "github"
	}
	return c
}

// getJSON fetches rawURL and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	body, err := c.fetcher.Fetch(ctx, rawURL, c.maxRetries, c.useTLS)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error parsing Jira response: %w", err)
	}
	return nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	return c.baseURL + path + "?" + query.Encode()
}
