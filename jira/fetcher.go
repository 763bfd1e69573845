package jira

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// ErrFetchExhausted is returned once every attempt of a fetch has failed.
var ErrFetchExhausted = errors.New("fetch retries exhausted")

// FetchError describes a fetch that ran out of attempts. It matches both
// ErrFetchExhausted and the last underlying failure.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("GET %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchExhausted, e.Err}
}

// HTTPClient interface for HTTP operations (allows mocking in tests).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Credentials are the basic auth user and password sent with every request.
type Credentials struct {
	Username string
	Password string
}

// Fetcher issues authenticated GET requests and retries transient failures
// with a randomized backoff.
type Fetcher struct {
	creds      Credentials
	plain      HTTPClient
	tls        HTTPClient
	backoffMin time.Duration
	backoffMax time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	log        *zap.Logger
}

type FetcherOption func(*Fetcher)

// WithHTTPClient replaces both the plain and the TLS client.
func WithHTTPClient(c HTTPClient) FetcherOption {
	return func(f *Fetcher) {
		f.plain = c
		f.tls = c
	}
}

// WithBackoff sets the range the retry delay is drawn from.
func WithBackoff(lo, hi time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.backoffMin = lo
		f.backoffMax = hi
	}
}

// WithSleep overrides how the fetcher waits between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *Fetcher) {
		f.sleep = fn
	}
}

func WithLogger(l *zap.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.log = l
	}
}

// NewFetcher creates a fetcher. The TLS client does not verify server
// certificates.
func NewFetcher(creds Credentials, timeout time.Duration, opts ...FetcherOption) *Fetcher {
	insecure := http.DefaultTransport.(*http.Transport).Clone()
	insecure.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // trust-all, as configured by http.use_tls

	f := &Fetcher{
		creds:      creds,
		plain:      &http.Client{Timeout: timeout},
		tls:        &http.Client{Timeout: timeout, Transport: insecure},
		backoffMin: 3 * time.Second,
		backoffMax: 6 * time.Second,
		sleep:      sleepContext,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch GETs rawURL and returns the JSON body. Network errors, non-2xx
// responses and bodies that are not JSON are retried until maxRetries
// attempts have been made; after that a *FetchError is returned. With useTLS
// the request is sent over https whatever the URL scheme.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxRetries int, useTLS bool) (json.RawMessage, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	client := f.plain
	if useTLS {
		target.Scheme = "https"
		client = f.tls
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		remaining := maxRetries - attempt
		f.log.Info("making request",
			zap.String("url", target.String()),
			zap.Int("attempt", attempt),
			zap.Int("retries_left", remaining),
		)

		body, err := f.get(ctx, client, target.String())
		if err == nil {
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		f.log.Info("error making request",
			zap.String("url", target.String()),
			zap.Int("retries_left", remaining),
			zap.Error(err),
		)
		if remaining == 0 {
			break
		}
		if err := f.sleep(ctx, f.backoff()); err != nil {
			return nil, err
		}
	}

	return nil, &FetchError{URL: target.String(), Attempts: maxRetries, Err: lastErr}
}

func (f *Fetcher) get(ctx context.Context, client HTTPClient, target string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(f.creds.Username, f.creds.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		f.log.Warn("request rejected, check jira.username and jira.password",
			zap.String("url", target),
			zap.Int("status", resp.StatusCode),
		)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("response is not valid JSON: %s", truncate(body, 200))
	}

	return json.RawMessage(body), nil
}

func (f *Fetcher) backoff() time.Duration {
	if f.backoffMax <= f.backoffMin {
		return f.backoffMin
	}
	return f.backoffMin + time.Duration(rand.Int63n(int64(f.backoffMax-f.backoffMin+1)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
