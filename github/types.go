package github

import (
	"errors"
	"fmt"
)

// types.go - Data structures for GitHub pull request references

// ErrMalformedPullRequestURL is matched by every ParseError.
var ErrMalformedPullRequestURL = errors.New("malformed pull request url")

// PullRequestURL is a parsed https://github.com/<owner>/<repo>/pull/<id> link.
type PullRequestURL struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	ID    string `json:"id"`
}

func (u PullRequestURL) String() string {
	return fmt.Sprintf("%s/%s#%s", u.Owner, u.Repo, u.ID)
}

// ParseError reports why a pull request URL was rejected.
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrMalformedPullRequestURL, e.URL, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrMalformedPullRequestURL
}
