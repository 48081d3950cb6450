// Package fetch provides the page fetchers. All navigation, rendering and
// login happens here; the rest of the pipeline never talks to the network
// directly.
package fetch

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
)

// TransientFetchError marks a single failed page load. The scheduler
// retries these with backoff before recording the item as failed.
type TransientFetchError struct {
	URL string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// Credentials are submitted through the login form when no valid session
// exists and the run is not interactive.
type Credentials struct {
	Username string
	Password string
}

// FetchOpts control a single page fetch.
type FetchOpts struct {
	// ScrollToEnd keeps scrolling and clicking the load-more button until
	// the number of recipe tiles stops growing. Needed for lazy-loaded
	// collection pages.
	ScrollToEnd bool
}

// MockPage maps a url to static content for the MockFetcher.
type MockPage struct {
	URL     string
	Content string
}

// FetcherConfig defines the necessary parameters to make a new fetcher.
type FetcherConfig struct {
	UserAgent      string
	PageLoadWaitMS int

	// Interactive opens a visible browser window instead of a headless one
	// so a human can complete the login.
	Interactive bool

	// RequestsPerSecond throttles page loads. Zero disables throttling.
	RequestsPerSecond float64

	BaseURL  string
	LoginURL string

	MockPages []MockPage
}

// A Fetcher allows to fetch the rendered content of a web page.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts FetchOpts) (string, error)
	Cancel()
}

// A SessionFetcher additionally performs the login flow and exposes the
// browser's cookies so the session store can persist and restore them.
type SessionFetcher interface {
	Fetcher
	// Login authenticates and returns the resulting cookie set. With empty
	// credentials the fetcher waits for a human to complete the login in
	// the browser window.
	Login(ctx context.Context, creds Credentials) ([]*network.Cookie, error)
	// SetCookies injects a previously persisted cookie set.
	SetCookies(ctx context.Context, cookies []*network.Cookie) error
	// Authenticated reports whether the current cookie set grants access.
	Authenticated(ctx context.Context) (bool, error)
}
