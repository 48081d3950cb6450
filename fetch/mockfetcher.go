package fetch

import (
	"context"
	"errors"
	"sync"

	"github.com/chromedp/cdproto/network"
)

// MockFetcher serves pages from a map instead of a browser. Tests use it to
// exercise the whole pipeline without any network.
type MockFetcher struct {
	*FetcherConfig
	pagesMap map[string]string

	mu         sync.Mutex
	fetchCount map[string]int
	failures   map[string]int

	loginErr      error
	loginCookies  []*network.Cookie
	authenticated bool
}

func NewMockFetcher(fc *FetcherConfig) *MockFetcher {
	mf := &MockFetcher{
		FetcherConfig: fc,
		pagesMap:      map[string]string{},
		fetchCount:    map[string]int{},
		failures:      map[string]int{},
	}
	for _, p := range fc.MockPages {
		mf.pagesMap[p.URL] = p.Content
	}
	return mf
}

// SetPage adds or replaces a page after construction.
func (m *MockFetcher) SetPage(url, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pagesMap[url] = content
}

// FailTimes makes the next n fetches of url fail with a transient error.
func (m *MockFetcher) FailTimes(url string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[url] = n
}

// FetchCount reports how often url has been fetched.
func (m *MockFetcher) FetchCount(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCount[url]
}

func (m *MockFetcher) Fetch(ctx context.Context, urlStr string, opts FetchOpts) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCount[urlStr]++
	if n := m.failures[urlStr]; n > 0 {
		m.failures[urlStr] = n - 1
		return "", &TransientFetchError{URL: urlStr, Err: errors.New("injected failure")}
	}
	if p, ok := m.pagesMap[urlStr]; ok {
		return p, nil
	}
	return "", &TransientFetchError{URL: urlStr, Err: errors.New("page not found")}
}

// To comply with the Fetcher interface
func (m *MockFetcher) Cancel() {}

// SetLoginResult configures what Login returns.
func (m *MockFetcher) SetLoginResult(cookies []*network.Cookie, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginCookies = cookies
	m.loginErr = err
}

func (m *MockFetcher) Login(ctx context.Context, creds Credentials) ([]*network.Cookie, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	m.authenticated = true
	return m.loginCookies, nil
}

func (m *MockFetcher) SetCookies(ctx context.Context, cookies []*network.Cookie) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticated = len(cookies) > 0
	return nil
}

func (m *MockFetcher) Authenticated(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated, nil
}
