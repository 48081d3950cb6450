// Package session persists and validates authentication state across runs.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/cookidump/cookidump/fetch"
)

// maxLoginAttempts bounds the login flow; exhausting it is fatal for the
// whole run.
const maxLoginAttempts = 3

// AuthenticationError means the login flow failed repeatedly. It terminates
// the run.
type AuthenticationError struct {
	Attempts int
	Err      error
}

func (e *AuthenticationError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("authentication failed: %v", e.Err)
	}
	return fmt.Sprintf("authentication failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Session is the persisted cookie state for one locale. It is owned by the
// Store for the lifetime of a run and read-only for everyone else.
type Session struct {
	Locale  string            `json:"locale"`
	SavedAt time.Time         `json:"saved_at"`
	Cookies []*network.Cookie `json:"cookies"`
}

// Expired reports whether the session's auth cookie is missing or past its
// expiry. Sessions without an auth cookie never granted access at all.
func (s *Session) Expired(now time.Time) bool {
	for _, c := range s.Cookies {
		if c.Name != fetch.AuthCookieName {
			continue
		}
		if c.Expires > 0 && time.Unix(int64(c.Expires), 0).Before(now) {
			return true
		}
		return false
	}
	return true
}

// CredentialsFunc supplies login credentials when no valid session exists
// and the run is not interactive.
type CredentialsFunc func() (fetch.Credentials, error)

// Store reads and writes the session file for one locale.
type Store struct {
	dir     string
	locale  string
	fetcher fetch.SessionFetcher
	creds   CredentialsFunc
}

func NewStore(dir, locale string, fetcher fetch.SessionFetcher, creds CredentialsFunc) *Store {
	return &Store{dir: dir, locale: locale, fetcher: fetcher, creds: creds}
}

func (st *Store) path() string {
	return filepath.Join(st.dir, fmt.Sprintf("cookies-%s.json", st.locale))
}

// Load returns the persisted session for the store's locale, or nil when
// there is none. A corrupt file is an error so the user can decide whether
// to delete it.
func (st *Store) Load() (*Session, error) {
	data, err := os.ReadFile(st.path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session file %s is not valid, delete it and log in again: %w", st.path(), err)
	}
	return &s, nil
}

func (st *Store) persist(s *Session) error {
	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	// replace any prior session for this locale atomically
	tmp := st.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	return os.Rename(tmp, st.path())
}

// Invalidate drops the persisted session, typically after the site rejected
// its cookies mid-run.
func (st *Store) Invalidate() error {
	err := os.Remove(st.path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Acquire returns a valid session for the store's locale. A persisted,
// non-expired session is reused when the run is not interactive; otherwise
// the login flow runs through the fetcher, at most maxLoginAttempts times
// before giving up with an AuthenticationError.
func (st *Store) Acquire(ctx context.Context, interactive bool) (*Session, error) {
	if !interactive {
		s, err := st.Load()
		if err != nil {
			return nil, err
		}
		if s != nil && !s.Expired(time.Now()) {
			if err := st.fetcher.SetCookies(ctx, s.Cookies); err != nil {
				return nil, err
			}
			if ok, err := st.fetcher.Authenticated(ctx); err == nil && ok {
				return s, nil
			}
			// cookies no longer grant access, fall through to a fresh login
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxLoginAttempts; attempt++ {
		creds := fetch.Credentials{}
		if !interactive {
			var err error
			creds, err = st.creds()
			if err != nil {
				return nil, err
			}
		}
		cookies, err := st.fetcher.Login(ctx, creds)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		s := &Session{Locale: st.locale, SavedAt: time.Now(), Cookies: cookies}
		if err := st.persist(s); err != nil {
			return nil, fmt.Errorf("persisting session: %w", err)
		}
		return s, nil
	}
	return nil, &AuthenticationError{Attempts: maxLoginAttempts, Err: lastErr}
}
