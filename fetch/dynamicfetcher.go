package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/cookidump/cookidump/log"
	"golang.org/x/time/rate"
)

// AuthCookieName is set by the site once a session is authenticated.
const AuthCookieName = "v-authenticated"

// The DynamicFetcher renders js in a real browser. One browser instance is
// shared for the fetcher's lifetime so that injected cookies apply to every
// tab; each Fetch runs in its own tab.
type DynamicFetcher struct {
	*FetcherConfig
	allocContext   context.Context
	cancelAlloc    context.CancelFunc
	browserContext context.Context
	cancelBrowser  context.CancelFunc
	limiter        *rate.Limiter
}

func NewDynamicFetcher(fc *FetcherConfig) *DynamicFetcher {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(1920, 1080), // init with a desktop view (sometimes pages look different on mobile, eg buttons are missing)
		chromedp.Flag("headless", !fc.Interactive),
	)
	if fc.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(fc.UserAgent))
	}
	allocContext, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserContext, cancelBrowser := chromedp.NewContext(allocContext)
	d := &DynamicFetcher{
		FetcherConfig:  fc,
		allocContext:   allocContext,
		cancelAlloc:    cancelAlloc,
		browserContext: browserContext,
		cancelBrowser:  cancelBrowser,
	}
	if d.PageLoadWaitMS == 0 {
		d.PageLoadWaitMS = 2000 // default
	}
	if fc.RequestsPerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(fc.RequestsPerSecond), 1)
	}
	return d
}

func (d *DynamicFetcher) Cancel() {
	d.cancelBrowser()
	d.cancelAlloc()
}

func (d *DynamicFetcher) Fetch(ctx context.Context, urlStr string, opts FetchOpts) (string, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("fetcher", "dynamic"), slog.String("url", urlStr))
	logger.Debug("fetching page", slog.String("user-agent", d.UserAgent))

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return "", &TransientFetchError{URL: urlStr, Err: err}
		}
	}

	tabCtx, cancel := chromedp.NewContext(d.browserContext)
	defer cancel()

	sleepTime := time.Duration(d.PageLoadWaitMS) * time.Millisecond
	actions := []chromedp.Action{
		chromedp.Navigate(urlStr),
		chromedp.Sleep(sleepTime),
	}
	if opts.ScrollToEnd {
		actions = append(actions, d.scrollToEndAction(logger))
	}
	var body string
	actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		body, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return "", &TransientFetchError{URL: urlStr, Err: err}
	}
	return body, nil
}

// scrollToEndAction keeps scrolling down and clicking the load-more button
// until the tile count stops growing for maxStall rounds in a row.
func (d *DynamicFetcher) scrollToEndAction(logger *slog.Logger) chromedp.Action {
	const maxStall = 3
	return chromedp.ActionFunc(func(ctx context.Context) error {
		previous := -1
		stalled := 0
		for {
			if err := chromedp.KeyEvent(kb.End).Do(ctx); err != nil {
				return err
			}
			if err := chromedp.Sleep(time.Second).Do(ctx); err != nil {
				return err
			}
			var current int
			if err := chromedp.Evaluate(`document.querySelectorAll('core-tile').length`, &current).Do(ctx); err != nil {
				return err
			}
			logger.Debug(fmt.Sprintf("scrolled, %d tiles on page", current))
			if current == previous {
				var clicked bool
				err := chromedp.Evaluate(
					`(() => { const b = document.querySelector('#load-more--button'); if (b) { b.click(); return true; } return false; })()`,
					&clicked).Do(ctx)
				if err != nil {
					return err
				}
				if !clicked {
					stalled++
					if stalled >= maxStall {
						return nil
					}
				}
				if err := chromedp.Sleep(time.Second).Do(ctx); err != nil {
					return err
				}
			} else {
				stalled = 0
			}
			previous = current
		}
	})
}

// Login performs the login flow in the shared browser. With empty
// credentials it just waits for the human in front of the window to finish.
func (d *DynamicFetcher) Login(ctx context.Context, creds Credentials) ([]*network.Cookie, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("fetcher", "dynamic"))
	logger.Info("logging in", slog.String("url", d.LoginURL))

	actions := []chromedp.Action{
		network.Enable(),
		chromedp.Navigate(d.LoginURL),
		chromedp.Sleep(time.Duration(d.PageLoadWaitMS) * time.Millisecond),
	}
	if creds.Username != "" {
		actions = append(actions,
			chromedp.WaitVisible(`#username`, chromedp.ByID),
			chromedp.SendKeys(`#username`, creds.Username, chromedp.ByID),
			chromedp.SendKeys(`#password`, creds.Password, chromedp.ByID),
			chromedp.Click(`//button[contains(text(),'Login')]`),
			chromedp.Sleep(time.Duration(d.PageLoadWaitMS)*time.Millisecond),
		)
	}
	if err := chromedp.Run(d.browserContext, actions...); err != nil {
		return nil, fmt.Errorf("login flow failed: %w", err)
	}

	// poll until the auth cookie shows up; interactive logins can take a
	// while so this only gives up when the context does
	for {
		ok, err := d.Authenticated(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if creds.Username != "" {
			return nil, fmt.Errorf("no %s cookie after submitting credentials", AuthCookieName)
		}
		logger.Info("waiting for login to complete in the browser window")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	var cookies []*network.Cookie
	err := chromedp.Run(d.browserContext, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{d.BaseURL}).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("reading cookies after login: %w", err)
	}
	logger.Info(fmt.Sprintf("login successful, captured %d cookies", len(cookies)))
	return cookies, nil
}

// SetCookies injects a persisted cookie set into the shared browser.
func (d *DynamicFetcher) SetCookies(ctx context.Context, cookies []*network.Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &expires
		}
		params = append(params, p)
	}
	err := chromedp.Run(d.browserContext,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookies(params).Do(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("injecting %d cookies: %w", len(params), err)
	}
	return nil
}

// Authenticated checks for the session cookie the site sets after login.
func (d *DynamicFetcher) Authenticated(ctx context.Context) (bool, error) {
	var cookies []*network.Cookie
	err := chromedp.Run(d.browserContext,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithURLs([]string{d.BaseURL}).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return false, fmt.Errorf("reading cookies: %w", err)
	}
	for _, c := range cookies {
		if c.Name == AuthCookieName {
			return true, nil
		}
	}
	return false, nil
}
