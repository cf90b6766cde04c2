package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// photosURL is the web photo library entry point.
const photosURL = "https://www.icloud.com/photos/"

// Selectors the agent itself depends on, distinct from the upload-control
// candidates: how to tell the library is ready, how to tell we got
// bounced to login, and how to read upload progress.
const (
	photosReadySelector = ".photos-app, [data-testid=photos-grid]"
	loginFormSelector   = "input#account_name_text_field, .signin-form"
	busyIndicatorJS     = `document.querySelector('.uploading-indicator, [role=progressbar]') !== null`
	progressCompleteJS  = `(function() {
		const bar = document.querySelector('[role=progressbar]');
		if (!bar) { return true; }
		const v = bar.getAttribute('aria-valuenow');
		return v !== null && Number(v) >= 100;
	})()`
	candidateDumpJS = `Array.from(document.querySelectorAll('input[type=file], button'))
		.filter(el => el.type === 'file' || /upload/i.test(el.getAttribute('aria-label') || el.title || el.textContent))
		.map(el => {
			const id = el.id ? '#' + el.id : '';
			const cls = el.className && typeof el.className === 'string'
				? '.' + el.className.trim().split(/\s+/).join('.') : '';
			return el.tagName.toLowerCase() + id + cls;
		})`
)

// Poll cadence for readiness and completion checks.
const pollInterval = 2 * time.Second

// interactiveLoginTimeout bounds a visible-browser login flow. Generous:
// a human is typing a password and a 2FA code.
const interactiveLoginTimeout = 5 * time.Minute

// BrowserAgent is the chromedp-backed Agent. One agent owns one Chrome
// process.
type BrowserAgent struct {
	headless bool
	logger   *slog.Logger

	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tab         context.Context

	// uploadFrame is the child browsing context located by FrameWalk,
	// consulted by SendFile for frame-scoped queries.
	uploadFrame *cdp.Node
}

// NewBrowserAgent builds an unstarted agent.
func NewBrowserAgent(headless bool, logger *slog.Logger) *BrowserAgent {
	return &BrowserAgent{headless: headless, logger: logger}
}

// Start launches the browser process.
func (a *BrowserAgent) Start(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", a.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(1440, 900),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	// Materialize the browser process now so Start reports launch
	// failures instead of the first navigation.
	if err := chromedp.Run(tab); err != nil {
		tabCancel()
		allocCancel()

		return fmt.Errorf("icloud: launching browser: %w", err)
	}

	a.allocCancel = allocCancel
	a.tabCancel = tabCancel
	a.tab = tab

	a.logger.Debug("browser agent started", slog.Bool("headless", a.headless))

	return nil
}

// Stop tears the browser down.
func (a *BrowserAgent) Stop() error {
	if a.tabCancel != nil {
		a.tabCancel()
	}

	if a.allocCancel != nil {
		a.allocCancel()
	}

	a.tab = nil

	return nil
}

// RestoreSession injects persisted cookies into the browser.
func (a *BrowserAgent) RestoreSession(_ context.Context, cookies []Cookie) error {
	params := make([]*network.CookieParam, len(cookies))

	for i, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: network.CookieSameSite(c.SameSite),
		}

		if !c.Expires.IsZero() {
			expires := cdp.TimeSinceEpoch(c.Expires)
			p.Expires = &expires
		}

		params[i] = p
	}

	err := chromedp.Run(a.tab, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("icloud: injecting session cookies: %w", err)
	}

	return nil
}

// SaveSession extracts the live cookie jar.
func (a *BrowserAgent) SaveSession(_ context.Context) ([]Cookie, error) {
	var raw []*network.Cookie

	err := chromedp.Run(a.tab, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)

		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("icloud: extracting session cookies: %w", err)
	}

	cookies := make([]Cookie, len(raw))
	for i, c := range raw {
		cookies[i] = Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: string(c.SameSite),
		}

		if c.Expires > 0 {
			cookies[i].Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
	}

	return cookies, nil
}

// OpenPhotos navigates to the library and waits for it to render. A
// bounce to the login form means the persisted session did not hold:
// headless runs fail with ErrSessionRejected, visible runs wait for the
// operator to complete the login interactively.
func (a *BrowserAgent) OpenPhotos(ctx context.Context) error {
	if err := chromedp.Run(a.tab, chromedp.Navigate(photosURL)); err != nil {
		return fmt.Errorf("icloud: navigating to photos: %w", err)
	}

	deadline := time.Now().Add(interactiveLoginTimeout)

	for {
		if ready, _ := a.matches(photosReadySelector); ready {
			return nil
		}

		if atLogin, _ := a.matches(loginFormSelector); atLogin {
			if a.headless {
				return ErrSessionRejected
			}

			a.logger.Info("waiting for interactive login in visible browser")
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: photos library never became ready", ErrSessionRejected)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// HasSelector reports whether sel matches at least one node right now,
// without waiting for one to appear.
func (a *BrowserAgent) HasSelector(_ context.Context, sel string) (bool, error) {
	return a.matches(sel)
}

func (a *BrowserAgent) matches(sel string) (bool, error) {
	var nodes []*cdp.Node

	err := chromedp.Run(a.tab,
		chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return false, fmt.Errorf("icloud: querying %q: %w", sel, err)
	}

	return len(nodes) > 0, nil
}

// fileInputSelector is what the frame walk hunts for inside each child
// browsing context.
const fileInputSelector = "input[type=file]"

// FrameWalk searches each child browsing context for a file-input
// control. On a hit the frame node is remembered so SendFile can scope
// its query to it.
func (a *BrowserAgent) FrameWalk(_ context.Context) (string, error) {
	var frames []*cdp.Node

	err := chromedp.Run(a.tab,
		chromedp.Nodes("iframe", &frames, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return "", fmt.Errorf("icloud: enumerating frames: %w", err)
	}

	for _, frame := range frames {
		var inputs []*cdp.Node

		err := chromedp.Run(a.tab,
			chromedp.Nodes(fileInputSelector, &inputs,
				chromedp.ByQueryAll, chromedp.AtLeast(0), chromedp.FromNode(frame)))
		if err != nil || len(inputs) == 0 {
			continue
		}

		a.uploadFrame = frame

		a.logger.Debug("file input located in child frame",
			slog.String("frame", frame.AttributeValue("id")))

		return fileInputSelector, nil
	}

	return "", ErrSelectorNotFound
}

// SendFile pushes path into the control addressed by sel, scoped to the
// frame the walk found when there is one.
func (a *BrowserAgent) SendFile(_ context.Context, sel, path string) error {
	opts := []chromedp.QueryOption{chromedp.ByQuery}
	if a.uploadFrame != nil && sel == fileInputSelector {
		opts = append(opts, chromedp.FromNode(a.uploadFrame))
	}

	err := chromedp.Run(a.tab, chromedp.SetUploadFiles(sel, []string{path}, opts...))
	if err != nil {
		return fmt.Errorf("icloud: sending %s to %q: %w", path, sel, err)
	}

	return nil
}

// WaitUploadComplete polls the page until the progress element reports
// 100% or the busy indicator disappears. The caller bounds ctx with the
// configured upload timeout.
func (a *BrowserAgent) WaitUploadComplete(ctx context.Context) error {
	for {
		var busy bool

		if err := chromedp.Run(a.tab, chromedp.Evaluate(busyIndicatorJS, &busy)); err != nil {
			return fmt.Errorf("icloud: polling busy indicator: %w", err)
		}

		if !busy {
			return nil
		}

		var done bool

		if err := chromedp.Run(a.tab, chromedp.Evaluate(progressCompleteJS, &done)); err != nil {
			return fmt.Errorf("icloud: polling progress: %w", err)
		}

		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ErrUploadTimeout
		case <-time.After(pollInterval):
		}
	}
}

// ListCandidates dumps every plausible upload control on the page, for
// inspect mode.
func (a *BrowserAgent) ListCandidates(_ context.Context) ([]string, error) {
	var candidates []string

	if err := chromedp.Run(a.tab, chromedp.Evaluate(candidateDumpJS, &candidates)); err != nil {
		return nil, fmt.Errorf("icloud: dumping candidates: %w", err)
	}

	return candidates, nil
}
