package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/christopherklint97/shiftfill/internal/config"
)

var ErrNoFormPage = errors.New("no time report page open")

// Driver owns the browser session: either a Chrome it launched itself or
// one the user already runs with remote debugging enabled.
type Driver struct {
	cfg      config.BrowserConfig
	formURL  string
	sel      Selectors
	reload   time.Duration
	logger   *slog.Logger
	browser  *rod.Browser
	launched bool
}

func NewDriver(cfg *config.Config, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Driver{
		cfg:     cfg.Browser,
		formURL: cfg.Form.URL,
		sel:     SelectorsFromConfig(cfg.Form),
		reload:  time.Duration(cfg.Run.ReloadTimeoutSecs) * time.Second,
		logger:  logger,
	}
}

// Start connects to the configured debugger URL or launches a browser.
func (d *Driver) Start(ctx context.Context) error {
	controlURL := d.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(d.cfg.Headless)
		if d.cfg.Bin != "" {
			l = l.Bin(d.cfg.Bin)
		}
		if d.cfg.UserDataDir != "" {
			l = l.UserDataDir(d.cfg.UserDataDir)
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launching browser: %w", err)
		}
		controlURL = u
		d.launched = true
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connecting to browser: %w", err)
	}
	d.browser = b
	d.logger.Info("browser ready", "launched", d.launched, "control_url", controlURL)
	return nil
}

// Fresh reports whether the browser was started by this process, in which
// case nothing that lived in an earlier tab survives.
func (d *Driver) Fresh() bool { return d.launched }

// Namespace names the session scope for the form's origin.
func (d *Driver) Namespace() string { return "form:" + d.sel.HostSuffix }

// FormPage returns a document for an open form tab, opening the configured
// URL when none is found. It waits up to the login window for the tab to
// land on the form, so a single sign-on redirect can complete.
func (d *Driver) FormPage(ctx context.Context) (*Document, error) {
	if d.browser == nil {
		return nil, fmt.Errorf("browser not started")
	}

	page, err := d.findFormPage()
	if err != nil {
		return nil, err
	}
	if page == nil {
		if d.formURL == "" {
			return nil, fmt.Errorf("%w and form.url is not configured", ErrNoFormPage)
		}
		page, err = d.browser.Page(proto.TargetCreateTarget{URL: d.formURL})
		if err != nil {
			return nil, fmt.Errorf("opening form page: %w", err)
		}
	}

	wait := time.Duration(d.cfg.LoginWaitS) * time.Second
	deadline := time.Now().Add(wait)
	for {
		info, err := page.Context(ctx).Info()
		if err != nil {
			return nil, fmt.Errorf("reading page info: %w", err)
		}
		if d.sel.Matches(info.URL) {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: tab is at %s", ErrNoFormPage, info.URL)
		}
		d.logger.Debug("waiting for login", "url", info.URL)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	if err := page.Context(ctx).WaitLoad(); err != nil {
		return nil, fmt.Errorf("waiting for form page: %w", err)
	}
	return NewDocument(page, d.sel, d.reload, d.logger), nil
}

func (d *Driver) findFormPage() (*rod.Page, error) {
	pages, err := d.browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("listing tabs: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if d.sel.Matches(info.URL) {
			return p, nil
		}
	}
	return nil, nil
}

// Close shuts down a launched browser. A browser we only attached to is
// left running.
func (d *Driver) Close() error {
	if d.browser == nil || !d.launched {
		return nil
	}
	return d.browser.Close()
}
