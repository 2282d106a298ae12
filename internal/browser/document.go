package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/christopherklint97/shiftfill/internal/automation"
)

const (
	jsCount = `(sel) => document.querySelectorAll(sel).length`

	jsRowCount = `(d, h, c) => Math.min(
		document.querySelectorAll(d).length,
		document.querySelectorAll(h).length,
		document.querySelectorAll(c).length)`

	jsClickLast = `(sel) => {
		const all = document.querySelectorAll(sel);
		const el = all[all.length - 1];
		if (!el) return false;
		try { el.scrollIntoView({ block: "center" }); } catch (e) {}
		el.click();
		return true;
	}`

	// Sets the value through the prototype setter so frameworks tracking
	// the property see the change, then fires the events a user would.
	jsWrite = `(sel, i, v) => {
		const el = document.querySelectorAll(sel)[i];
		if (!el) return false;
		const proto = el instanceof HTMLSelectElement ? HTMLSelectElement.prototype : HTMLInputElement.prototype;
		const desc = Object.getOwnPropertyDescriptor(proto, "value");
		if (desc && desc.set) desc.set.call(el, v); else el.value = v;
		el.dispatchEvent(new Event("input", { bubbles: true }));
		el.dispatchEvent(new Event("change", { bubbles: true }));
		return true;
	}`

	jsRead = `(sel, i) => {
		const el = document.querySelectorAll(sel)[i];
		return el ? { ok: true, v: String(el.value ?? "") } : { ok: false, v: "" };
	}`
)

const defaultReloadTimeout = 30 * time.Second

var (
	_ automation.Document = (*Document)(nil)
	_ automation.Reloader = (*Document)(nil)
)

// Document is the automation.Document of a live rod page.
type Document struct {
	page          *rod.Page
	sel           Selectors
	reloadTimeout time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	reload func()
}

func NewDocument(page *rod.Page, sel Selectors, reloadTimeout time.Duration, logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if reloadTimeout <= 0 {
		reloadTimeout = defaultReloadTimeout
	}
	return &Document{page: page, sel: sel, reloadTimeout: reloadTimeout, logger: logger}
}

func (d *Document) InContext(ctx context.Context) (bool, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return false, fmt.Errorf("reading page info: %w", err)
	}
	return d.sel.Matches(info.URL), nil
}

func (d *Document) HasAddRow(ctx context.Context) (bool, error) {
	n, err := d.count(ctx, d.sel.AddRow)
	return n > 0, err
}

// ClickAddRow arms a wait for the next load event before clicking, so a
// reload that completes quickly is not missed.
func (d *Document) ClickAddRow(ctx context.Context) error {
	wait := d.page.Context(context.WithoutCancel(ctx)).Timeout(d.reloadTimeout).
		WaitNavigation(proto.PageLifecycleEventNameLoad)

	res, err := d.page.Context(ctx).Eval(jsClickLast, d.sel.AddRow)
	if err != nil {
		return fmt.Errorf("clicking add-row: %w", err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("%w: %s", automation.ErrControlNotFound, d.sel.AddRow)
	}

	d.mu.Lock()
	d.reload = wait
	d.mu.Unlock()
	d.logger.Debug("add-row clicked", "reload_timeout", d.reloadTimeout)
	return nil
}

// WaitReload blocks until the load armed by the last click fires, the
// reload timeout passes or ctx is done.
func (d *Document) WaitReload(ctx context.Context) error {
	d.mu.Lock()
	wait := d.reload
	d.reload = nil
	d.mu.Unlock()
	if wait == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Debug("page reloaded")
		return d.page.Context(ctx).WaitLoad()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Document) RowCount(ctx context.Context) (int, error) {
	res, err := d.page.Context(ctx).Eval(jsRowCount, d.sel.Date, d.sel.Hours, d.sel.Category)
	if err != nil {
		return 0, fmt.Errorf("counting rows: %w", err)
	}
	return res.Value.Int(), nil
}

func (d *Document) WriteField(ctx context.Context, row int, f automation.Field, value string) error {
	res, err := d.page.Context(ctx).Eval(jsWrite, d.selector(f), row, value)
	if err != nil {
		return fmt.Errorf("writing %s of row %d: %w", f, row, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("%w: %s of row %d", automation.ErrControlNotFound, f, row)
	}
	return nil
}

func (d *Document) ReadField(ctx context.Context, row int, f automation.Field) (string, bool, error) {
	res, err := d.page.Context(ctx).Eval(jsRead, d.selector(f), row)
	if err != nil {
		return "", false, fmt.Errorf("reading %s of row %d: %w", f, row, err)
	}
	return res.Value.Get("v").Str(), res.Value.Get("ok").Bool(), nil
}

func (d *Document) count(ctx context.Context, selector string) (int, error) {
	res, err := d.page.Context(ctx).Eval(jsCount, selector)
	if err != nil {
		return 0, fmt.Errorf("querying %s: %w", selector, err)
	}
	return res.Value.Int(), nil
}

func (d *Document) selector(f automation.Field) string {
	switch f {
	case automation.FieldDate:
		return d.sel.Date
	case automation.FieldHours:
		return d.sel.Hours
	default:
		return d.sel.Category
	}
}
