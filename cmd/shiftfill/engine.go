package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/christopherklint97/shiftfill/internal/automation"
	"github.com/christopherklint97/shiftfill/internal/browser"
	"github.com/christopherklint97/shiftfill/internal/config"
	"github.com/christopherklint97/shiftfill/internal/messages"
	"github.com/christopherklint97/shiftfill/internal/notify"
	"github.com/christopherklint97/shiftfill/internal/plan"
	"github.com/christopherklint97/shiftfill/internal/service"
	"github.com/christopherklint97/shiftfill/internal/store"
	"github.com/christopherklint97/shiftfill/internal/timesheet"
)

// stateLastPeriod holds the month of the last plan, offered again at the
// month prompt.
const stateLastPeriod = "last_period"

// engine connects the planner, the message bus, the run history and the
// browser automation for one command invocation.
type engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *store.DB
	planner  *service.Planner
	bus      *messages.Bus
	notifier *notify.Notifier
	plans    chan plan.FillPlan

	mu      sync.Mutex
	entries []timesheet.Entry
}

func newEngine(cfg *config.Config, logger *slog.Logger) (*engine, error) {
	db, err := store.Open()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	source, client, err := service.NewSource(*cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	planner, err := service.NewPlanner(source, *cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	e := &engine{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		planner:  planner,
		bus:      messages.NewBus(logger),
		notifier: notify.New(cfg.Notifications.Enabled, logger),
		plans:    make(chan plan.FillPlan, 1),
	}

	h := service.Register(e.bus, planner, client, cfg.Schedule.Source, logger)
	h.OnPlan = e.onPlan
	e.bus.Handle(messages.PlanReady, e.planReady)
	return e, nil
}

func (e *engine) Close() {
	e.bus.Close()
	e.db.Close()
}

func (e *engine) onPlan(p plan.FillPlan, entries []timesheet.Entry, period timesheet.Period, email string) {
	e.mu.Lock()
	e.entries = entries
	e.mu.Unlock()
	e.logger.Info("plan built", "run_id", p.RunID, "period", period.String(), "email", email, "rows", p.Len())
}

// planReady queues the delivered plan for the automation, replacing one
// that was never picked up.
func (e *engine) planReady(_ context.Context, msg messages.Message) messages.Response {
	p, err := messages.Decode[plan.FillPlan](msg)
	if err != nil {
		return messages.Fail(err)
	}
	if err := p.Validate(); err != nil {
		return messages.Fail(err)
	}
	select {
	case <-e.plans:
	default:
	}
	e.plans <- p
	return messages.OK(nil)
}

// requestPlan asks for a plan the same way the page does and returns what
// was delivered.
func (e *engine) requestPlan(ctx context.Context, email string, period timesheet.Period, force bool) (plan.FillPlan, []timesheet.Entry, error) {
	if !force {
		last, err := e.db.LastDoneRun(period.String(), email)
		if err != nil {
			return plan.FillPlan{}, nil, err
		}
		if last != nil {
			return plan.FillPlan{}, nil, fmt.Errorf("%s was already filled for %s on %s (use --force to fill again)",
				period, email, last.FinishedAt.Local().Format("2006-01-02 15:04"))
		}
	}

	msg, err := messages.New(messages.StartFromPage, messages.StartPayload{
		Email: email,
		Year:  period.Year,
		Month: int(period.Month),
	})
	if err != nil {
		return plan.FillPlan{}, nil, err
	}
	resp := e.bus.Request(ctx, msg)
	if !resp.OK {
		return plan.FillPlan{}, nil, errors.New(resp.Error)
	}

	select {
	case p := <-e.plans:
		e.mu.Lock()
		entries := e.entries
		e.mu.Unlock()
		if err := e.db.SetState(stateLastPeriod, period.String()); err != nil {
			e.logger.Warn("saving last period", "error", err)
		}
		return p, entries, nil
	default:
		return plan.FillPlan{}, nil, fmt.Errorf("plan was not delivered")
	}
}

// attach starts the browser, finds the form and builds a runner whose
// checkpoints live in the form origin's session.
func (e *engine) attach(ctx context.Context) (*automation.Runner, *browser.Document, func(), error) {
	d := browser.NewDriver(e.cfg, e.logger)
	if err := d.Start(ctx); err != nil {
		return nil, nil, nil, err
	}
	closeBrowser := func() {
		if err := d.Close(); err != nil {
			e.logger.Warn("closing browser", "error", err)
		}
	}

	session := e.db.Session(d.Namespace())
	if d.Fresh() {
		// a new browser has no session storage left from earlier runs
		if err := session.End(); err != nil {
			closeBrowser()
			return nil, nil, nil, err
		}
	}

	doc, err := d.FormPage(ctx)
	if err != nil {
		closeBrowser()
		return nil, nil, nil, err
	}

	r := automation.NewRunner(runStore(e.cfg, session), doc, automation.OptionsFromConfig(e.cfg.Run), e.logger)
	r.OnProgress(e.postProgress)
	r.OnReady(func() {
		msg, _ := messages.New(messages.PageReady, nil)
		e.bus.Post(msg)
	})
	return r, doc, closeBrowser, nil
}

func runStore(cfg *config.Config, kv automation.KV) *automation.RunStore {
	lease := time.Duration(cfg.Run.LockLeaseSeconds) * time.Second
	return automation.NewRunStore(kv, cfg.Run.LogSize, lease, logger)
}

// sessionStore opens the run state of the form origin without a browser.
func sessionStore(cfg *config.Config, db *store.DB) *automation.RunStore {
	ns := browser.NewDriver(cfg, logger).Namespace()
	return runStore(cfg, db.Session(ns))
}

func (e *engine) postProgress(p automation.Progress) {
	msg, err := messages.New(messages.Progress, messages.ProgressPayload{
		RunID:   p.RunID,
		Phase:   string(p.Phase),
		Message: p.Message,
	})
	if err != nil {
		return
	}
	e.bus.Post(msg)
}

// drive runs the automation until it settles and records the result.
func (e *engine) drive(ctx context.Context, r *automation.Runner, doc *browser.Document, first func(context.Context) (automation.Outcome, error)) (automation.Outcome, error) {
	out, err := automation.Drive(ctx, r, doc, first)
	e.record(r.Store(), out, err)
	return out, err
}

// startRun records a run about to be filled.
func (e *engine) startRun(p plan.FillPlan, period timesheet.Period, email string) {
	_, err := e.db.StartRun(&store.Run{
		RunID:     p.RunID,
		Period:    period.String(),
		Email:     email,
		Rows:      p.Len(),
		StartedAt: time.Now(),
	})
	if err != nil {
		e.logger.Warn("recording run start", "run_id", p.RunID, "error", err)
	}
}

// record finishes the history entry of a run that reached done or error.
// Interrupted runs stay open for resume.
func (e *engine) record(rs *automation.RunStore, out automation.Outcome, runErr error) {
	if out != automation.OutcomeDone && out != automation.OutcomeFailed {
		return
	}
	p, ok := rs.Plan()
	if !ok {
		return
	}

	message := rs.Status()
	if message == "" && runErr != nil {
		message = runErr.Error()
	}
	phase := rs.Phase()
	if phase != automation.PhaseDone {
		phase = automation.PhaseError
	}

	rows := historyRows(p, rs.Mismatches())
	if err := e.db.FinishRun(p.RunID, string(phase), message, time.Now(), rows); err != nil {
		e.logger.Warn("recording run result", "run_id", p.RunID, "error", err)
	}

	period := p.RunID
	if run, err := e.db.RunByID(p.RunID); err == nil && run != nil {
		period = run.Period
	}
	if phase == automation.PhaseDone {
		e.notifier.RunDone(period, p.Len())
	} else {
		e.notifier.RunFailed(period, message)
	}
}

func historyRows(p plan.FillPlan, mismatches []automation.Mismatch) []store.RunRow {
	bad := make(map[int]plan.Row, len(mismatches))
	for _, m := range mismatches {
		bad[m.Row] = m.Got
	}

	rows := make([]store.RunRow, 0, p.Len())
	for i, row := range p.Rows() {
		rr := store.RunRow{Index: i, Date: row.Date, Hours: row.Hours, Category: row.Category, OK: true}
		if got, ok := bad[i]; ok {
			rr.OK = false
			rr.Got = got.String()
		}
		rows = append(rows, rr)
	}
	return rows
}

// lastPeriod returns the month of the last plan, or fallback when none
// was recorded.
func lastPeriod(db *store.DB, fallback string) string {
	v, err := db.GetState(stateLastPeriod)
	if err != nil || v == "" {
		return fallback
	}
	return v
}

// formatMismatch numbers rows from 1, the way they appear on the page.
func formatMismatch(m automation.Mismatch) string {
	return fmt.Sprintf("row %d: expected %s, got %s", m.Row+1, m.Expected, m.Got)
}
