package automation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/christopherklint97/shiftfill/internal/config"
	"github.com/christopherklint97/shiftfill/internal/plan"
)

var (
	ErrFormNotReady    = errors.New("form not ready")
	ErrControlNotFound = errors.New("control not found")
	ErrRunInProgress   = errors.New("a run is in progress")
	ErrNoPlan          = errors.New("no plan stored")
)

// Outcome says how a single entry into the runner ended.
type Outcome int

const (
	// OutcomeBusy means another entry held the lock; nothing was done.
	OutcomeBusy Outcome = iota
	// OutcomeNotApplicable means the document is not the target form, or
	// there was nothing to resume.
	OutcomeNotApplicable
	OutcomeNoPlan
	// OutcomeReloadPending means a row was added and the document is
	// expected to reload; the caller should Boot again once it has.
	OutcomeReloadPending
	OutcomeDone
	OutcomeFailed
	// OutcomeInterrupted means ctx ended between rows; the run can resume.
	OutcomeInterrupted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBusy:
		return "busy"
	case OutcomeNotApplicable:
		return "not-applicable"
	case OutcomeNoPlan:
		return "no-plan"
	case OutcomeReloadPending:
		return "reload-pending"
	case OutcomeDone:
		return "done"
	case OutcomeFailed:
		return "failed"
	case OutcomeInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Progress is broadcast on every status change.
type Progress struct {
	RunID   string `json:"runId"`
	Phase   Phase  `json:"phase"`
	Message string `json:"message"`
}

type Options struct {
	RowRetries   int
	FormTimeout  time.Duration
	FormPoll     time.Duration
	FieldTimeout time.Duration
	FieldPoll    time.Duration
}

func DefaultOptions() Options {
	return Options{
		RowRetries:   3,
		FormTimeout:  20 * time.Second,
		FormPoll:     150 * time.Millisecond,
		FieldTimeout: 1500 * time.Millisecond,
		FieldPoll:    25 * time.Millisecond,
	}
}

func OptionsFromConfig(rc config.RunConfig) Options {
	o := DefaultOptions()
	if rc.RowRetries > 0 {
		o.RowRetries = rc.RowRetries
	}
	if rc.FormTimeoutSeconds > 0 {
		o.FormTimeout = time.Duration(rc.FormTimeoutSeconds) * time.Second
	}
	if rc.FieldTimeoutMs > 0 {
		o.FieldTimeout = time.Duration(rc.FieldTimeoutMs) * time.Millisecond
	}
	return o
}

// Runner drives a Document through a stored FillPlan. All state that must
// survive a reload lives in the RunStore; a Runner can be discarded and a
// new one built against the same store after every navigation.
type Runner struct {
	store  *RunStore
	doc    Document
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	onProgress func(Progress)
	onReady    func()
}

func NewRunner(store *RunStore, doc Document, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.RowRetries <= 0 {
		opts.RowRetries = 1
	}
	return &Runner{
		store:      store,
		doc:        doc,
		opts:       opts,
		logger:     logger,
		onProgress: func(Progress) {},
		onReady:    func() {},
	}
}

// OnProgress registers fn for status broadcasts. fn must not block.
func (r *Runner) OnProgress(fn func(Progress)) {
	if fn != nil {
		r.onProgress = fn
	}
}

// OnReady registers fn for the one-time form-present signal.
func (r *Runner) OnReady(fn func()) {
	if fn != nil {
		r.onReady = fn
	}
}

func (r *Runner) Store() *RunStore { return r.store }

// Receive replaces any previous run with p and starts it. While another
// entry holds the lock it does nothing and reports OutcomeBusy.
func (r *Runner) Receive(ctx context.Context, p plan.FillPlan) (Outcome, error) {
	if err := p.Validate(); err != nil {
		return OutcomeNoPlan, err
	}
	if r.store.Locked() {
		return OutcomeBusy, nil
	}
	if err := r.store.Reset(p); err != nil {
		return OutcomeFailed, err
	}
	r.logger.Info("plan received", "run_id", p.RunID, "rows", p.Len(), "target_clicks", p.TargetClicks)
	r.status(p.RunID, PhaseIdle, "Plan received. Starting")
	return r.Run(ctx)
}

// Boot is called on every fresh document load. It re-enters the run when
// the store says one is underway and otherwise does nothing.
func (r *Runner) Boot(ctx context.Context) (Outcome, error) {
	if ok, err := r.doc.InContext(ctx); err != nil || !ok {
		return OutcomeNotApplicable, err
	}
	_, hasPlan := r.store.Plan()
	phase := r.store.Phase()
	resume := r.store.Locked() ||
		(hasPlan && !r.store.Completed() && (phase == PhaseAdding || phase == PhaseFilling))
	if !resume {
		return OutcomeNotApplicable, nil
	}
	r.logger.Debug("resuming run", "phase", phase, "clicks_done", r.store.ClicksDone())
	return r.Run(ctx)
}

// Run is the single guarded entry point. A trigger that finds the lock
// held returns OutcomeBusy without touching anything.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	if ok, err := r.doc.InContext(ctx); err != nil || !ok {
		return OutcomeNotApplicable, err
	}

	r.mu.Lock()
	if r.store.Locked() {
		r.mu.Unlock()
		r.logger.Debug("runner busy, skipping trigger")
		return OutcomeBusy, nil
	}
	err := r.store.Lock()
	r.mu.Unlock()
	if err != nil {
		return OutcomeFailed, fmt.Errorf("acquiring run lock: %w", err)
	}
	defer func() {
		if err := r.store.Unlock(); err != nil {
			r.logger.Error("releasing run lock", "error", err)
		}
	}()

	return r.step(ctx)
}

// Dismiss clears a finished run.
func (r *Runner) Dismiss() error {
	if r.store.Locked() {
		return ErrRunInProgress
	}
	return r.store.Clear()
}

func (r *Runner) step(ctx context.Context) (Outcome, error) {
	if !r.store.ReadySent() {
		if has, _ := r.doc.HasAddRow(ctx); has {
			if err := r.store.MarkReadySent(); err == nil {
				r.onReady()
			}
		}
	}

	p, ok := r.store.Plan()
	if !ok {
		r.status("", PhaseError, "No plan found")
		return OutcomeNoPlan, ErrNoPlan
	}
	if r.store.Completed() {
		r.status(p.RunID, PhaseDone, "Already done")
		return OutcomeDone, nil
	}
	if r.store.Phase() == PhaseError {
		r.status(p.RunID, PhaseError, "Run ended in error; send a new plan to retry")
		return OutcomeFailed, nil
	}

	r.status(p.RunID, r.store.Phase(), "Waiting for form")
	if err := waitFor(ctx, r.opts.FormTimeout, r.opts.FormPoll, r.rowsAtLeast(ctx, 1)); err != nil {
		return r.interruptedOr(ctx, p, fmt.Errorf("%w: %v", ErrFormNotReady, err), "Form not ready on this page")
	}

	if r.store.Phase() == PhaseIdle {
		if err := r.store.Init(p); err != nil {
			return OutcomeFailed, err
		}
	}

	if r.store.Phase() == PhaseAdding {
		target := r.store.TargetClicks()
		done := r.store.ClicksDone()
		if done < target {
			return r.addRow(ctx, p, done, target)
		}
		if err := r.store.SetPhase(PhaseFilling); err != nil {
			return OutcomeFailed, err
		}
	}

	return r.fill(ctx, p)
}

func (r *Runner) addRow(ctx context.Context, p plan.FillPlan, done, target int) (Outcome, error) {
	has, err := r.doc.HasAddRow(ctx)
	if err != nil || !has {
		return r.fail(p, fmt.Errorf("%w: add-row control", ErrControlNotFound), "Could not find the add-row control")
	}

	r.status(p.RunID, PhaseAdding, fmt.Sprintf("Adding rows (%d/%d)", done+1, target))
	if err := sleep(ctx, time.Duration(p.DelayMs)*time.Millisecond); err != nil {
		return OutcomeInterrupted, err
	}

	// The counter must be durable before the click: the click can tear the
	// document down before anything after it runs.
	if err := r.store.SetClicksDone(done + 1); err != nil {
		return OutcomeFailed, fmt.Errorf("persisting click counter: %w", err)
	}
	if err := r.doc.ClickAddRow(ctx); err != nil {
		return r.fail(p, fmt.Errorf("%w: clicking add-row: %v", ErrControlNotFound, err), "Could not click the add-row control")
	}
	r.logger.Debug("row added", "run_id", p.RunID, "clicks_done", done+1, "target", target)
	return OutcomeReloadPending, nil
}

func (r *Runner) fill(ctx context.Context, p plan.FillPlan) (Outcome, error) {
	total := p.Len()
	r.status(p.RunID, PhaseFilling, fmt.Sprintf("Waiting for %d rows", total))
	if err := waitFor(ctx, r.opts.FormTimeout, r.opts.FormPoll, r.rowsAtLeast(ctx, total)); err != nil {
		return r.interruptedOr(ctx, p, fmt.Errorf("%w: need %d rows: %v", ErrFormNotReady, total, err),
			fmt.Sprintf("Not enough rows on page (need %d)", total))
	}

	r.status(p.RunID, PhaseFilling, "Filling and verifying")
	mismatches, err := r.fillRows(ctx, p)
	if err != nil {
		r.status(p.RunID, PhaseFilling, "Interrupted; resume to continue")
		return OutcomeInterrupted, err
	}

	if len(mismatches) > 0 {
		if err := r.store.SetMismatches(mismatches); err != nil {
			r.logger.Error("saving mismatches", "error", err)
		}
		return r.fail(p, &MismatchError{Mismatches: mismatches}, "Not marking done due to mismatches")
	}

	if err := r.store.MarkCompleted(); err != nil {
		return OutcomeFailed, fmt.Errorf("marking run completed: %w", err)
	}
	if err := r.store.SetPhase(PhaseDone); err != nil {
		return OutcomeFailed, err
	}
	r.status(p.RunID, PhaseDone, "Done")
	r.logger.Info("run completed", "run_id", p.RunID, "rows", total)
	return OutcomeDone, nil
}

func (r *Runner) rowsAtLeast(ctx context.Context, n int) func() bool {
	return func() bool {
		count, err := r.doc.RowCount(ctx)
		if err != nil {
			r.logger.Debug("counting rows", "error", err)
			return false
		}
		return count >= n
	}
}

// interruptedOr keeps the phase untouched when the wait ended because ctx
// did, and fails the run otherwise.
func (r *Runner) interruptedOr(ctx context.Context, p plan.FillPlan, err error, msg string) (Outcome, error) {
	if ctx.Err() != nil {
		return OutcomeInterrupted, ctx.Err()
	}
	return r.fail(p, err, msg)
}

func (r *Runner) fail(p plan.FillPlan, err error, msg string) (Outcome, error) {
	if serr := r.store.SetPhase(PhaseError); serr != nil {
		r.logger.Error("saving error phase", "error", serr)
	}
	r.status(p.RunID, PhaseError, msg)
	r.logger.Error("run failed", "run_id", p.RunID, "error", err)
	return OutcomeFailed, err
}

func (r *Runner) status(runID string, phase Phase, msg string) {
	if err := r.store.SetStatus(msg); err != nil {
		r.logger.Warn("saving status", "error", err)
	}
	r.onProgress(Progress{RunID: runID, Phase: phase, Message: msg})
}
