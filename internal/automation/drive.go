package automation

import "context"

// Reloader blocks until the document has finished the load triggered by
// the last added row.
type Reloader interface {
	WaitReload(ctx context.Context) error
}

// Drive enters the runner through first and re-enters it with Boot after
// every reload, until an entry ends with anything but OutcomeReloadPending.
func Drive(ctx context.Context, r *Runner, reload Reloader, first func(context.Context) (Outcome, error)) (Outcome, error) {
	out, err := first(ctx)
	for out == OutcomeReloadPending && err == nil {
		if werr := reload.WaitReload(ctx); werr != nil {
			if ctx.Err() != nil {
				return OutcomeInterrupted, ctx.Err()
			}
			r.logger.Debug("no reload observed, re-entering anyway", "error", werr)
		}
		out, err = r.Boot(ctx)
	}
	return out, err
}
