package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/christopherklint97/shiftfill/internal/plan"
)

// Mismatch records a row whose controls did not converge on the plan.
type Mismatch struct {
	Row      int      `json:"row"`
	Expected plan.Row `json:"expected"`
	Got      plan.Row `json:"got"`
}

type MismatchError struct {
	Mismatches []Mismatch
}

func (e *MismatchError) Error() string {
	if len(e.Mismatches) == 1 {
		m := e.Mismatches[0]
		return fmt.Sprintf("row %d failed verification: expected %s, got %s", m.Row, m.Expected, m.Got)
	}
	return fmt.Sprintf("%d rows failed verification", len(e.Mismatches))
}

// Verification is the result of verifyRow. Attempt is the read that
// matched.
type Verification struct {
	OK       bool
	Attempt  int
	Expected plan.Row
	Got      plan.Row
}

// fillRows writes and verifies every row in plan order. A row that does
// not verify is recorded and the next row is still attempted. ctx is only
// checked between rows.
func (r *Runner) fillRows(ctx context.Context, p plan.FillPlan) ([]Mismatch, error) {
	total := p.Len()
	var mismatches []Mismatch

	for i := range total {
		if err := ctx.Err(); err != nil {
			return mismatches, err
		}
		if err := r.store.Lock(); err != nil {
			r.logger.Warn("extending run lock", "error", err)
		}

		exp := expectedRow(p, i)
		fillDelay := time.Duration(p.FillDelayMs) * time.Millisecond
		r.writeRow(context.WithoutCancel(ctx), i, exp, fillDelay)

		v := r.verifyRow(context.WithoutCancel(ctx), i, exp, fillDelay)
		if !v.OK {
			m := Mismatch{Row: i, Expected: v.Expected, Got: v.Got}
			mismatches = append(mismatches, m)
			r.logger.Warn("row mismatch after retries", "run_id", p.RunID, "row", i,
				"expected", m.Expected.String(), "got", m.Got.String())
		} else if v.Attempt > 1 {
			r.logger.Debug("row verified after rewrite", "row", i, "attempt", v.Attempt)
		}

		r.status(p.RunID, PhaseFilling, fmt.Sprintf("Filling rows (%d/%d)", i+1, total))
	}

	if len(mismatches) > 0 {
		r.status(p.RunID, PhaseFilling, fmt.Sprintf("Filled with %d mismatch(es)", len(mismatches)))
	} else {
		r.status(p.RunID, PhaseFilling, fmt.Sprintf("All rows verified (%d/%d)", total, total))
	}
	return mismatches, nil
}

// writeRow sets all three controls of row i, waiting for each value to
// settle before moving on.
func (r *Runner) writeRow(ctx context.Context, i int, exp plan.Row, fillDelay time.Duration) {
	for n, f := range Fields {
		if n > 0 {
			_ = sleep(ctx, fillDelay)
		}
		want := fieldValue(exp, f)
		if err := r.doc.WriteField(ctx, i, f, want); err != nil {
			r.logger.Debug("writing field", "row", i, "field", f.String(), "error", err)
			continue
		}
		settled := waitFor(ctx, r.opts.FieldTimeout, r.opts.FieldPoll, func() bool {
			got, ok, err := r.doc.ReadField(ctx, i, f)
			return err == nil && ok && normalize(f, got) == want
		})
		if settled != nil {
			r.logger.Debug("field did not settle", "row", i, "field", f.String())
		}
	}
}

// verifyRow compares the three controls of row i against exp as a unit and
// rewrites them on mismatch, up to the retry budget. A last read after the
// final rewrite decides the result.
func (r *Runner) verifyRow(ctx context.Context, i int, exp plan.Row, fillDelay time.Duration) Verification {
	for attempt := 1; attempt <= r.opts.RowRetries; attempt++ {
		got, present := r.readRow(ctx, i)
		if !present {
			_ = sleep(ctx, r.opts.FormPoll)
			continue
		}
		if got == exp {
			return Verification{OK: true, Attempt: attempt, Expected: exp, Got: got}
		}
		r.logger.Debug("row mismatch, rewriting", "row", i, "attempt", attempt, "got", got.String())
		r.writeRow(ctx, i, exp, fillDelay)
	}

	got, _ := r.readRow(ctx, i)
	return Verification{OK: got == exp, Attempt: r.opts.RowRetries + 1, Expected: exp, Got: got}
}

func (r *Runner) readRow(ctx context.Context, i int) (plan.Row, bool) {
	var row plan.Row
	present := true
	for _, f := range Fields {
		v, ok, err := r.doc.ReadField(ctx, i, f)
		if err != nil || !ok {
			present = false
			continue
		}
		setField(&row, f, normalize(f, v))
	}
	return row, present
}

func expectedRow(p plan.FillPlan, i int) plan.Row {
	row := p.Row(i)
	return plan.Row{
		Date:     normalize(FieldDate, row.Date),
		Hours:    normalize(FieldHours, row.Hours),
		Category: normalize(FieldCategory, row.Category),
	}
}

func normalize(f Field, v string) string {
	if f == FieldHours {
		return plan.NormalizeHours(v)
	}
	return strings.TrimSpace(v)
}

func fieldValue(row plan.Row, f Field) string {
	switch f {
	case FieldDate:
		return row.Date
	case FieldHours:
		return row.Hours
	default:
		return row.Category
	}
}

func setField(row *plan.Row, f Field, v string) {
	switch f {
	case FieldDate:
		row.Date = v
	case FieldHours:
		row.Hours = v
	default:
		row.Category = v
	}
}
