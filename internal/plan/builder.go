package plan

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/christopherklint97/shiftfill/internal/config"
	"github.com/christopherklint97/shiftfill/internal/timesheet"
)

// Options controls how entries are rendered into form tokens.
type Options struct {
	DateLayout          string
	CategoryCodes       map[timesheet.Category]string
	DefaultCategoryCode string
	DelayMs             int
	FillDelayMs         int
	NewRunID            func() string
}

// OptionsFromConfig reads form and run settings. Unknown category keys in
// the config are ignored.
func OptionsFromConfig(cfg config.Config) Options {
	codes := make(map[timesheet.Category]string, len(cfg.Form.CategoryCodes))
	for name, code := range cfg.Form.CategoryCodes {
		if c, err := timesheet.ParseCategory(name); err == nil {
			codes[c] = code
		}
	}
	return Options{
		DateLayout:          cfg.Form.DateLayout,
		CategoryCodes:       codes,
		DefaultCategoryCode: cfg.Form.DefaultCategoryCode,
		DelayMs:             cfg.Run.DelayMs,
		FillDelayMs:         cfg.Run.FillDelayMs,
	}
}

func (o Options) code(c timesheet.Category) string {
	if code := strings.TrimSpace(o.CategoryCodes[c]); code != "" {
		return code
	}
	return o.DefaultCategoryCode
}

// Build turns entries into a FillPlan. Entries are re-sorted by
// (date, category) so the result does not depend on caller order.
//
// TargetClicks assumes the form starts every run with exactly one editable
// row.
func Build(entries []timesheet.Entry, opts Options) (FillPlan, error) {
	if len(entries) == 0 {
		return FillPlan{}, ErrEmptyPlan
	}
	if opts.DateLayout == "" {
		opts.DateLayout = "20060102"
	}
	newID := opts.NewRunID
	if newID == nil {
		newID = uuid.NewString
	}

	sorted := slices.Clone(entries)
	timesheet.SortEntries(sorted)

	p := FillPlan{
		RunID:         newID(),
		Dates:         make([]string, 0, len(sorted)),
		Hours:         make([]string, 0, len(sorted)),
		CategoryCodes: make([]string, 0, len(sorted)),
		TargetClicks:  max(0, len(sorted)-1),
		DelayMs:       opts.DelayMs,
		FillDelayMs:   opts.FillDelayMs,
	}
	for _, e := range sorted {
		d := e.Date()
		p.Dates = append(p.Dates, d.In(time.UTC).Format(opts.DateLayout))
		p.Hours = append(p.Hours, FormatHours(e.WorkedHours))
		p.CategoryCodes = append(p.CategoryCodes, opts.code(e.Category))
	}
	return p, p.Validate()
}
