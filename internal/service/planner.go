package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/christopherklint97/shiftfill/internal/config"
	"github.com/christopherklint97/shiftfill/internal/plan"
	"github.com/christopherklint97/shiftfill/internal/shifts"
	"github.com/christopherklint97/shiftfill/internal/timesheet"
)

// ShiftSource fetches the raw shifts of one user.
type ShiftSource interface {
	FetchShifts(ctx context.Context, email string) ([]shifts.RawShift, error)
}

// ErrNoEntries means the schedule had shifts but none in the period.
var ErrNoEntries = errors.New("no shifts found for that month")

// Planner turns a user's schedule into a FillPlan for one month.
type Planner struct {
	source      ShiftSource
	normalizer  timesheet.Normalizer
	opts        plan.Options
	emailDomain string
	loc         *time.Location
	now         func() time.Time
	logger      *slog.Logger
}

func NewPlanner(source ShiftSource, cfg config.Config, logger *slog.Logger) (*Planner, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Planner{
		source:      source,
		normalizer:  timesheet.NewNormalizer(loc, cfg.Schedule.SplitHour, cfg.Schedule.SplitEnabled),
		opts:        plan.OptionsFromConfig(cfg),
		emailDomain: cfg.Schedule.EmailDomain,
		loc:         loc,
		now:         time.Now,
		logger:      logger,
	}, nil
}

// Location is the zone entries are computed in.
func (p *Planner) Location() *time.Location { return p.loc }

// CurrentPeriod is this month in the planner's zone.
func (p *Planner) CurrentPeriod() timesheet.Period {
	return timesheet.CurrentPeriod(p.now(), p.loc)
}

// ParsePeriod resolves a --month style value against now.
func (p *Planner) ParsePeriod(s string) (timesheet.Period, error) {
	return timesheet.ParsePeriod(s, p.now(), p.loc)
}

// Email applies the configured domain to a bare username.
func (p *Planner) Email(user string) string {
	return NormalizeEmail(user, p.emailDomain)
}

// Entries fetches, normalizes, aggregates and filters.
func (p *Planner) Entries(ctx context.Context, email string, period timesheet.Period) ([]timesheet.Entry, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}

	raw, err := p.source.FetchShifts(ctx, email)
	if err != nil {
		return nil, err
	}

	segments := p.normalizer.Normalize(raw)
	entries := timesheet.Filter(timesheet.Aggregate(segments), period)
	p.logger.Debug("schedule processed",
		"shifts", len(raw), "segments", len(segments), "entries", len(entries), "period", period.String())
	return entries, nil
}

// Plan builds the FillPlan for email and period, returning the entries it
// was built from alongside.
func (p *Planner) Plan(ctx context.Context, email string, period timesheet.Period) (plan.FillPlan, []timesheet.Entry, error) {
	entries, err := p.Entries(ctx, email, period)
	if err != nil {
		return plan.FillPlan{}, nil, err
	}
	if len(entries) == 0 {
		return plan.FillPlan{}, nil, ErrNoEntries
	}
	fp, err := plan.Build(entries, p.opts)
	if err != nil {
		return plan.FillPlan{}, nil, fmt.Errorf("building plan: %w", err)
	}
	p.logger.Info("plan built", "run_id", fp.RunID, "rows", fp.Len(), "period", period.String())
	return fp, entries, nil
}

// NormalizeEmail returns user unchanged when it already is an address and
// appends domain otherwise.
func NormalizeEmail(user, domain string) string {
	user = strings.TrimSpace(user)
	if user == "" || strings.Contains(user, "@") {
		return user
	}
	if domain != "" && !strings.HasPrefix(domain, "@") {
		domain = "@" + domain
	}
	return user + domain
}

// UserMessage renders err the way it is shown to the person running the
// fill.
func UserMessage(err error, baseURL string) string {
	var apiErr *shifts.APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, shifts.ErrTimeout):
		return fmt.Sprintf("Shifts server timed out (%s).", baseURL)
	case errors.Is(err, shifts.ErrUnreachable):
		return fmt.Sprintf("Cannot reach shifts server (%s). Is it running?", baseURL)
	case errors.As(err, &apiErr):
		return apiErr.Error()
	case errors.Is(err, shifts.ErrNoShifts), errors.Is(err, ErrNoEntries):
		return "No shifts found for that month."
	case errors.Is(err, timesheet.ErrInvalidPeriod):
		return strings.TrimPrefix(err.Error(), timesheet.ErrInvalidPeriod.Error()+": ")
	default:
		return err.Error()
	}
}
