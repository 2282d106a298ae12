package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/christopherklint97/shiftfill/internal/messages"
	"github.com/christopherklint97/shiftfill/internal/plan"
	"github.com/christopherklint97/shiftfill/internal/shifts"
	"github.com/christopherklint97/shiftfill/internal/timesheet"
)

// StartResult is the data of a successful START_FROM_PAGE.
type StartResult struct {
	RunID  string `json:"runId"`
	Rows   int    `json:"rows"`
	Period string `json:"period"`
	Email  string `json:"email"`
}

// Handlers answers the background-side messages.
type Handlers struct {
	bus     *messages.Bus
	planner *Planner
	health  *shifts.Client
	source  string
	logger  *slog.Logger

	// OnPlan is called with every plan delivered to the page and the
	// entries behind it, before PLAN_READY is sent.
	OnPlan func(p plan.FillPlan, entries []timesheet.Entry, period timesheet.Period, email string)
}

// Register installs HEALTH_CHECK, START_FROM_PAGE, PROGRESS and PAGE_READY
// on bus. health may be nil when the schedule does not come from the
// shifts server.
func Register(bus *messages.Bus, planner *Planner, health *shifts.Client, source string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &Handlers{bus: bus, planner: planner, health: health, source: source, logger: logger}
	bus.Handle(messages.HealthCheck, h.healthCheck)
	bus.Handle(messages.StartFromPage, h.startFromPage)
	bus.Handle(messages.Progress, acknowledge)
	bus.Handle(messages.PageReady, acknowledge)
	return h
}

func acknowledge(context.Context, messages.Message) messages.Response {
	return messages.OK(nil)
}

func (h *Handlers) healthCheck(ctx context.Context, _ messages.Message) messages.Response {
	if h.health == nil {
		return messages.OK(shifts.Health{OK: true, Message: fmt.Sprintf("Using %s schedule source", h.source)})
	}
	result := h.health.Health(ctx)
	resp := messages.OK(result)
	resp.OK = result.OK
	resp.Error = errorIfNotOK(result)
	return resp
}

func (h *Handlers) startFromPage(ctx context.Context, msg messages.Message) messages.Response {
	req, err := messages.Decode[messages.StartPayload](msg)
	if err != nil {
		return messages.Fail(err)
	}
	period := timesheet.Period{Year: req.Year, Month: time.Month(req.Month)}
	if err := period.Validate(); err != nil {
		return messages.Response{OK: false, Error: fmt.Sprintf("Invalid month/year: %d-%d", req.Year, req.Month)}
	}

	email := h.planner.Email(req.Email)
	fp, entries, err := h.planner.Plan(ctx, email, period)
	if err != nil {
		h.logger.Warn("plan request failed", "email", email, "period", period.String(), "error", err)
		return messages.Response{OK: false, Error: UserMessage(err, h.baseURL())}
	}

	if h.OnPlan != nil {
		h.OnPlan(fp, entries, period, email)
	}

	ready, err := messages.New(messages.PlanReady, fp)
	if err != nil {
		return messages.Fail(err)
	}
	if resp := h.bus.Request(ctx, ready); !resp.OK {
		return resp
	}

	return messages.OK(StartResult{RunID: fp.RunID, Rows: fp.Len(), Period: period.String(), Email: email})
}

func (h *Handlers) baseURL() string {
	if h.health == nil {
		return h.source
	}
	return h.health.BaseURL()
}

func errorIfNotOK(r shifts.Health) string {
	if r.OK {
		return ""
	}
	return r.Message
}
