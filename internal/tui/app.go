package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/christopherklint97/shiftfill/internal/automation"
	"github.com/christopherklint97/shiftfill/internal/messages"
	"github.com/christopherklint97/shiftfill/internal/plan"
	"github.com/christopherklint97/shiftfill/internal/timesheet"
)

type viewState int

const (
	inputView viewState = iota
	planningView
	previewView
	fillingView
	confirmationView
)

const defaultLogSize = 12

// Job is everything the app needs to take one month from shifts to a
// filled form.
type Job struct {
	Email       string
	Period      string
	AskPeriod   bool
	AutoConfirm bool
	LogSize     int

	ParsePeriod func(string) (timesheet.Period, error)
	Plan        func(ctx context.Context, period timesheet.Period) (plan.FillPlan, []timesheet.Entry, error)
	Fill        func(ctx context.Context, p plan.FillPlan) (automation.Outcome, error)
	Progress    <-chan messages.Message
}

type Result struct {
	Cancelled bool
	Period    timesheet.Period
	Plan      plan.FillPlan
	Outcome   automation.Outcome
	Err       error
}

type planMsg struct {
	plan    plan.FillPlan
	entries []timesheet.Entry
	err     error
}

type fillMsg struct {
	outcome automation.Outcome
	err     error
}

type progressMsg messages.ProgressPayload

type App struct {
	state   viewState
	input   inputModel
	spinner spinner.Model
	preview previewModel
	result  *Result
	errMsg  string

	job      Job
	period   timesheet.Period
	log      []string
	status   string
	ctx      context.Context
	cancel   context.CancelFunc
	quitting bool
}

func NewApp(job Job) *App {
	s := spinner.New()
	s.Spinner = spinner.Dot
	if job.LogSize <= 0 {
		job.LogSize = defaultLogSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		state:   inputView,
		input:   newInputModel("Reporting as "+job.Email, job.Period),
		spinner: s,
		job:     job,
		ctx:     ctx,
		cancel:  cancel,
	}
	return a
}

func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.spinner.Tick, a.listen()}
	if !a.job.AskPeriod {
		if cmd := a.submitPeriod(a.job.Period); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return tea.Batch(cmds...)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a.interrupt()
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	case progressMsg:
		a.appendLog(msg)
		return a, a.listen()
	case planMsg:
		return a.handlePlan(msg)
	case fillMsg:
		return a.handleFill(msg)
	}

	switch a.state {
	case inputView:
		return a.updateInput(msg)
	case previewView:
		return a.updatePreview(msg)
	case confirmationView:
		return a.updateConfirmation(msg)
	}

	return a, nil
}

func (a *App) View() string {
	switch a.state {
	case inputView:
		return a.input.View()
	case planningView:
		return a.spinner.View() + " Fetching shifts for " + a.period.String() + "..."
	case previewView:
		return a.preview.View()
	case fillingView:
		return a.fillingView()
	case confirmationView:
		return a.confirmationView()
	}
	return ""
}

func (a *App) GetResult() *Result {
	return a.result
}

func (a *App) interrupt() (tea.Model, tea.Cmd) {
	a.cancel()
	if a.state == fillingView {
		// let the runner stop between rows and report back
		a.quitting = true
		a.status = "Stopping after the current row..."
		return a, nil
	}
	if a.result == nil {
		a.result = &Result{Cancelled: true, Period: a.period}
	}
	return a, tea.Quit
}

func (a *App) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.String() == "enter" {
		if cmd := a.submitPeriod(a.input.Value()); cmd != nil {
			return a, cmd
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

// submitPeriod parses s and starts planning. On a parse error it stays on
// the input view with the message shown.
func (a *App) submitPeriod(s string) tea.Cmd {
	period, err := a.job.ParsePeriod(s)
	if err != nil {
		a.state = inputView
		a.input.err = err.Error()
		return nil
	}
	a.period = period
	a.input.err = ""
	a.state = planningView
	return tea.Batch(a.spinner.Tick, a.makePlan(period))
}

func (a *App) updatePreview(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "enter", "y":
			return a, a.startFill()
		case "q", "esc":
			a.result = &Result{Cancelled: true, Period: a.period, Plan: a.preview.plan}
			return a, tea.Quit
		}
	}

	var cmd tea.Cmd
	a.preview, cmd = a.preview.Update(msg)
	return a, cmd
}

func (a *App) updateConfirmation(msg tea.Msg) (tea.Model, tea.Cmd) {
	if _, ok := msg.(tea.KeyMsg); ok {
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) handlePlan(msg planMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		a.state = confirmationView
		a.errMsg = msg.err.Error()
		a.result = &Result{Period: a.period, Err: msg.err}
		return a, nil
	}

	a.preview = newPreviewModel(msg.plan, msg.entries, a.period.String())
	a.state = previewView
	if a.job.AutoConfirm {
		return a, a.startFill()
	}
	return a, nil
}

func (a *App) startFill() tea.Cmd {
	a.state = fillingView
	a.status = "Starting..."
	p := a.preview.plan
	ctx := a.ctx
	return tea.Batch(a.spinner.Tick, func() tea.Msg {
		out, err := a.job.Fill(ctx, p)
		return fillMsg{outcome: out, err: err}
	})
}

func (a *App) handleFill(msg fillMsg) (tea.Model, tea.Cmd) {
	a.result = &Result{Period: a.period, Plan: a.preview.plan, Outcome: msg.outcome, Err: msg.err}
	a.state = confirmationView
	if msg.err != nil {
		a.errMsg = msg.err.Error()
	}
	if a.quitting {
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) makePlan(period timesheet.Period) tea.Cmd {
	ctx := a.ctx
	return func() tea.Msg {
		p, entries, err := a.job.Plan(ctx, period)
		return planMsg{plan: p, entries: entries, err: err}
	}
}

// listen waits for the next progress broadcast. It returns nil once the
// subscription is closed.
func (a *App) listen() tea.Cmd {
	ch := a.job.Progress
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		for msg := range ch {
			if msg.Type != messages.Progress {
				continue
			}
			p, err := messages.Decode[messages.ProgressPayload](msg)
			if err != nil {
				continue
			}
			return progressMsg(p)
		}
		return nil
	}
}

func (a *App) appendLog(p progressMsg) {
	a.status = p.Message
	a.log = append(a.log, fmt.Sprintf("%-7s %s", p.Phase, p.Message))
	if over := len(a.log) - a.job.LogSize; over > 0 {
		a.log = a.log[over:]
	}
}

func (a *App) fillingView() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Filling " + a.period.String()))
	sb.WriteString("\n")
	sb.WriteString(a.spinner.View() + " " + highlightStyle.Render(a.status))
	sb.WriteString("\n\n")
	for _, line := range a.log {
		sb.WriteString(dimStyle.Render(line))
		sb.WriteString("\n")
	}
	sb.WriteString(helpStyle.Render("Ctrl+C: stop after the current row"))
	return sb.String()
}

func (a *App) confirmationView() string {
	help := "\n\n" + helpStyle.Render("Press any key to exit")
	if a.errMsg != "" {
		var mm *automation.MismatchError
		if a.result != nil && errors.As(a.result.Err, &mm) {
			return warningStyle.Render("Filled with mismatches: ") + a.errMsg + help
		}
		return errorStyle.Render("Error: ") + a.errMsg + help
	}
	if a.result == nil {
		return ""
	}
	switch a.result.Outcome {
	case automation.OutcomeDone:
		return successStyle.Render(fmt.Sprintf("Time report for %s filled (%d rows).", a.period, a.result.Plan.Len())) + help
	case automation.OutcomeInterrupted:
		return warningStyle.Render("Stopped. Run `shiftfill resume` to continue.") + help
	default:
		return warningStyle.Render("Run ended: "+a.result.Outcome.String()) + help
	}
}
