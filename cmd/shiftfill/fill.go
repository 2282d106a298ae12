package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/christopherklint97/shiftfill/internal/automation"
	"github.com/christopherklint97/shiftfill/internal/browser"
	"github.com/christopherklint97/shiftfill/internal/messages"
	"github.com/christopherklint97/shiftfill/internal/pidfile"
	"github.com/christopherklint97/shiftfill/internal/plan"
	"github.com/christopherklint97/shiftfill/internal/timesheet"
	"github.com/christopherklint97/shiftfill/internal/tui"
)

const progressBuffer = 64

func runFill(cmd *cobra.Command, args []string) error {
	month, _ := cmd.Flags().GetString("month")
	force, _ := cmd.Flags().GetBool("force")
	noTUI, _ := cmd.Flags().GetBool("no-tui")
	yes, _ := cmd.Flags().GetBool("yes")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	email, err := resolveEmail(e, cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	release, err := holdPIDFile()
	if err != nil {
		return err
	}
	defer release()

	r, doc, closeBrowser, err := e.attach(ctx)
	if err != nil {
		return err
	}
	defer closeBrowser()

	if !noTUI && isTerminal() {
		return fillInteractive(ctx, e, r, doc, email, month, force, yes)
	}

	period, err := e.planner.ParsePeriod(month)
	if err != nil {
		return err
	}
	p, _, err := e.requestPlan(ctx, email, period, force)
	if err != nil {
		return err
	}
	fmt.Printf("Filling %s for %s: %d rows\n", period, email, p.Len())

	done := printProgress(e.bus)
	e.startRun(p, period, email)
	out, err := e.drive(ctx, r, doc, func(ctx context.Context) (automation.Outcome, error) {
		return r.Receive(ctx, p)
	})
	done()
	return report(out, err)
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signalContext()
	defer stop()

	release, err := holdPIDFile()
	if err != nil {
		return err
	}
	defer release()

	r, doc, closeBrowser, err := e.attach(ctx)
	if err != nil {
		return err
	}
	defer closeBrowser()

	done := printProgress(e.bus)
	out, err := e.drive(ctx, r, doc, r.Boot)
	done()

	switch out {
	case automation.OutcomeNoPlan:
		fmt.Println("Nothing to resume.")
		return nil
	case automation.OutcomeNotApplicable:
		return fmt.Errorf("the open tab is not the time report form")
	}
	return report(out, err)
}

// fillInteractive runs the plan preview and progress view. Planning happens
// inside the view so the month can be asked for.
func fillInteractive(ctx context.Context, e *engine, r *automation.Runner, doc *browser.Document, email, month string, force, yes bool) error {
	sub := e.bus.Subscribe(progressBuffer)
	defer e.bus.Unsubscribe(sub)

	ask := month == ""
	if ask {
		month = lastPeriod(e.db, e.planner.CurrentPeriod().String())
	}

	var period timesheet.Period
	app := tui.NewApp(tui.Job{
		Email:       email,
		Period:      month,
		AskPeriod:   ask,
		AutoConfirm: yes,
		LogSize:     e.cfg.Run.LogSize,
		ParsePeriod: e.planner.ParsePeriod,
		Plan: func(ctx context.Context, pd timesheet.Period) (plan.FillPlan, []timesheet.Entry, error) {
			period = pd
			return e.requestPlan(ctx, email, pd, force)
		},
		Fill: func(tctx context.Context, p plan.FillPlan) (automation.Outcome, error) {
			fctx, cancel := context.WithCancel(tctx)
			defer cancel()
			unhook := context.AfterFunc(ctx, cancel)
			defer unhook()

			e.startRun(p, period, email)
			return e.drive(fctx, r, doc, func(ctx context.Context) (automation.Outcome, error) {
				return r.Receive(ctx, p)
			})
		},
		Progress: sub,
	})
	prog := tea.NewProgram(app, tea.WithoutSignalHandler())
	go func() {
		<-ctx.Done()
		prog.Send(tea.KeyMsg{Type: tea.KeyCtrlC})
	}()

	if _, err := prog.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}

	result := app.GetResult()
	if result == nil || result.Cancelled {
		fmt.Println("Cancelled.")
		return nil
	}
	if result.Plan.Len() == 0 {
		return result.Err
	}
	return report(result.Outcome, result.Err)
}

func holdPIDFile() (func(), error) {
	path, err := pidfile.Path()
	if err != nil {
		return nil, err
	}
	if err := pidfile.Write(path); err != nil {
		return nil, fmt.Errorf("writing PID file: %w", err)
	}
	return func() { pidfile.Remove(path) }, nil
}

// printProgress echoes progress broadcasts to stdout until the returned
// func is called.
func printProgress(bus *messages.Bus) func() {
	sub := bus.Subscribe(progressBuffer)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range sub {
			if msg.Type != messages.Progress {
				continue
			}
			p, err := messages.Decode[messages.ProgressPayload](msg)
			if err != nil {
				continue
			}
			fmt.Printf("[%s] %s\n", p.Phase, p.Message)
		}
	}()
	return func() {
		bus.Unsubscribe(sub)
		wg.Wait()
	}
}

func report(out automation.Outcome, err error) error {
	var mm *automation.MismatchError
	switch {
	case errors.As(err, &mm):
		for _, m := range mm.Mismatches {
			fmt.Printf("  %s\n", formatMismatch(m))
		}
		return fmt.Errorf("%d row(s) did not verify; the run was not marked done", len(mm.Mismatches))
	case out == automation.OutcomeInterrupted:
		fmt.Println("Stopped. Run 'shiftfill resume' to continue.")
		return nil
	case err != nil:
		return err
	case out == automation.OutcomeDone:
		fmt.Println("Done.")
		return nil
	case out == automation.OutcomeBusy:
		return automation.ErrRunInProgress
	default:
		return fmt.Errorf("run ended: %s", out)
	}
}
