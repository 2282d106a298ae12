package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/christopherklint97/shiftfill/internal/automation"
	"github.com/christopherklint97/shiftfill/internal/config"
	"github.com/christopherklint97/shiftfill/internal/messages"
	"github.com/christopherklint97/shiftfill/internal/pidfile"
	"github.com/christopherklint97/shiftfill/internal/plan"
	"github.com/christopherklint97/shiftfill/internal/shifts"
	"github.com/christopherklint97/shiftfill/internal/store"
)

var (
	logger  = slog.New(slog.NewTextHandler(os.Stderr, nil))
	logFile *os.File
)

var rootCmd = &cobra.Command{
	Use:   "shiftfill",
	Short: "Fill the monthly time report from your scheduled shifts",
	Long: "shiftfill fetches your shifts for a month, turns them into one row per day and category, " +
		"and types those rows into the web time report, checking each one after writing it.",
	SilenceUsage:       true,
	PersistentPreRunE:  setupLogging,
	PersistentPostRunE: closeLogging,
}

var fillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Plan a month and fill the time report",
	RunE:  runFill,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue an interrupted fill on the open form",
	RunE:  runResume,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the rows a fill would write",
	RunE:  runPlan,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current run and recent history",
	RunE:  runStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the current run",
	RunE:  runReset,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the shifts server",
	RunE:  runHealth,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running fill",
	RunE:  runStop,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Open config file in your editor",
	RunE:  runConfig,
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Write debug logs to the log file")

	for _, c := range []*cobra.Command{fillCmd, planCmd} {
		c.Flags().String("email", "", "Email or username to report for (default schedule.email)")
		c.Flags().String("month", "", `Month to report, e.g. "2026-02" or "last month" (default current month)`)
	}
	fillCmd.Flags().Bool("force", false, "Fill even if the month was already filled")
	fillCmd.Flags().Bool("no-tui", false, "Print progress lines instead of the interactive view")
	fillCmd.Flags().BoolP("yes", "y", false, "Start filling without confirming the plan preview")
	planCmd.Flags().Bool("json", false, "Print the plan as JSON")
	planCmd.Flags().Bool("schema", false, "Print the JSON schema of a plan")
	resetCmd.Flags().Bool("force", false, "Reset even while a run holds the lock")

	rootCmd.AddCommand(fillCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging sends logs to the log file so the terminal stays free for
// the progress view.
func setupLogging(cmd *cobra.Command, _ []string) error {
	debug, _ := cmd.Flags().GetBool("debug")
	level := slog.LevelInfo
	if debug || os.Getenv("SHIFTFILL_DEBUG") != "" {
		level = slog.LevelDebug
	}

	if err := config.EnsureConfigDir(); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, "shiftfill.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	logFile = f
	logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return nil
}

func closeLogging(*cobra.Command, []string) error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config (run 'shiftfill config' to fix it): %w", err)
	}
	return cfg, nil
}

func isTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// resolveEmail picks the flag value, then the configured address.
func resolveEmail(e *engine, cmd *cobra.Command) (string, error) {
	email, _ := cmd.Flags().GetString("email")
	fromFlag := email != ""
	if !fromFlag {
		email = e.cfg.Schedule.Email
	}
	if email == "" {
		return "", fmt.Errorf("no email: pass --email or set schedule.email in the config")
	}
	email = e.planner.Email(email)
	if fromFlag && email != e.cfg.Schedule.Email {
		if err := config.SaveEmail(email); err != nil {
			logger.Warn("saving email to config", "error", err)
		}
	}
	return email, nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	if schema, _ := cmd.Flags().GetBool("schema"); schema {
		out, err := plan.Schema()
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

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
	month, _ := cmd.Flags().GetString("month")
	period, err := e.planner.ParsePeriod(month)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	p, entries, err := e.requestPlan(ctx, email, period, true)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}

	fmt.Printf("Plan for %s (%s), run %s:\n\n", period, email, p.RunID)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  #\tDATE\tHOURS\tCODE\tCATEGORY\tSHIFTS")
	for i, row := range p.Rows() {
		category, title := "", ""
		if i < len(entries) {
			category, title = entries[i].Category.String(), entries[i].Title
		}
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\t%s\n", i+1, row.Date, row.Hours, row.Category, category, title)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d rows, %d add-row clicks\n", p.Len(), p.TargetClicks)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := store.Open()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	st := sessionStore(cfg, db).Snapshot()
	if st.Plan == nil {
		fmt.Println("No run in progress.")
	} else {
		fmt.Printf("Run %s: %s", st.Plan.RunID, st.Phase)
		if st.Locked {
			fmt.Print(" (locked)")
		}
		if st.Completed {
			fmt.Print(" (completed)")
		}
		fmt.Println()
		fmt.Printf("  rows %d, add-row clicks %d/%d\n", st.Plan.Len(), st.ClicksDone, st.TargetClicks)
		if st.Status != "" {
			fmt.Printf("  status: %s\n", st.Status)
		}
		for _, m := range st.Mismatches {
			fmt.Printf("  mismatch %s\n", formatMismatch(m))
		}
		if len(st.Log) > 0 {
			fmt.Println("\n  Log:")
			for _, l := range st.Log {
				fmt.Printf("  %s  %s\n", l.Time.Local().Format("15:04:05"), l.Line)
			}
		}
	}

	runs, err := db.RecentRuns(5)
	if err != nil {
		return fmt.Errorf("fetching run history: %w", err)
	}
	if len(runs) == 0 {
		return nil
	}
	fmt.Println("\nRecent runs:")
	for _, r := range runs {
		finished := "-"
		if !r.FinishedAt.IsZero() {
			finished = r.FinishedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("  %s  %-24s  %-8s  %2d rows  %d mismatches  %s\n",
			r.Period, r.Email, r.Phase, r.Rows, r.Mismatches, finished)
	}

	lines, err := failedRowLines(db, runs)
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}

// failedRowLines describes the rows that did not verify in the most recent
// failed run among runs.
func failedRowLines(db *store.DB, runs []store.Run) ([]string, error) {
	for _, r := range runs {
		if r.Phase != string(automation.PhaseError) || r.Mismatches == 0 {
			continue
		}
		rows, err := db.RunRows(r.RunID)
		if err != nil {
			return nil, fmt.Errorf("fetching rows of run %s: %w", r.RunID, err)
		}
		lines := []string{fmt.Sprintf("\nRows that did not verify in %s (run %s):", r.Period, r.RunID)}
		for _, row := range rows {
			if row.OK {
				continue
			}
			lines = append(lines, fmt.Sprintf("  row %d: expected %s %sh %s, got %s",
				row.Index+1, row.Date, row.Hours, row.Category, row.Got))
		}
		return lines, nil
	}
	return nil, nil
}

func runReset(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := store.Open()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	rs := sessionStore(cfg, db)
	if rs.Locked() && !force {
		return fmt.Errorf("a fill is running (stop it with 'shiftfill stop' or pass --force)")
	}
	if err := rs.Clear(); err != nil {
		return fmt.Errorf("clearing run state: %w", err)
	}
	fmt.Println("Run state cleared.")
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	msg, _ := messages.New(messages.HealthCheck, nil)
	resp := e.bus.Request(cmd.Context(), msg)
	h, err := messages.DecodeData[shifts.Health](resp)
	if err != nil {
		return err
	}
	if !resp.OK {
		if h.BaseURL == "" {
			return errors.New(resp.Error)
		}
		return fmt.Errorf("%s: %s", h.BaseURL, resp.Error)
	}
	fmt.Println(h.Message)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	path, err := pidfile.Path()
	if err != nil {
		return err
	}
	pid, err := pidfile.Read(path)
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending stop signal: %w", err)
	}

	fmt.Printf("Sent stop signal to shiftfill (PID %d); it stops after the current row.\n", pid)
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.WriteDefault(configPath); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	fmt.Printf("Opening %s with %s...\n", configPath, editor)

	proc := os.ProcAttr{
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
	}
	process, err := os.StartProcess(editor, []string{editor, configPath}, &proc)
	if err != nil {
		// If editor fails, just print the path
		fmt.Printf("Could not open editor. Config file is at: %s\n", configPath)
		return nil
	}
	_, err = process.Wait()
	return err
}
