package automation

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/christopherklint97/shiftfill/internal/plan"
)

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseAdding  Phase = "adding"
	PhaseFilling Phase = "filling"
	PhaseDone    Phase = "done"
	PhaseError   Phase = "error"
)

// ParsePhase falls back to idle for anything unrecognised.
func ParsePhase(s string) Phase {
	switch p := Phase(s); p {
	case PhaseAdding, PhaseFilling, PhaseDone, PhaseError:
		return p
	default:
		return PhaseIdle
	}
}

func (p Phase) Terminal() bool { return p == PhaseDone || p == PhaseError }

const (
	keyPlan       = "plan"
	keyPhase      = "phase"
	keyClicksDone = "clicks_done"
	keyTarget     = "target_clicks"
	keyLock       = "lock"
	keyCompleted  = "completed"
	keyStatus     = "status"
	keyLog        = "log"
	keyReadySent  = "ready_sent"
	keyMismatches = "mismatches"
)

// LogEntry is one line of the rolling status log.
type LogEntry struct {
	Time time.Time `json:"t"`
	Line string    `json:"line"`
}

// RunState is a point-in-time copy of everything a RunStore holds.
type RunState struct {
	Phase        Phase          `json:"phase"`
	ClicksDone   int            `json:"clicksDone"`
	TargetClicks int            `json:"targetClicks"`
	Locked       bool           `json:"locked"`
	Completed    bool           `json:"completed"`
	Status       string         `json:"status"`
	Log          []LogEntry     `json:"log"`
	ReadySent    bool           `json:"readySent"`
	Plan         *plan.FillPlan `json:"plan,omitempty"`
	Mismatches   []Mismatch     `json:"mismatches,omitempty"`
}

// RunStore is the typed checkpoint layer over a KV. Reads never fail: a
// missing or corrupt value reads as its zero state (idle, 0, unlocked).
type RunStore struct {
	kv      KV
	logSize int
	lease   time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewRunStore wraps kv. A lock older than lease is treated as abandoned;
// lease <= 0 means locks never expire.
func NewRunStore(kv KV, logSize int, lease time.Duration, logger *slog.Logger) *RunStore {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if logSize <= 0 {
		logSize = 60
	}
	return &RunStore{
		kv:      kv,
		logSize: logSize,
		lease:   lease,
		now:     time.Now,
		logger:  logger,
	}
}

func (s *RunStore) get(key string) string {
	v, err := s.kv.Get(key)
	if err != nil {
		s.logger.Warn("reading run state", "key", key, "error", err)
		return ""
	}
	return v
}

func (s *RunStore) getInt(key string) int {
	n, err := strconv.Atoi(s.get(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *RunStore) getFlag(key string) bool {
	return s.get(key) == "1"
}

func (s *RunStore) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.kv.Set(key, string(data))
}

// Plan returns the stored plan, or false when none is stored or it no
// longer decodes.
func (s *RunStore) Plan() (plan.FillPlan, bool) {
	raw := s.get(keyPlan)
	if raw == "" {
		return plan.FillPlan{}, false
	}
	p, err := plan.Decode([]byte(raw))
	if err != nil {
		s.logger.Warn("discarding unreadable plan", "error", err)
		return plan.FillPlan{}, false
	}
	return p, true
}

func (s *RunStore) Phase() Phase { return ParsePhase(s.get(keyPhase)) }
func (s *RunStore) ClicksDone() int { return s.getInt(keyClicksDone) }
func (s *RunStore) TargetClicks() int { return s.getInt(keyTarget) }
func (s *RunStore) Completed() bool { return s.getFlag(keyCompleted) }
func (s *RunStore) ReadySent() bool { return s.getFlag(keyReadySent) }
func (s *RunStore) Status() string { return s.get(keyStatus) }

func (s *RunStore) SetPhase(p Phase) error {
	return s.kv.Set(keyPhase, string(p))
}

func (s *RunStore) SetClicksDone(n int) error {
	return s.kv.Set(keyClicksDone, strconv.Itoa(n))
}

func (s *RunStore) MarkCompleted() error {
	return s.kv.Set(keyCompleted, "1")
}

func (s *RunStore) MarkReadySent() error {
	return s.kv.Set(keyReadySent, "1")
}

// Locked reports whether a live lock is held.
func (s *RunStore) Locked() bool {
	raw := s.get(keyLock)
	if raw == "" {
		return false
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	if s.lease <= 0 {
		return true
	}
	return s.now().Sub(at) < s.lease
}

// Lock stamps the lock with the current time. Calling it again while
// holding the lock extends the lease.
func (s *RunStore) Lock() error {
	return s.kv.Set(keyLock, s.now().UTC().Format(time.RFC3339Nano))
}

func (s *RunStore) Unlock() error {
	return s.kv.Delete(keyLock)
}

// Init sets the counters for p and moves to adding or filling.
func (s *RunStore) Init(p plan.FillPlan) error {
	if err := s.kv.Set(keyTarget, strconv.Itoa(p.TargetClicks)); err != nil {
		return err
	}
	if err := s.SetClicksDone(0); err != nil {
		return err
	}
	next := PhaseFilling
	if p.TargetClicks > 0 {
		next = PhaseAdding
	}
	return s.SetPhase(next)
}

// Reset drops everything a previous plan left behind and stores p.
func (s *RunStore) Reset(p plan.FillPlan) error {
	if err := s.kv.Delete(keyCompleted, keyLog, keyStatus, keyMismatches,
		keyPhase, keyClicksDone, keyTarget); err != nil {
		return fmt.Errorf("clearing run state: %w", err)
	}
	data, err := p.Encode()
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	if err := s.kv.Set(keyPlan, string(data)); err != nil {
		return fmt.Errorf("saving plan: %w", err)
	}
	return s.Init(p)
}

// Clear removes all run state, including the plan.
func (s *RunStore) Clear() error {
	return s.kv.Delete(keyPlan, keyPhase, keyClicksDone, keyTarget, keyLock,
		keyCompleted, keyStatus, keyLog, keyMismatches)
}

// Log returns the rolling status log, oldest first.
func (s *RunStore) Log() []LogEntry {
	raw := s.get(keyLog)
	if raw == "" {
		return nil
	}
	var entries []LogEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil
	}
	return entries
}

// SetStatus records msg as the status line and appends it to the log.
func (s *RunStore) SetStatus(msg string) error {
	if err := s.kv.Set(keyStatus, msg); err != nil {
		return err
	}
	entries := append(s.Log(), LogEntry{Time: s.now(), Line: msg})
	if len(entries) > s.logSize {
		entries = entries[len(entries)-s.logSize:]
	}
	return s.setJSON(keyLog, entries)
}

func (s *RunStore) Mismatches() []Mismatch {
	raw := s.get(keyMismatches)
	if raw == "" {
		return nil
	}
	var mm []Mismatch
	if err := json.Unmarshal([]byte(raw), &mm); err != nil {
		return nil
	}
	return mm
}

func (s *RunStore) SetMismatches(mm []Mismatch) error {
	return s.setJSON(keyMismatches, mm)
}

func (s *RunStore) Snapshot() RunState {
	st := RunState{
		Phase:        s.Phase(),
		ClicksDone:   s.ClicksDone(),
		TargetClicks: s.TargetClicks(),
		Locked:       s.Locked(),
		Completed:    s.Completed(),
		Status:       s.Status(),
		Log:          s.Log(),
		ReadySent:    s.ReadySent(),
		Mismatches:   s.Mismatches(),
	}
	if p, ok := s.Plan(); ok {
		st.Plan = &p
	}
	return st
}
