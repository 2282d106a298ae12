package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christopherklint97/shiftfill/internal/plan"
)

func testOptions() Options {
	return Options{
		RowRetries:   3,
		FormTimeout:  200 * time.Millisecond,
		FormPoll:     time.Millisecond,
		FieldTimeout: 5 * time.Millisecond,
		FieldPoll:    time.Millisecond,
	}
}

func newTestRunner(store *RunStore, doc Document) *Runner {
	return NewRunner(store, doc, testOptions(), nil)
}

func TestRun_ThreeRowPlanClicksTwiceAcrossReloads(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	doc := newFakeDoc(1)

	var atClick []int
	doc.onClick = func() { atClick = append(atClick, store.ClicksDone()) }

	out, err := newTestRunner(store, doc).Receive(context.Background(), threeRowPlan())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReloadPending, out)
	assert.False(t, store.Locked(), "lock released on the reload path")

	// each reload builds a fresh runner over the same store
	out, err = newTestRunner(store, doc).Boot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReloadPending, out)

	out, err = newTestRunner(store, doc).Boot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, out)

	assert.Equal(t, []int{1, 2}, atClick, "counter persisted before each click")
	assert.Equal(t, 2, doc.clickCount())
	assert.Equal(t, PhaseDone, store.Phase())
	assert.True(t, store.Completed())
	assert.False(t, store.Locked())

	p := threeRowPlan()
	for i := range p.Len() {
		assert.Equal(t, p.Dates[i], doc.value(i, FieldDate))
		assert.Equal(t, p.Hours[i], doc.value(i, FieldHours))
		assert.Equal(t, p.CategoryCodes[i], doc.value(i, FieldCategory))
	}

	// nothing left to resume
	out, err = newTestRunner(store, doc).Boot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotApplicable, out)
}

func TestBoot_ResumesWithExactlyOneClick(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	p := plan.FillPlan{
		RunID:         "run-4",
		Dates:         []string{"20260302", "20260303", "20260304", "20260305"},
		Hours:         []string{"1.00", "1.00", "1.00", "1.00"},
		CategoryCodes: []string{"a", "a", "a", "a"},
		TargetClicks:  3,
	}
	require.NoError(t, store.Reset(p))
	require.NoError(t, store.SetClicksDone(1))

	doc := newFakeDoc(2)
	out, err := newTestRunner(store, doc).Boot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReloadPending, out)
	assert.Equal(t, 1, doc.clickCount())
	assert.Equal(t, 2, store.ClicksDone())
	assert.Equal(t, PhaseAdding, store.Phase())
}

func TestRun_LockedIsNoop(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	require.NoError(t, store.Reset(threeRowPlan()))
	require.NoError(t, store.Lock())
	statusBefore := store.Status()

	doc := newFakeDoc(1)
	r := newTestRunner(store, doc)

	out, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeBusy, out)

	out, err = r.Boot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeBusy, out)

	assert.Equal(t, 0, doc.clickCount())
	assert.Equal(t, 0, store.ClicksDone())
	assert.Equal(t, statusBefore, store.Status())
	assert.True(t, store.Locked(), "a busy trigger must not release someone else's lock")
}

func TestRun_StaleLockIsTakenOver(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	require.NoError(t, store.Reset(threeRowPlan()))
	store.now = func() time.Time { return time.Now().Add(-time.Hour) }
	require.NoError(t, store.Lock())
	store.now = time.Now

	doc := newFakeDoc(1)
	out, err := newTestRunner(store, doc).Boot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReloadPending, out)
	assert.Equal(t, 1, doc.clickCount())
}

func TestRun_ConcurrentTriggersRunOnce(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	require.NoError(t, store.Reset(threeRowPlan()))

	doc := newFakeDoc(1)
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	doc.onClick = func() {
		entered <- struct{}{}
		<-release
	}
	r := newTestRunner(store, doc)

	results := make(chan Outcome, 1)
	go func() {
		out, _ := r.Run(context.Background())
		results <- out
	}()
	<-entered

	var wg sync.WaitGroup
	busy := make(chan Outcome, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, _ := r.Run(context.Background())
			busy <- out
		}()
	}
	wg.Wait()
	close(busy)
	for out := range busy {
		assert.Equal(t, OutcomeBusy, out)
	}

	close(release)
	assert.Equal(t, OutcomeReloadPending, <-results)
	assert.Equal(t, 1, doc.clickCount())
	assert.Equal(t, 1, store.ClicksDone())
}

func TestVerifyRow_ConvergesOnThirdAttempt(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	doc := newFakeDoc(3)
	doc.dropWrites[2] = 2
	r := newTestRunner(store, doc)

	p := threeRowPlan()
	exp := expectedRow(p, 2)
	r.writeRow(context.Background(), 2, exp, 0)

	v := r.verifyRow(context.Background(), 2, exp, 0)
	assert.True(t, v.OK)
	assert.Equal(t, 3, v.Attempt)
}

func TestRun_RowConvergingLateIsNotAMismatch(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	require.NoError(t, store.Reset(threeRowPlan()))
	require.NoError(t, store.SetClicksDone(2))

	doc := newFakeDoc(3)
	doc.dropWrites[2] = 2

	out, err := newTestRunner(store, doc).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, out)
	assert.Empty(t, store.Mismatches())
}

func TestRun_NeverConvergingRowFails(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	require.NoError(t, store.Reset(threeRowPlan()))
	require.NoError(t, store.SetClicksDone(2))

	doc := newFakeDoc(3)
	doc.dropWrites[1] = 1000

	out, err := newTestRunner(store, doc).Run(context.Background())
	assert.Equal(t, OutcomeFailed, out)

	var mErr *MismatchError
	require.ErrorAs(t, err, &mErr)
	require.Len(t, mErr.Mismatches, 1)
	m := mErr.Mismatches[0]
	assert.Equal(t, 1, m.Row)
	assert.Equal(t, plan.Row{Date: "20260302", Hours: "1.00", Category: "MaUkv"}, m.Expected)
	assert.Equal(t, plan.Row{}, m.Got)

	assert.Equal(t, PhaseError, store.Phase())
	assert.False(t, store.Completed())
	assert.Equal(t, mErr.Mismatches, store.Mismatches())

	// rows after the bad one were still written
	assert.Equal(t, "2.00", doc.value(2, FieldHours))

	// error is terminal: a reload does not resume
	out, err = newTestRunner(store, doc).Boot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotApplicable, out)
}

func TestRun_FormNeverReady(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	doc := newFakeDoc(0)

	out, err := newTestRunner(store, doc).Receive(context.Background(), threeRowPlan())
	assert.Equal(t, OutcomeFailed, out)
	assert.ErrorIs(t, err, ErrFormNotReady)
	assert.Equal(t, PhaseError, store.Phase())
	assert.Equal(t, "Form not ready on this page", store.Status())
}

func TestRun_NotEnoughRows(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	require.NoError(t, store.Reset(threeRowPlan()))
	require.NoError(t, store.SetClicksDone(2))

	out, err := newTestRunner(store, newFakeDoc(2)).Run(context.Background())
	assert.Equal(t, OutcomeFailed, out)
	assert.ErrorIs(t, err, ErrFormNotReady)
	assert.Equal(t, "Not enough rows on page (need 3)", store.Status())
}

func TestRun_MissingAddRowControl(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	doc := newFakeDoc(1)
	doc.addRow = false

	out, err := newTestRunner(store, doc).Receive(context.Background(), threeRowPlan())
	assert.Equal(t, OutcomeFailed, out)
	assert.ErrorIs(t, err, ErrControlNotFound)
	assert.Equal(t, 0, store.ClicksDone())
}

func TestRun_ClickFailureIsFatal(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	doc := newFakeDoc(1)
	doc.clickErr = errors.New("detached")

	out, err := newTestRunner(store, doc).Receive(context.Background(), threeRowPlan())
	assert.Equal(t, OutcomeFailed, out)
	assert.ErrorIs(t, err, ErrControlNotFound)
	assert.Equal(t, PhaseError, store.Phase())
}

func TestRun_OutsideTargetPage(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	require.NoError(t, store.Reset(threeRowPlan()))
	doc := newFakeDoc(1)
	doc.inContext = false

	out, err := newTestRunner(store, doc).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotApplicable, out)
	assert.False(t, store.Locked())
}

func TestRun_NoPlan(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	out, err := newTestRunner(store, newFakeDoc(1)).Run(context.Background())
	assert.Equal(t, OutcomeNoPlan, out)
	assert.ErrorIs(t, err, ErrNoPlan)
	assert.False(t, store.Locked())
}

func TestRun_AlreadyDoneShortCircuits(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	single := plan.FillPlan{RunID: "r", Dates: []string{"20260302"}, Hours: []string{"1.00"}, CategoryCodes: []string{"c"}}
	doc := newFakeDoc(1)

	out, err := newTestRunner(store, doc).Receive(context.Background(), single)
	require.NoError(t, err)
	require.Equal(t, OutcomeDone, out)

	doc.values = make(map[cell]string)
	out, err = newTestRunner(store, doc).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, out)
	assert.Equal(t, "Already done", store.Status())
	assert.Empty(t, doc.value(0, FieldDate), "nothing rewritten")
}

func TestReceive_RejectsInvalidPlan(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	_, err := newTestRunner(store, newFakeDoc(1)).Receive(context.Background(), plan.FillPlan{})
	assert.ErrorIs(t, err, plan.ErrEmptyPlan)
	_, ok := store.Plan()
	assert.False(t, ok)
}

func TestReceive_WhileLockedIsSilentNoop(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	first := threeRowPlan()
	require.NoError(t, store.Reset(first))
	require.NoError(t, store.Lock())

	next := threeRowPlan()
	next.RunID = "other-run"
	doc := newFakeDoc(1)
	out, err := newTestRunner(store, doc).Receive(context.Background(), next)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBusy, out)

	kept, ok := store.Plan()
	require.True(t, ok)
	assert.Equal(t, first.RunID, kept.RunID)
	assert.Equal(t, 0, doc.clickCount())
	assert.True(t, store.Locked())
}

func TestReceive_NewPlanRestartsFromIdle(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	require.NoError(t, store.Reset(threeRowPlan()))
	require.NoError(t, store.SetPhase(PhaseError))
	require.NoError(t, store.SetMismatches([]Mismatch{{Row: 1}}))

	doc := newFakeDoc(1)
	out, err := newTestRunner(store, doc).Receive(context.Background(), threeRowPlan())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReloadPending, out)
	assert.Equal(t, 1, store.ClicksDone())
	assert.Empty(t, store.Mismatches())
}

func TestRun_ReadySignalSentOnce(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	require.NoError(t, store.Reset(threeRowPlan()))
	doc := newFakeDoc(1)

	var ready int
	for range 2 {
		r := newTestRunner(store, doc)
		r.OnReady(func() { ready++ })
		_, err := r.Run(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, ready)
}

func TestRun_ProgressBroadcasts(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	single := plan.FillPlan{RunID: "r", Dates: []string{"20260302"}, Hours: []string{"1.00"}, CategoryCodes: []string{"c"}}

	var msgs []string
	r := newTestRunner(store, newFakeDoc(1))
	r.OnProgress(func(p Progress) { msgs = append(msgs, p.Message) })

	_, err := r.Receive(context.Background(), single)
	require.NoError(t, err)
	assert.Contains(t, msgs, "Filling rows (1/1)")
	assert.Equal(t, "Done", msgs[len(msgs)-1])
}

func TestRun_CancelledBetweenRows(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	require.NoError(t, store.Reset(threeRowPlan()))
	require.NoError(t, store.SetClicksDone(2))

	ctx, cancel := context.WithCancel(context.Background())
	r := newTestRunner(store, newFakeDoc(3))
	r.OnProgress(func(p Progress) {
		if p.Message == "Filling rows (1/3)" {
			cancel()
		}
	})

	out, err := r.Run(ctx)
	assert.Equal(t, OutcomeInterrupted, out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseFilling, store.Phase(), "an interrupted run stays resumable")
	assert.False(t, store.Locked())
}

func TestDismiss(t *testing.T) {
	store := NewRunStore(NewMemoryKV(), 60, time.Minute, nil)
	require.NoError(t, store.Reset(threeRowPlan()))
	r := newTestRunner(store, newFakeDoc(1))

	require.NoError(t, store.Lock())
	assert.ErrorIs(t, r.Dismiss(), ErrRunInProgress)

	require.NoError(t, store.Unlock())
	require.NoError(t, r.Dismiss())
	_, ok := store.Plan()
	assert.False(t, ok)
}

func TestWaitFor(t *testing.T) {
	calls := 0
	err := waitFor(context.Background(), time.Second, time.Millisecond, func() bool {
		calls++
		return calls == 3
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	err = waitFor(context.Background(), 5*time.Millisecond, time.Millisecond, func() bool { return false })
	assert.ErrorIs(t, err, errWaitTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = waitFor(ctx, time.Second, time.Millisecond, func() bool { return false })
	assert.ErrorIs(t, err, context.Canceled)
}
