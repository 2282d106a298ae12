package timesheet

import (
	"slices"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christopherklint97/shiftfill/internal/shifts"
)

func stockholm(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Stockholm")
	require.NoError(t, err)
	return loc
}

func localShift(loc *time.Location, id, title string, start, end time.Time) shifts.RawShift {
	return shifts.RawShift{
		ID:    id,
		Notes: title,
		Start: start.In(loc).UTC(),
		End:   end.In(loc).UTC(),
	}
}

func ct(h, m int) *civil.Time {
	return &civil.Time{Hour: h, Minute: m}
}

func TestSegments_SplitAtBoundaryHour(t *testing.T) {
	loc := stockholm(t)
	n := NewNormalizer(loc, 19, true)
	s := localShift(loc, "s1", "OR:TEK",
		time.Date(2026, 2, 24, 8, 0, 0, 0, loc),
		time.Date(2026, 2, 24, 20, 0, 0, 0, loc))

	got := slices.Collect(n.Segments(s))
	require.Len(t, got, 2)

	a, b := got[0], got[1]
	assert.Equal(t, civil.Date{Year: 2026, Month: 2, Day: 24}, a.StartDate)
	assert.Equal(t, ct(8, 0), a.StartTime)
	assert.Equal(t, ct(19, 0), a.EndTime)
	assert.Equal(t, 11.0, a.WorkedHours)
	assert.Equal(t, WeekdayPre, a.Category)
	assert.True(t, a.IsSplit)
	assert.Equal(t, "s1#0", a.SourceKey)

	assert.Equal(t, ct(19, 0), b.StartTime)
	assert.Equal(t, ct(20, 0), b.EndTime)
	assert.Equal(t, 1.0, b.WorkedHours)
	assert.Equal(t, WeekdayPost, b.Category)
	assert.True(t, b.IsSplit)
	assert.Equal(t, "s1#1", b.SourceKey)
	assert.Equal(t, "OR:TEK", b.Title)
}

func TestSegments_SingleSide(t *testing.T) {
	loc := stockholm(t)
	n := NewNormalizer(loc, 19, true)
	s := localShift(loc, "s1", "Dag",
		time.Date(2026, 3, 2, 8, 0, 0, 0, loc),
		time.Date(2026, 3, 2, 12, 30, 0, 0, loc))

	got := slices.Collect(n.Segments(s))
	require.Len(t, got, 1)
	assert.Equal(t, ct(8, 0), got[0].StartTime)
	assert.Equal(t, ct(12, 30), got[0].EndTime)
	assert.Equal(t, 4.5, got[0].WorkedHours)
	assert.False(t, got[0].IsSplit)
}

func TestSegments_EndingOnBoundaryHasNoTrailingSegment(t *testing.T) {
	loc := stockholm(t)
	n := NewNormalizer(loc, 19, true)

	s := localShift(loc, "s1", "",
		time.Date(2026, 3, 2, 8, 0, 0, 0, loc),
		time.Date(2026, 3, 2, 19, 0, 0, 0, loc))
	got := slices.Collect(n.Segments(s))
	require.Len(t, got, 1)
	assert.Equal(t, 11.0, got[0].WorkedHours)
	assert.False(t, got[0].IsSplit)

	s = localShift(loc, "s2", "",
		time.Date(2026, 3, 2, 20, 0, 0, 0, loc),
		time.Date(2026, 3, 3, 0, 0, 0, 0, loc))
	got = slices.Collect(n.Segments(s))
	require.Len(t, got, 1)
	assert.Equal(t, WeekdayPost, got[0].Category)
	assert.Equal(t, 4.0, got[0].WorkedHours)
}

func TestSegments_ZeroLength(t *testing.T) {
	loc := stockholm(t)
	n := NewNormalizer(loc, 19, true)
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, loc)

	got := slices.Collect(n.Segments(localShift(loc, "z", "", at, at)))
	require.Len(t, got, 1)
	assert.Equal(t, 0.0, got[0].WorkedHours)
	assert.Equal(t, got[0].StartTime, got[0].EndTime)
	assert.Equal(t, WeekdayPre, got[0].Category)
}

func TestSegments_OvernightWeekendFlagPerSegment(t *testing.T) {
	loc := stockholm(t)
	n := NewNormalizer(loc, 19, true)
	// Friday 22:00 to Saturday 02:00
	s := localShift(loc, "night", "Natt",
		time.Date(2026, 2, 27, 22, 0, 0, 0, loc),
		time.Date(2026, 2, 28, 2, 0, 0, 0, loc))

	got := slices.Collect(n.Segments(s))
	require.Len(t, got, 2)
	assert.Equal(t, WeekdayPost, got[0].Category)
	assert.Equal(t, civil.Date{Year: 2026, Month: 2, Day: 27}, got[0].StartDate)
	assert.Equal(t, civil.Date{Year: 2026, Month: 2, Day: 28}, got[0].EndDate)
	assert.Equal(t, 2.0, got[0].WorkedHours)

	assert.Equal(t, WeekendPre, got[1].Category)
	assert.Equal(t, civil.Date{Year: 2026, Month: 2, Day: 28}, got[1].StartDate)
	assert.Equal(t, 2.0, got[1].WorkedHours)
	assert.True(t, got[1].IsSplit)
}

func TestSegments_SplitDisabledStillCutsAtMidnight(t *testing.T) {
	loc := stockholm(t)
	n := NewNormalizer(loc, 19, false)
	s := localShift(loc, "s", "",
		time.Date(2026, 3, 2, 8, 0, 0, 0, loc),
		time.Date(2026, 3, 3, 1, 0, 0, 0, loc))

	got := slices.Collect(n.Segments(s))
	require.Len(t, got, 2)
	assert.Equal(t, 16.0, got[0].WorkedHours)
	assert.Equal(t, WeekdayPre, got[0].Category)
	assert.Equal(t, 1.0, got[1].WorkedHours)
	assert.False(t, got[0].IsSplit)
}

func TestSegments_DaylightSavingGap(t *testing.T) {
	loc := stockholm(t)
	n := NewNormalizer(loc, 19, true)
	// clocks jump from 02:00 to 03:00 on 2026-03-29
	s := localShift(loc, "dst", "",
		time.Date(2026, 3, 29, 0, 0, 0, 0, loc),
		time.Date(2026, 3, 29, 6, 0, 0, 0, loc))

	got := slices.Collect(n.Segments(s))
	require.Len(t, got, 1)
	assert.Equal(t, 5.0, got[0].WorkedHours)
	assert.Equal(t, WeekendPre, got[0].Category)
}

func TestSegments_ReconstructOriginalRange(t *testing.T) {
	loc := stockholm(t)
	n := NewNormalizer(loc, 19, true)
	cases := []shifts.RawShift{
		localShift(loc, "a", "", time.Date(2026, 2, 24, 8, 0, 0, 0, loc), time.Date(2026, 2, 24, 20, 0, 0, 0, loc)),
		localShift(loc, "b", "", time.Date(2026, 2, 27, 17, 15, 0, 0, loc), time.Date(2026, 3, 1, 9, 45, 0, 0, loc)),
		localShift(loc, "c", "", time.Date(2026, 3, 2, 19, 0, 0, 0, loc), time.Date(2026, 3, 2, 23, 0, 0, 0, loc)),
	}

	for _, s := range cases {
		t.Run(s.ID, func(t *testing.T) {
			var total float64
			var prevEnd time.Time
			for seg := range n.Segments(s) {
				start := time.Date(seg.StartDate.Year, seg.StartDate.Month, seg.StartDate.Day,
					seg.StartTime.Hour, seg.StartTime.Minute, 0, 0, loc)
				end := time.Date(seg.EndDate.Year, seg.EndDate.Month, seg.EndDate.Day,
					seg.EndTime.Hour, seg.EndTime.Minute, 0, 0, loc)
				if prevEnd.IsZero() {
					assert.True(t, start.Equal(s.Start))
				} else {
					assert.True(t, start.Equal(prevEnd), "segments must be contiguous")
				}
				prevEnd = end
				total += seg.WorkedHours
			}
			assert.True(t, prevEnd.Equal(s.End))
			assert.InDelta(t, s.End.Sub(s.Start).Hours(), total, 0.001)
		})
	}
}

func TestSegments_EarlyStop(t *testing.T) {
	loc := stockholm(t)
	n := NewNormalizer(loc, 19, true)
	s := localShift(loc, "long", "",
		time.Date(2026, 3, 2, 8, 0, 0, 0, loc),
		time.Date(2026, 3, 5, 8, 0, 0, 0, loc))

	count := 0
	for range n.Segments(s) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestCategoryText(t *testing.T) {
	for _, c := range Categories() {
		b, err := c.MarshalText()
		require.NoError(t, err)
		var back Category
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, c, back)
	}
	assert.Equal(t, "weekend-post", CategoryOf(true, true).String())
	_, err := ParseCategory("holiday")
	assert.Error(t, err)
}
