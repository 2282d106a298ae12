package timesheet

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPeriod(t *testing.T) {
	p, err := NewPeriod(2026, 3)
	require.NoError(t, err)
	assert.Equal(t, "2026-03", p.String())

	for _, tc := range []struct{ y, m int }{{2026, 0}, {2026, 13}, {0, 5}} {
		_, err := NewPeriod(tc.y, tc.m)
		assert.ErrorIs(t, err, ErrInvalidPeriod)
	}

	_, err = NewPeriod(2026, 13)
	assert.ErrorContains(t, err, "Invalid month/year: 2026-13")
}

func TestFilter(t *testing.T) {
	entries := []Entry{
		{Segment: seg(28, WeekdayPre, 1, "feb", "")},
		{Segment: seg(2, WeekdayPre, 1, "mar", "")},
	}
	entries[0].StartDate = civil.Date{Year: 2026, Month: 2, Day: 28}

	got := Filter(entries, Period{Year: 2026, Month: time.March})
	require.Len(t, got, 1)
	assert.Equal(t, "mar", got[0].Title)

	assert.Empty(t, Filter(entries, Period{Year: 2025, Month: time.March}))
}

func TestCurrentPeriod(t *testing.T) {
	loc := stockholm(t)
	// 23:30 UTC on Jan 31 is already February in Stockholm
	now := time.Date(2026, 1, 31, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, Period{Year: 2026, Month: time.February}, CurrentPeriod(now, loc))
	assert.Equal(t, Period{Year: 2026, Month: time.January}, CurrentPeriod(now, time.UTC))
}

func TestParsePeriod(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	p, err := ParsePeriod("2026-02", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, Period{Year: 2026, Month: time.February}, p)

	p, err = ParsePeriod("2025/11", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, Period{Year: 2025, Month: time.November}, p)

	p, err = ParsePeriod("", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, Period{Year: 2026, Month: time.March}, p)

	p, err = ParsePeriod("last month", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, Period{Year: 2026, Month: time.February}, p)

	_, err = ParsePeriod("2026-14", now, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}
