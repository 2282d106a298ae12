package timesheet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	naturaldate "github.com/tj/go-naturaldate"
)

var ErrInvalidPeriod = errors.New("invalid period")

// Period is one calendar month.
type Period struct {
	Year  int
	Month time.Month
}

// NewPeriod validates year and month before building a Period.
func NewPeriod(year, month int) (Period, error) {
	p := Period{Year: year, Month: time.Month(month)}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

func (p Period) Validate() error {
	if p.Year < 1 || p.Year > 9999 || p.Month < time.January || p.Month > time.December {
		return fmt.Errorf("%w: Invalid month/year: %d-%d", ErrInvalidPeriod, p.Year, int(p.Month))
	}
	return nil
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

func (p Period) Contains(d civil.Date) bool {
	return d.Year == p.Year && d.Month == p.Month
}

// CurrentPeriod returns the month that now falls in, in loc.
func CurrentPeriod(now time.Time, loc *time.Location) Period {
	if loc != nil {
		now = now.In(loc)
	}
	return Period{Year: now.Year(), Month: now.Month()}
}

// ParsePeriod accepts "YYYY-MM", "YYYY/MM" or a natural-language reference
// such as "last month", resolved against now in loc. Empty means the current
// month.
func ParsePeriod(s string, now time.Time, loc *time.Location) (Period, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CurrentPeriod(now, loc), nil
	}

	if y, m, ok := splitYearMonth(s); ok {
		return NewPeriod(y, m)
	}

	if loc != nil {
		now = now.In(loc)
	}
	t, err := naturaldate.Parse(s, now, naturaldate.WithDirection(naturaldate.Past))
	if err != nil {
		return Period{}, fmt.Errorf("%w: cannot parse %q: %v", ErrInvalidPeriod, s, err)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

func splitYearMonth(s string) (int, int, bool) {
	sep := strings.IndexAny(s, "-/")
	if sep < 0 {
		return 0, 0, false
	}
	y, err := strconv.Atoi(s[:sep])
	if err != nil {
		return 0, 0, false
	}
	m, err := strconv.Atoi(s[sep+1:])
	if err != nil {
		return 0, 0, false
	}
	return y, m, true
}

// Filter keeps the entries billed within p.
func Filter(entries []Entry, p Period) []Entry {
	var out []Entry
	for _, e := range entries {
		if p.Contains(e.Date()) {
			out = append(out, e)
		}
	}
	return out
}
