package timesheet

import (
	"fmt"
	"iter"
	"math"
	"time"

	"cloud.google.com/go/civil"

	"github.com/christopherklint97/shiftfill/internal/shifts"
)

// Segment is one contiguous block of worked time that stays inside a single
// local calendar day and a single side of the split hour.
type Segment struct {
	Title       string      `json:"title"`
	StartDate   civil.Date  `json:"startDate"`
	EndDate     civil.Date  `json:"endDate"`
	StartTime   *civil.Time `json:"startTime"`
	EndTime     *civil.Time `json:"endTime"`
	WorkedHours float64     `json:"workedHours"`
	Category    Category    `json:"category"`
	IsSplit     bool        `json:"isSplit"`
	SourceKey   string      `json:"sourceKey"`
}

// Normalizer converts raw UTC shifts into local segments.
type Normalizer struct {
	Location  *time.Location
	SplitHour int
	// Split disables the hour boundary when false; midnight still applies.
	Split bool
}

func NewNormalizer(loc *time.Location, splitHour int, split bool) Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return Normalizer{Location: loc, SplitHour: splitHour, Split: split}
}

type span struct {
	start, end time.Time
	post       bool
}

// walk yields the [start, end) slices of s in local time. A shift whose end
// is not after its start yields one empty slice at the start instant.
func (n Normalizer) walk(s shifts.RawShift, yield func(span) bool) {
	start := s.Start.In(n.Location)
	end := s.End.In(n.Location)
	if !end.After(start) {
		yield(span{start: start, end: start, post: n.isPost(start)})
		return
	}

	for cursor := start; cursor.Before(end); {
		boundary := n.nextBoundary(cursor)
		if boundary.After(end) {
			boundary = end
		}
		if !yield(span{start: cursor, end: boundary, post: n.isPost(cursor)}) {
			return
		}
		cursor = boundary
	}
}

func (n Normalizer) nextBoundary(t time.Time) time.Time {
	y, m, d := t.Date()
	if n.Split {
		split := time.Date(y, m, d, n.SplitHour, 0, 0, 0, n.Location)
		if split.After(t) {
			return split
		}
	}
	return time.Date(y, m, d+1, 0, 0, 0, 0, n.Location)
}

func (n Normalizer) isPost(t time.Time) bool {
	return n.Split && t.Hour() >= n.SplitHour
}

// Segments lazily yields the segments of one shift in time order.
func (n Normalizer) Segments(s shifts.RawShift) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		var sawPre, sawPost bool
		n.walk(s, func(sp span) bool {
			if sp.post {
				sawPost = true
			} else {
				sawPre = true
			}
			return true
		})
		split := sawPre && sawPost

		title := s.Title()
		key := shiftKey(s)
		idx := 0
		n.walk(s, func(sp span) bool {
			startTime := civil.TimeOf(sp.start)
			endTime := civil.TimeOf(sp.end)
			seg := Segment{
				Title:       title,
				StartDate:   civil.DateOf(sp.start),
				EndDate:     civil.DateOf(sp.end),
				StartTime:   &startTime,
				EndTime:     &endTime,
				WorkedHours: round2(sp.end.Sub(sp.start).Hours()),
				Category:    CategoryOf(isWeekend(sp.start), sp.post),
				IsSplit:     split,
				SourceKey:   fmt.Sprintf("%s#%d", key, idx),
			}
			idx++
			return yield(seg)
		})
	}
}

// Normalize collects the segments of every shift, in input order.
func (n Normalizer) Normalize(raw []shifts.RawShift) []Segment {
	var out []Segment
	for _, s := range raw {
		for seg := range n.Segments(s) {
			out = append(out, seg)
		}
	}
	return out
}

func shiftKey(s shifts.RawShift) string {
	if s.ID != "" {
		return s.ID
	}
	return s.Start.UTC().Format(time.RFC3339) + "/" + s.End.UTC().Format(time.RFC3339)
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
