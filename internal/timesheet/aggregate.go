package timesheet

import (
	"cmp"
	"slices"
	"strings"

	"cloud.google.com/go/civil"
)

// TitleSeparator joins distinct titles of a collapsed entry.
const TitleSeparator = " + "

// Entry is a segment, or the merge of every segment sharing its (date,
// category). Sources is only set for merged entries.
type Entry struct {
	Segment
	Sources []Segment `json:"sources,omitempty"`
}

// Date is the local day the entry is billed on.
func (e Entry) Date() civil.Date { return e.StartDate }

// Collapsed reports whether the entry merges more than one segment.
func (e Entry) Collapsed() bool { return len(e.Sources) > 1 }

type groupKey struct {
	date     civil.Date
	category Category
}

// Aggregate partitions segments by (date, category). Groups keep the order
// in which their key first appeared; the result is then sorted by
// (date, category). Hours of a merged group are rounded once, on the sum.
func Aggregate(segments []Segment) []Entry {
	var order []groupKey
	groups := make(map[groupKey][]Segment)
	for _, seg := range segments {
		k := groupKey{date: seg.StartDate, category: seg.Category}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], seg)
	}

	out := make([]Entry, 0, len(order))
	for _, k := range order {
		out = append(out, merge(k, groups[k]))
	}
	SortEntries(out)
	return out
}

// Reaggregate runs entries back through Aggregate, expanding merged entries
// into their sources first so repeated calls are stable.
func Reaggregate(entries []Entry) []Entry {
	var segs []Segment
	for _, e := range entries {
		if e.Collapsed() {
			segs = append(segs, e.Sources...)
			continue
		}
		segs = append(segs, e.Segment)
	}
	return Aggregate(segs)
}

func merge(k groupKey, group []Segment) Entry {
	if len(group) == 1 {
		return Entry{Segment: group[0]}
	}

	var (
		titles []string
		keys   []string
		sum    float64
		split  bool
	)
	for _, seg := range group {
		if t := strings.TrimSpace(seg.Title); t != "" && !slices.Contains(titles, t) {
			titles = append(titles, t)
		}
		keys = append(keys, seg.SourceKey)
		sum += seg.WorkedHours
		split = split || seg.IsSplit
	}

	return Entry{
		Segment: Segment{
			Title:       strings.Join(titles, TitleSeparator),
			StartDate:   k.date,
			EndDate:     k.date,
			WorkedHours: round2(sum),
			Category:    k.category,
			IsSplit:     split,
			SourceKey:   strings.Join(keys, ","),
		},
		Sources: slices.Clone(group),
	}
}

// SortEntries orders entries by (date, category), keeping the relative order
// of equal keys.
func SortEntries(entries []Entry) {
	slices.SortStableFunc(entries, CompareEntries)
}

func CompareEntries(a, b Entry) int {
	switch {
	case a.StartDate.Before(b.StartDate):
		return -1
	case a.StartDate.After(b.StartDate):
		return 1
	}
	return cmp.Compare(a.Category, b.Category)
}
