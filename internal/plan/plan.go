package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptyPlan        = errors.New("plan has no entries")
	ErrInconsistentPlan = errors.New("plan arrays are inconsistent")
)

// FillPlan is the positional description of what goes into the form. Row i
// is (Dates[i], Hours[i], CategoryCodes[i]).
type FillPlan struct {
	RunID         string   `json:"runId" jsonschema:"title=Run id,description=Correlation token for one run"`
	Dates         []string `json:"dates" jsonschema:"description=Form-native date tokens one per row"`
	Hours         []string `json:"hours" jsonschema:"description=Decimal hour strings one per row"`
	CategoryCodes []string `json:"categoryCodes" jsonschema:"description=Form category codes one per row"`
	TargetClicks  int      `json:"targetClicks" jsonschema:"minimum=0,description=Rows to create before filling"`
	DelayMs       int      `json:"delayMs" jsonschema:"minimum=0,description=Delay before each row-creation click"`
	FillDelayMs   int      `json:"fillDelayMs" jsonschema:"minimum=0,description=Delay between field writes"`
}

// Row is the expected content of one form row.
type Row struct {
	Date     string `json:"date"`
	Hours    string `json:"hours"`
	Category string `json:"category"`
}

func (r Row) String() string {
	return fmt.Sprintf("%s %sh %s", r.Date, r.Hours, r.Category)
}

func (p FillPlan) Len() int { return len(p.Dates) }

func (p FillPlan) Row(i int) Row {
	return Row{Date: p.Dates[i], Hours: p.Hours[i], Category: p.CategoryCodes[i]}
}

// Rows returns every row in plan order.
func (p FillPlan) Rows() []Row {
	rows := make([]Row, p.Len())
	for i := range rows {
		rows[i] = p.Row(i)
	}
	return rows
}

// Validate checks the structural invariants a runner relies on.
func (p FillPlan) Validate() error {
	n := len(p.Dates)
	if n == 0 {
		return ErrEmptyPlan
	}
	if len(p.Hours) != n || len(p.CategoryCodes) != n {
		return fmt.Errorf("%w: %d dates, %d hours, %d category codes",
			ErrInconsistentPlan, n, len(p.Hours), len(p.CategoryCodes))
	}
	if p.TargetClicks != n-1 {
		return fmt.Errorf("%w: targetClicks %d for %d rows", ErrInconsistentPlan, p.TargetClicks, n)
	}
	if p.DelayMs < 0 || p.FillDelayMs < 0 {
		return fmt.Errorf("%w: negative delay", ErrInconsistentPlan)
	}
	return nil
}

func (p FillPlan) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// Decode parses and validates a serialized plan.
func Decode(data []byte) (FillPlan, error) {
	var p FillPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return FillPlan{}, fmt.Errorf("decoding plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return FillPlan{}, err
	}
	return p, nil
}

// FormatHours renders hours with two decimals and a "." separator.
func FormatHours(h float64) string {
	s := strconv.FormatFloat(h, 'f', 2, 64)
	return strings.ReplaceAll(s, ",", ".")
}

// NormalizeHours brings a value read back from the form to the same
// convention as FormatHours so the two compare as strings.
func NormalizeHours(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return FormatHours(v)
	}
	return s
}
