package timesheet

import "fmt"

// Category classifies worked time by day type and by which side of the
// split hour it falls on.
type Category int

const (
	WeekdayPre Category = iota
	WeekdayPost
	WeekendPre
	WeekendPost
)

var categoryNames = [...]string{
	WeekdayPre:  "weekday-pre",
	WeekdayPost: "weekday-post",
	WeekendPre:  "weekend-pre",
	WeekendPost: "weekend-post",
}

// Categories lists every category in sort order.
func Categories() []Category {
	return []Category{WeekdayPre, WeekdayPost, WeekendPre, WeekendPost}
}

func CategoryOf(weekend, post bool) Category {
	switch {
	case weekend && post:
		return WeekendPost
	case weekend:
		return WeekendPre
	case post:
		return WeekdayPost
	default:
		return WeekdayPre
	}
}

func (c Category) Weekend() bool { return c == WeekendPre || c == WeekendPost }
func (c Category) Post() bool { return c == WeekdayPost || c == WeekendPost }

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

func ParseCategory(s string) (Category, error) {
	for i, name := range categoryNames {
		if name == s {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
