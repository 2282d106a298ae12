package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	ical "github.com/emersion/go-ical"

	"github.com/christopherklint97/shiftfill/internal/shifts"
)

// Source reads shifts from an iCalendar feed (URL or file path). It stands
// in for the scheduling API when the schedule is published as ICS.
type Source struct {
	location   string
	floatingTZ *time.Location
	httpClient *http.Client
}

// NewSource creates an ICS source. Floating (zone-less) times are read in loc.
func NewSource(location string, loc *time.Location) *Source {
	if loc == nil {
		loc = time.UTC
	}
	return &Source{
		location:   location,
		floatingTZ: loc,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchShifts ignores email: an ICS feed is already personal.
func (s *Source) FetchShifts(ctx context.Context, _ string) ([]shifts.RawShift, error) {
	r, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := Parse(r, s.floatingTZ)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, shifts.ErrNoShifts
	}
	return out, nil
}

func (s *Source) open(ctx context.Context) (io.ReadCloser, error) {
	if strings.HasPrefix(s.location, "http://") || strings.HasPrefix(s.location, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.location, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: fetching calendar: %v", shifts.ErrUnreachable, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, &shifts.APIError{Status: resp.StatusCode, Message: "calendar fetch failed"}
		}
		return resp.Body, nil
	}

	f, err := os.Open(s.location)
	if err != nil {
		return nil, fmt.Errorf("opening calendar file: %w", err)
	}
	return f, nil
}

// Parse decodes every VEVENT with a start and an end into a RawShift.
func Parse(r io.Reader, floating *time.Location) ([]shifts.RawShift, error) {
	dec := ical.NewDecoder(r)
	var out []shifts.RawShift

	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing calendar: %w", err)
		}

		for _, component := range cal.Children {
			if component.Name != ical.CompEvent {
				continue
			}
			event := ical.Event{Component: component}

			start, err := event.DateTimeStart(floating)
			if err != nil {
				continue // skip malformed events
			}
			end, err := event.DateTimeEnd(floating)
			if err != nil {
				continue
			}
			if end.Before(start) {
				continue
			}

			uid, _ := event.Props.Text(ical.PropUID)
			summary, _ := event.Props.Text(ical.PropSummary)
			description, _ := event.Props.Text(ical.PropDescription)

			out = append(out, shifts.RawShift{
				ID:          uid,
				DisplayName: summary,
				Notes:       description,
				Start:       start.UTC(),
				End:         end.UTC(),
			})
		}
	}

	return out, nil
}
