package shifts

import (
	"strings"
	"time"
)

// RawShift is one worked shift as delivered by the scheduling source.
// Start and End are UTC instants.
type RawShift struct {
	ID          string
	UserID      string
	DisplayName string
	Notes       string
	Start       time.Time
	End         time.Time
}

// Title is the trimmed notes, falling back to the trimmed display name.
func (s RawShift) Title() string {
	if n := strings.TrimSpace(s.Notes); n != "" {
		return n
	}
	return strings.TrimSpace(s.DisplayName)
}

// GraphShift mirrors a Microsoft Graph schedule shift, which is also the
// element type of the shifts server payload.
type GraphShift struct {
	ID                  string      `json:"id"`
	UserID              string      `json:"userId"`
	IsStagedForDeletion bool        `json:"isStagedForDeletion"`
	SharedShift         SharedShift `json:"sharedShift"`
}

type SharedShift struct {
	DisplayName   string    `json:"displayName"`
	Notes         string    `json:"notes"`
	StartDateTime time.Time `json:"startDateTime"`
	EndDateTime   time.Time `json:"endDateTime"`
}

// Raw converts the wire shift to a RawShift.
func (g GraphShift) Raw() RawShift {
	return RawShift{
		ID:          g.ID,
		UserID:      g.UserID,
		DisplayName: g.SharedShift.DisplayName,
		Notes:       g.SharedShift.Notes,
		Start:       g.SharedShift.StartDateTime.UTC(),
		End:         g.SharedShift.EndDateTime.UTC(),
	}
}

// ScheduleResponse is the body of POST /shifts/me.
type ScheduleResponse struct {
	Filtered bool         `json:"filtered"`
	Email    string       `json:"email"`
	UserID   string       `json:"userId"`
	Count    int          `json:"count"`
	Shifts   []GraphShift `json:"shifts"`
}

type scheduleRequest struct {
	Email  string `json:"email,omitempty"`
	APIKey string `json:"apiKey,omitempty"`
}

// Health is the result of a HEALTH_CHECK.
type Health struct {
	OK      bool   `json:"ok"`
	BaseURL string `json:"baseUrl"`
	Message string `json:"message"`
}

// FilterPersonal keeps shifts belonging to userID that are not staged for
// deletion. An empty userID only drops staged shifts.
func FilterPersonal(in []GraphShift, userID string) []RawShift {
	out := make([]RawShift, 0, len(in))
	for _, g := range in {
		if g.IsStagedForDeletion {
			continue
		}
		if userID != "" && g.UserID != userID {
			continue
		}
		out = append(out, g.Raw())
	}
	return out
}
