package encounter

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType classifies an ADT notification.
type EventType int

const (
	EventTypeUnknown EventType = iota
	Admission
	Discharge
)

func (t EventType) String() string {
	switch t {
	case Admission:
		return "Admission"
	case Discharge:
		return "Discharge"
	default:
		return "Unknown"
	}
}

// ParseEventType maps the EVENT_TYPE wire value to an EventType. Matching is
// exact, as in the upstream feed.
func ParseEventType(s string) (EventType, error) {
	switch s {
	case "Admission":
		return Admission, nil
	case "Discharge":
		return Discharge, nil
	default:
		return EventTypeUnknown, fmt.Errorf("must be %q or %q, got %q", "Admission", "Discharge", s)
	}
}

// Timestamp keeps an event time exactly as it was received next to the
// parsed instant. Output echoes Raw; arithmetic uses Time.
type Timestamp struct {
	Raw  string
	Time time.Time
}

// MarshalJSON renders the timestamp as the string it was received as.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Raw)
}

// Event is a single admission or discharge notification.
type Event struct {
	PatientIdentifier string
	Facility          string
	Type              EventType
	Time              Timestamp
	PatientComplaint  *string
	PatientClass      string
}

// Encounter is one reconciled stay. Field names double as the JSON keys
// expected by downstream consumers.
type Encounter struct {
	PatientIdentifier  string        `json:"PatientIdentifier"`
	Facility           string        `json:"Facility"`
	PatientComplaint   *string       `json:"PatientComplaint"`
	EncounterClass     string        `json:"EncounterClass"`
	EncounterBeginTime *Timestamp    `json:"EncounterBeginTime"`
	EncounterEndTime   *Timestamp    `json:"EncounterEndTime"`
	LengthOfStay       *LengthOfStay `json:"LengthOfStay"`
}

// IsOpen reports whether exactly one side of the stay is known.
func (e *Encounter) IsOpen() bool {
	return (e.EncounterBeginTime == nil) != (e.EncounterEndTime == nil)
}

// IsClosed reports whether both admission and discharge are recorded.
func (e *Encounter) IsClosed() bool {
	return e.EncounterBeginTime != nil && e.EncounterEndTime != nil
}

// LengthOfStay is the time between admission and discharge.
type LengthOfStay time.Duration

// Duration returns the length of stay as a time.Duration.
func (l LengthOfStay) Duration() time.Duration { return time.Duration(l) }

// String formats the duration as "[D day[s], ]H:MM:SS[.ffffff]", the format
// analytics consumers already parse. Resolution is one microsecond.
func (l LengthOfStay) String() string {
	const dayMicros = int64(24 * time.Hour / time.Microsecond)

	us := time.Duration(l).Microseconds()
	days := us / dayMicros
	rem := us % dayMicros
	if rem < 0 {
		rem += dayMicros
		days--
	}

	secs := rem / 1_000_000
	micros := rem % 1_000_000
	clock := fmt.Sprintf("%d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
	if micros != 0 {
		clock += fmt.Sprintf(".%06d", micros)
	}

	if days == 0 {
		return clock
	}
	unit := "days"
	if days == 1 || days == -1 {
		unit = "day"
	}
	return fmt.Sprintf("%d %s, %s", days, unit, clock)
}

// MarshalJSON renders the duration in its String form.
func (l LengthOfStay) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// Stats summarises one reconciliation pass.
type Stats struct {
	Events     int `json:"events"`
	Encounters int `json:"encounters"`
	Merged     int `json:"merged"`
	Split      int `json:"split"`
	Open       int `json:"open"`
	Closed     int `json:"closed"`

	// SplitReasons explains each rejected merge, in input order.
	SplitReasons []string `json:"split_reasons,omitempty"`
}
