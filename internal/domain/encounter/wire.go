package encounter

import (
	"fmt"
)

// EventRecord is the wire shape of an inbound event. Pointer fields let the
// boundary tell a missing key from an empty value.
type EventRecord struct {
	PatientIdentifier *string `json:"PATIENT_IDENTIFIER"`
	Facility          *string `json:"FACILITY"`
	PatientComplaint  *string `json:"PATIENT_COMPLAINT"`
	PatientClass      *string `json:"PATIENT_CLASS"`
	EventType         *string `json:"EVENT_TYPE"`
	EventTime         *string `json:"EVENT_TIME"`
}

// ProcessRequest is the body accepted by POST /process.
type ProcessRequest struct {
	Elements []EventRecord `json:"elements"`
}

// ProcessResponse is the body returned by the reconciliation endpoints.
type ProcessResponse struct {
	Elements []Encounter `json:"elements"`
}

// NewProcessResponse wraps encounters, rendering an empty result as [].
func NewProcessResponse(encs []Encounter) ProcessResponse {
	if encs == nil {
		encs = []Encounter{}
	}
	return ProcessResponse{Elements: encs}
}

// ValidationError reports malformed input. Index is the position of the
// offending element, or -1 when the error is not tied to one element.
type ValidationError struct {
	Index int
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Index >= 0 && e.Field != "":
		return fmt.Sprintf("elements[%d].%s: %s", e.Index, e.Field, e.Msg)
	case e.Index >= 0:
		return fmt.Sprintf("elements[%d]: %s", e.Index, e.Msg)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	default:
		return e.Msg
	}
}

// Events validates every record and converts them in order. The first
// invalid record aborts the whole request.
func (r *ProcessRequest) Events() ([]Event, error) {
	if r.Elements == nil {
		return nil, &ValidationError{Index: -1, Field: "elements", Msg: "is required"}
	}
	events := make([]Event, 0, len(r.Elements))
	for i, rec := range r.Elements {
		ev, err := rec.toEvent(i)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (rec EventRecord) toEvent(index int) (Event, error) {
	missing := func(field string) error {
		return &ValidationError{Index: index, Field: field, Msg: "is required"}
	}

	if rec.PatientIdentifier == nil || *rec.PatientIdentifier == "" {
		return Event{}, missing("PATIENT_IDENTIFIER")
	}
	if rec.Facility == nil || *rec.Facility == "" {
		return Event{}, missing("FACILITY")
	}
	if rec.PatientClass == nil {
		return Event{}, missing("PATIENT_CLASS")
	}
	if rec.EventType == nil {
		return Event{}, missing("EVENT_TYPE")
	}
	if rec.EventTime == nil {
		return Event{}, missing("EVENT_TIME")
	}

	typ, err := ParseEventType(*rec.EventType)
	if err != nil {
		return Event{}, &ValidationError{Index: index, Field: "EVENT_TYPE", Msg: err.Error()}
	}
	ts, err := ParseTimestamp(*rec.EventTime)
	if err != nil {
		return Event{}, &ValidationError{Index: index, Field: "EVENT_TIME", Msg: err.Error()}
	}

	return Event{
		PatientIdentifier: *rec.PatientIdentifier,
		Facility:          *rec.Facility,
		Type:              typ,
		Time:              ts,
		PatientComplaint:  rec.PatientComplaint,
		PatientClass:      *rec.PatientClass,
	}, nil
}
