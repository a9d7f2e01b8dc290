package hl7v2

import (
	"fmt"
	"time"
)

// ADT trigger events understood by the reconciliation feed.
const (
	TriggerAdmit     = "A01"
	TriggerDischarge = "A03"
)

// Layouts ADT event times are rendered in for the reconciler. A zero fraction
// is omitted.
const (
	eventTimeLayout       = "2006-01-02T15:04:05.999999"
	eventTimeOffsetLayout = "2006-01-02T15:04:05.999999Z07:00"
)

// ADTEvent is the reconciliation-relevant slice of an ADT message.
type ADTEvent struct {
	ControlID    string
	Trigger      string
	PatientID    string
	Facility     string
	PatientClass string
	Complaint    *string
	EventTime    string
}

// ExtractADT pulls patient, visit and timing data out of an ADT message.
//
//	PatientID    PID-3.1
//	Facility     PV1-3.4, else MSH-4
//	PatientClass PV1-2
//	Complaint    PV2-3.2, else PV2-3.1
//	EventTime    EVN-6, else EVN-2, else MSH-7
func ExtractADT(msg *Message) (ADTEvent, error) {
	msh := msg.GetSegment("MSH")
	if code := msh.GetComponent(9, 1); code != "ADT" {
		return ADTEvent{}, fmt.Errorf("hl7v2: message %s is %q, not ADT", msg.ControlID, msg.Type)
	}

	pid := msg.GetSegment("PID")
	if pid == nil {
		return ADTEvent{}, fmt.Errorf("hl7v2: message %s has no PID segment", msg.ControlID)
	}
	pv1 := msg.GetSegment("PV1")
	if pv1 == nil {
		return ADTEvent{}, fmt.Errorf("hl7v2: message %s has no PV1 segment", msg.ControlID)
	}

	ev := ADTEvent{
		ControlID:    msg.ControlID,
		Trigger:      msg.Trigger(),
		PatientID:    pid.GetComponent(3, 1),
		Facility:     pv1.GetComponent(3, 4),
		PatientClass: pv1.GetComponent(2, 1),
	}
	if ev.Facility == "" {
		ev.Facility = msg.SendingFac
	}

	if pv2 := msg.GetSegment("PV2"); pv2 != nil {
		complaint := pv2.GetComponent(3, 2)
		if complaint == "" {
			complaint = pv2.GetComponent(3, 1)
		}
		if complaint != "" {
			ev.Complaint = &complaint
		}
	}

	at, err := eventTime(msg)
	if err != nil {
		return ADTEvent{}, fmt.Errorf("hl7v2: message %s: %w", msg.ControlID, err)
	}
	ev.EventTime = formatEventTime(at)
	return ev, nil
}

func eventTime(msg *Message) (time.Time, error) {
	evn := msg.GetSegment("EVN")
	for _, raw := range []string{evn.GetField(6), evn.GetField(2), msg.GetSegment("MSH").GetField(7)} {
		if raw == "" {
			continue
		}
		return ParseTimestamp(raw)
	}
	return time.Time{}, fmt.Errorf("no event time in EVN-6, EVN-2 or MSH-7")
}

// formatEventTime renders times parsed without an offset as naive local
// wall-clock values and keeps any explicit offset.
func formatEventTime(t time.Time) string {
	if t.Location() == time.UTC {
		return t.Format(eventTimeLayout)
	}
	return t.Format(eventTimeOffsetLayout)
}
