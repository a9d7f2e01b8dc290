package encounter

import (
	"context"
	"fmt"

	"github.com/ehr/reconciler/internal/platform/hl7v2"
)

// EventsFromHL7 converts parsed ADT messages into events, in message order.
// A01 is an admission and A03 a discharge; any other message is rejected.
func EventsFromHL7(msgs []*hl7v2.Message) ([]Event, error) {
	events := make([]Event, 0, len(msgs))
	for i, msg := range msgs {
		adt, err := hl7v2.ExtractADT(msg)
		if err != nil {
			return nil, &ValidationError{Index: i, Msg: err.Error()}
		}
		ev, err := eventFromADT(i, adt)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func eventFromADT(index int, adt hl7v2.ADTEvent) (Event, error) {
	var typ EventType
	switch adt.Trigger {
	case hl7v2.TriggerAdmit:
		typ = Admission
	case hl7v2.TriggerDischarge:
		typ = Discharge
	default:
		return Event{}, &ValidationError{Index: index, Field: "MSH-9",
			Msg: fmt.Sprintf("unsupported ADT trigger %q in message %s", adt.Trigger, adt.ControlID)}
	}
	if adt.PatientID == "" {
		return Event{}, &ValidationError{Index: index, Field: "PID-3", Msg: "is required"}
	}
	if adt.Facility == "" {
		return Event{}, &ValidationError{Index: index, Field: "PV1-3", Msg: "facility is required"}
	}

	ts, err := ParseTimestamp(adt.EventTime)
	if err != nil {
		return Event{}, &ValidationError{Index: index, Field: "EVN-6", Msg: err.Error()}
	}

	return Event{
		PatientIdentifier: adt.PatientID,
		Facility:          adt.Facility,
		Type:              typ,
		Time:              ts,
		PatientComplaint:  adt.Complaint,
		PatientClass:      adt.PatientClass,
	}, nil
}

// FrameHandler returns an MLLP frame handler that reconciles the messages of
// each frame as one independent batch.
func (s *Service) FrameHandler() hl7v2.FrameHandler {
	return func(ctx context.Context, msgs []*hl7v2.Message) error {
		events, err := EventsFromHL7(msgs)
		if err != nil {
			return err
		}
		_, err = s.Reconcile(ctx, events)
		return err
	}
}
