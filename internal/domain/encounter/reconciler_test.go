package encounter

import (
	"encoding/json"
	"testing"
	"time"
)

func event(t *testing.T, patient, facility string, typ EventType, at, class string) Event {
	t.Helper()
	ts, err := ParseTimestamp(at)
	if err != nil {
		t.Fatalf("bad test timestamp %q: %v", at, err)
	}
	return Event{
		PatientIdentifier: patient,
		Facility:          facility,
		Type:              typ,
		Time:              ts,
		PatientClass:      class,
	}
}

func TestReconcile_ConcreteScenario(t *testing.T) {
	encs := Reconcile([]Event{
		event(t, "P1", "F1", Admission, "2024-01-01T00:00:00", "I"),
		event(t, "P1", "F1", Discharge, "2024-01-02T00:00:00", "I"),
	})

	if len(encs) != 1 {
		t.Fatalf("expected 1 encounter, got %d", len(encs))
	}
	out, err := json.Marshal(encs[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want := map[string]interface{}{
		"PatientIdentifier":  "P1",
		"Facility":           "F1",
		"EncounterBeginTime": "2024-01-01T00:00:00",
		"EncounterEndTime":   "2024-01-02T00:00:00",
		"LengthOfStay":       "1 day, 0:00:00",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: got %v, want %v", k, got[k], v)
		}
	}
}

func TestReconcile_PairsNonAdjacentEvents(t *testing.T) {
	encs := Reconcile([]Event{
		event(t, "P1", "F1", Admission, "2024-03-01T08:00:00", "E"),
		event(t, "P2", "F1", Admission, "2024-03-01T09:00:00", "E"),
		event(t, "P3", "F2", Discharge, "2024-03-01T10:00:00", "O"),
		event(t, "P1", "F1", Discharge, "2024-03-01T20:30:00", "I"),
	})

	if len(encs) != 3 {
		t.Fatalf("expected 3 encounters, got %d", len(encs))
	}
	p1 := encs[0]
	if !p1.IsClosed() {
		t.Fatal("expected P1 encounter to be closed")
	}
	if p1.EncounterBeginTime.Raw != "2024-03-01T08:00:00" || p1.EncounterEndTime.Raw != "2024-03-01T20:30:00" {
		t.Errorf("unexpected times %q - %q", p1.EncounterBeginTime.Raw, p1.EncounterEndTime.Raw)
	}
	if p1.LengthOfStay.Duration() != 12*time.Hour+30*time.Minute {
		t.Errorf("expected 12h30m stay, got %v", p1.LengthOfStay.Duration())
	}
}

func TestReconcile_DischargeClassWins(t *testing.T) {
	encs := Reconcile([]Event{
		event(t, "P1", "F1", Admission, "2024-01-01T00:00:00", "E"),
		event(t, "P1", "F1", Discharge, "2024-01-01T06:00:00", "I"),
	})
	if len(encs) != 1 {
		t.Fatalf("expected matching to ignore class, got %d encounters", len(encs))
	}
	if encs[0].EncounterClass != "I" {
		t.Errorf("expected discharge class I, got %q", encs[0].EncounterClass)
	}
}

func TestReconcile_AdmissionKeepsRecordedClass(t *testing.T) {
	encs := Reconcile([]Event{
		event(t, "P1", "F1", Discharge, "2024-01-02T00:00:00", "I"),
		event(t, "P1", "F1", Admission, "2024-01-01T00:00:00", "E"),
	})
	if len(encs) != 1 {
		t.Fatalf("expected 1 encounter, got %d", len(encs))
	}
	enc := encs[0]
	if enc.EncounterClass != "I" {
		t.Errorf("admission must not overwrite class, got %q", enc.EncounterClass)
	}
	if enc.LengthOfStay == nil || enc.LengthOfStay.String() != "1 day, 0:00:00" {
		t.Errorf("expected 1 day stay, got %v", enc.LengthOfStay)
	}
}

func TestReconcile_SplitOnNegativeDuration(t *testing.T) {
	encs, stats := ReconcileWithStats([]Event{
		event(t, "P1", "F1", Admission, "2024-01-05T00:00:00", "I"),
		event(t, "P1", "F1", Discharge, "2024-01-04T00:00:00", "I"),
	})

	if len(encs) != 2 {
		t.Fatalf("expected split into 2 encounters, got %d", len(encs))
	}
	orig := encs[0]
	if !orig.IsOpen() || orig.EncounterEndTime != nil || orig.LengthOfStay != nil {
		t.Errorf("original encounter must stay untouched and open: %+v", orig)
	}
	split := encs[1]
	if split.EncounterBeginTime != nil || split.EncounterEndTime == nil || split.EncounterEndTime.Raw != "2024-01-04T00:00:00" {
		t.Errorf("unexpected split encounter: %+v", split)
	}
	if split.LengthOfStay != nil {
		t.Errorf("split encounter must have no length of stay, got %v", split.LengthOfStay)
	}
	if stats.Split != 1 || len(stats.SplitReasons) != 1 {
		t.Errorf("expected one recorded split, got %+v", stats)
	}
}

func TestReconcile_SplitOriginalStillMatches(t *testing.T) {
	encs := Reconcile([]Event{
		event(t, "P1", "F1", Admission, "2024-01-05T00:00:00", "I"),
		event(t, "P1", "F1", Discharge, "2024-01-04T00:00:00", "I"),
		event(t, "P1", "F1", Discharge, "2024-01-06T00:00:00", "I"),
	})
	if len(encs) != 2 {
		t.Fatalf("expected 2 encounters, got %d", len(encs))
	}
	if !encs[0].IsClosed() || encs[0].EncounterEndTime.Raw != "2024-01-06T00:00:00" {
		t.Errorf("expected the original encounter to close on the later discharge: %+v", encs[0])
	}
	if !encs[1].IsOpen() {
		t.Errorf("expected split encounter to remain open")
	}
}

func TestReconcile_AdmissionAfterDischargeSplits(t *testing.T) {
	encs := Reconcile([]Event{
		event(t, "P1", "F1", Discharge, "2024-01-01T00:00:00", "I"),
		event(t, "P1", "F1", Admission, "2024-01-02T00:00:00", "I"),
	})
	if len(encs) != 2 {
		t.Fatalf("expected 2 encounters, got %d", len(encs))
	}
	if encs[0].EncounterBeginTime != nil {
		t.Error("original discharge-only encounter must not gain a begin time")
	}
	if encs[1].EncounterBeginTime == nil || encs[1].EncounterEndTime != nil {
		t.Errorf("expected new admission-only encounter, got %+v", encs[1])
	}
}

func TestReconcile_UnmatchedSingleton(t *testing.T) {
	complaint := "Chest pain"
	ev := event(t, "P1", "F1", Admission, "2024-01-01T00:00:00", "E")
	ev.PatientComplaint = &complaint

	encs := Reconcile([]Event{ev})
	if len(encs) != 1 {
		t.Fatalf("expected 1 encounter, got %d", len(encs))
	}
	enc := encs[0]
	if enc.EncounterEndTime != nil || enc.LengthOfStay != nil {
		t.Errorf("expected open encounter without stay, got %+v", enc)
	}
	if enc.PatientComplaint == nil || *enc.PatientComplaint != complaint {
		t.Errorf("expected complaint to be copied, got %v", enc.PatientComplaint)
	}
	if enc.EncounterClass != "E" {
		t.Errorf("expected class E, got %q", enc.EncounterClass)
	}
}

func TestReconcile_OrderPreservation(t *testing.T) {
	encs := Reconcile([]Event{
		event(t, "P1", "F1", Admission, "2024-01-01T00:00:00", "I"),
		event(t, "P1", "F2", Admission, "2024-01-01T01:00:00", "I"),
		event(t, "P1", "F1", Discharge, "2024-01-02T00:00:00", "I"),
	})
	if len(encs) != 2 {
		t.Fatalf("expected 2 encounters, got %d", len(encs))
	}
	if encs[0].Facility != "F1" || !encs[0].IsClosed() {
		t.Errorf("expected closed F1 encounter first, got %+v", encs[0])
	}
	if encs[1].Facility != "F2" || !encs[1].IsOpen() {
		t.Errorf("expected open F2 encounter second, got %+v", encs[1])
	}
}

func TestReconcile_ZeroDuration(t *testing.T) {
	encs := Reconcile([]Event{
		event(t, "P1", "F1", Admission, "2024-01-01T12:00:00", "O"),
		event(t, "P1", "F1", Discharge, "2024-01-01T12:00:00", "O"),
	})
	if len(encs) != 1 {
		t.Fatalf("expected same-instant events to merge, got %d encounters", len(encs))
	}
	if encs[0].LengthOfStay == nil || encs[0].LengthOfStay.String() != "0:00:00" {
		t.Errorf("expected zero stay, got %v", encs[0].LengthOfStay)
	}
}

func TestReconcile_SubMicrosecondDifferenceMerges(t *testing.T) {
	encs := Reconcile([]Event{
		event(t, "P1", "F1", Admission, "2024-01-01T12:00:00.0000009", "I"),
		event(t, "P1", "F1", Discharge, "2024-01-01T12:00:00.0000001", "I"),
	})
	if len(encs) != 1 {
		t.Fatalf("expected events within one microsecond to merge, got %d encounters", len(encs))
	}
	if encs[0].LengthOfStay == nil || encs[0].LengthOfStay.String() != "0:00:00" {
		t.Errorf("expected zero stay, got %v", encs[0].LengthOfStay)
	}
}

func TestReconcile_SecondDischargeOpensNewEncounter(t *testing.T) {
	encs := Reconcile([]Event{
		event(t, "P1", "F1", Admission, "2024-01-01T00:00:00", "I"),
		event(t, "P1", "F1", Discharge, "2024-01-02T00:00:00", "I"),
		event(t, "P1", "F1", Discharge, "2024-01-03T00:00:00", "I"),
	})
	if len(encs) != 2 {
		t.Fatalf("expected 2 encounters, got %d", len(encs))
	}
	if encs[0].EncounterEndTime.Raw != "2024-01-02T00:00:00" {
		t.Errorf("closed encounter must keep its discharge, got %q", encs[0].EncounterEndTime.Raw)
	}
}

func TestReconcile_FirstCandidateWins(t *testing.T) {
	encs := Reconcile([]Event{
		event(t, "P1", "F1", Admission, "2024-01-01T00:00:00", "I"),
		event(t, "P1", "F1", Admission, "2024-01-01T06:00:00", "I"),
		event(t, "P1", "F1", Discharge, "2024-01-02T00:00:00", "I"),
	})
	if len(encs) != 2 {
		t.Fatalf("expected 2 encounters, got %d", len(encs))
	}
	if !encs[0].IsClosed() || !encs[1].IsOpen() {
		t.Errorf("expected discharge to close the earliest-opened candidate")
	}
}

func TestReconcile_TimeZones(t *testing.T) {
	encs := Reconcile([]Event{
		event(t, "P1", "F1", Admission, "2024-01-01T10:00:00+02:00", "I"),
		event(t, "P1", "F1", Discharge, "2024-01-01T09:00:00Z", "I"),
	})
	if len(encs) != 1 {
		t.Fatalf("expected offsets to be compared as instants, got %d encounters", len(encs))
	}
	if got := encs[0].LengthOfStay.String(); got != "1:00:00" {
		t.Errorf("expected 1:00:00, got %q", got)
	}
}

func TestReconcile_Empty(t *testing.T) {
	encs, stats := ReconcileWithStats(nil)
	if len(encs) != 0 {
		t.Errorf("expected no encounters, got %d", len(encs))
	}
	if stats.Events != 0 || stats.Encounters != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}

func TestReconcileWithStats_Counts(t *testing.T) {
	_, stats := ReconcileWithStats([]Event{
		event(t, "P1", "F1", Admission, "2024-01-01T00:00:00", "I"),
		event(t, "P1", "F1", Discharge, "2024-01-02T00:00:00", "I"),
		event(t, "P2", "F1", Admission, "2024-01-05T00:00:00", "I"),
		event(t, "P2", "F1", Discharge, "2024-01-04T00:00:00", "I"),
	})

	want := Stats{Events: 4, Encounters: 3, Merged: 1, Split: 1, Open: 2, Closed: 1}
	if stats.Events != want.Events || stats.Encounters != want.Encounters ||
		stats.Merged != want.Merged || stats.Split != want.Split ||
		stats.Open != want.Open || stats.Closed != want.Closed {
		t.Errorf("got %+v, want %+v", stats, want)
	}
	if len(stats.SplitReasons) != 1 {
		t.Fatalf("expected one split reason, got %v", stats.SplitReasons)
	}
	if stats.SplitReasons[0] != "discharge at 2024-01-04T00:00:00 precedes admission at 2024-01-05T00:00:00" {
		t.Errorf("unexpected reason %q", stats.SplitReasons[0])
	}
}
