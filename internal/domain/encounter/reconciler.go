package encounter

import (
	"fmt"
)

type mergeOutcome int

const (
	merged mergeOutcome = iota
	rejected
)

// mergeResult is the outcome of folding an event into an existing encounter.
type mergeResult struct {
	outcome mergeOutcome
	reason  string
}

// arena owns every encounter produced by one pass. Encounters are addressed
// by index only; nothing outside the arena holds a pointer into it.
type arena struct {
	encounters []Encounter
	stats      Stats
}

// Reconcile folds an ordered event sequence into encounters, in the order
// the encounters were first opened.
func Reconcile(events []Event) []Encounter {
	encs, _ := ReconcileWithStats(events)
	return encs
}

// ReconcileWithStats is Reconcile plus counters describing the pass.
func ReconcileWithStats(events []Event) ([]Encounter, Stats) {
	a := &arena{encounters: make([]Encounter, 0, len(events))}
	for _, ev := range events {
		a.apply(ev)
	}

	a.stats.Events = len(events)
	a.stats.Encounters = len(a.encounters)
	for i := range a.encounters {
		switch {
		case a.encounters[i].IsClosed():
			a.stats.Closed++
		case a.encounters[i].IsOpen():
			a.stats.Open++
		}
	}
	return a.encounters, a.stats
}

func (a *arena) apply(ev Event) {
	idx := a.match(ev)
	if idx < 0 {
		a.open(ev)
		return
	}
	if res := a.merge(idx, ev); res.outcome == rejected {
		// The candidate stays as it was and may still match a later event.
		a.stats.Split++
		a.stats.SplitReasons = append(a.stats.SplitReasons, res.reason)
		a.open(ev)
		return
	}
	a.stats.Merged++
}

// match returns the index of the first encounter eligible to absorb ev, or -1.
func (a *arena) match(ev Event) int {
	for i := range a.encounters {
		if eligible(&a.encounters[i], ev) {
			return i
		}
	}
	return -1
}

// eligible reports whether ev belongs to the same patient and facility as enc
// and fills the side of enc that is still empty. Encounter class is not part
// of the key.
func eligible(enc *Encounter, ev Event) bool {
	if enc.PatientIdentifier != ev.PatientIdentifier || enc.Facility != ev.Facility {
		return false
	}
	if ev.Type == Discharge {
		return enc.EncounterEndTime == nil
	}
	return enc.EncounterBeginTime == nil
}

// merge writes ev into the encounter at idx unless doing so would produce a
// negative length of stay. Events that are not discharges merge as admissions.
func (a *arena) merge(idx int, ev Event) mergeResult {
	enc := &a.encounters[idx]
	at := ev.Time

	if ev.Type == Discharge {
		stay := lengthOfStay(enc.EncounterBeginTime, &at)
		if stay != nil && *stay < 0 {
			return mergeResult{outcome: rejected, reason: fmt.Sprintf(
				"discharge at %s precedes admission at %s", at.Raw, enc.EncounterBeginTime.Raw)}
		}
		enc.EncounterEndTime = &at
		enc.EncounterClass = ev.PatientClass
		enc.LengthOfStay = stay
		return mergeResult{outcome: merged}
	}

	stay := lengthOfStay(&at, enc.EncounterEndTime)
	if stay != nil && *stay < 0 {
		return mergeResult{outcome: rejected, reason: fmt.Sprintf(
			"admission at %s follows discharge at %s", at.Raw, enc.EncounterEndTime.Raw)}
	}
	enc.EncounterBeginTime = &at
	enc.LengthOfStay = stay
	return mergeResult{outcome: merged}
}

// open appends a new encounter built from ev alone.
func (a *arena) open(ev Event) {
	a.encounters = append(a.encounters, newEncounter(ev))
}

func newEncounter(ev Event) Encounter {
	enc := Encounter{
		PatientIdentifier: ev.PatientIdentifier,
		Facility:          ev.Facility,
		PatientComplaint:  ev.PatientComplaint,
		EncounterClass:    ev.PatientClass,
	}
	at := ev.Time
	switch ev.Type {
	case Admission:
		enc.EncounterBeginTime = &at
	case Discharge:
		enc.EncounterEndTime = &at
	}
	return enc
}

// lengthOfStay returns end-begin, or nil when either side is unknown. The
// result may be negative; callers decide what that means.
func lengthOfStay(begin, end *Timestamp) *LengthOfStay {
	if begin == nil || end == nil {
		return nil
	}
	d := LengthOfStay(end.Time.Sub(begin.Time))
	return &d
}
