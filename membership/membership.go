// Package membership models the membership lifecycle as an explicit finite
// state machine. Callers never compare status strings directly to decide
// whether an automation should fire; they ask the transition table.
package membership

import (
	"strings"
	"time"
)

// Status is the membership status of a person.
type Status string

const (
	StatusNone     Status = "none"
	StatusActive   Status = "active"
	StatusGrace    Status = "grace"
	StatusInactive Status = "inactive"

	// statusPaid is a legacy value written by older integrations. It reads
	// as active.
	statusPaid Status = "paid"
)

// Event is something that happens to a membership.
type Event string

const (
	EventDuesPaid   Event = "dues_paid"
	EventExpired    Event = "expired"
	EventGraceEnded Event = "grace_ended"
	EventCancelled  Event = "cancelled"
)

// GracePeriod is how long after the end date a lapsed member stays in grace.
const GracePeriod = 30 * 24 * time.Hour

// Transition is the outcome of applying an event to a status.
type Transition struct {
	To Status
	// NewMember reports whether the transition should fire the
	// new-member automation on the email platform.
	NewMember bool
}

var table = map[Status]map[Event]Transition{
	StatusNone: {
		EventDuesPaid:  {To: StatusActive, NewMember: true},
		EventCancelled: {To: StatusInactive},
	},
	StatusActive: {
		EventDuesPaid:  {To: StatusActive},
		EventExpired:   {To: StatusGrace},
		EventCancelled: {To: StatusInactive},
	},
	StatusGrace: {
		EventDuesPaid:   {To: StatusActive},
		EventGraceEnded: {To: StatusInactive},
		EventCancelled:  {To: StatusInactive},
	},
	StatusInactive: {
		EventDuesPaid:  {To: StatusActive},
		EventCancelled: {To: StatusInactive},
	},
}

// Parse converts a stored status string into a Status. Empty and unknown
// values are treated as none; the legacy "paid" value is treated as active.
func Parse(s string) Status {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusActive, StatusGrace, StatusInactive, StatusNone:
		return st
	case statusPaid:
		return StatusActive
	}
	return StatusNone
}

// Apply returns the transition for the event applied to from. Pairs missing
// from the table keep the current status and fire nothing.
func Apply(from Status, ev Event) Transition {
	from = Parse(string(from))
	if t, ok := table[from][ev]; ok {
		return t
	}
	return Transition{To: from}
}

// IsNewActivation reports whether moving from prev to cur is a transition
// that fires the new-member automation.
func IsNewActivation(prev, cur Status) bool {
	prev, cur = Parse(string(prev)), Parse(string(cur))
	for _, t := range table[prev] {
		if t.To == cur && t.NewMember {
			return true
		}
	}
	return false
}

// StatusAt advances an active or grace status past its end date: after the
// end date an active membership enters grace, and once the grace period has
// elapsed it becomes inactive. A nil end date leaves the status untouched.
func StatusAt(st Status, end *time.Time, now time.Time) Status {
	st = Parse(string(st))
	if end == nil {
		return st
	}
	if st == StatusActive && now.After(endOfDay(*end)) {
		st = Apply(st, EventExpired).To
	}
	if st == StatusGrace && now.After(endOfDay(GraceEnd(*end))) {
		st = Apply(st, EventGraceEnded).To
	}
	return st
}

// GraceEnd returns the last day of the grace period for an end date.
func GraceEnd(end time.Time) time.Time {
	return end.Add(GracePeriod)
}

// IsSet reports whether the status carries any membership information.
func IsSet(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s != "" && Status(s) != StatusNone
}

// IsActiveOrPaid reports whether the raw stored value is active or the
// legacy paid value.
func IsActiveOrPaid(s string) bool {
	return Parse(s) == StatusActive
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}
