// Package sla reports how much time a request has left against its target
// resolution window. It never changes a request.
package sla

import (
	"math"
	"sort"
	"time"

	"claimflow/config"
	"claimflow/workrequest"
)

// Tracker computes deadlines from a configured window table.
type Tracker struct {
	defaults  map[workrequest.Priority]time.Duration
	overrides map[workrequest.Kind]map[workrequest.Priority]time.Duration
	now       func() time.Time
}

func NewTracker(policy config.SLAPolicy) *Tracker {
	t := &Tracker{
		defaults:  make(map[workrequest.Priority]time.Duration, len(policy.DefaultHours)),
		overrides: make(map[workrequest.Kind]map[workrequest.Priority]time.Duration, len(policy.KindOverrides)),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for p, hours := range policy.DefaultHours {
		t.defaults[workrequest.Priority(p)] = time.Duration(hours) * time.Hour
	}
	for kind, byPriority := range policy.KindOverrides {
		m := make(map[workrequest.Priority]time.Duration, len(byPriority))
		for p, hours := range byPriority {
			m[workrequest.Priority(p)] = time.Duration(hours) * time.Hour
		}
		t.overrides[workrequest.Kind(kind)] = m
	}
	return t
}

func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Window returns the resolution window for a kind and priority. Priorities
// missing from the table fall back to NORMAL.
func (t *Tracker) Window(kind workrequest.Kind, priority workrequest.Priority) time.Duration {
	if byPriority, ok := t.overrides[kind]; ok {
		if w, ok := byPriority[priority]; ok {
			return w
		}
	}
	if w, ok := t.defaults[priority]; ok {
		return w
	}
	return t.defaults[workrequest.PriorityNormal]
}

// Deadline is the instant the request's window closes.
func (t *Tracker) Deadline(req workrequest.Request) time.Time {
	return req.CreatedAt.Add(t.Window(req.Kind, req.Priority))
}

// HoursUntil returns the whole hours left before the deadline, truncated
// toward zero; negative values mean overdue.
func (t *Tracker) HoursUntil(req workrequest.Request) int {
	remaining := t.Deadline(req).Sub(t.now())
	hours := remaining.Hours()
	if hours < 0 && hours > -1 {
		// Less than an hour past the deadline still reads as overdue.
		return -1
	}
	return int(math.Trunc(hours))
}

// IsOverdue is advisory: it is true for open requests past their deadline.
func (t *Tracker) IsOverdue(req workrequest.Request) bool {
	if req.Status.IsTerminal() {
		return false
	}
	return t.HoursUntil(req) < 0
}

// Overdue filters reqs down to the overdue ones, most overdue first.
func (t *Tracker) Overdue(reqs []workrequest.Request) []workrequest.Request {
	var out []workrequest.Request
	for _, r := range reqs {
		if t.IsOverdue(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return t.Deadline(out[i]).Before(t.Deadline(out[j]))
	})
	return out
}
