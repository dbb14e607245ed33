// Package availability computes bookable slots from open windows and busy intervals.
package availability

import (
	"sort"
	"time"

	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

const (
	ReasonTooSoon = "too_soon"
	ReasonTooFar  = "too_far"
)

type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
}

// Rules are the advance-booking bounds. MaxAdvanceDays <= 0 disables the upper bound.
type Rules struct {
	MinAdvance     time.Duration `json:"min_advance"`
	MaxAdvanceDays int           `json:"max_advance_days"`
}

// Candidates walks every open window from its start in steps of step and
// returns each [t, t+duration) that fits entirely inside one free interval.
func Candidates(windows, busy []model.Interval, duration, step time.Duration) []model.Interval {
	if duration <= 0 || step <= 0 {
		return nil
	}
	free := Subtract(windows, busy)
	if len(free) == 0 {
		return nil
	}

	ordered := sortedCopy(windows)
	var out []model.Interval
	for _, w := range ordered {
		for t := w.Start; !t.Add(duration).After(w.End); t = t.Add(step) {
			cand := model.Interval{Start: t, End: t.Add(duration)}
			if insideAny(free, cand) {
				out = append(out, cand)
			}
		}
	}
	return out
}

// Tag applies the advance-booking rules to candidates relative to now.
func Tag(candidates []model.Interval, rules Rules, now time.Time) []Slot {
	slots := make([]Slot, 0, len(candidates))
	for _, c := range candidates {
		s := Slot{Start: c.Start, End: c.End, Available: true}
		if reason := violation(c.Start, rules, now); reason != "" {
			s.Available = false
			s.Reason = reason
		}
		slots = append(slots, s)
	}
	return slots
}

// Slots is Candidates followed by Tag.
func Slots(windows, busy []model.Interval, duration, step time.Duration, rules Rules, now time.Time) []Slot {
	return Tag(Candidates(windows, busy, duration, step), rules, now)
}

// Check validates one requested interval against the same rules the slot
// walk applies, without requiring it to sit on the step grid.
func Check(windows, busy []model.Interval, cand model.Interval, rules Rules, now time.Time) error {
	switch violation(cand.Start, rules, now) {
	case ReasonTooSoon:
		return apperr.TooSoon(now.Add(rules.MinAdvance), "start must be at least %s from now", rules.MinAdvance)
	case ReasonTooFar:
		return apperr.New(apperr.OutOfBookingWindow, "start must be within %d days from now", rules.MaxAdvanceDays)
	}

	for _, b := range sortedCopy(busy) {
		if b.Overlaps(cand) {
			return apperr.Conflict(b.Start, b.End, "requested time overlaps an existing booking or block")
		}
	}
	if !insideAny(Subtract(windows, busy), cand) {
		return apperr.New(apperr.SlotUnavailable, "requested time is outside business hours")
	}
	return nil
}

func violation(start time.Time, rules Rules, now time.Time) string {
	if start.Before(now.Add(rules.MinAdvance)) {
		return ReasonTooSoon
	}
	if rules.MaxAdvanceDays > 0 && start.After(now.AddDate(0, 0, rules.MaxAdvanceDays)) {
		return ReasonTooFar
	}
	return ""
}

// Subtract removes busy from every base interval and returns the remaining
// free intervals in start order.
func Subtract(base, busy []model.Interval) []model.Interval {
	merged := Merge(busy)
	var out []model.Interval
	for _, b := range sortedCopy(base) {
		out = append(out, subtractOne(b, merged)...)
	}
	return out
}

func subtractOne(base model.Interval, merged []model.Interval) []model.Interval {
	if base.Empty() {
		return nil
	}
	var out []model.Interval
	cursor := base.Start
	for _, m := range merged {
		if !m.End.After(cursor) {
			continue
		}
		if !m.Start.Before(base.End) {
			break
		}
		if m.Start.After(cursor) {
			out = append(out, model.Interval{Start: cursor, End: m.Start})
		}
		cursor = m.End
	}
	if base.End.After(cursor) {
		out = append(out, model.Interval{Start: cursor, End: base.End})
	}
	return out
}

// Merge sorts intervals and joins overlapping or touching ones. Empty ones are dropped.
func Merge(in []model.Interval) []model.Interval {
	sorted := sortedCopy(in)
	merged := make([]model.Interval, 0, len(sorted))
	for _, cur := range sorted {
		if cur.Empty() {
			continue
		}
		if len(merged) == 0 {
			merged = append(merged, cur)
			continue
		}
		last := &merged[len(merged)-1]
		if cur.Start.After(last.End) {
			merged = append(merged, cur)
			continue
		}
		if cur.End.After(last.End) {
			last.End = cur.End
		}
	}
	return merged
}

func insideAny(free []model.Interval, cand model.Interval) bool {
	for _, f := range free {
		if f.Contains(cand) {
			return true
		}
	}
	return false
}

func sortedCopy(in []model.Interval) []model.Interval {
	out := make([]model.Interval, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].End.Before(out[j].End)
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}
