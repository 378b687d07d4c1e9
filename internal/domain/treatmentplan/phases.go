package treatmentplan

import (
	"time"

	"github.com/ayurflow/workflow/pkg/calendar"
)

// phaseOrder is the reporting order of the phase buckets.
var phaseOrder = []Phase{PhasePurvakarma, PhasePradhankarma, PhasePaschatkarma, PhaseOther}

// Phases buckets every therapy of the plan by phase. A bucket's Completed
// counts the completed days that hold at least one of its therapies.
func Phases(p *Plan) []PhaseSummary {
	totals := make(map[Phase]int, len(phaseOrder))
	completed := make(map[Phase]int, len(phaseOrder))
	for _, d := range p.Days {
		seen := make(map[Phase]bool)
		for _, t := range d.Therapies {
			b := t.Phase.Bucket()
			totals[b]++
			seen[b] = true
		}
		if !d.Completed {
			continue
		}
		for b := range seen {
			completed[b]++
		}
	}

	out := make([]PhaseSummary, len(phaseOrder))
	for i, ph := range phaseOrder {
		out[i] = PhaseSummary{
			Phase:     ph,
			Total:     totals[ph],
			Completed: completed[ph],
			Percent:   percent(completed[ph], totals[ph]),
		}
	}
	return out
}

// Schedule returns the plan's therapies for the civil date of date. A date
// outside the plan yields an empty schedule.
func Schedule(p *Plan, date time.Time) DailySchedule {
	date = calendar.Date(date)
	out := DailySchedule{Date: date, Therapies: []ScheduledTherapy{}}

	n := calendar.DaysBetween(p.StartDate, date) + 1
	d := p.Day(n)
	if d == nil {
		return out
	}
	out.DayNumber = n
	for _, t := range d.Therapies {
		out.Therapies = append(out.Therapies, ScheduledTherapy{Therapy: t, Completed: d.Completed})
	}
	return out
}
