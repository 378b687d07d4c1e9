package treatmentplan

import (
	"regexp"
	"strings"
	"time"

	"github.com/ayurflow/workflow/internal/platform/apperr"
	"github.com/ayurflow/workflow/pkg/calendar"
)

// DefaultTitle is used when the doctor leaves the title empty.
const DefaultTitle = "Panchakarma Program"

var timeOfDayRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// DefaultTemplate returns the standard seven-day program, one therapy list per
// day. A fresh copy is returned on every call.
func DefaultTemplate() [][]Therapy {
	return [][]Therapy{
		{
			{Name: "Snehapana", Instructions: "Medicated ghee on an empty stomach", Phase: PhasePurvakarma, TimeOfDay: "06:30"},
			{Name: "Abhyanga", Instructions: "Full-body oil massage", Phase: PhasePurvakarma, TimeOfDay: "09:00"},
		},
		{
			{Name: "Abhyanga", Instructions: "Full-body oil massage", Phase: PhasePurvakarma, TimeOfDay: "09:00"},
			{Name: "Swedana", Instructions: "Herbal steam after massage", Phase: PhasePurvakarma, TimeOfDay: "10:00"},
		},
		{
			{Name: "Vamana", Instructions: "Therapeutic emesis under supervision", Phase: PhasePradhankarma, TimeOfDay: "07:00"},
		},
		{
			{Name: "Virechana", Instructions: "Therapeutic purgation", Phase: PhasePradhankarma, TimeOfDay: "07:00"},
		},
		{
			{Name: "Basti", Instructions: "Medicated enema", Phase: PhasePradhankarma, TimeOfDay: "08:00"},
			{Name: "Nasya", Instructions: "Nasal administration of medicated oil", Phase: PhasePradhankarma, TimeOfDay: "11:00"},
		},
		{
			{Name: "Samsarjana Krama", Instructions: "Graduated light diet", Phase: PhasePaschatkarma},
		},
		{
			{Name: "Samsarjana Krama", Instructions: "Graduated light diet", Phase: PhasePaschatkarma},
			{Name: "Rasayana", Instructions: "Rejuvenative herbal preparation", Phase: PhasePaschatkarma, TimeOfDay: "08:00"},
		},
	}
}

// BuildDays lays therapies out on consecutive calendar days from start. Day i
// (1-based) falls on start + (i-1) days, computed on date components.
func BuildDays(start time.Time, therapies [][]Therapy) ([]Day, error) {
	if len(therapies) == 0 {
		return nil, apperr.Validation("a plan needs at least one day")
	}
	start = calendar.Date(start)
	days := make([]Day, len(therapies))
	for i, list := range therapies {
		if err := validateTherapies(i+1, list); err != nil {
			return nil, err
		}
		days[i] = Day{
			DayNumber: i + 1,
			Date:      calendar.AddDays(start, i),
			Therapies: normalizeTherapies(list),
		}
	}
	return days, nil
}

func validateTherapies(dayNumber int, list []Therapy) error {
	for j, t := range list {
		if strings.TrimSpace(t.Name) == "" {
			return apperr.Validation("day %d therapy %d: name is required", dayNumber, j+1)
		}
		if t.TimeOfDay != "" && !timeOfDayRe.MatchString(t.TimeOfDay) {
			return apperr.Validation("day %d therapy %q: time_of_day must be HH:MM", dayNumber, t.Name)
		}
	}
	return nil
}

func normalizeTherapies(list []Therapy) []Therapy {
	out := make([]Therapy, len(list))
	for i, t := range list {
		t.Name = strings.TrimSpace(t.Name)
		out[i] = t
	}
	return out
}

// TherapyNames lists the names of a day's therapies in order.
func (d Day) TherapyNames() []string {
	names := make([]string, len(d.Therapies))
	for i, t := range d.Therapies {
		names[i] = t.Name
	}
	return names
}
