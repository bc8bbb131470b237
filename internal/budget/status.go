package budget

import (
	"math"
	"time"
)

// PeriodStatus is one period's spend against its ceiling.
type PeriodStatus struct {
	Budget    float64 `json:"budget"`
	Spent     float64 `json:"spent"`
	Remaining float64 `json:"remaining"`
	Pct       int     `json:"pct"`
}

// Projections extrapolates today's run rate.
type Projections struct {
	DailyRate        float64 `json:"dailyRate"`
	ProjectedMonthly float64 `json:"projectedMonthly"`
}

// Status is the full budget picture for the status tool and the query API.
type Status struct {
	Daily       *PeriodStatus `json:"daily,omitempty"`
	Weekly      *PeriodStatus `json:"weekly,omitempty"`
	Monthly     *PeriodStatus `json:"monthly,omitempty"`
	Projections *Projections  `json:"projections,omitempty"`
}

// Status reports current spend per configured period plus a run-rate
// projection once enough of the day has elapsed to make one meaningful.
func (t *Tracker) Status() Status {
	var s Status

	if t.cfg.Daily > 0 {
		s.Daily = periodStatus(t.store.Today().Cost, t.cfg.Daily)
	}
	if t.cfg.Weekly > 0 {
		s.Weekly = periodStatus(t.store.WeekToDate().Cost, t.cfg.Weekly)
	}
	if t.cfg.Monthly > 0 {
		s.Monthly = periodStatus(t.store.MonthToDate().Cost, t.cfg.Monthly)
	}

	now := t.now().UTC()
	hoursToday := float64(now.Hour()) + float64(now.Minute())/60
	if hoursToday > 1 {
		todayCost := t.store.Today().Cost
		dailyRate := todayCost / (hoursToday / 24)
		daysInMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
		s.Projections = &Projections{
			DailyRate:        math.Round(dailyRate*100) / 100,
			ProjectedMonthly: math.Round(dailyRate*float64(daysInMonth)*100) / 100,
		}
	}

	return s
}

func periodStatus(spent, budget float64) *PeriodStatus {
	return &PeriodStatus{
		Budget:    budget,
		Spent:     spent,
		Remaining: math.Max(0, budget-spent),
		Pct:       int(math.Round(spent / budget * 100)),
	}
}
