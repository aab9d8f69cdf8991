package budget

import (
	"time"

	"github.com/sakuapp/saku/internal/domain/entity"
)

// Tier is a spending-intensity bucket for one calendar day.
type Tier string

const (
	TierNone   Tier = "none"
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Thresholds are the absolute amounts separating the medium and high tiers.
// They are currency amounts, not fractions of the safe-spend figure.
type Thresholds struct {
	Medium int64
	High   int64
}

// DefaultThresholds matches the product's stock tiers.
var DefaultThresholds = Thresholds{Medium: 500, High: 2000}

// DayCell is one day of the spending calendar.
type DayCell struct {
	Day   int   `json:"day"`
	Spend int64 `json:"spend"`
	Tier  Tier  `json:"tier"`
}

// Heatmap aggregates transaction amounts per calendar day for the month
// containing `month` and buckets each day into an intensity tier. The result
// always has exactly daysInMonth entries, day 1 first.
func Heatmap(l *entity.UserLedger, month time.Time, th Thresholds) []DayCell {
	u := month.UTC()
	days := DaysInMonth(u)
	spend := make([]int64, days+1)
	for _, t := range l.Transactions {
		ts := t.Timestamp.UTC()
		if ts.Year() == u.Year() && ts.Month() == u.Month() {
			spend[ts.Day()] += t.Amount
		}
	}
	cells := make([]DayCell, 0, days)
	for d := 1; d <= days; d++ {
		cells = append(cells, DayCell{Day: d, Spend: spend[d], Tier: th.TierFor(spend[d])})
	}
	return cells
}

// TierFor buckets a daily spend total. Tiers are monotonic in spend: a zero
// day is always "none" and anything at or above the high threshold is "high".
func (th Thresholds) TierFor(spend int64) Tier {
	switch {
	case spend <= 0:
		return TierNone
	case spend >= th.High:
		return TierHigh
	case spend >= th.Medium:
		return TierMedium
	default:
		return TierLow
	}
}
