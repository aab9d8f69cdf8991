package budget

import (
	"time"

	"github.com/sakuapp/saku/internal/domain/entity"
)

// TimeFilter selects the sliding window a sentiment rollup covers. Windows
// are measured back from now, not aligned to calendar boundaries.
type TimeFilter string

const (
	FilterDay   TimeFilter = "day"   // last 24h
	FilterWeek  TimeFilter = "week"  // last 7×24h
	FilterMonth TimeFilter = "month" // last 30×24h
	FilterAll   TimeFilter = "all"
)

// ParseTimeFilter maps a request string onto a filter, defaulting to all.
func ParseTimeFilter(s string) TimeFilter {
	switch TimeFilter(s) {
	case FilterDay, FilterWeek, FilterMonth:
		return TimeFilter(s)
	default:
		return FilterAll
	}
}

// SentimentTotals is the rollup of transaction amounts per sentiment tag.
// Total is always Worthy + Regret + Neutral.
type SentimentTotals struct {
	Worthy  int64 `json:"worthy"`
	Regret  int64 `json:"regret"`
	Neutral int64 `json:"neutral"`
	Total   int64 `json:"total"`
}

// SentimentRollup sums transaction amounts by sentiment over the window the
// filter selects, ending at now.
func SentimentRollup(l *entity.UserLedger, now time.Time, filter TimeFilter) SentimentTotals {
	var cutoff time.Time
	switch filter {
	case FilterDay:
		cutoff = now.Add(-24 * time.Hour)
	case FilterWeek:
		cutoff = now.Add(-7 * 24 * time.Hour)
	case FilterMonth:
		cutoff = now.Add(-30 * 24 * time.Hour)
	}

	var out SentimentTotals
	for _, t := range l.Transactions {
		if !cutoff.IsZero() && t.Timestamp.Before(cutoff) {
			continue
		}
		switch t.Sentiment {
		case entity.SentimentWorthy:
			out.Worthy += t.Amount
		case entity.SentimentRegret:
			out.Regret += t.Amount
		default:
			out.Neutral += t.Amount
		}
		out.Total += t.Amount
	}
	return out
}
