// Package budget holds the pure derivation math over a ledger snapshot:
// daily safe spend, per-day spend intensity, and sentiment rollups. Nothing
// here mutates the ledger or touches storage.
package budget

import (
	"time"

	"github.com/sakuapp/saku/internal/domain/entity"
)

// DailySafeSpend computes how much the user may still spend today without
// exceeding the monthly budget:
//
//	max(0, floor((monthlyLimit − Σfixed) / daysInMonth)
//	       − Σ(borrow loans).dailyAmount
//	       − Σgoals.dailyContribution
//	       − spentToday)
//
// The denominator is the total number of days in the current calendar month,
// never days remaining; dividing by days remaining blows up on the last day
// of the month.
func DailySafeSpend(l *entity.UserLedger, today time.Time) int64 {
	var fixed int64
	for _, f := range l.FixedExpenses {
		fixed += f.Amount
	}
	base := (l.MonthlyLimit - fixed) / int64(DaysInMonth(today))

	var daily int64
	for _, loan := range l.Loans {
		if loan.Type == entity.LoanBorrow {
			daily += loan.DailyAmount
		}
	}
	for _, g := range l.Goals {
		daily += g.DailyContribution
	}

	safe := base - daily - SpentOn(l, today)
	if safe < 0 {
		return 0
	}
	return safe
}

// SpentOn sums the amounts of all transactions whose timestamp falls on the
// same calendar date as day (UTC).
func SpentOn(l *entity.UserLedger, day time.Time) int64 {
	var total int64
	for _, t := range l.Transactions {
		if sameDate(t.Timestamp, day) {
			total += t.Amount
		}
	}
	return total
}

// DaysInMonth returns the number of days in the calendar month containing t.
func DaysInMonth(t time.Time) int {
	u := t.UTC()
	return time.Date(u.Year(), u.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func sameDate(a, b time.Time) bool {
	au, bu := a.UTC(), b.UTC()
	ay, am, ad := au.Date()
	by, bm, bd := bu.Date()
	return ay == by && am == bm && ad == bd
}
