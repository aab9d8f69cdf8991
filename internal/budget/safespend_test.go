package budget

import (
	"testing"
	"time"

	"github.com/sakuapp/saku/internal/domain/entity"
)

// mid-June 2025: a 30-day month, nowhere near the month boundary.
var june15 = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func baseLedger() *entity.UserLedger {
	l := entity.NewUserLedger("u1", june15)
	l.MonthlyLimit = 30000
	l.FixedExpenses = []entity.FixedExpense{
		{Name: "Rent", Amount: 15000},
		{Name: "Internet", Amount: 1000},
	}
	return l
}

func TestDailySafeSpend_BaseFormula(t *testing.T) {
	l := baseLedger()
	got := DailySafeSpend(l, june15)
	// floor((30000-16000)/30) = 466
	if got != 466 {
		t.Fatalf("DailySafeSpend = %d, want 466", got)
	}
}

func TestDailySafeSpend_BorrowLoanReducesBudget(t *testing.T) {
	l := baseLedger()
	loan, err := entity.NewLoan(entity.LoanBorrow, "Andi", 10000, 50)
	if err != nil {
		t.Fatalf("NewLoan: %v", err)
	}
	if loan.DailyAmount != 200 {
		t.Fatalf("DailyAmount = %d, want 200", loan.DailyAmount)
	}
	l.Loans = append(l.Loans, loan)

	if got := DailySafeSpend(l, june15); got != 266 {
		t.Fatalf("DailySafeSpend with borrow loan = %d, want 266", got)
	}
}

func TestDailySafeSpend_LendLoanHasNoEffect(t *testing.T) {
	l := baseLedger()
	before := DailySafeSpend(l, june15)

	loan, err := entity.NewLoan(entity.LoanLend, "Budi", 5000, 10)
	if err != nil {
		t.Fatalf("NewLoan: %v", err)
	}
	l.Loans = append(l.Loans, loan)

	if after := DailySafeSpend(l, june15); after != before {
		t.Fatalf("lend loan changed safe spend: %d -> %d", before, after)
	}
}

func TestDailySafeSpend_GoalContributionReducesBudget(t *testing.T) {
	l := baseLedger()
	goal, err := entity.NewGoal("Laptop", 3000, june15.AddDate(0, 0, 30), june15)
	if err != nil {
		t.Fatalf("NewGoal: %v", err)
	}
	if goal.DailyContribution != 100 {
		t.Fatalf("DailyContribution = %d, want 100", goal.DailyContribution)
	}
	l.Goals = append(l.Goals, goal)

	if got := DailySafeSpend(l, june15); got != 366 {
		t.Fatalf("DailySafeSpend with goal = %d, want 366", got)
	}
}

func TestDailySafeSpend_SpentTodaySubtracted(t *testing.T) {
	l := baseLedger()
	tx, err := entity.NewTransaction("Coffee", "food", 66, entity.SentimentWorthy, june15.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	l.Transactions = append(l.Transactions, tx)

	if got := DailySafeSpend(l, june15); got != 400 {
		t.Fatalf("DailySafeSpend after spend = %d, want 400", got)
	}
}

func TestDailySafeSpend_YesterdaySpendIgnored(t *testing.T) {
	l := baseLedger()
	tx, err := entity.NewTransaction("Dinner", "food", 300, entity.SentimentNeutral, june15.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	l.Transactions = append(l.Transactions, tx)

	if got := DailySafeSpend(l, june15); got != 466 {
		t.Fatalf("DailySafeSpend = %d, want 466 (yesterday's spend must not count)", got)
	}
}

func TestDailySafeSpend_NeverNegative(t *testing.T) {
	l := baseLedger()
	tx, err := entity.NewTransaction("Splurge", "shopping", 5000, entity.SentimentRegret, june15)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	l.Transactions = append(l.Transactions, tx)

	if got := DailySafeSpend(l, june15); got != 0 {
		t.Fatalf("DailySafeSpend = %d, want 0 (clamped)", got)
	}
}

func TestDailySafeSpend_NonNegativeWhenFixedWithinLimit(t *testing.T) {
	// For any fixed total <= monthlyLimit the base figure cannot go negative.
	for _, fixed := range []int64{0, 1, 14000, 29999, 30000} {
		l := entity.NewUserLedger("u1", june15)
		l.MonthlyLimit = 30000
		l.FixedExpenses = []entity.FixedExpense{{Name: "All", Amount: fixed}}
		if got := DailySafeSpend(l, june15); got < 0 {
			t.Fatalf("DailySafeSpend = %d with fixed %d, want >= 0", got, fixed)
		}
	}
}

func TestDailySafeSpend_UsesDaysInMonthNotDaysRemaining(t *testing.T) {
	// On the last day of the month the denominator must still be the full
	// month length.
	l := baseLedger()
	lastDay := time.Date(2025, time.June, 30, 23, 0, 0, 0, time.UTC)
	if got := DailySafeSpend(l, lastDay); got != 466 {
		t.Fatalf("DailySafeSpend on day 30 = %d, want 466", got)
	}
}

func TestDaysInMonth(t *testing.T) {
	cases := []struct {
		in   time.Time
		want int
	}{
		{time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), 30},
		{time.Date(2025, time.July, 31, 0, 0, 0, 0, time.UTC), 31},
		{time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC), 29},
		{time.Date(2025, time.February, 10, 0, 0, 0, 0, time.UTC), 28},
	}
	for _, c := range cases {
		if got := DaysInMonth(c.in); got != c.want {
			t.Fatalf("DaysInMonth(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}
