package entity

import (
	"errors"
	"testing"
	"time"
)

var now = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func TestNewUserLedger_Defaults(t *testing.T) {
	l := NewUserLedger("u1", now)
	if l.MonthlyLimit != 0 {
		t.Fatalf("MonthlyLimit = %d, want 0", l.MonthlyLimit)
	}
	if len(l.Transactions) != 0 || len(l.FixedExpenses) != 0 || len(l.Goals) != 0 || len(l.Loans) != 0 {
		t.Fatal("new ledger must have empty collections")
	}
	if l.ChatGroups == nil || l.GroupMembers == nil {
		t.Fatal("group maps must be initialized")
	}
	if l.Version != 0 {
		t.Fatalf("Version = %d, want 0", l.Version)
	}
}

func TestNewTransaction_Validation(t *testing.T) {
	if _, err := NewTransaction("", "food", 10, SentimentWorthy, now); !isValidation(err, "merchant") {
		t.Fatalf("missing merchant: got %v", err)
	}
	if _, err := NewTransaction("Shop", "food", 0, SentimentWorthy, now); !isValidation(err, "amount") {
		t.Fatalf("zero amount: got %v", err)
	}
	if _, err := NewTransaction("Shop", "food", 10, "meh", now); !isValidation(err, "sentiment") {
		t.Fatalf("bad sentiment: got %v", err)
	}

	tx, err := NewTransaction("Shop", "food", 10, "", now)
	if err != nil {
		t.Fatalf("empty sentiment should default: %v", err)
	}
	if tx.Sentiment != SentimentNeutral {
		t.Fatalf("Sentiment = %q, want neutral", tx.Sentiment)
	}
	if tx.ID == "" {
		t.Fatal("transaction must get an id")
	}
}

func TestNewGoal_CeilingProperty(t *testing.T) {
	cases := []struct {
		target int64
		days   int
	}{
		{9000, 90},
		{1000, 3},
		{1, 365},
		{999, 7},
		{30000, 1},
	}
	for _, c := range cases {
		g, err := NewGoal("g", c.target, now.AddDate(0, 0, c.days), now)
		if err != nil {
			t.Fatalf("NewGoal(%d, %d days): %v", c.target, c.days, err)
		}
		if g.DaysRemaining != c.days {
			t.Fatalf("DaysRemaining = %d, want %d", g.DaysRemaining, c.days)
		}
		if g.DailyContribution*int64(g.DaysRemaining) < g.TargetAmount {
			t.Fatalf("contribution %d x %d days < target %d", g.DailyContribution, g.DaysRemaining, g.TargetAmount)
		}
		// ceil means one less daily contribution must fall short
		if g.DailyContribution > 1 && (g.DailyContribution-1)*int64(g.DaysRemaining) >= g.TargetAmount {
			t.Fatalf("contribution %d is not minimal for target %d over %d days", g.DailyContribution, g.TargetAmount, g.DaysRemaining)
		}
	}
}

func TestNewGoal_PastDeadlineCollapsesToOneDay(t *testing.T) {
	g, err := NewGoal("late", 500, now.AddDate(0, 0, -10), now)
	if err != nil {
		t.Fatalf("NewGoal: %v", err)
	}
	if g.DaysRemaining != 1 || g.DailyContribution != 500 {
		t.Fatalf("got days=%d contribution=%d, want 1 and 500", g.DaysRemaining, g.DailyContribution)
	}
}

func TestNewLoan_Derivation(t *testing.T) {
	loan, err := NewLoan(LoanBorrow, "Andi", 10000, 50)
	if err != nil {
		t.Fatalf("NewLoan: %v", err)
	}
	if loan.DailyAmount != 200 {
		t.Fatalf("DailyAmount = %d, want 200", loan.DailyAmount)
	}

	// floor division
	loan, err = NewLoan(LoanLend, "Budi", 100, 3)
	if err != nil {
		t.Fatalf("NewLoan: %v", err)
	}
	if loan.DailyAmount != 33 {
		t.Fatalf("DailyAmount = %d, want 33", loan.DailyAmount)
	}
}

func TestNewLoan_RejectsZeroDuration(t *testing.T) {
	if _, err := NewLoan(LoanBorrow, "Andi", 1000, 0); !isValidation(err, "duration_days") {
		t.Fatalf("zero duration: got %v", err)
	}
	if _, err := NewLoan(LoanBorrow, "Andi", 1000, -5); !isValidation(err, "duration_days") {
		t.Fatalf("negative duration: got %v", err)
	}
	if _, err := NewLoan("gift", "Andi", 1000, 10); !isValidation(err, "type") {
		t.Fatalf("bad type: got %v", err)
	}
}

func TestNewChatMessage_Validation(t *testing.T) {
	if _, err := NewChatMessage(MessageText, "ana", "", "", 0, now); !isValidation(err, "text") {
		t.Fatalf("empty text: got %v", err)
	}
	if _, err := NewChatMessage(MessageSplit, "ana", "", "dinner", 0, now); !isValidation(err, "amount") {
		t.Fatalf("split without amount: got %v", err)
	}
	if _, err := NewChatMessage(MessageSplit, "", "", "dinner", 100, now); !isValidation(err, "author") {
		t.Fatalf("missing author: got %v", err)
	}
	msg, err := NewChatMessage(MessageSplit, "ana", "", "dinner", 100, now)
	if err != nil {
		t.Fatalf("valid split message: %v", err)
	}
	if msg.Item != "dinner" || msg.Amount != 100 {
		t.Fatalf("split message = %+v", msg)
	}
}

func TestClone_IsIndependent(t *testing.T) {
	l := NewUserLedger("u1", now)
	tx, _ := NewTransaction("Shop", "food", 10, SentimentWorthy, now)
	l.Transactions = append(l.Transactions, tx)
	l.ChatGroups["trip"] = []ChatMessage{{Type: MessageSystem, Author: "saku", Text: "created", Timestamp: now}}

	cp := l.Clone()
	cp.Transactions[0].Amount = 999
	cp.ChatGroups["trip"] = append(cp.ChatGroups["trip"], ChatMessage{Type: MessageText, Author: "ana", Text: "hi", Timestamp: now})
	cp.MonthlyLimit = 42

	if l.Transactions[0].Amount != 10 {
		t.Fatal("clone shares transaction backing array")
	}
	if len(l.ChatGroups["trip"]) != 1 {
		t.Fatal("clone shares chat group map")
	}
	if l.MonthlyLimit != 0 {
		t.Fatal("clone shares scalar state")
	}
}

func TestDaysBetween_IgnoresTimeOfDay(t *testing.T) {
	late := time.Date(2025, time.June, 15, 23, 59, 0, 0, time.UTC)
	early := time.Date(2025, time.June, 16, 0, 1, 0, 0, time.UTC)
	if got := DaysBetween(late, early); got != 1 {
		t.Fatalf("DaysBetween = %d, want 1", got)
	}
	if got := DaysBetween(early, late); got != -1 {
		t.Fatalf("DaysBetween reversed = %d, want -1", got)
	}
}

func isValidation(err error, field string) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr) && vErr.Field == field
}
