package entity

import (
	"time"

	"github.com/google/uuid"
)

// Sentiment is the user-assigned emotional tag on a transaction, used for
// retrospective spending analysis.
type Sentiment string

const (
	SentimentWorthy  Sentiment = "worthy"
	SentimentRegret  Sentiment = "regret"
	SentimentNeutral Sentiment = "neutral"
)

// LoanType distinguishes money the user owes (borrow) from money owed to the
// user (lend). Only borrow loans reduce the daily budget.
type LoanType string

const (
	LoanBorrow LoanType = "borrow"
	LoanLend   LoanType = "lend"
)

// MessageType classifies a group chat message.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSplit  MessageType = "split"
	MessageSystem MessageType = "system"
)

type Profile struct {
	Name      string
	Phone     string
	AvatarURL string
}

type FixedExpense struct {
	Name   string
	Amount int64
}

// Transaction is immutable once created; there is no edit operation.
type Transaction struct {
	ID        string
	Timestamp time.Time
	Merchant  string
	Category  string
	Amount    int64
	Sentiment Sentiment
}

// Goal is a savings goal. DailyContribution is computed once at creation and
// intentionally not recomputed as the deadline approaches.
type Goal struct {
	ID                string
	Name              string
	TargetAmount      int64
	Deadline          time.Time
	DailyContribution int64
	DaysRemaining     int
}

type Loan struct {
	ID           string
	Type         LoanType
	Counterparty string
	Amount       int64
	DurationDays int
	DailyAmount  int64
}

type ChatMessage struct {
	Type      MessageType
	Author    string
	Text      string
	Item      string
	Amount    int64
	Timestamp time.Time
}

type GroupMember struct {
	Name  string
	Phone string
	Email string
}

// UserLedger is the root aggregate for one signed-in user. It is owned
// exclusively by the session that hydrated it; all mutation goes through the
// ledger service, never through direct field writes from other packages.
type UserLedger struct {
	UserID        string
	Profile       Profile
	MonthlyLimit  int64
	FixedExpenses []FixedExpense
	Transactions  []Transaction // newest first
	Goals         []Goal
	Loans         []Loan
	ChatGroups    map[string][]ChatMessage
	GroupMembers  map[string][]GroupMember
	CreatedAt     time.Time

	// Version increases on every successful mutation. The document store
	// rejects writes carrying an older version than the one it holds, so a
	// slow network response can never clobber a newer commit.
	Version uint64
}

// NewUserLedger returns the lazily-created first-login aggregate: empty
// collections and a zero monthly limit.
func NewUserLedger(userID string, now time.Time) *UserLedger {
	return &UserLedger{
		UserID:       userID,
		ChatGroups:   map[string][]ChatMessage{},
		GroupMembers: map[string][]GroupMember{},
		CreatedAt:    now.UTC(),
	}
}

// NewTransaction validates and builds a transaction. An empty sentiment
// defaults to neutral; anything else outside the known set is rejected.
func NewTransaction(merchant, category string, amount int64, sentiment Sentiment, ts time.Time) (Transaction, error) {
	if merchant == "" {
		return Transaction{}, &ValidationError{Field: "merchant", Reason: "is required"}
	}
	if amount <= 0 {
		return Transaction{}, &ValidationError{Field: "amount", Reason: "must be greater than 0"}
	}
	switch sentiment {
	case SentimentWorthy, SentimentRegret, SentimentNeutral:
	case "":
		sentiment = SentimentNeutral
	default:
		return Transaction{}, &ValidationError{Field: "sentiment", Reason: "must be one of: worthy, regret, neutral"}
	}
	return Transaction{
		ID:        uuid.NewString(),
		Timestamp: ts.UTC(),
		Merchant:  merchant,
		Category:  category,
		Amount:    amount,
		Sentiment: sentiment,
	}, nil
}

// NewFixedExpense validates a recurring monthly cost.
func NewFixedExpense(name string, amount int64) (FixedExpense, error) {
	if name == "" {
		return FixedExpense{}, &ValidationError{Field: "name", Reason: "is required"}
	}
	if amount < 0 {
		return FixedExpense{}, &ValidationError{Field: "amount", Reason: "must be greater than or equal to 0"}
	}
	return FixedExpense{Name: name, Amount: amount}, nil
}

// NewGoal validates a savings goal and derives its daily contribution:
// ceil(target / max(daysUntil(deadline), 1)). A past deadline collapses to a
// single day, making the whole target due today.
func NewGoal(name string, target int64, deadline time.Time, now time.Time) (Goal, error) {
	if name == "" {
		return Goal{}, &ValidationError{Field: "name", Reason: "is required"}
	}
	if target <= 0 {
		return Goal{}, &ValidationError{Field: "target_amount", Reason: "must be greater than 0"}
	}
	if deadline.IsZero() {
		return Goal{}, &ValidationError{Field: "deadline", Reason: "is required"}
	}
	days := DaysBetween(now, deadline)
	if days < 1 {
		days = 1
	}
	return Goal{
		ID:                uuid.NewString(),
		Name:              name,
		TargetAmount:      target,
		Deadline:          deadline.UTC(),
		DailyContribution: ceilDiv(target, int64(days)),
		DaysRemaining:     days,
	}, nil
}

// NewLoan validates a peer loan and derives its daily amount:
// floor(amount / durationDays). A zero duration is rejected outright so the
// derivation layer never has to guard against division by zero.
func NewLoan(typ LoanType, counterparty string, amount int64, durationDays int) (Loan, error) {
	if typ != LoanBorrow && typ != LoanLend {
		return Loan{}, &ValidationError{Field: "type", Reason: "must be one of: borrow, lend"}
	}
	if counterparty == "" {
		return Loan{}, &ValidationError{Field: "counterparty", Reason: "is required"}
	}
	if amount <= 0 {
		return Loan{}, &ValidationError{Field: "amount", Reason: "must be greater than 0"}
	}
	if durationDays <= 0 {
		return Loan{}, &ValidationError{Field: "duration_days", Reason: "must be greater than 0"}
	}
	return Loan{
		ID:           uuid.NewString(),
		Type:         typ,
		Counterparty: counterparty,
		Amount:       amount,
		DurationDays: durationDays,
		DailyAmount:  amount / int64(durationDays),
	}, nil
}

// NewChatMessage validates a group message. Split messages carry an item and
// amount instead of free text.
func NewChatMessage(typ MessageType, author string, text, item string, amount int64, ts time.Time) (ChatMessage, error) {
	switch typ {
	case MessageText, MessageSystem:
		if text == "" {
			return ChatMessage{}, &ValidationError{Field: "text", Reason: "is required"}
		}
	case MessageSplit:
		if item == "" {
			return ChatMessage{}, &ValidationError{Field: "item", Reason: "is required"}
		}
		if amount <= 0 {
			return ChatMessage{}, &ValidationError{Field: "amount", Reason: "must be greater than 0"}
		}
	default:
		return ChatMessage{}, &ValidationError{Field: "type", Reason: "must be one of: text, split, system"}
	}
	if author == "" {
		return ChatMessage{}, &ValidationError{Field: "author", Reason: "is required"}
	}
	return ChatMessage{Type: typ, Author: author, Text: text, Item: item, Amount: amount, Timestamp: ts.UTC()}, nil
}

// Clone returns a deep copy of the aggregate. The synchronizer serializes a
// clone so in-flight commits never observe a half-applied mutation.
func (l *UserLedger) Clone() *UserLedger {
	cp := *l
	cp.FixedExpenses = append([]FixedExpense(nil), l.FixedExpenses...)
	cp.Transactions = append([]Transaction(nil), l.Transactions...)
	cp.Goals = append([]Goal(nil), l.Goals...)
	cp.Loans = append([]Loan(nil), l.Loans...)
	cp.ChatGroups = make(map[string][]ChatMessage, len(l.ChatGroups))
	for g, msgs := range l.ChatGroups {
		cp.ChatGroups[g] = append([]ChatMessage(nil), msgs...)
	}
	cp.GroupMembers = make(map[string][]GroupMember, len(l.GroupMembers))
	for g, members := range l.GroupMembers {
		cp.GroupMembers[g] = append([]GroupMember(nil), members...)
	}
	return &cp
}

// DaysBetween returns the whole calendar days from the date of `from` to the
// date of `to`, ignoring the time of day on both ends.
func DaysBetween(from, to time.Time) int {
	f := from.UTC()
	t := to.UTC()
	fd := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	td := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(td.Sub(fd) / (24 * time.Hour))
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
