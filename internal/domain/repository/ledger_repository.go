package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sakuapp/saku/internal/domain/entity"
)

// ErrStaleWrite is returned by Write when the store already holds a document
// with a version at or above the one being committed. The caller treats the
// commit as superseded, not failed.
var ErrStaleWrite = errors.New("stale ledger version")

// LedgerRepository is the remote document store: one flat document per user,
// keyed by user id. Read returns (nil, nil) when no document exists. Write
// with merge=true preserves remote fields absent from the supplied document.
type LedgerRepository interface {
	Read(ctx context.Context, userID string) (*LedgerDocument, error)
	Write(ctx context.Context, userID string, doc *LedgerDocument, merge bool) error
}

// LedgerDocument is the wire shape of the remote document. Field names are
// part of the stored format; do not rename without a migration.
type LedgerDocument struct {
	Name          string                         `json:"name"`
	Phone         string                         `json:"phone"`
	Avatar        string                         `json:"avatar"`
	MonthlyLimit  int64                          `json:"monthlyLimit"`
	Transactions  []TransactionRecord            `json:"transactions"`
	FixedExpenses []FixedExpenseRecord           `json:"fixedExpenses"`
	Goals         []GoalRecord                   `json:"goals"`
	Loans         []LoanRecord                   `json:"loans"`
	ChatGroups    map[string][]MessageRecord     `json:"chatGroups"`
	GroupMembers  map[string][]GroupMemberRecord `json:"groupMembers"`
	CreatedAt     time.Time                      `json:"createdAt"`
	Version       uint64                         `json:"version"`
}

type TransactionRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Merchant  string    `json:"merchant"`
	Category  string    `json:"category"`
	Amount    int64     `json:"amount"`
	Sentiment string    `json:"sentiment"`
}

type FixedExpenseRecord struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

type GoalRecord struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	TargetAmount      int64     `json:"targetAmount"`
	Deadline          time.Time `json:"deadline"`
	DailyContribution int64     `json:"dailyContribution"`
	DaysRemaining     int       `json:"daysRemaining"`
}

type LoanRecord struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Counterparty string `json:"counterparty"`
	Amount       int64  `json:"amount"`
	DurationDays int    `json:"durationDays"`
	DailyAmount  int64  `json:"dailyAmount"`
}

type MessageRecord struct {
	Type      string    `json:"type"`
	Author    string    `json:"author"`
	Text      string    `json:"text,omitempty"`
	Item      string    `json:"item,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type GroupMemberRecord struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// DocumentFromLedger serializes the aggregate into the remote document shape.
func DocumentFromLedger(l *entity.UserLedger) *LedgerDocument {
	doc := &LedgerDocument{
		Name:          l.Profile.Name,
		Phone:         l.Profile.Phone,
		Avatar:        l.Profile.AvatarURL,
		MonthlyLimit:  l.MonthlyLimit,
		Transactions:  make([]TransactionRecord, 0, len(l.Transactions)),
		FixedExpenses: make([]FixedExpenseRecord, 0, len(l.FixedExpenses)),
		Goals:         make([]GoalRecord, 0, len(l.Goals)),
		Loans:         make([]LoanRecord, 0, len(l.Loans)),
		ChatGroups:    map[string][]MessageRecord{},
		GroupMembers:  map[string][]GroupMemberRecord{},
		CreatedAt:     l.CreatedAt,
		Version:       l.Version,
	}
	for _, t := range l.Transactions {
		doc.Transactions = append(doc.Transactions, TransactionRecord{
			ID: t.ID, Timestamp: t.Timestamp, Merchant: t.Merchant,
			Category: t.Category, Amount: t.Amount, Sentiment: string(t.Sentiment),
		})
	}
	for _, f := range l.FixedExpenses {
		doc.FixedExpenses = append(doc.FixedExpenses, FixedExpenseRecord{Name: f.Name, Amount: f.Amount})
	}
	for _, g := range l.Goals {
		doc.Goals = append(doc.Goals, GoalRecord{
			ID: g.ID, Name: g.Name, TargetAmount: g.TargetAmount, Deadline: g.Deadline,
			DailyContribution: g.DailyContribution, DaysRemaining: g.DaysRemaining,
		})
	}
	for _, lo := range l.Loans {
		doc.Loans = append(doc.Loans, LoanRecord{
			ID: lo.ID, Type: string(lo.Type), Counterparty: lo.Counterparty,
			Amount: lo.Amount, DurationDays: lo.DurationDays, DailyAmount: lo.DailyAmount,
		})
	}
	for group, msgs := range l.ChatGroups {
		recs := make([]MessageRecord, 0, len(msgs))
		for _, m := range msgs {
			recs = append(recs, MessageRecord{
				Type: string(m.Type), Author: m.Author, Text: m.Text,
				Item: m.Item, Amount: m.Amount, Timestamp: m.Timestamp,
			})
		}
		doc.ChatGroups[group] = recs
	}
	for group, members := range l.GroupMembers {
		recs := make([]GroupMemberRecord, 0, len(members))
		for _, m := range members {
			recs = append(recs, GroupMemberRecord{Name: m.Name, Phone: m.Phone, Email: m.Email})
		}
		doc.GroupMembers[group] = recs
	}
	return doc
}

// ToLedger maps a remote document onto a fresh aggregate. Missing optional
// fields take their zero defaults; hydration never fails on them.
func (d *LedgerDocument) ToLedger(userID string) *entity.UserLedger {
	l := entity.NewUserLedger(userID, d.CreatedAt)
	if !d.CreatedAt.IsZero() {
		l.CreatedAt = d.CreatedAt
	}
	l.Profile = entity.Profile{Name: d.Name, Phone: d.Phone, AvatarURL: d.Avatar}
	if d.MonthlyLimit > 0 {
		l.MonthlyLimit = d.MonthlyLimit
	}
	l.Version = d.Version
	for _, t := range d.Transactions {
		sentiment := entity.Sentiment(t.Sentiment)
		if sentiment != entity.SentimentWorthy && sentiment != entity.SentimentRegret {
			sentiment = entity.SentimentNeutral
		}
		l.Transactions = append(l.Transactions, entity.Transaction{
			ID: t.ID, Timestamp: t.Timestamp, Merchant: t.Merchant,
			Category: t.Category, Amount: t.Amount, Sentiment: sentiment,
		})
	}
	for _, f := range d.FixedExpenses {
		l.FixedExpenses = append(l.FixedExpenses, entity.FixedExpense{Name: f.Name, Amount: f.Amount})
	}
	for _, g := range d.Goals {
		l.Goals = append(l.Goals, entity.Goal{
			ID: g.ID, Name: g.Name, TargetAmount: g.TargetAmount, Deadline: g.Deadline,
			DailyContribution: g.DailyContribution, DaysRemaining: g.DaysRemaining,
		})
	}
	for _, lo := range d.Loans {
		typ := entity.LoanType(lo.Type)
		if typ != entity.LoanLend {
			typ = entity.LoanBorrow
		}
		l.Loans = append(l.Loans, entity.Loan{
			ID: lo.ID, Type: typ, Counterparty: lo.Counterparty,
			Amount: lo.Amount, DurationDays: lo.DurationDays, DailyAmount: lo.DailyAmount,
		})
	}
	for group, msgs := range d.ChatGroups {
		out := make([]entity.ChatMessage, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, entity.ChatMessage{
				Type: entity.MessageType(m.Type), Author: m.Author, Text: m.Text,
				Item: m.Item, Amount: m.Amount, Timestamp: m.Timestamp,
			})
		}
		l.ChatGroups[group] = out
	}
	for group, members := range d.GroupMembers {
		out := make([]entity.GroupMember, 0, len(members))
		for _, m := range members {
			out = append(out, entity.GroupMember{Name: m.Name, Phone: m.Phone, Email: m.Email})
		}
		l.GroupMembers[group] = out
	}
	return l
}
