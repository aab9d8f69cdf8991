package handlers

import (
	"time"

	"github.com/sakuapp/saku/internal/domain/entity"
)

// View types decouple the JSON surface from the domain structs so field
// renames inside the aggregate never leak into the API contract.

type LedgerView struct {
	Profile       ProfileView                  `json:"profile"`
	MonthlyLimit  int64                        `json:"monthly_limit"`
	FixedExpenses []FixedExpenseView           `json:"fixed_expenses"`
	Transactions  []TransactionView            `json:"transactions"`
	Goals         []GoalView                   `json:"goals"`
	Loans         []LoanView                   `json:"loans"`
	ChatGroups    map[string][]MessageView     `json:"chat_groups"`
	GroupMembers  map[string][]GroupMemberView `json:"group_members"`
	CreatedAt     time.Time                    `json:"created_at"`
	Version       uint64                       `json:"version"`
}

type ProfileView struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	AvatarURL string `json:"avatar_url"`
}

type FixedExpenseView struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

type TransactionView struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Merchant  string    `json:"merchant"`
	Category  string    `json:"category"`
	Amount    int64     `json:"amount"`
	Sentiment string    `json:"sentiment"`
}

type GoalView struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	TargetAmount      int64     `json:"target_amount"`
	Deadline          time.Time `json:"deadline"`
	DailyContribution int64     `json:"daily_contribution"`
	DaysRemaining     int       `json:"days_remaining"`
}

type LoanView struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Counterparty string `json:"counterparty"`
	Amount       int64  `json:"amount"`
	DurationDays int    `json:"duration_days"`
	DailyAmount  int64  `json:"daily_amount"`
}

type MessageView struct {
	Type      string    `json:"type"`
	Author    string    `json:"author"`
	Text      string    `json:"text,omitempty"`
	Item      string    `json:"item,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type GroupMemberView struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

func ledgerView(l *entity.UserLedger) LedgerView {
	v := LedgerView{
		Profile:       ProfileView{Name: l.Profile.Name, Phone: l.Profile.Phone, AvatarURL: l.Profile.AvatarURL},
		MonthlyLimit:  l.MonthlyLimit,
		FixedExpenses: make([]FixedExpenseView, 0, len(l.FixedExpenses)),
		Transactions:  make([]TransactionView, 0, len(l.Transactions)),
		Goals:         make([]GoalView, 0, len(l.Goals)),
		Loans:         make([]LoanView, 0, len(l.Loans)),
		ChatGroups:    map[string][]MessageView{},
		GroupMembers:  map[string][]GroupMemberView{},
		CreatedAt:     l.CreatedAt,
		Version:       l.Version,
	}
	for _, f := range l.FixedExpenses {
		v.FixedExpenses = append(v.FixedExpenses, FixedExpenseView{Name: f.Name, Amount: f.Amount})
	}
	for _, t := range l.Transactions {
		v.Transactions = append(v.Transactions, TransactionView{
			ID: t.ID, Timestamp: t.Timestamp, Merchant: t.Merchant,
			Category: t.Category, Amount: t.Amount, Sentiment: string(t.Sentiment),
		})
	}
	for _, g := range l.Goals {
		v.Goals = append(v.Goals, GoalView{
			ID: g.ID, Name: g.Name, TargetAmount: g.TargetAmount, Deadline: g.Deadline,
			DailyContribution: g.DailyContribution, DaysRemaining: g.DaysRemaining,
		})
	}
	for _, lo := range l.Loans {
		v.Loans = append(v.Loans, LoanView{
			ID: lo.ID, Type: string(lo.Type), Counterparty: lo.Counterparty,
			Amount: lo.Amount, DurationDays: lo.DurationDays, DailyAmount: lo.DailyAmount,
		})
	}
	for group, msgs := range l.ChatGroups {
		out := make([]MessageView, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, MessageView{
				Type: string(m.Type), Author: m.Author, Text: m.Text,
				Item: m.Item, Amount: m.Amount, Timestamp: m.Timestamp,
			})
		}
		v.ChatGroups[group] = out
	}
	for group, members := range l.GroupMembers {
		out := make([]GroupMemberView, 0, len(members))
		for _, m := range members {
			out = append(out, GroupMemberView{Name: m.Name, Phone: m.Phone, Email: m.Email})
		}
		v.GroupMembers[group] = out
	}
	return v
}
