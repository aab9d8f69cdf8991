package application

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/sakuapp/saku/internal/budget"
	"github.com/sakuapp/saku/internal/domain/entity"
	"github.com/sakuapp/saku/internal/domain/repository"
)

// ReadyChannel is the Redis pub/sub channel carrying the user id of every
// freshly hydrated ledger. The presentation layer subscribes to it to know
// when to start rendering.
const ReadyChannel = "ledger:ready"

// ledgerSession is the exclusive in-memory owner of one user's aggregate for
// the lifetime of the session. The mutex stands in for the source model's
// run-to-completion event loop: one mutation at a time, no partial states.
type ledgerSession struct {
	mu     sync.Mutex
	ledger *entity.UserLedger
}

// AlertQueue is the sink for overspend alert jobs. *helpers.RabbitPublisher
// satisfies it.
type AlertQueue interface {
	PublishJSON(ctx context.Context, body any) error
}

// LedgerService is the ledger store plus bootstrap/hydration. Every mutator
// validates input, applies the change locally, bumps the aggregate version,
// and schedules a write-through commit. Mutations are visible locally the
// moment the call returns; the remote write is asynchronous and its failure
// never rolls local state back.
type LedgerService struct {
	Repo      repository.LedgerRepository
	Sync      *Synchronizer
	Redis     *redis.Client
	Logger    *logrus.Logger
	ES        *elasticsearch.Client
	ESTxIndex string
	Alerts    AlertQueue // overspend alert jobs
	Accounts  repository.AccountRepository

	Thresholds budget.Thresholds

	// Now is the clock used for all derivations; tests swap it out.
	Now func() time.Time

	mu       sync.Mutex
	sessions map[string]*ledgerSession
	alerted  map[string]string // userID -> date of the last overspend alert
}

func NewLedgerService(repo repository.LedgerRepository, syncer *Synchronizer, rdb *redis.Client, logger *logrus.Logger, es *elasticsearch.Client, esTxIndex string, alerts AlertQueue, accounts repository.AccountRepository, th budget.Thresholds) *LedgerService {
	if th.High <= 0 {
		th = budget.DefaultThresholds
	}
	return &LedgerService{
		Repo:       repo,
		Sync:       syncer,
		Redis:      rdb,
		Logger:     logger,
		ES:         es,
		ESTxIndex:  esTxIndex,
		Alerts:     alerts,
		Accounts:   accounts,
		Thresholds: th,
		Now:        time.Now,
		sessions:   map[string]*ledgerSession{},
		alerted:    map[string]string{},
	}
}

// Hydrate reads the remote document for userID and installs it as the
// session's ledger. A first-time user gets the default document (empty
// collections, zero monthly limit), which is written back verbatim. Missing
// optional fields never fail hydration; they take their defaults. A ready
// signal is published once the ledger is usable.
//
// Hydrate never fails on a bootstrap-write race or a dead store: losing the
// race means another session already created the document (re-read it), and
// a store outage leaves the local default authoritative with the commit
// deferred to the synchronizer. Concurrent callers converge on one session;
// a session installed by an earlier caller is reused, never replaced.
func (s *LedgerService) Hydrate(ctx context.Context, userID string) (*entity.UserLedger, error) {
	doc, err := s.Repo.Read(ctx, userID)
	if err != nil {
		return nil, err
	}

	var ledger *entity.UserLedger
	if doc == nil {
		ledger = entity.NewUserLedger(userID, s.Now())
		wErr := s.Repo.Write(ctx, userID, repository.DocumentFromLedger(ledger), false)
		switch {
		case wErr == nil:
			s.Logger.WithField("user_id", userID).Info("created default ledger document")
		case errors.Is(wErr, repository.ErrStaleWrite):
			// Another session bootstrapped this user first; use its document.
			if doc, err = s.Repo.Read(ctx, userID); err == nil && doc != nil {
				ledger = doc.ToLedger(userID)
			}
		default:
			s.Logger.WithError(wErr).WithField("user_id", userID).
				Warn("bootstrap write failed; local default ledger stays authoritative")
			s.Sync.Commit(userID, repository.DocumentFromLedger(ledger))
		}
	} else {
		ledger = doc.ToLedger(userID)
	}

	s.mu.Lock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &ledgerSession{ledger: ledger}
		s.sessions[userID] = sess
	}
	s.mu.Unlock()

	s.signalReady(ctx, userID)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.ledger.Clone(), nil
}

func (s *LedgerService) signalReady(ctx context.Context, userID string) {
	if s.Redis == nil {
		return
	}
	if err := s.Redis.Publish(ctx, ReadyChannel, userID).Err(); err != nil {
		s.Logger.WithError(err).WithField("user_id", userID).Warn("publish ready signal failed")
	}
	if err := s.Redis.HSet(ctx, "user:session:"+userID, "ledger_ready", true).Err(); err != nil {
		s.Logger.WithError(err).WithField("user_id", userID).Warn("set ledger_ready flag failed")
	}
}

// session returns the hydrated session for userID, hydrating on demand when
// a request arrives before the login path finished bootstrapping.
func (s *LedgerService) session(ctx context.Context, userID string) (*ledgerSession, error) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	s.mu.Unlock()
	if ok {
		return sess, nil
	}
	if _, err := s.Hydrate(ctx, userID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	sess = s.sessions[userID]
	s.mu.Unlock()
	return sess, nil
}

// mutate runs fn under the session lock; when fn reports a change, the
// version is bumped and a commit of the post-mutation snapshot is scheduled.
// The returned aggregate is a snapshot of the updated state.
func (s *LedgerService) mutate(ctx context.Context, userID string, fn func(l *entity.UserLedger) (bool, error)) (*entity.UserLedger, error) {
	sess, err := s.session(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	changed, err := fn(sess.ledger)
	if err != nil {
		return nil, err
	}
	snapshot := sess.ledger.Clone()
	if changed {
		sess.ledger.Version++
		snapshot = sess.ledger.Clone()
		s.Sync.Commit(userID, repository.DocumentFromLedger(snapshot))
	}
	return snapshot, nil
}

// Snapshot returns a copy of the current ledger for read paths.
func (s *LedgerService) Snapshot(ctx context.Context, userID string) (*entity.UserLedger, error) {
	sess, err := s.session(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.ledger.Clone(), nil
}

type AddTransactionInput struct {
	Merchant  string
	Category  string
	Amount    int64
	Sentiment string
	Timestamp time.Time // zero means now
}

// AddTransaction prepends a new transaction (newest first) and, when the day
// budget is exhausted afterwards, queues an overspend alert.
func (s *LedgerService) AddTransaction(ctx context.Context, userID string, in AddTransactionInput) (*entity.UserLedger, error) {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = s.Now()
	}
	tx, err := entity.NewTransaction(in.Merchant, in.Category, in.Amount, entity.Sentiment(in.Sentiment), ts)
	if err != nil {
		return nil, err
	}
	ledger, err := s.mutate(ctx, userID, func(l *entity.UserLedger) (bool, error) {
		l.Transactions = append([]entity.Transaction{tx}, l.Transactions...)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.indexTransaction(ctx, userID, tx)
	if budget.DailySafeSpend(ledger, s.Now()) == 0 {
		s.queueOverspendAlert(ctx, ledger)
	}
	return ledger, nil
}

func (s *LedgerService) AddFixedExpense(ctx context.Context, userID, name string, amount int64) (*entity.UserLedger, error) {
	fe, err := entity.NewFixedExpense(name, amount)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, func(l *entity.UserLedger) (bool, error) {
		l.FixedExpenses = append(l.FixedExpenses, fe)
		return true, nil
	})
}

// RemoveFixedExpense deletes by position; an out-of-range index is a no-op.
func (s *LedgerService) RemoveFixedExpense(ctx context.Context, userID string, index int) (*entity.UserLedger, error) {
	return s.mutate(ctx, userID, func(l *entity.UserLedger) (bool, error) {
		if index < 0 || index >= len(l.FixedExpenses) {
			return false, nil
		}
		l.FixedExpenses = append(l.FixedExpenses[:index], l.FixedExpenses[index+1:]...)
		return true, nil
	})
}

func (s *LedgerService) AddGoal(ctx context.Context, userID, name string, target int64, deadline time.Time) (*entity.UserLedger, error) {
	goal, err := entity.NewGoal(name, target, deadline, s.Now())
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, func(l *entity.UserLedger) (bool, error) {
		l.Goals = append(l.Goals, goal)
		return true, nil
	})
}

// RemoveGoal deletes by id; an unknown id is a no-op.
func (s *LedgerService) RemoveGoal(ctx context.Context, userID, goalID string) (*entity.UserLedger, error) {
	return s.mutate(ctx, userID, func(l *entity.UserLedger) (bool, error) {
		for i, g := range l.Goals {
			if g.ID == goalID {
				l.Goals = append(l.Goals[:i], l.Goals[i+1:]...)
				return true, nil
			}
		}
		return false, nil
	})
}

func (s *LedgerService) AddLoan(ctx context.Context, userID string, typ, counterparty string, amount int64, durationDays int) (*entity.UserLedger, error) {
	loan, err := entity.NewLoan(entity.LoanType(typ), counterparty, amount, durationDays)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, func(l *entity.UserLedger) (bool, error) {
		l.Loans = append(l.Loans, loan)
		return true, nil
	})
}

func (s *LedgerService) SetMonthlyLimit(ctx context.Context, userID string, limit int64) (*entity.UserLedger, error) {
	if limit < 0 {
		return nil, &entity.ValidationError{Field: "monthly_limit", Reason: "must be greater than or equal to 0"}
	}
	return s.mutate(ctx, userID, func(l *entity.UserLedger) (bool, error) {
		l.MonthlyLimit = limit
		return true, nil
	})
}

type UpdateProfileInput struct {
	Name      string
	Phone     string
	AvatarURL string
}

// UpdateProfile applies the non-empty fields of the partial update.
func (s *LedgerService) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (*entity.UserLedger, error) {
	if in.Name == "" && in.Phone == "" && in.AvatarURL == "" {
		return nil, &entity.ValidationError{Field: "profile", Reason: "is required"}
	}
	return s.mutate(ctx, userID, func(l *entity.UserLedger) (bool, error) {
		if in.Name != "" {
			l.Profile.Name = in.Name
		}
		if in.Phone != "" {
			l.Profile.Phone = in.Phone
		}
		if in.AvatarURL != "" {
			l.Profile.AvatarURL = in.AvatarURL
		}
		return true, nil
	})
}

type PostMessageInput struct {
	Type   string
	Author string
	Text   string
	Item   string
	Amount int64
}

// PostMessage appends a message to a group's thread. Posting to a group that
// does not exist yet creates it with no members.
func (s *LedgerService) PostMessage(ctx context.Context, userID, group string, in PostMessageInput) (*entity.UserLedger, error) {
	if group == "" {
		return nil, &entity.ValidationError{Field: "group", Reason: "is required"}
	}
	msg, err := entity.NewChatMessage(entity.MessageType(in.Type), in.Author, in.Text, in.Item, in.Amount, s.Now())
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, func(l *entity.UserLedger) (bool, error) {
		l.ChatGroups[group] = append(l.ChatGroups[group], msg)
		return true, nil
	})
}

// CreateGroup registers a named group with its member set. Creating a group
// that already exists is a no-op.
func (s *LedgerService) CreateGroup(ctx context.Context, userID, name string, members []entity.GroupMember) (*entity.UserLedger, error) {
	if name == "" {
		return nil, &entity.ValidationError{Field: "name", Reason: "is required"}
	}
	return s.mutate(ctx, userID, func(l *entity.UserLedger) (bool, error) {
		if _, exists := l.ChatGroups[name]; exists {
			return false, nil
		}
		l.ChatGroups[name] = []entity.ChatMessage{}
		l.GroupMembers[name] = members
		return true, nil
	})
}

// SafeSpend derives today's remaining safe-to-spend amount.
func (s *LedgerService) SafeSpend(ctx context.Context, userID string) (int64, error) {
	ledger, err := s.Snapshot(ctx, userID)
	if err != nil {
		return 0, err
	}
	return budget.DailySafeSpend(ledger, s.Now()), nil
}

// Heatmap derives the spending-intensity calendar for the current month.
func (s *LedgerService) Heatmap(ctx context.Context, userID string) ([]budget.DayCell, error) {
	ledger, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return budget.Heatmap(ledger, s.Now(), s.Thresholds), nil
}

// Sentiment derives the worthy/regret/neutral totals for the given filter.
func (s *LedgerService) Sentiment(ctx context.Context, userID string, filter budget.TimeFilter) (budget.SentimentTotals, error) {
	ledger, err := s.Snapshot(ctx, userID)
	if err != nil {
		return budget.SentimentTotals{}, err
	}
	return budget.SentimentRollup(ledger, s.Now(), filter), nil
}

func (s *LedgerService) indexTransaction(ctx context.Context, userID string, tx entity.Transaction) {
	if s.ES == nil || s.ESTxIndex == "" {
		return
	}
	doc := map[string]any{
		"user_id":   userID,
		"merchant":  tx.Merchant,
		"category":  tx.Category,
		"amount":    tx.Amount,
		"sentiment": tx.Sentiment,
		"timestamp": tx.Timestamp.Format(time.RFC3339Nano),
	}
	b, _ := json.Marshal(doc)
	req := esapi.IndexRequest{Index: s.ESTxIndex, DocumentID: tx.ID, Body: strings.NewReader(string(b)), Refresh: "false"}
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := req.Do(c, s.ES)
	if err != nil {
		s.Logger.WithError(err).WithField("transaction_id", tx.ID).Warn("es index failed")
		return
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		s.Logger.WithField("status", res.Status()).WithField("transaction_id", tx.ID).Warn("es index response error")
	}
}

// SearchTransactions performs a multi_match query over merchant and category
// for the user's indexed transactions.
func (s *LedgerService) SearchTransactions(ctx context.Context, userID, q string, size int) ([]map[string]any, error) {
	if s.ES == nil || s.ESTxIndex == "" {
		return []map[string]any{}, nil
	}
	if size <= 0 || size > 50 {
		size = 10
	}
	query := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": map[string]any{
					"multi_match": map[string]any{
						"query":  q,
						"fields": []string{"merchant^2", "category"},
					},
				},
				"filter": map[string]any{
					"term": map[string]any{"user_id": userID},
				},
			},
		},
		"size": size,
	}
	b, _ := json.Marshal(query)

	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := s.ES.Search(s.ES.Search.WithContext(c), s.ES.Search.WithIndex(s.ESTxIndex), s.ES.Search.WithBody(strings.NewReader(string(b))))
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string         `json:"_id"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

// shouldAlert marks userID as alerted for date and reports whether the alert
// is the first one that day. The in-memory map covers this process; the
// Redis SETNX covers restarts and other instances. The key is date-scoped,
// so the TTL is only cleanup.
func (s *LedgerService) shouldAlert(ctx context.Context, userID, date string) bool {
	s.mu.Lock()
	if s.alerted[userID] == date {
		s.mu.Unlock()
		return false
	}
	s.alerted[userID] = date
	s.mu.Unlock()

	if s.Redis != nil {
		ok, err := s.Redis.SetNX(ctx, "alert:overspend:"+userID+":"+date, 1, 48*time.Hour).Result()
		if err != nil {
			s.Logger.WithError(err).WithField("user_id", userID).Warn("overspend alert dedupe check failed")
			return true
		}
		return ok
	}
	return true
}

func (s *LedgerService) queueOverspendAlert(ctx context.Context, ledger *entity.UserLedger) {
	if s.Alerts == nil {
		return
	}
	if !s.shouldAlert(ctx, ledger.UserID, s.Now().UTC().Format("2006-01-02")) {
		return
	}
	email := ""
	if s.Accounts != nil {
		if acc, err := s.Accounts.GetByID(ledger.UserID); err == nil && acc != nil {
			email = acc.Email
		}
	}
	if email == "" {
		return
	}
	job := AlertJob{
		To:         email,
		Name:       ledger.Profile.Name,
		Date:       s.Now().UTC().Format("2006-01-02"),
		SpentToday: budget.SpentOn(ledger, s.Now()),
	}
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.Alerts.PublishJSON(pubCtx, job); err != nil {
		s.Logger.WithError(err).WithField("user_id", ledger.UserID).Warn("queue overspend alert failed")
	}
}

// AlertJob is the JSON payload put on the RabbitMQ queue for the alert
// worker when a user's safe-spend for the day hits zero.
type AlertJob struct {
	To         string `json:"to"`
	Name       string `json:"name,omitempty"`
	Date       string `json:"date"`
	SpentToday int64  `json:"spent_today"`
}
