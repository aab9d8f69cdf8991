package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/sakuapp/saku/internal/domain/repository"
	"github.com/sakuapp/saku/pkg/helpers"
)

// ErrIdentityUnavailable means the user identity never resolved within the
// retry budget; the commit was deferred and ultimately dropped. Local state
// stays authoritative for the session.
var ErrIdentityUnavailable = errors.New("user identity not resolved")

// Identity reports whether the remote identity for a user is currently
// resolved. Commits are deferred while it is not.
type Identity interface {
	Resolved(ctx context.Context, userID string) bool
}

// SessionIdentity resolves identity from the Redis session hash written at
// login. No session, no identity: commits for a logged-out user park until
// the retry budget runs out.
type SessionIdentity struct {
	Redis *redis.Client
}

func (s *SessionIdentity) Resolved(ctx context.Context, userID string) bool {
	if s.Redis == nil || userID == "" {
		return false
	}
	n, err := s.Redis.Exists(ctx, "user:session:"+userID).Result()
	return err == nil && n > 0
}

// SyncFailure is published on the event queue when a commit fails for good.
// It is a notification, not a retry mechanism.
type SyncFailure struct {
	UserID  string `json:"user_id"`
	Version uint64 `json:"version"`
	Reason  string `json:"reason"`
}

type commitSlot struct {
	inflight bool
	pending  *repository.LedgerDocument // newest coalesced document, nil when drained
}

// Synchronizer pushes ledger documents to the remote store with merge
// semantics. Commits are at-least-once and keyed per user through a
// single-slot pending queue: while one commit is in flight, rapid successive
// mutations coalesce into a single follow-up flush, and the store's version
// guard makes the newest mutation win regardless of network arrival order.
type Synchronizer struct {
	Repo     repository.LedgerRepository
	Identity Identity
	Logger   *logrus.Logger
	Events   *helpers.RabbitPublisher // optional notification channel

	RetryInterval time.Duration // identity-not-ready poll interval
	WarnAfter     int           // log once this many retries have happened
	MaxRetries    int           // give up afterwards

	mu    sync.Mutex
	slots map[string]*commitSlot
	wg    sync.WaitGroup
}

func NewSynchronizer(repo repository.LedgerRepository, id Identity, logger *logrus.Logger, events *helpers.RabbitPublisher, retryInterval time.Duration, warnAfter, maxRetries int) *Synchronizer {
	if retryInterval <= 0 {
		retryInterval = 300 * time.Millisecond
	}
	if maxRetries <= 0 {
		maxRetries = 100
	}
	return &Synchronizer{
		Repo:          repo,
		Identity:      id,
		Logger:        logger,
		Events:        events,
		RetryInterval: retryInterval,
		WarnAfter:     warnAfter,
		MaxRetries:    maxRetries,
		slots:         map[string]*commitSlot{},
	}
}

// Commit schedules an asynchronous write-through of doc for userID and
// returns immediately. The caller's mutation is already visible locally;
// remote failure never rolls it back.
func (s *Synchronizer) Commit(userID string, doc *repository.LedgerDocument) {
	s.mu.Lock()
	slot, ok := s.slots[userID]
	if !ok {
		slot = &commitSlot{}
		s.slots[userID] = slot
	}
	if slot.inflight {
		// Coalesce: the newest document supersedes whatever was parked.
		slot.pending = doc
		s.mu.Unlock()
		return
	}
	slot.inflight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.drain(userID, doc)
}

// Wait blocks until every scheduled commit has drained. Used by shutdown
// paths and tests.
func (s *Synchronizer) Wait() {
	s.wg.Wait()
}

func (s *Synchronizer) drain(userID string, doc *repository.LedgerDocument) {
	defer s.wg.Done()
	for {
		s.flush(userID, doc)

		s.mu.Lock()
		slot := s.slots[userID]
		if slot.pending == nil {
			slot.inflight = false
			s.mu.Unlock()
			return
		}
		doc, slot.pending = slot.pending, nil
		s.mu.Unlock()
	}
}

func (s *Synchronizer) flush(userID string, doc *repository.LedgerDocument) {
	ctx := context.Background()

	if err := s.awaitIdentity(ctx, userID); err != nil {
		s.report(ctx, userID, doc.Version, err)
		return
	}

	err := s.Repo.Write(ctx, userID, doc, true)
	if errors.Is(err, repository.ErrStaleWrite) {
		// A newer commit already landed; this one is superseded, not failed.
		s.Logger.WithFields(logrus.Fields{"user_id": userID, "version": doc.Version}).
			Debug("ledger commit superseded")
		return
	}
	if err != nil {
		s.report(ctx, userID, doc.Version, err)
	}
}

func (s *Synchronizer) awaitIdentity(ctx context.Context, userID string) error {
	for attempt := 0; ; attempt++ {
		if s.Identity == nil || s.Identity.Resolved(ctx, userID) {
			return nil
		}
		if attempt == s.WarnAfter && s.WarnAfter > 0 {
			s.Logger.WithFields(logrus.Fields{"user_id": userID, "attempts": attempt}).
				Warn("ledger commit still waiting for identity")
		}
		if attempt >= s.MaxRetries {
			return ErrIdentityUnavailable
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.RetryInterval):
		}
	}
}

// report logs a persistence failure and pushes it onto the notification
// queue. Both are best-effort; the mutation already succeeded locally.
func (s *Synchronizer) report(ctx context.Context, userID string, version uint64, err error) {
	s.Logger.WithError(err).WithFields(logrus.Fields{"user_id": userID, "version": version}).
		Error("ledger commit failed; local state remains authoritative")
	if s.Events == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if pErr := s.Events.PublishJSON(pubCtx, SyncFailure{UserID: userID, Version: version, Reason: err.Error()}); pErr != nil {
		s.Logger.WithError(pErr).Warn("publish sync failure notification failed")
	}
}
