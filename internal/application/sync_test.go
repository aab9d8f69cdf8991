package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/sakuapp/saku/internal/domain/repository"
)

// flakyIdentity resolves only after a fixed number of failed lookups.
type flakyIdentity struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyIdentity) Resolved(ctx context.Context, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.calls > f.failures
}

type deniedIdentity struct{}

func (deniedIdentity) Resolved(ctx context.Context, userID string) bool { return false }

func docAt(v uint64) *repository.LedgerDocument {
	return &repository.LedgerDocument{Version: v}
}

func TestSynchronizer_DefaultsApplied(t *testing.T) {
	s := NewSynchronizer(newFakeLedgerRepo(), nil, discardLogger(), nil, 0, 0, 0)
	if s.RetryInterval != 300*time.Millisecond {
		t.Fatalf("RetryInterval = %v, want 300ms", s.RetryInterval)
	}
	if s.MaxRetries != 100 {
		t.Fatalf("MaxRetries = %d, want 100", s.MaxRetries)
	}
}

func TestSynchronizer_CoalescesWhileInFlight(t *testing.T) {
	repo := newFakeLedgerRepo()
	repo.enter = make(chan struct{}, 8)
	repo.release = make(chan struct{})
	s := NewSynchronizer(repo, nil, discardLogger(), nil, time.Millisecond, 0, 10)

	s.Commit("u1", docAt(1))
	<-repo.enter // first write is now in flight

	// these land while the first write is blocked and must collapse to one
	s.Commit("u1", docAt(2))
	s.Commit("u1", docAt(3))

	close(repo.release)
	s.Wait()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.writes) != 2 {
		t.Fatalf("writes = %d, want 2 (coalesced)", len(repo.writes))
	}
	if repo.writes[0].version != 1 || repo.writes[1].version != 3 {
		t.Fatalf("write versions = %v, want [1 3]", repo.writes)
	}
}

func TestSynchronizer_DefersUntilIdentityResolves(t *testing.T) {
	repo := newFakeLedgerRepo()
	id := &flakyIdentity{failures: 3}
	s := NewSynchronizer(repo, id, discardLogger(), nil, time.Millisecond, 0, 50)

	s.Commit("u1", docAt(1))
	s.Wait()

	if repo.writeCount() != 1 {
		t.Fatalf("writes = %d, want 1 after identity resolved", repo.writeCount())
	}
	id.mu.Lock()
	calls := id.calls
	id.mu.Unlock()
	if calls != 4 {
		t.Fatalf("identity lookups = %d, want 4 (3 failures then success)", calls)
	}
}

func TestSynchronizer_GivesUpAfterRetryBudget(t *testing.T) {
	repo := newFakeLedgerRepo()
	logger, hook := logrustest.NewNullLogger()
	s := NewSynchronizer(repo, deniedIdentity{}, logger, nil, time.Millisecond, 2, 3)

	s.Commit("u1", docAt(1))
	s.Wait()

	if repo.writeCount() != 0 {
		t.Fatalf("writes = %d, want 0 when identity never resolves", repo.writeCount())
	}
	var failed bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			failed = true
		}
	}
	if !failed {
		t.Fatal("giving up must log the failure")
	}
}

func TestSynchronizer_StaleWriteIsSupersededNotFailed(t *testing.T) {
	repo := newFakeLedgerRepo()
	repo.docs["u1"] = docAt(5)
	logger, hook := logrustest.NewNullLogger()
	s := NewSynchronizer(repo, nil, logger, nil, time.Millisecond, 0, 3)

	s.Commit("u1", docAt(3))
	s.Wait()

	if repo.doc("u1").Version != 5 {
		t.Fatalf("stored version = %d, stale write must not clobber", repo.doc("u1").Version)
	}
	for _, e := range hook.AllEntries() {
		if e.Level <= logrus.ErrorLevel {
			t.Fatalf("superseded write logged at %v: %s", e.Level, e.Message)
		}
	}
}

func TestSynchronizer_IndependentUsersDoNotCoalesce(t *testing.T) {
	repo := newFakeLedgerRepo()
	s := NewSynchronizer(repo, nil, discardLogger(), nil, time.Millisecond, 0, 3)

	s.Commit("u1", docAt(1))
	s.Commit("u2", docAt(1))
	s.Wait()

	if repo.writeCount() != 2 {
		t.Fatalf("writes = %d, want 2", repo.writeCount())
	}
	if repo.doc("u1") == nil || repo.doc("u2") == nil {
		t.Fatal("both users must have documents")
	}
}
