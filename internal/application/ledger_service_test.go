package application

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sakuapp/saku/internal/budget"
	"github.com/sakuapp/saku/internal/domain/entity"
	"github.com/sakuapp/saku/internal/domain/repository"
)

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

type fakeWrite struct {
	userID  string
	version uint64
	merge   bool
}

// fakeLedgerRepo is an in-memory document store with the same version guard
// as the real one. enter/release let a test hold a write in flight.
type fakeLedgerRepo struct {
	mu       sync.Mutex
	docs     map[string]*repository.LedgerDocument
	writes   []fakeWrite
	writeErr error

	enter   chan struct{}
	release chan struct{}
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{docs: map[string]*repository.LedgerDocument{}}
}

func (r *fakeLedgerRepo) Read(ctx context.Context, userID string) (*repository.LedgerDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs[userID], nil
}

func (r *fakeLedgerRepo) Write(ctx context.Context, userID string, doc *repository.LedgerDocument, merge bool) error {
	if r.enter != nil {
		r.enter <- struct{}{}
	}
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	if cur, ok := r.docs[userID]; ok && doc.Version <= cur.Version {
		return repository.ErrStaleWrite
	}
	r.docs[userID] = doc
	r.writes = append(r.writes, fakeWrite{userID: userID, version: doc.Version, merge: merge})
	return nil
}

func (r *fakeLedgerRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func (r *fakeLedgerRepo) doc(userID string) *repository.LedgerDocument {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs[userID]
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestService(repo *fakeLedgerRepo) *LedgerService {
	syncer := NewSynchronizer(repo, nil, discardLogger(), nil, time.Millisecond, 0, 3)
	svc := NewLedgerService(repo, syncer, nil, discardLogger(), nil, "", nil, nil, budget.Thresholds{})
	svc.Now = func() time.Time { return testNow }
	return svc
}

func TestHydrate_FirstTimeWritesDefaultDocument(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo)

	ledger, err := svc.Hydrate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if ledger.Version != 0 || ledger.MonthlyLimit != 0 || len(ledger.Transactions) != 0 {
		t.Fatalf("default ledger = %+v", ledger)
	}

	if repo.writeCount() != 1 {
		t.Fatalf("writes = %d, want 1", repo.writeCount())
	}
	w := repo.writes[0]
	if w.merge || w.version != 0 {
		t.Fatalf("bootstrap write = %+v, want plain write at version 0", w)
	}
	doc := repo.doc("u1")
	if doc.MonthlyLimit != 0 || len(doc.Transactions) != 0 || len(doc.Goals) != 0 {
		t.Fatalf("stored default doc = %+v", doc)
	}
}

// staleBootstrapRepo loses the first-login bootstrap race: the first read
// finds nothing, the bootstrap write is rejected as stale, and the re-read
// returns the document the winner stored.
type staleBootstrapRepo struct {
	stored *repository.LedgerDocument
	reads  int
	writes int
}

func (r *staleBootstrapRepo) Read(ctx context.Context, userID string) (*repository.LedgerDocument, error) {
	r.reads++
	if r.reads == 1 {
		return nil, nil
	}
	return r.stored, nil
}

func (r *staleBootstrapRepo) Write(ctx context.Context, userID string, doc *repository.LedgerDocument, merge bool) error {
	r.writes++
	return repository.ErrStaleWrite
}

func TestHydrate_LostBootstrapRaceUsesStoredDocument(t *testing.T) {
	repo := &staleBootstrapRepo{
		stored: &repository.LedgerDocument{Name: "Ana", MonthlyLimit: 30000, Version: 7},
	}
	syncer := NewSynchronizer(repo, nil, discardLogger(), nil, time.Millisecond, 0, 3)
	svc := NewLedgerService(repo, syncer, nil, discardLogger(), nil, "", nil, nil, budget.Thresholds{})
	svc.Now = func() time.Time { return testNow }

	ledger, err := svc.Hydrate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("losing the bootstrap race must not fail hydration: %v", err)
	}
	if ledger.Profile.Name != "Ana" || ledger.MonthlyLimit != 30000 || ledger.Version != 7 {
		t.Fatalf("hydrated ledger = %+v, want the winner's document", ledger)
	}
	if repo.reads != 2 {
		t.Fatalf("reads = %d, want 2 (initial miss plus re-read)", repo.reads)
	}
}

// downRepo simulates a dead document store: empty reads and failing writes.
type downRepo struct {
	mu     sync.Mutex
	writes int
}

func (r *downRepo) Read(ctx context.Context, userID string) (*repository.LedgerDocument, error) {
	return nil, nil
}

func (r *downRepo) Write(ctx context.Context, userID string, doc *repository.LedgerDocument, merge bool) error {
	r.mu.Lock()
	r.writes++
	r.mu.Unlock()
	return errors.New("connection refused")
}

func TestHydrate_BootstrapWriteFailureDegradesToLocal(t *testing.T) {
	repo := &downRepo{}
	syncer := NewSynchronizer(repo, nil, discardLogger(), nil, time.Millisecond, 0, 3)
	svc := NewLedgerService(repo, syncer, nil, discardLogger(), nil, "", nil, nil, budget.Thresholds{})
	svc.Now = func() time.Time { return testNow }
	ctx := context.Background()

	ledger, err := svc.Hydrate(ctx, "u1")
	if err != nil {
		t.Fatalf("a dead store must not fail hydration: %v", err)
	}
	if ledger.Version != 0 || len(ledger.Transactions) != 0 {
		t.Fatalf("default ledger = %+v", ledger)
	}

	// local state stays authoritative while the store is down
	ledger, err = svc.AddTransaction(ctx, "u1", AddTransactionInput{Merchant: "Warung", Amount: 50})
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if len(ledger.Transactions) != 1 || ledger.Version != 1 {
		t.Fatalf("local mutation lost: %+v", ledger)
	}
	svc.Sync.Wait()
}

func TestHydrate_ReusesExistingSession(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Hydrate(ctx, "u1"); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if _, err := svc.AddTransaction(ctx, "u1", AddTransactionInput{Merchant: "Warung", Amount: 50}); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	// a second login must not reset the live session
	ledger, err := svc.Hydrate(ctx, "u1")
	if err != nil {
		t.Fatalf("second Hydrate: %v", err)
	}
	if len(ledger.Transactions) != 1 || ledger.Version != 1 {
		t.Fatalf("second hydration replaced the session: %+v", ledger)
	}
}

func TestHydrate_ExistingDocument(t *testing.T) {
	repo := newFakeLedgerRepo()
	repo.docs["u1"] = &repository.LedgerDocument{
		Name:         "Ana",
		MonthlyLimit: 30000,
		Transactions: []repository.TransactionRecord{
			{ID: "t1", Merchant: "Warung", Amount: 120, Sentiment: "worthy", Timestamp: testNow},
		},
		Version: 7,
	}
	svc := newTestService(repo)

	ledger, err := svc.Hydrate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if ledger.Profile.Name != "Ana" || ledger.MonthlyLimit != 30000 || ledger.Version != 7 {
		t.Fatalf("hydrated ledger = %+v", ledger)
	}
	if len(ledger.Transactions) != 1 || ledger.Transactions[0].Sentiment != entity.SentimentWorthy {
		t.Fatalf("transactions = %+v", ledger.Transactions)
	}
	if repo.writeCount() != 0 {
		t.Fatalf("existing document must not be rewritten, writes = %d", repo.writeCount())
	}
}

func TestAddTransaction_NewestFirstAndWriteThrough(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.AddTransaction(ctx, "u1", AddTransactionInput{Merchant: "Warung", Amount: 50}); err != nil {
		t.Fatalf("first AddTransaction: %v", err)
	}
	ledger, err := svc.AddTransaction(ctx, "u1", AddTransactionInput{Merchant: "Kopi", Amount: 30})
	if err != nil {
		t.Fatalf("second AddTransaction: %v", err)
	}

	if len(ledger.Transactions) != 2 || ledger.Transactions[0].Merchant != "Kopi" {
		t.Fatalf("transactions not newest first: %+v", ledger.Transactions)
	}
	if ledger.Version != 2 {
		t.Fatalf("Version = %d, want 2", ledger.Version)
	}

	svc.Sync.Wait()
	doc := repo.doc("u1")
	if doc.Version != 2 || len(doc.Transactions) != 2 {
		t.Fatalf("remote doc = version %d with %d transactions, want 2/2", doc.Version, len(doc.Transactions))
	}
	merged := false
	for _, w := range repo.writes {
		if w.merge {
			merged = true
		}
	}
	if !merged {
		t.Fatal("mutation commits must use merge writes")
	}
}

func TestAddTransaction_RejectsInvalidInput(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo)

	_, err := svc.AddTransaction(context.Background(), "u1", AddTransactionInput{Merchant: "Warung", Amount: 0})
	var vErr *entity.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "amount" {
		t.Fatalf("got %v, want amount validation error", err)
	}
	if repo.writeCount() != 0 {
		t.Fatalf("rejected input must not touch the store, writes = %d", repo.writeCount())
	}
}

func TestRemoveFixedExpense_OutOfRangeIsNoOp(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.AddFixedExpense(ctx, "u1", "Rent", 15000); err != nil {
		t.Fatalf("AddFixedExpense: %v", err)
	}
	svc.Sync.Wait()
	before := repo.writeCount()

	ledger, err := svc.RemoveFixedExpense(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("RemoveFixedExpense: %v", err)
	}
	if len(ledger.FixedExpenses) != 1 || ledger.Version != 1 {
		t.Fatalf("no-op changed state: %+v", ledger)
	}
	svc.Sync.Wait()
	if repo.writeCount() != before {
		t.Fatal("no-op must not schedule a commit")
	}
}

func TestRemoveGoal_UnknownIDIsNoOp(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.AddGoal(ctx, "u1", "Laptop", 3000, testNow.AddDate(0, 0, 30)); err != nil {
		t.Fatalf("AddGoal: %v", err)
	}
	ledger, err := svc.RemoveGoal(ctx, "u1", "nope")
	if err != nil {
		t.Fatalf("RemoveGoal: %v", err)
	}
	if len(ledger.Goals) != 1 || ledger.Version != 1 {
		t.Fatalf("no-op changed state: %+v", ledger)
	}

	ledger, err = svc.RemoveGoal(ctx, "u1", ledger.Goals[0].ID)
	if err != nil {
		t.Fatalf("RemoveGoal: %v", err)
	}
	if len(ledger.Goals) != 0 || ledger.Version != 2 {
		t.Fatalf("delete by id failed: %+v", ledger)
	}
}

func TestSetMonthlyLimit(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.SetMonthlyLimit(ctx, "u1", -1)
	var vErr *entity.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "monthly_limit" {
		t.Fatalf("negative limit: got %v", err)
	}

	ledger, err := svc.SetMonthlyLimit(ctx, "u1", 30000)
	if err != nil {
		t.Fatalf("SetMonthlyLimit: %v", err)
	}
	if ledger.MonthlyLimit != 30000 {
		t.Fatalf("MonthlyLimit = %d, want 30000", ledger.MonthlyLimit)
	}
}

func TestUpdateProfile_PartialUpdate(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.UpdateProfile(ctx, "u1", UpdateProfileInput{}); err == nil {
		t.Fatal("empty update must be rejected")
	}

	if _, err := svc.UpdateProfile(ctx, "u1", UpdateProfileInput{Name: "Ana"}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	ledger, err := svc.UpdateProfile(ctx, "u1", UpdateProfileInput{Phone: "+6281200000001"})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if ledger.Profile.Name != "Ana" || ledger.Profile.Phone != "+6281200000001" {
		t.Fatalf("partial update lost a field: %+v", ledger.Profile)
	}
}

func TestGroupsAndMessages(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	members := []entity.GroupMember{{Name: "Budi", Phone: "+6281200000002"}}
	ledger, err := svc.CreateGroup(ctx, "u1", "trip", members)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if _, ok := ledger.ChatGroups["trip"]; !ok {
		t.Fatal("group not created")
	}

	ledger, err = svc.CreateGroup(ctx, "u1", "trip", nil)
	if err != nil {
		t.Fatalf("CreateGroup again: %v", err)
	}
	if ledger.Version != 1 || len(ledger.GroupMembers["trip"]) != 1 {
		t.Fatalf("re-creating a group must be a no-op: %+v", ledger)
	}

	// posting to a missing group creates it
	ledger, err = svc.PostMessage(ctx, "u1", "solo", PostMessageInput{Type: "text", Author: "ana", Text: "hi"})
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if msgs := ledger.ChatGroups["solo"]; len(msgs) != 1 || msgs[0].Text != "hi" {
		t.Fatalf("implicit group = %+v", ledger.ChatGroups["solo"])
	}

	ledger, err = svc.PostMessage(ctx, "u1", "trip", PostMessageInput{Type: "split", Author: "ana", Item: "dinner", Amount: 400})
	if err != nil {
		t.Fatalf("PostMessage split: %v", err)
	}
	if msgs := ledger.ChatGroups["trip"]; len(msgs) != 1 || msgs[0].Amount != 400 {
		t.Fatalf("split message = %+v", ledger.ChatGroups["trip"])
	}
}

func TestDerivationsThroughService(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.SetMonthlyLimit(ctx, "u1", 30000); err != nil {
		t.Fatalf("SetMonthlyLimit: %v", err)
	}
	if _, err := svc.AddFixedExpense(ctx, "u1", "Rent", 15000); err != nil {
		t.Fatalf("AddFixedExpense: %v", err)
	}
	if _, err := svc.AddFixedExpense(ctx, "u1", "Internet", 1000); err != nil {
		t.Fatalf("AddFixedExpense: %v", err)
	}
	if _, err := svc.AddLoan(ctx, "u1", "borrow", "Andi", 10000, 50); err != nil {
		t.Fatalf("AddLoan: %v", err)
	}
	if _, err := svc.AddTransaction(ctx, "u1", AddTransactionInput{Merchant: "Warung", Amount: 66, Timestamp: testNow}); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	// floor((30000-16000)/30) - 200 - 66
	safe, err := svc.SafeSpend(ctx, "u1")
	if err != nil {
		t.Fatalf("SafeSpend: %v", err)
	}
	if safe != 200 {
		t.Fatalf("SafeSpend = %d, want 200", safe)
	}

	cells, err := svc.Heatmap(ctx, "u1")
	if err != nil {
		t.Fatalf("Heatmap: %v", err)
	}
	if len(cells) != 30 {
		t.Fatalf("Heatmap cells = %d, want 30 for June", len(cells))
	}
	if cells[14].Spend != 66 || cells[14].Tier != budget.TierLow {
		t.Fatalf("day 15 cell = %+v", cells[14])
	}

	totals, err := svc.Sentiment(ctx, "u1", budget.FilterAll)
	if err != nil {
		t.Fatalf("Sentiment: %v", err)
	}
	if totals.Neutral != 66 || totals.Worthy != 0 || totals.Regret != 0 {
		t.Fatalf("totals = %+v", totals)
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.AddFixedExpense(ctx, "u1", "Rent", 15000); err != nil {
		t.Fatalf("AddFixedExpense: %v", err)
	}
	snap, err := svc.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	snap.FixedExpenses[0].Amount = 1

	again, err := svc.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if again.FixedExpenses[0].Amount != 15000 {
		t.Fatal("snapshot mutation leaked into session state")
	}
}

type fakeAlertQueue struct {
	mu   sync.Mutex
	jobs []any
}

func (q *fakeAlertQueue) PublishJSON(ctx context.Context, body any) error {
	q.mu.Lock()
	q.jobs = append(q.jobs, body)
	q.mu.Unlock()
	return nil
}

func (q *fakeAlertQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type fakeAccounts struct{}

func (fakeAccounts) Create(a *entity.Account) error { return nil }

func (fakeAccounts) GetByID(id string) (*entity.Account, error) {
	return &entity.Account{ID: id, Email: "budi@example.com", Name: "Budi"}, nil
}

func (fakeAccounts) GetByEmail(email string) (*entity.Account, error) { return nil, nil }

func (fakeAccounts) Update(a *entity.Account) error { return nil }

func TestOverspendAlert_OncePerDay(t *testing.T) {
	repo := newFakeLedgerRepo()
	alerts := &fakeAlertQueue{}
	syncer := NewSynchronizer(repo, nil, discardLogger(), nil, time.Millisecond, 0, 3)
	svc := NewLedgerService(repo, syncer, nil, discardLogger(), nil, "", alerts, fakeAccounts{}, budget.Thresholds{})
	svc.Now = func() time.Time { return testNow }
	ctx := context.Background()

	// monthly limit 0 keeps safe-spend pinned at zero
	if _, err := svc.AddTransaction(ctx, "u1", AddTransactionInput{Merchant: "Warung", Amount: 50}); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if _, err := svc.AddTransaction(ctx, "u1", AddTransactionInput{Merchant: "Kopi", Amount: 30}); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	svc.Sync.Wait()

	if got := alerts.count(); got != 1 {
		t.Fatalf("published %d alert jobs for one day of overspending, want 1", got)
	}
	job, ok := alerts.jobs[0].(AlertJob)
	if !ok {
		t.Fatalf("job = %T, want AlertJob", alerts.jobs[0])
	}
	if job.To != "budi@example.com" || job.Date != "2025-06-15" || job.SpentToday != 50 {
		t.Fatalf("job = %+v", job)
	}
}

func TestOverspendAlert_NewDayAlertsAgain(t *testing.T) {
	repo := newFakeLedgerRepo()
	alerts := &fakeAlertQueue{}
	syncer := NewSynchronizer(repo, nil, discardLogger(), nil, time.Millisecond, 0, 3)
	svc := NewLedgerService(repo, syncer, nil, discardLogger(), nil, "", alerts, fakeAccounts{}, budget.Thresholds{})
	clock := testNow
	svc.Now = func() time.Time { return clock }
	ctx := context.Background()

	if _, err := svc.AddTransaction(ctx, "u1", AddTransactionInput{Merchant: "Warung", Amount: 50}); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	clock = testNow.AddDate(0, 0, 1)
	if _, err := svc.AddTransaction(ctx, "u1", AddTransactionInput{Merchant: "Warung", Amount: 50}); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	svc.Sync.Wait()

	if got := alerts.count(); got != 2 {
		t.Fatalf("published %d alert jobs across two days, want 2", got)
	}
}
