package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/sakuapp/saku/config"
	"github.com/sakuapp/saku/internal/domain/entity"
	"github.com/sakuapp/saku/internal/domain/repository"
	"github.com/sakuapp/saku/pkg/helpers"
)

// Seeds a demo account with a populated ledger so the dashboard has something
// to show on first run.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := sql.Open("pgx", cfg.PostgresDSN())
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	email := "demo@saku.app"
	password := "password123"
	hash, err := helpers.HashPassword(password)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	var id string
	err = db.QueryRow(`
		INSERT INTO accounts (email, password_hash, name, avatar_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, email, hash, "Demo User", "").Scan(&id)
	if err != nil {
		log.Fatalf("failed to seed account: %v", err)
	}
	fmt.Printf("seeded account: id=%s email=%s password=%s\n", id, email, password)

	ledger := demoLedger(id)
	raw, err := docJSON(ledger)
	if err != nil {
		log.Fatalf("failed to marshal ledger: %v", err)
	}
	if _, err := db.ExecContext(context.Background(), `
		INSERT INTO ledger_documents (user_id, doc, version)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, id, raw, ledger.Version); err != nil {
		log.Fatalf("failed to seed ledger document: %v", err)
	}
	fmt.Println("seeded demo ledger (skipped if one already existed)")
}

func demoLedger(userID string) *entity.UserLedger {
	now := time.Now()
	l := entity.NewUserLedger(userID, now)
	l.Profile = entity.Profile{Name: "Demo User", Phone: "+6281200000000"}
	l.MonthlyLimit = 30000

	rent, _ := entity.NewFixedExpense("Rent", 15000)
	internet, _ := entity.NewFixedExpense("Internet", 1000)
	l.FixedExpenses = append(l.FixedExpenses, rent, internet)

	coffee, _ := entity.NewTransaction("Corner Coffee", "food", 45, entity.SentimentWorthy, now.Add(-2*time.Hour))
	taxi, _ := entity.NewTransaction("Ride Share", "transport", 120, entity.SentimentRegret, now.Add(-26*time.Hour))
	l.Transactions = append(l.Transactions, coffee, taxi)

	goal, _ := entity.NewGoal("New laptop", 9000, now.AddDate(0, 3, 0), now)
	l.Goals = append(l.Goals, goal)

	loan, _ := entity.NewLoan(entity.LoanBorrow, "Andi", 10000, 50)
	l.Loans = append(l.Loans, loan)

	l.Version = 1
	return l
}

func docJSON(l *entity.UserLedger) ([]byte, error) {
	return json.Marshal(repository.DocumentFromLedger(l))
}
