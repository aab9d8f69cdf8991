package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sakuapp/saku/internal/domain/repository"
)

// LedgerRepository stores one jsonb document per user in ledger_documents.
// Merge writes use jsonb concatenation so remote fields absent from the
// supplied document survive; the version column rejects stale overwrites.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

func (r *LedgerRepository) Read(ctx context.Context, userID string) (*repository.LedgerDocument, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `
		SELECT doc FROM ledger_documents WHERE user_id = $1
	`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc := &repository.LedgerDocument{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *LedgerRepository) Write(ctx context.Context, userID string, doc *repository.LedgerDocument, merge bool) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	// `stored || incoming` keeps stored keys the incoming document does not
	// carry; a plain write replaces the document wholesale.
	docExpr := "EXCLUDED.doc"
	if merge {
		docExpr = "ledger_documents.doc || EXCLUDED.doc"
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO ledger_documents (user_id, doc, version)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET doc = `+docExpr+`, version = EXCLUDED.version, updated_at = now()
		WHERE ledger_documents.version < EXCLUDED.version
	`, userID, raw, doc.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrStaleWrite
	}
	return nil
}

var _ repository.LedgerRepository = (*LedgerRepository)(nil)
