package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sakuapp/saku/internal/domain/entity"
	"github.com/sakuapp/saku/internal/domain/repository"
)

var errNotFound = errors.New("not found")

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func (r *AccountRepository) Create(a *entity.Account) error {
	ctx := context.Background()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (email, password_hash, name, avatar_url)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, a.Email, a.Password, a.Name, a.AvatarURL)

	return row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (r *AccountRepository) GetByID(id string) (*entity.Account, error) {
	return r.getBy(`WHERE id = $1`, id)
}

func (r *AccountRepository) GetByEmail(email string) (*entity.Account, error) {
	return r.getBy(`WHERE email = $1`, email)
}

func (r *AccountRepository) getBy(where string, arg any) (*entity.Account, error) {
	ctx := context.Background()
	a := &entity.Account{}

	row := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, name, avatar_url, created_at, updated_at
		FROM accounts
	`+where, arg)

	if err := row.Scan(&a.ID, &a.Email, &a.Password, &a.Name, &a.AvatarURL,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errNotFound
		}
		return nil, err
	}

	return a, nil
}

func (r *AccountRepository) Update(a *entity.Account) error {
	ctx := context.Background()
	a.UpdatedAt = time.Now()

	res, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET email = $1, password_hash = $2, name = $3, avatar_url = $4, updated_at = $5
		WHERE id = $6
	`, a.Email, a.Password, a.Name, a.AvatarURL, a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}

	if res.RowsAffected() == 0 {
		return errNotFound
	}

	return nil
}

var _ repository.AccountRepository = (*AccountRepository)(nil)
