package repository

import "github.com/sakuapp/saku/internal/domain/entity"

// AccountRepository defines the interface for account persistence.
type AccountRepository interface {
	Create(a *entity.Account) error
	GetByID(id string) (*entity.Account, error)
	GetByEmail(email string) (*entity.Account, error)
	Update(a *entity.Account) error
}
