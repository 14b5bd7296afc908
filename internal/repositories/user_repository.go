package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"workchat-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository is a read-only view of the user directory owned by the
// user-management service.
type UserRepository interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
	ListActiveByRole(ctx context.Context, roles []string) ([]models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`SELECT id, username, role, is_active FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// ListActiveByRole returns active users holding any of the given roles.
func (r *UserRepo) ListActiveByRole(ctx context.Context, roles []string) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users,
		`SELECT id, username, role, is_active FROM users
         WHERE is_active = TRUE AND role = ANY($1)
         ORDER BY username ASC`, pq.Array(roles))
	return users, err
}
