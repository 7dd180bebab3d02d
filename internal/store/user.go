package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quizpulse/quizpulse/internal/model"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u       model.User
		created int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.Active, &created)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	return &u, nil
}

// CreateUser inserts a new user and returns its ID.
func (s *Store) CreateUser(ctx context.Context, u model.User) (int64, error) {
	if u.Role == "" {
		u.Role = model.UserRoleViewer
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, display_name, password_hash, role, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		u.Username, u.DisplayName, u.PasswordHash, u.Role, u.Active, time.Now().UnixMilli(),
	).Scan(&id)
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return 0, err
	}
	slog.Info("created user", "id", id, "username", u.Username, "role", u.Role)
	return id, nil
}

// GetUserByUsername returns a user by username, or nil when unknown.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, password_hash, role, active, created_at
		 FROM users WHERE username = $1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetUserByID returns a user by ID, or nil when unknown.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, password_hash, role, active, created_at
		 FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// ListUsers returns all users.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, display_name, password_hash, role, active, created_at
		 FROM users ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// ToggleUserActive flips the active flag on a user and returns the new state.
func (s *Store) ToggleUserActive(ctx context.Context, id int64) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx,
		`UPDATE users SET active = NOT active WHERE id = $1 RETURNING active`, id).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("user %d not found", id)
	}
	return active, err
}

// UserCount returns the total number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
