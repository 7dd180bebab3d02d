package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/quizpulse/quizpulse/internal/model"
)

const tokenTTL = 30 * 24 * time.Hour

// CreateToken issues a new bearer token for a user.
func (s *Store) CreateToken(ctx context.Context, userID int64) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_tokens (id, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		token, userID, now.UnixMilli(), now.Add(tokenTTL).UnixMilli(),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetToken returns the stored token, or nil if unknown or expired. Expired
// tokens are deleted on sight.
func (s *Store) GetToken(ctx context.Context, token string) (*model.APIToken, error) {
	var (
		tok              model.APIToken
		created, expires int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at FROM api_tokens WHERE id = $1`, token,
	).Scan(&tok.ID, &tok.UserID, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tok.CreatedAt = time.UnixMilli(created).UTC()
	tok.ExpiresAt = time.UnixMilli(expires).UTC()
	if time.Now().After(tok.ExpiresAt) {
		_ = s.DeleteToken(ctx, token)
		return nil, nil
	}
	return &tok, nil
}

// DeleteToken removes a bearer token.
func (s *Store) DeleteToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_tokens WHERE id = $1`, token)
	return err
}

// DeleteExpiredTokens removes all expired tokens.
func (s *Store) DeleteExpiredTokens(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_tokens WHERE expires_at < $1`, time.Now().UnixMilli())
	return err
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
