// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agblogger/agblogger/internal/models"
)

// CreateRefreshToken stores a new refresh token hash.
func (db *DB) CreateRefreshToken(ctx context.Context, t *models.RefreshToken) error {
	now := time.Now()
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?)`,
		t.UserID, t.TokenHash, fmtTime(t.ExpiresAt), fmtTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create refresh token: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create refresh token id: %w", err)
	}
	t.ID = id
	t.CreatedAt = now
	return nil
}

// GetRefreshToken looks up a live token by its hash. Expired rows are
// treated as absent.
func (db *DB) GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM refresh_tokens WHERE token_hash = ? AND expires_at > ?`,
		tokenHash, fmtTime(time.Now()))

	var t models.RefreshToken
	var expires, created string
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	t.ExpiresAt = parseTime(expires)
	t.CreatedAt = parseTime(created)
	return &t, nil
}

// RotateRefreshToken atomically replaces oldHash with a new token row. The
// delete and insert share one transaction so a crash can never leave both
// tokens valid.
func (db *DB) RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token_hash = ?`, oldHash)
		if err != nil {
			return fmt.Errorf("delete old refresh token: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		now := time.Now()
		ins, err := tx.ExecContext(ctx, `
			INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at)
			VALUES (?, ?, ?, ?)`,
			next.UserID, next.TokenHash, fmtTime(next.ExpiresAt), fmtTime(now))
		if err != nil {
			return fmt.Errorf("insert rotated refresh token: %w", err)
		}
		id, err := ins.LastInsertId()
		if err != nil {
			return fmt.Errorf("rotated refresh token id: %w", err)
		}
		next.ID = id
		next.CreatedAt = now
		return nil
	})
}

// DeleteRefreshToken removes one token by hash. Missing rows are not an
// error; logout is idempotent.
func (db *DB) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token_hash = ?`, tokenHash); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// DeleteUserRefreshTokens revokes every live session for a user.
func (db *DB) DeleteUserRefreshTokens(ctx context.Context, userID int64) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete user refresh tokens: %w", err)
	}
	return nil
}

// PruneExpiredRefreshTokens removes rows past their expiry.
func (db *DB) PruneExpiredRefreshTokens(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= ?`, fmtTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("prune refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// CreatePAT stores a new personal access token hash.
func (db *DB) CreatePAT(ctx context.Context, t *models.PersonalAccessToken) error {
	now := time.Now()
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO personal_access_tokens (user_id, token_hash, label, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.UserID, t.TokenHash, t.Label, fmtTime(now), fmtTimePtr(t.ExpiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create personal access token: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create personal access token id: %w", err)
	}
	t.ID = id
	t.CreatedAt = now
	return nil
}

// GetPATByHash looks up a token by its hash, regardless of revocation or
// expiry; callers decide how to reject stale tokens.
func (db *DB) GetPATByHash(ctx context.Context, tokenHash string) (*models.PersonalAccessToken, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, label, created_at, last_used_at, expires_at, revoked
		FROM personal_access_tokens WHERE token_hash = ?`, tokenHash)
	return scanPAT(row)
}

// ListPATs returns a user's tokens, newest first.
func (db *DB) ListPATs(ctx context.Context, userID int64) ([]*models.PersonalAccessToken, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, user_id, token_hash, label, created_at, last_used_at, expires_at, revoked
		FROM personal_access_tokens WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list personal access tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.PersonalAccessToken
	for rows.Next() {
		t, err := scanPAT(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// RevokePAT marks a token revoked. Scoped to the owning user.
func (db *DB) RevokePAT(ctx context.Context, userID, tokenID int64) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE personal_access_tokens SET revoked = 1 WHERE id = ? AND user_id = ?`,
		tokenID, userID)
	if err != nil {
		return fmt.Errorf("revoke personal access token: %w", err)
	}
	return requireRow(res)
}

// TouchPAT records a use of the token.
func (db *DB) TouchPAT(ctx context.Context, id int64) error {
	if _, err := db.conn.ExecContext(ctx,
		`UPDATE personal_access_tokens SET last_used_at = ? WHERE id = ?`,
		fmtTime(time.Now()), id); err != nil {
		return fmt.Errorf("touch personal access token: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPAT(row rowScanner) (*models.PersonalAccessToken, error) {
	var t models.PersonalAccessToken
	var created string
	var lastUsed, expires sql.NullString
	var revoked int
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Label, &created, &lastUsed, &expires, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan personal access token: %w", err)
	}
	t.CreatedAt = parseTime(created)
	t.LastUsedAt = parseTimePtr(lastUsed)
	t.ExpiresAt = parseTimePtr(expires)
	t.Revoked = revoked != 0
	return &t, nil
}
