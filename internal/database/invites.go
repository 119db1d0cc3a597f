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

// CreateInvite stores a new invite code hash.
func (db *DB) CreateInvite(ctx context.Context, inv *models.InviteCode) error {
	now := time.Now()
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO invite_codes (code_hash, created_by, expires_at, created_at)
		VALUES (?, ?, ?, ?)`,
		inv.CodeHash, inv.CreatedBy, fmtTime(inv.ExpiresAt), fmtTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create invite: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create invite id: %w", err)
	}
	inv.ID = id
	inv.CreatedAt = now
	return nil
}

// ConsumeInvite marks an unused, unexpired invite as used by userID. The
// guarded UPDATE makes consumption single-use even under concurrent
// registration attempts: only one caller sees a row change.
func (db *DB) ConsumeInvite(ctx context.Context, codeHash string, userID int64) error {
	now := time.Now()
	res, err := db.conn.ExecContext(ctx, `
		UPDATE invite_codes SET used_by = ?, used_at = ?
		WHERE code_hash = ? AND used_by IS NULL AND expires_at > ?`,
		userID, fmtTime(now), codeHash, fmtTime(now))
	if err != nil {
		return fmt.Errorf("consume invite: %w", err)
	}
	return requireRow(res)
}

// GetInviteByHash fetches an invite regardless of use state.
func (db *DB) GetInviteByHash(ctx context.Context, codeHash string) (*models.InviteCode, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, code_hash, created_by, used_by, used_at, expires_at, created_at
		FROM invite_codes WHERE code_hash = ?`, codeHash)
	return scanInvite(row)
}

// ListInvites returns all invites, newest first.
func (db *DB) ListInvites(ctx context.Context) ([]*models.InviteCode, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, code_hash, created_by, used_by, used_at, expires_at, created_at
		FROM invite_codes ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()

	var invites []*models.InviteCode
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		invites = append(invites, inv)
	}
	return invites, rows.Err()
}

// DeleteInvite removes an unused invite.
func (db *DB) DeleteInvite(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM invite_codes WHERE id = ? AND used_by IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete invite: %w", err)
	}
	return requireRow(res)
}

func scanInvite(row rowScanner) (*models.InviteCode, error) {
	var inv models.InviteCode
	var usedBy sql.NullInt64
	var usedAt sql.NullString
	var expires, created string
	err := row.Scan(&inv.ID, &inv.CodeHash, &inv.CreatedBy, &usedBy, &usedAt, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan invite: %w", err)
	}
	if usedBy.Valid {
		inv.UsedBy = &usedBy.Int64
	}
	inv.UsedAt = parseTimePtr(usedAt)
	inv.ExpiresAt = parseTime(expires)
	inv.CreatedAt = parseTime(created)
	return &inv, nil
}
