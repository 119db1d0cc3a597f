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

// UpsertSocialAccount inserts or replaces the credentials for one
// (user, platform, account_name) tuple.
func (db *DB) UpsertSocialAccount(ctx context.Context, a *models.SocialAccount) error {
	now := time.Now()
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO social_accounts (user_id, platform, account_name, credentials_ciphertext, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, platform, account_name)
		DO UPDATE SET credentials_ciphertext = excluded.credentials_ciphertext, updated_at = excluded.updated_at`,
		a.UserID, a.Platform, a.AccountName, a.CredentialsCiphertext, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("upsert social account: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		a.ID = id
	}
	a.UpdatedAt = now
	return nil
}

// GetSocialAccount fetches one linked account scoped to its owner.
func (db *DB) GetSocialAccount(ctx context.Context, userID int64, platform, accountName string) (*models.SocialAccount, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, platform, account_name, credentials_ciphertext, created_at, updated_at
		FROM social_accounts WHERE user_id = ? AND platform = ? AND account_name = ?`,
		userID, platform, accountName)
	return scanSocialAccount(row)
}

// GetSocialAccountByID fetches one linked account by id, scoped to its
// owner.
func (db *DB) GetSocialAccountByID(ctx context.Context, userID, id int64) (*models.SocialAccount, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, platform, account_name, credentials_ciphertext, created_at, updated_at
		FROM social_accounts WHERE id = ? AND user_id = ?`, id, userID)
	return scanSocialAccount(row)
}

// ListSocialAccounts returns every linked account for a user.
func (db *DB) ListSocialAccounts(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, user_id, platform, account_name, credentials_ciphertext, created_at, updated_at
		FROM social_accounts WHERE user_id = ? ORDER BY platform, account_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list social accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.SocialAccount
	for rows.Next() {
		a, err := scanSocialAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// DeleteSocialAccount unlinks one account, scoped to its owner.
func (db *DB) DeleteSocialAccount(ctx context.Context, userID, id int64) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM social_accounts WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete social account: %w", err)
	}
	return requireRow(res)
}

func scanSocialAccount(row rowScanner) (*models.SocialAccount, error) {
	var a models.SocialAccount
	var created, updated string
	err := row.Scan(&a.ID, &a.UserID, &a.Platform, &a.AccountName, &a.CredentialsCiphertext, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan social account: %w", err)
	}
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}
