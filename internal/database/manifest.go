// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agblogger/agblogger/internal/models"
)

// ReplaceManifest swaps the recorded sync manifest for a fresh scan. The
// manifest records the state both sides agreed on at the last successful
// sync, so it is replaced wholesale at COMMIT, never patched.
func (db *DB) ReplaceManifest(ctx context.Context, entries []models.ManifestEntry) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_manifest`); err != nil {
			return fmt.Errorf("clear manifest: %w", err)
		}
		now := fmtTime(time.Now())
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sync_manifest (file_path, content_hash, file_size, file_mtime, recorded_at)
				VALUES (?, ?, ?, ?, ?)`,
				e.FilePath, e.ContentHash, e.FileSize, fmtTime(e.FileMtime), now); err != nil {
				return fmt.Errorf("insert manifest entry %s: %w", e.FilePath, err)
			}
		}
		return nil
	})
}

// GetManifest returns the recorded manifest keyed by file path.
func (db *DB) GetManifest(ctx context.Context) (map[string]models.ManifestEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT file_path, content_hash, file_size, file_mtime, recorded_at FROM sync_manifest`)
	if err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}
	defer rows.Close()

	manifest := make(map[string]models.ManifestEntry)
	for rows.Next() {
		var e models.ManifestEntry
		var mtime, recorded string
		if err := rows.Scan(&e.FilePath, &e.ContentHash, &e.FileSize, &mtime, &recorded); err != nil {
			return nil, fmt.Errorf("scan manifest entry: %w", err)
		}
		e.FileMtime = parseTime(mtime)
		e.RecordedAt = parseTime(recorded)
		manifest[e.FilePath] = e
	}
	return manifest, rows.Err()
}
