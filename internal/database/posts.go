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
	"strings"

	"github.com/goccy/go-json"

	"github.com/agblogger/agblogger/internal/models"
)

// PostFilter narrows and orders ListPosts. LabelIDs is a disjunction: a post
// matches when it carries any of the ids (callers expand a label to its
// descendant set first). Query is an FTS5 match expression.
type PostFilter struct {
	LabelIDs      []string
	Author        string
	From          string // inclusive lower bound on created_at, storage form
	To            string // inclusive upper bound on created_at, storage form
	Query         string
	IncludeDrafts bool
	SortBy        string // created, modified, title
	Order         string // asc, desc
	Limit         int
	Offset        int
}

const postColumns = `p.id, p.file_path, p.title, p.author, p.created_at, p.modified_at,
	p.is_draft, p.content_hash, p.file_size, p.excerpt, p.body, p.rendered_html`

// UpsertPost inserts or updates one cached post and keeps the full-text
// index and label joins in step. The FTS table is contentless, so an update
// must first issue the special delete with the previous column values before
// inserting the new ones; both happen in the same transaction as the row
// update.
func (db *DB) UpsertPost(ctx context.Context, p *models.Post, body string) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		var oldID int64
		var oldTitle, oldExcerpt, oldBody string
		err := tx.QueryRowContext(ctx,
			`SELECT id, title, excerpt, body FROM posts_cache WHERE file_path = ?`, p.FilePath).
			Scan(&oldID, &oldTitle, &oldExcerpt, &oldBody)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, `
				INSERT INTO posts_cache (file_path, title, author, created_at, modified_at,
					is_draft, content_hash, file_size, excerpt, body, rendered_html)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.FilePath, p.Title, p.Author, fmtTime(p.CreatedAt), fmtTime(p.ModifiedAt),
				boolInt(p.IsDraft), p.ContentHash, 0, p.Excerpt, body, p.RenderedHTML)
			if err != nil {
				return fmt.Errorf("insert post: %w", err)
			}
			p.ID, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("insert post id: %w", err)
			}
		case err != nil:
			return fmt.Errorf("lookup post: %w", err)
		default:
			p.ID = oldID
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO posts_fts (posts_fts, rowid, title, excerpt, body) VALUES ('delete', ?, ?, ?, ?)`,
				oldID, oldTitle, oldExcerpt, oldBody); err != nil {
				return fmt.Errorf("fts delete: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE posts_cache SET title = ?, author = ?, created_at = ?, modified_at = ?,
					is_draft = ?, content_hash = ?, excerpt = ?, body = ?, rendered_html = ?
				WHERE id = ?`,
				p.Title, p.Author, fmtTime(p.CreatedAt), fmtTime(p.ModifiedAt),
				boolInt(p.IsDraft), p.ContentHash, p.Excerpt, body, p.RenderedHTML, oldID); err != nil {
				return fmt.Errorf("update post: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO posts_fts (rowid, title, excerpt, body) VALUES (?, ?, ?, ?)`,
			p.ID, p.Title, p.Excerpt, body); err != nil {
			return fmt.Errorf("fts insert: %w", err)
		}

		return setPostLabelsTx(ctx, tx, p.ID, p.Labels)
	})
}

// setPostLabelsTx replaces a post's label joins, creating implicit label
// rows for ids not yet defined.
func setPostLabelsTx(ctx context.Context, tx *sql.Tx, postID int64, labelIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM post_labels_cache WHERE post_id = ?`, postID); err != nil {
		return fmt.Errorf("clear post labels: %w", err)
	}
	for _, id := range labelIDs {
		names, err := json.Marshal([]string{id})
		if err != nil {
			return fmt.Errorf("marshal label names: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO labels_cache (id, names, is_implicit) VALUES (?, ?, 1) ON CONFLICT (id) DO NOTHING`,
			id, string(names)); err != nil {
			return fmt.Errorf("ensure label %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO post_labels_cache (post_id, label_id) VALUES (?, ?)`,
			postID, id); err != nil {
			return fmt.Errorf("link label %s: %w", id, err)
		}
	}
	return nil
}

// DeletePostByPath removes a cached post, its FTS entry, and (via cascade)
// its label joins. Missing rows are not an error.
func (db *DB) DeletePostByPath(ctx context.Context, filePath string) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		var id int64
		var title, excerpt, body string
		err := tx.QueryRowContext(ctx,
			`SELECT id, title, excerpt, body FROM posts_cache WHERE file_path = ?`, filePath).
			Scan(&id, &title, &excerpt, &body)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup post: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO posts_fts (posts_fts, rowid, title, excerpt, body) VALUES ('delete', ?, ?, ?, ?)`,
			id, title, excerpt, body); err != nil {
			return fmt.Errorf("fts delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM posts_cache WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete post: %w", err)
		}
		return nil
	})
}

// GetPostByPath fetches one cached post with its labels.
func (db *DB) GetPostByPath(ctx context.Context, filePath string) (*models.Post, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts_cache p WHERE p.file_path = ?`, filePath)
	p, err := scanPost(row)
	if err != nil {
		return nil, err
	}
	if p.Labels, err = db.postLabels(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// ListPosts returns matching posts and the total match count before
// pagination.
func (db *DB) ListPosts(ctx context.Context, f PostFilter) ([]*models.Post, int, error) {
	var where []string
	var args []any

	base := `FROM posts_cache p`
	if f.Query != "" {
		base += ` JOIN posts_fts ON posts_fts.rowid = p.id`
		where = append(where, `posts_fts MATCH ?`)
		args = append(args, f.Query)
	}
	if !f.IncludeDrafts {
		where = append(where, `p.is_draft = 0`)
	}
	if f.Author != "" {
		where = append(where, `p.author = ?`)
		args = append(args, f.Author)
	}
	if f.From != "" {
		where = append(where, `p.created_at >= ?`)
		args = append(args, f.From)
	}
	if f.To != "" {
		where = append(where, `p.created_at <= ?`)
		args = append(args, f.To)
	}
	if len(f.LabelIDs) > 0 {
		ph := strings.Repeat("?,", len(f.LabelIDs))
		where = append(where,
			`p.id IN (SELECT post_id FROM post_labels_cache WHERE label_id IN (`+ph[:len(ph)-1]+`))`)
		for _, id := range f.LabelIDs {
			args = append(args, id)
		}
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) `+base+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count posts: %w", err)
	}

	query := `SELECT ` + postColumns + ` ` + base + clause + ` ORDER BY ` + orderClause(f.SortBy, f.Order)
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, p := range posts {
		if p.Labels, err = db.postLabels(ctx, p.ID); err != nil {
			return nil, 0, err
		}
	}
	return posts, total, nil
}

// orderClause whitelists sort columns; anything unrecognized falls back to
// newest first.
func orderClause(sortBy, order string) string {
	col := "p.created_at"
	switch sortBy {
	case "modified":
		col = "p.modified_at"
	case "title":
		col = "p.title COLLATE NOCASE"
	}
	dir := "DESC"
	if strings.EqualFold(order, "asc") {
		dir = "ASC"
	}
	return col + " " + dir
}

func (db *DB) postLabels(ctx context.Context, postID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT label_id FROM post_labels_cache WHERE post_id = ? ORDER BY label_id`, postID)
	if err != nil {
		return nil, fmt.Errorf("post labels: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan post label: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearDerived empties every table rebuilt from the content directory. The
// contentless FTS table needs its special delete-all command.
func (db *DB) ClearDerived(ctx context.Context) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM post_labels_cache`,
			`DELETE FROM label_parents_cache`,
			`DELETE FROM labels_cache`,
			`DELETE FROM posts_cache`,
			`INSERT INTO posts_fts (posts_fts) VALUES ('delete-all')`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("clear derived tables: %w", err)
			}
		}
		return nil
	})
}

func scanPost(row rowScanner) (*models.Post, error) {
	var p models.Post
	var created, modified, body string
	var isDraft int
	var size int64
	err := row.Scan(&p.ID, &p.FilePath, &p.Title, &p.Author, &created, &modified,
		&isDraft, &p.ContentHash, &size, &p.Excerpt, &body, &p.RenderedHTML)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan post: %w", err)
	}
	p.CreatedAt = parseTime(created)
	p.ModifiedAt = parseTime(modified)
	p.IsDraft = isDraft != 0
	return &p, nil
}
