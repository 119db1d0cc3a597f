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

	"github.com/goccy/go-json"

	"github.com/agblogger/agblogger/internal/models"
)

// UpsertLabel writes one label node and replaces its parent edges. Parent
// ids that do not exist yet are created as implicit nodes so the edge table
// never dangles.
func (db *DB) UpsertLabel(ctx context.Context, l *models.Label) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		names, err := json.Marshal(l.Names)
		if err != nil {
			return fmt.Errorf("marshal label names: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO labels_cache (id, names, is_implicit) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET names = excluded.names, is_implicit = excluded.is_implicit`,
			l.ID, string(names), boolInt(l.IsImplicit)); err != nil {
			return fmt.Errorf("upsert label: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM label_parents_cache WHERE child_id = ?`, l.ID); err != nil {
			return fmt.Errorf("clear label parents: %w", err)
		}
		for _, parent := range l.Parents {
			pnames, err := json.Marshal([]string{parent})
			if err != nil {
				return fmt.Errorf("marshal parent names: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO labels_cache (id, names, is_implicit) VALUES (?, ?, 1) ON CONFLICT (id) DO NOTHING`,
				parent, string(pnames)); err != nil {
				return fmt.Errorf("ensure parent %s: %w", parent, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO label_parents_cache (child_id, parent_id) VALUES (?, ?)`,
				l.ID, parent); err != nil {
				return fmt.Errorf("link parent %s: %w", parent, err)
			}
		}
		return nil
	})
}

// DeleteLabel removes a node; cascades drop its edges in both directions and
// its post joins.
func (db *DB) DeleteLabel(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM labels_cache WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete label: %w", err)
	}
	return requireRow(res)
}

// PruneImplicitLabels drops implicit labels no post references and no edge
// uses as a parent. Explicit definitions stay even when unreferenced.
func (db *DB) PruneImplicitLabels(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, `
		DELETE FROM labels_cache
		WHERE is_implicit = 1
		  AND id NOT IN (SELECT label_id FROM post_labels_cache)
		  AND id NOT IN (SELECT parent_id FROM label_parents_cache)`)
	if err != nil {
		return fmt.Errorf("prune implicit labels: %w", err)
	}
	return nil
}

// GetLabel fetches one label with its parents and post count.
func (db *DB) GetLabel(ctx context.Context, id string) (*models.Label, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT l.id, l.names, l.is_implicit,
		       (SELECT COUNT(*) FROM post_labels_cache pl WHERE pl.label_id = l.id)
		FROM labels_cache l WHERE l.id = ?`, id)
	l, err := scanLabel(row)
	if err != nil {
		return nil, err
	}
	if l.Parents, err = db.labelParents(ctx, id); err != nil {
		return nil, err
	}
	return l, nil
}

// ListLabels returns every label node with parents and post counts.
func (db *DB) ListLabels(ctx context.Context) ([]*models.Label, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT l.id, l.names, l.is_implicit,
		       (SELECT COUNT(*) FROM post_labels_cache pl WHERE pl.label_id = l.id)
		FROM labels_cache l ORDER BY l.id`)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	var labels []*models.Label
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	edges, err := db.ParentEdges(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range labels {
		l.Parents = edges[l.ID]
	}
	return labels, nil
}

// ParentEdges returns the full child to parents adjacency of the label
// graph.
func (db *DB) ParentEdges(ctx context.Context) (map[string][]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT child_id, parent_id FROM label_parents_cache ORDER BY child_id, parent_id`)
	if err != nil {
		return nil, fmt.Errorf("parent edges: %w", err)
	}
	defer rows.Close()

	edges := make(map[string][]string)
	for rows.Next() {
		var child, parent string
		if err := rows.Scan(&child, &parent); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges[child] = append(edges[child], parent)
	}
	return edges, rows.Err()
}

// Descendants returns id plus every label reachable downward from it,
// matching the filter semantics where a parent label covers its children's
// posts.
func (db *DB) Descendants(ctx context.Context, id string) ([]string, error) {
	return db.closure(ctx, id, `
		WITH RECURSIVE walk(id) AS (
			SELECT ?
			UNION
			SELECT e.child_id FROM label_parents_cache e JOIN walk w ON e.parent_id = w.id
		)
		SELECT id FROM walk ORDER BY id`)
}

// Ancestors returns id plus every label reachable upward from it.
func (db *DB) Ancestors(ctx context.Context, id string) ([]string, error) {
	return db.closure(ctx, id, `
		WITH RECURSIVE walk(id) AS (
			SELECT ?
			UNION
			SELECT e.parent_id FROM label_parents_cache e JOIN walk w ON e.child_id = w.id
		)
		SELECT id FROM walk ORDER BY id`)
}

func (db *DB) closure(ctx context.Context, id, query string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("label closure: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan closure: %w", err)
		}
		ids = append(ids, s)
	}
	return ids, rows.Err()
}

func (db *DB) labelParents(ctx context.Context, id string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT parent_id FROM label_parents_cache WHERE child_id = ? ORDER BY parent_id`, id)
	if err != nil {
		return nil, fmt.Errorf("label parents: %w", err)
	}
	defer rows.Close()

	var parents []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan parent: %w", err)
		}
		parents = append(parents, p)
	}
	return parents, rows.Err()
}

func scanLabel(row rowScanner) (*models.Label, error) {
	var l models.Label
	var namesJSON string
	var implicit int
	err := row.Scan(&l.ID, &namesJSON, &implicit, &l.PostCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan label: %w", err)
	}
	if err := json.Unmarshal([]byte(namesJSON), &l.Names); err != nil {
		return nil, fmt.Errorf("unmarshal label names: %w", err)
	}
	l.IsImplicit = implicit != 0
	return &l, nil
}
