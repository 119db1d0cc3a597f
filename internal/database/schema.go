// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package database

// schema is idempotent; New applies it on every open. Auth tables are
// authoritative, *_cache tables and posts_fts derive from the content
// directory and may be dropped and rebuilt at any time.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	is_admin      INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	token_hash TEXT NOT NULL UNIQUE,
	expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens(user_id);

CREATE TABLE IF NOT EXISTS invite_codes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	code_hash  TEXT NOT NULL UNIQUE,
	created_by INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	used_by    INTEGER REFERENCES users(id) ON DELETE SET NULL,
	used_at    TEXT,
	expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS personal_access_tokens (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	token_hash   TEXT NOT NULL UNIQUE,
	label        TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	last_used_at TEXT,
	expires_at   TEXT,
	revoked      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_pat_user ON personal_access_tokens(user_id);

CREATE TABLE IF NOT EXISTS social_accounts (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id                INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	platform               TEXT NOT NULL,
	account_name           TEXT NOT NULL DEFAULT '',
	credentials_ciphertext BLOB NOT NULL,
	created_at             TEXT NOT NULL,
	updated_at             TEXT NOT NULL,
	UNIQUE (user_id, platform, account_name)
);

CREATE TABLE IF NOT EXISTS posts_cache (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path     TEXT NOT NULL UNIQUE,
	title         TEXT NOT NULL DEFAULT '',
	author        TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	modified_at   TEXT NOT NULL,
	is_draft      INTEGER NOT NULL DEFAULT 0,
	content_hash  TEXT NOT NULL,
	file_size     INTEGER NOT NULL DEFAULT 0,
	excerpt       TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '',
	rendered_html TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_posts_cache_created ON posts_cache(created_at);
CREATE INDEX IF NOT EXISTS idx_posts_cache_author ON posts_cache(author);

CREATE TABLE IF NOT EXISTS labels_cache (
	id          TEXT PRIMARY KEY,
	names       TEXT NOT NULL DEFAULT '[]',
	is_implicit INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS label_parents_cache (
	child_id  TEXT NOT NULL REFERENCES labels_cache(id) ON DELETE CASCADE,
	parent_id TEXT NOT NULL REFERENCES labels_cache(id) ON DELETE CASCADE,
	PRIMARY KEY (child_id, parent_id)
);

CREATE TABLE IF NOT EXISTS post_labels_cache (
	post_id  INTEGER NOT NULL REFERENCES posts_cache(id) ON DELETE CASCADE,
	label_id TEXT NOT NULL REFERENCES labels_cache(id) ON DELETE CASCADE,
	PRIMARY KEY (post_id, label_id)
);
CREATE INDEX IF NOT EXISTS idx_post_labels_label ON post_labels_cache(label_id);

CREATE VIRTUAL TABLE IF NOT EXISTS posts_fts USING fts5(
	title, excerpt, body, content=''
);

CREATE TABLE IF NOT EXISTS sync_manifest (
	file_path    TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	file_size    INTEGER NOT NULL DEFAULT 0,
	file_mtime   TEXT NOT NULL,
	recorded_at  TEXT NOT NULL
);
`
