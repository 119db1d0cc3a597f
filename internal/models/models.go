// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// Package models defines the data structures shared across the storage,
// service, and API layers.
package models

import "time"

// Roles. Admins may mutate content, sync, and settings; authenticated
// non-admins may cross-post from their own accounts and render previews.
const (
	RoleAdmin = "admin"
	RoleAuth  = "auth"
)

// User is an account record. Users and credentials are the only
// authoritative data in the cache database; everything else derives from the
// content directory.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name,omitempty"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role returns the authorization role for the user.
func (u *User) Role() string {
	if u.IsAdmin {
		return RoleAdmin
	}
	return RoleAuth
}

// Post is a cached view of one markdown file under posts/.
type Post struct {
	ID           int64     `json:"id"`
	FilePath     string    `json:"file_path"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	CreatedAt    time.Time `json:"created_at"`
	ModifiedAt   time.Time `json:"modified_at"`
	IsDraft      bool      `json:"is_draft"`
	Labels       []string  `json:"labels"`
	ContentHash  string    `json:"content_hash"`
	Excerpt      string    `json:"excerpt"`
	RenderedHTML string    `json:"-"`
}

// Label is a node in the label DAG. Implicit labels are referenced by posts
// (front matter or directory segments) but not defined in labels.toml; they
// live only in the cache.
type Label struct {
	ID         string   `json:"id"`
	Names      []string `json:"names"`
	Parents    []string `json:"parents"`
	IsImplicit bool     `json:"is_implicit"`
	PostCount  int      `json:"post_count,omitempty"`
}

// RefreshToken is one live refresh token, hashed at rest. Rotation deletes
// the old row and inserts the new one in the same transaction.
type RefreshToken struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// InviteCode is a single-use registration invite, hashed at rest.
type InviteCode struct {
	ID        int64      `json:"id"`
	CodeHash  string     `json:"-"`
	CreatedBy int64      `json:"created_by"`
	UsedBy    *int64     `json:"used_by,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// PersonalAccessToken is a bearer token for CLI/API use, hashed at rest.
type PersonalAccessToken struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	TokenHash  string     `json:"-"`
	Label      string     `json:"label"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Revoked    bool       `json:"revoked"`
}

// IsExpired reports whether the token has an expiry in the past.
func (t *PersonalAccessToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// SocialAccount stores encrypted cross-posting credentials for one platform
// account. Uniqueness is (user_id, platform, account_name) with account_name
// NOT NULL defaulting to ''.
type SocialAccount struct {
	ID                    int64     `json:"id"`
	UserID                int64     `json:"user_id"`
	Platform              string    `json:"platform"`
	AccountName           string    `json:"account_name"`
	CredentialsCiphertext []byte    `json:"-"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// ManifestEntry is one file in a sync manifest. Hash is truth; size and
// mtime are a fast pre-filter.
type ManifestEntry struct {
	FilePath    string    `json:"file_path"`
	ContentHash string    `json:"content_hash"`
	FileSize    int64     `json:"file_size"`
	FileMtime   time.Time `json:"file_mtime"`
	RecordedAt  time.Time `json:"recorded_at,omitempty"`
}
