// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agblogger/agblogger/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustCreateUser(t *testing.T, db *DB, username string, admin bool) *models.User {
	t.Helper()
	u := &models.User{Username: username, Email: username + "@example.com", PasswordHash: "x", IsAdmin: admin}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return u
}

func TestUserCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	u := mustCreateUser(t, db, "alice", true)
	if u.ID == 0 {
		t.Fatal("id not assigned")
	}

	got, err := db.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if !got.IsAdmin || got.Email != "alice@example.com" {
		t.Errorf("got %+v", got)
	}
	if got.Role() != models.RoleAdmin {
		t.Errorf("Role() = %q", got.Role())
	}

	dup := &models.User{Username: "alice", Email: "other@example.com", PasswordHash: "y"}
	if err := db.CreateUser(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate username = %v, want ErrDuplicate", err)
	}

	if _, err := db.GetUserByID(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing user = %v, want ErrNotFound", err)
	}

	n, err := db.CountUsers(ctx)
	if err != nil || n != 1 {
		t.Errorf("CountUsers = %d, %v", n, err)
	}
}

func TestRefreshTokenRotation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := mustCreateUser(t, db, "bob", false)

	old := &models.RefreshToken{UserID: u.ID, TokenHash: "hash-old", ExpiresAt: time.Now().Add(time.Hour)}
	if err := db.CreateRefreshToken(ctx, old); err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}

	next := &models.RefreshToken{UserID: u.ID, TokenHash: "hash-new", ExpiresAt: time.Now().Add(time.Hour)}
	if err := db.RotateRefreshToken(ctx, "hash-old", next); err != nil {
		t.Fatalf("RotateRefreshToken: %v", err)
	}

	if _, err := db.GetRefreshToken(ctx, "hash-old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old token still valid: %v", err)
	}
	if _, err := db.GetRefreshToken(ctx, "hash-new"); err != nil {
		t.Errorf("new token missing: %v", err)
	}

	// Rotating an already-rotated token fails, signalling possible theft.
	again := &models.RefreshToken{UserID: u.ID, TokenHash: "hash-3", ExpiresAt: time.Now().Add(time.Hour)}
	if err := db.RotateRefreshToken(ctx, "hash-old", again); !errors.Is(err, ErrNotFound) {
		t.Errorf("double rotation = %v, want ErrNotFound", err)
	}
	if _, err := db.GetRefreshToken(ctx, "hash-3"); !errors.Is(err, ErrNotFound) {
		t.Error("failed rotation leaked a token")
	}
}

func TestRefreshTokenExpiry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := mustCreateUser(t, db, "carol", false)

	expired := &models.RefreshToken{UserID: u.ID, TokenHash: "hash-exp", ExpiresAt: time.Now().Add(-time.Minute)}
	if err := db.CreateRefreshToken(ctx, expired); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetRefreshToken(ctx, "hash-exp"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired token returned: %v", err)
	}
	n, err := db.PruneExpiredRefreshTokens(ctx)
	if err != nil || n != 1 {
		t.Errorf("PruneExpiredRefreshTokens = %d, %v", n, err)
	}
}

func TestInviteSingleUse(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	admin := mustCreateUser(t, db, "admin", true)
	joiner := mustCreateUser(t, db, "joiner", false)

	inv := &models.InviteCode{CodeHash: "inv-hash", CreatedBy: admin.ID, ExpiresAt: time.Now().Add(time.Hour)}
	if err := db.CreateInvite(ctx, inv); err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	if err := db.ConsumeInvite(ctx, "inv-hash", joiner.ID); err != nil {
		t.Fatalf("ConsumeInvite: %v", err)
	}
	if err := db.ConsumeInvite(ctx, "inv-hash", joiner.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second consumption = %v, want ErrNotFound", err)
	}

	got, err := db.GetInviteByHash(ctx, "inv-hash")
	if err != nil {
		t.Fatal(err)
	}
	if got.UsedBy == nil || *got.UsedBy != joiner.ID || got.UsedAt == nil {
		t.Errorf("invite not marked used: %+v", got)
	}
}

func TestInviteExpiry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	admin := mustCreateUser(t, db, "admin", true)

	inv := &models.InviteCode{CodeHash: "stale", CreatedBy: admin.ID, ExpiresAt: time.Now().Add(-time.Hour)}
	if err := db.CreateInvite(ctx, inv); err != nil {
		t.Fatal(err)
	}
	if err := db.ConsumeInvite(ctx, "stale", admin.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired invite consumed: %v", err)
	}
}

func TestPATLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := mustCreateUser(t, db, "dave", false)

	pat := &models.PersonalAccessToken{UserID: u.ID, TokenHash: "pat-hash", Label: "ci"}
	if err := db.CreatePAT(ctx, pat); err != nil {
		t.Fatalf("CreatePAT: %v", err)
	}

	got, err := db.GetPATByHash(ctx, "pat-hash")
	if err != nil {
		t.Fatalf("GetPATByHash: %v", err)
	}
	if got.Label != "ci" || got.Revoked {
		t.Errorf("got %+v", got)
	}

	if err := db.RevokePAT(ctx, u.ID, pat.ID); err != nil {
		t.Fatalf("RevokePAT: %v", err)
	}
	got, err = db.GetPATByHash(ctx, "pat-hash")
	if err != nil || !got.Revoked {
		t.Errorf("revocation not persisted: %+v, %v", got, err)
	}

	// Other users cannot revoke.
	other := mustCreateUser(t, db, "eve", false)
	if err := db.RevokePAT(ctx, other.ID, pat.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user revoke = %v, want ErrNotFound", err)
	}
}

func TestSocialAccountUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := mustCreateUser(t, db, "frank", false)

	a := &models.SocialAccount{UserID: u.ID, Platform: "mastodon", AccountName: "", CredentialsCiphertext: []byte{1, 2}}
	if err := db.UpsertSocialAccount(ctx, a); err != nil {
		t.Fatalf("UpsertSocialAccount: %v", err)
	}
	a.CredentialsCiphertext = []byte{3, 4}
	if err := db.UpsertSocialAccount(ctx, a); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	accounts, err := db.ListSocialAccounts(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 || accounts[0].CredentialsCiphertext[0] != 3 {
		t.Errorf("upsert did not replace: %+v", accounts)
	}
}

func testPost(path, title string, created time.Time, labels []string, draft bool) *models.Post {
	return &models.Post{
		FilePath:    path,
		Title:       title,
		Author:      "alice",
		CreatedAt:   created,
		ModifiedAt:  created,
		IsDraft:     draft,
		Labels:      labels,
		ContentHash: "hash-" + path,
		Excerpt:     title + " excerpt",
	}
}

func TestPostUpsertAndSearch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	p := testPost("posts/go.md", "Concurrency in Go", base, []string{"tech"}, false)
	if err := db.UpsertPost(ctx, p, "Goroutines and channels make pipelines simple."); err != nil {
		t.Fatalf("UpsertPost: %v", err)
	}

	posts, total, err := db.ListPosts(ctx, PostFilter{Query: "goroutines"})
	if err != nil {
		t.Fatalf("ListPosts: %v", err)
	}
	if total != 1 || len(posts) != 1 || posts[0].FilePath != "posts/go.md" {
		t.Fatalf("search miss: total=%d posts=%+v", total, posts)
	}

	// Update replaces the FTS entry rather than duplicating it.
	p.Title = "Parallelism in Go"
	if err := db.UpsertPost(ctx, p, "Workers and fan-out."); err != nil {
		t.Fatalf("second UpsertPost: %v", err)
	}
	if _, total, err = db.ListPosts(ctx, PostFilter{Query: "goroutines"}); err != nil || total != 0 {
		t.Errorf("stale FTS entry survives: total=%d err=%v", total, err)
	}
	if _, total, err = db.ListPosts(ctx, PostFilter{Query: "workers"}); err != nil || total != 1 {
		t.Errorf("fresh FTS entry missing: total=%d err=%v", total, err)
	}

	if err := db.DeletePostByPath(ctx, "posts/go.md"); err != nil {
		t.Fatalf("DeletePostByPath: %v", err)
	}
	if _, total, err = db.ListPosts(ctx, PostFilter{Query: "workers"}); err != nil || total != 0 {
		t.Errorf("deleted post still searchable: total=%d err=%v", total, err)
	}
	// Deleting again is a no-op.
	if err := db.DeletePostByPath(ctx, "posts/go.md"); err != nil {
		t.Errorf("idempotent delete: %v", err)
	}
}

func TestListPostsFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	posts := []*models.Post{
		testPost("posts/a.md", "Alpha", base, []string{"tech"}, false),
		testPost("posts/b.md", "Beta", base.AddDate(0, 1, 0), []string{"life"}, false),
		testPost("posts/c.md", "Gamma", base.AddDate(0, 2, 0), []string{"tech", "life"}, true),
	}
	for _, p := range posts {
		if err := db.UpsertPost(ctx, p, p.Title+" body"); err != nil {
			t.Fatal(err)
		}
	}

	// Drafts excluded by default.
	got, total, err := db.ListPosts(ctx, PostFilter{})
	if err != nil || total != 2 || len(got) != 2 {
		t.Fatalf("default list: total=%d err=%v", total, err)
	}
	// Newest first by default.
	if got[0].FilePath != "posts/b.md" {
		t.Errorf("order: got %s first", got[0].FilePath)
	}

	got, total, err = db.ListPosts(ctx, PostFilter{IncludeDrafts: true, LabelIDs: []string{"tech"}})
	if err != nil || total != 2 {
		t.Errorf("label filter: total=%d err=%v", total, err)
	}

	_, total, err = db.ListPosts(ctx, PostFilter{From: fmtTime(base.AddDate(0, 1, 0))})
	if err != nil || total != 1 {
		t.Errorf("from filter: total=%d err=%v", total, err)
	}

	got, total, err = db.ListPosts(ctx, PostFilter{Limit: 1, Offset: 1, Order: "asc"})
	if err != nil || total != 2 || len(got) != 1 || got[0].FilePath != "posts/b.md" {
		t.Errorf("pagination: total=%d got=%+v err=%v", total, got, err)
	}
}

func TestLabelClosure(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// tech <- swe <- golang, plus swe <- databases sibling edge target.
	for _, l := range []*models.Label{
		{ID: "tech", Names: []string{"tech", "technology"}},
		{ID: "swe", Names: []string{"swe"}, Parents: []string{"tech"}},
		{ID: "golang", Names: []string{"golang"}, Parents: []string{"swe"}},
		{ID: "databases", Names: []string{"databases"}, Parents: []string{"swe"}},
	} {
		if err := db.UpsertLabel(ctx, l); err != nil {
			t.Fatalf("UpsertLabel(%s): %v", l.ID, err)
		}
	}

	desc, err := db.Descendants(ctx, "tech")
	if err != nil {
		t.Fatalf("Descendants: %v", err)
	}
	if len(desc) != 4 {
		t.Errorf("Descendants(tech) = %v", desc)
	}

	anc, err := db.Ancestors(ctx, "golang")
	if err != nil {
		t.Fatalf("Ancestors: %v", err)
	}
	if len(anc) != 3 {
		t.Errorf("Ancestors(golang) = %v", anc)
	}

	got, err := db.GetLabel(ctx, "tech")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Names) != 2 || got.IsImplicit {
		t.Errorf("GetLabel(tech) = %+v", got)
	}

	if err := db.DeleteLabel(ctx, "swe"); err != nil {
		t.Fatalf("DeleteLabel: %v", err)
	}
	desc, err = db.Descendants(ctx, "tech")
	if err != nil || len(desc) != 1 {
		t.Errorf("edges not cascaded: %v, %v", desc, err)
	}
}

func TestImplicitLabelCreatedByPost(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := testPost("posts/tech/x.md", "X", time.Now(), []string{"tech"}, false)
	if err := db.UpsertPost(ctx, p, "body"); err != nil {
		t.Fatal(err)
	}
	l, err := db.GetLabel(ctx, "tech")
	if err != nil {
		t.Fatalf("implicit label missing: %v", err)
	}
	if !l.IsImplicit || l.PostCount != 1 {
		t.Errorf("got %+v", l)
	}
}

func TestManifestReplace(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	first := []models.ManifestEntry{
		{FilePath: "posts/a.md", ContentHash: "h1", FileSize: 10, FileMtime: now},
		{FilePath: "index.toml", ContentHash: "h2", FileSize: 20, FileMtime: now},
	}
	if err := db.ReplaceManifest(ctx, first); err != nil {
		t.Fatalf("ReplaceManifest: %v", err)
	}

	second := []models.ManifestEntry{
		{FilePath: "posts/a.md", ContentHash: "h3", FileSize: 11, FileMtime: now},
	}
	if err := db.ReplaceManifest(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetManifest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got["posts/a.md"].ContentHash != "h3" {
		t.Errorf("manifest = %+v", got)
	}
}

func TestClearDerivedKeepsUsers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustCreateUser(t, db, "keep", true)

	p := testPost("posts/a.md", "A", time.Now(), []string{"tech"}, false)
	if err := db.UpsertPost(ctx, p, "body"); err != nil {
		t.Fatal(err)
	}
	if err := db.ClearDerived(ctx); err != nil {
		t.Fatalf("ClearDerived: %v", err)
	}

	if _, total, err := db.ListPosts(ctx, PostFilter{IncludeDrafts: true}); err != nil || total != 0 {
		t.Errorf("posts survived clear: total=%d err=%v", total, err)
	}
	if _, total, err := db.ListPosts(ctx, PostFilter{Query: "body"}); err != nil || total != 0 {
		t.Errorf("fts survived clear: total=%d err=%v", total, err)
	}
	if n, err := db.CountUsers(ctx); err != nil || n != 1 {
		t.Errorf("users damaged by clear: %d, %v", n, err)
	}
}
