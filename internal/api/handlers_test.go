// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/agblogger/agblogger/internal/config"
	"github.com/agblogger/agblogger/internal/content"
	"github.com/agblogger/agblogger/internal/gitver"
	"github.com/agblogger/agblogger/internal/models"
	"github.com/agblogger/agblogger/internal/render"
	"github.com/agblogger/agblogger/internal/syncengine"
)

func TestPostCRUD(t *testing.T) {
	e := newTestEnv(t)
	_, admin := e.createUser("root", true)

	resp, raw := e.request(http.MethodPost, "/api/posts", admin, map[string]any{
		"file_path": "posts/hello.md",
		"author":    "root",
		"labels":    []string{"tech"},
		"body":      "# Hello\n\nFirst post.\n",
	})
	wantStatus(t, resp, raw, http.StatusCreated)
	var created postResponse
	decodeData(t, raw, &created)
	if created.Title != "Hello" {
		t.Errorf("title = %q", created.Title)
	}
	if len(created.Labels) != 1 || created.Labels[0] != "tech" {
		t.Errorf("labels = %v", created.Labels)
	}

	// Duplicate path conflicts.
	resp, raw = e.request(http.MethodPost, "/api/posts", admin, map[string]any{
		"file_path": "posts/hello.md",
		"body":      "# Again\n",
	})
	wantStatus(t, resp, raw, http.StatusConflict)

	// Listed.
	resp, raw = e.request(http.MethodGet, "/api/posts", "", nil)
	wantStatus(t, resp, raw, http.StatusOK)
	var posts []*models.Post
	decodeData(t, raw, &posts)
	if len(posts) != 1 || posts[0].FilePath != "posts/hello.md" {
		t.Fatalf("posts = %+v", posts)
	}

	// Rendered view.
	resp, raw = e.request(http.MethodGet, "/api/posts/posts/hello.md", "", nil)
	wantStatus(t, resp, raw, http.StatusOK)
	var got postResponse
	decodeData(t, raw, &got)
	if !strings.Contains(got.HTML, "Hello") {
		t.Errorf("html = %q", got.HTML)
	}

	// Raw view carries front matter and markdown.
	resp, raw = e.request(http.MethodGet, "/api/posts/posts/hello.md/raw", "", nil)
	wantStatus(t, resp, raw, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(string(raw), "# Hello") {
		t.Errorf("raw body = %q", raw)
	}

	// Edit view is the editor's parsed form, admin only.
	resp, raw = e.request(http.MethodGet, "/api/posts/posts/hello.md/edit", admin, nil)
	wantStatus(t, resp, raw, http.StatusOK)
	var edit map[string]any
	decodeData(t, raw, &edit)
	if edit["body"] != "# Hello\n\nFirst post.\n" {
		t.Errorf("edit body = %q", edit["body"])
	}
	resp, raw = e.request(http.MethodGet, "/api/posts/posts/hello.md/edit", "", nil)
	wantStatus(t, resp, raw, http.StatusNotFound)

	// Update keeps created_at and swaps labels.
	resp, raw = e.request(http.MethodPut, "/api/posts/posts/hello.md", admin, map[string]any{
		"labels": []string{"life"},
		"body":   "# Hello\n\nEdited.\n",
	})
	wantStatus(t, resp, raw, http.StatusOK)
	var updated postResponse
	decodeData(t, raw, &updated)
	if len(updated.Labels) != 1 || updated.Labels[0] != "life" {
		t.Errorf("labels after update = %v", updated.Labels)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("created_at changed: %v -> %v", created.CreatedAt, updated.CreatedAt)
	}

	// Delete.
	resp, raw = e.request(http.MethodDelete, "/api/posts/posts/hello.md", admin, nil)
	wantStatus(t, resp, raw, http.StatusNoContent)
	resp, raw = e.request(http.MethodGet, "/api/posts/posts/hello.md", "", nil)
	wantStatus(t, resp, raw, http.StatusNotFound)
}

func TestPostMutationsRequireAdmin(t *testing.T) {
	e := newTestEnv(t)
	_, user := e.createUser("alice", false)

	resp, raw := e.request(http.MethodPost, "/api/posts", user, map[string]any{
		"file_path": "posts/x.md", "body": "# X\n",
	})
	wantStatus(t, resp, raw, http.StatusForbidden)

	resp, raw = e.request(http.MethodPost, "/api/posts", "", map[string]any{
		"file_path": "posts/x.md", "body": "# X\n",
	})
	wantStatus(t, resp, raw, http.StatusUnauthorized)
}

func TestPostPathTraversalRejected(t *testing.T) {
	e := newTestEnv(t)
	_, admin := e.createUser("root", true)

	resp, raw := e.request(http.MethodPost, "/api/posts", admin, map[string]any{
		"file_path": "posts/../../etc/passwd.md",
		"body":      "# nope\n",
	})
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d\n%s", resp.StatusCode, raw)
	}
}

func TestPostWriteRejectsBadContent(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) { c.Content.MaxPostSize = 1024 })
	_, admin := e.createUser("root", true)

	resp, raw := e.request(http.MethodPost, "/api/posts", admin, map[string]any{
		"file_path": "posts/big.md",
		"body":      "# Big\n\n" + strings.Repeat("a", 2048),
	})
	wantStatus(t, resp, raw, http.StatusBadRequest)
	wantErrorCode(t, raw, ErrCodeBadRequest)

	resp, raw = e.request(http.MethodPost, "/api/posts", admin, map[string]any{
		"file_path": "posts/bin.md",
		"body":      "# Bin\n\nbad\x00bytes\n",
	})
	wantStatus(t, resp, raw, http.StatusBadRequest)
	wantErrorCode(t, raw, ErrCodeBadRequest)
}

func TestDraftVisibility(t *testing.T) {
	e := newTestEnv(t)
	_, admin := e.createUser("root", true)

	resp, raw := e.request(http.MethodPost, "/api/posts", admin, map[string]any{
		"file_path": "posts/secret.md",
		"draft":     true,
		"body":      "# Secret\n",
	})
	wantStatus(t, resp, raw, http.StatusCreated)

	// Anonymous: invisible in every view.
	resp, raw = e.request(http.MethodGet, "/api/posts/posts/secret.md", "", nil)
	wantStatus(t, resp, raw, http.StatusNotFound)
	resp, raw = e.request(http.MethodGet, "/api/posts/posts/secret.md/raw", "", nil)
	wantStatus(t, resp, raw, http.StatusNotFound)
	resp, raw = e.request(http.MethodGet, "/api/posts", "", nil)
	wantStatus(t, resp, raw, http.StatusOK)
	var posts []*models.Post
	decodeData(t, raw, &posts)
	if len(posts) != 0 {
		t.Fatalf("anonymous list shows drafts: %+v", posts)
	}

	// Admin: visible, and listed on request.
	resp, raw = e.request(http.MethodGet, "/api/posts/posts/secret.md", admin, nil)
	wantStatus(t, resp, raw, http.StatusOK)
	resp, raw = e.request(http.MethodGet, "/api/posts?drafts=true", admin, nil)
	wantStatus(t, resp, raw, http.StatusOK)
	decodeData(t, raw, &posts)
	if len(posts) != 1 {
		t.Fatalf("admin draft list = %+v", posts)
	}

	// Singular spelling works the same way.
	resp, raw = e.request(http.MethodGet, "/api/posts?draft=true", admin, nil)
	wantStatus(t, resp, raw, http.StatusOK)
	decodeData(t, raw, &posts)
	if len(posts) != 1 {
		t.Fatalf("admin draft list via draft= = %+v", posts)
	}
}

func TestLabelCycleRejected(t *testing.T) {
	e := newTestEnv(t)
	_, admin := e.createUser("root", true)

	resp, raw := e.request(http.MethodPost, "/api/labels", admin,
		map[string]any{"id": "a", "names": []string{"A"}})
	wantStatus(t, resp, raw, http.StatusCreated)
	resp, raw = e.request(http.MethodPost, "/api/labels", admin,
		map[string]any{"id": "b", "parents": []string{"a"}})
	wantStatus(t, resp, raw, http.StatusCreated)

	// Closing the loop names the offending edge.
	resp, raw = e.request(http.MethodPut, "/api/labels/a", admin,
		map[string]any{"parents": []string{"b"}})
	wantStatus(t, resp, raw, http.StatusConflict)
	env := parseEnvelope(t, raw)
	if env.Error.Code != ErrCodeConflict {
		t.Fatalf("code = %q", env.Error.Code)
	}
	var details struct {
		Child  string `json:"child"`
		Parent string `json:"parent"`
	}
	if err := json.Unmarshal(env.Error.Details, &details); err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.Child != "a" || details.Parent != "b" {
		t.Errorf("edge = %+v", details)
	}
}

func TestLabelInvalidIDRejected(t *testing.T) {
	e := newTestEnv(t)
	_, admin := e.createUser("root", true)

	for _, id := range []string{"", "-bad", "_bad", "bad!", "bad label"} {
		resp, raw := e.request(http.MethodPost, "/api/labels", admin,
			map[string]any{"id": id})
		wantStatus(t, resp, raw, http.StatusBadRequest)
		wantErrorCode(t, raw, ErrCodeValidationFailed)
	}

	// Invalid parent ids are rejected the same way.
	resp, raw := e.request(http.MethodPost, "/api/labels", admin,
		map[string]any{"id": "ok", "parents": []string{"Bad Parent"}})
	wantStatus(t, resp, raw, http.StatusBadRequest)
	wantErrorCode(t, raw, ErrCodeValidationFailed)
}

func TestEditorMutationsCommit(t *testing.T) {
	e := newTestEnv(t)
	e.requireGit()
	_, admin := e.createUser("root", true)
	ctx := context.Background()

	resp, raw := e.request(http.MethodPost, "/api/posts", admin, map[string]any{
		"file_path": "posts/tracked.md",
		"body":      "# Tracked\n\nv1\n",
	})
	wantStatus(t, resp, raw, http.StatusCreated)
	head1, err := e.repo.HeadCommit(ctx)
	if err != nil {
		t.Fatalf("HeadCommit after create: %v", err)
	}
	blob, err := e.repo.BlobAtCommit(ctx, head1, "posts/tracked.md")
	if err != nil || !strings.Contains(string(blob), "v1") {
		t.Fatalf("created file not in HEAD: %q, %v", blob, err)
	}

	resp, raw = e.request(http.MethodPut, "/api/posts/posts/tracked.md", admin,
		map[string]any{"body": "# Tracked\n\nv2\n"})
	wantStatus(t, resp, raw, http.StatusOK)
	head2, err := e.repo.HeadCommit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if head2 == head1 {
		t.Fatal("update left the worktree uncommitted")
	}

	resp, raw = e.request(http.MethodDelete, "/api/posts/posts/tracked.md", admin, nil)
	wantStatus(t, resp, raw, http.StatusNoContent)
	head3, err := e.repo.HeadCommit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if head3 == head2 {
		t.Fatal("delete left the worktree uncommitted")
	}
	if _, err := e.repo.BlobAtCommit(ctx, head3, "posts/tracked.md"); !errors.Is(err, gitver.ErrNoBlob) {
		t.Errorf("deleted file still in HEAD: %v", err)
	}
}

func TestLabelFilterCoversDescendants(t *testing.T) {
	e := newTestEnv(t)
	_, admin := e.createUser("root", true)

	resp, raw := e.request(http.MethodPost, "/api/labels", admin,
		map[string]any{"id": "tech", "names": []string{"Tech"}})
	wantStatus(t, resp, raw, http.StatusCreated)
	resp, raw = e.request(http.MethodPost, "/api/labels", admin,
		map[string]any{"id": "swe", "parents": []string{"tech"}})
	wantStatus(t, resp, raw, http.StatusCreated)

	resp, raw = e.request(http.MethodPost, "/api/posts", admin, map[string]any{
		"file_path": "posts/code.md",
		"labels":    []string{"swe"},
		"body":      "# Code\n",
	})
	wantStatus(t, resp, raw, http.StatusCreated)

	// Filtering by the parent finds the child-labeled post, under either
	// parameter spelling.
	var posts []*models.Post
	for _, query := range []string{"label=tech", "labels=tech"} {
		resp, raw = e.request(http.MethodGet, "/api/posts?"+query, "", nil)
		wantStatus(t, resp, raw, http.StatusOK)
		decodeData(t, raw, &posts)
		if len(posts) != 1 || posts[0].FilePath != "posts/code.md" {
			t.Fatalf("posts for %s = %+v", query, posts)
		}
	}

	resp, raw = e.request(http.MethodGet, "/api/labels/tech/posts", "", nil)
	wantStatus(t, resp, raw, http.StatusOK)
	decodeData(t, raw, &posts)
	if len(posts) != 1 {
		t.Fatalf("label posts = %+v", posts)
	}

	// The graph endpoint reports the edge.
	resp, raw = e.request(http.MethodGet, "/api/labels/graph", "", nil)
	wantStatus(t, resp, raw, http.StatusOK)
	var graph struct {
		Nodes []*models.Label `json:"nodes"`
		Edges []struct {
			Child  string `json:"child"`
			Parent string `json:"parent"`
		} `json:"edges"`
	}
	decodeData(t, raw, &graph)
	found := false
	for _, edge := range graph.Edges {
		if edge.Child == "swe" && edge.Parent == "tech" {
			found = true
		}
	}
	if !found {
		t.Fatalf("edge swe -> tech missing: %+v", graph.Edges)
	}
}

func TestRenderPreview(t *testing.T) {
	e := newTestEnv(t)
	_, user := e.createUser("alice", false)

	// Anonymous: rejected.
	resp, raw := e.request(http.MethodPost, "/api/render/preview", "",
		map[string]string{"markdown": "# Hi"})
	wantStatus(t, resp, raw, http.StatusUnauthorized)

	resp, raw = e.request(http.MethodPost, "/api/render/preview", user,
		map[string]string{"markdown": "# Hi"})
	wantStatus(t, resp, raw, http.StatusOK)
	var data map[string]string
	decodeData(t, raw, &data)
	if !strings.Contains(data["html"], "Hi") {
		t.Errorf("html = %q", data["html"])
	}
}

func TestRenderPreviewErrorMapping(t *testing.T) {
	e := newTestEnv(t)
	_, user := e.createUser("alice", false)

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unavailable", render.ErrUnavailable, http.StatusBadGateway, ErrCodeRenderUnavailable},
		{"failed", render.ErrFailed, http.StatusUnprocessableEntity, ErrCodeRenderFailed},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, ErrCodeRenderTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e.renderer.err = tc.err
			defer func() { e.renderer.err = nil }()

			resp, raw := e.request(http.MethodPost, "/api/render/preview", user,
				map[string]string{"markdown": "# Hi"})
			wantStatus(t, resp, raw, tc.status)
			wantErrorCode(t, raw, tc.code)
		})
	}
}

func TestSyncRequiresAdmin(t *testing.T) {
	e := newTestEnv(t)
	_, user := e.createUser("alice", false)

	resp, raw := e.request(http.MethodPost, "/api/sync/init", user,
		map[string]any{"manifest": []models.ManifestEntry{}})
	wantStatus(t, resp, raw, http.StatusForbidden)
}

func TestSyncFirstSession(t *testing.T) {
	e := newTestEnv(t)
	e.requireGit()
	_, admin := e.createUser("root", true)
	ctx := context.Background()

	if err := e.store.WriteFile("posts/existing.md", []byte("# Existing\n")); err != nil {
		t.Fatal(err)
	}
	if err := e.repo.CommitAll(ctx, "seed"); err != nil {
		t.Fatal(err)
	}

	// First sync: empty manifest, everything downloads.
	resp, raw := e.request(http.MethodPost, "/api/sync/init", admin,
		map[string]any{"manifest": []models.ManifestEntry{}, "last_sync_commit": ""})
	wantStatus(t, resp, raw, http.StatusOK)
	var plan syncengine.Plan
	decodeData(t, raw, &plan)
	if plan.ServerCommit == "" {
		t.Fatal("no server commit in plan")
	}
	if len(plan.Entries) != 1 || plan.Entries[0].Action != syncengine.ActionDownload {
		t.Fatalf("plan = %+v", plan.Entries)
	}

	// Download returns the raw bytes.
	resp, raw = e.request(http.MethodGet, "/api/sync/download/posts%2Fexisting.md", admin, nil)
	wantStatus(t, resp, raw, http.StatusOK)
	if string(raw) != "# Existing\n" {
		t.Fatalf("download = %q", raw)
	}

	// Upload a client-side file and commit.
	resp, raw = e.request(http.MethodPost, "/api/sync/upload", admin,
		map[string]any{"file_path": "posts/new.md", "content": []byte("# New\n")})
	wantStatus(t, resp, raw, http.StatusOK)

	resp, raw = e.request(http.MethodPost, "/api/sync/commit", admin,
		syncengine.CommitRequest{UploadedPaths: []string{"posts/new.md"}})
	wantStatus(t, resp, raw, http.StatusOK)
	var res syncengine.CommitResult
	decodeData(t, raw, &res)
	if res.Status != "ok" || res.CommitHash == "" {
		t.Fatalf("commit = %+v", res)
	}

	// The commit rebuilt the cache: the new post is queryable.
	resp, raw = e.request(http.MethodGet, "/api/posts", "", nil)
	wantStatus(t, resp, raw, http.StatusOK)
	var posts []*models.Post
	decodeData(t, raw, &posts)
	if len(posts) != 2 {
		t.Fatalf("posts after sync = %+v", posts)
	}
}

func TestSyncConflictMergesCleanly(t *testing.T) {
	e := newTestEnv(t)
	e.requireGit()
	_, admin := e.createUser("root", true)
	ctx := context.Background()

	// Base version both sides start from.
	if err := e.store.WriteFile("posts/n.md", []byte("L1\nL2\nL3\n")); err != nil {
		t.Fatal(err)
	}
	if err := e.repo.CommitAll(ctx, "base"); err != nil {
		t.Fatal(err)
	}
	base, err := e.repo.HeadCommit(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Server edits the tail, client edits the head.
	if err := e.store.WriteFile("posts/n.md", []byte("L1\nL2\nL3b\n")); err != nil {
		t.Fatal(err)
	}
	if err := e.repo.CommitAll(ctx, "server edit"); err != nil {
		t.Fatal(err)
	}
	clientContent := []byte("L1a\nL2\nL3\n")

	resp, raw := e.request(http.MethodPost, "/api/sync/init", admin, map[string]any{
		"manifest": []models.ManifestEntry{
			{FilePath: "posts/n.md", ContentHash: content.HashBytes(clientContent)},
		},
		"last_sync_commit": base,
	})
	wantStatus(t, resp, raw, http.StatusOK)
	var plan syncengine.Plan
	decodeData(t, raw, &plan)
	if len(plan.Entries) != 1 || plan.Entries[0].Action != syncengine.ActionConflict {
		t.Fatalf("plan = %+v", plan.Entries)
	}

	resp, raw = e.request(http.MethodPost, "/api/sync/commit", admin, syncengine.CommitRequest{
		LastSyncCommit: base,
		Conflicts: []syncengine.ConflictInput{
			{FilePath: "posts/n.md", ClientContent: clientContent},
		},
	})
	wantStatus(t, resp, raw, http.StatusOK)
	var res syncengine.CommitResult
	decodeData(t, raw, &res)
	if len(res.Files) != 1 || res.Files[0].Status != syncengine.FileMerged {
		t.Fatalf("commit files = %+v", res.Files)
	}

	merged, err := e.store.ReadFile("posts/n.md")
	if err != nil {
		t.Fatal(err)
	}
	if string(merged) != "L1a\nL2\nL3b\n" {
		t.Fatalf("merged = %q", merged)
	}
}

func TestSocialLinkAndCrossPost(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.createUser("alice", false)
	_, admin := e.createUser("root", true)

	// Anonymous: rejected.
	resp, raw := e.request(http.MethodGet, "/api/social/", "", nil)
	wantStatus(t, resp, raw, http.StatusUnauthorized)

	// Bad credentials never persist.
	resp, raw = e.request(http.MethodPost, "/api/social/", token, map[string]any{
		"platform":    "stub",
		"credentials": map[string]string{"token": "bad-token"},
	})
	wantStatus(t, resp, raw, http.StatusUnprocessableEntity)

	resp, raw = e.request(http.MethodPost, "/api/social/", token, map[string]any{
		"platform":     "stub",
		"account_name": "me",
		"credentials":  map[string]string{"token": "good"},
	})
	wantStatus(t, resp, raw, http.StatusCreated)
	var account models.SocialAccount
	decodeData(t, raw, &account)

	// Unknown platform is a validation failure.
	resp, raw = e.request(http.MethodPost, "/api/social/", token, map[string]any{
		"platform":    "myspace",
		"credentials": map[string]string{"token": "good"},
	})
	wantStatus(t, resp, raw, http.StatusBadRequest)

	// A published post cross-posts; the poster sees the public URL.
	resp, raw = e.request(http.MethodPost, "/api/posts", admin, map[string]any{
		"file_path": "posts/hello.md",
		"body":      "# Hello\n",
	})
	wantStatus(t, resp, raw, http.StatusCreated)

	resp, raw = e.request(http.MethodPost, fmt.Sprintf("/api/social/%d/crosspost", account.ID), token,
		map[string]string{"file_path": "posts/hello.md"})
	wantStatus(t, resp, raw, http.StatusOK)
	if len(e.poster.posts) != 1 {
		t.Fatalf("poster calls = %d", len(e.poster.posts))
	}
	if !strings.Contains(e.poster.posts[0].URL, "posts/hello.md") {
		t.Errorf("post URL = %q", e.poster.posts[0].URL)
	}

	// Drafts stay home.
	resp, raw = e.request(http.MethodPost, "/api/posts", admin, map[string]any{
		"file_path": "posts/wip.md",
		"draft":     true,
		"body":      "# WIP\n",
	})
	wantStatus(t, resp, raw, http.StatusCreated)
	resp, raw = e.request(http.MethodPost, fmt.Sprintf("/api/social/%d/crosspost", account.ID), token,
		map[string]string{"file_path": "posts/wip.md"})
	wantStatus(t, resp, raw, http.StatusBadRequest)

	// Unlink, then the account is gone.
	resp, raw = e.request(http.MethodDelete, fmt.Sprintf("/api/social/%d", account.ID), token, nil)
	wantStatus(t, resp, raw, http.StatusNoContent)
	resp, raw = e.request(http.MethodPost, fmt.Sprintf("/api/social/%d/crosspost", account.ID), token,
		map[string]string{"file_path": "posts/hello.md"})
	wantStatus(t, resp, raw, http.StatusNotFound)
}

func TestAdminRebuild(t *testing.T) {
	e := newTestEnv(t)
	_, admin := e.createUser("root", true)

	if err := e.store.WriteFile("posts/offline.md", []byte("# Offline\n")); err != nil {
		t.Fatal(err)
	}

	// Written behind the API's back; only a rebuild surfaces it.
	resp, raw := e.request(http.MethodGet, "/api/posts", "", nil)
	wantStatus(t, resp, raw, http.StatusOK)
	var posts []*models.Post
	decodeData(t, raw, &posts)
	if len(posts) != 0 {
		t.Fatalf("posts before rebuild = %+v", posts)
	}

	resp, raw = e.request(http.MethodPost, "/api/admin/rebuild", admin, nil)
	wantStatus(t, resp, raw, http.StatusOK)

	resp, raw = e.request(http.MethodGet, "/api/posts", "", nil)
	wantStatus(t, resp, raw, http.StatusOK)
	decodeData(t, raw, &posts)
	if len(posts) != 1 {
		t.Fatalf("posts after rebuild = %+v", posts)
	}
}
