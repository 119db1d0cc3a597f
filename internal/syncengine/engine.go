// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package syncengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/agblogger/agblogger/internal/cache"
	"github.com/agblogger/agblogger/internal/content"
	"github.com/agblogger/agblogger/internal/database"
	"github.com/agblogger/agblogger/internal/frontmatter"
	"github.com/agblogger/agblogger/internal/gitver"
	"github.com/agblogger/agblogger/internal/logging"
	"github.com/agblogger/agblogger/internal/models"
)

// Per-file outcomes reported by COMMIT.
const (
	FileMerged        = "merged"         // clean three-way merge written
	FileConflict      = "conflict"       // markers present, server version kept
	FileServerWins    = "server_wins"    // no usable base, server version kept
	FileClientWins    = "client_wins"    // binary, client mtime newer
	FileDeleted       = "deleted"        // server-side delete applied
	FileDeleteDemoted = "delete_demoted" // server changed since base, delete refused
)

// ConflictInput is the client's re-resolution payload for one conflicted
// path.
type ConflictInput struct {
	FilePath      string    `json:"file_path"`
	ClientContent []byte    `json:"client_content"`
	ClientMtime   time.Time `json:"client_mtime,omitempty"`
}

// CommitRequest finalizes a sync session.
type CommitRequest struct {
	LastSyncCommit string          `json:"last_sync_commit,omitempty"`
	UploadedPaths  []string        `json:"uploaded_paths,omitempty"`
	DeletePaths    []string        `json:"delete_paths,omitempty"`
	Conflicts      []ConflictInput `json:"conflicts,omitempty"`
}

// FileResult reports what happened to one path during COMMIT. For conflicts
// the descriptor fields let the client write its backup and show markers.
type FileResult struct {
	FilePath          string `json:"file_path"`
	Status            string `json:"status"`
	Base              string `json:"base,omitempty"`
	Ours              string `json:"ours,omitempty"`
	Theirs            string `json:"theirs,omitempty"`
	MergedWithMarkers string `json:"merged_with_markers,omitempty"`
}

// CommitResult is the COMMIT response. Status is "ok" when the git commit
// succeeded and "warning" otherwise; a stale hash is never reported as ok.
type CommitResult struct {
	Status     string       `json:"status"`
	CommitHash string       `json:"commit_hash,omitempty"`
	Files      []FileResult `json:"files,omitempty"`
	Warnings   []string     `json:"warnings,omitempty"`
}

// Engine runs sync sessions against the server's content directory. The
// mutex serializes COMMIT and cache rebuilds; INIT, uploads, and downloads
// are stateless and may interleave freely.
type Engine struct {
	db    *database.DB
	store *content.Store
	repo  *gitver.Repo
	cache *cache.Service

	mu sync.Mutex
}

// New creates an Engine.
func New(db *database.DB, store *content.Store, repo *gitver.Repo, cacheSvc *cache.Service) *Engine {
	return &Engine{db: db, store: store, repo: repo, cache: cacheSvc}
}

// Init computes the sync plan for a client manifest. lastSyncCommit may be
// empty on first sync.
func (e *Engine) Init(ctx context.Context, clientEntries []models.ManifestEntry, lastSyncCommit string) (*Plan, error) {
	serverEntries, err := e.store.ScanAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync init scan: %w", err)
	}

	client := manifestMap(clientEntries)
	server := manifestMap(serverEntries)

	hasBase := lastSyncCommit != "" && e.repo.HasCommit(ctx, lastSyncCommit)
	base := func(path string) (string, bool, error) {
		blob, err := e.repo.BlobAtCommit(ctx, lastSyncCommit, path)
		if errors.Is(err, gitver.ErrNoBlob) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return content.HashBytes(blob), true, nil
	}

	entries, err := Classify(client, server, base, hasBase)
	if err != nil {
		return nil, err
	}

	head, err := e.repo.HeadCommit(ctx)
	if errors.Is(err, gitver.ErrNoCommit) {
		head = ""
	} else if err != nil {
		return nil, err
	}
	return &Plan{ServerCommit: head, Entries: entries}, nil
}

// Upload writes one client file. Path validation and markdown guardrails
// live in the content store; each upload is independent and idempotent.
func (e *Engine) Upload(ctx context.Context, path string, data []byte) error {
	_ = ctx
	return e.store.WriteFile(path, data)
}

// Download reads one server file for the client.
func (e *Engine) Download(ctx context.Context, path string) ([]byte, error) {
	_ = ctx
	return e.store.ReadFile(path)
}

// Commit finalizes a session under the sync mutex. Invalid paths in any
// category fail the whole request; content errors after validation degrade
// to warnings once the filesystem and git are consistent.
func (e *Engine) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Step 1: every path must validate, no silent skips.
	for _, path := range gatherPaths(req) {
		if _, err := e.store.ResolveSafe(path); err != nil {
			return nil, fmt.Errorf("path %q: %w", path, err)
		}
	}

	res := &CommitResult{Status: "ok"}

	// Step 2: deletions, demoted when the server copy moved since base.
	for _, path := range req.DeletePaths {
		fr, err := e.applyDelete(ctx, req.LastSyncCommit, path)
		if err != nil {
			return nil, err
		}
		res.Files = append(res.Files, fr)
	}

	// Steps 3 and 4: conflict merges, normalizing only genuinely merged
	// markdown.
	for _, in := range req.Conflicts {
		fr, err := e.applyConflict(ctx, req.LastSyncCommit, in)
		if err != nil {
			return nil, err
		}
		res.Files = append(res.Files, fr)
	}

	// Step 5: git commit. Failure downgrades the status, never fakes a hash.
	if err := e.repo.CommitAll(ctx, "Sync commit"); err != nil {
		logging.Error().Err(err).Msg("Sync git commit failed")
		res.Status = "warning"
		res.Warnings = append(res.Warnings, "git commit failed: "+err.Error())
	} else if head, err := e.repo.HeadCommit(ctx); err != nil {
		res.Status = "warning"
		res.Warnings = append(res.Warnings, "git head unavailable: "+err.Error())
	} else {
		res.CommitHash = head
	}

	// Step 6: refresh the server manifest.
	if entries, err := e.store.ScanAll(ctx); err != nil {
		res.Warnings = append(res.Warnings, "manifest scan failed: "+err.Error())
	} else if err := e.db.ReplaceManifest(ctx, entries); err != nil {
		res.Warnings = append(res.Warnings, "manifest update failed: "+err.Error())
	}

	// Step 7: rebuild the cache.
	if err := e.cache.Rebuild(ctx); err != nil {
		res.Warnings = append(res.Warnings, "cache rebuild failed: "+err.Error())
	}
	return res, nil
}

// RebuildCache runs a full cache rebuild under the sync mutex so it never
// races a COMMIT's manifest replacement.
func (e *Engine) RebuildCache(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Rebuild(ctx)
}

// CommitContent stages and commits the working tree after an editor
// mutation, under the sync mutex so it never interleaves with a session's
// COMMIT. The filesystem write already succeeded, so a failing commit is
// logged rather than surfaced; without it the next sync's merge base would
// drift behind the files on disk.
func (e *Engine) CommitContent(ctx context.Context, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.repo.CommitAll(ctx, message); err != nil {
		logging.Warn().Err(err).Str("message", message).Msg("Content git commit failed")
	}
}

func (e *Engine) applyDelete(ctx context.Context, baseCommit, path string) (FileResult, error) {
	current, err := e.store.ReadFile(path)
	if errors.Is(err, content.ErrNotFound) {
		return FileResult{FilePath: path, Status: FileDeleted}, nil
	}
	if err != nil {
		return FileResult{}, err
	}

	// Only delete what the client actually saw; anything newer follows the
	// delete/modify preservation rule.
	baseBlob, baseErr := e.repo.BlobAtCommit(ctx, baseCommit, path)
	if baseErr != nil || content.HashBytes(baseBlob) != content.HashBytes(current) {
		logging.Info().Str("path", path).Msg("Delete demoted, server copy changed since base")
		return FileResult{FilePath: path, Status: FileDeleteDemoted}, nil
	}

	if isPostPath(path) {
		err = e.store.DeletePost(path)
	} else {
		err = e.store.DeleteFile(path)
	}
	if err != nil {
		return FileResult{}, err
	}
	return FileResult{FilePath: path, Status: FileDeleted}, nil
}

func (e *Engine) applyConflict(ctx context.Context, baseCommit string, in ConflictInput) (FileResult, error) {
	path := in.FilePath
	serverData, err := e.store.ReadFile(path)
	if errors.Is(err, content.ErrNotFound) {
		// Server side vanished; the client copy is the only survivor.
		if err := e.store.WriteFile(path, in.ClientContent); err != nil {
			return FileResult{}, err
		}
		return FileResult{FilePath: path, Status: FileClientWins}, nil
	}
	if err != nil {
		return FileResult{}, err
	}

	if !strings.HasSuffix(path, ".md") {
		return e.binaryConflict(path, serverData, in)
	}

	baseBlob, baseErr := e.repo.BlobAtCommit(ctx, baseCommit, path)
	if baseErr != nil {
		// No usable base: conservative server-wins.
		return FileResult{FilePath: path, Status: FileServerWins, Ours: string(serverData), Theirs: string(in.ClientContent)}, nil
	}

	merged, err := gitver.Merge3(ctx, baseBlob, serverData, in.ClientContent)
	if err != nil {
		return FileResult{}, err
	}
	if merged.Conflict {
		return FileResult{
			FilePath:          path,
			Status:            FileConflict,
			Base:              string(baseBlob),
			Ours:              string(serverData),
			Theirs:            string(in.ClientContent),
			MergedWithMarkers: string(merged.Merged),
		}, nil
	}

	if err := e.writeMerged(path, merged.Merged); err != nil {
		return FileResult{}, err
	}
	return FileResult{FilePath: path, Status: FileMerged}, nil
}

// binaryConflict is last-writer-wins by mtime; the API response tells the
// losing side to keep a conflict-backup.
func (e *Engine) binaryConflict(path string, serverData []byte, in ConflictInput) (FileResult, error) {
	abs, err := e.store.ResolveSafe(path)
	if err != nil {
		return FileResult{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return FileResult{}, err
	}
	if in.ClientMtime.After(info.ModTime()) {
		if err := e.store.WriteFile(path, in.ClientContent); err != nil {
			return FileResult{}, err
		}
		return FileResult{FilePath: path, Status: FileClientWins}, nil
	}
	return FileResult{FilePath: path, Status: FileServerWins}, nil
}

// writeMerged persists a clean merge. Markdown goes through the post writer
// so merged front matter comes out with canonical timestamps.
func (e *Engine) writeMerged(path string, data []byte) error {
	if isPostPath(path) {
		header, body := frontmatter.Split(data)
		_, err := e.store.WritePost(path, header, body)
		return err
	}
	return e.store.WriteFile(path, data)
}

func isPostPath(path string) bool {
	return strings.HasPrefix(path, "posts/") && strings.HasSuffix(path, ".md")
}

func gatherPaths(req CommitRequest) []string {
	paths := make([]string, 0, len(req.UploadedPaths)+len(req.DeletePaths)+len(req.Conflicts))
	paths = append(paths, req.UploadedPaths...)
	paths = append(paths, req.DeletePaths...)
	for _, c := range req.Conflicts {
		paths = append(paths, c.FilePath)
	}
	return paths
}

func manifestMap(entries []models.ManifestEntry) map[string]models.ManifestEntry {
	m := make(map[string]models.ManifestEntry, len(entries))
	for _, e := range entries {
		m[e.FilePath] = e
	}
	return m
}
