// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// Package syncclient is the CLI side of the sync protocol. It scans a local
// content directory, negotiates a plan with the server, moves files in both
// directions, and finalizes with COMMIT. Every server-provided path is
// validated against the local root before any byte is written.
package syncclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/agblogger/agblogger/internal/content"
	"github.com/agblogger/agblogger/internal/logging"
	"github.com/agblogger/agblogger/internal/models"
	"github.com/agblogger/agblogger/internal/syncengine"
)

// Error categories; the CLI maps them to exit codes.
var (
	ErrAuth       = errors.New("syncclient: authentication failed")
	ErrPathSafety = errors.New("syncclient: unsafe path from server")
	ErrServer     = errors.New("syncclient: server error")
)

// Client talks to one server about one local directory.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
	store   *content.Store
	state   *State
}

// New creates a Client. The local directory is managed through a content
// store so path validation and dotfile exclusion match the server exactly.
func New(baseURL, token string, store *content.Store) (*Client, error) {
	state, err := LoadState(store.Root())
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{},
		store:   store,
		state:   state,
	}, nil
}

// LastSyncCommit returns the merge base recorded after the previous
// successful sync.
func (c *Client) LastSyncCommit() string {
	return c.state.LastSyncCommit
}

// Result summarizes one full sync run.
type Result struct {
	Uploaded     int
	Downloaded   int
	DeletedLocal int
	Conflicts    []string
	Commit       *syncengine.CommitResult
}

// Run performs a complete sync session: scan, INIT, transfers, COMMIT, and
// state update.
func (c *Client) Run(ctx context.Context) (*Result, error) {
	local, err := c.store.ScanAll(ctx)
	if err != nil {
		return nil, err
	}

	plan, err := c.Init(ctx, local)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	commitReq := syncengine.CommitRequest{LastSyncCommit: c.state.LastSyncCommit}

	for _, e := range plan.Entries {
		switch e.Action {
		case syncengine.ActionSkip, syncengine.ActionCoincident:
			// nothing to transfer

		case syncengine.ActionUpload:
			data, err := c.store.ReadFile(e.FilePath)
			if err != nil {
				return nil, err
			}
			if err := c.Upload(ctx, e.FilePath, data); err != nil {
				return nil, err
			}
			commitReq.UploadedPaths = append(commitReq.UploadedPaths, e.FilePath)
			res.Uploaded++

		case syncengine.ActionDownload:
			if err := c.download(ctx, e, res); err != nil {
				return nil, err
			}

		case syncengine.ActionDeleteLocal:
			if err := c.store.DeleteFile(e.FilePath); err != nil {
				return nil, err
			}
			res.DeletedLocal++

		case syncengine.ActionDeleteServer:
			commitReq.DeletePaths = append(commitReq.DeletePaths, e.FilePath)

		case syncengine.ActionConflict:
			data, err := c.store.ReadFile(e.FilePath)
			if err != nil {
				return nil, err
			}
			mtime := localMtime(c.store, e.FilePath)
			commitReq.Conflicts = append(commitReq.Conflicts, syncengine.ConflictInput{
				FilePath: e.FilePath, ClientContent: data, ClientMtime: mtime,
			})
		}
	}

	commit, err := c.Commit(ctx, commitReq)
	if err != nil {
		return nil, err
	}
	res.Commit = commit

	if err := c.applyCommitResults(ctx, commit, res); err != nil {
		return nil, err
	}

	if commit.Status == "ok" && commit.CommitHash != "" {
		c.state.LastSyncCommit = commit.CommitHash
		if err := c.state.Save(c.store.Root()); err != nil {
			return nil, err
		}
	} else {
		logging.Warn().Strs("warnings", commit.Warnings).Msg("Sync finished with warnings, merge base not advanced")
	}
	return res, nil
}

// download fetches one file. When the plan marked server-wins over local
// changes, the local copy is preserved as a conflict-backup first.
func (c *Client) download(ctx context.Context, e syncengine.PlanEntry, res *Result) error {
	data, err := c.Download(ctx, e.FilePath)
	if err != nil {
		return err
	}
	if e.ServerWins {
		if err := c.backupLocal(e.FilePath); err != nil {
			return err
		}
		res.Conflicts = append(res.Conflicts, e.FilePath)
	}
	if err := c.store.WriteFile(e.FilePath, data); err != nil {
		if errors.Is(err, content.ErrUnsafePath) {
			return fmt.Errorf("%w: %s", ErrPathSafety, e.FilePath)
		}
		return err
	}
	res.Downloaded++
	return nil
}

// applyCommitResults handles the per-file outcomes of COMMIT: merged and
// server-kept files are fetched so the working copy matches the server, and
// the local version of a lost conflict is kept as a backup.
func (c *Client) applyCommitResults(ctx context.Context, commit *syncengine.CommitResult, res *Result) error {
	for _, fr := range commit.Files {
		switch fr.Status {
		case syncengine.FileMerged, syncengine.FileConflict, syncengine.FileServerWins:
			if fr.Status != syncengine.FileMerged {
				if err := c.backupLocal(fr.FilePath); err != nil {
					return err
				}
				res.Conflicts = append(res.Conflicts, fr.FilePath)
			}
			data, err := c.Download(ctx, fr.FilePath)
			if err != nil {
				return err
			}
			if err := c.store.WriteFile(fr.FilePath, data); err != nil {
				return err
			}

		case syncengine.FileDeleteDemoted:
			// The server kept a newer copy; pull it back down.
			data, err := c.Download(ctx, fr.FilePath)
			if err != nil {
				return err
			}
			if err := c.store.WriteFile(fr.FilePath, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// backupLocal copies the current local file to path.conflict-backup. A
// missing local file needs no backup.
func (c *Client) backupLocal(path string) error {
	data, err := c.store.ReadFile(path)
	if errors.Is(err, content.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return c.store.WriteFile(path+".conflict-backup", data)
}

func localMtime(store *content.Store, path string) time.Time {
	abs, err := store.ResolveSafe(path)
	if err != nil {
		return time.Time{}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Init negotiates the sync plan.
func (c *Client) Init(ctx context.Context, manifest []models.ManifestEntry) (*syncengine.Plan, error) {
	body := map[string]any{
		"manifest":         manifest,
		"last_sync_commit": c.state.LastSyncCommit,
	}
	var plan syncengine.Plan
	if err := c.postJSON(ctx, "/api/sync/init", body, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Upload sends one file.
func (c *Client) Upload(ctx context.Context, path string, data []byte) error {
	body := map[string]any{"file_path": path, "content": data}
	return c.postJSON(ctx, "/api/sync/upload", body, nil)
}

// Download fetches one file's raw bytes.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	u := c.baseURL + "/api/sync/download/" + url.PathEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrAuth
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download %s: status %d", ErrServer, path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Commit finalizes the session.
func (c *Client) Commit(ctx context.Context, req syncengine.CommitRequest) (*syncengine.CommitResult, error) {
	var res syncengine.CommitResult
	if err := c.postJSON(ctx, "/api/sync/commit", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// envelope mirrors the server's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServer, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServer, err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrAuth
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrServer, err)
	}
	if !env.Success {
		msg := "unknown error"
		if env.Error != nil {
			msg = env.Error.Code + ": " + env.Error.Message
		}
		return fmt.Errorf("%w: %s", ErrServer, msg)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: malformed data: %v", ErrServer, err)
		}
	}
	return nil
}
