// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// Package gitver versions the content directory by shelling out to git. The
// server commits after every mutation, serves historical blobs to the sync
// protocol, and delegates three-way merges to git merge-file. Only plumbing
// subcommands are used; no go-git style reimplementation.
package gitver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/agblogger/agblogger/internal/logging"
)

// Errors reported by repository operations.
var (
	ErrNoCommit   = errors.New("gitver: no commits yet")
	ErrBadCommit  = errors.New("gitver: malformed commit hash")
	ErrNoBlob     = errors.New("gitver: blob not found at commit")
	ErrGitMissing = errors.New("gitver: git executable not found")
)

// commitPattern constrains hashes accepted from the wire before they reach a
// git command line.
var commitPattern = regexp.MustCompile(`^[0-9a-f]{4,40}$`)

// ValidCommit reports whether s is acceptable as a commit hash argument.
func ValidCommit(s string) bool {
	return commitPattern.MatchString(s)
}

// Repo is a git repository rooted at the content directory.
type Repo struct {
	dir string
}

// Open verifies the git binary exists and returns a handle. The repository
// itself may not exist yet; InitIfAbsent creates it.
func Open(dir string) (*Repo, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, ErrGitMissing
	}
	return &Repo{dir: dir}, nil
}

// Dir returns the repository root.
func (r *Repo) Dir() string {
	return r.dir
}

// InitIfAbsent creates the repository and an initial commit when dir is not
// yet under version control. Identity is configured locally so commits work
// on hosts without a global git config.
func (r *Repo) InitIfAbsent(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(r.dir, ".git")); err == nil {
		return nil
	}
	if _, err := r.run(ctx, "init", "--initial-branch=main"); err != nil {
		// Older git lacks --initial-branch.
		if _, err2 := r.run(ctx, "init"); err2 != nil {
			return err
		}
	}
	if _, err := r.run(ctx, "config", "user.name", "agblogger"); err != nil {
		return err
	}
	if _, err := r.run(ctx, "config", "user.email", "agblogger@localhost"); err != nil {
		return err
	}
	if _, err := r.run(ctx, "add", "-A"); err != nil {
		return err
	}
	if _, err := r.run(ctx, "commit", "--allow-empty", "-m", "Initialize content repository"); err != nil {
		return err
	}
	logging.Info().Str("dir", r.dir).Msg("Initialized content repository")
	return nil
}

// HeadCommit returns the full hash of HEAD.
func (r *Repo) HeadCommit(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		if strings.Contains(err.Error(), "unknown revision") ||
			strings.Contains(err.Error(), "ambiguous argument") {
			return "", ErrNoCommit
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// HasCommit reports whether hash names a commit known to the repository.
// Malformed hashes are simply unknown.
func (r *Repo) HasCommit(ctx context.Context, hash string) bool {
	if !ValidCommit(hash) {
		return false
	}
	_, err := r.run(ctx, "rev-parse", "--verify", "--quiet", hash+"^{commit}")
	return err == nil
}

// CommitAll stages everything and commits. A clean tree is not an error; the
// previous HEAD simply stays current.
func (r *Repo) CommitAll(ctx context.Context, message string) error {
	if _, err := r.run(ctx, "add", "-A"); err != nil {
		return err
	}
	out, err := r.run(ctx, "commit", "--allow-empty-message", "-m", message)
	if err != nil {
		if strings.Contains(out, "nothing to commit") || strings.Contains(err.Error(), "nothing to commit") {
			return nil
		}
		return err
	}
	return nil
}

// BlobAtCommit returns the content of path as of commit. The hash must have
// passed ValidCommit; paths are repo-relative.
func (r *Repo) BlobAtCommit(ctx context.Context, commit, path string) ([]byte, error) {
	if !ValidCommit(commit) {
		return nil, ErrBadCommit
	}
	out, err := r.runBytes(ctx, "show", commit+":"+path)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "does not exist") ||
			strings.Contains(msg, "exists on disk, but not in") ||
			strings.Contains(msg, "bad revision") ||
			strings.Contains(msg, "invalid object name") ||
			strings.Contains(msg, "unknown revision") {
			return nil, ErrNoBlob
		}
		return nil, err
	}
	return out, nil
}

// MergeResult carries the output of a three-way merge.
type MergeResult struct {
	Merged   []byte
	Conflict bool
}

// Merge3 merges ours and theirs against base using git merge-file. Conflict
// markers use the standard labels. Temp files live outside the worktree so a
// merge never dirties the repository.
func Merge3(ctx context.Context, base, ours, theirs []byte) (*MergeResult, error) {
	dir, err := os.MkdirTemp("", "agblogger-merge-*")
	if err != nil {
		return nil, fmt.Errorf("merge tempdir: %w", err)
	}
	defer os.RemoveAll(dir)

	paths := map[string][]byte{"base": base, "ours": ours, "theirs": theirs}
	for name, data := range paths {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
			return nil, fmt.Errorf("merge temp %s: %w", name, err)
		}
	}

	cmd := exec.CommandContext(ctx, "git", "merge-file",
		"-L", "local", "-L", "base", "-L", "remote", "-p",
		filepath.Join(dir, "ours"), filepath.Join(dir, "base"), filepath.Join(dir, "theirs"))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if err == nil {
		return &MergeResult{Merged: stdout.Bytes()}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 && exitErr.ExitCode() < 128 {
		// Positive exit status counts conflicts; output carries markers.
		return &MergeResult{Merged: stdout.Bytes(), Conflict: true}, nil
	}
	return nil, fmt.Errorf("git merge-file: %w: %s", err, stderr.String())
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	out, err := r.runBytes(ctx, args...)
	return string(out), err
}

func (r *Repo) runBytes(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
