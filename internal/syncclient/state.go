// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package syncclient

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/agblogger/agblogger/internal/fsutil"
)

// stateFile is a dot-file so the scan surface never syncs it.
const stateFile = ".agblogger-sync.json"

// State is the client's persistent sync record.
type State struct {
	LastSyncCommit string    `json:"last_sync_commit,omitempty"`
	LastSyncAt     time.Time `json:"last_sync_at,omitempty"`
}

// LoadState reads the state file in dir; a missing file is a fresh client.
func LoadState(dir string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(dir, stateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("read sync state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse sync state: %w", err)
	}
	return &s, nil
}

// Save writes the state file atomically.
func (s *State) Save(dir string) error {
	s.LastSyncAt = time.Now().UTC()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sync state: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, stateFile), data, 0o644); err != nil {
		return fmt.Errorf("write sync state: %w", err)
	}
	return nil
}
