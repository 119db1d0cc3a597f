// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// Package syncengine is the server half of the bidirectional sync protocol:
// INIT classifies every path against the client manifest and the merge base,
// UPLOAD/DOWNLOAD move bytes, COMMIT finalizes under the sync mutex. Hash is
// truth everywhere; size and mtime are never compared across machines.
package syncengine

import (
	"fmt"
	"sort"

	"github.com/agblogger/agblogger/internal/models"
)

// Action is the per-path plan verb. The plan is a partition: every path in
// the union of both manifests receives exactly one action.
type Action string

const (
	ActionSkip         Action = "skip"
	ActionUpload       Action = "upload"
	ActionDownload     Action = "download"
	ActionDeleteLocal  Action = "delete_local"
	ActionDeleteServer Action = "delete_server"
	ActionConflict     Action = "conflict"
	ActionCoincident   Action = "coincident"
)

// PlanEntry is one path's classification.
type PlanEntry struct {
	FilePath   string `json:"file_path"`
	Action     Action `json:"action"`
	ClientHash string `json:"client_hash,omitempty"`
	ServerHash string `json:"server_hash,omitempty"`
	BaseHash   string `json:"base_hash,omitempty"`
	// ServerWins marks downloads that overwrite local edits because no
	// merge base was available; the client keeps a conflict-backup.
	ServerWins bool `json:"server_wins,omitempty"`
}

// Plan is the INIT response body.
type Plan struct {
	ServerCommit string      `json:"server_commit"`
	Entries      []PlanEntry `json:"entries"`
}

// BaseFunc returns the merge-base content hash for a path, reporting whether
// the path existed at the base commit.
type BaseFunc func(path string) (hash string, exists bool, err error)

// Classify partitions client ∪ server paths. hasBase is false on first sync
// or when the client's last commit is unknown to the repository; the
// fallback is then server-wins for differences while local-only paths still
// upload.
func Classify(client, server map[string]models.ManifestEntry, base BaseFunc, hasBase bool) ([]PlanEntry, error) {
	paths := make([]string, 0, len(client)+len(server))
	seen := make(map[string]bool, len(client)+len(server))
	for p := range client {
		seen[p] = true
		paths = append(paths, p)
	}
	for p := range server {
		if !seen[p] {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	entries := make([]PlanEntry, 0, len(paths))
	for _, path := range paths {
		c, cOK := client[path]
		s, sOK := server[path]

		e := PlanEntry{FilePath: path}
		if cOK {
			e.ClientHash = c.ContentHash
		}
		if sOK {
			e.ServerHash = s.ContentHash
		}

		var bHash string
		var bOK bool
		if hasBase {
			var err error
			bHash, bOK, err = base(path)
			if err != nil {
				return nil, fmt.Errorf("merge base for %s: %w", path, err)
			}
			e.BaseHash = bHash
		}

		e.Action = classifyOne(c.ContentHash, cOK, s.ContentHash, sOK, bHash, bOK, hasBase, &e)
		entries = append(entries, e)
	}
	return entries, nil
}

func classifyOne(cHash string, cOK bool, sHash string, sOK bool, bHash string, bOK, hasBase bool, e *PlanEntry) Action {
	switch {
	case cOK && sOK:
		if cHash == sHash {
			if hasBase && bOK && bHash == cHash {
				return ActionSkip
			}
			// Both sides arrived at the same bytes independently.
			return ActionCoincident
		}
		if !hasBase || !bOK {
			e.ServerWins = true
			return ActionDownload
		}
		switch {
		case bHash == cHash:
			return ActionDownload // remote edit
		case bHash == sHash:
			return ActionUpload // local edit
		default:
			return ActionConflict
		}

	case cOK: // absent on server
		if hasBase && bOK {
			if cHash == bHash {
				return ActionDeleteLocal // remote delete
			}
			return ActionUpload // modify/delete: data preservation
		}
		return ActionUpload // local add

	default: // absent on client, present on server
		if hasBase && bOK {
			if sHash == bHash {
				return ActionDeleteServer // local delete
			}
			return ActionDownload // delete/modify: data preservation
		}
		return ActionDownload // remote add
	}
}
