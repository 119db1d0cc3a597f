// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// Package labels manages the label graph. Explicit labels are defined in
// labels.toml inside the content directory; implicit labels appear when a
// post references an undefined id. The graph must stay acyclic: mutations
// are rejected up front, and definitions arriving from sync are repaired by
// dropping edges.
package labels

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/agblogger/agblogger/internal/database"
	"github.com/agblogger/agblogger/internal/logging"
	"github.com/agblogger/agblogger/internal/models"
	"github.com/agblogger/agblogger/internal/tomlcfg"
)

// ErrCycle is wrapped by CycleError; errors.Is(err, ErrCycle) matches.
var ErrCycle = errors.New("labels: cycle")

// ErrNotFound reports a label id with no explicit or implicit definition.
var ErrNotFound = errors.New("labels: not found")

// ErrBadID reports a label id outside the allowed pattern.
var ErrBadID = errors.New("labels: invalid id")

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidID reports whether a normalized id matches ^[a-z0-9][a-z0-9_-]*$.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// CycleError names the edge whose addition would close a cycle.
type CycleError struct {
	Child  string
	Parent string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("labels: edge %s -> %s would create a cycle", e.Child, e.Parent)
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// Service coordinates labels.toml and the label cache tables. The mutex
// serializes read-modify-write cycles on the file.
type Service struct {
	db   *database.DB
	path string

	mu sync.Mutex
}

// NewService creates a Service over the given labels.toml path.
func NewService(db *database.DB, labelsPath string) *Service {
	return &Service{db: db, path: labelsPath}
}

// NormalizeID canonicalizes a label reference: hash prefix stripped,
// surrounding space trimmed, lowercased.
func NormalizeID(raw string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "#"))
}

// Upsert creates or updates an explicit label definition. The new edge set
// is checked against the rest of the graph before anything is written; a
// rejected mutation leaves both file and cache untouched.
func (s *Service) Upsert(ctx context.Context, id string, names, parents []string) (*models.Label, error) {
	id = NormalizeID(id)
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrBadID, id)
	}

	normParents := make([]string, 0, len(parents))
	for _, p := range parents {
		p = NormalizeID(p)
		if p == "" || p == id {
			continue
		}
		if !ValidID(p) {
			return nil, fmt.Errorf("%w: parent %q", ErrBadID, p)
		}
		normParents = append(normParents, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lf, err := tomlcfg.LoadLabels(s.path)
	if err != nil {
		return nil, err
	}

	// Graph as it would look after the change.
	edges := fileEdges(lf)
	edges[id] = normParents
	for _, p := range normParents {
		if reachable(edges, p, id) {
			return nil, &CycleError{Child: id, Parent: p}
		}
	}

	if len(names) == 0 {
		names = []string{id}
	}
	lf.Labels[id] = tomlcfg.LabelDef{Names: names, Parents: normParents}
	if err := tomlcfg.SaveLabels(s.path, lf); err != nil {
		return nil, err
	}

	l := &models.Label{ID: id, Names: names, Parents: normParents}
	if err := s.db.UpsertLabel(ctx, l); err != nil {
		return nil, err
	}
	return s.db.GetLabel(ctx, id)
}

// Delete removes an explicit definition. References to the id in other
// definitions' parent lists are dropped so the file never dangles; the cache
// cascades edges in both directions itself. Deleting an id that only exists
// implicitly removes it from the cache alone.
func (s *Service) Delete(ctx context.Context, id string) error {
	id = NormalizeID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	lf, err := tomlcfg.LoadLabels(s.path)
	if err != nil {
		return err
	}
	_, explicit := lf.Labels[id]
	if explicit {
		delete(lf.Labels, id)
		for child, def := range lf.Labels {
			kept := def.Parents[:0]
			for _, p := range def.ParentIDs() {
				if p != id {
					kept = append(kept, p)
				}
			}
			def.Parent = ""
			def.Parents = kept
			lf.Labels[child] = def
		}
		if err := tomlcfg.SaveLabels(s.path, lf); err != nil {
			return err
		}
	}

	err = s.db.DeleteLabel(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		if !explicit {
			return ErrNotFound
		}
		return nil
	}
	return err
}

// Get returns one label from the cache.
func (s *Service) Get(ctx context.Context, id string) (*models.Label, error) {
	l, err := s.db.GetLabel(ctx, NormalizeID(id))
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	return l, err
}

// List returns every cached label.
func (s *Service) List(ctx context.Context) ([]*models.Label, error) {
	return s.db.ListLabels(ctx)
}

// ResolveByName maps a display name or alias to a label id. Ids match
// themselves; names match case-insensitively.
func (s *Service) ResolveByName(ctx context.Context, name string) (string, error) {
	norm := NormalizeID(name)
	all, err := s.db.ListLabels(ctx)
	if err != nil {
		return "", err
	}
	for _, l := range all {
		if l.ID == norm {
			return l.ID, nil
		}
	}
	for _, l := range all {
		for _, n := range l.Names {
			if strings.EqualFold(strings.TrimSpace(n), strings.TrimSpace(name)) {
				return l.ID, nil
			}
		}
	}
	return "", ErrNotFound
}

// Expand returns the id plus all descendant ids, used by post filtering
// where a label covers its children's posts.
func (s *Service) Expand(ctx context.Context, id string) ([]string, error) {
	return s.db.Descendants(ctx, NormalizeID(id))
}

// Reconcile pushes labels.toml into the cache. Definitions may arrive from
// sync or hand edits, so the file is repaired first: edges are admitted in
// deterministic order and any edge that would close a cycle is dropped with
// a warning. Explicit ids absent from the cache are added; cached explicit
// ids no longer in the file are demoted to implicit when posts still
// reference them and deleted otherwise.
func (s *Service) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lf, err := tomlcfg.LoadLabels(s.path)
	if err != nil {
		return err
	}
	repaired := breakCycles(lf)

	defs := make(map[string]tomlcfg.LabelDef, len(lf.Labels))
	for id, def := range lf.Labels {
		defs[NormalizeID(id)] = def
	}

	for _, id := range sortedIDs(lf) {
		if !ValidID(id) {
			logging.Warn().Str("id", id).Msg("Dropping label definition with invalid id")
			continue
		}
		def := defs[id]
		names := def.Names
		if len(names) == 0 {
			names = []string{id}
		}
		l := &models.Label{ID: id, Names: names, Parents: repaired[id]}
		if err := s.db.UpsertLabel(ctx, l); err != nil {
			return fmt.Errorf("reconcile label %s: %w", id, err)
		}
	}

	cached, err := s.db.ListLabels(ctx)
	if err != nil {
		return err
	}
	for _, l := range cached {
		if l.IsImplicit {
			continue
		}
		if _, ok := defs[l.ID]; ok {
			continue
		}
		if l.PostCount > 0 {
			demoted := &models.Label{ID: l.ID, Names: []string{l.ID}, IsImplicit: true}
			if err := s.db.UpsertLabel(ctx, demoted); err != nil {
				return err
			}
			continue
		}
		if err := s.db.DeleteLabel(ctx, l.ID); err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}
	}
	return nil
}

// fileEdges extracts the normalized child to parents adjacency from a
// labels file.
func fileEdges(lf *tomlcfg.LabelsFile) map[string][]string {
	edges := make(map[string][]string, len(lf.Labels))
	for id, def := range lf.Labels {
		id = NormalizeID(id)
		var parents []string
		for _, p := range def.ParentIDs() {
			p = NormalizeID(p)
			if p != id && ValidID(p) {
				parents = append(parents, p)
			}
		}
		edges[id] = parents
	}
	return edges
}

// reachable reports whether walking parent edges from start ever reaches
// target.
func reachable(edges map[string][]string, start, target string) bool {
	if start == target {
		return true
	}
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range edges[cur] {
			if next == target {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// labelEdge is one parent edge with its enumeration index: children in
// sorted id order, each child's parents in file order.
type labelEdge struct {
	child, parent string
	index         int
}

// breakCycles repairs an externally edited file: an iterative DFS finds a
// cycle, the highest-indexed edge on it is dropped with a warning, and the
// search repeats until the remaining edges are acyclic.
func breakCycles(lf *tomlcfg.LabelsFile) map[string][]string {
	raw := fileEdges(lf)

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var all []labelEdge
	for _, id := range ids {
		for _, parent := range raw[id] {
			all = append(all, labelEdge{child: id, parent: parent, index: len(all)})
		}
	}

	removed := make(map[int]bool)
	for {
		adj := make(map[string][]labelEdge, len(ids))
		for _, e := range all {
			if !removed[e.index] {
				adj[e.child] = append(adj[e.child], e)
			}
		}
		cycle := findCycle(ids, adj)
		if cycle == nil {
			break
		}
		worst := cycle[0]
		for _, e := range cycle[1:] {
			if e.index > worst.index {
				worst = e
			}
		}
		removed[worst.index] = true
		logging.Warn().
			Str("child", worst.child).
			Str("parent", worst.parent).
			Msg("Dropping label edge on a cycle")
	}

	repaired := make(map[string][]string, len(raw))
	for id := range raw {
		repaired[id] = nil
	}
	for _, e := range all {
		if !removed[e.index] {
			repaired[e.child] = append(repaired[e.child], e.parent)
		}
	}
	return repaired
}

// findCycle walks parent edges depth first with an explicit stack and
// returns the edges of the first cycle encountered, or nil when the graph is
// acyclic.
func findCycle(ids []string, adj map[string][]labelEdge) []labelEdge {
	const (
		unvisited = iota
		onPath
		done
	)
	state := make(map[string]int, len(ids))

	type frame struct {
		node string
		next int
	}
	for _, start := range ids {
		if state[start] != unvisited {
			continue
		}
		state[start] = onPath
		stack := []frame{{node: start}}
		var path []labelEdge
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			out := adj[f.node]
			if f.next >= len(out) {
				state[f.node] = done
				stack = stack[:len(stack)-1]
				if len(path) > 0 {
					path = path[:len(path)-1]
				}
				continue
			}
			e := out[f.next]
			f.next++
			switch state[e.parent] {
			case unvisited:
				state[e.parent] = onPath
				path = append(path, e)
				stack = append(stack, frame{node: e.parent})
			case onPath:
				cycle := []labelEdge{e}
				for i := len(path) - 1; i >= 0; i-- {
					if path[i].parent != cycle[len(cycle)-1].child {
						break
					}
					cycle = append(cycle, path[i])
					if path[i].child == e.parent {
						break
					}
				}
				return cycle
			}
		}
	}
	return nil
}

func sortedIDs(lf *tomlcfg.LabelsFile) []string {
	ids := make([]string, 0, len(lf.Labels))
	for id := range lf.Labels {
		ids = append(ids, NormalizeID(id))
	}
	sort.Strings(ids)
	return ids
}
