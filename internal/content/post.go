// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package content

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
	"time"

	"github.com/agblogger/agblogger/internal/frontmatter"
	"github.com/agblogger/agblogger/internal/fsutil"
	"github.com/agblogger/agblogger/internal/timeutil"
)

// timeNow is swapped in tests.
var timeNow = time.Now

func fsutilWrite(abs string, data []byte) error {
	return fsutil.WriteFileAtomic(abs, data, 0o644)
}

// PostFile is a parsed markdown post as it exists on disk.
type PostFile struct {
	// Path is the slash-separated path relative to the content root,
	// always under posts/.
	Path string

	Header *frontmatter.Header
	Body   string

	// Title is the first "# " heading, or derived from the filename.
	Title string

	// Hash is the SHA-256 of the raw file bytes, hex encoded.
	Hash string

	Size int64

	// CreatedAt/ModifiedAt are the parsed header timestamps; zero when the
	// header carries none.
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Labels returns the union of front-matter labels and the implicit labels
// contributed by directory segments under posts/.
func (p *PostFile) Labels() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range p.Header.Labels {
		add(id)
	}
	for _, id := range ImplicitLabels(p.Path) {
		add(id)
	}
	return out
}

// ImplicitLabels derives label ids from the directory segments between
// posts/ and the file: posts/tech/swe/x.md contributes tech and swe.
func ImplicitLabels(relPath string) []string {
	relPath = path.Clean(strings.ReplaceAll(relPath, "\\", "/"))
	rest, ok := strings.CutPrefix(relPath, "posts/")
	if !ok {
		return nil
	}
	segments := strings.Split(path.Dir(rest), "/")
	var out []string
	for _, seg := range segments {
		if seg == "." || seg == "" {
			continue
		}
		out = append(out, strings.ToLower(seg))
	}
	return out
}

// HashBytes returns the hex SHA-256 content hash of file bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// parsePostFile splits front matter, extracts the title, and parses the
// header timestamps with the given normalizer.
func parsePostFile(relPath string, data []byte, n *timeutil.Normalizer) (*PostFile, error) {
	header, body := frontmatter.Split(data)

	p := &PostFile{
		Path:   strings.ReplaceAll(relPath, "\\", "/"),
		Header: header,
		Body:   body,
		Title:  extractTitle(body, relPath),
		Hash:   HashBytes(data),
		Size:   int64(len(data)),
	}
	if header.CreatedAt != "" {
		if t, err := n.Parse(header.CreatedAt); err == nil {
			p.CreatedAt = t
		}
	}
	if header.ModifiedAt != "" {
		if t, err := n.Parse(header.ModifiedAt); err == nil {
			p.ModifiedAt = t
		}
	}
	return p, nil
}

// extractTitle returns the first "# " heading of the body, falling back to a
// title derived from the filename (hyphens and underscores become spaces).
func extractTitle(body, relPath string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if title, ok := strings.CutPrefix(line, "# "); ok {
			return strings.TrimSpace(title)
		}
	}
	base := path.Base(strings.ReplaceAll(relPath, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.ReplaceAll(base, "-", " ")
	base = strings.ReplaceAll(base, "_", " ")
	return base
}
