// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package outbound

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/agblogger/agblogger/internal/models"
)

// Cross-posting errors.
var (
	ErrUnknownPlatform    = errors.New("outbound: unknown platform")
	ErrInvalidCredentials = errors.New("outbound: platform rejected the credentials")
)

// PostRef is the subset of a post handed to cross-posters.
type PostRef struct {
	Title   string   `json:"title"`
	URL     string   `json:"url"`
	Excerpt string   `json:"excerpt"`
	Labels  []string `json:"labels"`
}

// CrossPoster is one platform integration. Credentials arrive as the
// decrypted JSON blob the account was stored with; each platform defines its
// own shape.
type CrossPoster interface {
	Platform() string
	ValidateCredentials(ctx context.Context, creds []byte) error
	Post(ctx context.Context, creds []byte, post PostRef) error
}

// Registry dispatches cross-posting by platform tag.
type Registry struct {
	mu      sync.RWMutex
	posters map[string]CrossPoster
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{posters: make(map[string]CrossPoster)}
}

// Register adds a platform integration, replacing any previous one with the
// same tag.
func (r *Registry) Register(p CrossPoster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posters[p.Platform()] = p
}

// Lookup returns the poster for a platform tag.
func (r *Registry) Lookup(platform string) (CrossPoster, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.posters[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
	return p, nil
}

// Platforms lists the registered platform tags, sorted.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.posters))
	for tag := range r.posters {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// webhookCredentials is the credential shape for the generic webhook
// platform: a user-supplied HTTPS endpoint plus an optional bearer token.
type webhookCredentials struct {
	Endpoint string `json:"endpoint"`
	Token    string `json:"token,omitempty"`
}

// WebhookPoster posts to a user-supplied HTTPS endpoint through the safe
// client. It is the built-in platform; richer integrations register
// alongside it.
type WebhookPoster struct {
	client *Client
}

// NewWebhookPoster creates the webhook platform over a safe client.
func NewWebhookPoster(client *Client) *WebhookPoster {
	return &WebhookPoster{client: client}
}

// Platform returns the dispatch tag.
func (p *WebhookPoster) Platform() string { return "webhook" }

// ValidateCredentials checks the credential shape and probes the endpoint
// with a HEAD request.
func (p *WebhookPoster) ValidateCredentials(ctx context.Context, creds []byte) error {
	wc, err := p.parse(creds)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, wc.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if wc.Token != "" {
		req.Header.Set("Authorization", "Bearer "+wc.Token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrInvalidCredentials
	}
	return nil
}

// Post delivers the post reference as JSON.
func (p *WebhookPoster) Post(ctx context.Context, creds []byte, post PostRef) error {
	wc, err := p.parse(creds)
	if err != nil {
		return err
	}
	body, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("encode post: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if wc.Token != "" {
		req.Header.Set("Authorization", "Bearer "+wc.Token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

func (p *WebhookPoster) parse(creds []byte) (*webhookCredentials, error) {
	var wc webhookCredentials
	if err := json.Unmarshal(creds, &wc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if wc.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidCredentials)
	}
	return &wc, nil
}

// ensure the built-in platform satisfies the interface.
var _ CrossPoster = (*WebhookPoster)(nil)

// makePostRef builds the cross-post payload from a cached post.
func makePostRef(post *models.Post, baseURL string) PostRef {
	return PostRef{
		Title:   post.Title,
		URL:     baseURL + "/" + post.FilePath,
		Excerpt: post.Excerpt,
		Labels:  post.Labels,
	}
}
