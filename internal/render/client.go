// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package render

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/agblogger/agblogger/internal/logging"
	"github.com/agblogger/agblogger/internal/sanitizer"
)

// Errors surfaced to callers; the API layer maps them to response codes.
var (
	ErrUnavailable = errors.New("render: engine unavailable")
	ErrTooLarge    = errors.New("render: input too large")
	ErrFailed      = errors.New("render: engine failed")
)

// Defaults for Options zero values.
const (
	DefaultPoolSize  = 4
	DefaultTimeout   = 10 * time.Second
	DefaultMaxInput  = 10 << 20
	shutdownGrace    = 3 * time.Second
	spawnReadTimeout = 5 * time.Second
)

// Options configures the Client. Exactly one of BinPath or BaseURL must be
// set: BinPath spawns and supervises the engine process, BaseURL talks to an
// engine someone else runs.
type Options struct {
	BinPath  string
	BaseURL  string
	PoolSize int
	Timeout  time.Duration
	MaxInput int
}

// Client renders markdown through the engine process. Concurrency is capped
// by a weighted semaphore; one failed request triggers a single restart and
// retry before callers see ErrUnavailable.
type Client struct {
	opts Options
	sem  *semaphore.Weighted
	hc   *http.Client
	san  *sanitizer.Sanitizer

	mu      sync.Mutex
	proc    *exec.Cmd
	baseURL string
	closed  bool
}

// NewClient creates a Client. The engine process is spawned lazily on first
// use.
func NewClient(opts Options, san *sanitizer.Sanitizer) (*Client, error) {
	if opts.BinPath == "" && opts.BaseURL == "" {
		return nil, errors.New("render: engine binary or base URL required")
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxInput <= 0 {
		opts.MaxInput = DefaultMaxInput
	}
	return &Client{
		opts: opts,
		sem:  semaphore.NewWeighted(int64(opts.PoolSize)),
		hc:   &http.Client{Timeout: opts.Timeout},
		san:  san,
	}, nil
}

// Render converts markdown to sanitized HTML.
func (c *Client) Render(ctx context.Context, markdown string) (string, error) {
	if len(markdown) > c.opts.MaxInput {
		return "", ErrTooLarge
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	base, err := c.ensureRunning(ctx)
	if err != nil {
		return "", err
	}

	html, err := c.post(ctx, base, markdown)
	if err == nil {
		return c.san.Sanitize(html), nil
	}
	if errors.Is(err, ErrFailed) || ctx.Err() != nil {
		// The engine answered (or the caller ran out of time); restarting
		// will not change the outcome.
		return "", err
	}

	logging.Warn().Err(err).Msg("Render request failed, restarting engine")
	base, rerr := c.restart(ctx)
	if rerr != nil {
		return "", ErrUnavailable
	}
	html, err = c.post(ctx, base, markdown)
	if err != nil {
		if errors.Is(err, ErrFailed) {
			return "", err
		}
		return "", ErrUnavailable
	}
	return c.san.Sanitize(html), nil
}

// Healthy probes the engine without rendering.
func (c *Client) Healthy(ctx context.Context) bool {
	c.mu.Lock()
	base := c.baseURL
	c.mu.Unlock()
	if base == "" {
		return false
	}
	return c.ping(ctx, base) == nil
}

// Close terminates the engine process: SIGTERM, then SIGKILL after a grace
// period.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.stopLocked()
}

func (c *Client) ensureRunning(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrUnavailable
	}
	if c.baseURL != "" {
		return c.baseURL, nil
	}
	if err := c.spawnLocked(ctx); err != nil {
		return "", err
	}
	return c.baseURL, nil
}

func (c *Client) restart(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrUnavailable
	}
	if c.opts.BinPath == "" {
		// External engine: nothing to restart, just re-probe.
		if err := c.ping(ctx, c.opts.BaseURL); err != nil {
			return "", err
		}
		return c.opts.BaseURL, nil
	}
	c.stopLocked()
	if err := c.spawnLocked(ctx); err != nil {
		return "", err
	}
	return c.baseURL, nil
}

// spawnLocked starts the engine and waits for its address line and a passing
// health check. Callers hold c.mu.
func (c *Client) spawnLocked(ctx context.Context) error {
	if c.opts.BinPath == "" {
		if err := c.ping(ctx, c.opts.BaseURL); err != nil {
			return ErrUnavailable
		}
		c.baseURL = c.opts.BaseURL
		return nil
	}

	cmd := exec.Command(c.opts.BinPath, "-addr", "127.0.0.1:0")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("render: engine stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("render: start engine: %w", err)
	}

	// The engine prints its listen address as the first stdout line.
	addrCh := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		if scanner.Scan() {
			addrCh <- strings.TrimSpace(scanner.Text())
		}
		close(addrCh)
		io.Copy(io.Discard, stdout)
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case <-time.After(spawnReadTimeout):
	case <-ctx.Done():
	}
	if addr == "" {
		cmd.Process.Kill()
		cmd.Wait()
		return ErrUnavailable
	}
	go cmd.Wait() // reap on exit

	base := "http://" + addr
	if err := c.ping(ctx, base); err != nil {
		cmd.Process.Kill()
		return ErrUnavailable
	}

	c.proc = cmd
	c.baseURL = base
	logging.Info().Str("addr", addr).Int("pid", cmd.Process.Pid).Msg("Render engine started")
	return nil
}

func (c *Client) stopLocked() error {
	c.baseURL = ""
	if c.proc == nil || c.proc.Process == nil {
		return nil
	}
	proc := c.proc.Process
	c.proc = nil

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return nil // already gone
	}
	done := make(chan struct{})
	go func() {
		proc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		proc.Kill()
	}
	return nil
}

func (c *Client) ping(ctx context.Context, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("render: health status %d", resp.StatusCode)
	}
	return nil
}

// post sends markdown to the engine. A non-200 answer from a live engine is
// ErrFailed; transport errors are returned as-is so the caller can restart.
func (c *Client) post(ctx context.Context, base, markdown string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/render", strings.NewReader(markdown))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/markdown; charset=utf-8")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.opts.MaxInput)*4))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}
