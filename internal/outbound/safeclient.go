// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// Package outbound owns every HTTP request the server sends on behalf of a
// user: SSRF-filtered dialing, sealed credential storage, and the
// cross-posting dispatch.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/agblogger/agblogger/internal/logging"
)

// Errors surfaced by the safe client.
var (
	ErrSchemeNotAllowed   = errors.New("outbound: only https URLs are allowed")
	ErrForbiddenAddress   = errors.New("outbound: destination address is not publicly routable")
	ErrServiceUnavailable = errors.New("outbound: destination is unavailable")
)

// Defaults for the safe client.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultRequestsPerSecond = 2
	DefaultBurst             = 4
)

// Options tunes the safe client.
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int

	// AllowPrivate disables the address filter. Only local development and
	// tests against loopback endpoints set this.
	AllowPrivate bool
}

// Client is an outbound HTTP client hardened against SSRF. It accepts HTTPS
// URLs only, resolves the destination before connecting, rejects any address
// in a private, loopback, link-local, or otherwise reserved range, and dials
// the validated address directly so a rebinding DNS answer cannot redirect
// the connection.
type Client struct {
	hc      *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[*http.Response]
	opts    Options
}

// New creates a safe outbound client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}

	c := &Client{
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		opts:    opts,
	}
	c.hc = &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			DialContext:       c.dialValidated,
			ForceAttemptHTTP2: true,
			// Redirect targets are re-dialed through the same filter, but a
			// redirect to a forbidden address should fail loudly rather than
			// be followed into an error.
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	c.cb = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "outbound",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Outbound circuit breaker state change")
		},
	})
	return c
}

// Do sends a request through the scheme check, rate limiter, circuit
// breaker, and SSRF-filtered transport.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" && !c.opts.AllowPrivate {
		return nil, ErrSchemeNotAllowed
	}
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("outbound pacing: %w", err)
	}

	resp, err := c.cb.Execute(func() (*http.Response, error) {
		return c.hc.Do(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrServiceUnavailable)
		}
		return nil, err
	}
	return resp, nil
}

// dialValidated resolves addr, filters the answers, and connects to a
// validated IP literal. Passing the literal to the dialer, not the hostname,
// is what defeats rebinding: the address checked is the address dialed.
func (c *Client) dialValidated(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("outbound dial %q: %w", addr, err)
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("outbound resolve %q: %w", host, err)
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	var lastErr error
	for _, ip := range ips {
		if !c.opts.AllowPrivate {
			if err := ValidateAddress(ip.IP); err != nil {
				lastErr = err
				continue
			}
		}
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
		if err != nil {
			lastErr = err
			continue
		}
		return conn, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %q resolved to no addresses", ErrForbiddenAddress, host)
	}
	return nil, lastErr
}

// reservedV4 covers IPv4 ranges with no public routing that the net package
// predicates do not classify: CGNAT, benchmarking, documentation, class E,
// and the broadcast address.
var reservedV4 = []struct{ cidr string }{
	{"100.64.0.0/10"},
	{"192.0.0.0/24"},
	{"192.0.2.0/24"},
	{"198.18.0.0/15"},
	{"198.51.100.0/24"},
	{"203.0.113.0/24"},
	{"240.0.0.0/4"},
	{"255.255.255.255/32"},
}

var reservedV4Nets = func() []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(reservedV4))
	for _, r := range reservedV4 {
		_, n, err := net.ParseCIDR(r.cidr)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}()

// ValidateAddress rejects any IP that is not publicly routable.
func ValidateAddress(ip net.IP) error {
	switch {
	case ip.IsLoopback(),
		ip.IsPrivate(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsMulticast(),
		ip.IsUnspecified(),
		ip.IsInterfaceLocalMulticast():
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, ip)
	}
	if v4 := ip.To4(); v4 != nil {
		for _, n := range reservedV4Nets {
			if n.Contains(v4) {
				return fmt.Errorf("%w: %s", ErrForbiddenAddress, ip)
			}
		}
	} else if len(ip) == net.IPv6len {
		// Unique local addresses fc00::/7 are the IPv6 private space.
		if ip[0]&0xfe == 0xfc {
			return fmt.Errorf("%w: %s", ErrForbiddenAddress, ip)
		}
	}
	return nil
}
