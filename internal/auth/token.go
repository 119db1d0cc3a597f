// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// Lifetimes and shapes of the opaque token families.
const (
	tokenBytes = 32

	// PATPrefix distinguishes personal access tokens in logs and support
	// requests without revealing anything.
	PATPrefix = "agb_"
)

// NewOpaqueToken returns a random URL-safe token string.
func NewOpaqueToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewPAT returns a new personal access token in presentable form.
func NewPAT() (string, error) {
	t, err := NewOpaqueToken()
	if err != nil {
		return "", err
	}
	return PATPrefix + t, nil
}

// HashToken is the at-rest form of every opaque token: SHA-256, hex. The
// digest is what goes in the database; the plaintext is shown once and never
// stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual compares two short secrets without leaking length or
// prefix timing.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
