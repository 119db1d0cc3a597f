// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// Package auth implements credentials and sessions: bcrypt passwords, short
// lived JWT access tokens, rotating refresh tokens, CSRF tokens, personal
// access tokens, invite codes, and the login rate limiter.
package auth

import (
	"fmt"

	"github.com/nbutton23/zxcvbn-go"
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost matches the library default; raising it is a config change, not
// a code change.
const bcryptCost = bcrypt.DefaultCost

// MinPasswordScore is the zxcvbn score (0..4) required at registration and
// password change.
const MinPasswordScore = 3

// dummyHash is a valid bcrypt hash of random bytes. Login against a missing
// user verifies this so the timing matches a real comparison.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// VerifyPassword reports whether password matches hash. Malformed hashes
// verify as false, never as an error.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// DummyVerify burns one bcrypt comparison so a login probe cannot tell a
// missing user from a wrong password by timing.
func DummyVerify(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// CheckPasswordStrength rejects weak passwords at registration. username and
// email feed the estimator so trivially derived passwords score low.
func CheckPasswordStrength(password string, userInputs ...string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	if zxcvbn.PasswordStrength(password, userInputs).Score < MinPasswordScore {
		return fmt.Errorf("password is too weak")
	}
	return nil
}
