// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenTTL is the JWT lifetime. Sessions outlive it through refresh
// token rotation.
const AccessTokenTTL = 15 * time.Minute

// accessClaims is the JWT payload: sub carries the decimal user id.
type accessClaims struct {
	jwt.RegisteredClaims
}

// TokenSigner issues and verifies access tokens with an HS256 secret.
type TokenSigner struct {
	secret []byte
	now    func() time.Time
}

// NewTokenSigner creates a TokenSigner from the application secret.
func NewTokenSigner(secret []byte) *TokenSigner {
	return &TokenSigner{secret: secret, now: time.Now}
}

// SignAccessToken issues a JWT for the user.
func (s *TokenSigner) SignAccessToken(userID int64) (string, error) {
	now := s.now()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return token, nil
}

// VerifyAccessToken returns the user id carried by a valid token. Any decode
// failure, wrong algorithm, expired token, or malformed subject yields
// (0, false); verification never errors out to the caller.
func (s *TokenSigner) VerifyAccessToken(tokenString string) (int64, bool) {
	var claims accessClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return 0, false
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
