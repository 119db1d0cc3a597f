// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/agblogger/agblogger/internal/database"
	"github.com/agblogger/agblogger/internal/models"
)

// ErrAccountNotFound is returned for a missing or foreign social account.
var ErrAccountNotFound = errors.New("outbound: social account not found")

// Service manages sealed cross-posting credentials and dispatches posts.
type Service struct {
	db       *database.DB
	sealer   *Sealer
	registry *Registry
	siteURL  string
}

// NewService wires the social account store to the platform registry.
func NewService(db *database.DB, sealer *Sealer, registry *Registry, siteURL string) *Service {
	return &Service{db: db, sealer: sealer, registry: registry, siteURL: siteURL}
}

// Platforms lists the available platform tags.
func (s *Service) Platforms() []string {
	return s.registry.Platforms()
}

// LinkAccount validates credentials against the platform and stores them
// sealed. Plaintext credentials never touch the database.
func (s *Service) LinkAccount(ctx context.Context, userID int64, platform, accountName string, creds []byte) (*models.SocialAccount, error) {
	poster, err := s.registry.Lookup(platform)
	if err != nil {
		return nil, err
	}
	if err := poster.ValidateCredentials(ctx, creds); err != nil {
		return nil, err
	}
	sealed, err := s.sealer.Seal(creds)
	if err != nil {
		return nil, fmt.Errorf("seal credentials: %w", err)
	}
	account := &models.SocialAccount{
		UserID:                userID,
		Platform:              platform,
		AccountName:           accountName,
		CredentialsCiphertext: sealed,
	}
	if err := s.db.UpsertSocialAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// ListAccounts returns a user's linked accounts. Ciphertext stays internal.
func (s *Service) ListAccounts(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return s.db.ListSocialAccounts(ctx, userID)
}

// UnlinkAccount removes a linked account owned by the user.
func (s *Service) UnlinkAccount(ctx context.Context, userID, accountID int64) error {
	err := s.db.DeleteSocialAccount(ctx, userID, accountID)
	if errors.Is(err, database.ErrNotFound) {
		return ErrAccountNotFound
	}
	return err
}

// CrossPost publishes a cached post through one of the user's linked
// accounts.
func (s *Service) CrossPost(ctx context.Context, userID, accountID int64, post *models.Post) error {
	account, err := s.db.GetSocialAccountByID(ctx, userID, accountID)
	if errors.Is(err, database.ErrNotFound) {
		return ErrAccountNotFound
	}
	if err != nil {
		return err
	}
	poster, err := s.registry.Lookup(account.Platform)
	if err != nil {
		return err
	}
	creds, err := s.sealer.Open(account.CredentialsCiphertext)
	if err != nil {
		return fmt.Errorf("unseal credentials for account %d: %w", accountID, err)
	}
	return poster.Post(ctx, creds, makePostRef(post, s.siteURL))
}
