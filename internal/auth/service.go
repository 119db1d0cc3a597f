// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agblogger/agblogger/internal/database"
	"github.com/agblogger/agblogger/internal/logging"
	"github.com/agblogger/agblogger/internal/models"
)

// Defaults for token and invite lifetimes.
const (
	RefreshTokenTTL = 7 * 24 * time.Hour
	InviteTTL       = 7 * 24 * time.Hour

	defaultLoginFailures = 5
	loginWindow          = 15 * time.Minute
)

// Domain errors mapped to HTTP statuses at the boundary.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidToken       = errors.New("auth: invalid or expired token")
	ErrInviteInvalid      = errors.New("auth: invite code invalid, used, or expired")
	ErrRegistrationClosed = errors.New("auth: registration is disabled")
)

// RateLimitError carries the whole-seconds wait for a blocked identity.
type RateLimitError struct {
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("auth: rate limited, retry after %ds", e.RetryAfter)
}

// Session is the result of a successful login or refresh.
type Session struct {
	User         *models.User
	AccessToken  string
	RefreshToken string
	CSRFToken    string
}

// Config tunes the Service. MaxLoginFailures bounds the per-identity
// sliding window; zero selects the default.
type Config struct {
	Secret           []byte
	RegistrationOpen bool
	MaxLoginFailures int
}

// Service implements authentication flows over the credential store.
type Service struct {
	db      *database.DB
	signer  *TokenSigner
	limiter *FailureLimiter
	cfg     Config
}

// NewService creates a Service.
func NewService(db *database.DB, cfg Config) *Service {
	maxFailures := cfg.MaxLoginFailures
	if maxFailures <= 0 {
		maxFailures = defaultLoginFailures
	}
	return &Service{
		db:      db,
		signer:  NewTokenSigner(cfg.Secret),
		limiter: NewFailureLimiter(maxFailures, loginWindow),
		cfg:     cfg,
	}
}

// Signer exposes the access token signer for middleware.
func (s *Service) Signer() *TokenSigner { return s.signer }

// Login checks credentials and opens a session. Missing users burn a dummy
// bcrypt comparison so timing does not reveal existence. Failures count
// against a per-username sliding window.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	key := "login:" + username
	if ok, retry := s.limiter.Allow(key); !ok {
		return nil, &RateLimitError{RetryAfter: retry}
	}

	user, err := s.db.GetUserByUsername(ctx, username)
	if errors.Is(err, database.ErrNotFound) {
		DummyVerify(password)
		s.limiter.RecordFailure(key)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !VerifyPassword(user.PasswordHash, password) {
		s.limiter.RecordFailure(key)
		return nil, ErrInvalidCredentials
	}

	s.limiter.Reset(key)

	// Opportunistic sweep; dead rows only ever accumulate otherwise.
	if n, err := s.db.PruneExpiredRefreshTokens(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to prune expired refresh tokens")
	} else if n > 0 {
		logging.Debug().Int64("pruned", n).Msg("Expired refresh tokens removed")
	}
	return s.openSession(ctx, user)
}

// Refresh rotates a refresh token and issues a new access token and CSRF
// token. The presented token dies in the same transaction that creates its
// successor; presenting it twice fails.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	hash := HashToken(refreshToken)
	key := "refresh:" + hash[:16]
	if ok, retry := s.limiter.Allow(key); !ok {
		return nil, &RateLimitError{RetryAfter: retry}
	}

	stored, err := s.db.GetRefreshToken(ctx, hash)
	if errors.Is(err, database.ErrNotFound) {
		s.limiter.RecordFailure(key)
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	user, err := s.db.GetUserByID(ctx, stored.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	next, err := NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	rotated := &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: HashToken(next),
		ExpiresAt: time.Now().Add(RefreshTokenTTL),
	}
	if err := s.db.RotateRefreshToken(ctx, hash, rotated); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// Lost the race against another rotation; treat as replay.
			logging.Warn().Int64("user_id", user.ID).Msg("Refresh token replay detected")
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	session, err := s.sessionTokens(user)
	if err != nil {
		return nil, err
	}
	session.RefreshToken = next
	s.limiter.Reset(key)
	return session, nil
}

// Logout revokes a refresh token. Unknown tokens are fine; logout is
// idempotent.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.db.DeleteRefreshToken(ctx, HashToken(refreshToken))
}

// Register creates an account through a single-use invite. The invite is
// consumed with a guarded update, so concurrent registrations with the same
// code cannot both succeed.
func (s *Service) Register(ctx context.Context, inviteCode, username, email, password string) (*models.User, error) {
	if !s.cfg.RegistrationOpen {
		return nil, ErrRegistrationClosed
	}
	inviteHash := HashToken(inviteCode)
	invite, err := s.db.GetInviteByHash(ctx, inviteHash)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInviteInvalid
	}
	if err != nil {
		return nil, err
	}
	if invite.UsedBy != nil || time.Now().After(invite.ExpiresAt) {
		return nil, ErrInviteInvalid
	}

	if err := CheckPasswordStrength(password, username, email); err != nil {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{Username: username, Email: email, PasswordHash: hash}
	if err := s.db.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	if err := s.db.ConsumeInvite(ctx, inviteHash, user.ID); err != nil {
		// Another registration won the invite between check and consume.
		if delErr := s.db.DeleteUser(ctx, user.ID); delErr != nil {
			logging.Error().Err(delErr).Int64("user_id", user.ID).Msg("Failed to roll back user after invite race")
		}
		return nil, ErrInviteInvalid
	}
	return user, nil
}

// CreateInvite issues a new invite code. The plaintext is returned once.
func (s *Service) CreateInvite(ctx context.Context, createdBy int64) (string, *models.InviteCode, error) {
	code, err := NewOpaqueToken()
	if err != nil {
		return "", nil, err
	}
	invite := &models.InviteCode{
		CodeHash:  HashToken(code),
		CreatedBy: createdBy,
		ExpiresAt: time.Now().Add(InviteTTL),
	}
	if err := s.db.CreateInvite(ctx, invite); err != nil {
		return "", nil, err
	}
	return code, invite, nil
}

// CreatePAT issues a personal access token for a user. The plaintext is
// returned once.
func (s *Service) CreatePAT(ctx context.Context, userID int64, label string, expiresAt *time.Time) (string, *models.PersonalAccessToken, error) {
	token, err := NewPAT()
	if err != nil {
		return "", nil, err
	}
	pat := &models.PersonalAccessToken{
		UserID:    userID,
		TokenHash: HashToken(token),
		Label:     label,
		ExpiresAt: expiresAt,
	}
	if err := s.db.CreatePAT(ctx, pat); err != nil {
		return "", nil, err
	}
	return token, pat, nil
}

// VerifyPAT authenticates a bearer personal access token, updating its
// last-used timestamp on success.
func (s *Service) VerifyPAT(ctx context.Context, token string) (*models.User, error) {
	pat, err := s.db.GetPATByHash(ctx, HashToken(token))
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if pat.Revoked || pat.IsExpired(time.Now()) {
		return nil, ErrInvalidToken
	}
	user, err := s.db.GetUserByID(ctx, pat.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if err := s.db.TouchPAT(ctx, pat.ID); err != nil {
		logging.Warn().Err(err).Int64("pat_id", pat.ID).Msg("Failed to update token last_used_at")
	}
	return user, nil
}

// UserFromAccessToken resolves a JWT to its user, or nil when the token does
// not verify.
func (s *Service) UserFromAccessToken(ctx context.Context, token string) *models.User {
	id, ok := s.signer.VerifyAccessToken(token)
	if !ok {
		return nil
	}
	user, err := s.db.GetUserByID(ctx, id)
	if err != nil {
		return nil
	}
	return user
}

// EnsureBootstrapAdmin creates the configured admin account when the user
// table is empty.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	n, err := s.db.CountUsers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	admin := &models.User{
		Username:     username,
		Email:        username + "@localhost",
		PasswordHash: hash,
		IsAdmin:      true,
	}
	if err := s.db.CreateUser(ctx, admin); err != nil {
		return err
	}
	logging.Info().Str("username", username).Msg("Bootstrap admin created")
	return nil
}

func (s *Service) openSession(ctx context.Context, user *models.User) (*Session, error) {
	session, err := s.sessionTokens(user)
	if err != nil {
		return nil, err
	}
	refresh, err := NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	if err := s.db.CreateRefreshToken(ctx, &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: HashToken(refresh),
		ExpiresAt: time.Now().Add(RefreshTokenTTL),
	}); err != nil {
		return nil, err
	}
	session.RefreshToken = refresh
	return session, nil
}

func (s *Service) sessionTokens(user *models.User) (*Session, error) {
	access, err := s.signer.SignAccessToken(user.ID)
	if err != nil {
		return nil, err
	}
	csrf, err := NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	return &Session{User: user, AccessToken: access, CSRFToken: csrf}, nil
}
