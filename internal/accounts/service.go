// Package accounts provides username/password authentication and the
// access/refresh token lifecycle.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskhive/api/internal/auth"
	"taskhive/api/internal/session"
	"taskhive/api/internal/store"
)

var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// UserStore is the storage surface the service needs.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
}

// RefreshTokenStore records issued refresh tokens, consumes them on first
// use, and revokes them on logout. Optional: a nil store keeps the flow
// stateless.
type RefreshTokenStore interface {
	SaveRefreshToken(ctx context.Context, tokenHash string, userID int64, ttl time.Duration) error
	ConsumeRefreshToken(ctx context.Context, tokenHash string) (session.TokenData, bool, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
}

type Service struct {
	store      UserStore
	sessions   RefreshTokenStore
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewService(userStore UserStore, sessions RefreshTokenStore, secret string, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		store:      userStore,
		sessions:   sessions,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// AuthData is the response of every authentication operation.
type AuthData struct {
	UserID       int64  `json:"userId"`
	Username     string `json:"username"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Register creates a user with a bcrypt-hashed password and issues a fresh
// token pair.
func (s *Service) Register(ctx context.Context, username, password string) (AuthData, error) {
	if username == "" || password == "" {
		return AuthData{}, errors.New("username and password are required")
	}

	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return AuthData{}, ErrUsernameTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return AuthData{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthData{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, username, string(hash))
	if err != nil {
		return AuthData{}, fmt.Errorf("create user: %w", err)
	}

	return s.issuePair(ctx, user.ID, user.Username)
}

// Login verifies the password and issues a fresh token pair. Unknown users
// and hash mismatches are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (AuthData, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return AuthData{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return AuthData{}, ErrInvalidCredentials
	}
	return s.issuePair(ctx, user.ID, user.Username)
}

// Refresh validates the refresh token (signature, expiry, subject marker),
// recovers identity from the access token without enforcing its expiry, and
// issues a new pair for the same identity. With a rotation store configured,
// each refresh token works exactly once.
func (s *Service) Refresh(ctx context.Context, accessToken, refreshToken string) (AuthData, error) {
	refreshClaims, err := auth.ParseToken(s.secret, refreshToken)
	if err != nil {
		return AuthData{}, err
	}
	if refreshClaims.Subject != auth.RefreshSubject {
		return AuthData{}, auth.ErrInvalidToken
	}

	if s.sessions != nil {
		_, ok, err := s.sessions.ConsumeRefreshToken(ctx, auth.HashToken(refreshToken))
		if err != nil {
			return AuthData{}, fmt.Errorf("consume refresh token: %w", err)
		}
		if !ok {
			return AuthData{}, auth.ErrInvalidToken
		}
	}

	accessClaims, err := auth.ParseExpiredToken(s.secret, accessToken)
	if err != nil {
		return AuthData{}, err
	}
	if accessClaims.UserID == 0 || accessClaims.Username == "" {
		return AuthData{}, auth.ErrInvalidToken
	}

	return s.issuePair(ctx, accessClaims.UserID, accessClaims.Username)
}

// Logout invalidates a refresh token so it can never be exchanged again.
// Without a rotation store there is nothing to revoke server-side; the token
// is still validated so garbage input surfaces to the caller.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := auth.ParseToken(s.secret, refreshToken)
	if err != nil {
		return err
	}
	if claims.Subject != auth.RefreshSubject {
		return auth.ErrInvalidToken
	}
	if s.sessions != nil {
		if err := s.sessions.RevokeRefreshToken(ctx, auth.HashToken(refreshToken)); err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
	}
	return nil
}

// SessionFromToken resolves a validated access token to a user identity.
func (s *Service) SessionFromToken(token string) (store.UserDTO, error) {
	claims, err := auth.ParseToken(s.secret, token)
	if err != nil {
		return store.UserDTO{}, err
	}
	if claims.UserID == 0 || claims.Username == "" {
		return store.UserDTO{}, auth.ErrInvalidToken
	}
	return store.UserDTO{ID: claims.UserID, Username: claims.Username}, nil
}

func (s *Service) issuePair(ctx context.Context, userID int64, username string) (AuthData, error) {
	accessToken, err := auth.IssueAccessToken(s.secret, userID, username, s.accessTTL)
	if err != nil {
		return AuthData{}, err
	}
	refreshToken, err := auth.IssueRefreshToken(s.secret, s.refreshTTL)
	if err != nil {
		return AuthData{}, err
	}

	if s.sessions != nil {
		if err := s.sessions.SaveRefreshToken(ctx, auth.HashToken(refreshToken), userID, s.refreshTTL); err != nil {
			return AuthData{}, fmt.Errorf("save refresh token: %w", err)
		}
	}

	return AuthData{
		UserID:       userID,
		Username:     username,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}
