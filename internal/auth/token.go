package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RefreshSubject marks a token as a refresh token via the "sub" claim.
const RefreshSubject = "refresh_token"

// Claims is the token payload. Access tokens carry the user identity;
// refresh tokens carry only the subject marker and expiry.
type Claims struct {
	UserID   int64  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

var validMethods = jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})

// IssueAccessToken signs a short-lived token carrying the user identity.
func IssueAccessToken(secret []byte, userID int64, username string, ttl time.Duration) (string, error) {
	return issue(secret, Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	})
}

// IssueRefreshToken signs a long-lived token whose only identity is the
// refresh subject marker.
func IssueRefreshToken(secret []byte, ttl time.Duration) (string, error) {
	return issue(secret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   RefreshSubject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	})
}

func issue(secret []byte, claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies the signature and expiry and returns the claims.
func ParseToken(secret []byte, token string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, keyFunc(secret), validMethods)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// ParseExpiredToken verifies the signature but not the expiry. The refresh
// flow uses it to recover identity from an access token that may already
// have lapsed.
func ParseExpiredToken(secret []byte, token string) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(validMethods, jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(token, &claims, keyFunc(secret)); err != nil {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func keyFunc(secret []byte) jwt.Keyfunc {
	return func(*jwt.Token) (any, error) {
		return secret, nil
	}
}

// HashToken returns the hex SHA-256 of a token, used as a storage key so the
// raw token never lands in Redis.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
