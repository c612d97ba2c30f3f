// Package auth issues and verifies the session tokens that clients present
// to the sync relay.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"coderoom/collab/internal/identity"
)

type Claims struct {
	Sub       string `json:"sub"`
	Name      string `json:"name"`
	Picture   string `json:"picture,omitempty"`
	Anonymous bool   `json:"anonymous,omitempty"`
	JTI       string `json:"jti"`
	Exp       int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// NewClaims builds claims for id that expire after ttl.
func NewClaims(id identity.Identity, ttl time.Duration) Claims {
	return Claims{
		Sub:       id.ID,
		Name:      id.Name,
		Picture:   id.Picture,
		Anonymous: id.IsAnonymous,
		JTI:       uuid.NewString(),
		Exp:       time.Now().Add(ttl).Unix(),
	}
}

// Identity returns the participant the token was issued to.
func (c Claims) Identity() identity.Identity {
	return identity.Identity{
		ID:          c.Sub,
		Name:        c.Name,
		Picture:     c.Picture,
		IsAnonymous: c.Anonymous,
	}
}

func IssueToken(secret []byte, claims Claims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := sign(secret, payload)
	return payload + "." + signature, nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Claims{}, ErrInvalidToken
	}
	payload := parts[0]
	signature := parts[1]

	expected := sign(secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return Claims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Sub == "" || claims.JTI == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidToken
	}
	if !claims.Anonymous && claims.Name == "" {
		return Claims{}, ErrInvalidToken
	}
	if time.Now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}

// HashToken returns a stable fingerprint of a token that is safe to log.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
