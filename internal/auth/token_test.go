package auth

import (
	"errors"
	"testing"
	"time"

	"coderoom/collab/internal/identity"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:     "user-1",
		Name:    "Avery",
		Picture: "https://example.com/a.png",
		JTI:     "jti-1",
		Exp:     time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	id := claims.Identity()
	if id.ID != "user-1" || id.Name != "Avery" || id.Picture != "https://example.com/a.png" || id.IsAnonymous {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user-1",
		Name: "Avery",
		JTI:  "jti-1",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken(secret, issued)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), NewClaims(identity.Identity{ID: "u", Name: "Avery"}, time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := ParseToken([]byte("secret"), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for malformed token, got %v", err)
	}
}

func TestAnonymousClaimsNeedNoName(t *testing.T) {
	secret := []byte("secret")
	claims := NewClaims(identity.Identity{ID: "anon-1", IsAnonymous: true}, time.Hour)
	if claims.JTI == "" {
		t.Fatal("expected a generated token id")
	}
	issued, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	parsed, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if !parsed.Identity().IsAnonymous {
		t.Fatal("expected anonymous identity")
	}
	if HashToken(issued) == issued || len(HashToken(issued)) != 64 {
		t.Fatal("unexpected token fingerprint")
	}
}
