package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"prism-board/domain"
)

func TestBearerTokenFromStringSuccess(t *testing.T) {
	token, err := bearerTokenFromString("  Bearer header.payload.signature ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(token) != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", string(token))
	}
}

func TestBearerTokenFromStringMissing(t *testing.T) {
	if _, err := bearerTokenFromString("   "); err == nil || err.Error() != "missing authorization header" {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenFromStringRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"Bearer " + strings.Repeat(".", 1000), "Basic a.b.c", "Bearer ", "a.b.c"} {
		if _, err := bearerTokenFromString(raw); err == nil || err.Error() != "bad auth header" {
			t.Fatalf("expected bad auth header error for %q, got %v", raw, err)
		}
	}
}

func TestWithBearerPrefix(t *testing.T) {
	if got := WithBearerPrefix("a.b.c"); got != "Bearer a.b.c" {
		t.Fatalf("unexpected credential %q", got)
	}
	if got := WithBearerPrefix("Bearer a.b.c"); got != "Bearer a.b.c" {
		t.Fatalf("prefix should not be doubled: %q", got)
	}
	if got := WithBearerPrefix(""); got != "" {
		t.Fatalf("empty token should stay empty: %q", got)
	}
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	auth := NewAuth([]byte("test-secret"), time.Hour, nil, "", "")
	token, err := auth.Issue(domain.User{ID: "user-123", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(token, "Bearer ") {
		t.Fatalf("token should carry the scheme: %s", token)
	}
	userID, err := auth.UserIDFromAuthHeader(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(strings.TrimPrefix(token, "Bearer "), jwt.MapClaims{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	for _, k := range []string{"id", "email", "sub", "iat", "exp"} {
		if _, ok := claims[k]; !ok {
			t.Fatalf("missing claim %s", k)
		}
	}
}

func TestUserIDFromBearerFallsBackToSub(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwt.MapClaims{
		"sub": "user-456",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	auth := NewAuth(secret, time.Hour, nil, "", "")
	userID, err := auth.UserIDFromBearer([]byte(signed))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-456" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromBearerRejects(t *testing.T) {
	auth := NewAuth([]byte("test-secret"), time.Hour, nil, "", "")
	other := NewAuth([]byte("other-secret"), time.Hour, nil, "", "")
	expired := NewAuth([]byte("test-secret"), -time.Hour, nil, "", "")

	foreign, _ := other.Issue(domain.User{ID: "u1"})
	stale, _ := expired.Issue(domain.User{ID: "u1"})
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": "u1"}).SignedString([]byte("test-secret"))

	tests := map[string]string{
		"wrong secret": foreign,
		"expired":      stale,
		"missing exp":  "Bearer " + noExp,
		"garbage":      "Bearer a.b.c",
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := auth.UserIDFromAuthHeader(header); err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestRS256WithoutJWKSIsRejected(t *testing.T) {
	auth := NewAuth([]byte("test-secret"), time.Hour, nil, "", "")
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "u1"})
	token.Header["kid"] = "k1"
	// An unsigned RS256 header is enough to exercise method filtering.
	unsigned, err := token.SigningString()
	if err != nil {
		t.Fatalf("signing string: %v", err)
	}
	if _, err := auth.UserIDFromBearer([]byte(unsigned + ".c2ln")); err == nil {
		t.Fatalf("expected RS256 token to be rejected without JWKS")
	}
}
