package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestBearerTokenSuccess(t *testing.T) {
	token, err := bearerToken("  Bearer header.payload.signature  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenMissing(t *testing.T) {
	if _, err := bearerToken("   "); err != errMissingAuthorization {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenNoPrefix(t *testing.T) {
	if _, err := bearerToken("header.payload.signature"); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestBearerTokenManyPeriods(t *testing.T) {
	if _, err := bearerToken("Bearer " + strings.Repeat(".", 1000)); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func signedTestToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func testAuthHS256(secret []byte) *Auth {
	return &Auth{
		Audience:   "api://aud",
		Issuer:     "https://issuer/",
		TestMode:   true,
		TestSecret: secret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

func TestUserIDFromAuthHeaderHS256(t *testing.T) {
	secret := []byte("test-secret")
	signed := signedTestToken(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	})

	userID, err := testAuthHS256(secret).UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromAuthHeaderExpired(t *testing.T) {
	secret := []byte("test-secret")
	signed := signedTestToken(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(-5 * time.Minute).Unix(),
	})

	if _, err := testAuthHS256(secret).UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestUserIDFromAuthHeaderWrongAudience(t *testing.T) {
	secret := []byte("test-secret")
	signed := signedTestToken(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://other",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	})

	if _, err := testAuthHS256(secret).UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected audience mismatch to be rejected")
	}
}

func TestNewAuthTestModeFromEnv(t *testing.T) {
	t.Setenv(envAuth0TestMode, "1")
	t.Setenv(envTestJWTSecret, "env-secret")

	a := NewAuth(nil, "", "")
	if !a.TestMode {
		t.Fatal("expected test mode")
	}
	if string(a.TestSecret) != "env-secret" {
		t.Fatalf("unexpected secret: %s", a.TestSecret)
	}
}
