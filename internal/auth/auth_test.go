package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zeus75017/anogram-server/internal/auth"
)

// TestVerifyTokenRoundTrip verifies an issued token carries its identity
// back through verification.
func TestVerifyTokenRoundTrip(t *testing.T) {
	verifier := auth.NewVerifier("test-secret")

	token, err := verifier.GenerateToken("user-1", "alice", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	identity, err := verifier.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if identity.UserID != "user-1" || identity.Username != "alice" {
		t.Errorf("Unexpected identity: %+v", identity)
	}
}

// TestVerifyTokenRejectsExpired verifies expiry is enforced.
func TestVerifyTokenRejectsExpired(t *testing.T) {
	verifier := auth.NewVerifier("test-secret")

	token, err := verifier.GenerateToken("user-1", "alice", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := verifier.VerifyToken(token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for an expired token, got %v", err)
	}
}

// TestVerifyTokenRejectsWrongSecret verifies signatures from another secret
// are refused.
func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	issuer := auth.NewVerifier("secret-a")
	verifier := auth.NewVerifier("secret-b")

	token, err := issuer.GenerateToken("user-1", "alice", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := verifier.VerifyToken(token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for a foreign signature, got %v", err)
	}
}

// TestVerifyTokenRejectsMalformed verifies garbage input is refused.
func TestVerifyTokenRejectsMalformed(t *testing.T) {
	verifier := auth.NewVerifier("test-secret")

	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := verifier.VerifyToken(token); !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken for %q, got %v", token, err)
		}
	}
}

// TestVerifyTokenRejectsMissingIdentity verifies a valid signature without a
// user id claim is refused.
func TestVerifyTokenRejectsMissingIdentity(t *testing.T) {
	verifier := auth.NewVerifier("test-secret")

	token, err := verifier.GenerateToken("", "alice", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := verifier.VerifyToken(token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for a missing user id, got %v", err)
	}
}

// TestVerifyTokenRejectsOtherAlgorithms verifies only HS256 signatures are
// accepted even when signed with the right secret.
func TestVerifyTokenRejectsOtherAlgorithms(t *testing.T) {
	secret := "test-secret"
	verifier := auth.NewVerifier(secret)

	claims := &auth.Claims{
		UserID:   "user-1",
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Signing HS512 token failed: %v", err)
	}

	if _, err := verifier.VerifyToken(token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for an HS512 token, got %v", err)
	}
}
