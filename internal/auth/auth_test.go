package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGenerateAndValidate(t *testing.T) {
	t.Setenv("ENROLHUB_AUTH_SECRET", "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("user-42", 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != "enrolhub" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}

	if _, err := ParseAndValidate(token + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseAndValidate(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	t.Setenv("ENROLHUB_AUTH_SECRET", "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("", time.Minute); err == nil {
		t.Fatal("expected error for empty user id")
	}
	if _, err := GenerateToken("user-42", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv("ENROLHUB_AUTH_SECRET", "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("user-42", time.Minute); err == nil {
		t.Fatal("expected error when secret is unset")
	}
}

func TestUserContext(t *testing.T) {
	ctx := ContextWithUser(context.Background(), " user-42 ")
	userID, ok := UserIDFromContext(ctx)
	if !ok || userID != "user-42" {
		t.Fatalf("UserIDFromContext = %q, %v", userID, ok)
	}
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatal("expected no user in empty context")
	}
}
