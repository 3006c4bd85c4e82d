package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVerifyIssuedToken(t *testing.T) {
	p := NewJWTProvider("test-secret")

	token, err := p.IssueToken("user-1", "Alice", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	id, err := p.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if id.UserID != "user-1" || id.Username != "Alice" {
		t.Errorf("identity = %+v, want user-1/Alice", id)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTProvider("secret-a")
	verifier := NewJWTProvider("secret-b")

	token, err := issuer.IssueToken("user-1", "Alice", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := verifier.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	p := NewJWTProvider("test-secret")

	token, err := p.IssueToken("user-1", "Alice", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := p.Verify(context.Background(), token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("got %v, want ErrExpiredToken", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	p := NewJWTProvider("test-secret")

	if _, err := p.Verify(context.Background(), "not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}
