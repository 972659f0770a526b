package auth

import (
	"testing"
	"time"
)

func TestGenerateVerify_RoundTrip(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	token, err := m.GenerateToken("u1", "ann@x.com")
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	claims, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken error: %v", err)
	}

	if claims.UserID != "u1" || claims.Email != "ann@x.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if claims.JTI == "" {
		t.Fatal("expected a jti")
	}
}

func TestVerify_Expired(t *testing.T) {
	m := NewManager("test-secret", -time.Minute)

	token, err := m.GenerateToken("u1", "ann@x.com")
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	if _, err := m.VerifyToken(token); err == nil {
		t.Fatal("expected expired token to fail verification")
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	other := NewManager("other-secret", time.Hour)

	token, err := m.GenerateToken("u1", "ann@x.com")
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	if _, err := other.VerifyToken(token); err == nil {
		t.Fatal("expected verification with a different secret to fail")
	}
}
