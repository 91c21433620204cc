package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	userID := uuid.New()

	token, err := NewToken(userID, "a@x.dev", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewToken() error = %v", err)
	}

	claims, err := ValidateToken(token, testSecret)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Email != "a@x.dev" {
		t.Errorf("email = %q", claims.Email)
	}
	got, err := claims.UserID()
	if err != nil {
		t.Fatalf("UserID() error = %v", err)
	}
	if got != userID {
		t.Errorf("user id = %s, want %s", got, userID)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewToken(uuid.New(), "a@x.dev", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewToken() error = %v", err)
	}
	if _, err := ValidateToken(token, "another-secret-another-secret-32"); err == nil {
		t.Error("ValidateToken accepted a token signed with a different secret")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	token, err := NewToken(uuid.New(), "a@x.dev", testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("NewToken() error = %v", err)
	}
	if _, err := ValidateToken(token, testSecret); err == nil {
		t.Error("ValidateToken accepted an expired token")
	}
}

func TestNewTokenRequiresSecret(t *testing.T) {
	if _, err := NewToken(uuid.New(), "a@x.dev", "", time.Hour); err == nil {
		t.Error("NewToken accepted an empty secret")
	}
}

func TestHashTokenStable(t *testing.T) {
	a := HashToken("token-a")
	if a != HashToken("token-a") {
		t.Error("HashToken is not deterministic")
	}
	if a == HashToken("token-b") {
		t.Error("distinct tokens produced the same digest")
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(a))
	}
}
