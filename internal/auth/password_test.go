package auth

import (
	"strings"
	"testing"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("hash %q is not a bcrypt digest", hash)
	}

	if !VerifyPassword("correct horse battery", hash) {
		t.Error("VerifyPassword rejected the correct password")
	}
	if VerifyPassword("wrong password", hash) {
		t.Error("VerifyPassword accepted a wrong password")
	}
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	if VerifyPassword("anything", "not-a-hash") {
		t.Error("VerifyPassword accepted a malformed digest")
	}
}
