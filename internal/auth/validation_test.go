package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"Alice@Example.COM", "alice@example.com", false},
		{"a@x.dev", "a@x.dev", false},
		{"not-an-email", "", true},
		{"", "", true},
		{"a@" + strings.Repeat("x", 260) + ".com", "", true},
	}

	for _, tt := range tests {
		got, err := ValidateEmail(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidEmail) {
				t.Errorf("ValidateEmail(%q) error = %v, want ErrInvalidEmail", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ValidateEmail(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ValidateEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateUsername(t *testing.T) {
	if err := ValidateUsername("al_ice.42"); err != nil {
		t.Errorf("ValidateUsername(al_ice.42) = %v", err)
	}
	if !errors.Is(ValidateUsername("a"), ErrUsernameLength) {
		t.Error("one-char username should fail length check")
	}
	if !errors.Is(ValidateUsername(strings.Repeat("a", 33)), ErrUsernameLength) {
		t.Error("33-char username should fail length check")
	}
	if !errors.Is(ValidateUsername("has space"), ErrUsernameInvalidChars) {
		t.Error("space should fail character check")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("longenough"); err != nil {
		t.Errorf("ValidatePassword = %v", err)
	}
	if !errors.Is(ValidatePassword("short"), ErrPasswordTooShort) {
		t.Error("short password should fail")
	}
	if !errors.Is(ValidatePassword(strings.Repeat("x", 73)), ErrPasswordTooLong) {
		t.Error("73-char password should fail (bcrypt limit)")
	}
}
