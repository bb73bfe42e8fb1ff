package secrets

import (
	"strings"
	"testing"
)

func TestNewPassword(t *testing.T) {
	t.Parallel()
	pw, err := NewPassword(DefaultPasswordLength)
	if err != nil {
		t.Fatalf("NewPassword: %v", err)
	}
	if len(pw) != DefaultPasswordLength {
		t.Fatalf("length = %d, want %d", len(pw), DefaultPasswordLength)
	}
	for _, r := range pw {
		if !strings.ContainsRune(passwordAlphabet, r) {
			t.Fatalf("character %q outside alphabet", r)
		}
	}

	other, err := NewPassword(DefaultPasswordLength)
	if err != nil {
		t.Fatalf("NewPassword: %v", err)
	}
	if pw == other {
		t.Fatal("two generated passwords collided")
	}
}

func TestNewPasswordRejectsShortLength(t *testing.T) {
	t.Parallel()
	if _, err := NewPassword(8); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()
	hash, err := Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := Verify(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := Verify(hash, "wrong password"); err == nil {
		t.Fatal("wrong password must not verify")
	}
	if _, err := Hash(""); err == nil {
		t.Fatal("empty password must not hash")
	}
}
