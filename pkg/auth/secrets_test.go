package auth

import (
	"strings"
	"testing"
)

func TestHashSecretDeterministic(t *testing.T) {
	h1 := HashSecret("some-secret")
	h2 := HashSecret("some-secret")
	if h1 != h2 {
		t.Errorf("HashSecret not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}
	if HashSecret("other-secret") == h1 {
		t.Error("different secrets produced the same hash")
	}
}

func TestSecretEqual(t *testing.T) {
	hash := HashSecret("correct")
	if !SecretEqual("correct", hash) {
		t.Error("matching secret rejected")
	}
	if SecretEqual("wrong", hash) {
		t.Error("non-matching secret accepted")
	}
}

func TestNewClaimKey(t *testing.T) {
	for _, length := range []int{6, 8, 10} {
		key, err := NewClaimKey(length)
		if err != nil {
			t.Fatalf("NewClaimKey(%d): %v", length, err)
		}
		if len(key) != length {
			t.Errorf("NewClaimKey(%d) length = %d", length, len(key))
		}
		for _, c := range key {
			if !strings.ContainsRune(claimKeyAlphabet, c) {
				t.Errorf("key %q contains %q outside the alphabet", key, c)
			}
		}
	}

	// Below the floor, the floor wins.
	key, err := NewClaimKey(2)
	if err != nil {
		t.Fatalf("NewClaimKey(2): %v", err)
	}
	if len(key) != 6 {
		t.Errorf("NewClaimKey(2) length = %d, want floor of 6", len(key))
	}
}

func TestNewClaimKeyAvoidsAmbiguousCharacters(t *testing.T) {
	for _, c := range "01OIL" {
		if strings.ContainsRune(claimKeyAlphabet, c) {
			t.Errorf("alphabet contains ambiguous character %q", c)
		}
	}
}

func TestNewAPIKeySecret(t *testing.T) {
	a, err := NewAPIKeySecret()
	if err != nil {
		t.Fatalf("NewAPIKeySecret: %v", err)
	}
	b, err := NewAPIKeySecret()
	if err != nil {
		t.Fatalf("NewAPIKeySecret: %v", err)
	}
	if len(a) != 40 {
		t.Errorf("secret length = %d, want 40 hex chars", len(a))
	}
	if a == b {
		t.Error("two generated secrets were identical")
	}
}
