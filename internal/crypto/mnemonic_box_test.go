package crypto

import "testing"

func TestMnemonicBoxRoundTrip(t *testing.T) {
	box, err := NewMnemonicBox("test-secret-key")
	if err != nil {
		t.Fatalf("NewMnemonicBox: %v", err)
	}

	plaintext := "abandon ability able about above absent absorb abstract absurd abuse access accident"
	sealed, err := box.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if sealed == plaintext {
		t.Fatalf("Seal returned plaintext unchanged")
	}

	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened != plaintext {
		t.Fatalf("got %q, want %q", opened, plaintext)
	}
}

func TestMnemonicBoxRejectsTampering(t *testing.T) {
	box, err := NewMnemonicBox("test-secret-key")
	if err != nil {
		t.Fatalf("NewMnemonicBox: %v", err)
	}

	sealed, err := box.Seal("some seed phrase")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	other, err := NewMnemonicBox("different-secret-key")
	if err != nil {
		t.Fatalf("NewMnemonicBox: %v", err)
	}
	if _, err := other.Open(sealed); err == nil {
		t.Fatalf("expected error decrypting under wrong key")
	}
}

func TestNewMnemonicBoxRejectsEmptySecret(t *testing.T) {
	if _, err := NewMnemonicBox(""); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
