package secrets

import (
	"strings"
	"testing"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 3)
	}
	return key
}

func TestNewRejectsWrongKeySize(t *testing.T) {
	t.Parallel()

	if _, err := New([]byte("too short")); err == nil {
		t.Fatalf("expected short key to be rejected")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := New(testKey())
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	sealed, err := c.MaybeEncrypt("es-password")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !strings.HasPrefix(sealed, "enc:") {
		t.Fatalf("expected enc: prefix, got %q", sealed)
	}
	if sealed == "es-password" {
		t.Fatalf("expected ciphertext to differ from plaintext")
	}

	plain, err := c.MaybeDecrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "es-password" {
		t.Fatalf("expected round trip, got %q", plain)
	}
}

func TestEncryptIsIdempotentOnWrappedValues(t *testing.T) {
	t.Parallel()

	c, err := New(testKey())
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	sealed, err := c.MaybeEncrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	again, err := c.MaybeEncrypt(sealed)
	if err != nil {
		t.Fatalf("re-encrypt: %v", err)
	}
	if again != sealed {
		t.Fatalf("expected wrapped value to pass through unchanged")
	}
}

func TestDecryptPassesPlaintextThrough(t *testing.T) {
	t.Parallel()

	c, err := New(testKey())
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	plain, err := c.MaybeDecrypt("legacy-plaintext")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "legacy-plaintext" {
		t.Fatalf("expected plaintext pass-through, got %q", plain)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	t.Parallel()

	c, err := New(testKey())
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	if _, err := c.MaybeDecrypt("enc:not-base64!!"); err == nil {
		t.Fatalf("expected invalid base64 to fail")
	}
	if _, err := c.MaybeDecrypt("enc:YWJj"); err == nil {
		t.Fatalf("expected truncated payload to fail")
	}
}
