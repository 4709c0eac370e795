package session

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"xfer/application"
)

func mustContext(t *testing.T) *Context {
	t.Helper()
	ctx, err := NewContext()
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return ctx
}

func TestNewContext_GeneratesDistinctKeypairs(t *testing.T) {
	a := mustContext(t)
	b := mustContext(t)

	if fingerprint(a.PublicBytes()) == fingerprint(b.PublicBytes()) {
		t.Fatal("expected distinct public keys across contexts")
	}
	if a.Ready() {
		t.Fatal("expected cipher unset before DeriveSession")
	}
}

func TestDeriveSession_BothSidesAgree(t *testing.T) {
	alice := mustContext(t)
	bob := mustContext(t)

	if err := alice.DeriveSession(bob.PublicBytes(), "ocean-tiger"); err != nil {
		t.Fatalf("alice derive: %v", err)
	}
	if err := bob.DeriveSession(alice.PublicBytes(), "ocean-tiger"); err != nil {
		t.Fatalf("bob derive: %v", err)
	}

	nonce := make([]byte, NonceSize)
	plaintext := []byte("hello overlay")
	ct, err := alice.Encrypt(nonce, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := bob.Decrypt(nonce, ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDeriveSession_DifferentTokensDiverge(t *testing.T) {
	alice := mustContext(t)
	bob := mustContext(t)

	if err := alice.DeriveSession(bob.PublicBytes(), "ocean-tiger"); err != nil {
		t.Fatalf("alice derive: %v", err)
	}
	if err := bob.DeriveSession(alice.PublicBytes(), "river-fox"); err != nil {
		t.Fatalf("bob derive: %v", err)
	}

	nonce := make([]byte, NonceSize)
	ct, err := alice.Encrypt(nonce, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := bob.Decrypt(nonce, ct); !errors.Is(err, application.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed from mismatched token salt, got %v", err)
	}
}

func TestDeriveSession_RejectsBadPeerKeyLength(t *testing.T) {
	ctx := mustContext(t)
	err := ctx.DeriveSession([]byte{1, 2, 3}, "ocean-tiger")
	if !errors.Is(err, application.ErrHandshake) {
		t.Fatalf("expected ErrHandshake, got %v", err)
	}
	if ctx.Ready() {
		t.Fatal("expected cipher to remain unset after failed derive")
	}
}

func TestEncryptDecrypt_TamperedCiphertextFailsClosed(t *testing.T) {
	alice := mustContext(t)
	bob := mustContext(t)
	if err := alice.DeriveSession(bob.PublicBytes(), "tok-en"); err != nil {
		t.Fatalf("derive: %v", err)
	}
	if err := bob.DeriveSession(alice.PublicBytes(), "tok-en"); err != nil {
		t.Fatalf("derive: %v", err)
	}

	nonce := make([]byte, NonceSize)
	ct, err := alice.Encrypt(nonce, []byte("secret file bytes"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tampered := append([]byte(nil), ct...)
	tampered[0] ^= 0xFF

	if _, err := bob.Decrypt(nonce, tampered); !errors.Is(err, application.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed for tampered ciphertext, got %v", err)
	}

	// Untouched ciphertext still decrypts.
	if _, err := bob.Decrypt(nonce, ct); err != nil {
		t.Fatalf("expected original ciphertext to still decrypt: %v", err)
	}
}

func TestEncrypt_BeforeDeriveFails(t *testing.T) {
	ctx := mustContext(t)
	_, err := ctx.Encrypt(make([]byte, NonceSize), []byte("x"))
	if !errors.Is(err, application.ErrHandshake) {
		t.Fatalf("expected ErrHandshake, got %v", err)
	}
}

func TestCiphertextLength_IsPlaintextPlusTag(t *testing.T) {
	alice := mustContext(t)
	bob := mustContext(t)
	if err := alice.DeriveSession(bob.PublicBytes(), "a-b"); err != nil {
		t.Fatalf("derive: %v", err)
	}

	plaintext := make([]byte, 4096)
	_, _ = rand.Read(plaintext)
	nonce := make([]byte, NonceSize)
	ct, err := alice.Encrypt(nonce, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if len(ct) != len(plaintext)+16 {
		t.Fatalf("expected ciphertext length %d, got %d", len(plaintext)+16, len(ct))
	}
}

func TestDestroy_ZeroesPrivateKey(t *testing.T) {
	ctx := mustContext(t)
	var zero [32]byte
	if ctx.private == zero {
		t.Fatal("expected nonzero private key before Destroy")
	}
	ctx.Destroy()
	if ctx.private != zero {
		t.Fatal("expected private key to be zeroed after Destroy")
	}
	// Idempotent.
	ctx.Destroy()
}
