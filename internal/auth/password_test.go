package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// testArgon2Params keep hashing fast in tests.
var testArgon2Params = Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func newTestVerifier() *CredentialVerifier {
	return NewCredentialVerifier(2, testArgon2Params)
}

func TestCredentialVerifier_RoundTrip(t *testing.T) {
	v := newTestVerifier()
	ctx := context.Background()

	hash, err := v.Hash(ctx, "correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Errorf("hash = %q, want PHC argon2id prefix", hash)
	}

	ok, err := v.Verify(ctx, "correct-horse-battery-staple", hash)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("Verify() = false for correct password")
	}

	ok, err = v.Verify(ctx, "wrong-password", hash)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Error("Verify() = true for wrong password")
	}
}

func TestCredentialVerifier_UniqueSalts(t *testing.T) {
	v := newTestVerifier()
	ctx := context.Background()

	h1, err := v.Hash(ctx, "same-password")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	h2, err := v.Hash(ctx, "same-password")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if h1 == h2 {
		t.Error("two hashes of the same password should differ")
	}
}

func TestCredentialVerifier_VerifyUsesStoredParams(t *testing.T) {
	ctx := context.Background()
	strong := NewCredentialVerifier(1, Argon2Params{Time: 2, Memory: 2048, Threads: 1, KeyLen: 32, SaltLen: 16})

	hash, err := strong.Hash(ctx, "pw-12345678")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	// A verifier configured with other costs still checks the old hash.
	ok, err := newTestVerifier().Verify(ctx, "pw-12345678", hash)
	if err != nil || !ok {
		t.Errorf("Verify() = %v, %v; want true, nil", ok, err)
	}
}

func TestCredentialVerifier_MalformedHash(t *testing.T) {
	v := newTestVerifier()
	ctx := context.Background()

	tests := []string{
		"",
		"not-a-hash",
		"$bcrypt$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=16$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$",
	}
	for _, h := range tests {
		ok, err := v.Verify(ctx, "anything", h)
		if err == nil {
			t.Errorf("Verify(%q) expected error, got ok=%v", h, ok)
		}
	}
}

func TestCredentialVerifier_ContextExpiredWhileWaiting(t *testing.T) {
	v := NewCredentialVerifier(1, testArgon2Params)

	// Occupy the only slot.
	if err := v.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer v.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := v.Hash(ctx, "password123")
	if KindOf(err) != KindTransient {
		t.Fatalf("Hash() kind = %v, want %v (err = %v)", KindOf(err), KindTransient, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Hash() error = %v, want wrapping context.DeadlineExceeded", err)
	}
}

func TestCredentialVerifier_VerifyDummy(t *testing.T) {
	v := newTestVerifier()

	if err := v.VerifyDummy(context.Background(), "whatever"); err != nil {
		t.Fatalf("VerifyDummy() error = %v", err)
	}
	// Second call reuses the cached dummy hash.
	if err := v.VerifyDummy(context.Background(), "whatever"); err != nil {
		t.Fatalf("VerifyDummy() second call error = %v", err)
	}
}
