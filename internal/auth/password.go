package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

// Argon2Params are the Argon2id cost settings used for new hashes.
// Verification always uses the parameters encoded in the stored hash.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultArgon2Params follows the OWASP recommendation for Argon2id.
var DefaultArgon2Params = Argon2Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 1,
	KeyLen:  32,
	SaltLen: 16,
}

// CredentialVerifier hashes and checks passwords.
//
// Argon2id is deliberately expensive, so every hash or verify runs inside a
// bounded pool. Callers wait for a slot under their request context; an
// expired or cancelled context yields a KindTransient error.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type CredentialVerifier struct {
	params Argon2Params
	sem    *semaphore.Weighted

	dummyOnce sync.Once
	dummyHash string
	dummyErr  error
}

// NewCredentialVerifier creates a verifier with workers concurrent hashing slots.
// workers <= 0 means one per CPU.
func NewCredentialVerifier(workers int, params Argon2Params) *CredentialVerifier {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &CredentialVerifier{
		params: params,
		sem:    semaphore.NewWeighted(int64(workers)),
	}
}

// Hash returns plaintext hashed with Argon2id in PHC string format:
// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func (v *CredentialVerifier) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := v.acquire(ctx); err != nil {
		return "", err
	}
	defer v.sem.Release(1)

	return hashArgon2id(plaintext, v.params)
}

// Verify reports whether plaintext matches hash. A mismatch is (false, nil);
// an error means the stored hash is malformed or no worker slot was available.
func (v *CredentialVerifier) Verify(ctx context.Context, plaintext, hash string) (bool, error) {
	salt, key, params, err := decodePHC(hash)
	if err != nil {
		return false, err
	}

	if err := v.acquire(ctx); err != nil {
		return false, err
	}
	defer v.sem.Release(1)

	candidate := argon2.IDKey([]byte(plaintext), salt, params.Time, params.Memory, params.Threads, uint32(len(key))) //nolint:gosec // G115: key length fits uint32
	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

// VerifyDummy performs the same work as a failed Verify against a fixed hash.
// Login calls it when no account matches so that response time does not
// reveal whether a phone number is registered.
func (v *CredentialVerifier) VerifyDummy(ctx context.Context, plaintext string) error {
	v.dummyOnce.Do(func() {
		v.dummyHash, v.dummyErr = hashArgon2id("depot-dummy-credential", v.params)
	})
	if v.dummyErr != nil {
		return v.dummyErr
	}
	_, err := v.Verify(ctx, plaintext, v.dummyHash)
	return err
}

func (v *CredentialVerifier) acquire(ctx context.Context) error {
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return NewError(KindTransient, "Service temporarily unavailable",
			fmt.Errorf("waiting for password worker: %w", err))
	}
	return nil
}

func hashArgon2id(plaintext string, p Argon2Params) (string, error) {
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, p.Time, p.Memory, p.Threads, p.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// decodePHC splits an Argon2id PHC string into salt, key and cost parameters.
func decodePHC(encoded string) (salt, key []byte, p Argon2Params, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return nil, nil, p, fmt.Errorf("invalid PHC hash format")
	}
	if parts[1] != "argon2id" {
		return nil, nil, p, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, p, fmt.Errorf("parsing version: %w", err)
	}
	if version != argon2.Version {
		return nil, nil, p, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return nil, nil, p, fmt.Errorf("parsing parameters: %w", err)
	}

	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, nil, p, fmt.Errorf("decoding salt: %w", err)
	}
	if key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, nil, p, fmt.Errorf("decoding hash: %w", err)
	}
	if len(key) == 0 {
		return nil, nil, p, fmt.Errorf("empty hash")
	}
	return salt, key, p, nil
}
