// Package password hashes and verifies principal secrets with a peppered
// Argon2id construction encoded in PHC string format.
package password

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"

	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// Params are the Argon2id cost parameters.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams meet the minimum cost this service accepts.
var DefaultParams = Params{
	MemoryKiB:   64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  32,
	KeyLength:   32,
}

const minSaltLength = 16

// Hasher derives and verifies credential hashes. Hash and Verify are CPU and
// memory heavy, so at most Workers of them run at once.
type Hasher struct {
	params Params
	pepper []byte
	pool   *semaphore.Weighted
}

// NewHasher constructs a Hasher. workers <= 0 defaults to 4.
func NewHasher(pepper string, params Params, workers int) (*Hasher, error) {
	if strings.TrimSpace(pepper) == "" {
		return nil, errors.New("password: pepper required")
	}
	if params.SaltLength < minSaltLength {
		return nil, fmt.Errorf("password: salt length %d below minimum %d", params.SaltLength, minSaltLength)
	}
	if params.MemoryKiB == 0 || params.Iterations == 0 || params.Parallelism == 0 || params.KeyLength == 0 {
		return nil, errors.New("password: argon2 parameters must be positive")
	}
	if workers <= 0 {
		workers = 4
	}
	return &Hasher{
		params: params,
		pepper: []byte(pepper),
		pool:   semaphore.NewWeighted(int64(workers)),
	}, nil
}

// Hash returns the encoded hash of plaintext.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: generate salt: %w", err)
	}
	var key []byte
	err := h.run(ctx, func() {
		key = argon2.IDKey(h.peppered(plaintext), salt, h.params.Iterations, h.params.MemoryKiB, h.params.Parallelism, h.params.KeyLength)
	})
	if err != nil {
		return "", err
	}
	return encode(h.params, salt, key), nil
}

// Verify reports whether plaintext matches encoded. A malformed encoding
// returns false with shared.ErrCorruptCredential.
func (h *Hasher) Verify(ctx context.Context, plaintext, encoded string) (bool, error) {
	params, salt, key, err := decode(encoded)
	if err != nil {
		return false, err
	}
	var candidate []byte
	err = h.run(ctx, func() {
		candidate = argon2.IDKey(h.peppered(plaintext), salt, params.Iterations, params.MemoryKiB, params.Parallelism, uint32(len(key))) //nolint:gosec // key length bounded by decode
	})
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

// NeedsRehash reports whether encoded was produced with different parameters
// than the current ones. Corrupt encodings always need a rehash.
func (h *Hasher) NeedsRehash(encoded string) bool {
	params, salt, key, err := decode(encoded)
	if err != nil {
		return true
	}
	return params.MemoryKiB != h.params.MemoryKiB ||
		params.Iterations != h.params.Iterations ||
		params.Parallelism != h.params.Parallelism ||
		uint32(len(salt)) != h.params.SaltLength || //nolint:gosec // bounded by decode
		uint32(len(key)) != h.params.KeyLength //nolint:gosec // bounded by decode
}

// run executes fn on a pool slot. The caller stops waiting when ctx ends;
// an abandoned computation finishes in the background and releases its slot.
func (h *Hasher) run(ctx context.Context, fn func()) error {
	if err := h.pool.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("password: acquire worker: %w", err)
	}
	done := make(chan struct{})
	go func() {
		defer h.pool.Release(1)
		defer close(done)
		fn()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("password: %w", ctx.Err())
	}
}

func (h *Hasher) peppered(plaintext string) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	_, _ = mac.Write([]byte(plaintext))
	return mac.Sum(nil)
}

func encode(p Params, salt, key []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.MemoryKiB, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

const (
	maxSaltBytes = 64
	maxKeyBytes  = 128
	maxMemoryKiB = 4 * 1024 * 1024
)

func decode(encoded string) (Params, []byte, []byte, error) {
	var p Params
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return p, nil, nil, fmt.Errorf("%w: invalid PHC format", shared.ErrCorruptCredential)
	}
	if parts[1] != "argon2id" {
		return p, nil, nil, fmt.Errorf("%w: unsupported algorithm %q", shared.ErrCorruptCredential, parts[1])
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: unsupported version", shared.ErrCorruptCredential)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, fmt.Errorf("%w: parameters: %v", shared.ErrCorruptCredential, err)
	}
	if p.MemoryKiB == 0 || p.MemoryKiB > maxMemoryKiB || p.Iterations == 0 || p.Parallelism == 0 {
		return p, nil, nil, fmt.Errorf("%w: parameters out of range", shared.ErrCorruptCredential)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < minSaltLength || len(salt) > maxSaltBytes {
		return p, nil, nil, fmt.Errorf("%w: salt", shared.ErrCorruptCredential)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) < 16 || len(key) > maxKeyBytes {
		return p, nil, nil, fmt.Errorf("%w: hash", shared.ErrCorruptCredential)
	}
	p.SaltLength = uint32(len(salt)) //nolint:gosec // bounded above
	p.KeyLength = uint32(len(key))   //nolint:gosec // bounded above
	return p, salt, key, nil
}
