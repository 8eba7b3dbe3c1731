// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher hashes login passwords and verifies them.
type PasswordHasher interface {
	// Hash produces a salted one-way digest of the password.
	Hash(password string) (string, error)

	// Verify reports whether password produced hash.
	// Returns (false, nil) on mismatch and an error only for a malformed hash.
	Verify(password, hash string) (bool, error)

	// NeedsUpgrade reports whether hash was produced with weaker or
	// different parameters than the hasher currently uses.
	NeedsUpgrade(hash string) bool
}

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8
	SaltLen int
	KeyLen  uint32
}

// DefaultArgon2Params returns the OWASP-recommended argon2id parameters.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:    1,
		Memory:  64 * 1024,
		Threads: 4,
		SaltLen: 16,
		KeyLen:  32,
	}
}

// Argon2idHasher implements PasswordHasher using argon2id in PHC string format:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
type Argon2idHasher struct {
	params Argon2Params
}

// NewArgon2idHasher creates a hasher with DefaultArgon2Params.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{params: DefaultArgon2Params()}
}

// NewArgon2idHasherWithParams creates a hasher with explicit cost parameters.
func NewArgon2idHasherWithParams(p Argon2Params) (*Argon2idHasher, error) {
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		return nil, oops.Code("AUTH_HASHER_INVALID").
			With("time", p.Time).
			With("memory", p.Memory).
			With("threads", p.Threads).
			Errorf("argon2id parameters must be positive")
	}
	if p.SaltLen < 8 || p.KeyLen < 16 {
		return nil, oops.Code("AUTH_HASHER_INVALID").Errorf("argon2id salt or key length too short")
	}
	return &Argon2idHasher{params: p}, nil
}

// Hash produces an argon2id hash of the password.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	return phcHash{
		version: argon2.Version,
		params:  h.params,
		salt:    salt,
		key:     key,
	}.String(), nil
}

// Verify checks if the password matches the hash in constant time.
func (h *Argon2idHasher) Verify(password, encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), parsed.salt,
		parsed.params.Time, parsed.params.Memory, parsed.params.Threads, parsed.params.KeyLen)

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

// NeedsUpgrade returns true for non-argon2id hashes and for argon2id hashes
// whose cost parameters differ from the hasher's.
func (h *Argon2idHasher) NeedsUpgrade(encodedHash string) bool {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return true
	}
	return parsed.version != argon2.Version ||
		parsed.params.Time != h.params.Time ||
		parsed.params.Memory != h.params.Memory ||
		parsed.params.Threads != h.params.Threads ||
		parsed.params.KeyLen != h.params.KeyLen
}

type phcHash struct {
	version int
	params  Argon2Params
	salt    []byte
	key     []byte
}

func (p phcHash) String() string {
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		p.version,
		p.params.Memory,
		p.params.Time,
		p.params.Threads,
		base64.RawStdEncoding.EncodeToString(p.salt),
		base64.RawStdEncoding.EncodeToString(p.key),
	)
}

func parsePHC(encoded string) (phcHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return phcHash{}, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return phcHash{}, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var out phcHash
	if _, err := fmt.Sscanf(parts[2], "v=%d", &out.version); err != nil {
		return phcHash{}, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return phcHash{}, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return phcHash{}, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return phcHash{}, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return phcHash{}, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if len(key) == 0 || len(key) > 1<<10 {
		return phcHash{}, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", len(key))
	}

	out.params = Argon2Params{
		Time:    iterations,
		Memory:  memory,
		Threads: uint8(threads),
		SaltLen: len(salt),
		KeyLen:  uint32(len(key)),
	}
	out.salt = salt
	out.key = key
	return out, nil
}
