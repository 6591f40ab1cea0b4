// Package auth provides password hashing, token issuance and verification,
// and request-context helpers for authenticated principals.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// HashAlgorithm names a supported one-way password hash.
type HashAlgorithm string

// Supported password hash algorithms.
const (
	AlgorithmArgon2id HashAlgorithm = "argon2id"
	AlgorithmBcrypt   HashAlgorithm = "bcrypt"
)

// Argon2id parameters (OWASP 2024 recommended minimum).
const (
	defaultArgon2Time    = 3
	defaultArgon2Memory  = 64 * 1024 // 64 MB
	defaultArgon2Threads = 4
	argon2KeyLen         = 32
	argon2SaltLen        = 16

	// Ceiling on the memory cost accepted from a stored hash (1 GiB).
	maxArgon2MemoryKB = 1024 * 1024
	maxArgon2Time     = 64
	maxArgon2KeyLen   = 1024

	bcryptMaxPasswordBytes = 72
)

var (
	// ErrInvalidHash indicates the hash format is invalid.
	ErrInvalidHash = errors.New("invalid hash format")
	// ErrIncompatibleVersion indicates the hash version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
	// ErrUnsupportedAlgorithm indicates an unknown hash algorithm was configured.
	ErrUnsupportedAlgorithm = errors.New("unsupported password hash algorithm")
	// ErrPasswordTooLong indicates the password exceeds what the algorithm accepts.
	ErrPasswordTooLong = errors.New("password too long for hash algorithm")
)

// Argon2Params holds the argon2id cost parameters.
type Argon2Params struct {
	Time     uint32
	MemoryKB uint32
	Threads  uint8
}

// DefaultArgon2Params returns the recommended argon2id parameters.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:     defaultArgon2Time,
		MemoryKB: defaultArgon2Memory,
		Threads:  defaultArgon2Threads,
	}
}

// HasherConfig configures a PasswordHasher.
type HasherConfig struct {
	Algorithm  HashAlgorithm
	Argon2     Argon2Params
	BcryptCost int
}

// PasswordHasher produces salted one-way password hashes with a
// configurable cost factor.
type PasswordHasher struct {
	algorithm  HashAlgorithm
	argon2     Argon2Params
	bcryptCost int
}

// NewPasswordHasher creates a PasswordHasher. Zero-valued cost parameters
// fall back to the defaults.
func NewPasswordHasher(cfg HasherConfig) (*PasswordHasher, error) {
	h := &PasswordHasher{
		algorithm:  cfg.Algorithm,
		argon2:     cfg.Argon2,
		bcryptCost: cfg.BcryptCost,
	}

	if h.algorithm == "" {
		h.algorithm = AlgorithmArgon2id
	}

	switch h.algorithm {
	case AlgorithmArgon2id:
		defaults := DefaultArgon2Params()
		if h.argon2.Time == 0 {
			h.argon2.Time = defaults.Time
		}
		if h.argon2.MemoryKB == 0 {
			h.argon2.MemoryKB = defaults.MemoryKB
		}
		if h.argon2.Threads == 0 {
			h.argon2.Threads = defaults.Threads
		}
		if h.argon2.Time > maxArgon2Time || h.argon2.MemoryKB > maxArgon2MemoryKB {
			return nil, fmt.Errorf("argon2id cost t=%d m=%d exceeds t<=%d m<=%d",
				h.argon2.Time, h.argon2.MemoryKB, maxArgon2Time, maxArgon2MemoryKB)
		}
	case AlgorithmBcrypt:
		if h.bcryptCost == 0 {
			h.bcryptCost = bcrypt.DefaultCost
		}
		if h.bcryptCost < bcrypt.MinCost || h.bcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", h.bcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, cfg.Algorithm)
	}

	return h, nil
}

// Algorithm returns the algorithm used for new hashes.
func (h *PasswordHasher) Algorithm() HashAlgorithm {
	return h.algorithm
}

// MaxPasswordBytes is the longest password Hash accepts, or 0 when the
// algorithm has no limit.
func (h *PasswordHasher) MaxPasswordBytes() int {
	if h.algorithm == AlgorithmBcrypt {
		return bcryptMaxPasswordBytes
	}
	return 0
}

// Hash creates a salted hash of the given password.
// Argon2id hashes are returned in PHC string format, bcrypt hashes in
// the standard modular crypt format.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if h.algorithm == AlgorithmBcrypt {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		if err != nil {
			return "", fmt.Errorf("bcrypt hash: %w", err)
		}
		return string(hash), nil
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		h.argon2.Time,
		h.argon2.MemoryKB,
		h.argon2.Threads,
		argon2KeyLen,
	)

	// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.argon2.MemoryKB,
		h.argon2.Time,
		h.argon2.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks if the password matches the encoded hash.
// The algorithm is detected from the hash itself, so records hashed with
// a previously configured algorithm keep verifying.
// A mismatch returns (false, nil); a malformed hash returns an error.
func VerifyPassword(password, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, "$argon2id$"):
		return verifyArgon2id(password, encodedHash)
	case strings.HasPrefix(encodedHash, "$2a$"),
		strings.HasPrefix(encodedHash, "$2b$"),
		strings.HasPrefix(encodedHash, "$2y$"):
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, ErrInvalidHash
	default:
		return false, ErrInvalidHash
	}
}

func verifyArgon2id(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, ErrInvalidHash
	}
	if version != argon2.Version {
		return false, ErrIncompatibleVersion
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, ErrInvalidHash
	}
	// argon2.IDKey panics on zero rounds or threads.
	if time < 1 || time > maxArgon2Time || threads < 1 || memory > maxArgon2MemoryKB {
		return false, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, ErrInvalidHash
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expectedHash) == 0 || len(expectedHash) > maxArgon2KeyLen {
		return false, ErrInvalidHash
	}

	computedHash := argon2.IDKey(
		[]byte(password),
		salt,
		time,
		memory,
		threads,
		uint32(len(expectedHash)),
	)

	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1, nil
}
