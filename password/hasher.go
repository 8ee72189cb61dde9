// Package password provides salted adaptive password hashing with
// constant-time verification. Two algorithms are supported: bcrypt
// (the default) and argon2id encoded as PHC strings. Verify detects
// the algorithm from the digest itself, so a deployment can migrate
// between algorithms without a flag day.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Algorithm selects the hash function used for new digests.
type Algorithm string

const (
	// AlgorithmBcrypt produces standard bcrypt digests.
	AlgorithmBcrypt Algorithm = "bcrypt"
	// AlgorithmArgon2id produces argon2id digests in PHC string format.
	AlgorithmArgon2id Algorithm = "argon2id"
)

const (
	minBcryptCost         = 10
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	argon2ID              = "argon2id"
)

// Config holds hashing cost parameters. BcryptCost applies to
// AlgorithmBcrypt; the remaining fields apply to AlgorithmArgon2id.
type Config struct {
	Algorithm   Algorithm
	BcryptCost  int
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes and verifies passwords. It is safe for concurrent use.
type Hasher struct {
	config Config
}

// New validates cfg and returns a Hasher.
func New(cfg Config) (*Hasher, error) {
	switch cfg.Algorithm {
	case AlgorithmBcrypt:
		if cfg.BcryptCost < minBcryptCost || cfg.BcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost must be between %d and %d", minBcryptCost, bcrypt.MaxCost)
		}
	case AlgorithmArgon2id:
		if cfg.Memory < minMemoryKB {
			return nil, errors.New("argon2 memory must be >= 8192 KB")
		}
		if cfg.Time < minTimeCost {
			return nil, errors.New("argon2 time must be >= 1")
		}
		if cfg.Parallelism < minParallelism {
			return nil, errors.New("argon2 parallelism must be >= 1")
		}
		if cfg.SaltLength < minSaltLength {
			return nil, errors.New("argon2 salt length must be >= 16")
		}
		if cfg.KeyLength < minKeyLength {
			return nil, errors.New("argon2 key length must be >= 16")
		}
	default:
		return nil, errors.New("unsupported password algorithm")
	}

	return &Hasher{config: cfg}, nil
}

// Hash derives a salted digest of plain. Every call draws a fresh random
// salt, so hashing the same input twice yields different digests.
func (h *Hasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", errors.New("empty password")
	}

	switch h.config.Algorithm {
	case AlgorithmArgon2id:
		return h.hashArgon2id(plain)
	default:
		digest, err := bcrypt.GenerateFromPassword([]byte(plain), h.config.BcryptCost)
		if err != nil {
			return "", err
		}
		return string(digest), nil
	}
}

// Verify reports whether plain matches digest. The comparison is constant
// time in the derived key. A malformed or unrecognized digest verifies as
// false; Verify never panics.
func (h *Hasher) Verify(plain, digest string) bool {
	switch {
	case strings.HasPrefix(digest, "$argon2id$"):
		ok, err := verifyArgon2id(plain, digest)
		return err == nil && ok
	case strings.HasPrefix(digest, "$2a$"), strings.HasPrefix(digest, "$2b$"), strings.HasPrefix(digest, "$2y$"):
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
	default:
		return false
	}
}

// NeedsRehash reports whether digest was produced with a weaker algorithm
// or lower cost than the active configuration. Malformed digests report
// true so a successful login replaces them.
func (h *Hasher) NeedsRehash(digest string) bool {
	switch h.config.Algorithm {
	case AlgorithmArgon2id:
		parsed, err := parsePHC(digest)
		if err != nil {
			return true
		}
		return parsed.memory < h.config.Memory ||
			parsed.time < h.config.Time ||
			parsed.parallelism < h.config.Parallelism ||
			parsed.keyLength != h.config.KeyLength
	default:
		cost, err := bcrypt.Cost([]byte(digest))
		if err != nil {
			return true
		}
		return cost < h.config.BcryptCost
	}
}

func (h *Hasher) hashArgon2id(plain string) (string, error) {
	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(plain),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2id(plain, digest string) (bool, error) {
	parsed, err := parsePHC(digest)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(plain),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		parsed.keyLength,
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

func parsePHC(digest string) (*parsedPHC, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != argon2ID {
		return nil, errors.New("unsupported algorithm")
	}

	if !strings.HasPrefix(parts[2], "v=") {
		return nil, errors.New("missing argon2 version")
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	params, err := parsePHCParams(parts[3])
	if err != nil {
		return nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt")
	}
	hash, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return nil, errors.New("invalid hash")
	}

	return &parsedPHC{
		memory:      params.memory,
		time:        params.time,
		parallelism: params.parallelism,
		salt:        salt,
		hash:        hash,
		keyLength:   uint32(len(hash)),
	}, nil
}

type phcParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func parsePHCParams(part string) (*phcParams, error) {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, errors.New("invalid parameter format")
	}

	var (
		memorySet, timeSet, parallelismSet bool
		params                             phcParams
	)

	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("invalid parameter entry")
		}

		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return nil, errors.New("invalid memory parameter")
			}
			params.memory = uint32(v)
			memorySet = true
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return nil, errors.New("invalid time parameter")
			}
			params.time = uint32(v)
			timeSet = true
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return nil, errors.New("invalid parallelism parameter")
			}
			params.parallelism = uint8(v)
			parallelismSet = true
		default:
			return nil, errors.New("unsupported parameter")
		}
	}

	if !memorySet || !timeSet || !parallelismSet {
		return nil, errors.New("missing parameters")
	}

	return &params, nil
}
