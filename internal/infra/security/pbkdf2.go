package security

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const pbkdf2Variant = "pbkdf2-sha512"

var (
	errInvalidHashFormat = errors.New("pbkdf2: invalid encoded hash format")
	errInvalidConfig     = errors.New("pbkdf2: invalid configuration")
	// ErrEmptyPassword is returned when hashing is attempted on an empty password.
	ErrEmptyPassword = errors.New("pbkdf2: password must not be empty")
)

// PBKDF2Config defines tunable parameters for PBKDF2-HMAC-SHA512 password hashing.
type PBKDF2Config struct {
	Iterations int
	SaltLength int
	KeyLength  int
}

var (
	defaultPBKDF2Config = PBKDF2Config{
		Iterations: 310_000,
		SaltLength: 16,
		KeyLength:  32,
	}

	activePBKDF2Config = defaultPBKDF2Config
	pbkdf2ConfigMu     sync.RWMutex
)

// DefaultPBKDF2Config returns the library default PBKDF2 configuration.
func DefaultPBKDF2Config() PBKDF2Config {
	return defaultPBKDF2Config
}

// CurrentPBKDF2Config returns the currently active PBKDF2 configuration.
func CurrentPBKDF2Config() PBKDF2Config {
	pbkdf2ConfigMu.RLock()
	defer pbkdf2ConfigMu.RUnlock()
	return activePBKDF2Config
}

// ConfigurePBKDF2 sets the active PBKDF2 configuration after validation.
func ConfigurePBKDF2(cfg PBKDF2Config) error {
	if err := validatePBKDF2Config(cfg); err != nil {
		return err
	}

	pbkdf2ConfigMu.Lock()
	activePBKDF2Config = cfg
	pbkdf2ConfigMu.Unlock()
	return nil
}

func validatePBKDF2Config(cfg PBKDF2Config) error {
	if cfg.Iterations < 100_000 {
		return fmt.Errorf("%w: iterations must be at least 100000", errInvalidConfig)
	}
	if cfg.SaltLength < 16 {
		return fmt.Errorf("%w: salt length must be at least 16 bytes", errInvalidConfig)
	}
	if cfg.KeyLength < 32 {
		return fmt.Errorf("%w: key length must be at least 32 bytes", errInvalidConfig)
	}
	return nil
}

// HashPassword derives a PBKDF2-HMAC-SHA512 hash for the provided password.
// The returned value embeds the iteration count and salt in a portable format:
// pbkdf2-sha512$i=<iterations>$<salt>$<hash>
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	cfg := CurrentPBKDF2Config()

	salt := make([]byte, cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("pbkdf2: generate salt: %w", err)
	}

	sum := pbkdf2.Key([]byte(password), salt, cfg.Iterations, cfg.KeyLength, sha512.New)

	encoded := strings.Join([]string{
		pbkdf2Variant,
		fmt.Sprintf("i=%d", cfg.Iterations),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	}, "$")

	return encoded, nil
}

// VerifyPassword compares the provided password against the stored hash using
// a constant-time comparison over the full derived key.
func VerifyPassword(password, encoded string) (bool, error) {
	if password == "" || encoded == "" {
		return false, nil
	}

	iterations, salt, expected, err := decodePBKDF2Hash(encoded)
	if err != nil {
		return false, err
	}

	computed := pbkdf2.Key([]byte(password), salt, iterations, len(expected), sha512.New)
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// NeedsRehash reports whether the encoded hash was produced with parameters
// weaker than the active configuration, signalling an opportunistic re-hash
// on the next successful verification.
func NeedsRehash(encoded string) bool {
	iterations, salt, key, err := decodePBKDF2Hash(encoded)
	if err != nil {
		return true
	}

	cfg := CurrentPBKDF2Config()
	return iterations < cfg.Iterations || len(salt) < cfg.SaltLength || len(key) < cfg.KeyLength
}

func decodePBKDF2Hash(encoded string) (int, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 {
		return 0, nil, nil, errInvalidHashFormat
	}

	if parts[0] != pbkdf2Variant {
		return 0, nil, nil, fmt.Errorf("pbkdf2: unexpected variant %q", parts[0])
	}

	iterValue, ok := strings.CutPrefix(parts[1], "i=")
	if !ok {
		return 0, nil, nil, errInvalidHashFormat
	}
	iterations, err := strconv.Atoi(iterValue)
	if err != nil || iterations <= 0 {
		return 0, nil, nil, errInvalidHashFormat
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return 0, nil, nil, fmt.Errorf("pbkdf2: decode salt: %w", err)
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return 0, nil, nil, fmt.Errorf("pbkdf2: decode hash: %w", err)
	}

	return iterations, salt, hash, nil
}

// Hasher adapts the package-level hashing functions to the port interface.
type Hasher struct{}

// Hash derives a hash for the password using the active configuration.
func (Hasher) Hash(password string) (string, error) {
	return HashPassword(password)
}

// Verify compares the password against the stored encoded hash.
func (Hasher) Verify(password, encoded string) (bool, error) {
	return VerifyPassword(password, encoded)
}

// NeedsRehash reports whether the hash parameters are below current policy.
func (Hasher) NeedsRehash(encoded string) bool {
	return NeedsRehash(encoded)
}
