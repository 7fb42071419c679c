package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const argon2Prefix = "$argon2id$"

var (
	ErrMissingPasswordHash = errors.New("password verifier: hash required")
	ErrInvalidPasswordHash = errors.New("password verifier: unsupported hash format")
	ErrEmptyPassword       = errors.New("password verifier: password required")
)

type argon2Params struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  int
	keyLength   int
}

var defaultArgon2Params = argon2Params{
	memory:      64 * 1024,
	iterations:  3,
	parallelism: 1,
	saltLength:  16,
	keyLength:   32,
}

// HashPassword encodes raw as an argon2id PHC string.
func HashPassword(raw string) (string, error) {
	if raw == "" {
		return "", ErrEmptyPassword
	}
	params := defaultArgon2Params
	salt := make([]byte, params.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(raw), salt, params.iterations, params.memory, params.parallelism, uint32(params.keyLength))
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix,
		argon2.Version,
		params.memory,
		params.iterations,
		params.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// PasswordVerifier checks the admin password against a configured argon2id or
// bcrypt hash.
type PasswordVerifier struct {
	hash string
}

// NewPasswordVerifier rejects hashes it cannot verify so misconfiguration
// surfaces at startup.
func NewPasswordVerifier(hash string) (*PasswordVerifier, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, ErrMissingPasswordHash
	}
	if strings.HasPrefix(hash, argon2Prefix) {
		if _, _, _, err := decodeArgon2id(hash); err != nil {
			return nil, err
		}
	} else if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, ErrInvalidPasswordHash
	}
	return &PasswordVerifier{hash: hash}, nil
}

// Verify reports whether raw matches the configured hash.
func (v *PasswordVerifier) Verify(raw string) bool {
	if v == nil || raw == "" {
		return false
	}
	if strings.HasPrefix(v.hash, argon2Prefix) {
		params, salt, expected, err := decodeArgon2id(v.hash)
		if err != nil {
			return false
		}
		key := argon2.IDKey([]byte(raw), salt, params.iterations, params.memory, params.parallelism, uint32(params.keyLength))
		return subtle.ConstantTimeCompare(expected, key) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(v.hash), []byte(raw)) == nil
}

func decodeArgon2id(encoded string) (argon2Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return argon2Params{}, nil, nil, ErrInvalidPasswordHash
	}
	var params argon2Params
	for _, pair := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return argon2Params{}, nil, nil, ErrInvalidPasswordHash
		}
		parsed, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return argon2Params{}, nil, nil, ErrInvalidPasswordHash
		}
		switch name {
		case "m":
			params.memory = uint32(parsed)
		case "t":
			params.iterations = uint32(parsed)
		case "p":
			if parsed > 255 {
				return argon2Params{}, nil, nil, ErrInvalidPasswordHash
			}
			params.parallelism = uint8(parsed)
		}
	}
	if params.memory == 0 || params.iterations == 0 || params.parallelism == 0 {
		return argon2Params{}, nil, nil, ErrInvalidPasswordHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argon2Params{}, nil, nil, ErrInvalidPasswordHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return argon2Params{}, nil, nil, ErrInvalidPasswordHash
	}
	params.saltLength = len(salt)
	params.keyLength = len(key)
	return params, salt, key, nil
}
