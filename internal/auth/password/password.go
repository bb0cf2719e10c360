// Package password hashes and verifies account passwords.
package password

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

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = errors.New("password must not be empty")

// Argon2id parameters for new hashes.
const (
	argon2Memory      = 64 * 1024
	argon2Iterations  = 3
	argon2Parallelism = 2
	argon2SaltLength  = 16
	argon2KeyLength   = 32
)

// BcryptCost is the cost used for new bcrypt hashes. Tests lower it.
var BcryptCost = bcrypt.DefaultCost

// Hash hashes password with algo ("bcrypt" or "argon2id").
func Hash(algo, password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	switch strings.ToLower(strings.TrimSpace(algo)) {
	case "", "bcrypt":
		hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
		if err != nil {
			return "", fmt.Errorf("bcrypt: %w", err)
		}
		return string(hash), nil
	case "argon2id":
		return hashArgon2id(password)
	default:
		return "", fmt.Errorf("unsupported hash algorithm: %s", algo)
	}
}

// Verify reports whether password matches hash. The algorithm is detected
// from the hash encoding. A malformed hash is an error; a mismatch is not.
func Verify(hash, password string) (bool, error) {
	switch detectHashAlgo(hash) {
	case "bcrypt":
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("bcrypt: %w", err)
		}
		return true, nil
	default:
		return verifyArgon2(password, hash)
	}
}

func detectHashAlgo(hash string) string {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return "argon2id"
	case strings.HasPrefix(hash, "$argon2i$"):
		return "argon2i"
	}
	return "bcrypt"
}

func hashArgon2id(password string) (string, error) {
	salt := make([]byte, argon2SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, argon2Iterations, argon2Memory, argon2Parallelism, argon2KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Iterations, argon2Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

type argon2Params struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	keyLength   uint32
}

func verifyArgon2(password, encodedHash string) (bool, error) {
	variant, params, salt, hash, err := decodeArgon2Hash(encodedHash)
	if err != nil {
		return false, err
	}
	var derived []byte
	switch variant {
	case "argon2id":
		derived = argon2.IDKey([]byte(password), salt, params.iterations, params.memory, params.parallelism, params.keyLength)
	case "argon2i":
		derived = argon2.Key([]byte(password), salt, params.iterations, params.memory, params.parallelism, params.keyLength)
	}
	return subtle.ConstantTimeCompare(hash, derived) == 1, nil
}

// decodeArgon2Hash parses the PHC string format:
// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
func decodeArgon2Hash(encodedHash string) (string, argon2Params, []byte, []byte, error) {
	var params argon2Params
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return "", params, nil, nil, errors.New("invalid argon2 hash format")
	}
	variant := parts[1]
	if variant != "argon2id" && variant != "argon2i" {
		return "", params, nil, nil, errors.New("unsupported argon2 variant")
	}
	if !strings.HasPrefix(parts[2], "v=") {
		return "", params, nil, nil, errors.New("invalid argon2 version")
	}

	for _, part := range strings.Split(parts[3], ",") {
		key, raw, ok := strings.Cut(part, "=")
		if !ok {
			return "", params, nil, nil, errors.New("invalid argon2 params")
		}
		value, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return "", params, nil, nil, errors.New("invalid argon2 params")
		}
		switch key {
		case "m":
			params.memory = uint32(value)
		case "t":
			params.iterations = uint32(value)
		case "p":
			params.parallelism = uint8(value)
		}
	}
	if params.memory == 0 || params.iterations == 0 || params.parallelism == 0 {
		return "", params, nil, nil, errors.New("invalid argon2 params")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return "", params, nil, nil, errors.New("invalid argon2 salt")
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return "", params, nil, nil, errors.New("invalid argon2 hash")
	}
	params.keyLength = uint32(len(hash))
	return variant, params, salt, hash, nil
}
