// Package credentials normalises password material carried over from legacy user tables.
package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword is returned when hashing a blank password.
var ErrEmptyPassword = errors.New("password is empty")

var hashPrefixes = []string{"$2a$", "$2b$", "$2y$", "$argon2id$"}

// IsHashed reports whether value already looks like a bcrypt or argon2id hash.
func IsHashed(value string) bool {
	for _, p := range hashPrefixes {
		if strings.HasPrefix(value, p) {
			return true
		}
	}
	return false
}

// Hasher hashes plaintext credentials with bcrypt.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher; cost <= 0 selects bcrypt.DefaultCost.
func NewHasher(cost int) Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return Hasher{cost: cost}
}

// Hash returns the bcrypt hash of plain.
func (h Hasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptyPassword
	}
	cost := h.cost
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(out), nil
}

// Normalize turns a legacy credential field into the value stored in the directory.
// Blank values become nil, recognised hashes are kept and anything else is treated
// as plaintext and hashed.
func (h Hasher) Normalize(raw string) (*string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil, nil
	}
	if IsHashed(v) {
		return &v, nil
	}
	hashed, err := h.Hash(v)
	if err != nil {
		return nil, err
	}
	return &hashed, nil
}

// Verify checks plain against a bcrypt hash.
func Verify(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// GeneratePassword returns a random URL-safe password built from n random bytes.
func GeneratePassword(n int) (string, error) {
	if n <= 0 {
		n = 18
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
