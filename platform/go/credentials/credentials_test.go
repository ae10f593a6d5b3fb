package credentials

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestNormalize(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	out, err := h.Normalize("   ")
	require.NoError(t, err)
	require.Nil(t, out)

	existing := "$2a$10$abcdefghijklmnopqrstuuC6uZgQw7wL2yQmHk2u4h0u6uB2v5Z6e"
	out, err = h.Normalize(" " + existing + " ")
	require.NoError(t, err)
	require.Equal(t, existing, *out)

	argon := "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"
	out, err = h.Normalize(argon)
	require.NoError(t, err)
	require.Equal(t, argon, *out)

	out, err = h.Normalize(" s3cret ")
	require.NoError(t, err)
	require.True(t, IsHashed(*out))
	require.True(t, Verify(*out, "s3cret"))
	require.False(t, Verify(*out, " s3cret "))
}

func TestHash(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	_, err := h.Hash("")
	require.ErrorIs(t, err, ErrEmptyPassword)

	a, err := h.Hash("pw")
	require.NoError(t, err)
	b, err := h.Hash("pw")
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	cost, err := bcrypt.Cost([]byte(a))
	require.NoError(t, err)
	require.Equal(t, bcrypt.MinCost, cost)

	require.Equal(t, bcrypt.DefaultCost, NewHasher(0).cost)
}

func TestGeneratePassword(t *testing.T) {
	a, err := GeneratePassword(0)
	require.NoError(t, err)
	b, err := GeneratePassword(0)
	require.NoError(t, err)

	require.Len(t, a, 24)
	require.NotEqual(t, a, b)
	require.False(t, strings.ContainsAny(a, "+/="))
}
