package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptProviderHashAndVerify(t *testing.T) {
	var p BcryptProvider

	digest, secret, err := p.Hash("hunter2", bcrypt.MinCost)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)
	assert.True(t, strings.HasPrefix(digest, "$2a$"))

	assert.True(t, p.Verify("hunter2", digest))
	assert.False(t, p.Verify("hunter3", digest))
	assert.False(t, p.Verify("", digest))
}

func TestBcryptProviderGeneratesSecret(t *testing.T) {
	var p BcryptProvider

	digest, secret, err := p.Hash("", bcrypt.MinCost)
	require.NoError(t, err)
	require.NotEmpty(t, secret)
	assert.True(t, p.Verify(secret, digest))

	_, other, err := p.Hash("", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestBcryptProviderDefaultCost(t *testing.T) {
	var p BcryptProvider

	digest, _, err := p.Hash("s3cret", 0)
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(digest))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)
}

func TestBcryptProviderMalformedDigest(t *testing.T) {
	var p BcryptProvider
	assert.False(t, p.Verify("anything", "not-a-bcrypt-digest"))
	assert.False(t, p.Verify("anything", ""))
}
