package server

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasicDigest(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("c1:hunter2:http://localhost/cb"))

	d, err := ParseBasicDigest(raw)
	require.NoError(t, err)
	assert.Equal(t, "c1", d.UserID)
	assert.Equal(t, "hunter2", d.Password)
	assert.Equal(t, "http://localhost/cb", d.RedirectURI)
}

func TestParseBasicDigestRedirectWithColons(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("c1:pw:https://example.com:8443/cb"))

	d, err := ParseBasicDigest(raw)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com:8443/cb", d.RedirectURI)
}

func TestParseBasicDigestHeaderPrefix(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("c1:pw:http://localhost"))

	d, err := ParseBasicDigest("Basic " + encoded)
	require.NoError(t, err)
	assert.Equal(t, "c1", d.UserID)
}

func TestParseBasicDigestMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not base64", "%%%"},
		{"too few parts", base64.StdEncoding.EncodeToString([]byte("c1:pw"))},
		{"empty user id", base64.StdEncoding.EncodeToString([]byte(":pw:uri"))},
		{"empty input", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseBasicDigest(tc.raw)
			assert.Error(t, err)
		})
	}
}

func TestBasicDigestRoundTrip(t *testing.T) {
	d := &BasicDigest{UserID: "c1", Password: "pw", RedirectURI: "http://localhost"}

	parsed, err := ParseBasicDigest(d.Encode())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestDecodeSignature(t *testing.T) {
	sig, err := DecodeSignature(base64.StdEncoding.EncodeToString([]byte{0xde, 0xad}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, sig)

	_, err = DecodeSignature("not base64!")
	assert.Error(t, err)
}
