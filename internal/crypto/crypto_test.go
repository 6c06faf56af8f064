package crypto

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("  s3cr3t-api-secret \n", "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "s3cr3t")

	got, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-api-secret", got)

	_, err = DecryptSecret(blob, "wrong")
	assert.ErrorContains(t, err, "wrong password")
}

func TestEncryptSecretRejectsEmpty(t *testing.T) {
	_, err := EncryptSecret("x", "")
	assert.Error(t, err)
	_, err = EncryptSecret("   ", "pw")
	assert.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	got, err := LoadSecret(SecretConfig{Raw: "raw"})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	_, err = LoadSecret(SecretConfig{})
	assert.Error(t, err)
}

func TestHMACSign(t *testing.T) {
	// Example from the Binance API documentation.
	h := &HMACAuth{Secret: "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"}
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", h.Sign(payload))
}

func TestSignedQuery(t *testing.T) {
	h := &HMACAuth{Key: "k", Secret: "s", RecvWindow: 5 * time.Second}
	q := h.SignedQuery(url.Values{"symbol": {"BTCUSDT"}}, time.UnixMilli(1700000000000))

	payload, sig, ok := strings.Cut(q, "&signature=")
	require.True(t, ok)
	assert.Equal(t, "recvWindow=5000&symbol=BTCUSDT&timestamp=1700000000000", payload)
	assert.Equal(t, h.Sign(payload), sig)
	assert.True(t, h.Configured())
	assert.Equal(t, "HMACAuth{key=****, secret=****}", h.String())
}
