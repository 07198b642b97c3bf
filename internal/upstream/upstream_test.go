package upstream

import (
	"crypto/tls"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuildsClientWithoutDialing(t *testing.T) {
	c, err := New(Options{BaseURL: "https://pd.na.a.pvp.net", PlatformHeader: "skinwatch"})
	require.NoError(t, err)
	assert.NotNil(t, c.http)
	assert.Equal(t, "skinwatch", c.platformHeader)
}

func TestSetClientVersionUpdatesHeaderValue(t *testing.T) {
	c, err := New(Options{BaseURL: "https://pd.na.a.pvp.net"})
	require.NoError(t, err)

	assert.Empty(t, c.clientVersion)
	c.SetClientVersion("10.01")
	assert.Equal(t, "10.01", c.clientVersion)
}

func TestPinnedTLSConfigRequiresTLS13(t *testing.T) {
	cfg := pinnedTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.Contains(t, cfg.CurvePreferences, tls.X25519)
	assert.Nil(t, cfg.CipherSuites, "TLS 1.3 ignores CipherSuites, so none should be set")
}

func TestClientImplementsRoundTripper(t *testing.T) {
	c, err := New(Options{BaseURL: "https://pd.na.a.pvp.net"})
	require.NoError(t, err)
	var _ http.RoundTripper = c
}
