package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAppliesEnvDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, ":9229", c.Listen)
	assert.Equal(t, TransportTCP, c.Transport)
	assert.True(t, c.KeepAliveEnabled)
}

func TestLoadRejectsUnknownTransport(t *testing.T) {
	t.Setenv("VSHOSTBRIDGE_TRANSPORT", "carrier-pigeon")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("VSHOSTBRIDGE_LISTEN", "/tmp/vshostbridge.sock")
	t.Setenv("VSHOSTBRIDGE_TRANSPORT", "unix")
	t.Setenv("VSHOSTBRIDGE_KEEPALIVE", "false")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/vshostbridge.sock", c.Listen)
	assert.Equal(t, TransportUnix, c.Transport)
	assert.False(t, c.KeepAliveEnabled)
}
