package gateway

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

const minimalConfig = `{
	"gateway": {"host": "localhost", "port": 0},
	"servers": [],
	"policies": {"outputSizeLimit": 65536, "defaultTimeout": 30000}
}`

func TestNew_AssemblesFromValidConfig(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)

	g, err := New(path, "0.0.0-test")
	require.NoError(t, err)
	require.NotNil(t, g)

	snap := g.currentSnapshot()
	require.NotNil(t, snap)
	assert.Equal(t, "localhost", snap.Gateway.Host)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	path := writeTempConfig(t, `{"gateway": {"host": "localhost", "port": 99999}, "servers": [], "policies": {"outputSizeLimit": 1, "defaultTimeout": 1}}`)

	_, err := New(path, "0.0.0-test")
	assert.Error(t, err)
}

func TestForwardSampling_FailsWithNoConnectedSession(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)
	g, err := New(path, "0.0.0-test")
	require.NoError(t, err)

	_, err = g.forwardSampling(context.Background(), "fs", nil)
	assert.Error(t, err)
}
