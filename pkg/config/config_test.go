package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullrunner/mcp-gateway/pkg/gwerrors"
)

func validDoc() []byte {
	return []byte(`{
		"gateway": {"host": "localhost", "port": 8080},
		"servers": [
			{"name": "fs", "transport": "stdio", "command": "mcp-server-fs", "enabled": true}
		],
		"policies": {"outputSizeLimit": 65536, "defaultTimeout": 30000}
	}`)
}

func TestParse_Valid(t *testing.T) {
	snap, err := Parse(validDoc())
	require.NoError(t, err)
	assert.Equal(t, 8080, snap.Gateway.Port)
	assert.Equal(t, []string{"fs"}, snap.ServerNames())
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	doc := []byte(`{
		"gateway": {"host": "localhost", "port": 8080},
		"servers": [],
		"policies": {"outputSizeLimit": 1, "defaultTimeout": 1},
		"bogus": true
	}`)
	_, err := Parse(doc)
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindConfigError, gwerrors.Of(err))
}

func TestParse_RejectsBadPort(t *testing.T) {
	doc := []byte(`{
		"gateway": {"host": "localhost", "port": 70000},
		"servers": [],
		"policies": {"outputSizeLimit": 1, "defaultTimeout": 1}
	}`)
	_, err := Parse(doc)
	require.Error(t, err)
}

func TestParse_RejectsBadServerName(t *testing.T) {
	doc := []byte(`{
		"gateway": {"host": "localhost", "port": 8080},
		"servers": [{"name": "a", "transport": "stdio", "command": "x", "enabled": true}],
		"policies": {"outputSizeLimit": 1, "defaultTimeout": 1}
	}`)
	_, err := Parse(doc)
	require.Error(t, err, "name shorter than the minimum 3 characters must be rejected")
}

func TestParse_RejectsDuplicateServerNames(t *testing.T) {
	doc := []byte(`{
		"gateway": {"host": "localhost", "port": 8080},
		"servers": [
			{"name": "dup", "transport": "stdio", "command": "a", "enabled": true},
			{"name": "dup", "transport": "stdio", "command": "b", "enabled": true}
		],
		"policies": {"outputSizeLimit": 1, "defaultTimeout": 1}
	}`)
	_, err := Parse(doc)
	require.Error(t, err)
}

func TestParse_StdioRequiresCommand(t *testing.T) {
	doc := []byte(`{
		"gateway": {"host": "localhost", "port": 8080},
		"servers": [{"name": "nocmd", "transport": "stdio", "enabled": true}],
		"policies": {"outputSizeLimit": 1, "defaultTimeout": 1}
	}`)
	_, err := Parse(doc)
	require.Error(t, err)
}

func TestParse_HTTPRequiresURL(t *testing.T) {
	doc := []byte(`{
		"gateway": {"host": "localhost", "port": 8080},
		"servers": [{"name": "nourl", "transport": "http", "enabled": true}],
		"policies": {"outputSizeLimit": 1, "defaultTimeout": 1}
	}`)
	_, err := Parse(doc)
	require.Error(t, err)
}

func TestComputeDiff(t *testing.T) {
	old, err := Parse(validDoc())
	require.NoError(t, err)

	newDoc := []byte(`{
		"gateway": {"host": "localhost", "port": 8080},
		"servers": [
			{"name": "fs", "transport": "stdio", "command": "mcp-server-fs", "enabled": true, "maxRetries": 3},
			{"name": "shell", "transport": "stdio", "command": "mcp-server-shell", "enabled": true}
		],
		"policies": {"outputSizeLimit": 65536, "defaultTimeout": 30000}
	}`)
	newSnap, err := Parse(newDoc)
	require.NoError(t, err)

	diff := ComputeDiff(old, newSnap)
	require.Len(t, diff.AddedServers, 1)
	assert.Equal(t, "shell", diff.AddedServers[0].Name)
	require.Len(t, diff.UpdatedServers, 1)
	assert.Equal(t, "fs", diff.UpdatedServers[0].Name)
	assert.Empty(t, diff.RemovedServers)
}

func TestComputeDiff_Removal(t *testing.T) {
	old, err := Parse(validDoc())
	require.NoError(t, err)

	newSnap := &Snapshot{
		Gateway:  old.Gateway,
		Policies: old.Policies,
	}
	diff := ComputeDiff(old, newSnap)
	require.Len(t, diff.RemovedServers, 1)
	assert.Equal(t, "fs", diff.RemovedServers[0].Name)
}

func TestDefault_UsedWhenDefaultPathMissing(t *testing.T) {
	snap, err := Load("/nonexistent/path/for/test/config.json", true)
	require.NoError(t, err)
	assert.Equal(t, "localhost", snap.Gateway.Host)
}

func TestLoad_FatalWhenExplicitPathMissing(t *testing.T) {
	_, err := Load("/nonexistent/path/for/test/config.json", false)
	require.Error(t, err)
}
