package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runConfig(t *testing.T, args ...string) map[string]any {
	t.Helper()
	t.Chdir(t.TempDir())

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(append([]string{"config"}, args...))
	require.NoError(t, root.Execute())

	var settings map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &settings))
	return settings
}

func TestConfigCommandDefaults(t *testing.T) {
	settings := runConfig(t, "--log-format", "json")
	server := settings["server"].(map[string]any)
	assert.Equal(t, ":8080", server["addr"])
	assert.Equal(t, false, server["upgrade_h2c"])
}

func TestConfigCommandFlagsOverride(t *testing.T) {
	settings := runConfig(t, "--addr", "127.0.0.1:9999", "--upgrade-h2c", "--log-format", "json")
	server := settings["server"].(map[string]any)
	assert.Equal(t, "127.0.0.1:9999", server["addr"])
	assert.Equal(t, true, server["upgrade_h2c"])
	logger := settings["logger"].(map[string]any)
	assert.Equal(t, "json", logger["format"])
}

func TestConfigCommandEnvOverride(t *testing.T) {
	t.Setenv("SLUICE_SERVER_ADDR", "0.0.0.0:7070")
	settings := runConfig(t, "--log-format", "json")
	server := settings["server"].(map[string]any)
	assert.Equal(t, "0.0.0.0:7070", server["addr"])
}

func TestInvalidLogFormatFails(t *testing.T) {
	t.Chdir(t.TempDir())
	root := newRootCmd()
	root.SetArgs([]string{"config", "--log-format", "xml"})
	assert.Error(t, root.Execute())
}
