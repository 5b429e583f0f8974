package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pcapkeeper "+Version)
}

func TestConfigValidateCmd(t *testing.T) {
	capture := t.TempDir()
	valid := writeConfig(t, "capture_locations:\n  - "+capture+"\nprobe_location: "+capture+"\n")
	invalid := writeConfig(t, "capture_locations: []\n")

	out, err := runCmd(t, "config", "validate", "--config", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	_, err = runCmd(t, "config", "validate", "--config", invalid)
	assert.Error(t, err)
}

func TestConfigShowRedactsPassword(t *testing.T) {
	capture := t.TempDir()
	path := writeConfig(t, strings.Join([]string{
		"capture_locations:",
		"  - " + capture,
		"probe_location: " + capture,
		"index:",
		"  url: http://127.0.0.1:9200",
		"  password: hunter2",
	}, "\n")+"\n")

	out, err := runCmd(t, "config", "show", "-c", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "[REDACTED]")
}

func TestUsageCmdRejectsUnknownUnit(t *testing.T) {
	_, err := runCmd(t, "usage", "--unit", "parsecs", "--config", "/nonexistent.yml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown unit")
}

func TestSweepCmdRequiresDuration(t *testing.T) {
	_, err := runCmd(t, "sweep", "--older-than", "0s", "--config", "/nonexistent.yml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--older-than")
}
