package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/interaction-gateway/internal/adapters/auth/apikey"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestKeygen(t *testing.T) {
	out, err := execute(t, "keygen", "my-secret")
	require.NoError(t, err)
	assert.Contains(t, out, apikey.HashAPIKey("my-secret"))
	assert.Contains(t, out, "api_keys:")

	_, err = execute(t, "keygen")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("server:\n  port: 9090\n"), 0644))
	out, err := execute(t, "config", "validate", "--config", good)
	require.NoError(t, err)
	assert.Contains(t, out, "config OK")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("storage:\n  type: postgres\n"), 0644))
	_, err = execute(t, "config", "validate", "--config", bad)
	assert.ErrorContains(t, err, "unsupported storage.type")
}

func TestConfigShowRedactsHeaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
webhook:
  url: https://hooks.example.com/x
  headers:
    Authorization: Bearer hunter2
`), 0644))

	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "<redacted>")
}
