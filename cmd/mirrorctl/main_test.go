package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "repositories")
	require.NoError(t, os.MkdirAll(root, 0o755))
	t.Setenv("MIRROR_REPO_ROOT", root)
	t.Setenv("MIRROR_CONFIG_FILE", filepath.Join(dir, "mirror-config.json"))
	t.Setenv("MIRROR_LOG_DIR", filepath.Join(dir, "logs"))
	return root
}

func TestRun(t *testing.T) {
	t.Run("prints usage without a command", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		code := run(nil, &stdout, &stderr)
		require.Equal(t, 2, code)
		require.Contains(t, stderr.String(), "usage: mirrorctl")
	})

	t.Run("rejects an unknown command", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		code := run([]string{"frobnicate"}, &stdout, &stderr)
		require.Equal(t, 2, code)
		require.Contains(t, stderr.String(), "unknown command")
	})

	t.Run("enable, status, list, disable round trip", func(t *testing.T) {
		root := setupEnv(t)
		require.NoError(t, os.MkdirAll(filepath.Join(root, "repo-x.git"), 0o755))

		var stdout, stderr bytes.Buffer
		code := run([]string{"enable", "repo-x", "--schedule", "*/30 * * * *", "--timeout", "120"}, &stdout, &stderr)
		require.Equal(t, 0, code, stderr.String())
		require.Contains(t, stdout.String(), "mirror enabled: repo-x")

		stdout.Reset()
		code = run([]string{"status", "repo-x"}, &stdout, &stderr)
		require.Equal(t, 0, code)
		require.Contains(t, stdout.String(), "schedule: */30 * * * *")
		require.Contains(t, stdout.String(), "status:   never")

		stdout.Reset()
		code = run([]string{"list", "--enabled-only"}, &stdout, &stderr)
		require.Equal(t, 0, code)
		require.Contains(t, stdout.String(), "repo-x: enabled")

		stdout.Reset()
		code = run([]string{"disable", "repo-x"}, &stdout, &stderr)
		require.Equal(t, 0, code)
		require.Contains(t, stdout.String(), "mirror disabled: repo-x")

		stdout.Reset()
		code = run([]string{"list", "--enabled-only"}, &stdout, &stderr)
		require.Equal(t, 0, code)
		require.Contains(t, stdout.String(), "no mirrors configured")
	})

	t.Run("enable fails loudly on a malformed schedule", func(t *testing.T) {
		root := setupEnv(t)
		require.NoError(t, os.MkdirAll(filepath.Join(root, "repo-x.git"), 0o755))

		var stdout, stderr bytes.Buffer
		code := run([]string{"enable", "repo-x", "--schedule", "not a cron"}, &stdout, &stderr)
		require.Equal(t, 1, code)
		require.Contains(t, stderr.String(), "invalid cron schedule")
	})

	t.Run("enable fails for a repository that does not exist", func(t *testing.T) {
		setupEnv(t)
		var stdout, stderr bytes.Buffer
		code := run([]string{"enable", "repo-x"}, &stdout, &stderr)
		require.Equal(t, 1, code)
		require.Contains(t, stderr.String(), "unknown repository")
	})

	t.Run("logs of an idle deployment are empty", func(t *testing.T) {
		setupEnv(t)
		var stdout, stderr bytes.Buffer
		code := run([]string{"logs", "--limit", "5"}, &stdout, &stderr)
		require.Equal(t, 0, code)
		require.Empty(t, stdout.String())
	})
}
