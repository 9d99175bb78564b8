package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunRejectsBadFlags(t *testing.T) {
	var stderr bytes.Buffer
	err := run(context.Background(), []string{"-unknown"}, &stderr)
	require.Error(t, err)
	require.Contains(t, stderr.String(), "flag provided but not defined")
}

func TestRunRejectsMissingConfig(t *testing.T) {
	var stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "missing.toml")}, &stderr)
	require.ErrorContains(t, err, "decode config")
}

func TestRunServesUntilContextDone(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "saled.toml")
	body := "ListenAddress = \"127.0.0.1:0\"\nDataDir = \"" + filepath.ToSlash(filepath.Join(dir, "data")) + "\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	var stderr bytes.Buffer
	require.NoError(t, run(ctx, []string{"-config", cfgPath}, &stderr))
	require.DirExists(t, filepath.Join(dir, "data", "state"))
	require.FileExists(t, filepath.Join(dir, "data", "receipts.sqlite"))
}
