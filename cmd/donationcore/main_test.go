package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateCreatesSQLiteSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "donations.db")
	t.Setenv("DONATIONCORE_STORAGE_DRIVER", "sqlite")
	t.Setenv("DONATIONCORE_SQLITE_PATH", path)

	out, err := run(t, "migrate", "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Contains(t, out, "schema applied (sqlite)")
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = run(t, "migrate")
	require.NoError(t, err)
}

func TestMigrateRejectsBadConfig(t *testing.T) {
	t.Setenv("DONATIONCORE_STORAGE_DRIVER", "cassandra")
	_, err := run(t, "migrate")
	require.ErrorContains(t, err, "STORAGE_DRIVER")
}

func TestServeRequiresSecret(t *testing.T) {
	t.Setenv("DONATIONCORE_STORAGE_DRIVER", "memory")
	t.Setenv("DONATIONCORE_JWT_SECRET", "short")
	_, err := run(t, "serve", "--addr", "127.0.0.1:0")
	require.ErrorContains(t, err, "JWT_SECRET")
}
