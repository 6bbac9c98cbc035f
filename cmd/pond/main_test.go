package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondworks/pond/pkg/secrets"
)

func parseArgs(t *testing.T, args []string) (*flags.Parser, options) {
	t.Helper()
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	_, err := p.ParseArgs(args)
	require.NoError(t, err)
	return p, opts
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	fname := filepath.Join(t.TempDir(), "pond.yml")
	require.NoError(t, os.WriteFile(fname, []byte(data), 0o600))
	return fname
}

func TestRun_Ping(t *testing.T) {
	setupLog(true)
	cfg := writeConfig(t, "database: \":memory:\"\n")

	p, opts := parseArgs(t, []string{"-f", cfg, "ping"})
	require.NoError(t, run(p, opts))
}

func TestRun_Exec(t *testing.T) {
	setupLog(true)
	cfg := writeConfig(t, "database: \":memory:\"\ncache_size: 4\n")

	p, opts := parseArgs(t, []string{"-f", cfg, "exec", "SELECT 1, 'two'"})
	require.NoError(t, run(p, opts))

	p, opts = parseArgs(t, []string{"-f", cfg, "exec", "SELEKT broken"})
	assert.Error(t, run(p, opts))
}

func TestRun_ExecBadConfig(t *testing.T) {
	p, opts := parseArgs(t, []string{"-f", filepath.Join(t.TempDir(), "missing.yml"), "ping"})
	assert.Error(t, run(p, opts))
}

func TestRun_SecretsLifecycle(t *testing.T) {
	setupLog(true)
	dbFile := filepath.Join(t.TempDir(), "secrets.db")
	base := []string{"--secrets.key", "testkey", "--secrets.conn", dbFile}

	p, opts := parseArgs(t, append(base, "secret-set", "k1", "v1"))
	require.NoError(t, run(p, opts))

	p, opts = parseArgs(t, append(base, "secret-get", "k1"))
	require.NoError(t, run(p, opts))

	p, opts = parseArgs(t, append(base, "secret-list", "k"))
	require.NoError(t, run(p, opts))

	p, opts = parseArgs(t, append(base, "secret-del", "k1"))
	require.NoError(t, run(p, opts))

	p, opts = parseArgs(t, append(base, "secret-get", "k1"))
	assert.Error(t, run(p, opts), "deleted key not found")

	p, opts = parseArgs(t, append(base, "secret-set", "k2", ""))
	assert.Error(t, run(p, opts), "empty value rejected")
}

func TestMakeSecretsProvider(t *testing.T) {
	tbl := []struct {
		name string
		opts SecretsProvider
		want any
		err  bool
	}{
		{name: "none", opts: SecretsProvider{Provider: "none"}, want: &secrets.NoOpProvider{}},
		{name: "internal", opts: SecretsProvider{Provider: "internal",
			Conn: filepath.Join(t.TempDir(), "s.db"), Key: "k"}, want: &secrets.InternalProvider{}},
		{name: "vault", opts: SecretsProvider{Provider: "vault"}, want: &secrets.HashiVaultProvider{}},
		{name: "unsupported", opts: SecretsProvider{Provider: "wat"}, err: true},
	}

	for _, tc := range tbl {
		t.Run(tc.name, func(t *testing.T) {
			got, err := makeSecretsProvider(tc.opts)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tc.want, got)
		})
	}
}
