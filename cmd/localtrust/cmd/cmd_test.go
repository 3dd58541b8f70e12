package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/localtrust/pki"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// resetFlags restores every flag to its default so package-level command
// state does not leak between runs.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, out)
	return out
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestInit(t *testing.T) {
	dir := t.TempDir()

	out := mustRun(t, "init", "--path", dir)
	assert.Regexp(t, `ca\s+created`, out)
	assert.Regexp(t, `cert\s+created\s+\(memory only\)`, out)
	assert.FileExists(t, filepath.Join(dir, "local-ca.crt"))
	assert.FileExists(t, filepath.Join(dir, "local-ca.key"))
	assert.FileExists(t, filepath.Join(dir, "ledger.db"))

	out = mustRun(t, "init", "--path", dir, "--cert-save-to-disc")
	assert.Regexp(t, `ca\s+valid`, out)
	assert.Regexp(t, `cert\s+created`, out)
	assert.Contains(t, out, filepath.Join(dir, "local.crt"))

	out = mustRun(t, "init", "--path", dir, "--cert-save-to-disc")
	assert.Regexp(t, `cert\s+valid`, out)
}

func TestInit_InvalidKeySize(t *testing.T) {
	_, err := run(t, "init", "--path", t.TempDir(), "--ca-key-size", "1024")
	assert.Error(t, err)
}

func TestShow(t *testing.T) {
	dir := t.TempDir()

	ca := mustRun(t, "show", "--path", dir, "--part", "ca")
	onDisk, err := os.ReadFile(filepath.Join(dir, "local-ca.crt"))
	require.NoError(t, err)
	assert.Equal(t, string(onDisk), ca)

	all := mustRun(t, "show", "--path", dir)
	assert.Equal(t, 2, strings.Count(all, "BEGIN CERTIFICATE"))
	assert.True(t, strings.HasPrefix(all, ca))

	summary := mustRun(t, "show", "--path", dir, "--part", "summary")
	var parts map[string]pki.Summary
	require.NoError(t, json.Unmarshal([]byte(summary), &parts))
	assert.True(t, parts["ca"].IsCA)
	assert.Equal(t, parts["ca"].Subject, parts["cert"].Issuer)
	assert.Contains(t, parts["cert"].DNSNames, "localhost")

	_, err = run(t, "show", "--path", dir, "--part", "everything")
	assert.ErrorContains(t, err, "unknown part")
}

func TestShow_SeparateLeafParts(t *testing.T) {
	t.Run("RejectedWhenLeafIsNotSaved", func(t *testing.T) {
		dir := t.TempDir()
		for _, part := range []string{"cert", "key"} {
			_, err := run(t, "show", "--path", dir, "--part", part)
			require.ErrorIs(t, err, errUnpersistedLeaf)
			assert.ErrorContains(t, err, "--part all")
		}
		assert.NoFileExists(t, filepath.Join(dir, "local-ca.crt"), "nothing may be issued")

		out := mustRun(t, "history", "--path", dir)
		assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 1, out)
	})

	t.Run("MatchingPairWhenLeafIsSaved", func(t *testing.T) {
		dir := t.TempDir()
		certPEM := mustRun(t, "show", "--path", dir, "--part", "cert", "--cert-save-to-disc")
		keyPEM := mustRun(t, "show", "--path", dir, "--part", "key", "--cert-save-to-disc")

		cert, err := pki.DecodeCertificatePEM([]byte(certPEM))
		require.NoError(t, err)
		key, err := pki.DecodePrivateKeyPEM([]byte(keyPEM), nil)
		require.NoError(t, err)
		require.NoError(t, pki.KeyMatchesCertificate(key, cert))

		out := mustRun(t, "history", "--path", dir)
		assert.Equal(t, 1, strings.Count(out, " cert "), out)
	})
}

func TestHistory(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, "init", "--path", dir)
	mustRun(t, "init", "--path", dir)

	out := mustRun(t, "history", "--path", dir)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4, out)
	assert.Contains(t, lines[0], "SERIAL")
	assert.Regexp(t, `\sca\s`, lines[1])
	assert.Regexp(t, `\scert\s`, lines[2])
	assert.Regexp(t, `\scert\s`, lines[3])

	_, err := run(t, "history", "--path", dir, "--ledger", "")
	assert.ErrorContains(t, err, "disabled")
}

func TestConfigSources(t *testing.T) {
	t.Run("File", func(t *testing.T) {
		dir := t.TempDir()
		cfgPath := filepath.Join(t.TempDir(), "localtrust.yaml")
		require.NoError(t, os.WriteFile(cfgPath, []byte(
			"path: "+dir+"\n"+
				"ca:\n"+
				"  filename: root\n"+
				"  validity: 100\n"+
				"cert:\n"+
				"  save-to-disc: true\n"), 0o600))

		mustRun(t, "init", "--config", cfgPath)
		assert.FileExists(t, filepath.Join(dir, "root.crt"))
		assert.FileExists(t, filepath.Join(dir, "local.crt"))

		cert, found, err := pki.LoadCertificate(filepath.Join(dir, "root.crt"))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 100, int(cert.NotAfter.Sub(cert.NotBefore).Hours()/24+0.5))
	})

	t.Run("FlagOverridesFile", func(t *testing.T) {
		dir := t.TempDir()
		cfgPath := filepath.Join(t.TempDir(), "localtrust.yaml")
		require.NoError(t, os.WriteFile(cfgPath, []byte("path: "+dir+"\nca:\n  filename: root\n"), 0o600))

		mustRun(t, "init", "--config", cfgPath, "--ca-filename", "flagged")
		assert.FileExists(t, filepath.Join(dir, "flagged.crt"))
		assert.NoFileExists(t, filepath.Join(dir, "root.crt"))
	})

	t.Run("Environment", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("LOCALTRUST_PATH", dir)
		t.Setenv("LOCALTRUST_CA_PASSPHRASE", "from-env")

		mustRun(t, "init")
		data, err := os.ReadFile(filepath.Join(dir, "local-ca.key"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "BEGIN ENCRYPTED PRIVATE KEY")

		t.Setenv("LOCALTRUST_CA_PASSPHRASE", "wrong")
		_, err = run(t, "init")
		assert.ErrorIs(t, err, pki.ErrDecryptPrivateKey)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := run(t, "init", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestVersion(t *testing.T) {
	out := mustRun(t, "version")
	assert.Equal(t, Version+"\n", out)
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	printBanner(&buf)
	assert.Contains(t, buf.String(), "Local Development Trust Chain")
}
