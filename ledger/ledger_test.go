package ledger

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/localtrust/pki"
	"github.com/jmcleod/localtrust/trustchain"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "nested", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger(t *testing.T) {
	l := newTestLedger(t)
	ctx := t.Context()
	fixed := time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	t.Run("Empty", func(t *testing.T) {
		entries, err := l.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, entries)

		_, err = l.Latest(ctx, trustchain.KindCA)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RecordList", func(t *testing.T) {
		require.NoError(t, l.Record(ctx, Entry{Kind: trustchain.KindCA, Serial: "01"}))
		require.NoError(t, l.Record(ctx, Entry{Kind: trustchain.KindCert, Serial: "02"}))
		require.NoError(t, l.Record(ctx, Entry{Kind: trustchain.KindCert, Serial: "03", ID: "fixed-id"}))

		entries, err := l.List(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, []string{"01", "02", "03"}, []string{entries[0].Serial, entries[1].Serial, entries[2].Serial})
		assert.NotEmpty(t, entries[0].ID)
		assert.NotEqual(t, entries[0].ID, entries[1].ID)
		assert.Equal(t, "fixed-id", entries[2].ID)
		assert.True(t, entries[0].CreatedAt.Equal(fixed))
	})

	t.Run("Latest", func(t *testing.T) {
		e, err := l.Latest(ctx, trustchain.KindCert)
		require.NoError(t, err)
		assert.Equal(t, "03", e.Serial)

		e, err = l.Latest(ctx, trustchain.KindCA)
		require.NoError(t, err)
		assert.Equal(t, "01", e.Serial)

		_, err = l.Latest(ctx, "intermediate")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, l.Record(cctx, Entry{Kind: trustchain.KindCA}), context.Canceled)
		_, err := l.List(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLedger_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(t.Context(), Entry{Kind: trustchain.KindCA, Serial: "aa"}))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()
	entries, err := l.List(t.Context())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "aa", entries[0].Serial)
}

func TestEntryFor(t *testing.T) {
	issued, err := pki.CreateCertificate(pki.CertificateOptions{
		Subject:      pki.Name{{ShortName: "O", Value: "tester"}, {ShortName: "CN", Value: "tester local-ca"}},
		KeySize:      pki.KeySize2048,
		ValidityDays: 10,
		Extensions:   []pki.Extension{pki.BasicConstraints{CA: true}},
	})
	require.NoError(t, err)

	e := EntryFor(trustchain.KindCA, issued.Certificate, true)
	assert.Equal(t, trustchain.KindCA, e.Kind)
	assert.Equal(t, "O=tester, CN=tester local-ca", e.Subject)
	assert.Equal(t, e.Subject, e.Issuer)
	assert.Equal(t, issued.Certificate.SerialNumber.Text(16), trimLeadingZeros(e.Serial))
	assert.Len(t, e.FingerprintSHA256, 64)
	assert.True(t, e.Persisted)
	assert.True(t, e.NotAfter.Equal(issued.Certificate.NotAfter))
}

func trimLeadingZeros(s string) string {
	for len(s) > 1 && s[0] == '0' {
		s = s[1:]
	}
	return s
}

func TestLedger_RecordsChainIssuance(t *testing.T) {
	l := newTestLedger(t)
	opts := trustchain.Options{Path: t.TempDir()}
	chainOpts := []trustchain.Option{
		trustchain.WithUserName("tester"),
		trustchain.WithAddressSource(func() ([]net.IP, error) { return []net.IP{net.IPv4(127, 0, 0, 1)}, nil }),
		trustchain.WithRecorder(l),
	}

	c, err := trustchain.New(opts, chainOpts...)
	require.NoError(t, err)
	_, err = trustchain.New(opts, chainOpts...)
	require.NoError(t, err)

	entries, err := l.List(t.Context())
	require.NoError(t, err)
	require.Len(t, entries, 3, "ca once, leaf on both runs")
	assert.Equal(t, []string{trustchain.KindCA, trustchain.KindCert, trustchain.KindCert},
		[]string{entries[0].Kind, entries[1].Kind, entries[2].Kind})

	ca, err := l.Latest(t.Context(), trustchain.KindCA)
	require.NoError(t, err)
	assert.Equal(t, pki.Describe(c.CACertificate()).FingerprintSHA256, ca.FingerprintSHA256)
	assert.True(t, ca.Persisted)
}
