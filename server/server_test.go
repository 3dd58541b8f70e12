package server

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmcleod/localtrust/pki"
	"github.com/jmcleod/localtrust/trustchain"
)

func newTestBundle(t *testing.T) trustchain.Bundle {
	t.Helper()
	bundle, err := trustchain.Init(trustchain.Options{Path: t.TempDir()},
		trustchain.WithUserName("tester"),
		trustchain.WithAddressSource(func() ([]net.IP, error) {
			return []net.IP{net.IPv4(127, 0, 0, 1).To4()}, nil
		}))
	require.NoError(t, err)
	return bundle
}

func startTLS(t *testing.T, bundle trustchain.Bundle) (*httptest.Server, *http.Client) {
	t.Helper()
	srv, err := New(Config{}, bundle, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ":8443", srv.Addr)
	assert.Equal(t, uint16(tls.VersionTLS12), srv.TLSConfig.MinVersion)

	ts := httptest.NewUnstartedServer(srv.Handler)
	ts.TLS = srv.TLSConfig
	ts.StartTLS()
	t.Cleanup(ts.Close)

	pool, err := bundle.CertPool()
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}}
	return ts, client
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestServer(t *testing.T) {
	bundle := newTestBundle(t)
	ts, client := startTLS(t, bundle)

	t.Run("Health", func(t *testing.T) {
		resp, body := get(t, client, ts.URL+"/health")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "OK", string(body))
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
		assert.NotEmpty(t, resp.Header.Get("Strict-Transport-Security"))
		require.NotNil(t, resp.TLS)
		assert.Len(t, resp.TLS.PeerCertificates, 2)
	})

	t.Run("CADER", func(t *testing.T) {
		resp, body := get(t, client, ts.URL+"/ca.crt")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/x-x509-ca-cert", resp.Header.Get("Content-Type"))

		ca, err := x509.ParseCertificate(body)
		require.NoError(t, err)
		assert.True(t, ca.IsCA)
	})

	t.Run("CAPEM", func(t *testing.T) {
		resp, body := get(t, client, ts.URL+"/ca.pem")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, bundle.CA, string(body))
	})

	t.Run("Description", func(t *testing.T) {
		resp, body := get(t, client, ts.URL+"/")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var d Description
		require.NoError(t, json.Unmarshal(body, &d))
		assert.True(t, d.CA.IsCA)
		assert.False(t, d.Cert.IsCA)
		assert.Equal(t, d.CA.Subject, d.Cert.Issuer)
		assert.Contains(t, d.Cert.DNSNames, "localhost")
		assert.Contains(t, d.Cert.IPAddresses, "127.0.0.1")
	})

	t.Run("OpenAPI", func(t *testing.T) {
		resp, body := get(t, client, ts.URL+"/openapi.yaml")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, openapiDoc, body)

		resp, body = get(t, client, ts.URL+"/docs")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "/openapi.yaml")
	})

	t.Run("NotFound", func(t *testing.T) {
		resp, _ := get(t, client, ts.URL+"/missing")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestServer_UntrustedClientRejected(t *testing.T) {
	ts, _ := startTLS(t, newTestBundle(t))

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: x509.NewCertPool()}}}
	_, err := client.Get(ts.URL + "/health")
	assert.Error(t, err)
}

func TestHandler_InvalidBundle(t *testing.T) {
	_, err := Handler(trustchain.Bundle{CA: "nope"}, zap.NewNop())
	assert.ErrorIs(t, err, pki.ErrInvalidPEM)

	_, err = New(Config{Addr: ":0"}, trustchain.Bundle{}, zap.NewNop())
	assert.Error(t, err)
}
