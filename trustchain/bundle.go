package trustchain

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

// Bundle is the PEM output of a chain: the CA certificate to import into a
// trust store plus the leaf certificate and key a TLS server presents.
type Bundle struct {
	CA   string `json:"ca"`
	Cert string `json:"cert"`
	Key  string `json:"key"`
}

// TLSCertificate returns the leaf as a tls.Certificate whose chain carries the
// CA certificate after the leaf.
func (b Bundle) TLSCertificate() (tls.Certificate, error) {
	cert, err := tls.X509KeyPair([]byte(b.Cert+b.CA), []byte(b.Key))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("building TLS key pair: %w", err)
	}
	return cert, nil
}

// CertPool returns a pool containing only the CA certificate, suitable as
// RootCAs for clients of a server using TLSCertificate.
func (b Bundle) CertPool() (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(b.CA)) {
		return nil, errors.New("bundle CA is not a PEM certificate")
	}
	return pool, nil
}
