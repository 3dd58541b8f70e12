package pki

import (
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"fmt"
	"net"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Extension is a certificate extension applied to a template before signing.
// crypto/x509 always marks basicConstraints and keyUsage critical.
type Extension interface {
	apply(template *x509.Certificate) error
}

// BasicConstraints sets the basicConstraints extension. MaxPathLen is only
// encoded for CA certificates; a negative value leaves the path length unset.
type BasicConstraints struct {
	CA         bool
	MaxPathLen int
}

func (e BasicConstraints) apply(t *x509.Certificate) error {
	t.BasicConstraintsValid = true
	t.IsCA = e.CA
	if !e.CA {
		t.MaxPathLen = -1
		return nil
	}
	switch {
	case e.MaxPathLen < 0:
		t.MaxPathLen = -1
	case e.MaxPathLen == 0:
		t.MaxPathLen = 0
		t.MaxPathLenZero = true
	default:
		t.MaxPathLen = e.MaxPathLen
	}
	return nil
}

// KeyUsage sets the keyUsage extension.
type KeyUsage struct {
	Usage x509.KeyUsage
}

func (e KeyUsage) apply(t *x509.Certificate) error {
	t.KeyUsage |= e.Usage
	return nil
}

// ExtKeyUsage sets the extendedKeyUsage extension.
type ExtKeyUsage struct {
	Usage []x509.ExtKeyUsage
}

func (e ExtKeyUsage) apply(t *x509.Certificate) error {
	t.ExtKeyUsage = append(t.ExtKeyUsage, e.Usage...)
	return nil
}

// SubjectKeyIdentifier derives the subjectKeyIdentifier from the certificate's
// own public key.
type SubjectKeyIdentifier struct{}

func (SubjectKeyIdentifier) apply(t *x509.Certificate) error {
	id, err := KeyIdentifier(t.PublicKey)
	if err != nil {
		return fmt.Errorf("subject key identifier: %w", err)
	}
	t.SubjectKeyId = id
	return nil
}

// AuthorityKeyIdentifier sets the authorityKeyIdentifier to KeyID, normally
// KeyIdentifier of the issuing CA's public key.
type AuthorityKeyIdentifier struct {
	KeyID []byte
}

func (e AuthorityKeyIdentifier) apply(t *x509.Certificate) error {
	t.AuthorityKeyId = e.KeyID
	return nil
}

// SubjectAltName lists the DNS names and IP addresses the certificate covers.
type SubjectAltName struct {
	DNSNames    []string
	IPAddresses []net.IP
}

func (e SubjectAltName) apply(t *x509.Certificate) error {
	t.DNSNames = append(t.DNSNames, e.DNSNames...)
	t.IPAddresses = append(t.IPAddresses, e.IPAddresses...)
	return nil
}

// KeyIdentifier computes the RFC 5280 key identifier of pub: the SHA-1 hash of
// the subjectPublicKey BIT STRING of its SubjectPublicKeyInfo.
func KeyIdentifier(pub crypto.PublicKey) ([]byte, error) {
	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	input := cryptobyte.String(spki)
	var seq, algorithm cryptobyte.String
	var bits []byte
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) ||
		!seq.ReadASN1(&algorithm, cbasn1.SEQUENCE) ||
		!seq.ReadASN1BitStringAsBytes(&bits) {
		return nil, fmt.Errorf("malformed SubjectPublicKeyInfo")
	}

	sum := sha1.Sum(bits)
	return sum[:], nil
}
