package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// CertificateOptions describes a certificate to create.
type CertificateOptions struct {
	// Subject is the ordered subject of the new certificate.
	Subject Name

	// Parent is the issuing certificate. Its subject becomes the issuer of
	// the new certificate. Leave nil for a self-signed certificate, whose
	// issuer is its own Subject.
	Parent *x509.Certificate

	// SigningKey is the private key of Parent. It must be nil for
	// self-signed certificates, which are signed with their freshly
	// generated key.
	SigningKey crypto.Signer

	// KeySize is the RSA modulus size, 2048 or 4096.
	KeySize int

	// ValidityDays is the number of calendar days between NotBefore and
	// NotAfter.
	ValidityDays int

	// Extensions are applied to the template in order.
	Extensions []Extension

	// NotBefore defaults to the current time.
	NotBefore time.Time
}

// Issued is a freshly created certificate together with its private key.
type Issued struct {
	Certificate *x509.Certificate
	PrivateKey  *rsa.PrivateKey
}

// CertificatePEM returns the PEM encoded certificate.
func (i *Issued) CertificatePEM() string {
	return EncodeCertificatePEM(i.Certificate)
}

// PrivateKeyPEM returns the unencrypted PEM encoded private key.
func (i *Issued) PrivateKeyPEM() string {
	return EncodePrivateKeyPEM(i.PrivateKey)
}

// CreateCertificate generates a new RSA key pair and a certificate for it,
// signed either by opts.SigningKey or, when self-signed, by the new key.
// Failures of the underlying primitives are returned as-is; there is no
// retry.
func CreateCertificate(opts CertificateOptions) (*Issued, error) {
	if !ValidKeySize(opts.KeySize) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedKeySize, opts.KeySize)
	}
	if opts.ValidityDays < 1 {
		return nil, fmt.Errorf("validity must be at least one day, got %d", opts.ValidityDays)
	}
	if opts.Parent != nil && opts.SigningKey == nil {
		return nil, errors.New("a signing key is required when a parent certificate is given")
	}
	if opts.Parent == nil && opts.SigningKey != nil {
		return nil, errors.New("self-signed certificates are signed with their own key")
	}

	key, err := rsa.GenerateKey(rand.Reader, opts.KeySize)
	if err != nil {
		return nil, fmt.Errorf("generating RSA %d key: %w", opts.KeySize, err)
	}

	serial, err := NewSerialNumber()
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}

	subject, err := opts.Subject.PKIX()
	if err != nil {
		return nil, fmt.Errorf("encoding subject: %w", err)
	}

	notBefore := opts.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now()
	}
	// AddDate works on calendar fields, so month lengths and DST changes
	// are handled the same way a wall clock would.
	notAfter := notBefore.AddDate(0, 0, opts.ValidityDays)

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      subject,
		PublicKey:    &key.PublicKey,
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		MaxPathLen:   -1,
	}
	for _, ext := range opts.Extensions {
		if err := ext.apply(template); err != nil {
			return nil, fmt.Errorf("applying %T: %w", ext, err)
		}
	}

	parent := opts.Parent
	var signer crypto.Signer = key
	if parent == nil {
		parent = template
	} else {
		signer = opts.SigningKey
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, signer)
	if err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing created certificate: %w", err)
	}

	return &Issued{Certificate: cert, PrivateKey: key}, nil
}
