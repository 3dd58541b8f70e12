// Package trustchain maintains a local development trust chain: one
// self-signed CA and one leaf certificate it issues for localhost and the
// machine's IPv4 addresses.
//
// New loads whatever exists under the configured directory, decides per
// element whether it can be reused, creates what cannot and persists it. The
// directory is not locked; run at most one Chain per directory at a time.
package trustchain

import (
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/awnumar/memguard"
	"go.uber.org/zap"

	"github.com/jmcleod/localtrust/internal/hostinfo"
	"github.com/jmcleod/localtrust/internal/util"
	"github.com/jmcleod/localtrust/pki"
)

// Element kinds, used in logs and issuance records.
const (
	KindCA   = "ca"
	KindCert = "cert"
)

// LocalhostName is always present in the leaf's subjectAltName.
const LocalhostName = "localhost"

// Chain is a constructed trust chain. It is immutable after New returns.
type Chain struct {
	settings   Settings
	paths      Paths
	passphrase *memguard.Enclave
	// rawPassphrase is set only when normalisation changed the passphrase.
	rawPassphrase *memguard.Enclave

	logger    *zap.Logger
	now       func() time.Time
	addresses AddressSource
	userName  string
	recorder  Recorder

	ca        *pki.Issued
	cert      *pki.Issued
	caState   State
	certState State
}

// Init builds a chain with opts and returns its bundle.
func Init(opts Options, options ...Option) (Bundle, error) {
	c, err := New(opts, options...)
	if err != nil {
		return Bundle{}, err
	}
	return c.Bundle(), nil
}

// New merges opts over the defaults and brings the chain on disk into a
// usable state. Absent or invalid material is regenerated; material that
// exists but cannot be read (corrupt PEM, wrong passphrase, key not matching
// its certificate) is an error and is left untouched.
func New(opts Options, options ...Option) (*Chain, error) {
	settings := opts.WithDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	c := &Chain{
		settings:  settings,
		paths:     PathsFor(settings),
		logger:    zap.NewNop(),
		now:       time.Now,
		addresses: hostinfo.IPv4Addresses,
	}
	for _, o := range options {
		o(c)
	}

	if opts.CA.Passphrase != "" {
		normalised := util.Normalize(opts.CA.Passphrase)
		c.passphrase = memguard.NewEnclave([]byte(normalised))
		if normalised != opts.CA.Passphrase {
			c.rawPassphrase = memguard.NewEnclave([]byte(opts.CA.Passphrase))
		}
	}

	if c.userName == "" {
		name, err := hostinfo.UserName()
		if err != nil {
			return nil, err
		}
		c.userName = name
	}

	if err := c.establishCA(); err != nil {
		return nil, fmt.Errorf("ca: %w", err)
	}
	if err := c.establishCert(); err != nil {
		return nil, fmt.Errorf("cert: %w", err)
	}
	return c, nil
}

// Settings returns the resolved configuration. It never carries the
// passphrase.
func (c *Chain) Settings() Settings { return c.settings }

// Paths returns the file locations of the chain.
func (c *Chain) Paths() Paths { return c.paths }

// CAState reports what happened to the CA during construction.
func (c *Chain) CAState() State { return c.caState }

// CertState reports what happened to the leaf during construction.
func (c *Chain) CertState() State { return c.certState }

// CACertificate returns the CA certificate in use.
func (c *Chain) CACertificate() *x509.Certificate { return c.ca.Certificate }

// Certificate returns the leaf certificate in use.
func (c *Chain) Certificate() *x509.Certificate { return c.cert.Certificate }

// Bundle returns the CA certificate, leaf certificate and leaf key as PEM.
func (c *Chain) Bundle() Bundle {
	return Bundle{
		CA:   c.ca.CertificatePEM(),
		Cert: c.cert.CertificatePEM(),
		Key:  c.cert.PrivateKeyPEM(),
	}
}

// ---------------------------------------------------------------------------
// CA
// ---------------------------------------------------------------------------

func (c *Chain) establishCA() error {
	loaded, state, err := c.loadCA()
	if err != nil {
		return err
	}
	c.logger.Debug("evaluated chain element",
		zap.String("element", KindCA),
		zap.Stringer("state", state),
		zap.String("path", c.paths.CACert))

	if state == Valid {
		c.ca, c.caState = loaded, Valid
		return nil
	}

	issued, err := pki.CreateCertificate(c.caProfile())
	if err != nil {
		return err
	}
	if c.settings.CA.SaveToDisc {
		if err := c.persistCA(issued); err != nil {
			return err
		}
	}
	c.ca, c.caState = issued, Created
	c.logCreated(KindCA, issued.Certificate, c.settings.CA.SaveToDisc, c.paths.CACert)
	return c.record(KindCA, issued.Certificate, c.settings.CA.SaveToDisc)
}

func (c *Chain) loadCA() (*pki.Issued, State, error) {
	cert, certFound, err := pki.LoadCertificate(c.paths.CACert)
	if err != nil {
		return nil, Absent, err
	}

	key, keyFound, err := c.loadCAKey()
	if err != nil {
		return nil, Absent, err
	}

	if !certFound || !keyFound {
		return nil, Absent, nil
	}
	usable := cert.IsCA && pki.Validity(cert, c.now())
	if err := pki.KeyMatchesCertificate(key, cert); err != nil {
		if usable {
			return nil, Absent, fmt.Errorf("%s: %w", c.paths.CAKey, err)
		}
		c.warnMismatch(KindCA, c.paths.CAKey)
		return nil, Invalid, nil
	}

	loaded := &pki.Issued{Certificate: cert, PrivateKey: key}
	if !usable {
		return loaded, Invalid, nil
	}
	return loaded, Valid, nil
}

// loadCAKey decrypts the CA key with the normalised passphrase and falls back
// to the passphrase as given, for keys encrypted by other tools.
func (c *Chain) loadCAKey() (*rsa.PrivateKey, bool, error) {
	var key *rsa.PrivateKey
	var found bool
	load := func(passphrase []byte) error {
		var err error
		key, found, err = pki.LoadPrivateKey(c.paths.CAKey, passphrase)
		return err
	}
	err := withEnclave(c.passphrase, load)
	if !errors.Is(err, pki.ErrDecryptPrivateKey) || c.rawPassphrase == nil {
		return key, found, err
	}
	if rawErr := withEnclave(c.rawPassphrase, load); rawErr != nil {
		return nil, true, err
	}
	c.logger.Debug("ca key decrypted with unnormalised passphrase", zap.String("path", c.paths.CAKey))
	return key, true, nil
}

func (c *Chain) persistCA(issued *pki.Issued) error {
	return withEnclave(c.passphrase, func(passphrase []byte) error {
		return pki.SaveIssued(c.paths.CACert, c.paths.CAKey, issued, passphrase)
	})
}

func (c *Chain) caProfile() pki.CertificateOptions {
	return pki.CertificateOptions{
		Subject: pki.Name{
			{ShortName: "O", Value: c.userName},
			{ShortName: "OU", Value: c.userName},
			{ShortName: "CN", Value: c.userName + " " + c.settings.CA.Filename},
		},
		KeySize:      c.settings.CA.KeySize,
		ValidityDays: c.settings.CA.ValidityDays,
		NotBefore:    c.now(),
		Extensions: []pki.Extension{
			pki.BasicConstraints{CA: true, MaxPathLen: 0},
			pki.KeyUsage{Usage: x509.KeyUsageCertSign | x509.KeyUsageCRLSign},
			pki.SubjectKeyIdentifier{},
		},
	}
}

// ---------------------------------------------------------------------------
// Leaf
// ---------------------------------------------------------------------------

func (c *Chain) establishCert() error {
	ips, err := c.addresses()
	if err != nil {
		return fmt.Errorf("collecting local addresses: %w", err)
	}

	loaded, state, err := c.loadCert(ips)
	if err != nil {
		return err
	}
	c.logger.Debug("evaluated chain element",
		zap.String("element", KindCert),
		zap.Stringer("state", state),
		zap.String("path", c.paths.Cert))

	if state == Valid {
		c.cert, c.certState = loaded, Valid
		return nil
	}

	profile, err := c.certProfile(ips)
	if err != nil {
		return err
	}
	issued, err := pki.CreateCertificate(profile)
	if err != nil {
		return err
	}
	if c.settings.Cert.SaveToDisc {
		if err := pki.SaveIssued(c.paths.Cert, c.paths.CertKey, issued, nil); err != nil {
			return err
		}
	}
	c.cert, c.certState = issued, Created
	c.logCreated(KindCert, issued.Certificate, c.settings.Cert.SaveToDisc, c.paths.Cert)
	return c.record(KindCert, issued.Certificate, c.settings.Cert.SaveToDisc)
}

func (c *Chain) loadCert(ips []net.IP) (*pki.Issued, State, error) {
	cert, certFound, err := pki.LoadCertificate(c.paths.Cert)
	if err != nil {
		return nil, Absent, err
	}
	key, keyFound, err := pki.LoadPrivateKey(c.paths.CertKey, nil)
	if err != nil {
		return nil, Absent, err
	}
	if !certFound || !keyFound {
		return nil, Absent, nil
	}
	reason := c.certInvalidReason(cert, ips)
	if err := pki.KeyMatchesCertificate(key, cert); err != nil {
		if reason == "" {
			return nil, Absent, fmt.Errorf("%s: %w", c.paths.CertKey, err)
		}
		c.warnMismatch(KindCert, c.paths.CertKey)
		return nil, Invalid, nil
	}

	loaded := &pki.Issued{Certificate: cert, PrivateKey: key}
	if reason != "" {
		c.logger.Info("leaf certificate cannot be reused",
			zap.String("element", KindCert),
			zap.String("reason", reason),
			zap.String("path", c.paths.Cert))
		return loaded, Invalid, nil
	}
	return loaded, Valid, nil
}

// certInvalidReason returns why cert cannot be reused with the current CA, or
// the empty string when it can.
func (c *Chain) certInvalidReason(cert *x509.Certificate, ips []net.IP) string {
	switch {
	case c.caState == Created:
		return "ca was recreated"
	case !pki.Validity(cert, c.now()):
		return "outside validity window"
	case cert.CheckSignatureFrom(c.ca.Certificate) != nil:
		return "not signed by the current ca"
	}
	if c.settings.Cert.VerifySubjectAltNames {
		if missing := pki.MissingSubjectAltNames(cert, []string{LocalhostName}, ips); len(missing) > 0 {
			return fmt.Sprintf("subjectAltName misses %v", missing)
		}
	}
	return ""
}

func (c *Chain) certProfile(ips []net.IP) (pki.CertificateOptions, error) {
	akid, err := pki.KeyIdentifier(c.ca.Certificate.PublicKey)
	if err != nil {
		return pki.CertificateOptions{}, err
	}

	sanIPs := make([]net.IP, 0, len(ips))
	for _, ip := range ips {
		sanIPs = append(sanIPs, net.IP(util.CopyBytes(ip)))
	}

	return pki.CertificateOptions{
		Subject: pki.Name{
			{ShortName: "O", Value: c.userName + " local-dev"},
			{ShortName: "OU", Value: c.userName},
		},
		Parent:       c.ca.Certificate,
		SigningKey:   c.ca.PrivateKey,
		KeySize:      c.settings.Cert.KeySize,
		ValidityDays: c.settings.Cert.ValidityDays,
		NotBefore:    c.now(),
		Extensions: []pki.Extension{
			pki.BasicConstraints{CA: false},
			pki.KeyUsage{Usage: x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment},
			pki.ExtKeyUsage{Usage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}},
			pki.AuthorityKeyIdentifier{KeyID: akid},
			pki.SubjectAltName{DNSNames: []string{LocalhostName}, IPAddresses: sanIPs},
		},
	}, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// withEnclave runs fn with the secret opened from e, or with nil when e is
// nil. The plaintext is destroyed when fn returns.
func withEnclave(e *memguard.Enclave, fn func(secret []byte) error) error {
	if e == nil {
		return fn(nil)
	}
	buf, err := e.Open()
	if err != nil {
		return fmt.Errorf("opening passphrase enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// warnMismatch logs a key that does not belong to a certificate which is
// being replaced anyway, as left behind by an interrupted write.
func (c *Chain) warnMismatch(kind, path string) {
	c.logger.Warn("key does not match an unusable certificate, replacing both",
		zap.String("element", kind),
		zap.String("path", path))
}

func (c *Chain) logCreated(kind string, cert *x509.Certificate, persisted bool, path string) {
	c.logger.Info("created certificate",
		zap.String("element", kind),
		zap.Stringer("state", Created),
		zap.String("serial", cert.SerialNumber.Text(16)),
		zap.Time("not_after", cert.NotAfter),
		zap.Bool("persisted", persisted),
		zap.String("path", path))
}

func (c *Chain) record(kind string, cert *x509.Certificate, persisted bool) error {
	if c.recorder == nil {
		return nil
	}
	if err := c.recorder.RecordIssuance(kind, cert, persisted); err != nil {
		return fmt.Errorf("recording %s issuance: %w", kind, err)
	}
	return nil
}
