package trustchain

import (
	"crypto/x509"
	"net"
	"time"

	"go.uber.org/zap"
)

// AddressSource lists the IPv4 addresses a leaf certificate must cover.
type AddressSource func() ([]net.IP, error)

// Recorder is told about every certificate a Chain creates. kind is "ca" or
// "cert"; persisted reports whether the material was written to disk.
type Recorder interface {
	RecordIssuance(kind string, cert *x509.Certificate, persisted bool) error
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(c *Chain) {
		c.logger = l
	}
}

// WithClock replaces time.Now for validity checks and NotBefore.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) {
		c.now = now
	}
}

// WithAddressSource replaces the local interface enumeration used for
// subjectAltName IP entries.
func WithAddressSource(src AddressSource) Option {
	return func(c *Chain) {
		c.addresses = src
	}
}

// WithUserName sets the name used in certificate subjects instead of the
// current OS user.
func WithUserName(name string) Option {
	return func(c *Chain) {
		c.userName = name
	}
}

// WithRecorder registers r to be told about created certificates.
func WithRecorder(r Recorder) Option {
	return func(c *Chain) {
		c.recorder = r
	}
}
