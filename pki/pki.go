// Package pki provides the certificate primitives used by localtrust: RSA key
// and X.509 certificate creation, PEM encoding and on-disk persistence, serial
// number generation and validity checks. It knows nothing about which
// certificates a trust chain needs; that decision lives in package trustchain.
package pki

import (
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"strings"
	"time"

	"github.com/jmcleod/localtrust/internal/util"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrInvalidPEM is returned when PEM data cannot be decoded or parsed.
	ErrInvalidPEM = errors.New("invalid PEM data")

	// ErrPassphraseRequired is returned when an encrypted private key is
	// loaded without a passphrase.
	ErrPassphraseRequired = errors.New("private key is encrypted and no passphrase was supplied")

	// ErrDecryptPrivateKey is returned when an encrypted private key cannot be
	// decrypted with the supplied passphrase.
	ErrDecryptPrivateKey = errors.New("unable to decrypt private key")

	// ErrUnsupportedKey is returned for private or public keys that are not RSA.
	ErrUnsupportedKey = errors.New("unsupported key type")

	// ErrUnsupportedKeySize is returned when a key size other than 2048 or
	// 4096 bits is requested.
	ErrUnsupportedKeySize = errors.New("unsupported RSA key size")

	// ErrKeyMismatch is returned when a private key does not belong to the
	// certificate it is paired with.
	ErrKeyMismatch = errors.New("private key does not match certificate public key")
)

// Supported RSA key sizes.
const (
	KeySize2048 = 2048
	KeySize4096 = 4096
)

// ValidKeySize reports whether bits is one of the supported RSA key sizes.
func ValidKeySize(bits int) bool {
	return bits == KeySize2048 || bits == KeySize4096
}

// ---------------------------------------------------------------------------
// Certificate summaries
// ---------------------------------------------------------------------------

// Summary is a flattened, printable view of a certificate.
type Summary struct {
	Subject           string    `json:"subject"`
	Issuer            string    `json:"issuer"`
	SerialNumber      string    `json:"serial_number"`
	NotBefore         time.Time `json:"not_before"`
	NotAfter          time.Time `json:"not_after"`
	FingerprintSHA256 string    `json:"fingerprint_sha256"`
	IsCA              bool      `json:"is_ca"`
	DNSNames          []string  `json:"dns_names,omitempty"`
	IPAddresses       []string  `json:"ip_addresses,omitempty"`
}

// Describe extracts a Summary from cert.
func Describe(cert *x509.Certificate) Summary {
	fingerprint := sha256.Sum256(cert.Raw)

	s := Summary{
		Subject:           subjectString(cert.Subject),
		Issuer:            subjectString(cert.Issuer),
		SerialNumber:      util.HexEncode(cert.SerialNumber.Bytes()),
		NotBefore:         cert.NotBefore,
		NotAfter:          cert.NotAfter,
		FingerprintSHA256: util.HexEncode(fingerprint[:]),
		IsCA:              cert.IsCA,
		DNSNames:          cert.DNSNames,
	}
	for _, ip := range cert.IPAddresses {
		s.IPAddresses = append(s.IPAddresses, ip.String())
	}
	return s
}

// subjectString formats a pkix.Name as a readable DN string, keeping the
// attribute order of the encoded name.
func subjectString(name pkix.Name) string {
	var parts []string
	for _, atv := range name.Names {
		short, ok := shortNameForOID(atv.Type)
		if !ok {
			short = atv.Type.String()
		}
		value, _ := atv.Value.(string)
		parts = append(parts, short+"="+value)
	}
	return strings.Join(parts, ", ")
}
