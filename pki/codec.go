package pki

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/youmark/pkcs8"

	"github.com/jmcleod/localtrust/internal/util"
)

// PEM block types.
const (
	pemTypeCertificate         = "CERTIFICATE"
	pemTypeRSAPrivateKey       = "RSA PRIVATE KEY"
	pemTypePrivateKey          = "PRIVATE KEY"
	pemTypeEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
)

// File permissions.
const (
	dirPerms     = 0o700
	keyFilePerms = 0o600
	certPerms    = 0o644
)

// ---------------------------------------------------------------------------
// In-memory PEM encoding
// ---------------------------------------------------------------------------

// EncodeCertificatePEM returns cert as a PEM "CERTIFICATE" block.
func EncodeCertificatePEM(cert *x509.Certificate) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: cert.Raw}))
}

// EncodePrivateKeyPEM returns key as an unencrypted PKCS#1 "RSA PRIVATE KEY"
// block.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) string {
	der := x509.MarshalPKCS1PrivateKey(key)
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypeRSAPrivateKey, Bytes: der}))
}

// EncodeEncryptedPrivateKeyPEM encrypts key with passphrase and returns it as
// a PKCS#8 "ENCRYPTED PRIVATE KEY" block.
func EncodeEncryptedPrivateKeyPEM(key *rsa.PrivateKey, passphrase []byte) (string, error) {
	der, err := pkcs8.MarshalPrivateKey(key, passphrase, nil)
	if err != nil {
		return "", fmt.Errorf("encrypting private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypeEncryptedPrivateKey, Bytes: der})), nil
}

// DecodeCertificatePEM parses the first PEM block of data as a certificate.
func DecodeCertificatePEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypeCertificate {
		return nil, ErrInvalidPEM
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return cert, nil
}

// DecodePrivateKeyPEM parses the first PEM block of data as an RSA private
// key. Encrypted PKCS#8 blocks need passphrase; plaintext blocks ignore it.
func DecodePrivateKeyPEM(data []byte, passphrase []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidPEM)
	}

	switch block.Type {
	case pemTypeRSAPrivateKey:
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		return key, nil

	case pemTypePrivateKey:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		return asRSA(key)

	case pemTypeEncryptedPrivateKey:
		if len(passphrase) == 0 {
			return nil, ErrPassphraseRequired
		}
		key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, passphrase)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptPrivateKey, err)
		}
		return asRSA(key)

	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPEM, block.Type)
	}
}

func asRSA(key any) (*rsa.PrivateKey, error) {
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	return rsaKey, nil
}

// KeyMatchesCertificate returns ErrKeyMismatch unless key is the private half
// of cert's public key.
func KeyMatchesCertificate(key *rsa.PrivateKey, cert *x509.Certificate) error {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: certificate public key is %T", ErrUnsupportedKey, cert.PublicKey)
	}
	if !key.PublicKey.Equal(pub) {
		return ErrKeyMismatch
	}
	return nil
}

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

// SavePrivateKey writes key to path, encrypted with passphrase when one is
// given. Missing parent directories are created and an existing file is
// replaced.
func SavePrivateKey(path string, key *rsa.PrivateKey, passphrase []byte) error {
	data, err := encodeKeyFile(key, passphrase)
	if err != nil {
		return err
	}
	defer util.WipeBytes(data)
	return writeFile(path, data, keyFilePerms)
}

// SaveIssued writes the certificate and key of issued to certPath and
// keyPath. Both files are fully written to temporary files before either is
// renamed into place, so a failed write leaves the previous pair untouched.
func SaveIssued(certPath, keyPath string, issued *Issued, passphrase []byte) error {
	keyData, err := encodeKeyFile(issued.PrivateKey, passphrase)
	if err != nil {
		return err
	}
	defer util.WipeBytes(keyData)

	certTmp, err := stageFile(certPath, []byte(EncodeCertificatePEM(issued.Certificate)), certPerms)
	if err != nil {
		return err
	}
	keyTmp, err := stageFile(keyPath, keyData, keyFilePerms)
	if err != nil {
		os.Remove(certTmp)
		return err
	}

	if err := os.Rename(keyTmp, keyPath); err != nil {
		os.Remove(keyTmp)
		os.Remove(certTmp)
		return fmt.Errorf("rename %s -> %s: %w", keyTmp, keyPath, err)
	}
	if err := os.Rename(certTmp, certPath); err != nil {
		os.Remove(certTmp)
		return fmt.Errorf("rename %s -> %s: %w", certTmp, certPath, err)
	}
	return nil
}

func encodeKeyFile(key *rsa.PrivateKey, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return []byte(EncodePrivateKeyPEM(key)), nil
	}
	encoded, err := EncodeEncryptedPrivateKeyPEM(key, passphrase)
	if err != nil {
		return nil, err
	}
	return []byte(encoded), nil
}

// LoadPrivateKey reads an RSA private key from path. found is false, with a
// nil error, when the file does not exist. A file that exists but cannot be
// decoded or decrypted is an error.
func LoadPrivateKey(path string, passphrase []byte) (key *rsa.PrivateKey, found bool, err error) {
	data, found, err := readFile(path)
	if err != nil || !found {
		return nil, found, err
	}
	key, err = DecodePrivateKeyPEM(data, passphrase)
	if err != nil {
		return nil, true, fmt.Errorf("load key %s: %w", path, err)
	}
	return key, true, nil
}

// SaveCertificate writes cert to path as PEM, creating parent directories
// and replacing any existing file.
func SaveCertificate(path string, cert *x509.Certificate) error {
	return writeFile(path, []byte(EncodeCertificatePEM(cert)), certPerms)
}

// LoadCertificate reads a PEM certificate from path with the same
// absent-versus-error semantics as LoadPrivateKey.
func LoadCertificate(path string) (cert *x509.Certificate, found bool, err error) {
	data, found, err := readFile(path)
	if err != nil || !found {
		return nil, found, err
	}
	cert, err = DecodeCertificatePEM(data)
	if err != nil {
		return nil, true, fmt.Errorf("load certificate %s: %w", path, err)
	}
	return cert, true, nil
}

func readFile(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	return data, true, nil
}

func writeFile(path string, data []byte, perm os.FileMode) error {
	tmp, err := stageFile(path, data, perm)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// stageFile writes data to a new uniquely named file next to path with
// exactly perm and returns its name. Leftovers from earlier runs are never
// reused.
func stageFile(path string, data []byte, perm os.FileMode) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", path, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temporary file for %s: %w", path, err)
	}
	name := f.Name()
	fail := func(err error) (string, error) {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write %s: %w", name, err)
	}

	if err := f.Chmod(perm); err != nil {
		return fail(err)
	}
	if _, err := f.Write(data); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return name, nil
}
