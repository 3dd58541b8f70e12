package trustchain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmcleod/localtrust/pki"
)

// ErrInvalidSettings is returned by Settings.Validate and New when the merged
// configuration cannot produce a usable chain.
var ErrInvalidSettings = errors.New("invalid trust chain settings")

// Defaults applied by Options.WithDefaults.
const (
	DefaultDirName      = ".local-trust-chain"
	DefaultCAFilename   = "local-ca"
	DefaultCertFilename = "local"
	DefaultKeySize      = pki.KeySize2048
	DefaultValidityDays = 730
)

// CAOptions is the caller-supplied, partial CA configuration. Zero values
// mean "use the default".
type CAOptions struct {
	Filename     string `mapstructure:"filename"`
	KeySize      int    `mapstructure:"key-size"`
	ValidityDays int    `mapstructure:"validity"`
	SaveToDisc   *bool  `mapstructure:"save-to-disc"`

	// Passphrase encrypts the CA private key on disk. New writes keys with
	// its NFKD form and moves it into protected memory; it never appears in
	// Settings. A key that does not decrypt with the NFKD form is retried
	// with the passphrase as given, so keys encrypted by other tools with a
	// precomposed passphrase still load.
	Passphrase string `mapstructure:"passphrase"`
}

// CertOptions is the caller-supplied, partial leaf configuration.
type CertOptions struct {
	Filename              string `mapstructure:"filename"`
	KeySize               int    `mapstructure:"key-size"`
	ValidityDays          int    `mapstructure:"validity"`
	SaveToDisc            *bool  `mapstructure:"save-to-disc"`
	VerifySubjectAltNames *bool  `mapstructure:"verify-san"`
}

// Options is a partial configuration merged over DefaultSettings.
type Options struct {
	Path string      `mapstructure:"path"`
	CA   CAOptions   `mapstructure:"ca"`
	Cert CertOptions `mapstructure:"cert"`
}

// CASettings is the resolved CA configuration.
type CASettings struct {
	Filename     string `json:"filename"`
	KeySize      int    `json:"key_size"`
	ValidityDays int    `json:"validity_days"`
	SaveToDisc   bool   `json:"save_to_disc"`
	Encrypted    bool   `json:"encrypted"`
}

// CertSettings is the resolved leaf configuration.
type CertSettings struct {
	Filename              string `json:"filename"`
	KeySize               int    `json:"key_size"`
	ValidityDays          int    `json:"validity_days"`
	SaveToDisc            bool   `json:"save_to_disc"`
	VerifySubjectAltNames bool   `json:"verify_subject_alt_names"`
}

// Settings is the immutable configuration of one Chain.
type Settings struct {
	Path string       `json:"path"`
	CA   CASettings   `json:"ca"`
	Cert CertSettings `json:"cert"`
}

// DefaultSettings returns the built-in configuration rooted in the user's
// home directory.
func DefaultSettings() Settings {
	return Settings{
		Path: defaultPath(),
		CA: CASettings{
			Filename:     DefaultCAFilename,
			KeySize:      DefaultKeySize,
			ValidityDays: DefaultValidityDays,
			SaveToDisc:   true,
		},
		Cert: CertSettings{
			Filename:              DefaultCertFilename,
			KeySize:               DefaultKeySize,
			ValidityDays:          DefaultValidityDays,
			SaveToDisc:            false,
			VerifySubjectAltNames: true,
		},
	}
}

func defaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDirName
	}
	return filepath.Join(home, DefaultDirName)
}

// WithDefaults merges o over DefaultSettings. A leading "~/" in Path is
// expanded to the home directory.
func (o Options) WithDefaults() Settings {
	s := DefaultSettings()

	if o.Path != "" {
		s.Path = expandHome(o.Path)
	}

	if o.CA.Filename != "" {
		s.CA.Filename = o.CA.Filename
	}
	if o.CA.KeySize != 0 {
		s.CA.KeySize = o.CA.KeySize
	}
	if o.CA.ValidityDays != 0 {
		s.CA.ValidityDays = o.CA.ValidityDays
	}
	if o.CA.SaveToDisc != nil {
		s.CA.SaveToDisc = *o.CA.SaveToDisc
	}
	s.CA.Encrypted = o.CA.Passphrase != ""

	if o.Cert.Filename != "" {
		s.Cert.Filename = o.Cert.Filename
	}
	if o.Cert.KeySize != 0 {
		s.Cert.KeySize = o.Cert.KeySize
	}
	if o.Cert.ValidityDays != 0 {
		s.Cert.ValidityDays = o.Cert.ValidityDays
	}
	if o.Cert.SaveToDisc != nil {
		s.Cert.SaveToDisc = *o.Cert.SaveToDisc
	}
	if o.Cert.VerifySubjectAltNames != nil {
		s.Cert.VerifySubjectAltNames = *o.Cert.VerifySubjectAltNames
	}

	return s
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate reports the first problem that would stop a chain from being
// built with s.
func (s Settings) Validate() error {
	switch {
	case s.Path == "":
		return fmt.Errorf("%w: storage path is empty", ErrInvalidSettings)
	case s.CA.Filename == "":
		return fmt.Errorf("%w: ca filename is empty", ErrInvalidSettings)
	case s.Cert.Filename == "":
		return fmt.Errorf("%w: cert filename is empty", ErrInvalidSettings)
	case s.CA.Filename == s.Cert.Filename:
		return fmt.Errorf("%w: ca and cert share the filename %q", ErrInvalidSettings, s.CA.Filename)
	case strings.ContainsRune(s.CA.Filename, os.PathSeparator), strings.ContainsRune(s.Cert.Filename, os.PathSeparator):
		return fmt.Errorf("%w: filenames must not contain a path separator", ErrInvalidSettings)
	case !pki.ValidKeySize(s.CA.KeySize):
		return fmt.Errorf("%w: ca key size %d is not 2048 or 4096", ErrInvalidSettings, s.CA.KeySize)
	case !pki.ValidKeySize(s.Cert.KeySize):
		return fmt.Errorf("%w: cert key size %d is not 2048 or 4096", ErrInvalidSettings, s.Cert.KeySize)
	case s.CA.ValidityDays < 1:
		return fmt.Errorf("%w: ca validity must be at least one day", ErrInvalidSettings)
	case s.Cert.ValidityDays < 1:
		return fmt.Errorf("%w: cert validity must be at least one day", ErrInvalidSettings)
	}
	return nil
}
