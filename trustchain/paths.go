package trustchain

import "path/filepath"

// File extensions of the on-disk layout.
const (
	CertExt = ".crt"
	KeyExt  = ".key"
)

// Paths are the four files a chain reads and writes.
type Paths struct {
	CACert  string `json:"ca_cert"`
	CAKey   string `json:"ca_key"`
	Cert    string `json:"cert"`
	CertKey string `json:"cert_key"`
}

// PathsFor derives the file locations for s: {path}/{filename}{.crt|.key}.
func PathsFor(s Settings) Paths {
	return Paths{
		CACert:  filepath.Join(s.Path, s.CA.Filename+CertExt),
		CAKey:   filepath.Join(s.Path, s.CA.Filename+KeyExt),
		Cert:    filepath.Join(s.Path, s.Cert.Filename+CertExt),
		CertKey: filepath.Join(s.Path, s.Cert.Filename+KeyExt),
	}
}
