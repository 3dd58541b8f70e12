package pki

import (
	"crypto/x509"
	"net"
	"slices"
	"time"
)

// midnight returns the start of t's calendar day in t's location.
func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Validity reports whether cert is usable on the calendar day of now.
//
// The check works at day granularity in now's location: a certificate stays
// valid for the whole of the day its NotAfter falls on, and one issued
// earlier today counts as valid immediately. Nothing beyond the validity
// window is inspected; see MissingSubjectAltNames for host coverage.
//
// TODO: treat a certificate as stale when its lifetime no longer matches the
// configured validity days.
func Validity(cert *x509.Certificate, now time.Time) bool {
	if cert == nil {
		return false
	}
	today := midnight(now)
	notBefore := midnight(cert.NotBefore.In(now.Location()))
	return !today.Before(notBefore) && !today.After(cert.NotAfter)
}

// IsValid is Validity evaluated against the current local time.
func IsValid(cert *x509.Certificate) bool {
	return Validity(cert, time.Now())
}

// MissingSubjectAltNames returns the DNS names and IP addresses that cert does
// not list in its subjectAltName extension. An empty result means cert covers
// every requested host.
func MissingSubjectAltNames(cert *x509.Certificate, dnsNames []string, ips []net.IP) []string {
	var missing []string
	for _, name := range dnsNames {
		if !slices.Contains(cert.DNSNames, name) {
			missing = append(missing, name)
		}
	}
	for _, ip := range ips {
		if !slices.ContainsFunc(cert.IPAddresses, ip.Equal) {
			missing = append(missing, ip.String())
		}
	}
	return missing
}
