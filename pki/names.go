package pki

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"
)

// Attribute is a single subject or issuer attribute, e.g. {"CN", "localhost"}.
type Attribute struct {
	ShortName string `json:"short_name"`
	Value     string `json:"value"`
}

// Name is an ordered list of attributes. The order is preserved when the name
// is encoded into a certificate.
type Name []Attribute

var attributeOIDs = map[string]asn1.ObjectIdentifier{
	"CN": {2, 5, 4, 3},
	"C":  {2, 5, 4, 6},
	"L":  {2, 5, 4, 7},
	"ST": {2, 5, 4, 8},
	"O":  {2, 5, 4, 10},
	"OU": {2, 5, 4, 11},
}

func shortNameForOID(oid asn1.ObjectIdentifier) (string, bool) {
	for short, known := range attributeOIDs {
		if known.Equal(oid) {
			return short, true
		}
	}
	return "", false
}

// PKIX converts n into a pkix.Name whose RDN sequence contains exactly the
// attributes of n, in order.
func (n Name) PKIX() (pkix.Name, error) {
	var name pkix.Name
	for _, attr := range n {
		oid, ok := attributeOIDs[strings.ToUpper(attr.ShortName)]
		if !ok {
			return pkix.Name{}, fmt.Errorf("unknown attribute short name %q", attr.ShortName)
		}
		name.ExtraNames = append(name.ExtraNames, pkix.AttributeTypeAndValue{Type: oid, Value: attr.Value})
	}
	return name, nil
}

// String renders n as "O=alice, OU=alice, CN=alice local-ca".
func (n Name) String() string {
	parts := make([]string, 0, len(n))
	for _, attr := range n {
		parts = append(parts, attr.ShortName+"="+attr.Value)
	}
	return strings.Join(parts, ", ")
}

// NameFromPKIX recovers the ordered attribute list of a parsed name.
// Attributes with an unknown type are skipped.
func NameFromPKIX(name pkix.Name) Name {
	var n Name
	for _, atv := range name.Names {
		short, ok := shortNameForOID(atv.Type)
		if !ok {
			continue
		}
		value, _ := atv.Value.(string)
		n = append(n, Attribute{ShortName: short, Value: value})
	}
	return n
}

// Equal reports whether n and other hold the same attributes in the same order.
func (n Name) Equal(other Name) bool {
	if len(n) != len(other) {
		return false
	}
	for i := range n {
		if !strings.EqualFold(n[i].ShortName, other[i].ShortName) || n[i].Value != other[i].Value {
			return false
		}
	}
	return true
}
