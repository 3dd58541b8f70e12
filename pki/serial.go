package pki

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"

	"github.com/jmcleod/localtrust/internal/util"
)

// serialBytes is the amount of randomness in a serial number. 16 bytes stays
// well inside the 20 octet limit of RFC 5280.
const serialBytes = 16

// RandomSerialHex returns a hex encoded serial number built from serialBytes
// random bytes read from r. The most significant bit is always cleared so the
// DER INTEGER encoding is positive: a leading nibble of 8 or more has 8
// subtracted from it.
func RandomSerialHex(r io.Reader) (string, error) {
	b := make([]byte, serialBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("reading serial number bytes: %w", err)
	}
	s := util.HexEncode(b)

	lead, err := strconv.ParseUint(s[:1], 16, 8)
	if err != nil {
		return "", fmt.Errorf("parsing serial number nibble: %w", err)
	}
	if lead < 8 {
		return s, nil
	}
	return strconv.FormatUint(lead-8, 16) + s[1:], nil
}

// NewSerialNumber returns a fresh random positive serial number.
func NewSerialNumber() (*big.Int, error) {
	s, err := RandomSerialHex(rand.Reader)
	if err != nil {
		return nil, err
	}
	return parseSerialHex(s)
}

func parseSerialHex(s string) (*big.Int, error) {
	b, err := util.HexDecode(s)
	if err != nil {
		return nil, fmt.Errorf("decoding serial number: %w", err)
	}
	return new(big.Int).SetBytes(b), nil
}
