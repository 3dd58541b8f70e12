package trustchain

// State is the outcome of evaluating one element of the chain.
type State int

const (
	// Absent means the certificate or its key was not on disk.
	Absent State = iota

	// Invalid means the material was loaded but cannot be reused: it is
	// outside its validity window, no longer chains to the CA, or misses a
	// required subjectAltName.
	Invalid

	// Valid means the loaded material is reused as-is.
	Valid

	// Created means new material was generated during this construction.
	Created
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Invalid:
		return "invalid"
	case Valid:
		return "valid"
	case Created:
		return "created"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
