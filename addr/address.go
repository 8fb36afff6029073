// Package addr defines the 20-byte account/contract address type shared by
// every layer of the simulator, the way the teacher's core package keeps a
// single Address type at the bottom of its build graph.
package addr

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 20-byte account or contract identifier, always canonicalized
// to lowercase hex with a "0x" prefix when rendered.
type Address [20]byte

// Zero is the sentinel deploy-target address (spec §6.2).
var Zero = Address{}

// Bytes returns the raw 20 bytes.
func (a Address) Bytes() []byte { return a[:] }

// Hex renders the canonical lowercase "0x"-prefixed form.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

// String implements fmt.Stringer as the canonical hex form.
func (a Address) String() string { return a.Hex() }

// IsZero reports whether a equals the zero address.
func (a Address) IsZero() bool { return a == Zero }

// Parse decodes a hex address with or without a "0x" prefix. It accepts
// mixed-case input and canonicalizes to lowercase, matching StateStore's
// "lowercase address canonicalization" rule (spec §4.2).
func Parse(s string) (Address, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("addr: invalid hex %q: %w", s, err)
	}
	if len(b) != 20 {
		return Address{}, fmt.Errorf("addr: expected 20 bytes, got %d", len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// MustParse is Parse for compiled-in constants; it panics on invalid input.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromBytes copies the first 20 bytes of b into a new Address, panicking if
// b is shorter than 20 bytes — callers must ensure the invariant at the
// point the bytes were produced (e.g. a hash truncation).
func FromBytes(b []byte) Address {
	if len(b) < 20 {
		panic(fmt.Sprintf("addr: need at least 20 bytes, got %d", len(b)))
	}
	var a Address
	copy(a[:], b[:20])
	return a
}
