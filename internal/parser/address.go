package parser

import (
	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// AddressKind describes what an extracted address decodes to.
// It is informational only; extraction never filters on it.
type AddressKind string

const (
	AddressPubkey      AddressKind = "pubkey"      // 32 bytes, valid ed25519 point
	AddressOffCurve    AddressKind = "offcurve"    // 32 bytes, not on the curve (PDA-style)
	AddressNonStandard AddressKind = "nonstandard" // decodes to a different length
	AddressNone        AddressKind = "none"
)

// Classify decodes addr and reports its kind.
func Classify(addr string) AddressKind {
	if addr == "" {
		return AddressNone
	}
	decoded, err := base58.Decode(addr)
	if err != nil || len(decoded) != 32 {
		return AddressNonStandard
	}
	if _, err := new(edwards25519.Point).SetBytes(decoded); err != nil {
		return AddressOffCurve
	}
	return AddressPubkey
}
