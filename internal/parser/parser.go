// Package parser extracts structured signals from raw message text.
package parser

import (
	"time"

	"signal-relay/internal/domain"
)

// Base58 alphabet (Bitcoin/Solana): no 0, O, I or l.
const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Typical Solana address length bounds.
const (
	MinAddressLen = 32
	MaxAddressLen = 44
)

var inAlphabet [256]bool

func init() {
	for i := 0; i < len(alphabet); i++ {
		inAlphabet[alphabet[i]] = true
	}
}

// now is replaced in tests.
var now = time.Now

// Parse turns raw message text into a ParsedSignal.
// It never fails; ContractAddress is nil when no qualifying token exists.
func Parse(text string) domain.ParsedSignal {
	sig := domain.ParsedSignal{
		Timestamp: now().UTC(),
		RawText:   text,
	}
	if addr, ok := FindContractAddress(text); ok {
		sig.ContractAddress = &addr
	}
	return sig
}

// FindContractAddress returns the first maximal run of base58 characters
// with length in [MinAddressLen, MaxAddressLen], scanning left to right.
// A run longer than MaxAddressLen is skipped as a whole, never truncated.
func FindContractAddress(text string) (string, bool) {
	i := 0
	for i < len(text) {
		if !inAlphabet[text[i]] {
			i++
			continue
		}
		start := i
		for i < len(text) && inAlphabet[text[i]] {
			i++
		}
		if n := i - start; n >= MinAddressLen && n <= MaxAddressLen {
			return text[start:i], true
		}
	}
	return "", false
}
