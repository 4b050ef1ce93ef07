package chain

import (
	"errors"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrInvalidHash is returned by NormalizeHash for anything that is not a 32-byte hex hash.
var ErrInvalidHash = errors.New("invalid transaction hash")

// NormalizeHash trims and lowercases s and checks that it is a 64-digit hex hash.
func NormalizeHash(s string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(s))
	if len(h) != chainhash.MaxHashStringSize {
		return "", ErrInvalidHash
	}
	if _, err := chainhash.NewHashFromStr(h); err != nil {
		return "", ErrInvalidHash
	}
	return h, nil
}
