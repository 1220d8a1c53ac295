package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Key is the 32-byte fixed-width representation of an invoice ID on the
// ledger (spec.md §6): the UUID's 16 bytes copied left-aligned, the
// trailing 16 bytes zero.
type Key [32]byte

// EncodeKey converts a canonical UUID invoice ID into its ledger key.
func EncodeKey(invoiceID uuid.UUID) Key {
	var k Key
	copy(k[:16], invoiceID[:])
	return k
}

// DecodeKey recovers the UUID invoice ID from a ledger key. Returns an
// error if the trailing 16 bytes are not all zero, since that would mean
// the key was not produced by EncodeKey.
func DecodeKey(k Key) (uuid.UUID, error) {
	for _, b := range k[16:] {
		if b != 0 {
			return uuid.UUID{}, fmt.Errorf("ledger: key %x has non-zero padding, not a valid invoice key", k)
		}
	}
	var id uuid.UUID
	copy(id[:], k[:16])
	return id, nil
}
