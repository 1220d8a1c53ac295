package ledger

import (
	"testing"

	"github.com/google/uuid"
)

// TestKeyRoundTrip exercises spec.md §9's requirement: unit-test the
// UUID<->32-byte codec round trip on 10^4 random UUIDs.
func TestKeyRoundTrip(t *testing.T) {
	const n = 10000
	for i := 0; i < n; i++ {
		want := uuid.New()
		k := EncodeKey(want)

		for _, b := range k[16:] {
			if b != 0 {
				t.Fatalf("iteration %d: padding byte non-zero in key %x", i, k)
			}
		}

		got, err := DecodeKey(k)
		if err != nil {
			t.Fatalf("iteration %d: DecodeKey: %v", i, err)
		}
		if got != want {
			t.Fatalf("iteration %d: round trip mismatch: want %s got %s", i, want, got)
		}
	}
}

func TestDecodeKeyRejectsNonZeroPadding(t *testing.T) {
	var k Key
	id := uuid.New()
	copy(k[:16], id[:])
	k[31] = 0x01
	if _, err := DecodeKey(k); err == nil {
		t.Fatal("expected error decoding a key with non-zero padding")
	}
}
