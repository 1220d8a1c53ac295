// Package money carries every on-ledger amount as an unbounded integer
// (spec.md §9: "all on-ledger amounts are unbounded integers; the core must
// use a big-integer type end to end"). Amounts are compared by value, never
// by the textual form the store or the ledger happen to use.
package money

import (
	"fmt"
	"math/big"
)

// Amount wraps a *big.Int so nil is never a valid zero value by accident —
// callers get Zero() instead of a bare &big.Int{} scattered everywhere.
type Amount struct {
	v *big.Int
}

// Zero returns the additive identity.
func Zero() Amount { return Amount{v: big.NewInt(0)} }

// FromString parses a base-10 decimal string, as stored in the Escrow
// mirror's `amount` column and returned by LedgerClient.readEscrow.
func FromString(s string) (Amount, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("money: invalid decimal amount %q", s)
	}
	return Amount{v: v}, nil
}

// FromInt64 builds an Amount from a native integer (test fixtures, small
// fee constants).
func FromInt64(n int64) Amount { return Amount{v: big.NewInt(n)} }

// String renders the canonical base-10 decimal form for storage.
func (a Amount) String() string {
	if a.v == nil {
		return "0"
	}
	return a.v.String()
}

// BigInt returns the underlying *big.Int. Callers must not mutate it.
func (a Amount) BigInt() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return a.v
}

// Cmp compares by value: -1, 0, +1.
func (a Amount) Cmp(b Amount) int { return a.BigInt().Cmp(b.BigInt()) }

// Sign returns -1, 0, or +1.
func (a Amount) Sign() int { return a.BigInt().Sign() }

// Add returns a+b without mutating either operand.
func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.BigInt(), b.BigInt())}
}

// Sub returns a-b without mutating either operand.
func (a Amount) Sub(b Amount) Amount {
	return Amount{v: new(big.Int).Sub(a.BigInt(), b.BigInt())}
}

// MulBps returns floor(a * bps / 10000) — the basis-point multiply used for
// fee and discount computation (spec.md §3, §4.3).
func (a Amount) MulBps(bps int64) Amount {
	num := new(big.Int).Mul(a.BigInt(), big.NewInt(bps))
	return Amount{v: num.Div(num, big.NewInt(10000))}
}

// CeilDiv10000Over returns ceil(10000 / bps) as an Amount — the
// minimum_escrow_amount derivation (spec.md §4.3, §9): the smallest amount
// whose fee, floor(amount * bps / 10000), is at least 1.
func CeilDiv10000Over(bps int64) Amount {
	if bps <= 0 {
		return Amount{v: big.NewInt(0)}
	}
	ten := big.NewInt(10000)
	b := big.NewInt(bps)
	q := new(big.Int).Add(ten, new(big.Int).Sub(b, big.NewInt(1)))
	q.Div(q, b)
	return Amount{v: q}
}
