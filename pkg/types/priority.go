package types

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

// ErrFeeTooLarge is returned when a fee exceeds the configured maximum,
// which would allow gaming the composite score.
var ErrFeeTooLarge = errors.New("fee exceeds maximum allowed")

// PriorityScore is a total order over (fee, submission time) pairs,
// collapsed into a single 128-bit comparable value:
//
//	composite = (fee << 64) | (MaxUint64 - submittedAt)
//
// Fee is the primary key; among equal fees the earlier submission wins.
// A score is immutable once constructed; repricing produces a new one.
type PriorityScore struct {
	Fee         uint64
	SubmittedAt uint64

	composite uint256.Int
}

// NewPriorityScore computes the composite score for a (fee, submittedAt)
// pair. maxFee bounds the fee; zero disables the bound.
func NewPriorityScore(fee, submittedAt, maxFee uint64) (PriorityScore, error) {
	if maxFee > 0 && fee > maxFee {
		return PriorityScore{}, ErrFeeTooLarge
	}

	s := PriorityScore{Fee: fee, SubmittedAt: submittedAt}
	s.composite.SetUint64(fee)
	s.composite.Lsh(&s.composite, 64)
	s.composite.Or(&s.composite, uint256.NewInt(math.MaxUint64-submittedAt))
	return s, nil
}

// Cmp returns +1 if s has strictly higher priority than o, -1 if lower,
// and 0 if the scores are identical. The order is total: higher fee wins,
// and among equal fees the earlier submission wins.
func (s PriorityScore) Cmp(o PriorityScore) int {
	return s.composite.Cmp(&o.composite)
}

// Reprice returns a fresh score carrying the original submission time
// but a new fee.
func (s PriorityScore) Reprice(newFee, maxFee uint64) (PriorityScore, error) {
	return NewPriorityScore(newFee, s.SubmittedAt, maxFee)
}

// Composite returns a copy of the raw 128-bit comparison value.
func (s PriorityScore) Composite() *uint256.Int {
	return new(uint256.Int).Set(&s.composite)
}
