package queue

import "errors"

var (
	// ErrFeeExceedsMaximum is returned when a proposal's fee is above
	// the configured ceiling.
	ErrFeeExceedsMaximum = errors.New("fee exceeds maximum")

	// ErrFeeBelowMinimum is returned when the fee is under the current
	// occupancy-based floor.
	ErrFeeBelowMinimum = errors.New("fee below required minimum")

	// ErrMissingBond is returned when admission requires a bond and the
	// proposal carries none, or a zero one.
	ErrMissingBond = errors.New("bond missing or zero")

	// ErrGracePeriodActive is returned when the eviction victim was
	// admitted too recently to be displaced.
	ErrGracePeriodActive = errors.New("eviction victim still in grace period")

	// ErrFeeTooLowToEvict is returned when the newcomer does not
	// strictly outrank the cheapest evictable entry. Ties never evict.
	ErrFeeTooLowToEvict = errors.New("fee too low to evict")

	// ErrQueueFull is returned when the queue is at capacity and no
	// evictable entry exists.
	ErrQueueFull = errors.New("queue full with no evictable entry")

	// ErrAlreadyQueued is returned when a proposal id is already
	// present.
	ErrAlreadyQueued = errors.New("proposal already queued")

	// ErrProposalNotFound is returned when the target id is not in the
	// queue (e.g. a second cancel of the same entry).
	ErrProposalNotFound = errors.New("proposal not found")

	// ErrNotAtTop is returned when timeout eviction targets an entry
	// that is not the current queue maximum.
	ErrNotAtTop = errors.New("proposal is not at the top of the queue")

	// ErrNotTimedOut is returned when the top entry has not yet
	// exceeded the maximum top wait.
	ErrNotTimedOut = errors.New("proposal has not timed out")
)
