package lifecycle

import "errors"

var (
	// ErrSlotLive is returned when activation is attempted while a
	// proposal is already active.
	ErrSlotLive = errors.New("execution slot already live")

	// ErrNothingQueued is returned when activation finds no entry.
	ErrNothingQueued = errors.New("nothing queued to activate")

	// ErrNotSubmitter is returned when a caller acts on an entry they
	// did not submit.
	ErrNotSubmitter = errors.New("caller is not the submitter")

	// ErrNotActive is returned when completion targets an entry that is
	// not the currently active one.
	ErrNotActive = errors.New("proposal is not active")
)
