package types

import "github.com/ethereum/go-ethereum/common"

// EventKind identifies a queue state transition.
type EventKind uint8

const (
	EventQueued EventKind = iota
	EventEvicted
	EventFeeUpdated
	EventActivationTimeout
	EventActivated
	EventCancelled
	EventCompleted
)

func (k EventKind) String() string {
	switch k {
	case EventQueued:
		return "queued"
	case EventEvicted:
		return "evicted"
	case EventFeeUpdated:
		return "fee-updated"
	case EventActivationTimeout:
		return "activation-timeout"
	case EventActivated:
		return "activated"
	case EventCancelled:
		return "cancelled"
	case EventCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// QueueEvent is the structured record emitted on every queue transition,
// consumable by logging and indexing collaborators.
type QueueEvent struct {
	Kind      EventKind      `json:"kind"`
	ID        uint64         `json:"id"`
	Submitter common.Address `json:"submitter"`
	Fee       uint64         `json:"fee"`
	At        uint64         `json:"at"`

	// Counterparty is the actor on the other side of the transition:
	// the evictor on eviction, the caller on timeout cleanup, the
	// activator on activation. Zero otherwise.
	Counterparty common.Address `json:"counterparty,omitempty"`
}
