package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// FundingMode records who pays for a proposal's execution. Only
// proposer-funded entries count against queue capacity and may be
// evicted by higher-priority admissions.
type FundingMode uint8

const (
	// FundingProposer means the submitter staked their own resources.
	FundingProposer FundingMode = iota
	// FundingPool means the proposal draws on pooled treasury liquidity.
	// Pool-funded entries are never eviction victims.
	FundingPool
)

func (m FundingMode) String() string {
	switch m {
	case FundingProposer:
		return "proposer"
	case FundingPool:
		return "pool"
	default:
		return "unknown"
	}
}

// Coin is an amount of escrowed value held by a queued proposal.
// It must be explicitly taken before the holding proposal may be
// discarded; silently dropping value is a logic bug, not a runtime
// condition, so violations panic.
type Coin struct {
	amount uint64
}

// NewCoin wraps an escrowed amount.
func NewCoin(amount uint64) *Coin {
	return &Coin{amount: amount}
}

// Amount returns the value held.
func (c *Coin) Amount() uint64 {
	if c == nil {
		return 0
	}
	return c.amount
}

// QueuedProposal is one pending admission request competing for the
// execution slot.
type QueuedProposal struct {
	// ID is unique within the queue. Zero means "not yet stamped";
	// the queue assigns one at insertion.
	ID        uint64
	Submitter common.Address

	// Fee is the priority fee paid for this slot attempt. Score is
	// recomputed, never mutated, whenever Fee changes.
	Fee   uint64
	Score PriorityScore

	Mode FundingMode
	// UsesDAOLiquidity snapshots the access policy at admission time so
	// later policy changes cannot invalidate an in-flight entry.
	UsesDAOLiquidity bool

	// QueueEntryTime anchors grace-period math (unix ms).
	QueueEntryTime uint64
	// TimeReachedTop is stamped once, the first time the entry becomes
	// the queue maximum. Zero means it never has.
	TimeReachedTop uint64

	// Payload is opaque to the queue.
	Title   string
	Payload []byte

	bond   *Coin
	bounty *Coin
}

// NewQueuedProposal builds an entry ready for admission. The queue
// stamps ID, QueueEntryTime, and Score on insert.
func NewQueuedProposal(submitter common.Address, fee uint64, mode FundingMode, title string, payload []byte) *QueuedProposal {
	return &QueuedProposal{
		Submitter: submitter,
		Fee:       fee,
		Mode:      mode,
		Title:     title,
		Payload:   payload,
	}
}

// AttachBond escrows a refundable stake. Overwriting an unresolved bond
// would silently destroy value, so it panics.
func (p *QueuedProposal) AttachBond(c *Coin) {
	if p.bond != nil {
		panic(fmt.Sprintf("proposal %d: bond already attached", p.ID))
	}
	p.bond = c
}

// AttachBounty escrows an optional reward for whoever activates the
// proposal. Panics if a bounty is already held.
func (p *QueuedProposal) AttachBounty(c *Coin) {
	if p.bounty != nil {
		panic(fmt.Sprintf("proposal %d: bounty already attached", p.ID))
	}
	p.bounty = c
}

// HasBond reports whether a bond is currently escrowed.
func (p *QueuedProposal) HasBond() bool { return p.bond != nil }

// BondAmount returns the escrowed bond value, zero if none.
func (p *QueuedProposal) BondAmount() uint64 { return p.bond.Amount() }

// BountyAmount returns the escrowed bounty value, zero if none.
func (p *QueuedProposal) BountyAmount() uint64 { return p.bounty.Amount() }

// TakeBond extracts the bond, leaving the field empty. Returns nil if
// no bond was attached.
func (p *QueuedProposal) TakeBond() *Coin {
	c := p.bond
	p.bond = nil
	return c
}

// TakeBounty extracts the bounty, leaving the field empty.
func (p *QueuedProposal) TakeBounty() *Coin {
	c := p.bounty
	p.bounty = nil
	return c
}

// AssertResolved panics unless both resource fields have been extracted.
// Every terminal transition must call this before the entry is dropped.
func (p *QueuedProposal) AssertResolved() {
	if p.bond != nil {
		panic(fmt.Sprintf("proposal %d discarded with unresolved bond of %d", p.ID, p.bond.Amount()))
	}
	if p.bounty != nil {
		panic(fmt.Sprintf("proposal %d discarded with unresolved bounty of %d", p.ID, p.bounty.Amount()))
	}
}

// MarkReachedTop stamps the first time the entry becomes the queue
// maximum. Idempotent: a second call never overwrites the stamp.
func (p *QueuedProposal) MarkReachedTop(now uint64) {
	if p.TimeReachedTop == 0 {
		p.TimeReachedTop = now
	}
}

// HasTimedOut reports whether the entry has waited at the top for at
// least maxTopWait. Elapsed time saturates at zero if the clock
// regressed below the stamp.
func (p *QueuedProposal) HasTimedOut(now, maxTopWait uint64) bool {
	if p.TimeReachedTop == 0 {
		return false
	}
	var elapsed uint64
	if now > p.TimeReachedTop {
		elapsed = now - p.TimeReachedTop
	}
	return elapsed >= maxTopWait
}

// EvictionRecord describes a proposal displaced by a higher-priority
// admission, so callers can clean up any execution payload tied to it.
type EvictionRecord struct {
	ID        uint64         `json:"id"`
	Submitter common.Address `json:"submitter"`
	Fee       uint64         `json:"fee"`
	Mode      FundingMode    `json:"fundingMode"`
}
