package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/quorumlabs/slotqueue/internal/config"
	"github.com/quorumlabs/slotqueue/internal/fees"
	"github.com/quorumlabs/slotqueue/pkg/types"
)

// Clock supplies the current time in unix milliseconds. It may regress;
// all timing logic saturates rather than underflowing.
type Clock func() uint64

// SystemClock is the default wall-clock source.
func SystemClock() uint64 { return uint64(time.Now().UnixMilli()) }

// MutationAuthority gates every heap-mutating operation to the single
// trusted orchestrator. It is minted exactly once per queue by New and
// cannot be forged: the struct has no exported fields and the queue
// checks pointer identity against its own mint.
type MutationAuthority struct {
	owner *Queue
}

// EvictionHandler resolves a displaced entry's bond and bounty before
// it is discarded. The newcomer's submitter is passed as the evictor.
type EvictionHandler func(victim *types.QueuedProposal, evictor common.Address)

// Queue is the single-slot admission-control queue: an indexed max-heap
// ordered by priority score, with capacity enforcement, grace periods,
// top-of-queue timeouts, and a reservation for the next activation.
//
// All mutation routes through methods taking a MutationAuthority; read
// paths are open to everyone. Each method leaves the heap array, the
// index map, and the occupancy counters mutually consistent before
// returning.
type Queue struct {
	mu   sync.RWMutex
	heap *indexedHeap

	capacity    uint64
	gracePeriod uint64 // ms
	maxTopWait  uint64 // ms
	requireBond bool
	maxFee      uint64
	schedule    *fees.Schedule
	clock       Clock
	onEvict     EvictionHandler
	evictable   uint64
	slotLive    bool
	reserved    uint64 // 0 = none
	idSeq       atomic.Uint64
	feed        event.Feed
	logger      log.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithEvictionHandler installs the hook that resolves an eviction
// victim's escrowed resources.
func WithEvictionHandler(h EvictionHandler) Option {
	return func(q *Queue) { q.onEvict = h }
}

// New creates a queue and mints its one mutation authority.
func New(qcfg *config.QueueConfig, schedule *fees.Schedule, opts ...Option) (*Queue, *MutationAuthority) {
	q := &Queue{
		heap:        newIndexedHeap(int(qcfg.Capacity)),
		capacity:    qcfg.Capacity,
		gracePeriod: uint64(qcfg.GracePeriod.Milliseconds()),
		maxTopWait:  uint64(qcfg.MaxTopWait.Milliseconds()),
		requireBond: qcfg.RequireBond,
		maxFee:      qcfg.MaxFee,
		schedule:    schedule,
		clock:       SystemClock,
		logger:      log.New("module", "queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, &MutationAuthority{owner: q}
}

// verify panics unless auth was minted for this queue. Using a foreign
// or nil authority is caller misuse, not a recoverable condition.
func (q *Queue) verify(auth *MutationAuthority) {
	if auth == nil || auth.owner != q {
		panic("queue: invalid mutation authority")
	}
}

// TryAdmit validates and inserts a proposal, evicting the cheapest
// eligible entry if the queue is at capacity. Returns a record of who
// was evicted, nil when nothing was.
//
// Admission is open to everyone; the eviction victim's resources are
// resolved through the configured EvictionHandler before discard.
func (q *Queue) TryAdmit(p *types.QueuedProposal) (*types.EvictionRecord, error) {
	q.mu.Lock()
	record, evs, err := q.admit(p)
	q.mu.Unlock()

	q.send(evs)
	return record, err
}

func (q *Queue) admit(p *types.QueuedProposal) (*types.EvictionRecord, []types.QueueEvent, error) {
	if q.maxFee > 0 && p.Fee > q.maxFee {
		return nil, nil, ErrFeeExceedsMaximum
	}
	if q.requireBond && p.BondAmount() == 0 {
		return nil, nil, ErrMissingBond
	}
	if p.Fee < q.schedule.MinRequiredFee(q.occupancyPct()) {
		return nil, nil, ErrFeeBelowMinimum
	}
	if p.ID != 0 {
		if _, ok := q.heap.lookup(p.ID); ok {
			return nil, nil, ErrAlreadyQueued
		}
	} else {
		p.ID = q.idSeq.Add(1)
	}

	now := q.clock()
	p.QueueEntryTime = now
	// Snapshot the liquidity policy so later changes cannot invalidate
	// an in-flight entry.
	p.UsesDAOLiquidity = p.Mode == types.FundingPool
	score, err := types.NewPriorityScore(p.Fee, now, q.maxFee)
	if err != nil {
		return nil, nil, ErrFeeExceedsMaximum
	}
	p.Score = score

	var (
		record *types.EvictionRecord
		evs    []types.QueueEvent
	)

	// Pool-funded entries do not consume proposer capacity and never
	// trigger eviction.
	if p.Mode == types.FundingProposer && q.evictable >= q.capacity {
		pos, ok := q.heap.findMinEvictable(func(e *types.QueuedProposal) bool {
			return e.Mode == types.FundingProposer
		})
		if !ok {
			return nil, nil, ErrQueueFull
		}
		victim := q.heap.h.items[pos]

		if saturatingSub(now, victim.QueueEntryTime) < q.gracePeriod {
			return nil, nil, ErrGracePeriodActive
		}
		// Strict improvement required: ties do not evict.
		if p.Score.Cmp(victim.Score) <= 0 {
			return nil, nil, ErrFeeTooLowToEvict
		}

		q.remove(pos)
		if q.onEvict != nil {
			q.onEvict(victim, p.Submitter)
		}
		victim.AssertResolved()

		record = &types.EvictionRecord{
			ID:        victim.ID,
			Submitter: victim.Submitter,
			Fee:       victim.Fee,
			Mode:      victim.Mode,
		}
		evs = append(evs, types.QueueEvent{
			Kind:         types.EventEvicted,
			ID:           victim.ID,
			Submitter:    victim.Submitter,
			Fee:          victim.Fee,
			At:           now,
			Counterparty: p.Submitter,
		})
		q.logger.Info("Proposal evicted",
			"id", victim.ID,
			"fee", victim.Fee,
			"evictorFee", p.Fee,
		)
	}

	q.heap.insert(p)
	if p.Mode == types.FundingProposer {
		q.evictable++
	}
	q.stampTop(now)

	evs = append(evs, types.QueueEvent{
		Kind:      types.EventQueued,
		ID:        p.ID,
		Submitter: p.Submitter,
		Fee:       p.Fee,
		At:        now,
	})
	q.logger.Debug("Proposal queued",
		"id", p.ID,
		"fee", p.Fee,
		"mode", p.Mode.String(),
		"size", q.heap.size(),
	)

	return record, evs, nil
}

// ExtractMax removes and returns the highest-priority entry. Calling it
// on an empty queue is a contract violation and panics; check Size
// first.
func (q *Queue) ExtractMax(auth *MutationAuthority) *types.QueuedProposal {
	q.verify(auth)
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.size() == 0 {
		panic("queue: extract from empty queue")
	}
	p := q.heap.removeAt(0)
	q.noteRemoval(p)
	q.stampTop(q.clock())
	return p
}

// Remove takes an arbitrary entry out of the queue by id. Used by the
// lifecycle layer for cancellation and reserved activation. A missing
// id fails cleanly so repeated cancels cannot corrupt state.
func (q *Queue) Remove(auth *MutationAuthority, id uint64) (*types.QueuedProposal, error) {
	q.verify(auth)
	q.mu.Lock()
	defer q.mu.Unlock()

	pos, ok := q.heap.lookup(id)
	if !ok {
		return nil, ErrProposalNotFound
	}
	p := q.remove(pos)
	q.stampTop(q.clock())
	return p, nil
}

// EvictTimedOut removes the entry with the given id, provided it is the
// current maximum and has exceeded the maximum top wait. The displaced
// entry is returned unresolved for the caller to settle.
func (q *Queue) EvictTimedOut(auth *MutationAuthority, id uint64) (*types.QueuedProposal, error) {
	q.verify(auth)

	q.mu.Lock()
	pos, ok := q.heap.lookup(id)
	if !ok {
		q.mu.Unlock()
		return nil, ErrProposalNotFound
	}
	if pos != 0 {
		q.mu.Unlock()
		return nil, ErrNotAtTop
	}
	now := q.clock()
	p := q.heap.h.items[0]
	if !p.HasTimedOut(now, q.maxTopWait) {
		q.mu.Unlock()
		return nil, ErrNotTimedOut
	}
	q.remove(0)
	q.stampTop(now)
	q.mu.Unlock()

	q.send([]types.QueueEvent{{
		Kind:      types.EventActivationTimeout,
		ID:        p.ID,
		Submitter: p.Submitter,
		Fee:       p.Fee,
		At:        now,
	}})
	return p, nil
}

// BumpFee raises a queued entry's fee. The score is recomputed with the
// original submission time, so a bump never improves the tie-break.
func (q *Queue) BumpFee(auth *MutationAuthority, id uint64, newFee uint64) error {
	q.verify(auth)

	q.mu.Lock()
	pos, ok := q.heap.lookup(id)
	if !ok {
		q.mu.Unlock()
		return ErrProposalNotFound
	}
	p := q.heap.h.items[pos]
	if newFee <= p.Fee {
		q.mu.Unlock()
		return ErrFeeBelowMinimum
	}
	score, err := p.Score.Reprice(newFee, q.maxFee)
	if err != nil {
		q.mu.Unlock()
		return ErrFeeExceedsMaximum
	}
	p.Fee = newFee
	p.Score = score
	q.heap.fix(pos)
	now := q.clock()
	q.stampTop(now)
	q.mu.Unlock()

	q.send([]types.QueueEvent{{
		Kind:      types.EventFeeUpdated,
		ID:        p.ID,
		Submitter: p.Submitter,
		Fee:       newFee,
		At:        now,
	}})
	return nil
}

// SetReserved pre-commits the next activation to the given entry.
// Setting a reservation while one is pending, or reserving an unknown
// id, is caller misuse and panics.
func (q *Queue) SetReserved(auth *MutationAuthority, id uint64) {
	q.verify(auth)
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.reserved != 0 {
		panic("queue: reservation already set")
	}
	if _, ok := q.heap.lookup(id); !ok {
		panic("queue: reservation of unknown proposal")
	}
	q.reserved = id
}

// ClearReserved drops any pending reservation.
func (q *Queue) ClearReserved(auth *MutationAuthority) {
	q.verify(auth)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reserved = 0
}

// Reserved returns the pre-committed next activation, if any.
func (q *Queue) Reserved() (uint64, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.reserved, q.reserved != 0
}

// MarkActivated flags the execution slot as occupied. At most one entry
// may be live at a time; double activation panics.
func (q *Queue) MarkActivated(auth *MutationAuthority) {
	q.verify(auth)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.slotLive {
		panic("queue: slot already live")
	}
	q.slotLive = true
}

// MarkCompleted frees the execution slot.
func (q *Queue) MarkCompleted(auth *MutationAuthority) {
	q.verify(auth)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.slotLive = false
}

// IsSlotLive reports whether an entry is currently active outside the
// queue.
func (q *Queue) IsSlotLive() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.slotLive
}

// Emit publishes a lifecycle event through the queue's feed. Gated so
// only the orchestrator can speak for the queue.
func (q *Queue) Emit(auth *MutationAuthority, ev types.QueueEvent) {
	q.verify(auth)
	q.feed.Send(ev)
}

// SubscribeEvents delivers structured queue events to ch until the
// subscription is closed.
func (q *Queue) SubscribeEvents(ch chan<- types.QueueEvent) event.Subscription {
	return q.feed.Subscribe(ch)
}

// PeekMax returns the highest-priority entry without removing it.
func (q *Queue) PeekMax() (*types.QueuedProposal, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	p := q.heap.peekMax()
	return p, p != nil
}

// PeekMaxID returns the id at the top of the queue.
func (q *Queue) PeekMaxID() (uint64, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if p := q.heap.peekMax(); p != nil {
		return p.ID, true
	}
	return 0, false
}

// Get returns the queued entry with the given id, nil if absent.
func (q *Queue) Get(id uint64) *types.QueuedProposal {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.heap.get(id)
}

// Size returns the number of queued entries.
func (q *Queue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.heap.size()
}

// IsEmpty reports whether nothing is queued.
func (q *Queue) IsEmpty() bool { return q.Size() == 0 }

// EvictableCount returns the number of proposer-funded entries, the
// population bounded by capacity.
func (q *Queue) EvictableCount() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.evictable
}

// MinRequiredFee returns the current occupancy-based fee floor.
func (q *Queue) MinRequiredFee() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.schedule.MinRequiredFee(q.occupancyPct())
}

// WouldAccept reports whether a proposer-funded proposal with the given
// fee would currently be admitted, without mutating anything.
func (q *Queue) WouldAccept(fee uint64) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.maxFee > 0 && fee > q.maxFee {
		return false
	}
	if fee < q.schedule.MinRequiredFee(q.occupancyPct()) {
		return false
	}
	if q.evictable < q.capacity {
		return true
	}

	pos, ok := q.heap.findMinEvictable(func(e *types.QueuedProposal) bool {
		return e.Mode == types.FundingProposer
	})
	if !ok {
		return false
	}
	victim := q.heap.h.items[pos]
	if saturatingSub(q.clock(), victim.QueueEntryTime) < q.gracePeriod {
		return false
	}
	// A newcomer always carries a later timestamp, so at equal fee the
	// victim outranks it; strict fee improvement is required.
	return fee > victim.Fee
}

// Stats is a point-in-time queue summary.
type Stats struct {
	Size           int    `json:"size"`
	Evictable      uint64 `json:"evictable"`
	Capacity       uint64 `json:"capacity"`
	SlotLive       bool   `json:"slotLive"`
	Reserved       uint64 `json:"reserved,omitempty"`
	OccupancyPct   uint64 `json:"occupancyPct"`
	MinRequiredFee uint64 `json:"minRequiredFee"`
}

// Stats returns the current queue summary.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	occ := q.occupancyPct()
	return Stats{
		Size:           q.heap.size(),
		Evictable:      q.evictable,
		Capacity:       q.capacity,
		SlotLive:       q.slotLive,
		Reserved:       q.reserved,
		OccupancyPct:   occ,
		MinRequiredFee: q.schedule.MinRequiredFee(occ),
	}
}

// Snapshot returns a copy of all queued entries, ordered only at the
// root.
func (q *Queue) Snapshot() []*types.QueuedProposal {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.heap.snapshot()
}

// remove takes the entry at pos out and keeps the occupancy counters
// and reservation consistent. Callers hold q.mu.
func (q *Queue) remove(pos int) *types.QueuedProposal {
	p := q.heap.removeAt(pos)
	q.noteRemoval(p)
	return p
}

func (q *Queue) noteRemoval(p *types.QueuedProposal) {
	if p.Mode == types.FundingProposer {
		q.evictable--
	}
	if q.reserved == p.ID {
		q.reserved = 0
	}
}

// stampTop marks the current root's time-reached-top, once. Driven by
// the queue itself after every mutation that can change the root, so
// the stamp can never be missed or forged.
func (q *Queue) stampTop(now uint64) {
	if top := q.heap.peekMax(); top != nil {
		top.MarkReachedTop(now)
	}
}

func (q *Queue) occupancyPct() uint64 {
	if q.capacity == 0 {
		return 100
	}
	occ := q.evictable * 100 / q.capacity
	if occ > 100 {
		occ = 100
	}
	return occ
}

func (q *Queue) send(evs []types.QueueEvent) {
	for _, ev := range evs {
		q.feed.Send(ev)
	}
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
