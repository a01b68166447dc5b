package lifecycle

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/quorumlabs/slotqueue/internal/config"
	"github.com/quorumlabs/slotqueue/internal/fees"
	"github.com/quorumlabs/slotqueue/internal/metrics"
	"github.com/quorumlabs/slotqueue/internal/queue"
	"github.com/quorumlabs/slotqueue/pkg/types"
)

// Manager orchestrates the full proposal lifecycle: queued, then exactly
// one of activated, evicted, cancelled, or timed out. It owns the
// queue's mutation authority and the vault, and guarantees every
// terminal path resolves the entry's bond and bounty before the entry
// is dropped.
type Manager struct {
	mu      sync.Mutex
	queue   *queue.Queue
	auth    *queue.MutationAuthority
	vault   Vault
	splits  fees.Splits
	clock   queue.Clock
	active  *types.QueuedProposal
	metrics *metrics.Metrics
	logger  log.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source for the manager and its queue.
func WithClock(c queue.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// NewManager wires the queue, fee schedule, and splits together around
// the given vault.
func NewManager(cfg *config.Config, vault Vault, opts ...Option) *Manager {
	m := &Manager{
		vault:  vault,
		splits: fees.NewSplits(&cfg.Splits),
		clock:  queue.SystemClock,
		logger: log.New("module", "lifecycle"),
	}
	for _, opt := range opts {
		opt(m)
	}

	schedule := fees.NewSchedule(&cfg.Fees)
	m.queue, m.auth = queue.New(&cfg.Queue, schedule,
		queue.WithClock(m.clock),
		queue.WithEvictionHandler(m.resolveEvicted),
	)
	return m
}

// Queue exposes the underlying queue for read-only collaborators.
func (m *Manager) Queue() *queue.Queue { return m.queue }

// Admit runs admission control on a new proposal. Returns a record of
// any entry evicted to make room.
func (m *Manager) Admit(p *types.QueuedProposal) (*types.EvictionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bond, bounty, fee := p.BondAmount(), p.BountyAmount(), p.Fee
	record, err := m.queue.TryAdmit(p)
	if err != nil {
		if m.metrics != nil {
			m.metrics.Rejections.Add(1)
		}
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.Admissions.Add(1)
		m.metrics.BondVolume.Add(bond + bounty)
		m.metrics.FeeVolume.Add(fee)
		if record != nil {
			m.metrics.Evictions.Add(1)
		}
		m.syncGauges()
	}
	return record, nil
}

// resolveEvicted settles a displaced entry's economics: the bond is
// split between treasury and evictor, the bounty returns to the
// submitter, and the priority fee is forfeited to the treasury.
func (m *Manager) resolveEvicted(victim *types.QueuedProposal, evictor common.Address) {
	if bond := victim.TakeBond(); bond != nil {
		treasury, evictorShare := m.splits.OnEvict(bond.Amount())
		m.deposit(treasury)
		m.pay(evictor, evictorShare)
	}
	if bounty := victim.TakeBounty(); bounty != nil {
		m.pay(victim.Submitter, bounty.Amount())
	}
	m.deposit(victim.Fee)
}

// Activate dequeues the next proposal (the reservation if one is set,
// otherwise the queue maximum) and makes it live. The bond is split
// between submitter and activator, the bounty rewards the activator,
// and the fee goes to the treasury.
func (m *Manager) Activate(caller common.Address) (*types.QueuedProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queue.IsSlotLive() {
		return nil, ErrSlotLive
	}

	var p *types.QueuedProposal
	if id, ok := m.queue.Reserved(); ok {
		got, err := m.queue.Remove(m.auth, id)
		if err != nil {
			return nil, err
		}
		p = got
	} else {
		if m.queue.IsEmpty() {
			return nil, ErrNothingQueued
		}
		p = m.queue.ExtractMax(m.auth)
	}

	if bond := p.TakeBond(); bond != nil {
		submitter, activator := m.splits.OnActivate(bond.Amount())
		m.pay(p.Submitter, submitter)
		m.pay(caller, activator)
	}
	if bounty := p.TakeBounty(); bounty != nil {
		m.pay(caller, bounty.Amount())
	}
	m.deposit(p.Fee)
	p.AssertResolved()

	m.queue.MarkActivated(m.auth)
	m.active = p
	m.queue.Emit(m.auth, types.QueueEvent{
		Kind:         types.EventActivated,
		ID:           p.ID,
		Submitter:    p.Submitter,
		Fee:          p.Fee,
		At:           m.clock(),
		Counterparty: caller,
	})

	if m.metrics != nil {
		m.metrics.Activations.Add(1)
		m.syncGauges()
	}
	m.logger.Info("Proposal activated", "id", p.ID, "fee", p.Fee, "activator", caller.Hex())
	return p, nil
}

// Cancel removes a queued proposal at its submitter's request. Half the
// bond (by configured ratio) returns to the submitter, the rest goes to
// the treasury; the bounty and the full priority fee are refunded. A
// second cancel of the same id fails cleanly with ErrProposalNotFound.
func (m *Manager) Cancel(id uint64, caller common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.queue.Get(id)
	if p == nil {
		return queue.ErrProposalNotFound
	}
	if p.Submitter != caller {
		return ErrNotSubmitter
	}
	if _, err := m.queue.Remove(m.auth, id); err != nil {
		return err
	}

	if bond := p.TakeBond(); bond != nil {
		submitter, treasury := m.splits.OnCancel(bond.Amount())
		m.pay(p.Submitter, submitter)
		m.deposit(treasury)
	}
	if bounty := p.TakeBounty(); bounty != nil {
		m.pay(p.Submitter, bounty.Amount())
	}
	m.pay(p.Submitter, p.Fee)
	p.AssertResolved()

	m.queue.Emit(m.auth, types.QueueEvent{
		Kind:      types.EventCancelled,
		ID:        p.ID,
		Submitter: p.Submitter,
		Fee:       p.Fee,
		At:        m.clock(),
	})

	if m.metrics != nil {
		m.metrics.Cancellations.Add(1)
		m.syncGauges()
	}
	m.logger.Info("Proposal cancelled", "id", id)
	return nil
}

// EvictTimedOut is the permissionless cleanup path: anyone may remove
// the top entry once it has overstayed the maximum top wait. The caller
// earns a configured share of the bond; everything else returns to the
// submitter except the fee, which is forfeited to the treasury.
func (m *Manager) EvictTimedOut(id uint64, caller common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.queue.EvictTimedOut(m.auth, id)
	if err != nil {
		return err
	}

	if bond := p.TakeBond(); bond != nil {
		submitter, callerShare := m.splits.OnTimeout(bond.Amount())
		m.pay(p.Submitter, submitter)
		m.pay(caller, callerShare)
	}
	if bounty := p.TakeBounty(); bounty != nil {
		m.pay(p.Submitter, bounty.Amount())
	}
	m.deposit(p.Fee)
	p.AssertResolved()

	if m.metrics != nil {
		m.metrics.Timeouts.Add(1)
		m.syncGauges()
	}
	m.logger.Info("Timed-out proposal evicted", "id", id, "caller", caller.Hex())
	return nil
}

// MarkCompleted ends the active proposal's run and frees the slot.
func (m *Manager) MarkCompleted(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.ID != id {
		return ErrNotActive
	}
	p := m.active
	m.active = nil
	m.queue.MarkCompleted(m.auth)
	m.queue.Emit(m.auth, types.QueueEvent{
		Kind:      types.EventCompleted,
		ID:        p.ID,
		Submitter: p.Submitter,
		Fee:       p.Fee,
		At:        m.clock(),
	})

	if m.metrics != nil {
		m.metrics.Completions.Add(1)
	}
	return nil
}

// BumpFee raises a queued proposal's fee at its submitter's request.
func (m *Manager) BumpFee(id uint64, caller common.Address, newFee uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.queue.Get(id)
	if p == nil {
		return queue.ErrProposalNotFound
	}
	if p.Submitter != caller {
		return ErrNotSubmitter
	}
	// The fee delta is escrowed by the caller's ledger before the bump
	// reaches this core; it is routed with the rest of the fee at the
	// entry's terminal transition.
	if err := m.queue.BumpFee(m.auth, id, newFee); err != nil {
		return err
	}

	if m.metrics != nil {
		m.metrics.FeeBumps.Add(1)
	}
	return nil
}

// SetReserved pre-commits the next activation.
func (m *Manager) SetReserved(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue.SetReserved(m.auth, id)
}

// ClearReserved drops a pending reservation.
func (m *Manager) ClearReserved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue.ClearReserved(m.auth)
}

// Active returns the currently live proposal, if any.
func (m *Manager) Active() (*types.QueuedProposal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.active != nil
}

func (m *Manager) pay(to common.Address, amount uint64) {
	if amount > 0 {
		m.vault.Transfer(to, amount)
	}
}

func (m *Manager) deposit(amount uint64) {
	if amount > 0 {
		m.vault.DepositTreasury(amount)
	}
}

func (m *Manager) syncGauges() {
	st := m.queue.Stats()
	m.metrics.QueueDepth.Store(int64(st.Size))
	m.metrics.MinFloorFee.Store(st.MinRequiredFee)
}
