package fees

import "github.com/quorumlabs/slotqueue/internal/config"

// Splits computes how an entry's bond is divided on each terminal
// transition. The first party's share is bond*bps/10000; the second
// party receives the exact remainder, so the two shares always sum to
// the bond, including odd amounts and zero.
//
// Priority fees follow simpler all-or-nothing rules handled by the
// lifecycle layer: evict, activate, and timeout send the fee to the
// treasury; cancel refunds it to the submitter. Together with the bond
// splits this makes evict-then-cancel unprofitable: an evictor gains
// only a half-share of the victim's bond while forfeiting their own
// priority fee and half their own bond if they later cancel.
type Splits struct {
	cancelSubmitterBps   uint64
	evictTreasuryBps     uint64
	activateSubmitterBps uint64
	timeoutCallerBps     uint64
}

// NewSplits builds the split table from configuration.
func NewSplits(cfg *config.SplitConfig) Splits {
	return Splits{
		cancelSubmitterBps:   cfg.CancelSubmitterBps,
		evictTreasuryBps:     cfg.EvictTreasuryBps,
		activateSubmitterBps: cfg.ActivateSubmitterBps,
		timeoutCallerBps:     cfg.TimeoutCallerBps,
	}
}

// OnCancel divides a cancelled entry's bond between its submitter and
// the treasury.
func (s Splits) OnCancel(bond uint64) (submitter, treasury uint64) {
	submitter = share(bond, s.cancelSubmitterBps)
	return submitter, bond - submitter
}

// OnEvict divides an evicted entry's bond between the treasury and the
// evictor.
func (s Splits) OnEvict(bond uint64) (treasury, evictor uint64) {
	treasury = share(bond, s.evictTreasuryBps)
	return treasury, bond - treasury
}

// OnActivate divides an activated entry's bond between its submitter
// and the activator.
func (s Splits) OnActivate(bond uint64) (submitter, activator uint64) {
	submitter = share(bond, s.activateSubmitterBps)
	return submitter, bond - submitter
}

// OnTimeout divides a timed-out entry's bond: the caller who performed
// the cleanup takes a small configured share, the submitter gets the
// rest back.
func (s Splits) OnTimeout(bond uint64) (submitter, caller uint64) {
	caller = share(bond, s.timeoutCallerBps)
	return bond - caller, caller
}

// share computes amount*bps/10000 without intermediate overflow.
func share(amount, bps uint64) uint64 {
	return amount/10000*bps + amount%10000*bps/10000
}
