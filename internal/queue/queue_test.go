package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quorumlabs/slotqueue/internal/config"
	"github.com/quorumlabs/slotqueue/internal/fees"
	"github.com/quorumlabs/slotqueue/pkg/types"
)

type fakeClock struct {
	now uint64
}

func (c *fakeClock) Now() uint64 { return c.now }

// flatSchedule returns a schedule whose floor is always baseFee,
// keeping fee-floor logic out of tests that target other behavior.
func flatSchedule(baseFee uint64) *fees.Schedule {
	return fees.NewSchedule(&config.FeeConfig{
		BaseFee:         baseFee,
		MaxFee:          1 << 62,
		LowOccupancyPct: 100,
		RampMultiple:    1,
		StepPct:         1,
	})
}

func testQueue(capacity uint64, grace, maxTopWait time.Duration, clk *fakeClock, opts ...Option) (*Queue, *MutationAuthority) {
	cfg := &config.QueueConfig{
		Capacity:    capacity,
		GracePeriod: grace,
		MaxTopWait:  maxTopWait,
	}
	opts = append([]Option{WithClock(clk.Now)}, opts...)
	return New(cfg, flatSchedule(1), opts...)
}

func submit(t *testing.T, q *Queue, submitter string, fee uint64) *types.QueuedProposal {
	t.Helper()
	p := types.NewQueuedProposal(common.HexToAddress(submitter), fee, types.FundingProposer, "t", nil)
	if _, err := q.TryAdmit(p); err != nil {
		t.Fatalf("TryAdmit(fee %d): %v", fee, err)
	}
	return p
}

func TestBasicAdmitExtract(t *testing.T) {
	clk := &fakeClock{now: 10}
	q, auth := testQueue(10, 0, time.Hour, clk)

	submit(t, q, "0x1", 100)
	clk.now = 20
	p300 := submit(t, q, "0x2", 300)
	clk.now = 30
	submit(t, q, "0x3", 200)

	top, ok := q.PeekMax()
	if !ok || top.ID != p300.ID {
		t.Fatalf("PeekMax = %v, want the fee-300 entry", top)
	}

	got := q.ExtractMax(auth)
	if got.ID != p300.ID {
		t.Fatalf("ExtractMax returned fee %d, want 300", got.Fee)
	}

	top, _ = q.PeekMax()
	if top.Fee != 200 {
		t.Errorf("new max fee = %d, want 200", top.Fee)
	}
	if q.Size() != 2 {
		t.Errorf("Size() = %d, want 2", q.Size())
	}
}

func TestEvictionAtCapacity(t *testing.T) {
	clk := &fakeClock{now: 10}
	q, _ := testQueue(1, 0, time.Hour, clk)

	victim := submit(t, q, "0x1", 100)

	clk.now = 20
	p := types.NewQueuedProposal(common.HexToAddress("0x2"), 200, types.FundingProposer, "t", nil)
	record, err := q.TryAdmit(p)
	if err != nil {
		t.Fatalf("TryAdmit: %v", err)
	}
	if record == nil {
		t.Fatal("expected an eviction record")
	}
	if record.ID != victim.ID || record.Fee != 100 {
		t.Errorf("record = %+v, want id %d fee 100", record, victim.ID)
	}
	if q.Size() != 1 {
		t.Errorf("Size() = %d, want 1", q.Size())
	}
	if top, _ := q.PeekMax(); top.Fee != 200 {
		t.Errorf("remaining entry fee = %d, want 200", top.Fee)
	}
}

func TestFeeTooLowToEvict(t *testing.T) {
	clk := &fakeClock{now: 10}
	q, _ := testQueue(1, 0, time.Hour, clk)

	submit(t, q, "0x1", 200)

	clk.now = 20
	p := types.NewQueuedProposal(common.HexToAddress("0x2"), 150, types.FundingProposer, "t", nil)
	if _, err := q.TryAdmit(p); !errors.Is(err, ErrFeeTooLowToEvict) {
		t.Fatalf("expected ErrFeeTooLowToEvict, got %v", err)
	}
	if q.Size() != 1 {
		t.Errorf("heap changed on rejection: size %d", q.Size())
	}
	if top, _ := q.PeekMax(); top.Fee != 200 {
		t.Errorf("top fee = %d, want unchanged 200", top.Fee)
	}
}

func TestEqualScoreNeverEvicts(t *testing.T) {
	clk := &fakeClock{now: 10}
	q, _ := testQueue(1, 0, time.Hour, clk)

	submit(t, q, "0x1", 100)

	// Same fee, same timestamp: identical score. Ties must not evict.
	p := types.NewQueuedProposal(common.HexToAddress("0x2"), 100, types.FundingProposer, "t", nil)
	if _, err := q.TryAdmit(p); !errors.Is(err, ErrFeeTooLowToEvict) {
		t.Fatalf("expected ErrFeeTooLowToEvict on equal score, got %v", err)
	}
}

func TestGracePeriodEnforcement(t *testing.T) {
	clk := &fakeClock{now: 1000}
	q, _ := testQueue(1, 100*time.Millisecond, time.Hour, clk)

	submit(t, q, "0x1", 100)

	newcomer := func() *types.QueuedProposal {
		return types.NewQueuedProposal(common.HexToAddress("0x2"), 500, types.FundingProposer, "t", nil)
	}

	clk.now = 1099
	if _, err := q.TryAdmit(newcomer()); !errors.Is(err, ErrGracePeriodActive) {
		t.Fatalf("expected ErrGracePeriodActive at t=1099, got %v", err)
	}

	// Evictable at exactly entryTime + grace.
	clk.now = 1100
	record, err := q.TryAdmit(newcomer())
	if err != nil {
		t.Fatalf("TryAdmit at grace boundary: %v", err)
	}
	if record == nil {
		t.Fatal("expected eviction at grace boundary")
	}
}

func TestPoolFundedNeverEvicted(t *testing.T) {
	clk := &fakeClock{now: 10}
	q, _ := testQueue(1, 0, time.Hour, clk)

	pool := types.NewQueuedProposal(common.HexToAddress("0x1"), 100, types.FundingPool, "t", nil)
	if _, err := q.TryAdmit(pool); err != nil {
		t.Fatalf("pool-funded admit: %v", err)
	}

	// Pool-funded entries do not consume proposer capacity.
	clk.now = 20
	cheap := submit(t, q, "0x2", 50)

	// At capacity now; the proposer-funded entry is the only victim
	// even though the pool-funded one scores lower.
	clk.now = 30
	p := types.NewQueuedProposal(common.HexToAddress("0x3"), 200, types.FundingProposer, "t", nil)
	record, err := q.TryAdmit(p)
	if err != nil {
		t.Fatalf("TryAdmit: %v", err)
	}
	if record == nil || record.ID != cheap.ID {
		t.Fatalf("record = %+v, want eviction of proposer-funded id %d", record, cheap.ID)
	}
	if q.Get(pool.ID) == nil {
		t.Error("pool-funded entry was evicted")
	}
}

func TestFeeFloorRejection(t *testing.T) {
	clk := &fakeClock{now: 10}
	cfg := &config.QueueConfig{Capacity: 10, MaxTopWait: time.Hour}
	q, _ := New(cfg, flatSchedule(1000), WithClock(clk.Now))

	p := types.NewQueuedProposal(common.HexToAddress("0x1"), 999, types.FundingProposer, "t", nil)
	if _, err := q.TryAdmit(p); !errors.Is(err, ErrFeeBelowMinimum) {
		t.Fatalf("expected ErrFeeBelowMinimum, got %v", err)
	}
}

func TestMissingBondRejection(t *testing.T) {
	clk := &fakeClock{now: 10}
	cfg := &config.QueueConfig{Capacity: 10, RequireBond: true, MaxTopWait: time.Hour}
	q, _ := New(cfg, flatSchedule(1), WithClock(clk.Now))

	p := types.NewQueuedProposal(common.HexToAddress("0x1"), 100, types.FundingProposer, "t", nil)
	if _, err := q.TryAdmit(p); !errors.Is(err, ErrMissingBond) {
		t.Fatalf("expected ErrMissingBond, got %v", err)
	}

	p.AttachBond(types.NewCoin(500))
	if _, err := q.TryAdmit(p); err != nil {
		t.Fatalf("admit with bond: %v", err)
	}
	// Park the bond so the test entry can be dropped cleanly.
	_ = p.TakeBond()
}

func TestMaxFeeRejection(t *testing.T) {
	clk := &fakeClock{now: 10}
	cfg := &config.QueueConfig{Capacity: 10, MaxFee: 1_000, MaxTopWait: time.Hour}
	q, _ := New(cfg, flatSchedule(1), WithClock(clk.Now))

	p := types.NewQueuedProposal(common.HexToAddress("0x1"), 1_001, types.FundingProposer, "t", nil)
	if _, err := q.TryAdmit(p); !errors.Is(err, ErrFeeExceedsMaximum) {
		t.Fatalf("expected ErrFeeExceedsMaximum, got %v", err)
	}
}

func TestForeignAuthorityPanics(t *testing.T) {
	clk := &fakeClock{now: 10}
	q1, _ := testQueue(10, 0, time.Hour, clk)
	_, auth2 := testQueue(10, 0, time.Hour, clk)

	submit(t, q1, "0x1", 100)

	defer func() {
		if recover() == nil {
			t.Error("expected panic using a foreign authority")
		}
	}()
	q1.ExtractMax(auth2)
}

func TestExtractEmptyPanics(t *testing.T) {
	clk := &fakeClock{now: 10}
	q, auth := testQueue(10, 0, time.Hour, clk)

	defer func() {
		if recover() == nil {
			t.Error("expected panic extracting from empty queue")
		}
	}()
	q.ExtractMax(auth)
}

func TestRemoveMissingFailsCleanly(t *testing.T) {
	clk := &fakeClock{now: 10}
	q, auth := testQueue(10, 0, time.Hour, clk)

	p := submit(t, q, "0x1", 100)
	if _, err := q.Remove(auth, p.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	// A second removal of the same id fails cleanly.
	if _, err := q.Remove(auth, p.ID); !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("expected ErrProposalNotFound, got %v", err)
	}
}

func TestTimeoutEviction(t *testing.T) {
	clk := &fakeClock{now: 1000}
	q, auth := testQueue(10, 0, time.Second, clk)

	top := submit(t, q, "0x1", 200)
	clk.now = 1010
	other := submit(t, q, "0x2", 100)

	// Only the current maximum can time out.
	if _, err := q.EvictTimedOut(auth, other.ID); !errors.Is(err, ErrNotAtTop) {
		t.Fatalf("expected ErrNotAtTop, got %v", err)
	}

	clk.now = 1500
	if _, err := q.EvictTimedOut(auth, top.ID); !errors.Is(err, ErrNotTimedOut) {
		t.Fatalf("expected ErrNotTimedOut before deadline, got %v", err)
	}

	// Top was stamped at t=1000; deadline is 2000.
	clk.now = 2000
	got, err := q.EvictTimedOut(auth, top.ID)
	if err != nil {
		t.Fatalf("EvictTimedOut: %v", err)
	}
	if got.ID != top.ID {
		t.Errorf("evicted id %d, want %d", got.ID, top.ID)
	}

	// The next entry is stamped as it becomes the new top.
	if other.TimeReachedTop != 2000 {
		t.Errorf("new top stamped at %d, want 2000", other.TimeReachedTop)
	}
}

func TestBumpFeeReorders(t *testing.T) {
	clk := &fakeClock{now: 10}
	q, auth := testQueue(10, 0, time.Hour, clk)

	low := submit(t, q, "0x1", 100)
	clk.now = 20
	submit(t, q, "0x2", 200)

	if err := q.BumpFee(auth, low.ID, 300); err != nil {
		t.Fatalf("BumpFee: %v", err)
	}
	top, _ := q.PeekMax()
	if top.ID != low.ID || top.Fee != 300 {
		t.Errorf("top after bump = id %d fee %d, want id %d fee 300", top.ID, top.Fee, low.ID)
	}
	if top.Score.SubmittedAt != 10 {
		t.Errorf("bump changed submission time to %d", top.Score.SubmittedAt)
	}

	if err := q.BumpFee(auth, low.ID, 300); !errors.Is(err, ErrFeeBelowMinimum) {
		t.Errorf("non-increasing bump: expected ErrFeeBelowMinimum, got %v", err)
	}
	if err := q.BumpFee(auth, 999, 400); !errors.Is(err, ErrProposalNotFound) {
		t.Errorf("unknown id bump: expected ErrProposalNotFound, got %v", err)
	}
}

func TestReservation(t *testing.T) {
	clk := &fakeClock{now: 10}
	q, auth := testQueue(10, 0, time.Hour, clk)

	p := submit(t, q, "0x1", 100)
	q.SetReserved(auth, p.ID)

	if id, ok := q.Reserved(); !ok || id != p.ID {
		t.Fatalf("Reserved() = (%d, %v), want (%d, true)", id, ok, p.ID)
	}

	// Removing the reserved entry clears the reservation.
	if _, err := q.Remove(auth, p.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := q.Reserved(); ok {
		t.Error("reservation survived removal of its target")
	}
}

func TestDoubleReservationPanics(t *testing.T) {
	clk := &fakeClock{now: 10}
	q, auth := testQueue(10, 0, time.Hour, clk)

	a := submit(t, q, "0x1", 100)
	b := submit(t, q, "0x2", 200)
	q.SetReserved(auth, a.ID)

	defer func() {
		if recover() == nil {
			t.Error("expected panic setting a second reservation")
		}
	}()
	q.SetReserved(auth, b.ID)
}

func TestSlotLifecycle(t *testing.T) {
	clk := &fakeClock{now: 10}
	q, auth := testQueue(10, 0, time.Hour, clk)

	if q.IsSlotLive() {
		t.Fatal("fresh queue reports a live slot")
	}
	q.MarkActivated(auth)
	if !q.IsSlotLive() {
		t.Fatal("slot not live after MarkActivated")
	}
	q.MarkCompleted(auth)
	if q.IsSlotLive() {
		t.Fatal("slot still live after MarkCompleted")
	}
}

func TestDoubleActivationPanics(t *testing.T) {
	clk := &fakeClock{now: 10}
	q, auth := testQueue(10, 0, time.Hour, clk)

	q.MarkActivated(auth)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on double activation")
		}
	}()
	q.MarkActivated(auth)
}

func TestWouldAccept(t *testing.T) {
	clk := &fakeClock{now: 10}
	q, _ := testQueue(1, 0, time.Hour, clk)

	if !q.WouldAccept(100) {
		t.Error("empty queue should accept any fee above the floor")
	}
	submit(t, q, "0x1", 200)

	tests := []struct {
		fee  uint64
		want bool
	}{
		{150, false},
		{200, false}, // tie cannot evict
		{201, true},
	}
	for _, tt := range tests {
		if got := q.WouldAccept(tt.fee); got != tt.want {
			t.Errorf("WouldAccept(%d) = %v, want %v", tt.fee, got, tt.want)
		}
	}
}

func TestEventsEmitted(t *testing.T) {
	clk := &fakeClock{now: 10}
	q, _ := testQueue(1, 0, time.Hour, clk)

	ch := make(chan types.QueueEvent, 8)
	sub := q.SubscribeEvents(ch)
	defer sub.Unsubscribe()

	victim := submit(t, q, "0x1", 100)
	clk.now = 20
	p := types.NewQueuedProposal(common.HexToAddress("0x2"), 200, types.FundingProposer, "t", nil)
	if _, err := q.TryAdmit(p); err != nil {
		t.Fatalf("TryAdmit: %v", err)
	}

	want := []struct {
		kind types.EventKind
		id   uint64
	}{
		{types.EventQueued, victim.ID},
		{types.EventEvicted, victim.ID},
		{types.EventQueued, p.ID},
	}
	for i, w := range want {
		select {
		case ev := <-ch:
			if ev.Kind != w.kind || ev.ID != w.id {
				t.Errorf("event %d = (%s, %d), want (%s, %d)", i, ev.Kind, ev.ID, w.kind, w.id)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestEvictionHandlerReceivesVictim(t *testing.T) {
	clk := &fakeClock{now: 10}

	var gotVictim *types.QueuedProposal
	var gotEvictor common.Address
	q, _ := testQueue(1, 0, time.Hour, clk, WithEvictionHandler(
		func(victim *types.QueuedProposal, evictor common.Address) {
			gotVictim = victim
			gotEvictor = evictor
			_ = victim.TakeBond()
		}))

	victim := types.NewQueuedProposal(common.HexToAddress("0x1"), 100, types.FundingProposer, "t", nil)
	victim.AttachBond(types.NewCoin(500))
	if _, err := q.TryAdmit(victim); err != nil {
		t.Fatalf("TryAdmit victim: %v", err)
	}

	clk.now = 20
	evictor := common.HexToAddress("0x2")
	p := types.NewQueuedProposal(evictor, 200, types.FundingProposer, "t", nil)
	if _, err := q.TryAdmit(p); err != nil {
		t.Fatalf("TryAdmit evictor: %v", err)
	}

	if gotVictim == nil || gotVictim.ID != victim.ID {
		t.Fatalf("handler got %v, want victim id %d", gotVictim, victim.ID)
	}
	if gotEvictor != evictor {
		t.Errorf("handler evictor = %s, want %s", gotEvictor.Hex(), evictor.Hex())
	}
}
