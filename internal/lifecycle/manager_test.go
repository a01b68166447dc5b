package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quorumlabs/slotqueue/internal/config"
	"github.com/quorumlabs/slotqueue/internal/queue"
	"github.com/quorumlabs/slotqueue/pkg/types"
)

type fakeClock struct {
	now uint64
}

func (c *fakeClock) Now() uint64 { return c.now }

func testConfig(capacity uint64) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Queue = config.QueueConfig{
		Capacity:   capacity,
		MaxTopWait: time.Second,
	}
	// Flat fee floor keeps escalation out of lifecycle tests.
	cfg.Fees = config.FeeConfig{
		BaseFee:         1,
		MaxFee:          1 << 62,
		LowOccupancyPct: 100,
		RampMultiple:    1,
		StepPct:         1,
	}
	return cfg
}

func testManager(capacity uint64, clk *fakeClock) (*Manager, *MemoryVault) {
	vault := NewMemoryVault()
	m := NewManager(testConfig(capacity), vault, WithClock(clk.Now))
	return m, vault
}

func admit(t *testing.T, m *Manager, submitter common.Address, fee, bond, bounty uint64) *types.QueuedProposal {
	t.Helper()
	p := types.NewQueuedProposal(submitter, fee, types.FundingProposer, "t", nil)
	if bond > 0 {
		p.AttachBond(types.NewCoin(bond))
	}
	if bounty > 0 {
		p.AttachBounty(types.NewCoin(bounty))
	}
	if _, err := m.Admit(p); err != nil {
		t.Fatalf("Admit(fee %d): %v", fee, err)
	}
	return p
}

func TestCancelSplitsOddBond(t *testing.T) {
	clk := &fakeClock{now: 10}
	m, vault := testManager(10, clk)
	submitter := common.HexToAddress("0x1")

	p := admit(t, m, submitter, 50, 1001, 0)
	if err := m.Cancel(p.ID, submitter); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// Half the bond (rounded down) plus the full fee refund.
	if got := vault.BalanceOf(submitter); got != 500+50 {
		t.Errorf("submitter balance = %d, want 550", got)
	}
	if got := vault.Treasury(); got != 501 {
		t.Errorf("treasury = %d, want 501", got)
	}
	if m.Queue().Size() != 0 {
		t.Errorf("queue size = %d after cancel, want 0", m.Queue().Size())
	}
}

func TestCancelByNonSubmitter(t *testing.T) {
	clk := &fakeClock{now: 10}
	m, _ := testManager(10, clk)

	p := admit(t, m, common.HexToAddress("0x1"), 50, 100, 0)
	if err := m.Cancel(p.ID, common.HexToAddress("0x2")); !errors.Is(err, ErrNotSubmitter) {
		t.Fatalf("expected ErrNotSubmitter, got %v", err)
	}
	if m.Queue().Size() != 1 {
		t.Error("entry removed by a stranger's cancel")
	}
}

func TestCancelTwiceFailsCleanly(t *testing.T) {
	clk := &fakeClock{now: 10}
	m, _ := testManager(10, clk)
	submitter := common.HexToAddress("0x1")

	p := admit(t, m, submitter, 50, 100, 0)
	if err := m.Cancel(p.ID, submitter); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := m.Cancel(p.ID, submitter); !errors.Is(err, queue.ErrProposalNotFound) {
		t.Fatalf("expected ErrProposalNotFound, got %v", err)
	}
}

func TestActivateSettlesEconomics(t *testing.T) {
	clk := &fakeClock{now: 10}
	m, vault := testManager(10, clk)
	submitter := common.HexToAddress("0x1")
	activator := common.HexToAddress("0x9")

	p := admit(t, m, submitter, 100, 1000, 200)

	got, err := m.Activate(activator)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("activated id %d, want %d", got.ID, p.ID)
	}

	// Bond splits 50/50; the bounty rewards the activator; the fee is
	// forfeited to the treasury.
	if bal := vault.BalanceOf(submitter); bal != 500 {
		t.Errorf("submitter balance = %d, want 500", bal)
	}
	if bal := vault.BalanceOf(activator); bal != 500+200 {
		t.Errorf("activator balance = %d, want 700", bal)
	}
	if tr := vault.Treasury(); tr != 100 {
		t.Errorf("treasury = %d, want 100", tr)
	}

	if _, err := m.Activate(activator); !errors.Is(err, ErrSlotLive) {
		t.Errorf("second Activate: expected ErrSlotLive, got %v", err)
	}

	if err := m.MarkCompleted(p.ID + 1); !errors.Is(err, ErrNotActive) {
		t.Errorf("wrong-id completion: expected ErrNotActive, got %v", err)
	}
	if err := m.MarkCompleted(p.ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if m.Queue().IsSlotLive() {
		t.Error("slot still live after completion")
	}
}

func TestActivateEmpty(t *testing.T) {
	clk := &fakeClock{now: 10}
	m, _ := testManager(10, clk)

	if _, err := m.Activate(common.HexToAddress("0x9")); !errors.Is(err, ErrNothingQueued) {
		t.Fatalf("expected ErrNothingQueued, got %v", err)
	}
}

func TestActivateHonorsReservation(t *testing.T) {
	clk := &fakeClock{now: 10}
	m, _ := testManager(10, clk)

	admit(t, m, common.HexToAddress("0x1"), 300, 100, 0)
	clk.now = 20
	low := admit(t, m, common.HexToAddress("0x2"), 100, 100, 0)

	m.SetReserved(low.ID)
	got, err := m.Activate(common.HexToAddress("0x9"))
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if got.ID != low.ID {
		t.Errorf("activated id %d, want reserved %d", got.ID, low.ID)
	}
	if _, ok := m.Queue().Reserved(); ok {
		t.Error("reservation survived activation")
	}
}

func TestEvictionSettlesEconomics(t *testing.T) {
	clk := &fakeClock{now: 10}
	m, vault := testManager(1, clk)
	victim := common.HexToAddress("0x1")
	evictor := common.HexToAddress("0x2")

	admit(t, m, victim, 100, 1000, 300)

	clk.now = 20
	p := types.NewQueuedProposal(evictor, 200, types.FundingProposer, "t", nil)
	record, err := m.Admit(p)
	if err != nil {
		t.Fatalf("Admit evictor: %v", err)
	}
	if record == nil {
		t.Fatal("expected an eviction record")
	}

	// Victim's bond splits treasury/evictor; the bounty returns to the
	// victim; the victim's fee is forfeited.
	if bal := vault.BalanceOf(evictor); bal != 500 {
		t.Errorf("evictor balance = %d, want 500", bal)
	}
	if bal := vault.BalanceOf(victim); bal != 300 {
		t.Errorf("victim balance = %d, want 300 (bounty back)", bal)
	}
	if tr := vault.Treasury(); tr != 500+100 {
		t.Errorf("treasury = %d, want 600", tr)
	}
}

func TestTimeoutSettlesEconomics(t *testing.T) {
	clk := &fakeClock{now: 1000}
	m, vault := testManager(10, clk)
	submitter := common.HexToAddress("0x1")
	caller := common.HexToAddress("0x7")

	p := admit(t, m, submitter, 100, 10_000, 300)

	clk.now = 1100
	if err := m.EvictTimedOut(p.ID, caller); !errors.Is(err, queue.ErrNotTimedOut) {
		t.Fatalf("expected ErrNotTimedOut, got %v", err)
	}

	clk.now = 2000
	if err := m.EvictTimedOut(p.ID, caller); err != nil {
		t.Fatalf("EvictTimedOut: %v", err)
	}

	// Caller takes the configured 5% cleanup share of the bond; the
	// submitter gets the rest plus the bounty; the fee is forfeited.
	if bal := vault.BalanceOf(caller); bal != 500 {
		t.Errorf("caller balance = %d, want 500", bal)
	}
	if bal := vault.BalanceOf(submitter); bal != 9_500+300 {
		t.Errorf("submitter balance = %d, want 9800", bal)
	}
	if tr := vault.Treasury(); tr != 100 {
		t.Errorf("treasury = %d, want 100", tr)
	}
}

func TestBumpFeeRequiresSubmitter(t *testing.T) {
	clk := &fakeClock{now: 10}
	m, _ := testManager(10, clk)
	submitter := common.HexToAddress("0x1")

	p := admit(t, m, submitter, 100, 100, 0)

	if err := m.BumpFee(p.ID, common.HexToAddress("0x2"), 200); !errors.Is(err, ErrNotSubmitter) {
		t.Fatalf("expected ErrNotSubmitter, got %v", err)
	}
	if err := m.BumpFee(p.ID, submitter, 200); err != nil {
		t.Fatalf("BumpFee: %v", err)
	}
	if got := m.Queue().Get(p.ID).Fee; got != 200 {
		t.Errorf("fee after bump = %d, want 200", got)
	}
}
