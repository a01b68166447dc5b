package lifecycle

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Vault is the resource-transfer collaborator. Transfers are assumed
// atomic and failure-free once invoked with a valid non-zero amount;
// the manager never calls either method with zero.
type Vault interface {
	// Transfer moves value to an address.
	Transfer(to common.Address, amount uint64)
	// DepositTreasury moves value into the treasury sink.
	DepositTreasury(amount uint64)
}

// MemoryVault is an in-process Vault keeping per-address balances.
// Backs the daemon and the tests; a production deployment plugs in a
// ledger-backed implementation.
type MemoryVault struct {
	mu       sync.Mutex
	balances map[common.Address]uint64
	treasury uint64
}

// NewMemoryVault creates an empty vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{balances: make(map[common.Address]uint64)}
}

func (v *MemoryVault) Transfer(to common.Address, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[to] += amount
}

func (v *MemoryVault) DepositTreasury(amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.treasury += amount
}

// BalanceOf returns the value credited to an address so far.
func (v *MemoryVault) BalanceOf(addr common.Address) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[addr]
}

// Treasury returns the accumulated treasury balance.
func (v *MemoryVault) Treasury() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.treasury
}
