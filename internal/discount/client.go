package discount

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/quorumlabs/slotqueue/internal/config"
)

// Client queries the external fee-discount registry with caching.
// Discounts are applied to the priority fee before admission ever
// reaches the queue core; the core only validates the fee it is given.
type Client struct {
	cfg    *config.DiscountConfig
	http   *http.Client
	cache  map[common.Address]cachedDiscount
	mu     sync.RWMutex
	logger log.Logger
}

type cachedDiscount struct {
	bps       uint64
	fetchedAt time.Time
}

// discountResponse is the registry API response structure.
type discountResponse struct {
	Address     string `json:"address"`
	DiscountBps uint64 `json:"discountBps"`
	Tier        string `json:"tier"`
}

// New creates a new discount registry client.
func New(cfg *config.DiscountConfig) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
		cache:  make(map[common.Address]cachedDiscount, 1024),
		logger: log.New("module", "discount"),
	}
}

// GetDiscount retrieves the fee discount (basis points) for an address.
// Returns a cached result if available and not expired; degrades to
// zero discount on registry failure.
func (c *Client) GetDiscount(ctx context.Context, addr common.Address) uint64 {
	if !c.cfg.Enabled {
		return 0
	}

	// Check cache
	c.mu.RLock()
	if cached, ok := c.cache[addr]; ok {
		if time.Since(cached.fetchedAt) < c.cfg.CacheTTL {
			c.mu.RUnlock()
			return cached.bps
		}
	}
	c.mu.RUnlock()

	bps, err := c.fetchDiscount(ctx, addr)
	if err != nil {
		c.logger.Warn("Discount registry error, using zero", "addr", addr.Hex(), "err", err)
		return 0
	}
	if bps > 10000 {
		bps = 10000
	}

	c.mu.Lock()
	c.cache[addr] = cachedDiscount{bps: bps, fetchedAt: time.Now()}
	c.mu.Unlock()

	return bps
}

// Apply reduces a fee by the address's discount:
// fee * (10000 - bps) / 10000.
func (c *Client) Apply(ctx context.Context, addr common.Address, fee uint64) uint64 {
	bps := c.GetDiscount(ctx, addr)
	if bps == 0 {
		return fee
	}
	keep := 10000 - bps
	return fee/10000*keep + fee%10000*keep/10000
}

// fetchDiscount makes the actual registry call.
func (c *Client) fetchDiscount(ctx context.Context, addr common.Address) (uint64, error) {
	url := fmt.Sprintf("%s/v1/discount/%s", c.cfg.APIURL, addr.Hex())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("registry call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	var result discountResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}

	return result.DiscountBps, nil
}

// ClearCache removes all cached discounts.
func (c *Client) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[common.Address]cachedDiscount, 1024)
}

// CacheSize returns the number of cached entries.
func (c *Client) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
