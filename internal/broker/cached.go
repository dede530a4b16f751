package broker

import (
	"context"
	"sync"
	"time"
)

// Cache lifetimes protect the venue's per-second rate limits. Balance moves
// with every fill so it stays fresher than holdings.
const (
	balanceTTL  = 10 * time.Second
	holdingsTTL = 60 * time.Second
)

// CachedBroker wraps another Broker and serves balance and holdings reads
// from short-lived caches. Order and price calls pass straight through.
type CachedBroker struct {
	inner Broker

	mu          sync.RWMutex
	balance     *Balance
	balanceAt   time.Time
	holdings    []Holding
	holdingsAt  time.Time
}

func NewCachedBroker(inner Broker) *CachedBroker {
	return &CachedBroker{inner: inner}
}

func (c *CachedBroker) GetBalance(ctx context.Context) (*Balance, error) {
	c.mu.RLock()
	if c.balance != nil && time.Since(c.balanceAt) < balanceTTL {
		bal := *c.balance
		c.mu.RUnlock()
		return &bal, nil
	}
	c.mu.RUnlock()

	bal, err := c.inner.GetBalance(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.balance = bal
	c.balanceAt = time.Now()
	c.mu.Unlock()

	copied := *bal
	return &copied, nil
}

func (c *CachedBroker) GetHoldings(ctx context.Context) ([]Holding, error) {
	c.mu.RLock()
	if c.holdings != nil && time.Since(c.holdingsAt) < holdingsTTL {
		out := make([]Holding, len(c.holdings))
		copy(out, c.holdings)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	holdings, err := c.inner.GetHoldings(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.holdings = holdings
	c.holdingsAt = time.Now()
	c.mu.Unlock()

	out := make([]Holding, len(holdings))
	copy(out, holdings)
	return out, nil
}

// Invalidate drops both caches. Called after order submission so the next
// gate evaluation sees post-trade balances.
func (c *CachedBroker) Invalidate() {
	c.mu.Lock()
	c.balance = nil
	c.holdings = nil
	c.mu.Unlock()
}

func (c *CachedBroker) GetStockPrice(ctx context.Context, symbol string) (*StockPrice, error) {
	return c.inner.GetStockPrice(ctx, symbol)
}

func (c *CachedBroker) GetDailyPrices(ctx context.Context, symbol string, endDate time.Time) ([]Bar, error) {
	return c.inner.GetDailyPrices(ctx, symbol, endDate)
}

func (c *CachedBroker) GetRealizedPnL(ctx context.Context, start, end time.Time) ([]PnLItem, error) {
	return c.inner.GetRealizedPnL(ctx, start, end)
}

func (c *CachedBroker) PlaceOrder(ctx context.Context, symbol string, side OrderSide, quantity, price int64, orderType OrderType) (*OrderResult, error) {
	res, err := c.inner.PlaceOrder(ctx, symbol, side, quantity, price, orderType)
	if err == nil && res != nil && res.Status == StatusSubmitted {
		c.Invalidate()
	}
	return res, err
}

func (c *CachedBroker) CancelOrder(ctx context.Context, orderNo, symbol string, quantity int64) (*OrderResult, error) {
	res, err := c.inner.CancelOrder(ctx, orderNo, symbol, quantity)
	if err == nil && res != nil && res.Status == StatusSubmitted {
		c.Invalidate()
	}
	return res, err
}

func (c *CachedBroker) ModifyOrder(ctx context.Context, orderNo, symbol string, quantity, price int64) (*OrderResult, error) {
	return c.inner.ModifyOrder(ctx, orderNo, symbol, quantity, price)
}
