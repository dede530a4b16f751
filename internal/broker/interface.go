package broker

import (
	"context"
	"time"
)

// Broker defines the brokerage capabilities the trading core depends on.
// Implementations hide authentication, pagination and venue quirks.
type Broker interface {
	GetStockPrice(ctx context.Context, symbol string) (*StockPrice, error)
	// GetDailyPrices returns daily bars latest-first, at least ~260 when the
	// listing is old enough. A zero endDate means "up to today".
	GetDailyPrices(ctx context.Context, symbol string, endDate time.Time) ([]Bar, error)
	GetBalance(ctx context.Context) (*Balance, error)
	GetHoldings(ctx context.Context) ([]Holding, error)
	GetRealizedPnL(ctx context.Context, start, end time.Time) ([]PnLItem, error)
	// PlaceOrder submits an order. price 0 with OrderMarket is converted to a
	// limit order at the current quote to avoid slippage on venues that only
	// accept limit orders.
	PlaceOrder(ctx context.Context, symbol string, side OrderSide, quantity, price int64, orderType OrderType) (*OrderResult, error)
	CancelOrder(ctx context.Context, orderNo, symbol string, quantity int64) (*OrderResult, error)
	ModifyOrder(ctx context.Context, orderNo, symbol string, quantity, price int64) (*OrderResult, error)
}

// Ensure implementations satisfy the interface.
var (
	_ Broker = (*Client)(nil)
	_ Broker = (*MockClient)(nil)
	_ Broker = (*CachedBroker)(nil)
)
