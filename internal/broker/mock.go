package broker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// MockClient simulates the brokerage for development and tests: random-walk
// quotes, synthetic daily history and an in-memory account that fills every
// order at the submitted price.
type MockClient struct {
	mu         sync.RWMutex
	prices     map[string]int64
	companies  map[string]string
	cash       int64
	holdings   map[string]*Holding
	realized   []PnLItem
	orderSeq   int64
	lastUpdate time.Time
	rng        *rand.Rand
}

func NewMockClient() *MockClient {
	mc := &MockClient{
		prices: map[string]int64{
			"005930": 70000,  // Samsung Electronics
			"000660": 180000, // SK hynix
			"035420": 210000, // NAVER
			"035720": 48000,  // Kakao
			"005380": 240000, // Hyundai Motor
			"051910": 380000, // LG Chem
			"006400": 320000, // Samsung SDI
			"068270": 175000, // Celltrion
			"105560": 85000,  // KB Financial
			"055550": 52000,  // Shinhan Financial
		},
		companies: map[string]string{
			"005930": "Samsung Electronics",
			"000660": "SK hynix",
			"035420": "NAVER",
			"035720": "Kakao",
			"005380": "Hyundai Motor",
			"051910": "LG Chem",
			"006400": "Samsung SDI",
			"068270": "Celltrion",
			"105560": "KB Financial",
			"055550": "Shinhan Financial",
		},
		cash:       50_000_000,
		holdings:   make(map[string]*Holding),
		lastUpdate: time.Now(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	return mc
}

// updatePrices applies a small random walk, at most once per second.
func (mc *MockClient) updatePrices() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if time.Since(mc.lastUpdate) < time.Second {
		return
	}
	mc.lastUpdate = time.Now()

	for symbol, price := range mc.prices {
		drift := 1 + (mc.rng.Float64()-0.5)*0.004 // +-0.2% per tick
		next := int64(math.Round(float64(price) * drift))
		if next < 100 {
			next = 100
		}
		mc.prices[symbol] = next
	}

	for symbol, h := range mc.holdings {
		if price, ok := mc.prices[symbol]; ok {
			h.CurrentPrice = price
			h.Evaluation = price * h.Quantity
			h.ProfitLoss = (price - h.AvgBuyPrice) * h.Quantity
			if h.AvgBuyPrice > 0 {
				h.ProfitRate = float64(price-h.AvgBuyPrice) / float64(h.AvgBuyPrice) * 100
			}
		}
	}
}

func (mc *MockClient) GetStockPrice(ctx context.Context, symbol string) (*StockPrice, error) {
	mc.updatePrices()

	mc.mu.RLock()
	defer mc.mu.RUnlock()

	price, ok := mc.prices[symbol]
	if !ok {
		// Unknown symbols get a deterministic synthetic price so scans over
		// arbitrary universes still work in mock mode.
		price = 10000 + int64(hashSymbol(symbol)%90000)
	}
	return &StockPrice{
		Symbol:     symbol,
		Price:      price,
		Change:     price / 100,
		ChangeRate: 1.0,
		Volume:     100000 + int64(hashSymbol(symbol)%900000),
	}, nil
}

// GetDailyPrices synthesises ~300 bars of trending history, latest-first.
func (mc *MockClient) GetDailyPrices(ctx context.Context, symbol string, endDate time.Time) ([]Bar, error) {
	quote, err := mc.GetStockPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if endDate.IsZero() {
		endDate = time.Now()
	}

	const days = 300
	rng := rand.New(rand.NewSource(int64(hashSymbol(symbol))))

	bars := make([]Bar, 0, days)
	price := float64(quote.Price)
	date := endDate

	for i := 0; i < days; i++ {
		// Skip weekends so the series looks like trading days.
		for date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
			date = date.AddDate(0, 0, -1)
		}

		open := price * (1 + (rng.Float64()-0.5)*0.01)
		high := math.Max(open, price) * (1 + rng.Float64()*0.015)
		low := math.Min(open, price) * (1 - rng.Float64()*0.015)
		volume := 50000 + rng.Int63n(500000)

		bars = append(bars, Bar{
			Date:   date,
			Open:   int64(open),
			High:   int64(high),
			Low:    int64(low),
			Close:  int64(price),
			Volume: volume,
		})

		// Walk backwards in time.
		price = price * (1 - (rng.Float64()-0.48)*0.02)
		if price < 100 {
			price = 100
		}
		date = date.AddDate(0, 0, -1)
	}
	return bars, nil
}

func (mc *MockClient) GetBalance(ctx context.Context) (*Balance, error) {
	mc.updatePrices()

	mc.mu.RLock()
	defer mc.mu.RUnlock()

	var purchase, evaluation, pnl int64
	for _, h := range mc.holdings {
		purchase += h.AvgBuyPrice * h.Quantity
		evaluation += h.Evaluation
		pnl += h.ProfitLoss
	}

	bal := &Balance{
		TotalDeposit:    mc.cash,
		AvailableAmount: mc.cash,
		TotalPurchase:   purchase,
		TotalEvaluation: evaluation,
		TotalProfitLoss: pnl,
	}
	if purchase > 0 {
		bal.ProfitRate = float64(pnl) / float64(purchase) * 100
	}
	return bal, nil
}

func (mc *MockClient) GetHoldings(ctx context.Context) ([]Holding, error) {
	mc.updatePrices()

	mc.mu.RLock()
	defer mc.mu.RUnlock()

	holdings := make([]Holding, 0, len(mc.holdings))
	for _, h := range mc.holdings {
		holdings = append(holdings, *h)
	}
	return holdings, nil
}

func (mc *MockClient) GetRealizedPnL(ctx context.Context, start, end time.Time) ([]PnLItem, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	items := make([]PnLItem, 0, len(mc.realized))
	for _, item := range mc.realized {
		if !item.Date.Before(start) && !item.Date.After(end) {
			items = append(items, item)
		}
	}
	return items, nil
}

func (mc *MockClient) PlaceOrder(ctx context.Context, symbol string, side OrderSide, quantity, price int64, orderType OrderType) (*OrderResult, error) {
	if quantity <= 0 {
		return &OrderResult{Status: StatusRejected, Message: "quantity must be positive"}, nil
	}

	if orderType == OrderMarket || price == 0 {
		quote, err := mc.GetStockPrice(ctx, symbol)
		if err != nil {
			return nil, err
		}
		price = quote.Price
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.orderSeq++
	orderNo := fmt.Sprintf("MOCK%06d", mc.orderSeq)

	switch side {
	case SideBuy:
		cost := price * quantity
		if cost > mc.cash {
			return &OrderResult{Status: StatusRejected, Message: "insufficient cash"}, nil
		}
		mc.cash -= cost
		h, ok := mc.holdings[symbol]
		if !ok {
			mc.holdings[symbol] = &Holding{
				Symbol:       symbol,
				Company:      mc.companies[symbol],
				Quantity:     quantity,
				AvgBuyPrice:  price,
				CurrentPrice: price,
				Evaluation:   price * quantity,
			}
		} else {
			total := h.AvgBuyPrice*h.Quantity + cost
			h.Quantity += quantity
			h.AvgBuyPrice = total / h.Quantity
			h.Evaluation = h.CurrentPrice * h.Quantity
		}

	case SideSell:
		h, ok := mc.holdings[symbol]
		if !ok || h.Quantity < quantity {
			return &OrderResult{Status: StatusRejected, Message: "insufficient holdings"}, nil
		}
		mc.cash += price * quantity
		pnl := (price - h.AvgBuyPrice) * quantity
		rate := 0.0
		if h.AvgBuyPrice > 0 {
			rate = float64(price-h.AvgBuyPrice) / float64(h.AvgBuyPrice) * 100
		}
		mc.realized = append(mc.realized, PnLItem{
			Date:       time.Now(),
			Symbol:     symbol,
			Company:    h.Company,
			Quantity:   quantity,
			SellPrice:  price,
			ProfitLoss: pnl,
			ProfitRate: rate,
		})
		h.Quantity -= quantity
		if h.Quantity == 0 {
			delete(mc.holdings, symbol)
		}

	default:
		return &OrderResult{Status: StatusRejected, Message: "unknown side"}, nil
	}

	return &OrderResult{Status: StatusSubmitted, OrderNo: orderNo}, nil
}

func (mc *MockClient) CancelOrder(ctx context.Context, orderNo, symbol string, quantity int64) (*OrderResult, error) {
	return &OrderResult{Status: StatusSubmitted, OrderNo: orderNo}, nil
}

func (mc *MockClient) ModifyOrder(ctx context.Context, orderNo, symbol string, quantity, price int64) (*OrderResult, error) {
	return &OrderResult{Status: StatusSubmitted, OrderNo: orderNo}, nil
}

// SetHolding seeds a position. Test helper.
func (mc *MockClient) SetHolding(h Holding) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	copied := h
	mc.holdings[h.Symbol] = &copied
	mc.prices[h.Symbol] = h.CurrentPrice
}

// SetCash seeds the cash balance. Test helper.
func (mc *MockClient) SetCash(amount int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.cash = amount
}

func hashSymbol(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
