package broker

import "time"

// All prices and amounts are integer won, the smallest unit of the market.

// Bar represents one daily OHLCV observation.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   int64     `json:"open"`
	High   int64     `json:"high"`
	Low    int64     `json:"low"`
	Close  int64     `json:"close"`
	Volume int64     `json:"volume"`
}

// TradingValue is the won value traded during the bar.
func (b Bar) TradingValue() int64 { return b.Close * b.Volume }

// StockPrice is a point-in-time quote snapshot.
type StockPrice struct {
	Symbol     string  `json:"symbol"`
	Price      int64   `json:"price"`
	Change     int64   `json:"change"`
	ChangeRate float64 `json:"change_rate"`
	Volume     int64   `json:"volume"`
}

// Balance is the account cash snapshot.
type Balance struct {
	TotalDeposit    int64   `json:"total_deposit"`
	AvailableAmount int64   `json:"available_amount"`
	TotalPurchase   int64   `json:"total_purchase"`
	TotalEvaluation int64   `json:"total_evaluation"`
	TotalProfitLoss int64   `json:"total_profit_loss"`
	ProfitRate      float64 `json:"profit_rate"`
}

// TotalAssets is cash plus the evaluated value of holdings.
func (b Balance) TotalAssets() int64 { return b.AvailableAmount + b.TotalEvaluation }

// Holding is a current position snapshot.
type Holding struct {
	Symbol       string  `json:"symbol"`
	Company      string  `json:"company"`
	Quantity     int64   `json:"quantity"`
	AvgBuyPrice  int64   `json:"avg_buy_price"`
	CurrentPrice int64   `json:"current_price"`
	Evaluation   int64   `json:"evaluation"`
	ProfitLoss   int64   `json:"profit_loss"`
	ProfitRate   float64 `json:"profit_rate"`
}

// PnLItem is one realised profit/loss record.
type PnLItem struct {
	Date       time.Time `json:"date"`
	Symbol     string    `json:"symbol"`
	Company    string    `json:"company"`
	Quantity   int64     `json:"quantity"`
	SellPrice  int64     `json:"sell_price"`
	ProfitLoss int64     `json:"profit_loss"`
	ProfitRate float64   `json:"profit_rate"`
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType selects limit or market pricing. Market orders are converted to
// limit orders at the current quote before submission.
type OrderType string

const (
	OrderLimit  OrderType = "LIMIT"
	OrderMarket OrderType = "MARKET"
)

// OrderStatus is the broker's verdict on a submission.
type OrderStatus string

const (
	StatusSubmitted OrderStatus = "submitted"
	StatusRejected  OrderStatus = "rejected"
	StatusError     OrderStatus = "error"
)

// OrderResult is the outcome of a place/cancel/modify call.
type OrderResult struct {
	Status  OrderStatus `json:"status"`
	OrderNo string      `json:"order_no,omitempty"`
	Message string      `json:"message,omitempty"`
}
