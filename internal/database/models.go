package database

import (
	"encoding/json"
	"time"
)

// SignalStatus is the lifecycle state of a signal.
type SignalStatus string

const (
	StatusPending      SignalStatus = "PENDING"       // awaiting human approval
	StatusApproved     SignalStatus = "APPROVED"      // approved, awaiting submission
	StatusQueued       SignalStatus = "QUEUED"        // waiting for a tradeable session
	StatusExecuted     SignalStatus = "EXECUTED"      // submitted after approval
	StatusAutoExecuted SignalStatus = "AUTO_EXECUTED" // submitted without human approval
	StatusRejected     SignalStatus = "REJECTED"
	StatusExpired      SignalStatus = "EXPIRED"
)

// Terminal reports whether no further transitions are allowed.
func (s SignalStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusAutoExecuted, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// SignalType is the directional intent of a signal.
type SignalType string

const (
	SignalBuy         SignalType = "BUY"
	SignalSell        SignalType = "SELL"
	SignalPartialSell SignalType = "PARTIAL_SELL"
	SignalHold        SignalType = "HOLD"
)

// Signal is one investment decision produced by a council meeting and walked
// through the execution pipeline. Prices and amounts are integer won.
type Signal struct {
	ID                string          `json:"id"`
	Symbol            string          `json:"symbol"`
	Company           string          `json:"company"`
	SignalType        SignalType      `json:"signal_type"`
	Strength          int             `json:"strength"`   // 0..100
	Confidence        float64         `json:"confidence"` // 0..1
	SourceAgent       string          `json:"source_agent"`
	Reason            string          `json:"reason"` // capped at 1000 chars
	TargetPrice       int64           `json:"target_price"`
	StopLoss          int64           `json:"stop_loss"`
	CurrentPrice      int64           `json:"current_price"`
	Quantity          int64           `json:"quantity"`
	Status            SignalStatus    `json:"signal_status"`
	TriggerDetails    json.RawMessage `json:"trigger_details,omitempty"`
	HoldingDeadline   *time.Time      `json:"holding_deadline,omitempty"`
	QuantScore        int             `json:"quant_score"`       // 1..10
	FundamentalScore  int             `json:"fundamental_score"` // 1..10
	AllocationPercent float64         `json:"allocation_percent"`
	SuggestedAmount   int64           `json:"suggested_amount"`
	IsExecuted        bool            `json:"is_executed"`
	ExecutedAt        *time.Time      `json:"executed_at,omitempty"`
	OrderNo           string          `json:"order_no,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// SignalFilter narrows repository list queries. Zero fields match everything.
type SignalFilter struct {
	Symbol   string
	Statuses []SignalStatus
	Since    time.Time
	Limit    int
}
