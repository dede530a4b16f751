package council

import (
	"time"

	"krx-trading-bot/internal/database"
	"krx-trading-bot/internal/indicator"
)

// Role identifies an analyst seat at the council.
type Role string

const (
	RoleQuant       Role = "quant"
	RoleFundamental Role = "fundamental"
	RoleModerator   Role = "moderator"
)

// TriggerSource says what convened the meeting.
type TriggerSource string

const (
	SourceNews      TriggerSource = "news"
	SourceQuant     TriggerSource = "quant"
	SourceSell      TriggerSource = "sell"
	SourceRebalance TriggerSource = "rebalance"
)

// QuantOpinion is the technical analyst's structured output.
type QuantOpinion struct {
	Score            int     `json:"score"`             // 1..10
	SuggestedPercent float64 `json:"suggested_percent"` // 0..100, negative means reduce
	TargetPrice      int64   `json:"target_price,omitempty"`
	StopLoss         int64   `json:"stop_loss,omitempty"`
	SellPercent      float64 `json:"sell_percent,omitempty"` // sell meetings only
}

// FundamentalOpinion is the fundamental analyst's structured output.
type FundamentalOpinion struct {
	Score            int     `json:"score"`
	SuggestedPercent float64 `json:"suggested_percent"`
	HoldingDays      int     `json:"holding_days,omitempty"`
	NoData           bool    `json:"no_data,omitempty"` // ran without financial reports
}

// ConsensusOpinion is the moderator's final call.
type ConsensusOpinion struct {
	SuggestedPercent float64 `json:"suggested_percent"`
	HoldingDays      int     `json:"holding_days"` // bounded to [5, 21]
	Rationale        string  `json:"rationale"`
}

// Message is one appended council utterance. Exactly one opinion field is set
// according to the role; a fallback message marks an analyst failure.
type Message struct {
	Index       int                 `json:"index"`
	Round       int                 `json:"round"` // 0 open, 1 initial, 2 respond, 3 consensus
	Role        Role                `json:"role"`
	Content     string              `json:"content"`
	Fallback    bool                `json:"fallback"`
	Quant       *QuantOpinion       `json:"quant,omitempty"`
	Fundamental *FundamentalOpinion `json:"fundamental,omitempty"`
	Consensus   *ConsensusOpinion   `json:"consensus,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

// Meeting is one full deliberation: transcript plus the resulting signal.
type Meeting struct {
	ID               string           `json:"id"`
	Symbol           string           `json:"symbol"`
	Company          string           `json:"company"`
	Title            string           `json:"title"`
	TriggerSource    TriggerSource    `json:"trigger_source"`
	Depth            string           `json:"depth"`
	Messages         []Message        `json:"messages"`
	FailureCount     int              `json:"failure_count"`
	ConsensusReached bool             `json:"consensus_reached"`
	Discarded        bool             `json:"discarded"` // data-quality gate
	DiscardReason    string           `json:"discard_reason,omitempty"`
	Signal           *database.Signal `json:"signal,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	EndedAt          time.Time        `json:"ended_at"`
}

// MeetingRequest carries everything StartMeeting needs.
type MeetingRequest struct {
	Symbol          string
	Company         string
	Title           string
	TriggerScore    int // news score or quant composite, in its native scale
	AvailableAmount int64
	CurrentPrice    int64
	TriggerSource   TriggerSource
	QuantResult     *indicator.ScanResult // optional, quant-triggered meetings
	IsHolding       bool
	PortfolioWeight float64
}

// SellRequest convenes the one-round LIGHT sell variant.
type SellRequest struct {
	Symbol       string
	Company      string
	Reason       string
	HoldingsQty  int64
	AvgBuyPrice  int64
	CurrentPrice int64
}

// RebalanceRequest asks for a LIGHT quant-only review of a held position.
type RebalanceRequest struct {
	Symbol       string
	Company      string
	HoldingsQty  int64
	AvgBuyPrice  int64
	CurrentPrice int64
	PrevTarget   int64
	PrevStop     int64
}

// RebalanceResult is the review outcome; it never produces a Signal.
type RebalanceResult struct {
	Symbol        string `json:"symbol"`
	Score         int    `json:"score"`
	NewTarget     int64  `json:"new_target"`
	NewStop       int64  `json:"new_stop"`
	RecommendSell bool   `json:"recommend_sell"`
}
