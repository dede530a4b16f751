package council

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Request is what one analyst sees for one turn: the meeting context plus
// every message appended before its own index.
type Request struct {
	Role         Role
	Round        int
	Symbol       string
	Company      string
	Title        string
	TriggerSource TriggerSource
	Prior        []Message
	Instruction  string

	// Quant context: a rendered summary of the indicator snapshot and the
	// fired triggers, empty for roles that do not use it.
	QuantContext string

	// Position context for sell and rebalance meetings.
	HoldingsQty  int64
	AvgBuyPrice  int64
	CurrentPrice int64
	ProfitRate   float64

	// Moderator inputs.
	Pct1 float64
	Pct2 float64
}

// Analyst produces one council message. Implementations must respect ctx.
type Analyst interface {
	Analyze(ctx context.Context, req Request) (*Message, error)
}

// LLMAnalyst backs every role with the same completion client; the role
// selects the prompt.
type LLMAnalyst struct {
	llm Completer
}

func NewLLMAnalyst(llm Completer) *LLMAnalyst {
	return &LLMAnalyst{llm: llm}
}

func (a *LLMAnalyst) Analyze(ctx context.Context, req Request) (*Message, error) {
	system := systemPrompt(req.Role)
	user := userPrompt(req)

	raw, err := a.llm.Complete(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("%s analyst: %w", req.Role, err)
	}
	return parseAnalystReply(req, raw)
}

func systemPrompt(role Role) string {
	switch role {
	case RoleQuant:
		return `You are the technical analyst on an equity investment council for the Korean stock market.
You receive an indicator snapshot and rule-based trigger results for one symbol.
Answer in Korean or English. End your reply with a single JSON object:
{"score": <1-10>, "suggested_percent": <0-100, negative to reduce>, "target_price": <won, optional>, "stop_loss": <won, optional>, "sell_percent": <0-100, sell reviews only>}`
	case RoleFundamental:
		return `You are the fundamental analyst on an equity investment council for the Korean stock market.
When no financial report data is provided, reason from the news title and sector knowledge, and say so.
End your reply with a single JSON object:
{"score": <1-10>, "suggested_percent": <0-100>, "holding_days": <trading days, optional>, "no_data": <true if you had no financials>}`
	default:
		return `You are the moderator of an equity investment council. Two analysts have spoken twice each.
Weigh both positions and the trigger source, then issue the final allocation.
End your reply with a single JSON object:
{"suggested_percent": <0-100>, "holding_days": <5-21>, "rationale": "<one sentence>"}`
	}
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s (%s)\n", req.Symbol, req.Company)
	if req.Title != "" {
		fmt.Fprintf(&b, "Event: %s\n", req.Title)
	}
	fmt.Fprintf(&b, "Trigger source: %s\n", req.TriggerSource)
	if req.CurrentPrice > 0 {
		fmt.Fprintf(&b, "Current price: %d won\n", req.CurrentPrice)
	}
	if req.HoldingsQty > 0 {
		fmt.Fprintf(&b, "Position: %d shares at avg %d won (%.2f%% P/L)\n",
			req.HoldingsQty, req.AvgBuyPrice, req.ProfitRate)
	}
	if req.QuantContext != "" {
		fmt.Fprintf(&b, "\nTechnical picture:\n%s\n", req.QuantContext)
	}
	if len(req.Prior) > 0 {
		b.WriteString("\nDiscussion so far:\n")
		for _, m := range req.Prior {
			fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
		}
	}
	if req.Role == RoleModerator {
		fmt.Fprintf(&b, "\nAnalyst allocations: quant %.1f%%, fundamental %.1f%%\n", req.Pct1, req.Pct2)
	}
	if req.Instruction != "" {
		fmt.Fprintf(&b, "\n%s\n", req.Instruction)
	}
	return b.String()
}

// parseAnalystReply extracts the trailing JSON object and builds the typed
// message for the role.
func parseAnalystReply(req Request, raw string) (*Message, error) {
	// Timestamp stays zero here; the orchestrator stamps messages from its
	// clock when appending.
	msg := &Message{
		Round:   req.Round,
		Role:    req.Role,
		Content: strings.TrimSpace(raw),
	}

	payload := extractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("%s analyst: no structured data in reply", req.Role)
	}

	switch req.Role {
	case RoleQuant:
		var op QuantOpinion
		if err := json.Unmarshal([]byte(payload), &op); err != nil {
			return nil, fmt.Errorf("quant analyst: bad structured data: %w", err)
		}
		op.Score = clampScore(op.Score)
		msg.Quant = &op
	case RoleFundamental:
		var op FundamentalOpinion
		if err := json.Unmarshal([]byte(payload), &op); err != nil {
			return nil, fmt.Errorf("fundamental analyst: bad structured data: %w", err)
		}
		op.Score = clampScore(op.Score)
		msg.Fundamental = &op
	default:
		var op ConsensusOpinion
		if err := json.Unmarshal([]byte(payload), &op); err != nil {
			return nil, fmt.Errorf("moderator: bad structured data: %w", err)
		}
		// A moderator that abstains on allocation inherits the analyst mean.
		if op.SuggestedPercent == 0 {
			op.SuggestedPercent = (req.Pct1 + req.Pct2) / 2
		}
		op.HoldingDays = clampHoldingDays(op.HoldingDays)
		msg.Consensus = &op
	}
	return msg, nil
}

// extractJSON returns the last top-level {...} block in the text.
func extractJSON(s string) string {
	end := strings.LastIndex(s, "}")
	if end < 0 {
		return ""
	}
	depth := 0
	for i := end; i >= 0; i-- {
		switch s[i] {
		case '}':
			depth++
		case '{':
			depth--
			if depth == 0 {
				return s[i : end+1]
			}
		}
	}
	return ""
}

func clampScore(v int) int {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}

// clampHoldingDays bounds the moderator's horizon to [5, 21] trading days.
func clampHoldingDays(v int) int {
	if v < 5 {
		return 5
	}
	if v > 21 {
		return 21
	}
	return v
}

// fallbackMessage replaces a failed analyst turn with a deterministic
// stand-in so the meeting never aborts mid-stream.
func fallbackMessage(req Request, cause error) *Message {
	content := fmt.Sprintf("[system warning] %s analyst unavailable (%v); using neutral fallback", req.Role, cause)

	msg := &Message{
		Round:    req.Round,
		Role:     req.Role,
		Content:  content,
		Fallback: true,
	}

	// Sell reviews default to a full exit when underwater, a trim otherwise.
	pct := 0.0
	if req.TriggerSource == SourceSell || req.TriggerSource == SourceRebalance {
		if req.ProfitRate < 0 {
			pct = 100
		} else {
			pct = 30
		}
	}

	switch req.Role {
	case RoleQuant:
		msg.Quant = &QuantOpinion{Score: 5, SuggestedPercent: pct, SellPercent: pct}
	case RoleFundamental:
		msg.Fundamental = &FundamentalOpinion{Score: 5, SuggestedPercent: pct}
	default:
		msg.Consensus = &ConsensusOpinion{
			SuggestedPercent: (req.Pct1 + req.Pct2) / 2,
			HoldingDays:      clampHoldingDays(0),
			Rationale:        "moderator unavailable; averaging analyst allocations",
		}
	}
	return msg
}
