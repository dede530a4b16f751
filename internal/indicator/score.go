package indicator

import (
	"math"

	"krx-trading-bot/internal/broker"
)

// Action is the rating derived from the composite score.
type Action string

const (
	StrongBuy  Action = "STRONG_BUY"
	Buy        Action = "BUY"
	Hold       Action = "HOLD"
	Sell       Action = "SELL"
	StrongSell Action = "STRONG_SELL"
)

// tier1 triggers carry triple weight in the composite score.
var tier1 = map[TriggerID]bool{
	T01: true, T02: true, T03: true, T09: true, T14: true, T20: true,
}

// Weight returns the composite weight of a trigger: 3 for tier-1, 2 for the
// rest of T-04..T-22, 1 for T-23..T-42.
func Weight(id TriggerID) int {
	if tier1[id] {
		return 3
	}
	if id <= T22 {
		return 2
	}
	return 1
}

// CompositeScore folds the trigger votes into a 1..100 score, never 0.
// Bullish votes add score x weight, bearish subtract, neutral contribute
// nothing; the signed sum is normalised against the maximum attainable sum.
func CompositeScore(results []TriggerResult) int {
	if len(results) == 0 {
		return 1
	}
	var signed, max int
	for _, r := range results {
		w := Weight(r.ID)
		max += 10 * w
		switch r.Signal {
		case Bullish:
			signed += r.Score * w
		case Bearish:
			signed -= r.Score * w
		}
	}
	if max == 0 {
		return 1
	}
	ratio := float64(signed) / float64(max)
	score := int(math.Round(50 + 50*ratio))
	if score < 1 {
		score = 1
	}
	if score > 100 {
		score = 100
	}
	return score
}

// ActionFor maps a composite score to a rating.
func ActionFor(score int) Action {
	switch {
	case score >= 80:
		return StrongBuy
	case score >= 65:
		return Buy
	case score >= 40:
		return Hold
	case score >= 25:
		return Sell
	default:
		return StrongSell
	}
}

// ScanResult is one symbol's full quant evaluation.
type ScanResult struct {
	Symbol         string          `json:"symbol"`
	Company        string          `json:"company,omitempty"`
	Snapshot       *Snapshot       `json:"snapshot"`
	Triggers       []TriggerResult `json:"triggers"`
	CompositeScore int             `json:"composite_score"`
	BullishCount   int             `json:"bullish_count"`
	BearishCount   int             `json:"bearish_count"`
	NeutralCount   int             `json:"neutral_count"`
	Action         Action          `json:"action"`
}

// TechnicalSubscore projects the composite score onto the analysts' 1..10
// scale. Used by the monitoring sweep's deterioration check.
func (r *ScanResult) TechnicalSubscore() int {
	sub := int(math.Round(float64(r.CompositeScore) / 10))
	if sub < 1 {
		sub = 1
	}
	if sub > 10 {
		sub = 10
	}
	return sub
}

// FiredTriggers returns the non-neutral trigger results, strongest first
// within their original order.
func (r *ScanResult) FiredTriggers() []TriggerResult {
	fired := make([]TriggerResult, 0, len(r.Triggers))
	for _, t := range r.Triggers {
		if t.Signal != Neutral {
			fired = append(fired, t)
		}
	}
	return fired
}

// Analyze runs the full quant pass on a symbol's daily bars (latest-first).
// With fewer than 20 bars the result carries an empty snapshot, no triggers
// and a composite score of 1.
func Analyze(symbol, company string, bars []broker.Bar) *ScanResult {
	snap := BuildSnapshot(symbol, bars)
	triggers := EvaluateTriggers(snap)

	result := &ScanResult{
		Symbol:         symbol,
		Company:        company,
		Snapshot:       snap,
		Triggers:       triggers,
		CompositeScore: CompositeScore(triggers),
	}
	result.Action = ActionFor(result.CompositeScore)
	for _, t := range triggers {
		switch t.Signal {
		case Bullish:
			result.BullishCount++
		case Bearish:
			result.BearishCount++
		default:
			result.NeutralCount++
		}
	}
	return result
}
