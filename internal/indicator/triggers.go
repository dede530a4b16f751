package indicator

import "fmt"

// Signal is a trigger's directional vote.
type Signal string

const (
	Bullish Signal = "bullish"
	Bearish Signal = "bearish"
	Neutral Signal = "neutral"
)

// Strength grades how decisively a trigger fired.
type Strength string

const (
	VeryStrong Strength = "very_strong"
	Strong     Strength = "strong"
	Moderate   Strength = "moderate"
	Weak       Strength = "weak"
	None       Strength = "none"
)

// TriggerID is the sealed identifier space T-01..T-42.
type TriggerID string

const (
	T01 TriggerID = "T-01"
	T02 TriggerID = "T-02"
	T03 TriggerID = "T-03"
	T04 TriggerID = "T-04"
	T05 TriggerID = "T-05"
	T06 TriggerID = "T-06"
	T07 TriggerID = "T-07"
	T08 TriggerID = "T-08"
	T09 TriggerID = "T-09"
	T10 TriggerID = "T-10"
	T11 TriggerID = "T-11"
	T12 TriggerID = "T-12"
	T13 TriggerID = "T-13"
	T14 TriggerID = "T-14"
	T15 TriggerID = "T-15"
	T16 TriggerID = "T-16"
	T17 TriggerID = "T-17"
	T18 TriggerID = "T-18"
	T19 TriggerID = "T-19"
	T20 TriggerID = "T-20"
	T21 TriggerID = "T-21"
	T22 TriggerID = "T-22"
	T23 TriggerID = "T-23"
	T24 TriggerID = "T-24"
	T25 TriggerID = "T-25"
	T26 TriggerID = "T-26"
	T27 TriggerID = "T-27"
	T28 TriggerID = "T-28"
	T29 TriggerID = "T-29"
	T30 TriggerID = "T-30"
	T31 TriggerID = "T-31"
	T32 TriggerID = "T-32"
	T33 TriggerID = "T-33"
	T34 TriggerID = "T-34"
	T35 TriggerID = "T-35"
	T36 TriggerID = "T-36"
	T37 TriggerID = "T-37"
	T38 TriggerID = "T-38"
	T39 TriggerID = "T-39"
	T40 TriggerID = "T-40"
	T41 TriggerID = "T-41"
	T42 TriggerID = "T-42"
)

// TriggerResult is one trigger's vote on a symbol.
type TriggerResult struct {
	ID       TriggerID          `json:"id"`
	Name     string             `json:"name"`
	Signal   Signal             `json:"signal"`
	Strength Strength           `json:"strength"`
	Score    int                `json:"score"` // 0..10
	Details  string             `json:"details,omitempty"`
	Values   map[string]float64 `json:"values,omitempty"`
}

type verdict struct {
	signal   Signal
	strength Strength
	score    int
	details  string
}

func bull(st Strength, score int, format string, args ...interface{}) verdict {
	return verdict{Bullish, st, score, fmt.Sprintf(format, args...)}
}

func bear(st Strength, score int, format string, args ...interface{}) verdict {
	return verdict{Bearish, st, score, fmt.Sprintf(format, args...)}
}

func flat() verdict {
	return verdict{Neutral, None, 0, ""}
}

type triggerDef struct {
	id   TriggerID
	name string
	eval func(*Snapshot) verdict
}

// triggerTable defines all 42 triggers in order. The weighting tiers live in
// score.go; this table holds only the per-trigger threshold logic.
var triggerTable = []triggerDef{
	{T01, "value accumulation", func(s *Snapshot) verdict {
		// Steady 1.5-3.5x trading-value growth reads as quiet accumulation;
		// beyond that it is usually a one-day blowoff, not accumulation.
		switch {
		case s.TVRatio >= 2.5 && s.TVRatio <= 3.5:
			return bull(VeryStrong, 9, "TV5/TV20 %.2f", s.TVRatio)
		case s.TVRatio >= 1.5 && s.TVRatio < 2.5:
			return bull(Strong, 7, "TV5/TV20 %.2f", s.TVRatio)
		case s.TVRatio >= 1.2 && s.TVRatio < 1.5:
			return bull(Moderate, 5, "TV5/TV20 %.2f", s.TVRatio)
		case s.TVRatio > 0 && s.TVRatio < 0.6:
			return bear(Moderate, 5, "trading value drying up, TV5/TV20 %.2f", s.TVRatio)
		}
		return flat()
	}},
	{T02, "trading value spike", func(s *Snapshot) verdict {
		switch {
		case s.TVSpike >= 10:
			return bull(VeryStrong, 10, "trading value %.1fx its 20-day average", s.TVSpike)
		case s.TVSpike >= 5:
			return bull(Strong, 8, "trading value %.1fx its 20-day average", s.TVSpike)
		case s.TVSpike >= 3:
			return bull(Moderate, 6, "trading value %.1fx its 20-day average", s.TVSpike)
		}
		return flat()
	}},
	{T03, "OBV trend", func(s *Snapshot) verdict {
		pos := 0
		for _, v := range []float64{s.OBVSlope5, s.OBVSlope10, s.OBVSlope23, s.OBVSlope56} {
			if v > 0 {
				pos++
			}
		}
		switch pos {
		case 4:
			return bull(VeryStrong, 9, "OBV rising across all horizons")
		case 3:
			return bull(Strong, 7, "OBV rising on 3 of 4 horizons")
		case 1:
			return bear(Weak, 3, "OBV falling on 3 of 4 horizons")
		case 0:
			return bear(Strong, 7, "OBV falling across all horizons")
		}
		return flat()
	}},
	{T04, "volume trend", func(s *Snapshot) verdict {
		switch {
		case s.VolumeRatio >= 2:
			return bull(Strong, 7, "volume MA5/MA20 %.2f", s.VolumeRatio)
		case s.VolumeRatio >= 1.3:
			return bull(Moderate, 5, "volume MA5/MA20 %.2f", s.VolumeRatio)
		case s.VolumeRatio > 0 && s.VolumeRatio < 0.5:
			return bear(Weak, 3, "volume contraction, MA5/MA20 %.2f", s.VolumeRatio)
		}
		return flat()
	}},
	{T05, "volume spike", func(s *Snapshot) verdict {
		switch {
		case s.VolumeSpike >= 8:
			return bull(VeryStrong, 9, "volume %.1fx 20-day average", s.VolumeSpike)
		case s.VolumeSpike >= 4:
			return bull(Strong, 7, "volume %.1fx 20-day average", s.VolumeSpike)
		case s.VolumeSpike >= 2.5:
			return bull(Moderate, 5, "volume %.1fx 20-day average", s.VolumeSpike)
		}
		return flat()
	}},
	{T06, "short-term OBV thrust", func(s *Snapshot) verdict {
		if s.VolumeMA5 <= 0 {
			return flat()
		}
		norm := s.OBVSlope5 / (s.VolumeMA5 * 5)
		switch {
		case norm >= 0.6:
			return bull(Strong, 7, "OBV gained %.0f%% of 5-day volume", norm*100)
		case norm >= 0.3:
			return bull(Moderate, 5, "OBV gained %.0f%% of 5-day volume", norm*100)
		case norm <= -0.6:
			return bear(Strong, 7, "OBV lost %.0f%% of 5-day volume", -norm*100)
		case norm <= -0.3:
			return bear(Moderate, 5, "OBV lost %.0f%% of 5-day volume", -norm*100)
		}
		return flat()
	}},
	{T07, "OBV/price divergence", func(s *Snapshot) verdict {
		priceUp := float64(s.Close) > s.MA20 && s.MA20 > 0
		switch {
		case !priceUp && s.OBVSlope23 > 0:
			return bull(Strong, 7, "OBV rising while price sits below MA20")
		case priceUp && s.OBVSlope23 < 0:
			return bear(Strong, 7, "OBV falling while price holds above MA20")
		}
		return flat()
	}},
	{T08, "money flow (CMF)", func(s *Snapshot) verdict {
		switch {
		case s.CMF20 >= 0.25:
			return bull(VeryStrong, 9, "CMF20 %.2f", s.CMF20)
		case s.CMF20 >= 0.1:
			return bull(Strong, 7, "CMF20 %.2f", s.CMF20)
		case s.CMF20 >= 0.05:
			return bull(Moderate, 5, "CMF20 %.2f", s.CMF20)
		case s.CMF20 <= -0.25:
			return bear(VeryStrong, 9, "CMF20 %.2f", s.CMF20)
		case s.CMF20 <= -0.1:
			return bear(Strong, 7, "CMF20 %.2f", s.CMF20)
		}
		return flat()
	}},
	{T09, "moving average alignment", func(s *Snapshot) verdict {
		if s.MA60 == 0 {
			return flat()
		}
		price := float64(s.Close)
		switch {
		case price > s.MA5 && s.MA5 > s.MA20 && s.MA20 > s.MA60:
			return bull(VeryStrong, 9, "price > MA5 > MA20 > MA60")
		case price > s.MA20 && s.MA20 > s.MA60:
			return bull(Strong, 7, "price > MA20 > MA60")
		case price < s.MA5 && s.MA5 < s.MA20 && s.MA20 < s.MA60:
			return bear(VeryStrong, 9, "price < MA5 < MA20 < MA60")
		case price < s.MA20 && s.MA20 < s.MA60:
			return bear(Strong, 7, "price < MA20 < MA60")
		}
		return flat()
	}},
	{T10, "MA20 slope", func(s *Snapshot) verdict {
		if s.MA20 == 0 || s.MA5 == 0 {
			return flat()
		}
		// MA5 vs MA20 gap approximates the short-term slope of the trend.
		gap := (s.MA5 - s.MA20) / s.MA20 * 100
		switch {
		case gap >= 5:
			return bull(Strong, 7, "MA5 %.1f%% above MA20", gap)
		case gap >= 2:
			return bull(Moderate, 5, "MA5 %.1f%% above MA20", gap)
		case gap <= -5:
			return bear(Strong, 7, "MA5 %.1f%% below MA20", -gap)
		case gap <= -2:
			return bear(Moderate, 5, "MA5 %.1f%% below MA20", -gap)
		}
		return flat()
	}},
	{T11, "golden/dead cross", func(s *Snapshot) verdict {
		if s.MA5 == 0 || s.MA20 == 0 {
			return flat()
		}
		gap := (s.MA5 - s.MA20) / s.MA20 * 100
		// Only a fresh cross matters; a wide gap is already covered by T-10.
		switch {
		case gap > 0 && gap <= 1.5:
			return bull(Strong, 7, "MA5 just crossed above MA20 (gap %.2f%%)", gap)
		case gap < 0 && gap >= -1.5:
			return bear(Strong, 7, "MA5 just crossed below MA20 (gap %.2f%%)", -gap)
		}
		return flat()
	}},
	{T12, "MA60 support test", func(s *Snapshot) verdict {
		if s.MA60 == 0 {
			return flat()
		}
		dev := pctDev(float64(s.Close), s.MA60)
		switch {
		case dev >= 0 && dev <= 2:
			return bull(Strong, 7, "holding %.1f%% above MA60", dev)
		case dev < 0 && dev >= -2:
			return bear(Moderate, 5, "testing MA60 from below (%.1f%%)", dev)
		}
		return flat()
	}},
	{T13, "AVWAP-20 position", func(s *Snapshot) verdict {
		if s.AVWAP20 == 0 {
			return flat()
		}
		switch {
		case s.AVWAP20Dev >= -3 && s.AVWAP20Dev <= 0:
			return bull(Strong, 7, "%.1f%% below AVWAP20, buyers defended", s.AVWAP20Dev)
		case s.AVWAP20Dev > 0 && s.AVWAP20Dev <= 5:
			return bull(Moderate, 5, "%.1f%% above AVWAP20", s.AVWAP20Dev)
		case s.AVWAP20Dev < -8:
			return bear(Strong, 7, "%.1f%% below AVWAP20", s.AVWAP20Dev)
		}
		return flat()
	}},
	{T14, "AVWAP-60 position", func(s *Snapshot) verdict {
		if s.AVWAP60 == 0 {
			return flat()
		}
		switch {
		case s.AVWAP60Dev >= -5 && s.AVWAP60Dev <= 0:
			return bull(VeryStrong, 9, "%.1f%% below AVWAP60, prime reclaim zone", s.AVWAP60Dev)
		case s.AVWAP60Dev > 0 && s.AVWAP60Dev <= 8:
			return bull(Strong, 7, "%.1f%% above AVWAP60", s.AVWAP60Dev)
		case s.AVWAP60Dev < -12:
			return bear(Strong, 7, "%.1f%% below AVWAP60", s.AVWAP60Dev)
		}
		return flat()
	}},
	{T15, "AVWAP extreme deviation", func(s *Snapshot) verdict {
		if s.AVWAP20 == 0 {
			return flat()
		}
		switch {
		case s.AVWAP20Dev >= 15:
			return bear(Strong, 7, "%.1f%% above AVWAP20, stretched", s.AVWAP20Dev)
		case s.AVWAP20Dev <= -15:
			return bull(Moderate, 5, "%.1f%% below AVWAP20, washed out", s.AVWAP20Dev)
		}
		return flat()
	}},
	{T16, "trend strength (ADX)", func(s *Snapshot) verdict {
		if s.ADX14 < 20 {
			return flat()
		}
		up := s.PlusDI14 > s.MinusDI
		switch {
		case s.ADX14 >= 40 && up:
			return bull(VeryStrong, 9, "ADX %.0f with +DI dominant", s.ADX14)
		case s.ADX14 >= 25 && up:
			return bull(Strong, 7, "ADX %.0f with +DI dominant", s.ADX14)
		case s.ADX14 >= 40 && !up:
			return bear(VeryStrong, 9, "ADX %.0f with -DI dominant", s.ADX14)
		case s.ADX14 >= 25 && !up:
			return bear(Strong, 7, "ADX %.0f with -DI dominant", s.ADX14)
		}
		return flat()
	}},
	{T17, "DI crossover", func(s *Snapshot) verdict {
		if s.PlusDI14 == 0 && s.MinusDI == 0 {
			return flat()
		}
		diff := s.PlusDI14 - s.MinusDI
		switch {
		case diff > 0 && diff <= 5:
			return bull(Moderate, 5, "+DI just overtook -DI (%.1f)", diff)
		case diff < 0 && diff >= -5:
			return bear(Moderate, 5, "-DI just overtook +DI (%.1f)", -diff)
		}
		return flat()
	}},
	{T18, "Bollinger %B", func(s *Snapshot) verdict {
		if s.BBUpper == 0 {
			return flat()
		}
		switch {
		case s.PercentB >= 100:
			return bull(Strong, 7, "closing above the upper band (%%B %.0f)", s.PercentB)
		case s.PercentB >= 80:
			return bull(Moderate, 5, "riding the upper band (%%B %.0f)", s.PercentB)
		case s.PercentB <= 0:
			return bear(Strong, 7, "closing below the lower band (%%B %.0f)", s.PercentB)
		case s.PercentB <= 20:
			return bear(Moderate, 5, "hugging the lower band (%%B %.0f)", s.PercentB)
		}
		return flat()
	}},
	{T19, "band expansion", func(s *Snapshot) verdict {
		if s.BBWP == 0 {
			return flat()
		}
		expanding := s.BBWP >= 80
		up := float64(s.Close) > s.BBMiddle
		switch {
		case expanding && up:
			return bull(Strong, 7, "bands expanding (BBWP %.0f) with price above the midline", s.BBWP)
		case expanding && !up:
			return bear(Strong, 7, "bands expanding (BBWP %.0f) with price below the midline", s.BBWP)
		}
		return flat()
	}},
	{T20, "TTM squeeze", func(s *Snapshot) verdict {
		if s.TTMSqueeze {
			return bull(VeryStrong, 9, "Bollinger inside Keltner, BBWP %.0f", s.BBWP)
		}
		if s.BBWP > 0 && s.BBWP <= 10 {
			return bull(Moderate, 5, "volatility compressed, BBWP %.0f", s.BBWP)
		}
		return flat()
	}},
	{T21, "volatility regime (ATR%)", func(s *Snapshot) verdict {
		switch {
		case s.ATRPct >= 8:
			return bear(Strong, 7, "ATR %.1f%% of price, disorderly tape", s.ATRPct)
		case s.ATRPct >= 5:
			return bear(Weak, 3, "ATR %.1f%% of price", s.ATRPct)
		case s.ATRPct > 0 && s.ATRPct <= 1.5:
			return bull(Weak, 3, "ATR %.1f%% of price, tight tape", s.ATRPct)
		}
		return flat()
	}},
	{T22, "money flow index", func(s *Snapshot) verdict {
		switch {
		case s.MFI14 >= 85:
			return bear(Strong, 7, "MFI %.0f overbought", s.MFI14)
		case s.MFI14 >= 70:
			return bear(Weak, 3, "MFI %.0f elevated", s.MFI14)
		case s.MFI14 > 0 && s.MFI14 <= 15:
			return bull(Strong, 7, "MFI %.0f oversold", s.MFI14)
		case s.MFI14 > 0 && s.MFI14 <= 30:
			return bull(Weak, 3, "MFI %.0f depressed", s.MFI14)
		}
		return flat()
	}},
	{T23, "RSI zone", func(s *Snapshot) verdict {
		switch {
		case s.RSI14 >= 80:
			return bear(Strong, 7, "RSI %.0f", s.RSI14)
		case s.RSI14 >= 70:
			return bear(Weak, 3, "RSI %.0f", s.RSI14)
		case s.RSI14 > 0 && s.RSI14 <= 20:
			return bull(Strong, 7, "RSI %.0f", s.RSI14)
		case s.RSI14 > 0 && s.RSI14 <= 30:
			return bull(Weak, 3, "RSI %.0f", s.RSI14)
		}
		return flat()
	}},
	{T24, "RSI momentum band", func(s *Snapshot) verdict {
		switch {
		case s.RSI14 >= 55 && s.RSI14 < 70:
			return bull(Moderate, 5, "RSI %.0f in the bull band", s.RSI14)
		case s.RSI14 > 30 && s.RSI14 <= 45:
			return bear(Moderate, 5, "RSI %.0f in the bear band", s.RSI14)
		}
		return flat()
	}},
	{T25, "up/down volume ratio", func(s *Snapshot) verdict {
		switch {
		case s.UDVR60 >= 2:
			return bull(Strong, 7, "UDVR60 %.2f", s.UDVR60)
		case s.UDVR60 >= 1.4:
			return bull(Moderate, 5, "UDVR60 %.2f", s.UDVR60)
		case s.UDVR60 > 0 && s.UDVR60 <= 0.5:
			return bear(Strong, 7, "UDVR60 %.2f", s.UDVR60)
		case s.UDVR60 > 0 && s.UDVR60 <= 0.7:
			return bear(Moderate, 5, "UDVR60 %.2f", s.UDVR60)
		}
		return flat()
	}},
	{T26, "relative volume 20", func(s *Snapshot) verdict {
		switch {
		case s.RVOL20 >= 3:
			return bull(Strong, 7, "RVOL20 %.1f", s.RVOL20)
		case s.RVOL20 >= 1.8:
			return bull(Moderate, 5, "RVOL20 %.1f", s.RVOL20)
		}
		return flat()
	}},
	{T27, "relative volume 50", func(s *Snapshot) verdict {
		switch {
		case s.RVOL50 >= 3:
			return bull(Strong, 7, "RVOL50 %.1f", s.RVOL50)
		case s.RVOL50 >= 1.8:
			return bull(Moderate, 5, "RVOL50 %.1f", s.RVOL50)
		}
		return flat()
	}},
	{T28, "close location value", func(s *Snapshot) verdict {
		switch {
		case s.CLV >= 0.7:
			return bull(Moderate, 5, "closed near the high (CLV %.2f)", s.CLV)
		case s.CLV <= -0.7:
			return bear(Moderate, 5, "closed near the low (CLV %.2f)", s.CLV)
		}
		return flat()
	}},
	{T29, "52-week range position", func(s *Snapshot) verdict {
		switch {
		case s.Position52W >= 85:
			return bull(Moderate, 5, "at %.0f%% of the 52-week range", s.Position52W)
		case s.Position52W > 0 && s.Position52W <= 15:
			return bear(Moderate, 5, "at %.0f%% of the 52-week range", s.Position52W)
		}
		return flat()
	}},
	{T30, "52-week high breakout", func(s *Snapshot) verdict {
		if s.High52W == 0 {
			return flat()
		}
		dev := pctDev(float64(s.Close), float64(s.High52W))
		if dev >= -2 {
			return bull(Strong, 7, "within %.1f%% of the 52-week high", -dev)
		}
		return flat()
	}},
	{T31, "52-week low proximity", func(s *Snapshot) verdict {
		if s.Low52W == 0 {
			return flat()
		}
		dev := pctDev(float64(s.Close), float64(s.Low52W))
		if dev <= 3 {
			return bear(Strong, 7, "within %.1f%% of the 52-week low", dev)
		}
		return flat()
	}},
	{T32, "opening gap", func(s *Snapshot) verdict {
		switch {
		case s.GapPct >= 5:
			return bull(Strong, 7, "gapped up %.1f%%", s.GapPct)
		case s.GapPct >= 2:
			return bull(Moderate, 5, "gapped up %.1f%%", s.GapPct)
		case s.GapPct <= -5:
			return bear(Strong, 7, "gapped down %.1f%%", -s.GapPct)
		case s.GapPct <= -2:
			return bear(Moderate, 5, "gapped down %.1f%%", -s.GapPct)
		}
		return flat()
	}},
	{T33, "candle body", func(s *Snapshot) verdict {
		rng := s.High - s.Low
		if rng <= 0 {
			return flat()
		}
		body := float64(s.Close-s.Open) / float64(rng)
		switch {
		case body >= 0.7:
			return bull(Moderate, 5, "wide bullish body (%.0f%% of range)", body*100)
		case body <= -0.7:
			return bear(Moderate, 5, "wide bearish body (%.0f%% of range)", -body*100)
		}
		return flat()
	}},
	{T34, "consecutive up days", func(s *Snapshot) verdict {
		switch {
		case s.ConsecutiveUp >= 7:
			return bear(Weak, 3, "%d straight up days, extension risk", s.ConsecutiveUp)
		case s.ConsecutiveUp >= 3:
			return bull(Moderate, 5, "%d straight up days", s.ConsecutiveUp)
		}
		return flat()
	}},
	{T35, "price vs MA120", func(s *Snapshot) verdict {
		if s.MA120 == 0 {
			return flat()
		}
		dev := pctDev(float64(s.Close), s.MA120)
		switch {
		case dev >= 0 && dev <= 15:
			return bull(Moderate, 5, "%.1f%% above MA120", dev)
		case dev > 15:
			return bull(Weak, 3, "%.1f%% above MA120, extended", dev)
		case dev < -10:
			return bear(Moderate, 5, "%.1f%% below MA120", dev)
		}
		return flat()
	}},
	{T36, "long-trend slope", func(s *Snapshot) verdict {
		if s.MA60 == 0 || s.MA120 == 0 {
			return flat()
		}
		gap := (s.MA60 - s.MA120) / s.MA120 * 100
		switch {
		case gap >= 3:
			return bull(Moderate, 5, "MA60 %.1f%% above MA120", gap)
		case gap <= -3:
			return bear(Moderate, 5, "MA60 %.1f%% below MA120", -gap)
		}
		return flat()
	}},
	{T37, "distribution blowoff", func(s *Snapshot) verdict {
		// Beyond T-01's accumulation band, extreme turnover usually marks
		// distribution into strength.
		if s.TVRatio > 3.5 {
			return bear(Moderate, 5, "TV5/TV20 %.2f beyond accumulation range", s.TVRatio)
		}
		return flat()
	}},
	{T38, "long OBV trend", func(s *Snapshot) verdict {
		switch {
		case s.OBVSlope56 > 0 && s.OBVSlope23 > 0:
			return bull(Moderate, 5, "OBV rising on 23 and 56 day horizons")
		case s.OBVSlope56 < 0 && s.OBVSlope23 < 0:
			return bear(Moderate, 5, "OBV falling on 23 and 56 day horizons")
		}
		return flat()
	}},
	{T39, "Keltner position", func(s *Snapshot) verdict {
		if s.KeltnerUpper == 0 {
			return flat()
		}
		price := float64(s.Close)
		switch {
		case price > s.KeltnerUpper:
			return bull(Moderate, 5, "closing above the Keltner upper band")
		case price < s.KeltnerLower:
			return bear(Moderate, 5, "closing below the Keltner lower band")
		}
		return flat()
	}},
	{T40, "range expansion day", func(s *Snapshot) verdict {
		if s.ATR14 <= 0 {
			return flat()
		}
		rng := float64(s.High - s.Low)
		ratio := rng / s.ATR14
		if ratio < 2 {
			return flat()
		}
		if s.CLV >= 0 {
			return bull(Moderate, 5, "range %.1fx ATR closing firm", ratio)
		}
		return bear(Moderate, 5, "range %.1fx ATR closing weak", ratio)
	}},
	{T41, "money flow vs price", func(s *Snapshot) verdict {
		aboveMA := s.MA20 > 0 && float64(s.Close) > s.MA20
		switch {
		case !aboveMA && s.MFI14 >= 55:
			return bull(Moderate, 5, "money flowing in below MA20 (MFI %.0f)", s.MFI14)
		case aboveMA && s.MFI14 > 0 && s.MFI14 <= 40:
			return bear(Moderate, 5, "money leaking out above MA20 (MFI %.0f)", s.MFI14)
		}
		return flat()
	}},
	{T42, "volume dry-up", func(s *Snapshot) verdict {
		if s.VolumeRatio <= 0 || s.MA20 == 0 {
			return flat()
		}
		nearSupport := pctDev(float64(s.Close), s.MA20) >= -3 && pctDev(float64(s.Close), s.MA20) <= 3
		if s.VolumeRatio < 0.5 && nearSupport {
			return bull(Weak, 3, "volume dried to %.0f%% of normal at MA20", s.VolumeRatio*100)
		}
		return flat()
	}},
}

// EvaluateTriggers runs all 42 triggers against the snapshot in ID order.
// An empty snapshot yields an empty list.
func EvaluateTriggers(s *Snapshot) []TriggerResult {
	if s == nil || s.Empty() {
		return nil
	}
	results := make([]TriggerResult, 0, len(triggerTable))
	for _, def := range triggerTable {
		v := def.eval(s)
		results = append(results, TriggerResult{
			ID:       def.id,
			Name:     def.name,
			Signal:   v.signal,
			Strength: v.strength,
			Score:    v.score,
			Details:  v.details,
		})
	}
	return results
}
