package indicator

import (
	"math"
	"sort"

	"github.com/markcheno/go-talib"

	"krx-trading-bot/internal/broker"
)

// minBars is the floor below which no snapshot is produced. Callers treat an
// empty snapshot as an analysis failure.
const minBars = 20

// Snapshot holds the derived per-symbol indicator state. All price-denominated
// fields are float64 because they are averages of integer won prices.
type Snapshot struct {
	Symbol    string `json:"symbol"`
	BarCount  int    `json:"bar_count"`
	Close     int64  `json:"close"`
	PrevClose int64  `json:"prev_close"`
	Open      int64  `json:"open"`
	High      int64  `json:"high"`
	Low       int64  `json:"low"`
	Volume    int64  `json:"volume"`

	MA5   float64 `json:"ma5"`
	MA20  float64 `json:"ma20"`
	MA60  float64 `json:"ma60"`
	MA120 float64 `json:"ma120"`

	VolumeMA5      float64 `json:"volume_ma5"`
	VolumeMA20     float64 `json:"volume_ma20"`
	VolumeRatio    float64 `json:"volume_ratio"`     // VolumeMA5 / VolumeMA20
	VolumeSpike    float64 `json:"volume_spike"`     // today / VolumeMA20
	TradingValue   float64 `json:"trading_value"`    // today, won
	TVMA5          float64 `json:"tv_ma5"`
	TVMA20         float64 `json:"tv_ma20"`
	TVRatio        float64 `json:"tv_ratio"`         // TVMA5 / TVMA20
	TVSpike        float64 `json:"tv_spike"`         // today / TVMA20

	OBV        float64 `json:"obv"`
	OBVSlope5  float64 `json:"obv_slope5"`
	OBVSlope10 float64 `json:"obv_slope10"`
	OBVSlope23 float64 `json:"obv_slope23"`
	OBVSlope56 float64 `json:"obv_slope56"`

	AVWAP20    float64 `json:"avwap20"`
	AVWAP60    float64 `json:"avwap60"`
	AVWAP20Dev float64 `json:"avwap20_dev"` // percent deviation of close from AVWAP20
	AVWAP60Dev float64 `json:"avwap60_dev"`

	CMF20 float64 `json:"cmf20"`
	CLV   float64 `json:"clv"` // today's close location value, -1..+1

	ADX14    float64 `json:"adx14"`
	PlusDI14 float64 `json:"plus_di14"`
	MinusDI  float64 `json:"minus_di14"`

	BBUpper    float64 `json:"bb_upper"`
	BBMiddle   float64 `json:"bb_middle"`
	BBLower    float64 `json:"bb_lower"`
	BBWidth    float64 `json:"bb_width"` // (upper-lower)/middle * 100
	BBWP       float64 `json:"bbwp"`     // width percentile over the past year, 0..100
	PercentB   float64 `json:"percent_b"`
	TTMSqueeze bool    `json:"ttm_squeeze"`

	KeltnerUpper float64 `json:"keltner_upper"`
	KeltnerLower float64 `json:"keltner_lower"`

	ATR14  float64 `json:"atr14"`
	ATRPct float64 `json:"atr_pct"`

	MFI14 float64 `json:"mfi14"`
	RSI14 float64 `json:"rsi14"`

	UDVR60 float64 `json:"udvr60"` // up-day volume / down-day volume over 60 bars
	RVOL20 float64 `json:"rvol20"`
	RVOL50 float64 `json:"rvol50"`

	High52W     int64   `json:"high_52w"`
	Low52W      int64   `json:"low_52w"`
	Position52W float64 `json:"position_52w"` // 0 at the low, 100 at the high

	ConsecutiveUp int     `json:"consecutive_up"`
	GapPct        float64 `json:"gap_pct"` // today's open vs yesterday's close
}

// Empty reports whether the snapshot was built from insufficient data.
func (s *Snapshot) Empty() bool { return s.BarCount < minBars }

// BuildSnapshot derives the full indicator state from daily bars. Bars arrive
// latest-first, as the broker returns them. Fewer than 20 bars yields an
// empty snapshot.
func BuildSnapshot(symbol string, bars []broker.Bar) *Snapshot {
	snap := &Snapshot{Symbol: symbol, BarCount: len(bars)}
	if len(bars) < minBars {
		return snap
	}

	n := len(bars)
	opens := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	// Oldest-first for talib.
	for i, bar := range bars {
		j := n - 1 - i
		opens[j] = float64(bar.Open)
		highs[j] = float64(bar.High)
		lows[j] = float64(bar.Low)
		closes[j] = float64(bar.Close)
		volumes[j] = float64(bar.Volume)
	}

	today := bars[0]
	snap.Close = today.Close
	snap.Open = today.Open
	snap.High = today.High
	snap.Low = today.Low
	snap.Volume = today.Volume
	snap.PrevClose = bars[1].Close

	snap.MA5 = lastOf(talib.Sma(closes, 5))
	snap.MA20 = lastOf(talib.Sma(closes, 20))
	if n >= 60 {
		snap.MA60 = lastOf(talib.Sma(closes, 60))
	}
	if n >= 120 {
		snap.MA120 = lastOf(talib.Sma(closes, 120))
	}

	snap.VolumeMA5 = lastOf(talib.Sma(volumes, 5))
	snap.VolumeMA20 = lastOf(talib.Sma(volumes, 20))
	snap.VolumeRatio = safeDiv(snap.VolumeMA5, snap.VolumeMA20)
	snap.VolumeSpike = safeDiv(volumes[n-1], snap.VolumeMA20)

	tvs := make([]float64, n)
	for i := range tvs {
		tvs[i] = closes[i] * volumes[i]
	}
	snap.TradingValue = tvs[n-1]
	snap.TVMA5 = lastOf(talib.Sma(tvs, 5))
	snap.TVMA20 = lastOf(talib.Sma(tvs, 20))
	snap.TVRatio = safeDiv(snap.TVMA5, snap.TVMA20)
	snap.TVSpike = safeDiv(snap.TradingValue, snap.TVMA20)

	obv := talib.Obv(closes, volumes)
	snap.OBV = obv[n-1]
	snap.OBVSlope5 = slope(obv, 5)
	snap.OBVSlope10 = slope(obv, 10)
	snap.OBVSlope23 = slope(obv, 23)
	snap.OBVSlope56 = slope(obv, 56)

	snap.AVWAP20 = anchoredVWAP(highs, lows, closes, volumes, 20)
	snap.AVWAP20Dev = pctDev(closes[n-1], snap.AVWAP20)
	if n >= 60 {
		snap.AVWAP60 = anchoredVWAP(highs, lows, closes, volumes, 60)
		snap.AVWAP60Dev = pctDev(closes[n-1], snap.AVWAP60)
	}

	snap.CMF20 = chaikinMoneyFlow(highs, lows, closes, volumes, 20)
	snap.CLV = closeLocationValue(highs[n-1], lows[n-1], closes[n-1])

	snap.ADX14 = lastOf(talib.Adx(highs, lows, closes, 14))
	snap.PlusDI14 = lastOf(talib.PlusDI(highs, lows, closes, 14))
	snap.MinusDI = lastOf(talib.MinusDI(highs, lows, closes, 14))

	upper, middle, lower := talib.BBands(closes, 20, 2, 2, 0)
	snap.BBUpper = upper[n-1]
	snap.BBMiddle = middle[n-1]
	snap.BBLower = lower[n-1]
	if snap.BBMiddle > 0 {
		snap.BBWidth = (snap.BBUpper - snap.BBLower) / snap.BBMiddle * 100
	}
	if band := snap.BBUpper - snap.BBLower; band > 0 {
		snap.PercentB = (closes[n-1] - snap.BBLower) / band * 100
	}
	snap.BBWP = widthPercentile(upper, middle, lower)

	snap.ATR14 = lastOf(talib.Atr(highs, lows, closes, 14))
	snap.ATRPct = pctOf(snap.ATR14, closes[n-1])

	ema20 := lastOf(talib.Ema(closes, 20))
	atr20 := lastOf(talib.Atr(highs, lows, closes, 20))
	snap.KeltnerUpper = ema20 + 1.5*atr20
	snap.KeltnerLower = ema20 - 1.5*atr20
	snap.TTMSqueeze = snap.BBUpper > 0 && snap.KeltnerUpper > 0 &&
		snap.BBUpper <= snap.KeltnerUpper && snap.BBLower >= snap.KeltnerLower &&
		snap.BBWP > 0 && snap.BBWP <= 20

	snap.MFI14 = lastOf(talib.Mfi(highs, lows, closes, volumes, 14))
	snap.RSI14 = lastOf(talib.Rsi(closes, 14))

	snap.UDVR60 = upDownVolumeRatio(closes, volumes, 60)
	snap.RVOL20 = rvol(volumes, 20)
	if n >= 50 {
		snap.RVOL50 = rvol(volumes, 50)
	}

	lookback := 252
	if lookback > n {
		lookback = n
	}
	hi, lo := int64(0), int64(math.MaxInt64)
	for _, bar := range bars[:lookback] {
		if bar.High > hi {
			hi = bar.High
		}
		if bar.Low < lo {
			lo = bar.Low
		}
	}
	snap.High52W = hi
	snap.Low52W = lo
	if hi > lo {
		snap.Position52W = float64(today.Close-lo) / float64(hi-lo) * 100
	}

	// bars are latest-first, so walk forward while each close beats the prior day
	for i := 0; i+1 < len(bars); i++ {
		if bars[i].Close <= bars[i+1].Close {
			break
		}
		snap.ConsecutiveUp++
	}
	snap.GapPct = pctDev(float64(today.Open), float64(snap.PrevClose))

	return snap
}

func lastOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func pctDev(v, base float64) float64 {
	if base == 0 {
		return 0
	}
	return (v - base) / base * 100
}

func pctOf(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return part / whole * 100
}

// slope is the raw change of the series over the last n observations.
func slope(xs []float64, n int) float64 {
	if len(xs) <= n {
		return 0
	}
	return xs[len(xs)-1] - xs[len(xs)-1-n]
}

// anchoredVWAP computes the volume-weighted typical price anchored n bars back.
func anchoredVWAP(highs, lows, closes, volumes []float64, n int) float64 {
	if len(closes) < n {
		return 0
	}
	start := len(closes) - n
	var pv, vol float64
	for i := start; i < len(closes); i++ {
		typical := (highs[i] + lows[i] + closes[i]) / 3
		pv += typical * volumes[i]
		vol += volumes[i]
	}
	return safeDiv(pv, vol)
}

func closeLocationValue(high, low, close float64) float64 {
	if high == low {
		return 0
	}
	return ((close - low) - (high - close)) / (high - low)
}

func chaikinMoneyFlow(highs, lows, closes, volumes []float64, n int) float64 {
	if len(closes) < n {
		return 0
	}
	start := len(closes) - n
	var mfv, vol float64
	for i := start; i < len(closes); i++ {
		mfv += closeLocationValue(highs[i], lows[i], closes[i]) * volumes[i]
		vol += volumes[i]
	}
	return safeDiv(mfv, vol)
}

// widthPercentile ranks the latest Bollinger width against up to a year of
// prior widths, 0..100.
func widthPercentile(upper, middle, lower []float64) float64 {
	n := len(middle)
	lookback := 252
	if lookback > n {
		lookback = n
	}
	widths := make([]float64, 0, lookback)
	for i := n - lookback; i < n; i++ {
		if middle[i] > 0 {
			widths = append(widths, (upper[i]-lower[i])/middle[i])
		}
	}
	if len(widths) < 2 {
		return 0
	}
	current := widths[len(widths)-1]
	sorted := make([]float64, len(widths))
	copy(sorted, widths)
	sort.Float64s(sorted)
	rank := sort.SearchFloat64s(sorted, current)
	return float64(rank) / float64(len(sorted)-1) * 100
}

func upDownVolumeRatio(closes, volumes []float64, n int) float64 {
	if len(closes) < n+1 {
		return 0
	}
	var up, down float64
	for i := len(closes) - n; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			up += volumes[i]
		case closes[i] < closes[i-1]:
			down += volumes[i]
		}
	}
	if down == 0 {
		if up == 0 {
			return 1
		}
		return 99
	}
	return up / down
}

func rvol(volumes []float64, n int) float64 {
	if len(volumes) < n+1 {
		return 0
	}
	var sum float64
	for i := len(volumes) - 1 - n; i < len(volumes)-1; i++ {
		sum += volumes[i]
	}
	return safeDiv(volumes[len(volumes)-1], sum/float64(n))
}
