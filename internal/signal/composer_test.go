package signal

import (
	"math"
	"testing"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/sentiment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, 5, 6, 14, 30, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

// neutralSnapshot has every indicator available and no indicator voting.
func neutralSnapshot() *entity.TechnicalSnapshot {
	return &entity.TechnicalSnapshot{
		Ticker: "AAA", Timestamp: at,
		SMA20: f(100), SMA50: f(100), SMA200: f(100), EMA20: f(100), EMA50: f(100),
		RSI: f(50), MACD: f(0), MACDSignal: f(0), MACDHist: f(0),
		StochK: f(50), StochD: f(50),
		BollingerUpper: f(110), BollingerMiddle: f(100), BollingerLower: f(90),
		ADX: f(20), CCI: f(0), WilliamsR: f(-50), OBV: f(0), ATR: f(2), VolumeRatio: f(1),
	}
}

// halfBullish nets +50 of 100 available weight.
func halfBullish() *entity.TechnicalSnapshot {
	s := neutralSnapshot()
	s.SMA50, s.SMA200 = f(95), f(90)
	s.MACDHist = f(0.5)
	s.WilliamsR = f(-85)
	return s
}

func halfBearish() *entity.TechnicalSnapshot {
	s := neutralSnapshot()
	s.SMA50, s.SMA200 = f(105), f(110)
	s.MACDHist = f(-0.5)
	s.WilliamsR = f(-10)
	return s
}

func allBearish() *entity.TechnicalSnapshot {
	s := neutralSnapshot()
	s.SMA50, s.SMA200 = f(105), f(110)
	s.EMA20, s.EMA50 = f(99), f(101)
	s.MACDHist = f(-1)
	s.RSI = f(80)
	s.StochK, s.StochD = f(85), f(90)
	s.BollingerUpper, s.BollingerLower = f(98), f(80)
	s.WilliamsR = f(-10)
	s.CCI = f(150)
	return s
}

func input(snap *entity.TechnicalSnapshot, agg sentiment.Aggregate) Input {
	return Input{
		Stock:     entity.Stock{Ticker: "AAA", Name: "Triple A", Sector: "Tech"},
		Price:     entity.PricePoint{Ticker: "aaa", Timestamp: at, Open: 99, High: 101, Low: 98, Close: 100, Volume: 1200},
		Snapshot:  snap,
		Sentiment: agg,
		At:        at,
	}
}

func negligible() sentiment.Aggregate {
	return sentiment.Aggregate{Ticker: "AAA", Impact: entity.ImpactNegligible}
}

func TestCompose_Thresholds(t *testing.T) {
	c := NewComposer(DefaultConfig(), nil, nil)

	cases := []struct {
		name       string
		snap       *entity.TechnicalSnapshot
		score      float64
		signal     entity.SignalType
		confidence float64
	}{
		{"bullish", halfBullish(), 75, entity.SignalBullish, 100},
		{"neutral", neutralSnapshot(), 50, entity.SignalNeutral, 30},
		{"bearish", halfBearish(), 25, entity.SignalBearish, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig, err := c.Compose(input(tc.snap, negligible()))
			require.NoError(t, err)
			assert.InDelta(t, tc.score, sig.ScreeningScore, 1e-9)
			assert.Equal(t, tc.signal, sig.SignalType)
			assert.InDelta(t, tc.confidence, sig.Confidence, 1e-9)
			assert.Equal(t, "AAA", sig.Ticker)
			assert.Equal(t, "composite-v1", sig.ModelVersion)
			assert.Equal(t, at, sig.Timestamp)
			assert.Equal(t, entity.ImpactNegligible, sig.SentimentImpact)
			require.NoError(t, sig.Validate())
		})
	}
}

func TestCompose_SentimentAdjustmentIsCapped(t *testing.T) {
	c := NewComposer(DefaultConfig(), nil, nil)

	up, err := c.Compose(input(neutralSnapshot(), sentiment.Aggregate{Score: 1, Confidence: 1, Impact: entity.ImpactImmediate, NewsCount: 3}))
	require.NoError(t, err)
	assert.InDelta(t, 60, up.ScreeningScore, 1e-9)
	assert.Equal(t, entity.SignalBullish, up.SignalType)
	assert.Equal(t, 3, up.NewsCount)

	down, err := c.Compose(input(neutralSnapshot(), sentiment.Aggregate{Score: -1, Confidence: 1, Impact: entity.ImpactShortTerm}))
	require.NoError(t, err)
	assert.InDelta(t, 40, down.ScreeningScore, 1e-9)
	assert.Equal(t, entity.SignalBearish, down.SignalType)

	mild, err := c.Compose(input(neutralSnapshot(), sentiment.Aggregate{Score: 0.2, Confidence: 0.5, Impact: entity.ImpactLongTerm}))
	require.NoError(t, err)
	assert.InDelta(t, 52, mild.ScreeningScore, 1e-9)

	ignored, err := c.Compose(input(neutralSnapshot(), sentiment.Aggregate{Score: 1, Confidence: 1, Impact: entity.ImpactNegligible}))
	require.NoError(t, err)
	assert.InDelta(t, 50, ignored.ScreeningScore, 1e-9)
}

func TestCompose_ScoreIsClamped(t *testing.T) {
	c := NewComposer(DefaultConfig(), nil, nil)
	sig, err := c.Compose(input(allBearish(), sentiment.Aggregate{Score: -1, Confidence: 1, Impact: entity.ImpactImmediate}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, sig.ScreeningScore)
	assert.Equal(t, entity.SignalBearish, sig.SignalType)
	assert.InDelta(t, 100, sig.Confidence, 1e-9)
	require.NoError(t, sig.Validate())
}

func TestCompose_Projections(t *testing.T) {
	c := NewComposer(DefaultConfig(), nil, nil)

	sig, err := c.Compose(input(halfBullish(), negligible()))
	require.NoError(t, err)
	require.NotNil(t, sig.PredictedPrice1h)
	require.NotNil(t, sig.PredictedPrice1d)
	require.NotNil(t, sig.PredictedPrice1w)
	// d = 0.5, ATR/price = 0.02
	assert.InDelta(t, 100*math.Exp(0.005), *sig.PredictedPrice1d, 1e-9)
	assert.InDelta(t, 100*math.Exp(0.005*math.Sqrt(5)), *sig.PredictedPrice1w, 1e-9)
	assert.InDelta(t, 100*math.Exp(0.005*math.Sqrt(1/6.5)), *sig.PredictedPrice1h, 1e-9)
	assert.Less(t, *sig.PredictedPrice1h, *sig.PredictedPrice1d)
	assert.Less(t, *sig.PredictedPrice1d, *sig.PredictedPrice1w)

	neutral, err := c.Compose(input(neutralSnapshot(), negligible()))
	require.NoError(t, err)
	assert.InDelta(t, 100, *neutral.PredictedPrice1w, 1e-9)

	noATR := halfBullish()
	noATR.ATR = nil
	sig, err = c.Compose(input(noATR, negligible()))
	require.NoError(t, err)
	assert.Nil(t, sig.PredictedPrice1h)
	assert.Nil(t, sig.PredictedPrice1d)
	assert.Nil(t, sig.PredictedPrice1w)
}

func TestCompose_PartialCoverage(t *testing.T) {
	c := NewComposer(DefaultConfig(), nil, nil)
	snap := &entity.TechnicalSnapshot{Ticker: "AAA", Timestamp: at, SMA50: f(90), RSI: f(50)}

	sig, err := c.Compose(input(snap, negligible()))
	require.NoError(t, err)
	// 15 of 30 available weight votes bullish
	assert.InDelta(t, 75, sig.ScreeningScore, 1e-9)
	assert.InDelta(t, 30, sig.Confidence, 1e-9)
	assert.Nil(t, sig.BollingerPosition)
	assert.Equal(t, []string{"price above SMA50"}, []string(sig.PrimaryReasons))
}

func TestCompose_WarmUpIsComputeError(t *testing.T) {
	c := NewComposer(DefaultConfig(), nil, nil)

	_, err := c.Compose(input(&entity.TechnicalSnapshot{Ticker: "AAA", Timestamp: at, OBV: f(10)}, negligible()))
	assert.ErrorIs(t, err, entity.ErrCompute)

	_, err = c.Compose(input(nil, negligible()))
	assert.ErrorIs(t, err, entity.ErrCompute)
}

func TestCompose_InvalidCandidateIsComputeError(t *testing.T) {
	c := NewComposer(DefaultConfig(), nil, nil)
	in := input(halfBullish(), negligible())
	in.Price.Volume = -1

	_, err := c.Compose(in)
	assert.ErrorIs(t, err, entity.ErrCompute)
	assert.ErrorIs(t, err, entity.ErrValidation)
}

func TestCompose_Reasons(t *testing.T) {
	c := NewComposer(DefaultConfig(), nil, nil)

	sig, err := c.Compose(input(allBearish(), negligible()))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"price below SMA50",
		"SMA50 below SMA200 (death cross)",
		"MACD histogram negative",
		"RSI overbought (80.0)",
		"EMA20 below EMA50",
	}, []string(sig.PrimaryReasons))

	trending := neutralSnapshot()
	trending.ADX = f(30)
	sig, err = c.Compose(input(trending, sentiment.Aggregate{Score: 0.8, Confidence: 1, Impact: entity.ImpactImmediate}))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"sentiment: strong positive, immediate",
		"strong trend (ADX 30.0)",
	}, []string(sig.PrimaryReasons))
	assert.InDelta(t, 35, sig.Confidence, 1e-9)
}

func TestCompose_BollingerPosition(t *testing.T) {
	c := NewComposer(DefaultConfig(), nil, nil)
	sig, err := c.Compose(input(neutralSnapshot(), negligible()))
	require.NoError(t, err)
	require.NotNil(t, sig.BollingerPosition)
	assert.InDelta(t, 0.5, *sig.BollingerPosition, 1e-12)
	assert.Equal(t, "Tech", sig.Sector)
}

func TestCompose_HeikinAshiConfirmation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxReasons = 10
	c := NewComposer(cfg, nil, nil)

	mixed := halfBullish()
	mixed.RSI = f(80)
	base, err := c.Compose(input(mixed, negligible()))
	require.NoError(t, err)

	run := *mixed
	run.HAOpen, run.HAClose, run.HATrend = f(99), f(100), 3
	sig, err := c.Compose(input(&run, negligible()))
	require.NoError(t, err)
	assert.InDelta(t, base.Confidence+5, sig.Confidence, 1e-9)
	assert.Equal(t, base.ScreeningScore, sig.ScreeningScore)
	assert.Contains(t, []string(sig.PrimaryReasons), "Heikin-Ashi bullish run (3 candles)")

	against := *mixed
	against.HAOpen, against.HAClose, against.HATrend, against.HAPattern = f(101), f(99), -1, entity.PatternStrongBear
	sig, err = c.Compose(input(&against, negligible()))
	require.NoError(t, err)
	assert.InDelta(t, base.Confidence-5, sig.Confidence, 1e-9)
	assert.NotContains(t, []string(sig.PrimaryReasons), "strong bearish Heikin-Ashi candle")

	// no net direction to confirm
	flat := neutralSnapshot()
	flat.HAOpen, flat.HAClose, flat.HATrend = f(99), f(100), 4
	neutral, err := c.Compose(input(neutralSnapshot(), negligible()))
	require.NoError(t, err)
	sig, err = c.Compose(input(flat, negligible()))
	require.NoError(t, err)
	assert.InDelta(t, neutral.Confidence, sig.Confidence, 1e-9)
	assert.Empty(t, sig.PrimaryReasons)
}

func TestCandleLean(t *testing.T) {
	cases := map[string]struct {
		snap   entity.TechnicalSnapshot
		lean   int
		reason string
	}{
		"warming up":    {entity.TechnicalSnapshot{HATrend: 5}, 0, ""},
		"strong bull":   {entity.TechnicalSnapshot{HAOpen: f(1), HAClose: f(2), HATrend: 1, HAPattern: entity.PatternStrongBull}, 1, "strong bullish Heikin-Ashi candle"},
		"bearish run":   {entity.TechnicalSnapshot{HAOpen: f(2), HAClose: f(1), HATrend: -4}, -1, "Heikin-Ashi bearish run (4 candles)"},
		"hammer":        {entity.TechnicalSnapshot{HAOpen: f(2), HAClose: f(1), HATrend: -1, HAPattern: entity.PatternHammer}, 1, "Heikin-Ashi hammer"},
		"shooting star": {entity.TechnicalSnapshot{HAOpen: f(1), HAClose: f(2), HATrend: 1, HAPattern: entity.PatternShootingStar}, -1, "Heikin-Ashi shooting star"},
		"turned":        {entity.TechnicalSnapshot{HAOpen: f(1), HAClose: f(2), HATrend: 1}, 1, "Heikin-Ashi turned bullish"},
		"doji":          {entity.TechnicalSnapshot{HAOpen: f(1), HAClose: f(1), HAPattern: entity.PatternDoji}, 0, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			lean, reason := candleLean(&tc.snap)
			assert.Equal(t, tc.lean, lean)
			assert.Equal(t, tc.reason, reason)
		})
	}
}
