package signal

import (
	"fmt"
	"math"
	"sort"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/sentiment"
	"golang-stock-pulse/pkg/logger"
	"golang-stock-pulse/pkg/metrics"
)

// Config holds the composition constants.
type Config struct {
	ModelVersion     string  `mapstructure:"model_version" default:"composite-v1" validate:"required"`
	SentimentGain    float64 `mapstructure:"sentiment_gain" default:"20" validate:"gte=0"`
	MaxAdjustment    float64 `mapstructure:"max_adjustment" default:"10" validate:"gte=0,lte=50"`
	BullishThreshold float64 `mapstructure:"bullish_threshold" default:"60" validate:"gt=50,lte=100"`
	BearishThreshold float64 `mapstructure:"bearish_threshold" default:"40" validate:"gte=0,lt=50"`
	StrongTrendADX   float64 `mapstructure:"strong_trend_adx" default:"25" validate:"gte=0,lte=100"`
	MaxReasons       int     `mapstructure:"max_reasons" default:"5" validate:"gte=1"`
	Parallelism      int     `mapstructure:"parallelism" default:"8" validate:"gte=1"`
}

func DefaultConfig() Config {
	return Config{
		ModelVersion:     "composite-v1",
		SentimentGain:    20,
		MaxAdjustment:    10,
		BullishThreshold: 60,
		BearishThreshold: 40,
		StrongTrendADX:   25,
		MaxReasons:       5,
		Parallelism:      8,
	}
}

const (
	tradingHoursPerDay = 6.5
	tradingDaysPerWeek = 5
	projectionScale    = 0.5
	strongTrendBonus   = 5
	candleBonus        = 5
	candleMinRun       = 2
)

// Input is everything known about one ticker at composition time.
type Input struct {
	Stock     entity.Stock
	Price     entity.PricePoint
	Snapshot  *entity.TechnicalSnapshot
	Sentiment sentiment.Aggregate
	At        time.Time
}

// vote is one indicator's opinion: +1 bullish, -1 bearish, 0 neutral.
type vote struct {
	weight float64
	value  int
	reason string
}

type rule struct {
	weight float64
	judge  func(p entity.PricePoint, s *entity.TechnicalSnapshot) (value int, reason string, ok bool)
}

// rules is ordered; ties in reason ranking keep this order.
var rules = []rule{
	{15, func(p entity.PricePoint, s *entity.TechnicalSnapshot) (int, string, bool) {
		if s.SMA50 == nil {
			return 0, "", false
		}
		return compare(p.Close, *s.SMA50, "price above SMA50", "price below SMA50")
	}},
	{15, func(_ entity.PricePoint, s *entity.TechnicalSnapshot) (int, string, bool) {
		if s.SMA50 == nil || s.SMA200 == nil {
			return 0, "", false
		}
		return compare(*s.SMA50, *s.SMA200, "SMA50 above SMA200 (golden cross)", "SMA50 below SMA200 (death cross)")
	}},
	{10, func(_ entity.PricePoint, s *entity.TechnicalSnapshot) (int, string, bool) {
		if s.EMA20 == nil || s.EMA50 == nil {
			return 0, "", false
		}
		return compare(*s.EMA20, *s.EMA50, "EMA20 above EMA50", "EMA20 below EMA50")
	}},
	{15, func(_ entity.PricePoint, s *entity.TechnicalSnapshot) (int, string, bool) {
		if s.MACDHist == nil {
			return 0, "", false
		}
		return compare(*s.MACDHist, 0, "MACD histogram positive", "MACD histogram negative")
	}},
	{15, func(_ entity.PricePoint, s *entity.TechnicalSnapshot) (int, string, bool) {
		if s.RSI == nil {
			return 0, "", false
		}
		switch {
		case *s.RSI < 30:
			return 1, fmt.Sprintf("RSI oversold (%.1f)", *s.RSI), true
		case *s.RSI > 70:
			return -1, fmt.Sprintf("RSI overbought (%.1f)", *s.RSI), true
		}
		return 0, "", true
	}},
	{10, func(_ entity.PricePoint, s *entity.TechnicalSnapshot) (int, string, bool) {
		if s.StochK == nil || s.StochD == nil {
			return 0, "", false
		}
		k, d := *s.StochK, *s.StochD
		switch {
		case k < 20 && k > d:
			return 1, fmt.Sprintf("stochastic turning up from oversold (%%K %.1f)", k), true
		case k > 80 && k < d:
			return -1, fmt.Sprintf("stochastic turning down from overbought (%%K %.1f)", k), true
		}
		return 0, "", true
	}},
	{10, func(p entity.PricePoint, s *entity.TechnicalSnapshot) (int, string, bool) {
		if s.BollingerUpper == nil || s.BollingerLower == nil {
			return 0, "", false
		}
		switch {
		case p.Close < *s.BollingerLower:
			return 1, "price below lower Bollinger band", true
		case p.Close > *s.BollingerUpper:
			return -1, "price above upper Bollinger band", true
		}
		return 0, "", true
	}},
	{5, func(_ entity.PricePoint, s *entity.TechnicalSnapshot) (int, string, bool) {
		if s.WilliamsR == nil {
			return 0, "", false
		}
		switch {
		case *s.WilliamsR < -80:
			return 1, fmt.Sprintf("Williams %%R oversold (%.1f)", *s.WilliamsR), true
		case *s.WilliamsR > -20:
			return -1, fmt.Sprintf("Williams %%R overbought (%.1f)", *s.WilliamsR), true
		}
		return 0, "", true
	}},
	{5, func(_ entity.PricePoint, s *entity.TechnicalSnapshot) (int, string, bool) {
		if s.CCI == nil {
			return 0, "", false
		}
		switch {
		case *s.CCI < -100:
			return 1, fmt.Sprintf("CCI oversold (%.0f)", *s.CCI), true
		case *s.CCI > 100:
			return -1, fmt.Sprintf("CCI overbought (%.0f)", *s.CCI), true
		}
		return 0, "", true
	}},
}

// candleLean reads the Heikin-Ashi candle of a snapshot. A strong candle, a
// run of candleMinRun same-colour candles, a fresh colour change or a pin bar
// lean one way; anything else is 0.
func candleLean(s *entity.TechnicalSnapshot) (int, string) {
	if s.HAOpen == nil || s.HAClose == nil {
		return 0, ""
	}
	switch {
	case s.HAPattern == entity.PatternStrongBull:
		return 1, "strong bullish Heikin-Ashi candle"
	case s.HAPattern == entity.PatternStrongBear:
		return -1, "strong bearish Heikin-Ashi candle"
	case s.HATrend >= candleMinRun:
		return 1, fmt.Sprintf("Heikin-Ashi bullish run (%d candles)", s.HATrend)
	case s.HATrend <= -candleMinRun:
		return -1, fmt.Sprintf("Heikin-Ashi bearish run (%d candles)", -s.HATrend)
	case s.HAPattern == entity.PatternHammer:
		return 1, "Heikin-Ashi hammer"
	case s.HAPattern == entity.PatternShootingStar:
		return -1, "Heikin-Ashi shooting star"
	case s.HATrend == 1:
		return 1, "Heikin-Ashi turned bullish"
	case s.HATrend == -1:
		return -1, "Heikin-Ashi turned bearish"
	}
	return 0, ""
}

func compare(a, b float64, above, below string) (int, string, bool) {
	switch {
	case a > b:
		return 1, above, true
	case a < b:
		return -1, below, true
	}
	return 0, "", true
}

// Composer turns indicators and sentiment into a screening decision.
type Composer struct {
	cfg     Config
	logger  *logger.Logger
	metrics *metrics.Recorder
}

func NewComposer(cfg Config, log *logger.Logger, rec *metrics.Recorder) *Composer {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.MaxReasons <= 0 {
		cfg.MaxReasons = DefaultConfig().MaxReasons
	}
	return &Composer{cfg: cfg, logger: log, metrics: rec}
}

func (c *Composer) Config() Config { return c.cfg }

type ranked struct {
	text  string
	score float64
	order int
}

// Compose builds the signal for one ticker. A ticker with no usable
// indicator, or a candidate that fails validation, yields entity.ErrCompute.
func (c *Composer) Compose(in Input) (entity.SignalPrediction, error) {
	ticker := entity.NormalizeTicker(in.Price.Ticker)
	if in.Snapshot == nil {
		return entity.SignalPrediction{}, fmt.Errorf("%s: no technical snapshot: %w", ticker, entity.ErrCompute)
	}
	if in.Price.Close <= 0 || math.IsNaN(in.Price.Close) || math.IsInf(in.Price.Close, 0) {
		return entity.SignalPrediction{}, fmt.Errorf("%s: unusable price %v: %w", ticker, in.Price.Close, entity.ErrCompute)
	}

	var votes []vote
	var available, net, voted float64
	for _, r := range rules {
		v, reason, ok := r.judge(in.Price, in.Snapshot)
		if !ok {
			continue
		}
		available += r.weight
		net += r.weight * float64(v)
		if v != 0 {
			voted += r.weight
		}
		votes = append(votes, vote{weight: r.weight, value: v, reason: reason})
	}
	if available == 0 {
		return entity.SignalPrediction{}, fmt.Errorf("%s: indicators still warming up: %w", ticker, entity.ErrCompute)
	}

	technical := 50 + 50*net/available

	adjustment := 0.0
	if in.Sentiment.Impact != entity.ImpactNegligible && in.Sentiment.Impact != "" {
		adjustment = clamp(in.Sentiment.Score*in.Sentiment.Confidence*c.cfg.SentimentGain, -c.cfg.MaxAdjustment, c.cfg.MaxAdjustment)
	}
	score := clamp(technical+adjustment, 0, 100)

	agreement := 0.0
	if voted > 0 {
		agreement = math.Abs(net) / voted
	}
	coverage := available / 100
	confidence := 100 * (0.3 + 0.7*agreement) * coverage
	strongTrend := in.Snapshot.ADX != nil && *in.Snapshot.ADX > c.cfg.StrongTrendADX
	if strongTrend {
		confidence += strongTrendBonus
	}
	// the candle chain confirms or contradicts the net technical direction
	lean, candleReason := candleLean(in.Snapshot)
	candleAgrees := lean != 0 && net != 0 && (lean > 0) == (net > 0)
	switch {
	case candleAgrees:
		confidence += candleBonus
	case lean != 0 && net != 0:
		confidence -= candleBonus
	}
	confidence = clamp(confidence, 0, 100)

	at := in.At
	if at.IsZero() {
		at = in.Price.Timestamp
	}

	sig := entity.SignalPrediction{
		Ticker:              ticker,
		Timestamp:           at.UTC(),
		ModelVersion:        c.cfg.ModelVersion,
		CurrentPrice:        in.Price.Close,
		SignalType:          c.classify(score),
		Confidence:          confidence,
		ScreeningScore:      score,
		SentimentScore:      clamp(in.Sentiment.Score, -1, 1),
		SentimentConfidence: clamp(in.Sentiment.Confidence, 0, 1),
		SentimentImpact:     impactOrNegligible(in.Sentiment.Impact),
		NewsCount:           in.Sentiment.NewsCount,
		Sector:              in.Stock.Sector,
		Volume:              in.Price.Volume,
		RSI:                 copyFloat(in.Snapshot.RSI),
		MACD:                copyFloat(in.Snapshot.MACD),
		BollingerPosition:   bollingerPosition(in.Price.Close, in.Snapshot),
	}

	if atr := in.Snapshot.ATR; atr != nil {
		d := (score - 50) / 50
		sig.PredictedPrice1h = project(in.Price.Close, *atr, d, 1/tradingHoursPerDay)
		sig.PredictedPrice1d = project(in.Price.Close, *atr, d, 1)
		sig.PredictedPrice1w = project(in.Price.Close, *atr, d, tradingDaysPerWeek)
	}

	if !candleAgrees {
		candleReason = ""
	}
	sig.PrimaryReasons = c.reasons(votes, adjustment, in.Sentiment, strongTrend, in.Snapshot.ADX, candleReason)

	if err := sig.Validate(); err != nil {
		c.logger.Warn("Discarding invalid signal candidate",
			logger.StringField("ticker", ticker), logger.ErrorField(err))
		return entity.SignalPrediction{}, fmt.Errorf("%s: %w: %w", ticker, entity.ErrCompute, err)
	}
	c.metrics.RecordSignal(string(sig.SignalType))
	return sig, nil
}

func (c *Composer) classify(score float64) entity.SignalType {
	switch {
	case score >= c.cfg.BullishThreshold:
		return entity.SignalBullish
	case score <= c.cfg.BearishThreshold:
		return entity.SignalBearish
	default:
		return entity.SignalNeutral
	}
}

func (c *Composer) reasons(votes []vote, adjustment float64, agg sentiment.Aggregate, strongTrend bool, adx *float64, candle string) []string {
	var list []ranked
	for i, v := range votes {
		if v.value == 0 {
			continue
		}
		list = append(list, ranked{text: v.reason, score: v.weight, order: i})
	}
	if adjustment != 0 {
		list = append(list, ranked{
			text:  fmt.Sprintf("sentiment: %s, %s", describeSentiment(agg.Score), agg.Impact),
			score: math.Abs(adjustment),
			order: len(rules),
		})
	}
	if strongTrend {
		list = append(list, ranked{
			text:  fmt.Sprintf("strong trend (ADX %.1f)", *adx),
			score: strongTrendBonus,
			order: len(rules) + 1,
		})
	}
	if candle != "" {
		list = append(list, ranked{text: candle, score: candleBonus, order: len(rules) + 2})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].order < list[j].order
	})
	if len(list) > c.cfg.MaxReasons {
		list = list[:c.cfg.MaxReasons]
	}
	out := make([]string, 0, len(list))
	for _, r := range list {
		out = append(out, r.text)
	}
	return out
}

func describeSentiment(score float64) string {
	strength := "mild"
	switch a := math.Abs(score); {
	case a >= 0.6:
		strength = "strong"
	case a >= 0.2:
		strength = "moderate"
	}
	switch entity.PolarityFromScore(score) {
	case entity.PolarityPositive:
		return strength + " positive"
	case entity.PolarityNegative:
		return strength + " negative"
	default:
		return "neutral"
	}
}

// project extrapolates price over horizon trading days scaled by the ATR-derived volatility.
func project(price, atr, direction, horizon float64) *float64 {
	v := price * math.Exp(direction*(atr/price)*math.Sqrt(horizon)*projectionScale)
	return &v
}

func bollingerPosition(price float64, s *entity.TechnicalSnapshot) *float64 {
	if s.BollingerUpper == nil || s.BollingerLower == nil {
		return nil
	}
	width := *s.BollingerUpper - *s.BollingerLower
	if width <= 0 {
		return nil
	}
	v := (price - *s.BollingerLower) / width
	return &v
}

func impactOrNegligible(i entity.SentimentImpact) entity.SentimentImpact {
	if i == "" {
		return entity.ImpactNegligible
	}
	return i
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
