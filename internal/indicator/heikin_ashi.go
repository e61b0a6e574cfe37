package indicator

import (
	"math"

	"golang-stock-pulse/internal/entity"
)

// Candle shape thresholds, as fractions of the body or of the full range.
const (
	haStrongBody   = 0.6
	haStrongShadow = 0.3
	haPinShadow    = 2.0
	haPinOpposite  = 0.5
	haDojiBody     = 0.1
)

// heikinAshi extends the smoothed candle chain with p. The first candle opens
// at the midpoint of the raw open and close; later ones at the midpoint of the
// previous smoothed body.
func (s *series) heikinAshi(p entity.PricePoint, first bool, snap *entity.TechnicalSnapshot) {
	haClose := (p.Open + p.High + p.Low + p.Close) / 4
	haOpen := (p.Open + p.Close) / 2
	if !first {
		haOpen = (s.haOpen + s.haClose) / 2
	}
	s.haOpen, s.haClose = haOpen, haClose

	switch {
	case haClose > haOpen:
		if s.haTrend > 0 {
			s.haTrend++
		} else {
			s.haTrend = 1
		}
	case haClose < haOpen:
		if s.haTrend < 0 {
			s.haTrend--
		} else {
			s.haTrend = -1
		}
	default:
		s.haTrend = 0
	}

	high := math.Max(p.High, math.Max(haOpen, haClose))
	low := math.Min(p.Low, math.Min(haOpen, haClose))
	snap.HAOpen = ptr(haOpen)
	snap.HAClose = ptr(haClose)
	snap.HATrend = s.haTrend
	snap.HAPattern = candlePattern(haOpen, haClose, high, low)
}

func candlePattern(open, close, high, low float64) entity.CandlePattern {
	body := math.Abs(close - open)
	span := high - low
	upper := high - math.Max(open, close)
	lower := math.Min(open, close) - low
	switch {
	case close > open && body > haStrongBody*span && upper < haStrongShadow*body:
		return entity.PatternStrongBull
	case close < open && body > haStrongBody*span && lower < haStrongShadow*body:
		return entity.PatternStrongBear
	case lower > haPinShadow*body && upper < haPinOpposite*body:
		return entity.PatternHammer
	case upper > haPinShadow*body && lower < haPinOpposite*body:
		return entity.PatternShootingStar
	case body < haDojiBody*span:
		return entity.PatternDoji
	}
	return ""
}
