package entity

import "time"

// TechnicalSnapshot is the indicator vector for one ticker at one bar. A nil field is still warming up.
type TechnicalSnapshot struct {
	Ticker    string    `json:"ticker" gorm:"primaryKey;size:16" validate:"required,max=16,utf8"`
	Timestamp time.Time `json:"timestamp" gorm:"primaryKey" validate:"required"`

	SMA20  *float64 `json:"sma_20" gorm:"column:sma_20" validate:"omitnil,finite"`
	SMA50  *float64 `json:"sma_50" gorm:"column:sma_50" validate:"omitnil,finite"`
	SMA200 *float64 `json:"sma_200" gorm:"column:sma_200" validate:"omitnil,finite"`
	EMA20  *float64 `json:"ema_20" gorm:"column:ema_20" validate:"omitnil,finite"`
	EMA50  *float64 `json:"ema_50" gorm:"column:ema_50" validate:"omitnil,finite"`

	RSI        *float64 `json:"rsi" validate:"omitnil,gte=0,lte=100"`
	MACD       *float64 `json:"macd" validate:"omitnil,finite"`
	MACDSignal *float64 `json:"macd_signal" validate:"omitnil,finite"`
	MACDHist   *float64 `json:"macd_hist" validate:"omitnil,finite"`
	StochK     *float64 `json:"stoch_k" validate:"omitnil,gte=0,lte=100"`
	StochD     *float64 `json:"stoch_d" validate:"omitnil,gte=0,lte=100"`

	BollingerUpper  *float64 `json:"bollinger_upper" validate:"omitnil,finite"`
	BollingerMiddle *float64 `json:"bollinger_middle" validate:"omitnil,finite"`
	BollingerLower  *float64 `json:"bollinger_lower" validate:"omitnil,finite"`

	ADX         *float64 `json:"adx" validate:"omitnil,gte=0,lte=100"`
	CCI         *float64 `json:"cci" validate:"omitnil,finite"`
	WilliamsR   *float64 `json:"williams_r" validate:"omitnil,gte=-100,lte=0"`
	OBV         *float64 `json:"obv" validate:"omitnil,finite"`
	ATR         *float64 `json:"atr" validate:"omitnil,gte=0,finite"`
	VolumeRatio *float64 `json:"volume_ratio" validate:"omitnil,gte=0,finite"`

	// Heikin-Ashi candle of this bar. HATrend counts consecutive same-colour
	// candles, positive for bullish runs and negative for bearish ones.
	HAOpen    *float64      `json:"ha_open" gorm:"column:ha_open" validate:"omitnil,finite"`
	HAClose   *float64      `json:"ha_close" gorm:"column:ha_close" validate:"omitnil,finite"`
	HATrend   int           `json:"ha_trend" gorm:"column:ha_trend"`
	HAPattern CandlePattern `json:"ha_pattern,omitempty" gorm:"column:ha_pattern;size:16" validate:"omitempty,oneof=strong_bull strong_bear hammer shooting_star doji"`
}

// CandlePattern is the shape of a Heikin-Ashi candle.
type CandlePattern string

const (
	PatternStrongBull   CandlePattern = "strong_bull"
	PatternStrongBear   CandlePattern = "strong_bear"
	PatternHammer       CandlePattern = "hammer"
	PatternShootingStar CandlePattern = "shooting_star"
	PatternDoji         CandlePattern = "doji"
)

func (TechnicalSnapshot) TableName() string {
	return "technical_snapshots"
}

func (s TechnicalSnapshot) SeriesKey() string  { return s.Ticker }
func (s TechnicalSnapshot) Time() time.Time    { return s.Timestamp }
func (s TechnicalSnapshot) PrimaryKey() string { return seriesKey(s.Ticker, timeKey(s.Timestamp)) }

func (s TechnicalSnapshot) Validate() error {
	return validateStruct("technical snapshot", s)
}

func (s TechnicalSnapshot) Clone() TechnicalSnapshot {
	s.Timestamp = s.Timestamp.UTC()
	for _, f := range s.fields() {
		*f = cloneFloat(*f)
	}
	return s
}

func (s *TechnicalSnapshot) fields() []**float64 {
	return []**float64{
		&s.SMA20, &s.SMA50, &s.SMA200, &s.EMA20, &s.EMA50,
		&s.RSI, &s.MACD, &s.MACDSignal, &s.MACDHist, &s.StochK, &s.StochD,
		&s.BollingerUpper, &s.BollingerMiddle, &s.BollingerLower,
		&s.ADX, &s.CCI, &s.WilliamsR, &s.OBV, &s.ATR, &s.VolumeRatio,
		&s.HAOpen, &s.HAClose,
	}
}

// Available counts the non-nil indicators.
func (s TechnicalSnapshot) Available() int {
	n := 0
	for _, f := range s.fields() {
		if *f != nil {
			n++
		}
	}
	return n
}
