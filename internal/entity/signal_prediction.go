package entity

import (
	"time"

	"github.com/lib/pq"
)

type SignalType string

const (
	SignalBullish SignalType = "BULLISH"
	SignalBearish SignalType = "BEARISH"
	SignalNeutral SignalType = "NEUTRAL"
)

type SentimentImpact string

const (
	ImpactImmediate  SentimentImpact = "immediate"
	ImpactShortTerm  SentimentImpact = "short-term"
	ImpactLongTerm   SentimentImpact = "long-term"
	ImpactNegligible SentimentImpact = "negligible"
)

// SignalPrediction is a composed, immutable screening decision.
type SignalPrediction struct {
	Ticker       string    `json:"ticker" gorm:"primaryKey;size:16" validate:"required,max=16,utf8"`
	Timestamp    time.Time `json:"timestamp" gorm:"primaryKey" validate:"required"`
	ModelVersion string    `json:"model_version" gorm:"primaryKey" validate:"required,utf8"`

	CurrentPrice   float64    `json:"current_price" validate:"gt=0,finite"`
	SignalType     SignalType `json:"signal_type" validate:"oneof=BULLISH BEARISH NEUTRAL"`
	Confidence     float64    `json:"confidence" validate:"gte=0,lte=100"`
	ScreeningScore float64    `json:"screening_score" validate:"gte=0,lte=100"`

	PredictedPrice1h *float64 `json:"predicted_price_1h,omitempty" gorm:"column:predicted_price_1h" validate:"omitnil,gt=0,finite"`
	PredictedPrice1d *float64 `json:"predicted_price_1d,omitempty" gorm:"column:predicted_price_1d" validate:"omitnil,gt=0,finite"`
	PredictedPrice1w *float64 `json:"predicted_price_1w,omitempty" gorm:"column:predicted_price_1w" validate:"omitnil,gt=0,finite"`

	SentimentScore      float64         `json:"sentiment_score" validate:"gte=-1,lte=1"`
	SentimentConfidence float64         `json:"sentiment_confidence" validate:"gte=0,lte=1"`
	SentimentImpact     SentimentImpact `json:"sentiment_impact" validate:"oneof=immediate short-term long-term negligible"`
	NewsCount           int             `json:"news_count" validate:"gte=0"`

	PrimaryReasons pq.StringArray `json:"primary_reasons" gorm:"type:text[]" validate:"dive,min=1,max=160,utf8"`

	Sector            string   `json:"sector,omitempty" validate:"utf8"`
	Volume            int64    `json:"volume" validate:"gte=0"`
	RSI               *float64 `json:"rsi,omitempty" validate:"omitnil,gte=0,lte=100"`
	MACD              *float64 `json:"macd,omitempty" validate:"omitnil,finite"`
	BollingerPosition *float64 `json:"bollinger_position,omitempty" validate:"omitnil,finite"`
}

func (SignalPrediction) TableName() string {
	return "signal_predictions"
}

func (s SignalPrediction) SeriesKey() string { return s.Ticker }
func (s SignalPrediction) Time() time.Time   { return s.Timestamp }
func (s SignalPrediction) PrimaryKey() string {
	return seriesKey(s.Ticker, timeKey(s.Timestamp), s.ModelVersion)
}

func (s SignalPrediction) Validate() error {
	return validateStruct("signal prediction", s)
}

func (s SignalPrediction) Clone() SignalPrediction {
	s.Timestamp = s.Timestamp.UTC()
	s.PredictedPrice1h = cloneFloat(s.PredictedPrice1h)
	s.PredictedPrice1d = cloneFloat(s.PredictedPrice1d)
	s.PredictedPrice1w = cloneFloat(s.PredictedPrice1w)
	s.RSI = cloneFloat(s.RSI)
	s.MACD = cloneFloat(s.MACD)
	s.BollingerPosition = cloneFloat(s.BollingerPosition)
	if s.PrimaryReasons != nil {
		s.PrimaryReasons = append(pq.StringArray(nil), s.PrimaryReasons...)
	}
	return s
}
