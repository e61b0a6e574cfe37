package entity

import (
	"fmt"
	"time"
)

type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNeutral  Polarity = "neutral"
	PolarityNegative Polarity = "negative"
)

// PolarityDeadBand is the |score| under which an observation is neutral.
const PolarityDeadBand = 0.1

// PolarityFromScore maps a score in [-1,1] onto its polarity.
func PolarityFromScore(score float64) Polarity {
	switch {
	case score > PolarityDeadBand:
		return PolarityPositive
	case score < -PolarityDeadBand:
		return PolarityNegative
	default:
		return PolarityNeutral
	}
}

// SentimentObservation scores exactly one article; ArticleURL is the owning reference.
type SentimentObservation struct {
	ArticleURL  string    `json:"article_url" gorm:"primaryKey" validate:"required,utf8"`
	Ticker      string    `json:"ticker" gorm:"size:16;index" validate:"required,max=16,utf8"`
	Score       float64   `json:"score" validate:"gte=-1,lte=1"`
	Polarity    Polarity  `json:"polarity" validate:"oneof=positive neutral negative"`
	Confidence  float64   `json:"confidence" validate:"gte=0,lte=1"`
	Source      string    `json:"source" validate:"utf8"`
	PublishedAt time.Time `json:"published_at" validate:"required"`
}

func (SentimentObservation) TableName() string {
	return "sentiment_observations"
}

func (o SentimentObservation) SeriesKey() string  { return o.Ticker }
func (o SentimentObservation) Time() time.Time    { return o.PublishedAt }
func (o SentimentObservation) PrimaryKey() string { return o.ArticleURL }

func (o SentimentObservation) Validate() error {
	if err := validateStruct("sentiment observation", o); err != nil {
		return err
	}
	if want := PolarityFromScore(o.Score); o.Polarity != want {
		return &ValidationError{
			Record: "sentiment observation",
			Err:    fmt.Errorf("polarity %q does not match score %.3f (want %q)", o.Polarity, o.Score, want),
		}
	}
	return nil
}

func (o SentimentObservation) Clone() SentimentObservation {
	o.PublishedAt = o.PublishedAt.UTC()
	return o
}
