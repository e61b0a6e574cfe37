package entity

import "time"

// Prediction is a forward-looking daily movement forecast.
type Prediction struct {
	Ticker                   string    `json:"ticker" gorm:"primaryKey;size:16" validate:"required,max=16,utf8"`
	PredictionDate           time.Time `json:"prediction_date" gorm:"primaryKey" validate:"required"`
	ModelVersion             string    `json:"model_version" gorm:"primaryKey" validate:"required,utf8"`
	TargetDate               time.Time `json:"target_date" validate:"required,gtfield=PredictionDate"`
	PredictedMovementPercent float64   `json:"predicted_movement_percent" validate:"finite"`
	PredictedDirection       int       `json:"predicted_direction" validate:"oneof=-1 0 1"`
	ConfidenceScore          float64   `json:"confidence_score" validate:"gte=0,lte=1"`
}

func (Prediction) TableName() string {
	return "predictions"
}

func (p Prediction) SeriesKey() string { return p.Ticker }
func (p Prediction) Time() time.Time   { return p.PredictionDate }
func (p Prediction) PrimaryKey() string {
	return seriesKey(p.Ticker, timeKey(p.PredictionDate), p.ModelVersion)
}

func (p Prediction) Validate() error {
	return validateStruct("prediction", p)
}

func (p Prediction) Clone() Prediction {
	p.PredictionDate = p.PredictionDate.UTC()
	p.TargetDate = p.TargetDate.UTC()
	return p
}
