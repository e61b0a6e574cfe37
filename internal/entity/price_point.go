package entity

import "time"

// PricePoint is one OHLCV bar. Append-only; backfill is allowed inside the retention horizon.
type PricePoint struct {
	Ticker        string    `json:"ticker" gorm:"primaryKey;size:16" validate:"required,max=16,utf8"`
	Timestamp     time.Time `json:"timestamp" gorm:"primaryKey" validate:"required"`
	Open          float64   `json:"open" validate:"gt=0,finite"`
	High          float64   `json:"high" validate:"gt=0,finite,gtefield=Open,gtefield=Close,gtefield=Low"`
	Low           float64   `json:"low" validate:"gt=0,finite,ltefield=Open,ltefield=Close"`
	Close         float64   `json:"close" validate:"gt=0,finite"`
	Volume        int64     `json:"volume" validate:"gte=0"`
	AdjustedClose *float64  `json:"adjusted_close,omitempty" validate:"omitnil,gt=0,finite"`
}

func (PricePoint) TableName() string {
	return "stock_prices"
}

func (p PricePoint) SeriesKey() string  { return p.Ticker }
func (p PricePoint) Time() time.Time    { return p.Timestamp }
func (p PricePoint) PrimaryKey() string { return seriesKey(p.Ticker, timeKey(p.Timestamp)) }

func (p PricePoint) Validate() error {
	return validateStruct("price point", p)
}

func (p PricePoint) Clone() PricePoint {
	p.Timestamp = p.Timestamp.UTC()
	p.AdjustedClose = cloneFloat(p.AdjustedClose)
	return p
}
