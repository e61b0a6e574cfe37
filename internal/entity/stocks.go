package entity

import (
	"strings"
	"time"
)

// Stock is the static metadata registered for a ticker.
type Stock struct {
	Ticker    string    `json:"ticker" gorm:"primaryKey;size:16" validate:"required,max=16,utf8"`
	Name      string    `json:"name" gorm:"not null" validate:"utf8"`
	Sector    string    `json:"sector" validate:"utf8"`
	Industry  string    `json:"industry" validate:"utf8"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Stock) TableName() string {
	return "stocks"
}

func (s Stock) Validate() error {
	return validateStruct("stock", s)
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
