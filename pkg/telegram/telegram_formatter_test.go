package telegram

import (
	"testing"
	"time"

	"golang-stock-pulse/internal/entity"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

var at = time.Date(2024, 5, 6, 22, 0, 0, 0, time.UTC)

func TestFormatDegradedJobAlert(t *testing.T) {
	msg := FormatDegradedJobAlert(at, entity.JobTypePriceIngestion, 3, "upstream unavailable")
	assert.Contains(t, msg, "JOB DEGRADED")
	assert.Contains(t, msg, "price\\_ingestion")
	assert.Contains(t, msg, "3 consecutive failures")
	assert.Contains(t, msg, "Mon, 06 May 2024 22:00 UTC")
}

func TestFormatSignalSummary(t *testing.T) {
	p := 101.5
	signals := []entity.SignalPrediction{
		{Ticker: "AAPL", SignalType: entity.SignalBullish, ScreeningScore: 72.5, Confidence: 80, CurrentPrice: 100, PredictedPrice1d: &p,
			PrimaryReasons: pq.StringArray{"price above SMA50"}},
		{Ticker: "TSLA", SignalType: entity.SignalBearish, ScreeningScore: 30, Confidence: 60, CurrentPrice: 200},
		{Ticker: "MSFT", SignalType: entity.SignalNeutral, ScreeningScore: 50, Confidence: 40, CurrentPrice: 300},
	}

	msg := FormatSignalSummary(at, signals, 2)
	assert.Contains(t, msg, "2024-05-06")
	assert.Contains(t, msg, "🟢 *AAPL* 72.5")
	assert.Contains(t, msg, "100.00 → 101.50 (1d)")
	assert.Contains(t, msg, "• price above SMA50")
	assert.Contains(t, msg, "🔴 *TSLA*")
	assert.NotContains(t, msg, "MSFT")
	assert.Contains(t, msg, "and 1 more")

	assert.Contains(t, FormatSignalSummary(at, nil, 5), "No signal")
}
