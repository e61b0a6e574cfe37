package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/indicator"
	"golang-stock-pulse/internal/scheduler/config"
	"golang-stock-pulse/internal/sentiment"
	"golang-stock-pulse/internal/tsstore"
	"golang-stock-pulse/pkg/logger"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 3, 21, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type fakeUniverse []string

func (u fakeUniverse) Tickers(context.Context) ([]string, error) { return u, nil }

type fakePrices struct {
	mu     sync.Mutex
	bars   map[string][]entity.PricePoint
	errs   map[string]error
	called int
}

func (f *fakePrices) GetDailyPrices(_ context.Context, ticker, _, _ string) ([]entity.PricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called++
	if err, ok := f.errs[ticker]; ok {
		return nil, err
	}
	return f.bars[ticker], nil
}

type fakeNews map[string][]entity.NewsArticle

func (f fakeNews) GetTickerNews(_ context.Context, ticker string, since time.Time, limit int) ([]entity.NewsArticle, error) {
	var out []entity.NewsArticle
	for _, a := range f[ticker] {
		if a.PublishedAt.After(since) && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeScreener struct {
	signals []entity.SignalPrediction
	err     error
}

func (f fakeScreener) RunScreening(context.Context) ([]entity.SignalPrediction, error) {
	return f.signals, f.err
}

type fakePublisher struct {
	batches [][]entity.SignalPrediction
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, s []entity.SignalPrediction) error {
	f.batches = append(f.batches, s)
	return f.err
}

type fakeNotifier struct{ messages []string }

func (f *fakeNotifier) SendMessage(text string) error {
	f.messages = append(f.messages, text)
	return nil
}

func newStore(t *testing.T) *tsstore.Store {
	t.Helper()
	s, err := tsstore.New(tsstore.DefaultPolicies(), tsstore.Mirrors{}, tsstore.Options{Clock: clock})
	require.NoError(t, err)
	return s
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Ingestion.MaxConcurrent = 2
	cfg.Ingestion.MaxNews = 10
	cfg.Ingestion.PriceRange = "1y"
	cfg.Ingestion.PriceInterval = "1d"
	cfg.GoogleNews.MaxAge = "48h"
	return cfg
}

func dailyBars(ticker string, n int) []entity.PricePoint {
	start := now.AddDate(0, 0, -n).Truncate(24 * time.Hour)
	out := make([]entity.PricePoint, n)
	for i := range out {
		c := 100 + float64(i%7) - float64(i%3)
		out[i] = entity.PricePoint{
			Ticker: ticker, Timestamp: start.AddDate(0, 0, i),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: int64(1000 + i),
		}
	}
	return out
}

func decode(t *testing.T, out string, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(out), v))
}

func TestPriceIngestion_AppendsPricesAndSnapshots(t *testing.T) {
	store := newStore(t)
	computer := indicator.NewComputer(nil)
	prices := &fakePrices{
		bars: map[string][]entity.PricePoint{"AAPL": dailyBars("AAPL", 60)},
		errs: map[string]error{"GONE": entity.ErrNotFound},
	}
	s := NewPriceIngestionStrategy(testConfig(), logger.NewNop(), fakeUniverse{"AAPL", "GONE"}, prices, store, computer)
	job := &entity.Job{Type: entity.JobTypePriceIngestion}

	out, err := s.Execute(context.Background(), job)
	require.NoError(t, err)

	var res priceIngestionOutput
	decode(t, out, &res)
	require.Len(t, res.Tickers, 2)
	assert.Equal(t, tickerResult{Ticker: "AAPL", Status: SUCCESS, Inserted: 60}, res.Tickers[0])
	assert.Equal(t, SKIPPED, res.Tickers[1].Status)

	snap, err := store.LatestTechnical(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.NotNil(t, snap.SMA50)
	assert.Nil(t, snap.SMA200)

	out, err = s.Execute(context.Background(), job)
	require.NoError(t, err)
	decode(t, out, &res)
	assert.Equal(t, 0, res.Tickers[0].Inserted)
	assert.Equal(t, 60, res.Tickers[0].Ignored)
	assert.Empty(t, res.Rebuilt)
}

func TestPriceIngestion_BackfillRebuildsIndicators(t *testing.T) {
	store := newStore(t)
	computer := indicator.NewComputer(nil)
	full := dailyBars("AAPL", 40)
	gappy := append(append([]entity.PricePoint{}, full[:20]...), full[21:]...)

	prices := &fakePrices{bars: map[string][]entity.PricePoint{"AAPL": gappy}}
	s := NewPriceIngestionStrategy(testConfig(), logger.NewNop(), fakeUniverse{"AAPL"}, prices, store, computer)

	_, err := s.Execute(context.Background(), &entity.Job{})
	require.NoError(t, err)

	prices.bars["AAPL"] = full
	out, err := s.Execute(context.Background(), &entity.Job{})
	require.NoError(t, err)

	var res priceIngestionOutput
	decode(t, out, &res)
	assert.Equal(t, []string{"AAPL"}, res.Rebuilt)
	assert.Equal(t, 1, res.Tickers[0].Inserted)

	backfilled, err := store.Technicals.Query(context.Background(), "AAPL", full[20].Timestamp, full[20].Timestamp)
	require.NoError(t, err)
	require.Len(t, backfilled, 1)

	last, ok := computer.LastTimestamp("AAPL")
	require.True(t, ok)
	assert.Equal(t, full[39].Timestamp, last)
}

func TestPriceIngestion_TransientFailureIsReturned(t *testing.T) {
	prices := &fakePrices{errs: map[string]error{"AAPL": fmt.Errorf("yahoo: %w", entity.ErrUpstreamUnavailable)}}
	s := NewPriceIngestionStrategy(testConfig(), logger.NewNop(), fakeUniverse{"AAPL"}, prices, newStore(t), indicator.NewComputer(nil))

	out, err := s.Execute(context.Background(), &entity.Job{})
	require.Error(t, err)
	assert.True(t, entity.IsTransient(err))
	assert.Contains(t, out, FAILED)
}

// flakyMirror fails every insert while down is set.
type flakyMirror[R any] struct {
	mu   sync.Mutex
	down bool
	rows int
}

func (m *flakyMirror[R]) Insert(context.Context, R) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errors.New("connection reset")
	}
	m.rows++
	return nil
}

func (m *flakyMirror[R]) DeleteBefore(context.Context, time.Time) error { return nil }

func TestPriceIngestion_FailedSnapshotIsRepairedOnRetry(t *testing.T) {
	mirror := &flakyMirror[entity.TechnicalSnapshot]{down: true}
	store, err := tsstore.New(tsstore.DefaultPolicies(), tsstore.Mirrors{Technicals: mirror}, tsstore.Options{Clock: clock})
	require.NoError(t, err)
	computer := indicator.NewComputer(nil)
	bars := dailyBars("AAPL", 30)
	prices := &fakePrices{bars: map[string][]entity.PricePoint{"AAPL": bars}}
	s := NewPriceIngestionStrategy(testConfig(), logger.NewNop(), fakeUniverse{"AAPL"}, prices, store, computer)

	_, err = s.Execute(context.Background(), &entity.Job{})
	require.Error(t, err)
	stored, err := store.Prices.Query(context.Background(), "AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, stored, 1)

	mirror.down = false
	out, err := s.Execute(context.Background(), &entity.Job{})
	require.NoError(t, err)

	var res priceIngestionOutput
	decode(t, out, &res)
	assert.Equal(t, []string{"AAPL"}, res.Rebuilt)
	assert.Equal(t, 1, res.Tickers[0].Ignored)
	assert.Equal(t, 29, res.Tickers[0].Inserted)

	stored, err = store.Prices.Query(context.Background(), "AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	snaps, err := store.Technicals.Query(context.Background(), "AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, stored, 30)
	assert.Len(t, snaps, 30)
	assert.Equal(t, 30, mirror.rows)

	last, ok := computer.LastTimestamp("AAPL")
	require.True(t, ok)
	assert.Equal(t, bars[29].Timestamp, last)

	// nothing left to repair
	out, err = s.Execute(context.Background(), &entity.Job{})
	require.NoError(t, err)
	var again priceIngestionOutput
	decode(t, out, &again)
	assert.Empty(t, again.Rebuilt)
}

// flakyAnalyzer times out while down is set.
type flakyAnalyzer struct {
	down  bool
	calls int
}

func (a *flakyAnalyzer) Analyze(ctx context.Context, article entity.NewsArticle) (sentiment.Analysis, error) {
	a.calls++
	if a.down {
		return sentiment.Analysis{}, context.DeadlineExceeded
	}
	return sentiment.NewLexicon().Analyze(ctx, article)
}

func TestNewsIngestion_UnscoredArticleIsScoredOnRetry(t *testing.T) {
	store := newStore(t)
	agg := sentiment.NewAggregator(sentiment.DefaultConfig(), clock, nil)
	news := fakeNews{"AAPL": {
		{URL: "https://example.com/a", Ticker: "AAPL", Title: "Apple beats estimates, shares surge", PublishedAt: now.Add(-time.Hour)},
	}}
	analyzer := &flakyAnalyzer{down: true}
	s := NewNewsIngestionStrategy(testConfig(), logger.NewNop(), fakeUniverse{"AAPL"}, news, analyzer, store, agg)
	s.clock = clock

	_, err := s.Execute(context.Background(), &entity.Job{})
	require.NoError(t, err)
	articles, err := store.News.Query(context.Background(), "AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, 0, agg.State("AAPL").NewsCount)

	analyzer.down = false
	out, err := s.Execute(context.Background(), &entity.Job{})
	require.NoError(t, err)
	var res struct {
		Tickers []tickerResult `json:"tickers"`
	}
	decode(t, out, &res)
	assert.Equal(t, 1, res.Tickers[0].Inserted)

	obs, err := store.Sentiments.Query(context.Background(), "AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "https://example.com/a", obs[0].ArticleURL)
	assert.Equal(t, 1, agg.State("AAPL").NewsCount)

	_, err = s.Execute(context.Background(), &entity.Job{})
	require.NoError(t, err)
	assert.Equal(t, 2, analyzer.calls)
	assert.Equal(t, 1, agg.State("AAPL").NewsCount)
}

func TestNewsIngestion_ScoresNewArticlesOnce(t *testing.T) {
	store := newStore(t)
	agg := sentiment.NewAggregator(sentiment.DefaultConfig(), clock, nil)
	news := fakeNews{"AAPL": {
		{URL: "https://example.com/a", Ticker: "AAPL", Title: "Apple beats estimates, shares surge", PublishedAt: now.Add(-time.Hour)},
		{URL: "https://example.com/b", Ticker: "AAPL", Title: "Apple rally continues", PublishedAt: now.Add(-3 * time.Hour)},
		{URL: "https://example.com/old", Ticker: "AAPL", Title: "Old news", PublishedAt: now.Add(-72 * time.Hour)},
	}}
	s := NewNewsIngestionStrategy(testConfig(), logger.NewNop(), fakeUniverse{"AAPL"}, news, sentiment.NewLexicon(), store, agg)
	s.clock = clock

	_, err := s.Execute(context.Background(), &entity.Job{})
	require.NoError(t, err)

	state := agg.State("AAPL")
	assert.Equal(t, 2, state.NewsCount)
	assert.Greater(t, state.Score, 0.0)

	obs, err := store.Sentiments.Query(context.Background(), "AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, obs, 2)

	out, err := s.Execute(context.Background(), &entity.Job{})
	require.NoError(t, err)
	var res struct {
		Tickers []tickerResult `json:"tickers"`
	}
	decode(t, out, &res)
	assert.Equal(t, 2, res.Tickers[0].Ignored)
	assert.Equal(t, 0, res.Tickers[0].Inserted)
	assert.Equal(t, 2, agg.State("AAPL").NewsCount)
}

func candidate(ticker string, st entity.SignalType) entity.SignalPrediction {
	p := 101.0
	return entity.SignalPrediction{
		Ticker: ticker, Timestamp: now, ModelVersion: "composite-v1",
		CurrentPrice: 100, SignalType: st, Confidence: 80, ScreeningScore: 70,
		PredictedPrice1d: &p, SentimentImpact: entity.ImpactNegligible,
		PrimaryReasons: pq.StringArray{"price above SMA50"},
	}
}

func TestScreening_StoresAndPublishesNewSignalsOnly(t *testing.T) {
	store := newStore(t)
	pub := &fakePublisher{}
	screener := fakeScreener{signals: []entity.SignalPrediction{candidate("AAPL", entity.SignalBullish), candidate("MSFT", entity.SignalNeutral)}}
	s := NewScreeningStrategy(logger.NewNop(), screener, store, pub)

	out, err := s.Execute(context.Background(), &entity.Job{})
	require.NoError(t, err)
	var res screeningOutput
	decode(t, out, &res)
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, 2, res.Published)
	assert.Equal(t, map[string]int{"BULLISH": 1, "NEUTRAL": 1}, res.BySignal)

	out, err = s.Execute(context.Background(), &entity.Job{})
	require.NoError(t, err)
	decode(t, out, &res)
	assert.Equal(t, 2, res.Duplicates)
	assert.Equal(t, 0, res.Stored)
	require.Len(t, pub.batches, 2)
	assert.Empty(t, pub.batches[1])

	latest, err := store.LatestSignal(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, entity.SignalBullish, latest.SignalType)
}

func TestScreening_PublishFailureDoesNotFailTheRun(t *testing.T) {
	pub := &fakePublisher{err: errors.New("redis down")}
	s := NewScreeningStrategy(logger.NewNop(), fakeScreener{signals: []entity.SignalPrediction{candidate("AAPL", entity.SignalBullish)}}, newStore(t), pub)

	out, err := s.Execute(context.Background(), &entity.Job{})
	require.NoError(t, err)
	assert.Contains(t, out, "redis down")
}

func TestScreening_NothingComposed(t *testing.T) {
	boom := fmt.Errorf("store: %w", entity.ErrUpstreamUnavailable)
	s := NewScreeningStrategy(logger.NewNop(), fakeScreener{err: boom}, newStore(t), &fakePublisher{})
	_, err := s.Execute(context.Background(), &entity.Job{})
	assert.ErrorIs(t, err, boom)
}

func TestDailyPrediction_StoresForecastsOncePerDay(t *testing.T) {
	store := newStore(t)
	notifier := &fakeNotifier{}
	screener := fakeScreener{signals: []entity.SignalPrediction{candidate("AAPL", entity.SignalBullish)}}
	s := NewDailyPredictionStrategy(logger.NewNop(), screener, store, notifier)

	out, err := s.Execute(context.Background(), &entity.Job{})
	require.NoError(t, err)
	var res []predictionOutput
	decode(t, out, &res)
	require.Len(t, res, 1)
	assert.Equal(t, SUCCESS, res[0].Status)
	assert.Equal(t, 1, res[0].Direction)
	assert.InDelta(t, 1.0, res[0].Movement, 1e-9)

	stored, err := store.Predictions.Latest(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC), stored.TargetDate)
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "AAPL")

	out, err = s.Execute(context.Background(), &entity.Job{})
	require.NoError(t, err)
	decode(t, out, &res)
	assert.Equal(t, SKIPPED, res[0].Status)
}

func TestStoreMaintenance_ReportsEveryTable(t *testing.T) {
	store := newStore(t)
	old := dailyBars("AAPL", 60)
	for _, p := range old {
		_, err := store.AppendPrice(context.Background(), p)
		require.NoError(t, err)
	}
	s := NewStoreMaintenanceStrategy(logger.NewNop(), store)
	s.clock = clock

	out, err := s.Execute(context.Background(), &entity.Job{})
	require.NoError(t, err)

	var res struct {
		Report tsstore.MaintenanceReport `json:"report"`
		Tables []tsstore.Stats           `json:"tables"`
	}
	decode(t, out, &res)
	assert.Len(t, res.Tables, 6)
	assert.Greater(t, res.Report.Compressed["stock_prices"], 0)
	assert.Equal(t, 60, res.Tables[0].Rows)
}

func TestForEachTicker_BoundsConcurrency(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	tickers := []string{"A", "B", "C", "D", "E", "F"}
	results, err := forEachTicker(context.Background(), logger.NewNop(), tickers, 2, func(ctx context.Context, ticker string) tickerResult {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		if ticker == "C" {
			return failed(errors.New("boom"))
		}
		return tickerResult{Status: SUCCESS}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "C: boom")
	assert.LessOrEqual(t, peak, 2)
	require.Len(t, results, 6)
	assert.Equal(t, "A", results[0].Ticker)
}
