package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/indicator"
	"golang-stock-pulse/internal/scheduler/repository"
	"golang-stock-pulse/internal/sentiment"
	"golang-stock-pulse/internal/tsstore"
	"golang-stock-pulse/pkg/logger"
	"golang-stock-pulse/pkg/utils"
)

// WarmupReport counts what was reloaded at start-up.
type WarmupReport struct {
	Restored          map[string]int `json:"restored"`
	IndicatorTickers  int            `json:"indicator_tickers"`
	SnapshotsRepaired int            `json:"snapshots_repaired"`
	SentimentObserved int            `json:"sentiment_observed"`
}

// WarmupService reloads the retained rows of every mirror into the store and
// rebuilds the in-memory indicator and sentiment state from them.
type WarmupService struct {
	repos      repository.TimeSeriesRepositories
	store      *tsstore.Store
	computer   *indicator.Computer
	aggregator *sentiment.Aggregator
	window     time.Duration
	logger     *logger.Logger
	clock      func() time.Time
}

func NewWarmupService(repos repository.TimeSeriesRepositories, store *tsstore.Store, computer *indicator.Computer, aggregator *sentiment.Aggregator, window time.Duration, log *logger.Logger) *WarmupService {
	return &WarmupService{
		repos:      repos,
		store:      store,
		computer:   computer,
		aggregator: aggregator,
		window:     window,
		logger:     log,
		clock:      utils.NowUTC,
	}
}

func (s *WarmupService) Warmup(ctx context.Context) (WarmupReport, error) {
	now := s.clock()
	report := WarmupReport{Restored: map[string]int{}}

	prices, err := restore(ctx, now, s.repos.Prices, s.store.Prices, report.Restored)
	if err != nil {
		return report, err
	}
	if _, err := restore(ctx, now, s.repos.Technicals, s.store.Technicals, report.Restored); err != nil {
		return report, err
	}
	if _, err := restore(ctx, now, s.repos.News, s.store.News, report.Restored); err != nil {
		return report, err
	}
	observations, err := restore(ctx, now, s.repos.Sentiments, s.store.Sentiments, report.Restored)
	if err != nil {
		return report, err
	}
	if _, err := restore(ctx, now, s.repos.Predictions, s.store.Predictions, report.Restored); err != nil {
		return report, err
	}
	if _, err := restore(ctx, now, s.repos.Signals, s.store.Signals, report.Restored); err != nil {
		return report, err
	}

	tickers := make(map[string]struct{})
	for _, p := range prices {
		tickers[p.Ticker] = struct{}{}
	}
	for ticker := range tickers {
		// rebuild from the restored rows only; expired or invalid mirror rows were skipped
		history, err := s.store.Prices.Query(ctx, ticker, time.Time{}, time.Time{})
		if err != nil {
			return report, fmt.Errorf("rebuild %s: %w", ticker, err)
		}
		if len(history) == 0 {
			continue
		}
		// bars committed without a snapshot get one here; stored snapshots are ignored
		for _, snap := range s.computer.Rebuild(ticker, history) {
			outcome, err := s.store.Technicals.Append(ctx, snap)
			if err != nil && !errors.Is(err, entity.ErrValidation) {
				return report, fmt.Errorf("rebuild %s: %w", ticker, err)
			}
			if outcome == tsstore.Inserted {
				report.SnapshotsRepaired++
			}
		}
		report.IndicatorTickers++
	}

	cutoff := now.Add(-s.window)
	recent := observations[:0:0]
	for _, o := range observations {
		if o.PublishedAt.After(cutoff) {
			recent = append(recent, o)
		}
	}
	report.SentimentObserved = s.aggregator.Rebuild(recent)

	s.logger.InfoContext(ctx, "Warm-up finished",
		logger.Field("restored", report.Restored),
		logger.IntField("indicator_tickers", report.IndicatorTickers),
		logger.IntField("snapshots_repaired", report.SnapshotsRepaired),
		logger.IntField("sentiment_observed", report.SentimentObserved))
	return report, nil
}

// restore loads the rows of one table still inside its retention horizon.
func restore[R tsstore.Record[R]](ctx context.Context, now time.Time, repo repository.TimeSeriesRepository[R], table *tsstore.Table[R], counts map[string]int) ([]R, error) {
	if repo == nil {
		return nil, nil
	}
	var since time.Time
	if retain := table.Policy().RetainFor; retain > 0 {
		since = now.Add(-retain)
	}
	rows, err := repo.LoadSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table.Name(), err)
	}
	n, err := table.Restore(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", table.Name(), err)
	}
	counts[table.Name()] = n
	return rows, nil
}
