package strategy

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/indicator"
	"golang-stock-pulse/internal/scheduler/config"
	"golang-stock-pulse/internal/scheduler/repository"
	"golang-stock-pulse/internal/tsstore"
	"golang-stock-pulse/pkg/logger"
)

// PriceIngestionStrategy pulls daily bars for every ticker and keeps the
// technical snapshots in step with them.
type PriceIngestionStrategy struct {
	cfg      *config.Config
	logger   *logger.Logger
	universe Universe
	prices   repository.PriceRepository
	store    *tsstore.Store
	computer *indicator.Computer

	// tickers whose committed bars may lack a snapshot after a failed run
	mu      sync.Mutex
	pending map[string]struct{}
}

func NewPriceIngestionStrategy(cfg *config.Config, log *logger.Logger, universe Universe, prices repository.PriceRepository, store *tsstore.Store, computer *indicator.Computer) *PriceIngestionStrategy {
	return &PriceIngestionStrategy{
		cfg:      cfg,
		logger:   log,
		universe: universe,
		prices:   prices,
		store:    store,
		computer: computer,
		pending:  make(map[string]struct{}),
	}
}

func (s *PriceIngestionStrategy) GetType() entity.JobType {
	return entity.JobTypePriceIngestion
}

type priceIngestionOutput struct {
	Tickers []tickerResult `json:"tickers"`
	Rebuilt []string       `json:"rebuilt,omitempty"`
}

func (s *PriceIngestionStrategy) Execute(ctx context.Context, job *entity.Job) (string, error) {
	tickers, err := s.universe.Tickers(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list tickers", logger.ErrorField(err))
		return "", err
	}

	var (
		rebuilt []string
		mu      sync.Mutex
	)
	results, err := forEachTicker(ctx, s.logger, tickers, s.cfg.Ingestion.MaxConcurrent, func(ctx context.Context, ticker string) tickerResult {
		res, didRebuild := s.ingest(ctx, ticker)
		if didRebuild {
			mu.Lock()
			rebuilt = append(rebuilt, ticker)
			mu.Unlock()
		}
		return res
	})
	sort.Strings(rebuilt)
	return toJSON(priceIngestionOutput{Tickers: results, Rebuilt: rebuilt}), err
}

func (s *PriceIngestionStrategy) markPending(ticker string) {
	s.mu.Lock()
	s.pending[ticker] = struct{}{}
	s.mu.Unlock()
}

func (s *PriceIngestionStrategy) takePending(ticker string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[ticker]
	delete(s.pending, ticker)
	return ok
}

// ingest appends the fetched bars of one ticker. A newly inserted bar that is
// not after the indicator state (a backfill) triggers a rebuild from the store,
// as does a previous run that stored a bar without its snapshot.
func (s *PriceIngestionStrategy) ingest(ctx context.Context, ticker string) (tickerResult, bool) {
	points, err := s.prices.GetDailyPrices(ctx, ticker, s.cfg.Ingestion.PriceRange, s.cfg.Ingestion.PriceInterval)
	if errors.Is(err, entity.ErrNotFound) {
		s.logger.WarnContext(ctx, "No price data for ticker", logger.StringField("ticker", ticker), logger.ErrorField(err))
		return tickerResult{Status: SKIPPED, Error: err.Error()}, false
	}
	if err != nil {
		return failed(err), false
	}

	key := entity.NormalizeTicker(ticker)
	res := tickerResult{Status: SUCCESS}
	needsRebuild := s.takePending(key)
	for _, p := range points {
		if ctx.Err() != nil {
			if needsRebuild {
				s.markPending(key)
			}
			return failed(ctx.Err()), false
		}
		outcome, err := s.store.AppendPrice(ctx, p)
		if errors.Is(err, entity.ErrValidation) {
			res.Invalid++
			s.logger.DebugContext(ctx, "Rejected price point", logger.StringField("ticker", ticker), logger.ErrorField(err))
			continue
		}
		if err != nil {
			if needsRebuild {
				s.markPending(key)
			}
			return failed(err), false
		}
		if outcome == tsstore.Ignored {
			res.Ignored++
			continue
		}
		res.Inserted++

		if needsRebuild {
			continue
		}
		snap, err := s.computer.Update(p)
		if errors.Is(err, indicator.ErrOutOfOrder) {
			needsRebuild = true
			continue
		}
		if _, err := s.store.Technicals.Append(ctx, snap); err != nil && !errors.Is(err, entity.ErrValidation) {
			s.markPending(key)
			return failed(err), false
		}
	}

	if needsRebuild {
		if err := s.rebuild(ctx, key); err != nil {
			s.markPending(key)
			return failed(err), true
		}
	}
	return res, needsRebuild
}

func (s *PriceIngestionStrategy) rebuild(ctx context.Context, ticker string) error {
	history, err := s.store.Prices.Query(ctx, ticker, time.Time{}, time.Time{})
	if err != nil {
		return err
	}
	snaps := s.computer.Rebuild(ticker, history)
	for _, snap := range snaps {
		if _, err := s.store.Technicals.Append(ctx, snap); err != nil && !errors.Is(err, entity.ErrValidation) {
			return err
		}
	}
	s.logger.InfoContext(ctx, "Rebuilt indicators after backfill",
		logger.StringField("ticker", ticker), logger.IntField("points", len(history)))
	return nil
}
