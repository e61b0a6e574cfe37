package signal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/sentiment"
	"golang-stock-pulse/pkg/logger"
	"golang-stock-pulse/pkg/trace"
	"golang-stock-pulse/pkg/utils"

	"github.com/sourcegraph/conc/iter"
)

// Universe lists the tickers to screen.
type Universe interface {
	List(ctx context.Context) ([]entity.Stock, error)
}

// LatestReader reads the newest stored rows of a ticker.
type LatestReader interface {
	LatestPrice(ctx context.Context, ticker string) (entity.PricePoint, error)
	LatestTechnical(ctx context.Context, ticker string) (entity.TechnicalSnapshot, error)
}

// SentimentSource returns the current aggregate of a ticker.
type SentimentSource interface {
	State(ticker string) sentiment.Aggregate
}

// Screener composes a signal for every catalog ticker.
type Screener struct {
	composer   *Composer
	universe   Universe
	store      LatestReader
	sentiments SentimentSource
	clock      func() time.Time
	logger     *logger.Logger
}

func NewScreener(composer *Composer, universe Universe, store LatestReader, sentiments SentimentSource, clock func() time.Time, log *logger.Logger) *Screener {
	if clock == nil {
		clock = utils.NowUTC
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Screener{
		composer:   composer,
		universe:   universe,
		store:      store,
		sentiments: sentiments,
		clock:      clock,
		logger:     log,
	}
}

type outcome struct {
	signal entity.SignalPrediction
	err    error
}

// RunScreening composes every ticker in parallel and returns the candidates
// ordered by screening score descending, then ticker. Tickers without data or
// still warming up are skipped.
func (s *Screener) RunScreening(ctx context.Context) ([]entity.SignalPrediction, error) {
	ctx, span := trace.StartSpan(ctx, "signal.RunScreening")
	defer span.End()

	stocks, err := s.universe.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list universe: %w", err)
	}
	at := s.clock().Truncate(time.Minute)

	mapper := iter.Mapper[entity.Stock, outcome]{MaxGoroutines: s.composer.cfg.Parallelism}
	results := mapper.Map(stocks, func(st *entity.Stock) outcome {
		if err := ctx.Err(); err != nil {
			return outcome{err: err}
		}
		sig, err := s.screenOne(ctx, *st, at)
		return outcome{signal: sig, err: err}
	})

	var out []entity.SignalPrediction
	var errs []error
	skipped := 0
	for i, r := range results {
		switch {
		case r.err == nil:
			out = append(out, r.signal)
		case errors.Is(r.err, entity.ErrNotFound), errors.Is(r.err, entity.ErrCompute):
			skipped++
			s.logger.Debug("Skipping ticker in screening",
				logger.StringField("ticker", stocks[i].Ticker), logger.ErrorField(r.err))
		default:
			errs = append(errs, r.err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ScreeningScore != out[j].ScreeningScore {
			return out[i].ScreeningScore > out[j].ScreeningScore
		}
		return out[i].Ticker < out[j].Ticker
	})

	s.logger.Info("Screening finished",
		logger.IntField("universe", len(stocks)),
		logger.IntField("candidates", len(out)),
		logger.IntField("skipped", skipped))
	return out, errors.Join(errs...)
}

func (s *Screener) screenOne(ctx context.Context, st entity.Stock, at time.Time) (entity.SignalPrediction, error) {
	ticker := entity.NormalizeTicker(st.Ticker)
	price, err := s.store.LatestPrice(ctx, ticker)
	if err != nil {
		return entity.SignalPrediction{}, err
	}
	snap, err := s.store.LatestTechnical(ctx, ticker)
	if err != nil {
		return entity.SignalPrediction{}, err
	}
	return s.composer.Compose(Input{
		Stock:     st,
		Price:     price,
		Snapshot:  &snap,
		Sentiment: s.sentiments.State(ticker),
		At:        at,
	})
}

// directionDeadBand is the movement percent under which a prediction is flat.
const directionDeadBand = 0.1

// Predict derives the daily movement forecast from a composed signal.
func Predict(sig entity.SignalPrediction) (entity.Prediction, error) {
	day := utils.TruncateDay(sig.Timestamp)
	p := entity.Prediction{
		Ticker:          sig.Ticker,
		PredictionDate:  day,
		ModelVersion:    sig.ModelVersion,
		TargetDate:      utils.NextWeekday(day),
		ConfidenceScore: clamp(sig.Confidence/100, 0, 1),
	}
	if sig.PredictedPrice1d != nil && sig.CurrentPrice > 0 {
		p.PredictedMovementPercent = (*sig.PredictedPrice1d/sig.CurrentPrice - 1) * 100
	}
	switch {
	case p.PredictedMovementPercent > directionDeadBand:
		p.PredictedDirection = 1
	case p.PredictedMovementPercent < -directionDeadBand:
		p.PredictedDirection = -1
	}
	if math.IsNaN(p.PredictedMovementPercent) || math.IsInf(p.PredictedMovementPercent, 0) {
		return entity.Prediction{}, fmt.Errorf("%s: movement not finite: %w", sig.Ticker, entity.ErrCompute)
	}
	if err := p.Validate(); err != nil {
		return entity.Prediction{}, fmt.Errorf("%s: %w: %w", sig.Ticker, entity.ErrCompute, err)
	}
	return p, nil
}
