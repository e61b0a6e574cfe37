package tsstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/pkg/logger"
)

// Mirrors are the optional persistent backings, one per table.
type Mirrors struct {
	Prices      Mirror[entity.PricePoint]
	Technicals  Mirror[entity.TechnicalSnapshot]
	News        Mirror[entity.NewsArticle]
	Sentiments  Mirror[entity.SentimentObservation]
	Predictions Mirror[entity.Prediction]
	Signals     Mirror[entity.SignalPrediction]
}

// Store owns every persisted time-series row.
type Store struct {
	Prices      *Table[entity.PricePoint]
	Technicals  *Table[entity.TechnicalSnapshot]
	News        *Table[entity.NewsArticle]
	Sentiments  *Table[entity.SentimentObservation]
	Predictions *Table[entity.Prediction]
	Signals     *Table[entity.SignalPrediction]

	opts Options
}

type maintainable interface {
	Name() string
	Compress(ctx context.Context, now time.Time) (int, error)
	ApplyRetention(ctx context.Context, now time.Time) (int, error)
	Stats() Stats
}

// MaintenanceReport summarises one Maintain pass.
type MaintenanceReport struct {
	Compressed map[string]int `json:"compressed"`
	Dropped    map[string]int `json:"dropped"`
}

// New builds the six tables.
func New(policies Policies, mirrors Mirrors, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	s := &Store{opts: opts}

	var err error
	if s.Prices, err = NewTable(policies.Prices, mirrors.Prices, opts); err != nil {
		return nil, err
	}
	if s.Technicals, err = NewTable(policies.Technicals, mirrors.Technicals, opts); err != nil {
		return nil, err
	}
	if s.News, err = NewTable(policies.News, mirrors.News, opts); err != nil {
		return nil, err
	}
	if s.Sentiments, err = NewTable(policies.Sentiments, mirrors.Sentiments, opts); err != nil {
		return nil, err
	}
	if s.Predictions, err = NewTable(policies.Predictions, mirrors.Predictions, opts); err != nil {
		return nil, err
	}
	if s.Signals, err = NewTable(policies.Signals, mirrors.Signals, opts); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) tables() []maintainable {
	return []maintainable{s.Prices, s.Technicals, s.News, s.Sentiments, s.Predictions, s.Signals}
}

// AppendPrice stores one bar; an identical (ticker, timestamp) is ignored.
func (s *Store) AppendPrice(ctx context.Context, p entity.PricePoint) (Outcome, error) {
	p.Ticker = entity.NormalizeTicker(p.Ticker)
	return s.Prices.Append(ctx, p)
}

// AppendSentiment stores one scored article; re-delivery of the same article is ignored.
func (s *Store) AppendSentiment(ctx context.Context, o entity.SentimentObservation) (Outcome, error) {
	o.Ticker = entity.NormalizeTicker(o.Ticker)
	if o.Polarity == "" {
		o.Polarity = entity.PolarityFromScore(o.Score)
	}
	return s.Sentiments.Append(ctx, o)
}

func (s *Store) LatestPrice(ctx context.Context, ticker string) (entity.PricePoint, error) {
	return s.Prices.Latest(ctx, entity.NormalizeTicker(ticker))
}

func (s *Store) LatestTechnical(ctx context.Context, ticker string) (entity.TechnicalSnapshot, error) {
	return s.Technicals.Latest(ctx, entity.NormalizeTicker(ticker))
}

func (s *Store) LatestSignal(ctx context.Context, ticker string) (entity.SignalPrediction, error) {
	return s.Signals.Latest(ctx, entity.NormalizeTicker(ticker))
}

// Maintain compresses then applies retention on every table. One table's failure
// does not stop the others; the errors are joined.
func (s *Store) Maintain(ctx context.Context, now time.Time) (MaintenanceReport, error) {
	report := MaintenanceReport{Compressed: map[string]int{}, Dropped: map[string]int{}}
	var errs []error
	for _, t := range s.tables() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n, err := t.Compress(ctx, now)
		report.Compressed[t.Name()] = n
		if err != nil {
			errs = append(errs, fmt.Errorf("compress %s: %w", t.Name(), err))
		}
		d, err := t.ApplyRetention(ctx, now)
		report.Dropped[t.Name()] = d
		if err != nil {
			errs = append(errs, fmt.Errorf("retention %s: %w", t.Name(), err))
		}

		st := t.Stats()
		s.opts.Metrics.RecordChunks(st.Table, st.HotChunks, st.CompressedChunks, st.Rows)
	}
	if len(errs) > 0 {
		s.opts.Logger.Warn("Store maintenance finished with errors", logger.ErrorField(errors.Join(errs...)))
	}
	return report, errors.Join(errs...)
}

// Stats reports every table.
func (s *Store) Stats() []Stats {
	out := make([]Stats, 0, 6)
	for _, t := range s.tables() {
		out = append(out, t.Stats())
	}
	return out
}
