package strategy

import (
	"context"
	"errors"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/scheduler/repository"
	"golang-stock-pulse/internal/tsstore"
	"golang-stock-pulse/pkg/logger"
)

// Screener composes one candidate per ticker.
type Screener interface {
	RunScreening(ctx context.Context) ([]entity.SignalPrediction, error)
}

// ScreeningStrategy stores the composed candidates and publishes the new ones.
type ScreeningStrategy struct {
	logger    *logger.Logger
	screener  Screener
	store     *tsstore.Store
	publisher repository.SignalPublisherRepository
}

func NewScreeningStrategy(log *logger.Logger, screener Screener, store *tsstore.Store, publisher repository.SignalPublisherRepository) *ScreeningStrategy {
	return &ScreeningStrategy{logger: log, screener: screener, store: store, publisher: publisher}
}

func (s *ScreeningStrategy) GetType() entity.JobType {
	return entity.JobTypeScreening
}

type screeningOutput struct {
	Composed     int            `json:"composed"`
	Stored       int            `json:"stored"`
	Duplicates   int            `json:"duplicates"`
	Published    int            `json:"published"`
	BySignal     map[string]int `json:"by_signal"`
	Errors       []string       `json:"errors,omitempty"`
	PublishError string         `json:"publish_error,omitempty"`
}

func (s *ScreeningStrategy) Execute(ctx context.Context, job *entity.Job) (string, error) {
	signals, screenErr := s.screener.RunScreening(ctx)
	if screenErr != nil && len(signals) == 0 {
		return "", screenErr
	}

	out := screeningOutput{Composed: len(signals), BySignal: map[string]int{}}
	if screenErr != nil {
		out.Errors = append(out.Errors, screenErr.Error())
		s.logger.WarnContext(ctx, "Screening finished with errors", logger.ErrorField(screenErr))
	}

	fresh := make([]entity.SignalPrediction, 0, len(signals))
	for _, sig := range signals {
		_, err := s.store.Signals.Append(ctx, sig)
		if errors.Is(err, entity.ErrDuplicate) {
			out.Duplicates++
			s.logger.DebugContext(ctx, "Signal already stored", logger.StringField("ticker", sig.Ticker), logger.ErrorField(err))
			continue
		}
		if err != nil {
			return toJSON(out), err
		}
		out.Stored++
		out.BySignal[string(sig.SignalType)]++
		fresh = append(fresh, sig)
	}

	// publication is best effort; the stored rows are the source of truth
	if err := s.publisher.Publish(ctx, fresh); err != nil {
		out.PublishError = err.Error()
		s.logger.WarnContext(ctx, "Failed to publish signals", logger.ErrorField(err), logger.IntField("count", len(fresh)))
	} else {
		out.Published = len(fresh)
	}
	return toJSON(out), nil
}
