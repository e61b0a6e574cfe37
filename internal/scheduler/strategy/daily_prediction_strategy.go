package strategy

import (
	"context"
	"errors"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/signal"
	"golang-stock-pulse/internal/tsstore"
	"golang-stock-pulse/pkg/logger"
	"golang-stock-pulse/pkg/telegram"
	"golang-stock-pulse/pkg/utils"
)

const summaryLimit = 10

// DailyPredictionStrategy turns the current candidates into next-day forecasts
// and sends the day's summary to Telegram.
type DailyPredictionStrategy struct {
	logger   *logger.Logger
	screener Screener
	store    *tsstore.Store
	notifier telegram.Notifier
}

func NewDailyPredictionStrategy(log *logger.Logger, screener Screener, store *tsstore.Store, notifier telegram.Notifier) *DailyPredictionStrategy {
	if notifier == nil {
		notifier = telegram.NewNopNotifier()
	}
	return &DailyPredictionStrategy{logger: log, screener: screener, store: store, notifier: notifier}
}

func (s *DailyPredictionStrategy) GetType() entity.JobType {
	return entity.JobTypeDailyPrediction
}

type predictionOutput struct {
	Ticker    string  `json:"ticker"`
	Status    string  `json:"status"`
	Direction int     `json:"direction,omitempty"`
	Movement  float64 `json:"movement_percent,omitempty"`
	Error     string  `json:"error,omitempty"`
}

func (s *DailyPredictionStrategy) Execute(ctx context.Context, job *entity.Job) (string, error) {
	signals, screenErr := s.screener.RunScreening(ctx)
	if screenErr != nil && len(signals) == 0 {
		return "", screenErr
	}

	results := make([]predictionOutput, 0, len(signals))
	var errs []error
	for _, sig := range signals {
		p, err := signal.Predict(sig)
		if err != nil {
			results = append(results, predictionOutput{Ticker: sig.Ticker, Status: SKIPPED, Error: err.Error()})
			continue
		}
		_, err = s.store.Predictions.Append(ctx, p)
		switch {
		case errors.Is(err, entity.ErrDuplicate):
			results = append(results, predictionOutput{Ticker: sig.Ticker, Status: SKIPPED, Error: "already predicted"})
			continue
		case err != nil:
			errs = append(errs, err)
			results = append(results, predictionOutput{Ticker: sig.Ticker, Status: FAILED, Error: err.Error()})
			continue
		}
		results = append(results, predictionOutput{
			Ticker:    p.Ticker,
			Status:    SUCCESS,
			Direction: p.PredictedDirection,
			Movement:  p.PredictedMovementPercent,
		})
	}

	if err := s.notifier.SendMessage(telegram.FormatSignalSummary(utils.NowUTC(), signals, summaryLimit)); err != nil {
		s.logger.WarnContext(ctx, "Failed to send signal summary", logger.ErrorField(err))
	}
	if screenErr != nil {
		errs = append(errs, screenErr)
	}
	return toJSON(results), errors.Join(errs...)
}
