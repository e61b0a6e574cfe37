package repository

import (
	"context"
	"time"

	"golang-stock-pulse/internal/entity"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TimeSeriesRepository mirrors one time-partitioned table in Postgres.
type TimeSeriesRepository[R any] interface {
	Insert(ctx context.Context, rec R) error
	DeleteBefore(ctx context.Context, cutoff time.Time) error
	LoadSince(ctx context.Context, since time.Time) ([]R, error)
}

// NewTimeSeriesRepository creates a repository over R's table, partitioned on timeColumn.
func NewTimeSeriesRepository[R any](db *gorm.DB, timeColumn string) TimeSeriesRepository[R] {
	return &timeSeriesRepository[R]{db: db, timeColumn: timeColumn}
}

type timeSeriesRepository[R any] struct {
	db         *gorm.DB
	timeColumn string
}

// Insert is idempotent: a row with an existing primary key is left untouched.
func (r *timeSeriesRepository[R]) Insert(ctx context.Context, rec R) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

func (r *timeSeriesRepository[R]) DeleteBefore(ctx context.Context, cutoff time.Time) error {
	return r.db.WithContext(ctx).Where(r.timeColumn+" < ?", cutoff).Delete(new(R)).Error
}

func (r *timeSeriesRepository[R]) LoadSince(ctx context.Context, since time.Time) ([]R, error) {
	var rows []R
	if err := r.db.WithContext(ctx).
		Where(r.timeColumn+" >= ?", since).
		Order(r.timeColumn + " asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// TimeSeriesRepositories groups the mirrors of every store table.
type TimeSeriesRepositories struct {
	Prices      TimeSeriesRepository[entity.PricePoint]
	Technicals  TimeSeriesRepository[entity.TechnicalSnapshot]
	News        TimeSeriesRepository[entity.NewsArticle]
	Sentiments  TimeSeriesRepository[entity.SentimentObservation]
	Predictions TimeSeriesRepository[entity.Prediction]
	Signals     TimeSeriesRepository[entity.SignalPrediction]
}

func NewTimeSeriesRepositories(db *gorm.DB) TimeSeriesRepositories {
	return TimeSeriesRepositories{
		Prices:      NewTimeSeriesRepository[entity.PricePoint](db, "timestamp"),
		Technicals:  NewTimeSeriesRepository[entity.TechnicalSnapshot](db, "timestamp"),
		News:        NewTimeSeriesRepository[entity.NewsArticle](db, "published_at"),
		Sentiments:  NewTimeSeriesRepository[entity.SentimentObservation](db, "published_at"),
		Predictions: NewTimeSeriesRepository[entity.Prediction](db, "prediction_date"),
		Signals:     NewTimeSeriesRepository[entity.SignalPrediction](db, "timestamp"),
	}
}
