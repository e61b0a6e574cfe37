package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/pkg/common"

	"github.com/redis/go-redis/v9"
)

// SignalPublisherRepository fans composed signals out to downstream consumers.
type SignalPublisherRepository interface {
	Publish(ctx context.Context, signals []entity.SignalPrediction) error
}

type signalPublisherRepository struct {
	client redis.UniversalClient
	maxLen int64
}

func NewSignalPublisherRepository(client redis.UniversalClient, maxLen int64) SignalPublisherRepository {
	return &signalPublisherRepository{client: client, maxLen: maxLen}
}

// Publish appends every signal to the prediction stream in one pipeline.
func (r *signalPublisherRepository) Publish(ctx context.Context, signals []entity.SignalPrediction) error {
	if len(signals) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, s := range signals {
		payload, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal signal %s: %w", s.Ticker, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: common.RedisStreamSignalPrediction,
			MaxLen: r.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"ticker":      s.Ticker,
				"signal_type": string(s.SignalType),
				"payload":     payload,
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %d signals: %w", len(signals), err)
	}
	return nil
}

// nopSignalPublisher is used when Redis is disabled.
type nopSignalPublisher struct{}

func NewNopSignalPublisher() SignalPublisherRepository { return nopSignalPublisher{} }

func (nopSignalPublisher) Publish(context.Context, []entity.SignalPrediction) error { return nil }
