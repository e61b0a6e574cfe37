package utils

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang-stock-pulse/pkg/logger"

	"github.com/stretchr/testify/assert"
)

func TestGoSafe_RecoversPanic(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	GoSafe(func() {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait()
}

func TestShouldContinue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.True(t, ShouldContinue(ctx, logger.NewNop()))
	cancel()
	assert.False(t, ShouldContinue(ctx, logger.NewNop()))
}

func TestTruncateDay(t *testing.T) {
	in := time.Date(2024, 3, 5, 17, 45, 0, 0, time.FixedZone("X", 7*3600))
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), TruncateDay(in))
}

func TestNextWeekday(t *testing.T) {
	cases := map[string]struct {
		in, want time.Time
	}{
		"monday to tuesday":  {time.Date(2024, 5, 6, 21, 0, 0, 0, time.UTC), time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC)},
		"friday to monday":   {time.Date(2024, 5, 10, 21, 0, 0, 0, time.UTC), time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)},
		"saturday to monday": {time.Date(2024, 5, 11, 9, 0, 0, 0, time.UTC), time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)},
		"sunday to monday":   {time.Date(2024, 5, 12, 9, 0, 0, 0, time.UTC), time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, NextWeekday(tc.in))
		})
	}
}

func TestParseDurationOr(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseDurationOr("", 5*time.Second))
	assert.Equal(t, 5*time.Second, ParseDurationOr("nope", 5*time.Second))
	assert.Equal(t, time.Minute, ParseDurationOr("1m", 5*time.Second))
}

func TestToPointer(t *testing.T) {
	p := ToPointer(3.5)
	assert.Equal(t, 3.5, *p)
}
