package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/pkg/logger"
	"golang-stock-pulse/pkg/utils"
)

const (
	SUCCESS = "success"
	SKIPPED = "skipped"
	FAILED  = "failed"
)

// JobExecutionStrategy runs one job class. The returned string is the JSON
// output recorded in the execution history.
type JobExecutionStrategy interface {
	Execute(ctx context.Context, job *entity.Job) (string, error)
	GetType() entity.JobType
}

// Universe lists the tickers a job works on.
type Universe interface {
	Tickers(ctx context.Context) ([]string, error)
}

// tickerResult is the per-ticker line of a job output.
type tickerResult struct {
	Ticker   string `json:"ticker"`
	Status   string `json:"status"`
	Inserted int    `json:"inserted"`
	Ignored  int    `json:"ignored,omitempty"`
	Invalid  int    `json:"invalid,omitempty"`
	Error    string `json:"error,omitempty"`

	cause error
}

// forEachTicker runs fn for every ticker with at most maxConcurrent in flight.
// Unknown tickers are reported as skipped. The joined error of the failed
// tickers is returned alongside the results, sorted by ticker.
func forEachTicker(ctx context.Context, log *logger.Logger, tickers []string, maxConcurrent int,
	fn func(ctx context.Context, ticker string) tickerResult) ([]tickerResult, error) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		results   []tickerResult
		errs      []error
		semaphore = make(chan struct{}, maxConcurrent)
	)

	for _, ticker := range tickers {
		if !utils.ShouldContinue(ctx, log) {
			break
		}
		wg.Add(1)
		utils.GoSafe(func() {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			res := fn(ctx, ticker)
			res.Ticker = ticker

			mu.Lock()
			defer mu.Unlock()
			results = append(results, res)
			if res.Status == FAILED {
				errs = append(errs, res.err(ticker))
			}
		})
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Ticker < results[j].Ticker })
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, errors.Join(errs...)
}

// failed builds a failed result. Transient causes are kept so the scheduler can retry.
func failed(err error) tickerResult {
	return tickerResult{Status: FAILED, Error: err.Error(), cause: err}
}

func (r tickerResult) err(ticker string) error {
	if r.cause != nil {
		return fmt.Errorf("%s: %w", ticker, r.cause)
	}
	return fmt.Errorf("%s: %s", ticker, r.Error)
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(b)
}
