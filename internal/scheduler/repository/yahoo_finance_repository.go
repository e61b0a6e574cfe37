package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/scheduler/config"
	"golang-stock-pulse/internal/scheduler/dto"
	"golang-stock-pulse/pkg/common"
	"golang-stock-pulse/pkg/logger"
	"golang-stock-pulse/pkg/metrics"
	"golang-stock-pulse/pkg/utils"

	"golang.org/x/time/rate"
)

// PriceRepository fetches daily bars from an upstream market data provider.
type PriceRepository interface {
	GetDailyPrices(ctx context.Context, ticker, rangeParam, interval string) ([]entity.PricePoint, error)
}

type yahooFinanceRepository struct {
	cfg            *config.Config
	log            *logger.Logger
	metrics        *metrics.Recorder
	httpClient     *http.Client
	requestLimiter *rate.Limiter
}

func NewYahooFinanceRepository(cfg *config.Config, log *logger.Logger, rec *metrics.Recorder) PriceRepository {
	perRequest := time.Minute / time.Duration(cfg.YahooFinance.MaxRequestPerMinute)
	return &yahooFinanceRepository{
		cfg:     cfg,
		log:     log,
		metrics: rec,
		httpClient: &http.Client{
			Timeout: utils.ParseDurationOr(cfg.YahooFinance.Timeout, 15*time.Second),
		},
		requestLimiter: rate.NewLimiter(rate.Every(perRequest), 1),
	}
}

// GetDailyPrices returns the bars of ticker in ascending order. Bars with a
// missing field (halts, partial sessions) are skipped.
func (r *yahooFinanceRepository) GetDailyPrices(ctx context.Context, ticker, rangeParam, interval string) ([]entity.PricePoint, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", r.cfg.YahooFinance.BaseURL, url.PathEscape(ticker),
		url.Values{"range": {rangeParam}, "interval": {interval}}.Encode())

	body, err := r.sendRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var resp dto.YahooChartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode chart for %s: %w", ticker, err)
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("chart for %s: %s: %w", ticker, resp.Chart.Error.Description, entity.ErrNotFound)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("chart for %s is empty: %w", ticker, entity.ErrNotFound)
	}

	return toPricePoints(entity.NormalizeTicker(ticker), resp.Chart.Result[0]), nil
}

func toPricePoints(ticker string, res dto.YahooChartResult) []entity.PricePoint {
	if len(res.Indicators.Quote) == 0 {
		return nil
	}
	q := res.Indicators.Quote[0]
	var adj []*float64
	if len(res.Indicators.AdjClose) > 0 {
		adj = res.Indicators.AdjClose[0].AdjClose
	}

	out := make([]entity.PricePoint, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(q.Open) || i >= len(q.High) || i >= len(q.Low) || i >= len(q.Close) || i >= len(q.Volume) {
			break
		}
		if q.Open[i] == nil || q.High[i] == nil || q.Low[i] == nil || q.Close[i] == nil || q.Volume[i] == nil {
			continue
		}
		p := entity.PricePoint{
			Ticker:    ticker,
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      *q.Open[i],
			High:      *q.High[i],
			Low:       *q.Low[i],
			Close:     *q.Close[i],
			Volume:    *q.Volume[i],
		}
		if i < len(adj) && adj[i] != nil {
			v := *adj[i]
			p.AdjustedClose = &v
		}
		out = append(out, p)
	}
	return out
}

func (r *yahooFinanceRepository) sendRequest(ctx context.Context, endpoint string) ([]byte, error) {
	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for request limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.metrics.RecordUpstreamError(common.ProviderYahooFinance)
		r.log.ErrorContext(ctx, "Failed to send request to Yahoo Finance", logger.StringField("url", endpoint), logger.ErrorField(err))
		return nil, fmt.Errorf("yahoo finance: %v: %w", err, entity.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		r.metrics.RecordUpstreamError(common.ProviderYahooFinance)
		return nil, fmt.Errorf("yahoo finance: read body: %v: %w", err, entity.ErrUpstreamUnavailable)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("yahoo finance: %s: %w", endpoint, entity.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		r.metrics.RecordUpstreamError(common.ProviderYahooFinance)
		r.log.WarnContext(ctx, "Yahoo Finance unavailable", logger.IntField("status_code", resp.StatusCode), logger.StringField("url", endpoint))
		return nil, fmt.Errorf("yahoo finance: status %d: %w", resp.StatusCode, entity.ErrUpstreamUnavailable)
	default:
		r.metrics.RecordUpstreamError(common.ProviderYahooFinance)
		return nil, fmt.Errorf("yahoo finance: unexpected status %d", resp.StatusCode)
	}
}
