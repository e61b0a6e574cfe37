package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/scheduler/config"
	"golang-stock-pulse/internal/scheduler/dto"
	"golang-stock-pulse/internal/sentiment"
	"golang-stock-pulse/pkg/common"
	"golang-stock-pulse/pkg/logger"
	"golang-stock-pulse/pkg/metrics"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// geminiAIRepository scores news with the Google Gemini API. It implements sentiment.Analyzer.
type geminiAIRepository struct {
	cfg            *config.Config
	logger         *logger.Logger
	metrics        *metrics.Recorder
	requestLimiter *rate.Limiter
	genAiClient    *genai.Client
}

// NewGeminiAIRepository creates a new Gemini backed analyzer.
func NewGeminiAIRepository(cfg *config.Config, log *logger.Logger, rec *metrics.Recorder, genAiClient *genai.Client) sentiment.Analyzer {
	perRequest := time.Minute / time.Duration(cfg.Gemini.MaxRequestPerMinute)
	return &geminiAIRepository{
		cfg:            cfg,
		logger:         log,
		metrics:        rec,
		requestLimiter: rate.NewLimiter(rate.Every(perRequest), 1),
		genAiClient:    genAiClient,
	}
}

func (r *geminiAIRepository) Analyze(ctx context.Context, article entity.NewsArticle) (sentiment.Analysis, error) {
	if err := r.requestLimiter.Wait(ctx); err != nil {
		return sentiment.Analysis{}, fmt.Errorf("failed to wait for request limit: %w", err)
	}

	contents := []*genai.Content{genai.NewContentFromText(BuildNewsSentimentPrompt(article), genai.RoleUser)}
	resp, err := r.genAiClient.Models.GenerateContent(ctx, r.cfg.Gemini.Model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	})
	if err != nil {
		if ctx.Err() != nil {
			return sentiment.Analysis{}, ctx.Err()
		}
		r.metrics.RecordUpstreamError(common.ProviderGemini)
		r.logger.WarnContext(ctx, "Gemini request failed", logger.StringField("url", article.URL), logger.ErrorField(err))
		return sentiment.Analysis{}, classifyGeminiError(err)
	}

	result, err := parseSentimentResponse(resp.Text())
	if err != nil {
		r.logger.Error("Failed to parse Gemini response", logger.ErrorField(err), logger.StringField("url", article.URL))
		return sentiment.Analysis{}, err
	}
	return sentiment.Analysis{
		Score:      result.SentimentScore,
		Confidence: result.ConfidenceScore,
		Source:     common.ProviderGemini,
	}, nil
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return fmt.Errorf("gemini: %v: %w", err, entity.ErrUpstreamUnavailable)
		}
		return fmt.Errorf("gemini: %w", err)
	}
	return fmt.Errorf("gemini: %v: %w", err, entity.ErrUpstreamUnavailable)
}

// parseSentimentResponse accepts the raw JSON object, optionally wrapped in a markdown fence.
func parseSentimentResponse(text string) (*dto.NewsSentimentResult, error) {
	raw := strings.TrimSpace(text)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("no content found in Gemini response")
	}

	var result dto.NewsSentimentResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sentiment from Gemini response: %w", err)
	}
	if result.SentimentScore < -1 || result.SentimentScore > 1 || result.ConfidenceScore < 0 || result.ConfidenceScore > 1 {
		return nil, fmt.Errorf("gemini sentiment out of range (score %.3f, confidence %.3f)", result.SentimentScore, result.ConfidenceScore)
	}
	return &result, nil
}
