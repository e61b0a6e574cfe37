package repository

import (
	"errors"
	"strings"
	"testing"
	"time"

	"golang-stock-pulse/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestParseSentimentResponse(t *testing.T) {
	res, err := parseSentimentResponse("```json\n{\"ticker\":\"AAPL\",\"sentiment_score\":0.7,\"confidence_score\":0.9,\"reason\":\"beat\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, 0.7, res.SentimentScore)
	assert.Equal(t, 0.9, res.ConfidenceScore)

	_, err = parseSentimentResponse(`{"sentiment_score":1.5,"confidence_score":0.9}`)
	assert.Error(t, err)

	_, err = parseSentimentResponse("")
	assert.Error(t, err)

	_, err = parseSentimentResponse("not json")
	assert.Error(t, err)
}

func TestClassifyGeminiError(t *testing.T) {
	assert.ErrorIs(t, classifyGeminiError(genai.APIError{Code: 429}), entity.ErrUpstreamUnavailable)
	assert.ErrorIs(t, classifyGeminiError(genai.APIError{Code: 503}), entity.ErrUpstreamUnavailable)
	assert.NotErrorIs(t, classifyGeminiError(genai.APIError{Code: 400}), entity.ErrUpstreamUnavailable)
	assert.ErrorIs(t, classifyGeminiError(errors.New("dial tcp: refused")), entity.ErrUpstreamUnavailable)
}

func TestBuildNewsSentimentPrompt(t *testing.T) {
	p := BuildNewsSentimentPrompt(entity.NewsArticle{
		Ticker: "AAPL", Title: "Apple beats", Source: "example.com",
		PublishedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Content:     strings.Repeat("x", maxPromptContent+100),
	})
	assert.Contains(t, p, "Apple beats")
	assert.Contains(t, p, "2024-01-02T03:04:05Z")
	assert.NotContains(t, p, strings.Repeat("x", maxPromptContent+1))
}
