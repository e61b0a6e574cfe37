package repository

import (
	"fmt"
	"time"

	"golang-stock-pulse/internal/entity"
)

// maxPromptContent keeps the article body under the model's comfortable context size.
const maxPromptContent = 6000

func BuildNewsSentimentPrompt(article entity.NewsArticle) string {
	content := article.Content
	if len(content) > maxPromptContent {
		content = content[:maxPromptContent]
	}
	return fmt.Sprintf(`You are an equity market analyst. Rate how the following news article affects the share price of %s.

Title: %s
Source: %s
Published At: %s
Content:
%s

Answer with a single JSON object and nothing else:

{
  "ticker": "%s",
  "sentiment_score": {-1.0 (very negative) to 1.0 (very positive), 0 when unrelated},
  "confidence_score": {0.0 (pure guess) to 1.0 (certain)},
  "reason": "{one sentence}"
}`,
		article.Ticker, article.Title, article.Source, article.PublishedAt.Format(time.RFC3339), content, article.Ticker)
}
