package dto

// NewsSentimentResult is the JSON object the model is asked to return for one article.
type NewsSentimentResult struct {
	Ticker          string  `json:"ticker"`
	SentimentScore  float64 `json:"sentiment_score"`
	ConfidenceScore float64 `json:"confidence_score"`
	Reason          string  `json:"reason"`
}
