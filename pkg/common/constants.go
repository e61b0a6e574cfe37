package common

const (
	RedisStreamSignalPrediction = "stock.signal.prediction"
	RedisKeyJobLockPrefix       = "stockpulse:job-lock:"

	ProviderYahooFinance = "yahoo_finance"
	ProviderGoogleNews   = "google_news"
	ProviderGemini       = "gemini"
)
