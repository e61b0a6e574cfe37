package strategy

import (
	"context"
	"errors"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/scheduler/config"
	"golang-stock-pulse/internal/scheduler/repository"
	"golang-stock-pulse/internal/sentiment"
	"golang-stock-pulse/internal/tsstore"
	"golang-stock-pulse/pkg/logger"
	"golang-stock-pulse/pkg/utils"
)

// NewsIngestionStrategy fetches recent news per ticker, scores every new
// article and folds the score into the sentiment aggregate.
type NewsIngestionStrategy struct {
	cfg        *config.Config
	logger     *logger.Logger
	universe   Universe
	news       repository.NewsRepository
	analyzer   sentiment.Analyzer
	store      *tsstore.Store
	aggregator *sentiment.Aggregator
	clock      func() time.Time
}

func NewNewsIngestionStrategy(cfg *config.Config, log *logger.Logger, universe Universe, news repository.NewsRepository, analyzer sentiment.Analyzer, store *tsstore.Store, aggregator *sentiment.Aggregator) *NewsIngestionStrategy {
	return &NewsIngestionStrategy{
		cfg:        cfg,
		logger:     log,
		universe:   universe,
		news:       news,
		analyzer:   analyzer,
		store:      store,
		aggregator: aggregator,
		clock:      utils.NowUTC,
	}
}

func (s *NewsIngestionStrategy) GetType() entity.JobType {
	return entity.JobTypeNewsIngestion
}

func (s *NewsIngestionStrategy) Execute(ctx context.Context, job *entity.Job) (string, error) {
	tickers, err := s.universe.Tickers(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list tickers", logger.ErrorField(err))
		return "", err
	}

	since := s.clock().Add(-utils.ParseDurationOr(s.cfg.GoogleNews.MaxAge, 48*time.Hour))
	results, err := forEachTicker(ctx, s.logger, tickers, s.cfg.Ingestion.MaxConcurrent, func(ctx context.Context, ticker string) tickerResult {
		return s.ingest(ctx, ticker, since)
	})
	return toJSON(map[string]any{"since": since, "tickers": results}), err
}

func (s *NewsIngestionStrategy) ingest(ctx context.Context, ticker string, since time.Time) tickerResult {
	articles, err := s.news.GetTickerNews(ctx, ticker, since, s.cfg.Ingestion.MaxNews)
	if err != nil {
		return failed(err)
	}

	res := tickerResult{Status: SUCCESS}
	for _, article := range articles {
		if !utils.ShouldContinue(ctx, s.logger) {
			return failed(ctx.Err())
		}
		outcome, err := s.store.News.Append(ctx, article)
		if errors.Is(err, entity.ErrValidation) {
			res.Invalid++
			continue
		}
		if err != nil {
			return failed(err)
		}
		if outcome == tsstore.Ignored {
			done, err := s.scored(ctx, article)
			if err != nil {
				return failed(err)
			}
			if done {
				res.Ignored++
				continue
			}
		}

		analysis, err := s.analyzer.Analyze(ctx, article)
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to analyze article", logger.StringField("url", article.URL), logger.ErrorField(err))
			res.Invalid++
			continue
		}
		obs := sentiment.Observation(article, analysis)
		outcome, err = s.store.AppendSentiment(ctx, obs)
		if err != nil {
			if errors.Is(err, entity.ErrValidation) {
				res.Invalid++
				continue
			}
			return failed(err)
		}
		if outcome == tsstore.Ignored {
			res.Ignored++
			continue
		}
		s.aggregator.Observe(obs)
		res.Inserted++

		s.logger.DebugContext(ctx, "Scored article",
			logger.StringField("ticker", obs.Ticker),
			logger.StringField("url", obs.ArticleURL),
			logger.FloatField("score", obs.Score),
			logger.StringField("source", obs.Source))
	}
	return res
}

// scored reports whether a stored article already has its observation. A run
// cut short between the two appends leaves the article unscored.
func (s *NewsIngestionStrategy) scored(ctx context.Context, article entity.NewsArticle) (bool, error) {
	at := article.PublishedAt.UTC()
	rows, err := s.store.Sentiments.Query(ctx, entity.NormalizeTicker(article.Ticker), at, at)
	if err != nil {
		return false, err
	}
	for _, o := range rows {
		if o.ArticleURL == article.URL {
			return true, nil
		}
	}
	return false, nil
}
