package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/scheduler/config"
	"golang-stock-pulse/pkg/common"
	"golang-stock-pulse/pkg/logger"
	"golang-stock-pulse/pkg/metrics"
	"golang-stock-pulse/pkg/utils"

	"github.com/PuerkitoBio/goquery"
	"github.com/mauidude/go-readability"
	"github.com/mmcdole/gofeed"
)

// NewsRepository fetches recent articles mentioning a ticker.
type NewsRepository interface {
	GetTickerNews(ctx context.Context, ticker string, since time.Time, limit int) ([]entity.NewsArticle, error)
}

type googleNewsRepository struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Recorder
	client  *http.Client
	parser  *gofeed.Parser
}

func NewGoogleNewsRepository(cfg *config.Config, log *logger.Logger, rec *metrics.Recorder) NewsRepository {
	client := &http.Client{Timeout: utils.ParseDurationOr(cfg.GoogleNews.Timeout, 15*time.Second)}
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	return &googleNewsRepository{cfg: cfg, log: log, metrics: rec, client: client, parser: parser}
}

// GetTickerNews returns at most limit articles published after since, newest first.
func (r *googleNewsRepository) GetTickerNews(ctx context.Context, ticker string, since time.Time, limit int) ([]entity.NewsArticle, error) {
	ticker = entity.NormalizeTicker(ticker)
	feedURL := fmt.Sprintf("%s/search?q=%s&%s", r.cfg.GoogleNews.BaseURL,
		url.QueryEscape(ticker+" stock"), r.cfg.GoogleNews.QueryParams)

	feed, err := r.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, r.classify(ctx, feedURL, err)
	}

	items := feed.Items
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].PublishedParsed == nil || items[j].PublishedParsed == nil {
			return items[i].PublishedParsed != nil
		}
		return items[i].PublishedParsed.After(*items[j].PublishedParsed)
	})

	var out []entity.NewsArticle
	for _, item := range items {
		if limit > 0 && len(out) >= limit {
			break
		}
		if !utils.ShouldContinue(ctx, r.log) {
			return out, ctx.Err()
		}
		if item.PublishedParsed == nil || !item.PublishedParsed.After(since) {
			continue
		}
		link, err := url.Parse(item.Link)
		if err != nil || link.Hostname() == "" {
			continue
		}
		if r.blacklisted(link.Hostname()) {
			r.log.Debug("Skip news from blacklisted domain", logger.StringField("domain", link.Hostname()))
			continue
		}

		article := entity.NewsArticle{
			URL:         item.Link,
			Ticker:      ticker,
			Title:       strings.TrimSpace(item.Title),
			Source:      link.Hostname(),
			PublishedAt: item.PublishedParsed.UTC(),
			Content:     htmlText(item.Description),
		}
		if r.cfg.GoogleNews.FetchContent {
			if content, err := r.fetchContent(ctx, item.Link); err == nil && content != "" {
				article.Content = content
			} else if err != nil {
				r.log.Debug("Falling back to feed description", logger.StringField("url", item.Link), logger.ErrorField(err))
			}
		}
		article.Title = validText(article.Title)
		article.Content = validText(article.Content)
		out = append(out, article)
	}
	return out, nil
}

func (r *googleNewsRepository) blacklisted(host string) bool {
	for _, d := range r.cfg.GoogleNews.Blacklist {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (r *googleNewsRepository) classify(ctx context.Context, feedURL string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.metrics.RecordUpstreamError(common.ProviderGoogleNews)
	r.log.WarnContext(ctx, "Failed to parse RSS feed", logger.StringField("url", feedURL), logger.ErrorField(err))

	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500 {
			return fmt.Errorf("google news: status %d: %w", httpErr.StatusCode, entity.ErrUpstreamUnavailable)
		}
		return fmt.Errorf("google news: status %d", httpErr.StatusCode)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("google news: %v: %w", err, entity.ErrUpstreamUnavailable)
	}
	return fmt.Errorf("google news: %w", err)
}

// fetchContent downloads the article and extracts its readable text.
func (r *googleNewsRepository) fetchContent(ctx context.Context, link string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.parser.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch content: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch content: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	doc, err := readability.NewDocument(string(body))
	if err != nil {
		return "", fmt.Errorf("parse content: %w", err)
	}
	return htmlText(doc.Content()), nil
}

// htmlText flattens an HTML fragment into whitespace-normalised text.
// validText drops bytes that are not UTF-8; feeds and pages in legacy
// encodings leak them and the store rejects such text.
func validText(s string) string {
	return strings.ToValidUTF8(s, "")
}

func htmlText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
