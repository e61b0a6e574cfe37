package config

import (
	"fmt"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/sentiment"
	"golang-stock-pulse/internal/signal"
	"golang-stock-pulse/pkg/config"
	"golang-stock-pulse/pkg/trace"
	"golang-stock-pulse/pkg/utils"

	"github.com/go-playground/validator/v10"
)

// Job is the run policy of one job class. Durations are Go duration strings.
type Job struct {
	Type           string `mapstructure:"type" validate:"required"`
	Enabled        bool   `mapstructure:"enabled"`
	Cadence        string `mapstructure:"cadence" validate:"required"`
	Timeout        string `mapstructure:"timeout"`
	MaxRetries     int    `mapstructure:"max_retries" validate:"gte=0"`
	InitialBackoff string `mapstructure:"initial_backoff"`
	MaxBackoff     string `mapstructure:"max_backoff"`
	DegradeAfter   int    `mapstructure:"degrade_after" validate:"gte=0"`
}

// Entity converts the policy, falling back to sane durations for empty fields.
func (j Job) Entity() entity.Job {
	return entity.Job{
		Type:           entity.JobType(j.Type),
		Cadence:        j.Cadence,
		Timeout:        utils.ParseDurationOr(j.Timeout, 5*time.Minute),
		MaxRetries:     j.MaxRetries,
		InitialBackoff: utils.ParseDurationOr(j.InitialBackoff, 2*time.Second),
		MaxBackoff:     utils.ParseDurationOr(j.MaxBackoff, time.Minute),
		DegradeAfter:   j.DegradeAfter,
	}
}

// DefaultJobs is the registry used when the config file lists none.
func DefaultJobs() []Job {
	return []Job{
		{Type: string(entity.JobTypePriceIngestion), Enabled: true, Cadence: "@every 1h", Timeout: "10m", MaxRetries: 3, InitialBackoff: "5s", MaxBackoff: "1m", DegradeAfter: 3},
		{Type: string(entity.JobTypeNewsIngestion), Enabled: true, Cadence: "@every 15m", Timeout: "10m", MaxRetries: 2, InitialBackoff: "5s", MaxBackoff: "1m", DegradeAfter: 3},
		{Type: string(entity.JobTypeScreening), Enabled: true, Cadence: "*/5 * * * *", Timeout: "2m", MaxRetries: 1, InitialBackoff: "2s", MaxBackoff: "10s", DegradeAfter: 3},
		{Type: string(entity.JobTypeDailyPrediction), Enabled: true, Cadence: "0 22 * * 1-5", Timeout: "5m", MaxRetries: 2, InitialBackoff: "10s", MaxBackoff: "1m", DegradeAfter: 2},
		{Type: string(entity.JobTypeStoreMaintenance), Enabled: true, Cadence: "@every 1h", Timeout: "15m", MaxRetries: 0, DegradeAfter: 3},
	}
}

// Scheduler holds scheduler-specific configuration.
type Scheduler struct {
	DistributedLock bool   `mapstructure:"distributed_lock"`
	LockTTL         string `mapstructure:"lock_ttl" default:"30m"`
	HistoryLimit    int    `mapstructure:"history_limit" default:"100"`
	Jobs            []Job  `mapstructure:"jobs" validate:"dive"`
}

// Catalog lists the tickers seeded at start-up.
type Catalog struct {
	Tickers  []string `mapstructure:"tickers"`
	CacheTTL string   `mapstructure:"cache_ttl" default:"10m"`
}

// Store toggles the Postgres mirror of the time-series store.
type Store struct {
	Mirror bool `mapstructure:"mirror" default:"true"`
}

// Ingestion bounds the per-ticker fan-out of the ingestion jobs.
type Ingestion struct {
	MaxConcurrent int    `mapstructure:"max_concurrent" default:"4" validate:"gte=1"`
	PriceRange    string `mapstructure:"price_range" default:"1y"`
	PriceInterval string `mapstructure:"price_interval" default:"1d"`
	MaxNews       int    `mapstructure:"max_news" default:"20" validate:"gte=1"`
}

type YahooFinance struct {
	BaseURL             string `mapstructure:"base_url" default:"https://query1.finance.yahoo.com" validate:"url"`
	MaxRequestPerMinute int    `mapstructure:"max_request_per_minute" default:"60" validate:"gte=1"`
	Timeout             string `mapstructure:"timeout" default:"15s"`
}

type GoogleNews struct {
	BaseURL      string   `mapstructure:"base_url" default:"https://news.google.com/rss" validate:"url"`
	QueryParams  string   `mapstructure:"query_params" default:"hl=en-US&gl=US&ceid=US:en"`
	FetchContent bool     `mapstructure:"fetch_content"`
	MaxAge       string   `mapstructure:"max_age" default:"48h"`
	Blacklist    []string `mapstructure:"blacklisted_domains"`
	Timeout      string   `mapstructure:"timeout" default:"15s"`
}

// Gemini enables the LLM sentiment analyzer. Without an API key the lexicon scorer is used alone.
type Gemini struct {
	APIKey              string `mapstructure:"api_key"`
	Model               string `mapstructure:"model" default:"gemini-2.0-flash"`
	MaxRequestPerMinute int    `mapstructure:"max_request_per_minute" default:"15" validate:"gte=1"`
}

// Metrics exposes the Prometheus handler.
type Metrics struct {
	Enabled bool   `mapstructure:"enabled" default:"true"`
	Path    string `mapstructure:"path" default:"/metrics"`
}

// Config holds the full configuration for the signal service.
type Config struct {
	App          config.App       `mapstructure:"app"`
	Logger       config.Logger    `mapstructure:"logger"`
	Database     config.Database  `mapstructure:"database"`
	Redis        config.Redis     `mapstructure:"redis"`
	API          config.API       `mapstructure:"api"`
	Telegram     config.Telegram  `mapstructure:"telegram"`
	Trace        trace.Config     `mapstructure:"trace"`
	Metrics      Metrics          `mapstructure:"metrics"`
	Scheduler    Scheduler        `mapstructure:"scheduler"`
	Catalog      Catalog          `mapstructure:"catalog"`
	Store        Store            `mapstructure:"store"`
	Ingestion    Ingestion        `mapstructure:"ingestion"`
	Sentiment    sentiment.Config `mapstructure:"sentiment"`
	Signal       signal.Config    `mapstructure:"signal"`
	YahooFinance YahooFinance     `mapstructure:"yahoo_finance"`
	GoogleNews   GoogleNews       `mapstructure:"google_news"`
	Gemini       Gemini           `mapstructure:"gemini"`
}

// Load loads the service configuration from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := config.Load(path, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Scheduler.Jobs) == 0 {
		cfg.Scheduler.Jobs = DefaultJobs()
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
