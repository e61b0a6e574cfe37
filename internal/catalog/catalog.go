package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/pkg/logger"

	"github.com/patrickmn/go-cache"
)

// DefaultUniverse is registered when no tickers are configured.
var DefaultUniverse = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "TSLA", "META", "NVDA", "NFLX"}

// StockRepository persists stock metadata.
type StockRepository interface {
	Get(ctx context.Context, ticker string) (*entity.Stock, error)
	List(ctx context.Context) ([]entity.Stock, error)
	Upsert(ctx context.Context, stock *entity.Stock) error
}

// Catalog is the registry of known tickers.
type Catalog interface {
	Register(ctx context.Context, stock entity.Stock) (entity.Stock, error)
	Get(ctx context.Context, ticker string) (entity.Stock, error)
	List(ctx context.Context) ([]entity.Stock, error)
	Tickers(ctx context.Context) ([]string, error)
	Seed(ctx context.Context, tickers []string) error
}

const listKey = "__all__"

type catalog struct {
	repo   StockRepository
	cache  *cache.Cache
	logger *logger.Logger
	clock  func() time.Time
	mu     sync.Mutex
}

// New returns a catalog backed by repo with a read-through cache.
func New(repo StockRepository, ttl time.Duration, log *logger.Logger) Catalog {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &catalog{
		repo:   repo,
		cache:  cache.New(ttl, 2*ttl),
		logger: log,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Register creates the stock on first observation. Later calls refresh the
// metadata only; the ticker and creation time never change.
func (c *catalog) Register(ctx context.Context, stock entity.Stock) (entity.Stock, error) {
	stock.Ticker = entity.NormalizeTicker(stock.Ticker)
	if stock.Name == "" {
		stock.Name = stock.Ticker
	}
	if err := stock.Validate(); err != nil {
		return entity.Stock{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	existing, err := c.repo.Get(ctx, stock.Ticker)
	switch {
	case err == nil:
		merged := *existing
		changed := false
		// an empty field never blanks stored metadata
		if stock.Name != stock.Ticker && stock.Name != merged.Name {
			merged.Name, changed = stock.Name, true
		}
		if stock.Sector != "" && stock.Sector != merged.Sector {
			merged.Sector, changed = stock.Sector, true
		}
		if stock.Industry != "" && stock.Industry != merged.Industry {
			merged.Industry, changed = stock.Industry, true
		}
		if !changed {
			return merged, nil
		}
		merged.UpdatedAt = now
		if err := c.repo.Upsert(ctx, &merged); err != nil {
			return entity.Stock{}, fmt.Errorf("refresh %s: %w", stock.Ticker, err)
		}
		c.store(merged)
		return merged, nil
	case errors.Is(err, entity.ErrNotFound):
		stock.CreatedAt, stock.UpdatedAt = now, now
		if err := c.repo.Upsert(ctx, &stock); err != nil {
			return entity.Stock{}, fmt.Errorf("register %s: %w", stock.Ticker, err)
		}
		c.store(stock)
		c.logger.Info("Registered stock", logger.StringField("ticker", stock.Ticker))
		return stock, nil
	default:
		return entity.Stock{}, fmt.Errorf("lookup %s: %w", stock.Ticker, err)
	}
}

func (c *catalog) store(s entity.Stock) {
	c.cache.SetDefault(s.Ticker, s)
	c.cache.Delete(listKey)
}

func (c *catalog) Get(ctx context.Context, ticker string) (entity.Stock, error) {
	ticker = entity.NormalizeTicker(ticker)
	if v, ok := c.cache.Get(ticker); ok {
		return v.(entity.Stock), nil
	}
	s, err := c.repo.Get(ctx, ticker)
	if err != nil {
		return entity.Stock{}, err
	}
	c.cache.SetDefault(ticker, *s)
	return *s, nil
}

// List returns every stock ordered by ticker.
func (c *catalog) List(ctx context.Context) ([]entity.Stock, error) {
	if v, ok := c.cache.Get(listKey); ok {
		return append([]entity.Stock(nil), v.([]entity.Stock)...), nil
	}
	stocks, err := c.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stocks: %w", err)
	}
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].Ticker < stocks[j].Ticker })
	c.cache.SetDefault(listKey, stocks)
	return append([]entity.Stock(nil), stocks...), nil
}

func (c *catalog) Tickers(ctx context.Context) ([]string, error) {
	stocks, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(stocks))
	for i, s := range stocks {
		out[i] = s.Ticker
	}
	return out, nil
}

// Seed registers every ticker that is not yet known.
func (c *catalog) Seed(ctx context.Context, tickers []string) error {
	if len(tickers) == 0 {
		tickers = DefaultUniverse
	}
	var errs []error
	for _, t := range tickers {
		if _, err := c.Register(ctx, entity.Stock{Ticker: t}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
