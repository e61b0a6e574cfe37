package sentiment

import (
	"container/heap"
	"math"
	"sync"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/pkg/logger"
)

// Config tunes the decay window of the aggregator.
type Config struct {
	Window              time.Duration `mapstructure:"window" default:"48h" validate:"gt=0"`
	HalfLife            time.Duration `mapstructure:"half_life" default:"12h" validate:"gt=0"`
	HighImpactThreshold float64       `mapstructure:"high_impact_threshold" default:"0.6" validate:"gt=0,lte=1"`
	MinConfidence       float64       `mapstructure:"min_confidence" default:"0.001" validate:"gte=0,lt=1"`
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Window:              48 * time.Hour,
		HalfLife:            12 * time.Hour,
		HighImpactThreshold: 0.6,
		MinConfidence:       1e-3,
	}
}

const (
	immediateAge = time.Hour
	shortTermAge = 24 * time.Hour
	// rebaseAfter bounds the exponent of the running sums.
	rebaseAfter = 32
)

// Aggregate is the decayed sentiment of one ticker at AsOf.
type Aggregate struct {
	Ticker     string                 `json:"ticker"`
	Score      float64                `json:"score"`
	Confidence float64                `json:"confidence"`
	Impact     entity.SentimentImpact `json:"impact"`
	NewsCount  int                    `json:"news_count"`
	LatestAt   time.Time              `json:"latest_at,omitempty"`
	AsOf       time.Time              `json:"as_of"`
}

type entry struct {
	url    string
	at     time.Time
	score  float64
	conf   float64
	growth float64
}

type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// ticker keeps Σ s·c·g, Σ c·g and Σ g with g = 2^((t-ref)/halfLife).
// Decay relative to any later instant multiplies every term by the same
// factor, so ratios of the sums are the decayed averages.
type ticker struct {
	mu      sync.Mutex
	ref     time.Time
	entries entryHeap
	sumSCG  float64
	sumCG   float64
	sumG    float64
	newest  *entry
}

func (t *ticker) add(e *entry, halfLife time.Duration) {
	if t.ref.IsZero() {
		t.ref = e.at
	}
	if e.at.Sub(t.ref) > rebaseAfter*halfLife {
		t.rebase(e.at, halfLife)
	}
	e.growth = growth(e.at, t.ref, halfLife)
	heap.Push(&t.entries, e)
	t.sumSCG += e.score * e.conf * e.growth
	t.sumCG += e.conf * e.growth
	t.sumG += e.growth
	if t.newest == nil || e.at.After(t.newest.at) {
		t.newest = e
	}
}

// rebase moves the reference time forward and recomputes the sums from the live entries.
func (t *ticker) rebase(ref time.Time, halfLife time.Duration) {
	t.ref = ref
	t.sumSCG, t.sumCG, t.sumG = 0, 0, 0
	for _, e := range t.entries {
		e.growth = growth(e.at, ref, halfLife)
		t.sumSCG += e.score * e.conf * e.growth
		t.sumCG += e.conf * e.growth
		t.sumG += e.growth
	}
}

// evict drops every entry at or before cutoff and returns their URLs.
func (t *ticker) evict(cutoff time.Time) []string {
	var urls []string
	for t.entries.Len() > 0 && !t.entries[0].at.After(cutoff) {
		e := heap.Pop(&t.entries).(*entry)
		t.sumSCG -= e.score * e.conf * e.growth
		t.sumCG -= e.conf * e.growth
		t.sumG -= e.growth
		urls = append(urls, e.url)
		if t.newest == e {
			t.newest = nil
		}
	}
	if t.entries.Len() == 0 {
		t.sumSCG, t.sumCG, t.sumG = 0, 0, 0
		t.ref = time.Time{}
		t.newest = nil
	}
	return urls
}

func growth(at, ref time.Time, halfLife time.Duration) float64 {
	return math.Exp2(float64(at.Sub(ref)) / float64(halfLife))
}

// Aggregator maintains a decayed sentiment score per ticker.
type Aggregator struct {
	cfg    Config
	clock  func() time.Time
	logger *logger.Logger

	mu      sync.Mutex
	tickers map[string]*ticker
	seen    map[string]string
}

// NewAggregator builds an empty aggregator. clock may be nil.
func NewAggregator(cfg Config, clock func() time.Time, log *logger.Logger) *Aggregator {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Aggregator{
		cfg:     cfg,
		clock:   clock,
		logger:  log,
		tickers: make(map[string]*ticker),
		seen:    make(map[string]string),
	}
}

func (a *Aggregator) ticker(symbol string) *ticker {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tickers[symbol]
	if !ok {
		t = &ticker{}
		a.tickers[symbol] = t
	}
	return t
}

// Observe folds one scored article into its ticker. A repeated article URL,
// or one already outside the window, is ignored and reports false.
func (a *Aggregator) Observe(obs entity.SentimentObservation) bool {
	now := a.clock()
	symbol := entity.NormalizeTicker(obs.Ticker)
	at := obs.PublishedAt.UTC()
	if !at.After(now.Add(-a.cfg.Window)) {
		return false
	}
	// future timestamps count as fresh
	if at.After(now) {
		at = now
	}

	a.mu.Lock()
	if _, dup := a.seen[obs.ArticleURL]; dup {
		a.mu.Unlock()
		return false
	}
	a.seen[obs.ArticleURL] = symbol
	a.mu.Unlock()

	t := a.ticker(symbol)
	t.mu.Lock()
	t.add(&entry{
		url:   obs.ArticleURL,
		at:    at,
		score: clamp(obs.Score, -1, 1),
		conf:  clamp(obs.Confidence, 0, 1),
	}, a.cfg.HalfLife)
	t.mu.Unlock()
	return true
}

// State returns the aggregate of symbol as of the clock's now.
func (a *Aggregator) State(symbol string) Aggregate {
	now := a.clock()
	symbol = entity.NormalizeTicker(symbol)
	out := Aggregate{Ticker: symbol, Impact: entity.ImpactNegligible, AsOf: now}

	a.mu.Lock()
	t, ok := a.tickers[symbol]
	a.mu.Unlock()
	if !ok {
		return out
	}

	t.mu.Lock()
	evicted := t.evict(now.Add(-a.cfg.Window))
	count := t.entries.Len()
	sumSCG, sumCG, sumG := t.sumSCG, t.sumCG, t.sumG
	var newest entry
	if t.newest != nil {
		newest = *t.newest
	}
	t.mu.Unlock()

	if len(evicted) > 0 {
		a.mu.Lock()
		for _, u := range evicted {
			delete(a.seen, u)
		}
		a.mu.Unlock()
	}

	if count == 0 || sumG <= 0 {
		return out
	}

	out.NewsCount = count
	out.LatestAt = newest.at
	out.Confidence = clamp(sumCG/sumG, 0, 1)
	if sumCG > 0 {
		out.Score = clamp(sumSCG/sumCG, -1, 1)
	}
	out.Impact = a.impact(now, newest, out.Confidence)
	return out
}

func (a *Aggregator) impact(now time.Time, newest entry, confidence float64) entity.SentimentImpact {
	if newest.url == "" || confidence < a.cfg.MinConfidence {
		return entity.ImpactNegligible
	}
	age := now.Sub(newest.at)
	switch {
	case age < immediateAge && math.Abs(newest.score) >= a.cfg.HighImpactThreshold:
		return entity.ImpactImmediate
	case age < shortTermAge:
		return entity.ImpactShortTerm
	default:
		return entity.ImpactLongTerm
	}
}

// Rebuild discards all state and replays observations, typically read back from the store.
func (a *Aggregator) Rebuild(observations []entity.SentimentObservation) int {
	a.mu.Lock()
	a.tickers = make(map[string]*ticker)
	a.seen = make(map[string]string)
	a.mu.Unlock()

	kept := 0
	for _, o := range observations {
		if a.Observe(o) {
			kept++
		}
	}
	a.logger.Info("Rebuilt sentiment state",
		logger.IntField("observations", len(observations)), logger.IntField("kept", kept))
	return kept
}

// Tickers lists every ticker with live observations.
func (a *Aggregator) Tickers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.tickers))
	for k := range a.tickers {
		out = append(out, k)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
