package tsstore

import (
	"fmt"
	"time"
)

// DuplicatePolicy decides what happens when a primary key is appended twice.
type DuplicatePolicy int

const (
	// DuplicateIgnore keeps the first write; later writes are silent no-ops.
	DuplicateIgnore DuplicatePolicy = iota
	// DuplicateReject fails later writes with entity.ErrDuplicate.
	DuplicateReject
)

// Policy is the per-table partitioning, compaction and retention configuration.
type Policy struct {
	Name          string
	ChunkWidth    time.Duration
	CompressAfter time.Duration // zero disables compaction
	RetainFor     time.Duration // zero keeps everything
	Duplicates    DuplicatePolicy
}

func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	if p.ChunkWidth <= 0 {
		return fmt.Errorf("policy %s: chunk width must be positive", p.Name)
	}
	if p.CompressAfter < 0 || p.RetainFor < 0 {
		return fmt.Errorf("policy %s: compress_after and retain_for must not be negative", p.Name)
	}
	if p.RetainFor > 0 && p.RetainFor < p.ChunkWidth {
		return fmt.Errorf("policy %s: retain_for must cover at least one chunk", p.Name)
	}
	return nil
}

// chunkStart aligns t to the chunk grid.
func (p Policy) chunkStart(t time.Time) time.Time {
	return t.UTC().Truncate(p.ChunkWidth)
}

const day = 24 * time.Hour

// Policies holds one policy per table.
type Policies struct {
	Prices      Policy
	Technicals  Policy
	News        Policy
	Sentiments  Policy
	Predictions Policy
	Signals     Policy
}

// DefaultPolicies: weekly chunks for daily series, daily chunks for signals.
func DefaultPolicies() Policies {
	return Policies{
		Prices:      Policy{Name: "stock_prices", ChunkWidth: 7 * day, CompressAfter: 30 * day, RetainFor: 1826 * day},
		Technicals:  Policy{Name: "technical_snapshots", ChunkWidth: 7 * day, CompressAfter: 30 * day, RetainFor: 1826 * day},
		News:        Policy{Name: "news_articles", ChunkWidth: 7 * day, CompressAfter: 30 * day, RetainFor: 730 * day},
		Sentiments:  Policy{Name: "sentiment_observations", ChunkWidth: 7 * day, CompressAfter: 30 * day, RetainFor: 730 * day},
		Predictions: Policy{Name: "predictions", ChunkWidth: 30 * day, CompressAfter: 90 * day, RetainFor: 1826 * day, Duplicates: DuplicateReject},
		Signals:     Policy{Name: "signal_predictions", ChunkWidth: day, CompressAfter: 7 * day, RetainFor: 365 * day, Duplicates: DuplicateReject},
	}
}
