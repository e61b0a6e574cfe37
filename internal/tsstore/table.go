package tsstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/pkg/logger"
	"golang-stock-pulse/pkg/metrics"
	"golang-stock-pulse/pkg/trace"
)

// Record is implemented by every time-partitioned entity.
type Record[R any] interface {
	SeriesKey() string
	Time() time.Time
	PrimaryKey() string
	Validate() error
	Clone() R
}

// Mirror persists rows outside the process. Insert must be idempotent on the primary key.
type Mirror[R any] interface {
	Insert(ctx context.Context, rec R) error
	DeleteBefore(ctx context.Context, cutoff time.Time) error
}

// Outcome reports what Append did with a valid record.
type Outcome int

const (
	Inserted Outcome = iota + 1
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Ignored:
		return "ignored"
	default:
		return "rejected"
	}
}

// Options carries the collaborators shared by all tables.
type Options struct {
	Clock   func() time.Time
	Logger  *logger.Logger
	Metrics *metrics.Recorder
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	return o
}

// Stats is a point-in-time view of a table's chunk layout.
type Stats struct {
	Table            string `json:"table"`
	HotChunks        int    `json:"hot_chunks"`
	CompressedChunks int    `json:"compressed_chunks"`
	Rows             int    `json:"rows"`
}

const keyShards = 64

type keyShard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// Table is a chunked, append-mostly time-series table.
type Table[R Record[R]] struct {
	policy Policy
	mirror Mirror[R]
	opts   Options

	mu     sync.RWMutex
	chunks map[int64]*chunk[R]

	shards [keyShards]keyShard
}

// NewTable builds an empty table. mirror may be nil.
func NewTable[R Record[R]](policy Policy, mirror Mirror[R], opts Options) (*Table[R], error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if err := initCodec(); err != nil {
		return nil, fmt.Errorf("init codec: %w", err)
	}
	t := &Table[R]{
		policy: policy,
		mirror: mirror,
		opts:   opts.withDefaults(),
		chunks: make(map[int64]*chunk[R]),
	}
	for i := range t.shards {
		t.shards[i].keys = make(map[string]struct{})
	}
	return t, nil
}

func (t *Table[R]) Name() string   { return t.policy.Name }
func (t *Table[R]) Policy() Policy { return t.policy }

func (t *Table[R]) shard(key string) *keyShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &t.shards[h.Sum32()%keyShards]
}

// Append validates and stores rec. Writes to the same primary key are serialized;
// a rejected or failed write leaves no trace.
func (t *Table[R]) Append(ctx context.Context, rec R) (Outcome, error) {
	return t.append(ctx, rec, true)
}

func (t *Table[R]) append(ctx context.Context, rec R, persist bool) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := rec.Validate(); err != nil {
		t.opts.Metrics.RecordAppend(t.policy.Name, "invalid")
		return 0, err
	}
	rec = rec.Clone()
	if t.outsideRetention(rec.Time(), t.opts.Clock()) {
		t.opts.Metrics.RecordAppend(t.policy.Name, "invalid")
		return 0, fmt.Errorf("%s at %s: %w", t.policy.Name, rec.Time().Format(time.RFC3339), entity.ErrOutsideRetention)
	}

	key := rec.PrimaryKey()
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[key]; exists {
		if t.policy.Duplicates == DuplicateReject {
			t.opts.Metrics.RecordAppend(t.policy.Name, "duplicate")
			return 0, fmt.Errorf("%s %s: %w", t.policy.Name, key, entity.ErrDuplicate)
		}
		t.opts.Metrics.RecordAppend(t.policy.Name, Ignored.String())
		return Ignored, nil
	}

	if persist && t.mirror != nil {
		if err := t.mirror.Insert(ctx, rec); err != nil {
			t.opts.Metrics.RecordAppend(t.policy.Name, "failed")
			return 0, fmt.Errorf("persist %s: %w", t.policy.Name, err)
		}
	}

	c := t.chunkFor(rec.Time())
	c.mu.Lock()
	if c.dropped {
		c.mu.Unlock()
		return 0, fmt.Errorf("%s chunk %s: %w", t.policy.Name, c.start.Format(time.RFC3339), entity.ErrOutsideRetention)
	}
	c.hot = append(c.hot, rec)
	c.keys = append(c.keys, key)
	c.version++
	c.mu.Unlock()

	s.keys[key] = struct{}{}
	t.opts.Metrics.RecordAppend(t.policy.Name, Inserted.String())
	return Inserted, nil
}

func (t *Table[R]) outsideRetention(ts, now time.Time) bool {
	if t.policy.RetainFor == 0 {
		return false
	}
	return !ts.After(now.Add(-t.policy.RetainFor))
}

func (t *Table[R]) chunkFor(ts time.Time) *chunk[R] {
	start := t.policy.chunkStart(ts)
	id := start.UnixNano()

	t.mu.RLock()
	c, ok := t.chunks[id]
	t.mu.RUnlock()
	if ok {
		return c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok = t.chunks[id]; !ok {
		c = newChunk[R](start, t.policy.ChunkWidth)
		t.chunks[id] = c
	}
	return c
}

// sortedChunks returns the chunks overlapping [from, to] ordered by start.
func (t *Table[R]) sortedChunks(from, to time.Time) []*chunk[R] {
	t.mu.RLock()
	out := make([]*chunk[R], 0, len(t.chunks))
	for _, c := range t.chunks {
		if !from.IsZero() && !c.end.After(from) {
			continue
		}
		if !to.IsZero() && c.start.After(to) {
			continue
		}
		out = append(out, c)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })
	return out
}

// Query returns series' rows in [from, to] ascending by time. Zero bounds are open.
func (t *Table[R]) Query(ctx context.Context, series string, from, to time.Time) ([]R, error) {
	out := make([]R, 0)
	for _, c := range t.sortedChunks(from, to) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := c.rows(series, from, to)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", t.policy.Name, err)
		}
		out = append(out, rows...)
	}
	sort.Slice(out, func(i, j int) bool { return olderFirst(out[i], out[j]) })
	return out, nil
}

// Latest returns the newest committed row for series, or entity.ErrNotFound.
func (t *Table[R]) Latest(ctx context.Context, series string) (R, error) {
	var zero R
	chunks := t.sortedChunks(time.Time{}, time.Time{})
	for i := len(chunks) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		rows, err := chunks[i].rows(series, time.Time{}, time.Time{})
		if err != nil {
			return zero, fmt.Errorf("latest %s: %w", t.policy.Name, err)
		}
		if len(rows) == 0 {
			continue
		}
		latest := rows[0]
		for _, r := range rows[1:] {
			if olderFirst(latest, r) {
				latest = r
			}
		}
		return latest, nil
	}
	return zero, fmt.Errorf("%s %s: %w", t.policy.Name, series, entity.ErrNotFound)
}

// Compress compacts every chunk that ended at least CompressAfter before now.
// Each chunk is encoded without holding its write lock; a chunk written to
// during encoding is left for the next run.
func (t *Table[R]) Compress(ctx context.Context, now time.Time) (int, error) {
	if t.policy.CompressAfter == 0 {
		return 0, nil
	}
	ctx, span := trace.StartSpan(ctx, "tsstore.Compress")
	defer span.End()

	cutoff := now.Add(-t.policy.CompressAfter)
	compacted := 0
	for _, c := range t.sortedChunks(time.Time{}, cutoff) {
		if c.end.After(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return compacted, err
		}
		seg, rows, version, ok, err := c.compacted()
		if err != nil {
			return compacted, fmt.Errorf("compress %s chunk %s: %w", t.policy.Name, c.start.Format(time.RFC3339), err)
		}
		if !ok {
			continue
		}
		if !c.swap(seg, rows, version) {
			t.opts.Logger.Debug("Chunk changed during compaction, retrying next run",
				logger.StringField("table", t.policy.Name), logger.Field("chunk_start", c.start))
			continue
		}
		compacted++
	}
	if compacted > 0 {
		t.opts.Logger.Info("Compressed chunks",
			logger.StringField("table", t.policy.Name), logger.IntField("chunks", compacted))
	}
	return compacted, nil
}

// ApplyRetention drops every chunk whose whole range ended at or before now-RetainFor.
func (t *Table[R]) ApplyRetention(ctx context.Context, now time.Time) (int, error) {
	if t.policy.RetainFor == 0 {
		return 0, nil
	}
	cutoff := now.Add(-t.policy.RetainFor)

	t.mu.Lock()
	var expired []*chunk[R]
	for id, c := range t.chunks {
		if !c.end.After(cutoff) {
			expired = append(expired, c)
			delete(t.chunks, id)
		}
	}
	t.mu.Unlock()

	for _, c := range expired {
		c.mu.Lock()
		c.dropped = true
		keys := c.keys
		c.hot, c.segment, c.keys = nil, nil, nil
		c.mu.Unlock()

		for _, k := range keys {
			s := t.shard(k)
			s.mu.Lock()
			delete(s.keys, k)
			s.mu.Unlock()
		}
	}

	if t.mirror != nil {
		boundary := t.policy.chunkStart(cutoff)
		if err := t.mirror.DeleteBefore(ctx, boundary); err != nil {
			return len(expired), fmt.Errorf("retention %s: %w", t.policy.Name, err)
		}
	}
	if len(expired) > 0 {
		t.opts.Logger.Info("Dropped expired chunks",
			logger.StringField("table", t.policy.Name), logger.IntField("chunks", len(expired)))
	}
	return len(expired), nil
}

// Restore loads rows read back from the mirror without writing them again.
// Invalid, expired and duplicate rows are skipped.
func (t *Table[R]) Restore(ctx context.Context, rows []R) (int, error) {
	restored := 0
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		outcome, err := t.append(ctx, r, false)
		if err != nil {
			if errors.Is(err, entity.ErrValidation) || errors.Is(err, entity.ErrDuplicate) {
				continue
			}
			return restored, err
		}
		if outcome == Inserted {
			restored++
		}
	}
	return restored, nil
}

// Stats reports chunk counts and retained rows.
func (t *Table[R]) Stats() Stats {
	st := Stats{Table: t.policy.Name}
	for _, c := range t.sortedChunks(time.Time{}, time.Time{}) {
		hot, seg, compressed := c.stats()
		if compressed {
			st.CompressedChunks++
		} else {
			st.HotChunks++
		}
		st.Rows += hot + seg
	}
	return st
}
