package tsstore

import (
	"sort"
	"sync"
	"time"
)

// chunk is one fixed-width partition. Rows live in the hot slice until compaction
// folds them into the compressed segment; a backfill into a compacted chunk lands
// in hot again and is merged on the next compaction.
type chunk[R Record[R]] struct {
	start, end time.Time

	mu          sync.RWMutex
	hot         []R
	segment     []byte
	segmentRows int
	keys        []string
	version     uint64
	dropped     bool
}

func newChunk[R Record[R]](start time.Time, width time.Duration) *chunk[R] {
	return &chunk[R]{start: start, end: start.Add(width)}
}

// rows returns clones of the chunk's rows for series inside [from, to]. Zero bounds are open.
func (c *chunk[R]) rows(series string, from, to time.Time) ([]R, error) {
	c.mu.RLock()
	segment := c.segment
	hot := c.hot
	c.mu.RUnlock()

	var out []R
	if len(segment) > 0 {
		blocks, err := decodeSegment[R](segment)
		if err != nil {
			return nil, err
		}
		i := sort.Search(len(blocks), func(i int) bool { return blocks[i].Series >= series })
		if i < len(blocks) && blocks[i].Series == series {
			for _, r := range blocks[i].Rows {
				if inRange(r.Time(), from, to) {
					out = append(out, r)
				}
			}
		}
	}
	for _, r := range hot {
		if r.SeriesKey() == series && inRange(r.Time(), from, to) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// compacted builds the segment that would replace segment+hot, without holding the write lock.
func (c *chunk[R]) compacted() (seg []byte, rows int, version uint64, ok bool, err error) {
	c.mu.RLock()
	if len(c.hot) == 0 || c.dropped {
		c.mu.RUnlock()
		return nil, 0, 0, false, nil
	}
	segment, hot, version := c.segment, c.hot, c.version
	c.mu.RUnlock()

	existing, err := decodeSegment[R](segment)
	if err != nil {
		return nil, 0, 0, false, err
	}
	bySeries := make(map[string][]R, len(existing))
	for _, b := range existing {
		bySeries[b.Series] = append(bySeries[b.Series], b.Rows...)
	}
	for _, r := range hot {
		bySeries[r.SeriesKey()] = append(bySeries[r.SeriesKey()], r)
	}

	blocks := make([]block[R], 0, len(bySeries))
	for series, rs := range bySeries {
		sort.Slice(rs, func(i, j int) bool { return newerFirst(rs[i], rs[j]) })
		blocks = append(blocks, block[R]{Series: series, Rows: rs})
		rows += len(rs)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Series < blocks[j].Series })

	seg, err = encodeSegment(blocks)
	if err != nil {
		return nil, 0, 0, false, err
	}
	return seg, rows, version, true, nil
}

// swap installs a segment built from version; it refuses when the chunk changed meanwhile.
func (c *chunk[R]) swap(seg []byte, rows int, version uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != version || c.dropped {
		return false
	}
	c.segment = seg
	c.segmentRows = rows
	c.hot = nil
	c.version++
	return true
}

func (c *chunk[R]) stats() (hotRows, segmentRows int, compressed bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hot), c.segmentRows, len(c.segment) > 0
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

func olderFirst[R Record[R]](a, b R) bool {
	if !a.Time().Equal(b.Time()) {
		return a.Time().Before(b.Time())
	}
	return a.PrimaryKey() < b.PrimaryKey()
}

func newerFirst[R Record[R]](a, b R) bool {
	return olderFirst(b, a)
}
