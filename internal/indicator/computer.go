package indicator

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/pkg/logger"
)

// ErrOutOfOrder is returned when a point is not newer than the ticker's last processed point.
// Callers recover with Rebuild.
var ErrOutOfOrder = errors.New("price point is not after the last processed timestamp")

const (
	smaShort   = 20
	smaMid     = 50
	smaLong    = 200
	emaShort   = 20
	emaLong    = 50
	rsiPeriod  = 14
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
	stochK     = 14
	stochD     = 3
	bbWidth    = 2.0
	atrPeriod  = 14
	adxPeriod  = 14
	cciPeriod  = 20
	cciFactor  = 0.015
	volPeriod  = 20
)

// series is the rolling state of one ticker.
type series struct {
	count     int
	last      entity.PricePoint
	lastTime  time.Time
	sma20     *window
	sma50     *window
	sma200    *window
	ema20     *ema
	ema50     *ema
	ema12     *ema
	ema26     *ema
	macdSig   *ema
	avgGain   *wilder
	avgLoss   *wilder
	tr        *wilder
	plusDM    *wilder
	minusDM   *wilder
	adx       *wilder
	highest   *extremum
	lowest    *extremum
	stochKWin *window
	tp        *window
	volume    *window
	obv       float64
	haOpen    float64
	haClose   float64
	haTrend   int
}

func newSeries() *series {
	return &series{
		sma20:     newWindow(smaShort),
		sma50:     newWindow(smaMid),
		sma200:    newWindow(smaLong),
		ema20:     newEMA(emaShort),
		ema50:     newEMA(emaLong),
		ema12:     newEMA(macdFast),
		ema26:     newEMA(macdSlow),
		macdSig:   newEMA(macdSignal),
		avgGain:   newWilder(rsiPeriod),
		avgLoss:   newWilder(rsiPeriod),
		tr:        newWilder(atrPeriod),
		plusDM:    newWilder(adxPeriod),
		minusDM:   newWilder(adxPeriod),
		adx:       newWilder(adxPeriod),
		highest:   newExtremum(stochK, true),
		lowest:    newExtremum(stochK, false),
		stochKWin: newWindow(stochD),
		tp:        newWindow(cciPeriod),
		volume:    newWindow(volPeriod),
	}
}

// next folds p into the state and returns the snapshot at p's timestamp.
func (s *series) next(p entity.PricePoint) entity.TechnicalSnapshot {
	snap := entity.TechnicalSnapshot{Ticker: p.Ticker, Timestamp: p.Timestamp}
	idx := s.count
	s.count++
	c, h, l := p.Close, p.High, p.Low

	s.sma20.push(c)
	s.sma50.push(c)
	s.sma200.push(c)
	s.ema20.push(c)
	s.ema50.push(c)
	s.ema12.push(c)
	s.ema26.push(c)
	s.highest.push(idx, h)
	s.lowest.push(idx, l)
	tp := (h + l + c) / 3
	s.tp.push(tp)
	s.volume.push(float64(p.Volume))

	if idx > 0 {
		prev := s.last
		change := c - prev.Close
		s.avgGain.push(math.Max(change, 0))
		s.avgLoss.push(math.Max(-change, 0))

		tr := math.Max(h-l, math.Max(math.Abs(h-prev.Close), math.Abs(l-prev.Close)))
		s.tr.push(tr)

		up, down := h-prev.High, prev.Low-l
		plus, minus := 0.0, 0.0
		if up > down && up > 0 {
			plus = up
		}
		if down > up && down > 0 {
			minus = down
		}
		s.plusDM.push(plus)
		s.minusDM.push(minus)

		if s.tr.ready() {
			s.adx.push(directionalIndex(s.plusDM.value, s.minusDM.value, s.tr.value))
		}

		switch {
		case c > prev.Close:
			s.obv += float64(p.Volume)
		case c < prev.Close:
			s.obv -= float64(p.Volume)
		}
	}

	if s.sma20.full() {
		snap.SMA20 = ptr(s.sma20.mean)
		sd := s.sma20.stddev()
		snap.BollingerMiddle = ptr(s.sma20.mean)
		snap.BollingerUpper = ptr(s.sma20.mean + bbWidth*sd)
		snap.BollingerLower = ptr(s.sma20.mean - bbWidth*sd)
	}
	if s.sma50.full() {
		snap.SMA50 = ptr(s.sma50.mean)
	}
	if s.sma200.full() {
		snap.SMA200 = ptr(s.sma200.mean)
	}
	if s.ema20.ready() {
		snap.EMA20 = ptr(s.ema20.value)
	}
	if s.ema50.ready() {
		snap.EMA50 = ptr(s.ema50.value)
	}

	if s.avgGain.ready() {
		snap.RSI = ptr(rsi(s.avgGain.value, s.avgLoss.value))
	}

	if s.ema26.ready() {
		macd := s.ema12.value - s.ema26.value
		snap.MACD = ptr(macd)
		s.macdSig.push(macd)
		if s.macdSig.ready() {
			snap.MACDSignal = ptr(s.macdSig.value)
			snap.MACDHist = ptr(macd - s.macdSig.value)
		}
	}

	if s.count >= stochK {
		hh, ll := s.highest.value(), s.lowest.value()
		k, w := 50.0, -50.0
		if hh > ll {
			k = clamp((c-ll)/(hh-ll)*100, 0, 100)
			w = clamp((hh-c)/(hh-ll)*-100, -100, 0)
		}
		snap.StochK = ptr(k)
		snap.WilliamsR = ptr(w)
		s.stochKWin.push(k)
		if s.stochKWin.full() {
			snap.StochD = ptr(clamp(s.stochKWin.mean, 0, 100))
		}
	}

	if s.tr.ready() {
		snap.ATR = ptr(s.tr.value)
	}
	if s.adx.ready() {
		snap.ADX = ptr(clamp(s.adx.value, 0, 100))
	}

	if s.tp.full() {
		cci := 0.0
		if md := s.tp.meanAbsDev(); md > 0 {
			cci = (tp - s.tp.mean) / (cciFactor * md)
		}
		snap.CCI = ptr(cci)
	}

	if s.volume.full() {
		ratio := 0.0
		if s.volume.mean > 0 {
			ratio = float64(p.Volume) / s.volume.mean
		}
		snap.VolumeRatio = ptr(ratio)
	}

	snap.OBV = ptr(s.obv)
	s.heikinAshi(p, idx == 0, &snap)

	s.last = p
	s.lastTime = p.Timestamp
	return snap
}

func rsi(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return clamp(100-100/(1+rs), 0, 100)
}

func directionalIndex(plusDM, minusDM, tr float64) float64 {
	if tr == 0 {
		return 0
	}
	plusDI := 100 * plusDM / tr
	minusDI := 100 * minusDM / tr
	if plusDI+minusDI == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func ptr(v float64) *float64 {
	return &v
}

// Compute replays history from scratch and returns one snapshot per point.
// history must be sorted ascending without duplicate timestamps.
func Compute(history []entity.PricePoint) []entity.TechnicalSnapshot {
	_, out := replay(history)
	return out
}

func replay(history []entity.PricePoint) (*series, []entity.TechnicalSnapshot) {
	s := newSeries()
	out := make([]entity.TechnicalSnapshot, 0, len(history))
	for _, p := range history {
		out = append(out, s.next(p))
	}
	return s, out
}

type tickerState struct {
	mu     sync.Mutex
	series *series
}

// Computer holds the rolling indicator state of every ticker. Updates to one
// ticker are serialized; different tickers proceed in parallel.
type Computer struct {
	mu      sync.Mutex
	tickers map[string]*tickerState
	logger  *logger.Logger
}

func NewComputer(log *logger.Logger) *Computer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Computer{tickers: make(map[string]*tickerState), logger: log}
}

func (c *Computer) state(ticker string) *tickerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.tickers[ticker]
	if !ok {
		st = &tickerState{series: newSeries()}
		c.tickers[ticker] = st
	}
	return st
}

// Update folds one new point into its ticker's state in O(1).
// A point at or before the last processed timestamp returns ErrOutOfOrder and leaves the state untouched.
func (c *Computer) Update(p entity.PricePoint) (entity.TechnicalSnapshot, error) {
	st := c.state(p.Ticker)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.series.count > 0 && !p.Timestamp.After(st.series.lastTime) {
		return entity.TechnicalSnapshot{}, fmt.Errorf("%s at %s (last %s): %w",
			p.Ticker, p.Timestamp.Format(time.RFC3339), st.series.lastTime.Format(time.RFC3339), ErrOutOfOrder)
	}
	return st.series.next(p), nil
}

// Rebuild reseeds a ticker from its stored history and returns the replayed snapshots.
func (c *Computer) Rebuild(ticker string, history []entity.PricePoint) []entity.TechnicalSnapshot {
	sorted := make([]entity.PricePoint, 0, len(history))
	for _, p := range history {
		if p.Ticker == ticker {
			sorted = append(sorted, p)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	deduped := sorted[:0]
	for i, p := range sorted {
		if i > 0 && p.Timestamp.Equal(deduped[len(deduped)-1].Timestamp) {
			continue
		}
		deduped = append(deduped, p)
	}

	s, snaps := replay(deduped)

	st := c.state(ticker)
	st.mu.Lock()
	st.series = s
	st.mu.Unlock()

	c.logger.Debug("Rebuilt indicator state",
		logger.StringField("ticker", ticker), logger.IntField("points", len(deduped)))
	return snaps
}

// LastTimestamp reports the newest point folded into ticker's state.
func (c *Computer) LastTimestamp(ticker string) (time.Time, bool) {
	c.mu.Lock()
	st, ok := c.tickers[ticker]
	c.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.series.lastTime, st.series.count > 0
}
