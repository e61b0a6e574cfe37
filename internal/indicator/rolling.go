package indicator

import "math"

// window is a fixed-size ring with a Welford running mean/variance.
// Once full, each push replaces the oldest value in O(1).
type window struct {
	buf  []float64
	next int
	n    int
	mean float64
	m2   float64
}

func newWindow(size int) *window {
	return &window{buf: make([]float64, size)}
}

func (w *window) push(x float64) {
	size := len(w.buf)
	if w.n < size {
		w.buf[w.next] = x
		w.next = (w.next + 1) % size
		w.n++
		d := x - w.mean
		w.mean += d / float64(w.n)
		w.m2 += d * (x - w.mean)
		return
	}
	old := w.buf[w.next]
	w.buf[w.next] = x
	w.next = (w.next + 1) % size
	d := x - old
	prevMean := w.mean
	w.mean += d / float64(size)
	w.m2 += d * ((x - w.mean) + (old - prevMean))
	if w.m2 < 0 {
		w.m2 = 0
	}
}

func (w *window) full() bool { return w.n == len(w.buf) }

// stddev is the population standard deviation of the window.
func (w *window) stddev() float64 {
	if w.n == 0 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.n))
}

// meanAbsDev walks the ring; it is bounded by the fixed window size.
func (w *window) meanAbsDev() float64 {
	if w.n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < w.n; i++ {
		sum += math.Abs(w.buf[i] - w.mean)
	}
	return sum / float64(w.n)
}

// ema seeds with the simple mean of its first n inputs, then smooths with alpha = 2/(n+1).
type ema struct {
	n     int
	alpha float64
	count int
	seed  float64
	value float64
}

func newEMA(n int) *ema {
	return &ema{n: n, alpha: 2 / float64(n+1)}
}

func (e *ema) push(x float64) {
	e.count++
	if e.count < e.n {
		e.seed += x
		return
	}
	if e.count == e.n {
		e.seed += x
		e.value = e.seed / float64(e.n)
		return
	}
	e.value = e.alpha*x + (1-e.alpha)*e.value
}

func (e *ema) ready() bool { return e.count >= e.n }

// wilder is Wilder's smoothing: simple mean of the first n inputs, then (prev*(n-1)+x)/n.
type wilder struct {
	n     int
	count int
	seed  float64
	value float64
}

func newWilder(n int) *wilder {
	return &wilder{n: n}
}

func (w *wilder) push(x float64) {
	w.count++
	if w.count < w.n {
		w.seed += x
		return
	}
	if w.count == w.n {
		w.seed += x
		w.value = w.seed / float64(w.n)
		return
	}
	w.value = (w.value*float64(w.n-1) + x) / float64(w.n)
}

func (w *wilder) ready() bool { return w.count >= w.n }

type dequeItem struct {
	idx int
	val float64
}

// extremum tracks the max (or min) of the last n values with a monotonic deque.
type extremum struct {
	n     int
	max   bool
	items []dequeItem
}

func newExtremum(n int, max bool) *extremum {
	return &extremum{n: n, max: max}
}

func (e *extremum) push(idx int, v float64) {
	for len(e.items) > 0 {
		back := e.items[len(e.items)-1].val
		if (e.max && back <= v) || (!e.max && back >= v) {
			e.items = e.items[:len(e.items)-1]
			continue
		}
		break
	}
	e.items = append(e.items, dequeItem{idx: idx, val: v})
	for e.items[0].idx <= idx-e.n {
		e.items = e.items[1:]
	}
}

func (e *extremum) value() float64 { return e.items[0].val }
