package metrics

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-filecache/types"
	"github.com/saiset-co/sai-filecache/utils"
)

type MemoryMetrics struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     types.Logger
	counters   map[string]*MemoryCounter
	gauges     map[string]*MemoryGauge
	histograms map[string]*MemoryHistogram
	mu         sync.RWMutex
	running    int32
}

func NewMemoryMetrics(ctx context.Context, logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	metricsCtx, cancel := context.WithCancel(ctx)

	return &MemoryMetrics{
		ctx:        metricsCtx,
		cancel:     cancel,
		logger:     logger,
		counters:   make(map[string]*MemoryCounter),
		gauges:     make(map[string]*MemoryGauge),
		histograms: make(map[string]*MemoryHistogram),
	}, nil
}

func (m *MemoryMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrCacheIsRunning
	}

	m.logger.Info("Memory metrics started")
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrCacheIsNotRunning
	}

	m.cancel()
	m.logger.Info("Memory metrics stopped")
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	key := buildMetricKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if counter, exists := m.counters[key]; exists {
		return counter
	}

	counter := &MemoryCounter{name: name, labels: labels}
	m.counters[key] = counter
	return counter
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	key := buildMetricKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gauge, exists := m.gauges[key]; exists {
		return gauge
	}

	gauge := &MemoryGauge{name: name, labels: labels}
	m.gauges[key] = gauge
	return gauge
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	key := buildMetricKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if histogram, exists := m.histograms[key]; exists {
		return histogram
	}

	histogram := &MemoryHistogram{name: name, labels: labels, buckets: buckets}
	m.histograms[key] = histogram
	return histogram
}

func (m *MemoryMetrics) GetMetrics() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	values := make([]types.MetricValue, 0, len(m.counters)+len(m.gauges)+len(m.histograms))
	now := time.Now()

	for _, c := range m.counters {
		values = append(values, types.MetricValue{
			Name:      c.name,
			Type:      "counter",
			Value:     c.Get(),
			Labels:    c.labels,
			Timestamp: now,
		})
	}

	for _, g := range m.gauges {
		values = append(values, types.MetricValue{
			Name:      g.name,
			Type:      "gauge",
			Value:     g.Get(),
			Labels:    g.labels,
			Timestamp: now,
		})
	}

	for _, h := range m.histograms {
		values = append(values, types.MetricValue{
			Name:      h.name,
			Type:      "histogram",
			Value:     h.GetSum(),
			Labels:    h.labels,
			Timestamp: now,
		})
	}

	sort.Slice(values, func(i, j int) bool {
		return values[i].Name < values[j].Name
	})

	return utils.Marshal(values)
}

type MemoryCounter struct {
	name   string
	labels map[string]string
	bits   uint64
}

func (c *MemoryCounter) Inc() {
	c.Add(1)
}

func (c *MemoryCounter) Add(value float64) {
	for {
		old := atomic.LoadUint64(&c.bits)
		newValue := floatBitsAdd(old, value)
		if atomic.CompareAndSwapUint64(&c.bits, old, newValue) {
			return
		}
	}
}

func (c *MemoryCounter) Get() float64 {
	return floatFromBits(atomic.LoadUint64(&c.bits))
}

type MemoryGauge struct {
	name   string
	labels map[string]string
	bits   uint64
}

func (g *MemoryGauge) Set(value float64) {
	atomic.StoreUint64(&g.bits, floatToBits(value))
}

func (g *MemoryGauge) Inc() {
	g.add(1)
}

func (g *MemoryGauge) Dec() {
	g.add(-1)
}

func (g *MemoryGauge) add(value float64) {
	for {
		old := atomic.LoadUint64(&g.bits)
		newValue := floatBitsAdd(old, value)
		if atomic.CompareAndSwapUint64(&g.bits, old, newValue) {
			return
		}
	}
}

func (g *MemoryGauge) Get() float64 {
	return floatFromBits(atomic.LoadUint64(&g.bits))
}

type MemoryHistogram struct {
	name    string
	labels  map[string]string
	buckets []float64
	count   uint64
	sumBits uint64
	mu      sync.Mutex
}

func (h *MemoryHistogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sumBits = floatBitsAdd(h.sumBits, value)
}

func (h *MemoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *MemoryHistogram) GetCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *MemoryHistogram) GetSum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return floatFromBits(h.sumBits)
}

func buildMetricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}

	return b.String()
}

// Float values are kept as raw bits so counters and gauges can be updated
// with a CAS loop instead of a mutex.
func floatToBits(v float64) uint64 {
	return math.Float64bits(v)
}

func floatFromBits(bits uint64) float64 {
	return math.Float64frombits(bits)
}

func floatBitsAdd(bits uint64, delta float64) uint64 {
	return math.Float64bits(math.Float64frombits(bits) + delta)
}
