package metrics

import (
	"bytes"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// maxResourceSamples bounds the rolling window of browser resource samples.
const maxResourceSamples = 120

// Recorder is the process-wide sink for conversion, health and resource
// telemetry. It owns a dedicated prometheus registry for exposition and
// mirrors the values in plain fields so Snapshot() never touches prometheus
// internals. All methods are safe for concurrent use.
type Recorder struct {
	registry *prometheus.Registry

	conversionsTotal   prometheus.Counter
	conversionFailures prometheus.Counter
	attemptFailures    prometheus.Counter
	restartsTotal      prometheus.Counter
	healthChecksTotal  *prometheus.CounterVec
	conversionDuration prometheus.Histogram
	queueWaitDuration  prometheus.Histogram
	queueDepth         prometheus.Gauge
	activeConversions  prometheus.Gauge
	browserGeneration  prometheus.Gauge
	browserCPUPercent  prometheus.Gauge
	browserMemoryBytes prometheus.Gauge
	serviceCPUPercent  prometheus.Gauge
	serviceMemoryBytes prometheus.Gauge

	mu sync.Mutex

	totalConversions  uint64
	failedConversions uint64
	failedAttempts    uint64
	totalRestarts     uint64

	totalConversionTime time.Duration
	totalQueueWaitTime  time.Duration
	queueWaits          uint64

	curQueueDepth int
	maxQueueDepth int
	curActive     int

	cpuSamples []float64
	memSamples []uint64
	curCPU     float64
	curMemory  uint64

	curServiceCPU    float64
	curServiceMemory uint64

	generation int64
	startTime  time.Time
}

// Snapshot is a point-in-time copy of recorder state for health reporting.
type Snapshot struct {
	TotalConversions  uint64  `json:"total_conversions"`
	FailedConversions uint64  `json:"failed_conversions"`
	FailedAttempts    uint64  `json:"failed_attempts"`
	ErrorRatePercent  float64 `json:"error_rate_percent"`
	TotalRestarts     uint64  `json:"total_restarts"`

	AvgConversionTimeMs float64 `json:"avg_conversion_time_ms"`
	AvgQueueWaitMs      float64 `json:"avg_queue_wait_ms"`

	QueueDepth        int `json:"queue_depth"`
	MaxQueueDepth     int `json:"max_queue_depth"`
	ActiveConversions int `json:"active_conversions"`

	CurrentCPUPercent  float64 `json:"current_cpu_percent"`
	AvgCPUPercent      float64 `json:"avg_cpu_percent"`
	CurrentMemoryBytes uint64  `json:"current_memory_bytes"`
	AvgMemoryBytes     uint64  `json:"avg_memory_bytes"`

	ServiceCPUPercent  float64 `json:"service_cpu_percent"`
	ServiceMemoryBytes uint64  `json:"service_memory_bytes"`

	Generation    int64   `json:"generation"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// NewRecorder creates a Recorder with all collectors registered on a fresh
// registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	r.conversionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "renderer_conversions_total",
		Help: "Total number of successful conversions since start.",
	})
	r.conversionFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "renderer_conversion_failures_total",
		Help: "Total number of conversions that exhausted all retry attempts.",
	})
	r.attemptFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "renderer_conversion_attempt_failures_total",
		Help: "Individual failed attempts, including ones later recovered by retry.",
	})
	r.restartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "renderer_browser_restarts_total",
		Help: "Total browser restarts, from all triggers (retry, health, proactive).",
	})
	r.healthChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "renderer_health_checks_total",
		Help: "Health probe outcomes.",
	}, []string{"result"})
	r.conversionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "renderer_conversion_duration_seconds",
		Help:    "Wall time of successful conversions.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
	r.queueWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "renderer_queue_wait_seconds",
		Help:    "Time callers spent waiting for a conversion slot.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
	r.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "renderer_queue_depth",
		Help: "Callers currently waiting for a conversion slot.",
	})
	r.activeConversions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "renderer_active_conversions",
		Help: "Callers currently holding a conversion slot.",
	})
	r.browserGeneration = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "renderer_browser_generation",
		Help: "Current browser process generation.",
	})
	r.browserCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "renderer_browser_cpu_percent",
		Help: "Last sampled CPU usage of the browser process.",
	})
	r.browserMemoryBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "renderer_browser_memory_bytes",
		Help: "Last sampled resident memory of the browser process.",
	})
	r.serviceCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "renderer_service_cpu_percent",
		Help: "Last sampled CPU usage of the renderer service process itself.",
	})
	r.serviceMemoryBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "renderer_service_memory_bytes",
		Help: "Last sampled resident memory of the renderer service process itself.",
	})

	r.registry.MustRegister(
		r.conversionsTotal,
		r.conversionFailures,
		r.attemptFailures,
		r.restartsTotal,
		r.healthChecksTotal,
		r.conversionDuration,
		r.queueWaitDuration,
		r.queueDepth,
		r.activeConversions,
		r.browserGeneration,
		r.browserCPUPercent,
		r.browserMemoryBytes,
		r.serviceCPUPercent,
		r.serviceMemoryBytes,
	)

	return r
}

// RecordSuccess records one successful conversion and its wall time.
func (r *Recorder) RecordSuccess(duration time.Duration) {
	r.conversionsTotal.Inc()
	r.conversionDuration.Observe(duration.Seconds())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalConversions++
	r.totalConversionTime += duration
}

// RecordFailure records one conversion that exhausted all attempts.
func (r *Recorder) RecordFailure() {
	r.conversionFailures.Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedConversions++
}

// RecordAttemptFailure records one failed attempt inside the retry loop.
// Kept separate from RecordFailure so operators can distinguish flaky
// conversions from conversions that actually failed.
func (r *Recorder) RecordAttemptFailure() {
	r.attemptFailures.Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedAttempts++
}

// RecordRestart records one browser restart. All restart triggers share this
// counter; operators track total restarts, not a per-cause breakdown.
func (r *Recorder) RecordRestart() {
	r.restartsTotal.Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalRestarts++
}

// RecordHealthCheck records the outcome of one health probe.
func (r *Recorder) RecordHealthCheck(healthy bool) {
	result := "success"
	if !healthy {
		result = "failure"
	}
	r.healthChecksTotal.WithLabelValues(result).Inc()
}

// RecordQueueWait records how long a caller waited at the gate, whether or
// not a slot was ultimately acquired.
func (r *Recorder) RecordQueueWait(wait time.Duration) {
	r.queueWaitDuration.Observe(wait.Seconds())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.queueWaits++
	r.totalQueueWaitTime += wait
}

// SetQueueState updates the queue depth and active conversion gauges.
func (r *Recorder) SetQueueState(depth, active int) {
	r.queueDepth.Set(float64(depth))
	r.activeConversions.Set(float64(active))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.curQueueDepth = depth
	r.curActive = active
	if depth > r.maxQueueDepth {
		r.maxQueueDepth = depth
	}
}

// SetGeneration updates the browser generation gauge and resets the uptime
// reference point, since a new generation means a freshly spawned process.
func (r *Recorder) SetGeneration(generation int64) {
	r.browserGeneration.Set(float64(generation))

	r.mu.Lock()
	defer r.mu.Unlock()
	if generation != r.generation {
		r.generation = generation
		r.startTime = time.Now()
	}
}

// RecordResourceSample appends one CPU/memory sample of the browser process
// to the bounded rolling windows.
func (r *Recorder) RecordResourceSample(cpuPercent float64, memoryBytes uint64) {
	r.browserCPUPercent.Set(cpuPercent)
	r.browserMemoryBytes.Set(float64(memoryBytes))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.curCPU = cpuPercent
	r.curMemory = memoryBytes
	r.cpuSamples = append(r.cpuSamples, cpuPercent)
	if len(r.cpuSamples) > maxResourceSamples {
		r.cpuSamples = r.cpuSamples[1:]
	}
	r.memSamples = append(r.memSamples, memoryBytes)
	if len(r.memSamples) > maxResourceSamples {
		r.memSamples = r.memSamples[1:]
	}
}

// RecordServiceSample records one CPU/memory sample of the service process
// itself. Unlike browser samples these carry no rolling window; the current
// value is enough for dashboards.
func (r *Recorder) RecordServiceSample(cpuPercent float64, memoryBytes uint64) {
	r.serviceCPUPercent.Set(cpuPercent)
	r.serviceMemoryBytes.Set(float64(memoryBytes))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.curServiceCPU = cpuPercent
	r.curServiceMemory = memoryBytes
}

// Snapshot returns a copy of current recorder state. Non-blocking beyond a
// short mutex hold; safe to call from polling health endpoints.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		TotalConversions:   r.totalConversions,
		FailedConversions:  r.failedConversions,
		FailedAttempts:     r.failedAttempts,
		TotalRestarts:      r.totalRestarts,
		QueueDepth:         r.curQueueDepth,
		MaxQueueDepth:      r.maxQueueDepth,
		ActiveConversions:  r.curActive,
		CurrentCPUPercent:  r.curCPU,
		CurrentMemoryBytes: r.curMemory,
		ServiceCPUPercent:  r.curServiceCPU,
		ServiceMemoryBytes: r.curServiceMemory,
		Generation:         r.generation,
		UptimeSeconds:      time.Since(r.startTime).Seconds(),
	}

	attempts := r.totalConversions + r.failedConversions
	if attempts > 0 {
		s.ErrorRatePercent = float64(r.failedConversions) / float64(attempts) * 100.0
	}
	if r.totalConversions > 0 {
		s.AvgConversionTimeMs = float64(r.totalConversionTime.Milliseconds()) / float64(r.totalConversions)
	}
	if r.queueWaits > 0 {
		s.AvgQueueWaitMs = float64(r.totalQueueWaitTime.Milliseconds()) / float64(r.queueWaits)
	}
	if n := len(r.cpuSamples); n > 0 {
		var sum float64
		for _, v := range r.cpuSamples {
			sum += v
		}
		s.AvgCPUPercent = sum / float64(n)
	}
	if n := len(r.memSamples); n > 0 {
		var sum uint64
		for _, v := range r.memSamples {
			sum += v
		}
		s.AvgMemoryBytes = sum / uint64(n)
	}

	return s
}

// Text renders all registered metrics in the prometheus text exposition
// format, suitable for scraping.
func (r *Recorder) Text() (string, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
