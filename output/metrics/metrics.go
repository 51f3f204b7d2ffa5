package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swifterrors "github.com/pli01/swiftsink/output/errors"
)

const namespace = "swiftsink"

// Metrics 投递流水线的指标，每个实例有自己的 Registry
type Metrics struct {
	registry *prometheus.Registry

	Deliveries     *prometheus.CounterVec
	KeyProbes      *prometheus.CounterVec
	UploadedBytes  prometheus.Counter
	UploadDuration prometheus.Histogram
	InFlight       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "chunks",
				Name:      "delivered_total",
				Help:      "Chunk deliveries by result",
			},
			[]string{"result"},
		),
		KeyProbes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "keys",
				Name:      "probes_total",
				Help:      "Object existence probes by outcome",
			},
			[]string{"exists"},
		),
		UploadedBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "bytes_total",
				Help:      "Bytes uploaded to object storage",
			},
		),
		UploadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "duration_seconds",
				Help:      "Object upload duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "chunks",
				Name:      "in_flight",
				Help:      "Chunks currently being delivered",
			},
		),
	}
	m.registry.MustRegister(m.Deliveries, m.KeyProbes, m.UploadedBytes, m.UploadDuration, m.InFlight)
	return m
}

// WithRuntimeCollectors 额外注册 Go 运行时和进程指标
func (m *Metrics) WithRuntimeCollectors() *Metrics {
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Result 投递结果的标签值
func Result(err error) string {
	switch {
	case err == nil:
		return "success"
	case swifterrors.IsDuplicatePath(err):
		return "duplicate_path"
	case swifterrors.IsConfiguration(err):
		return "configuration"
	case swifterrors.IsMaterialization(err):
		return "materialization"
	case swifterrors.IsTransport(err):
		return "transport"
	default:
		return "other"
	}
}

// ObserveDelivery m 为 nil 时什么都不做，下同
func (m *Metrics) ObserveDelivery(err error) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(Result(err)).Inc()
}

func (m *Metrics) ObserveProbe(exists bool) {
	if m == nil {
		return
	}
	if exists {
		m.KeyProbes.WithLabelValues("true").Inc()
	} else {
		m.KeyProbes.WithLabelValues("false").Inc()
	}
}

func (m *Metrics) ObserveUpload(size int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UploadedBytes.Add(float64(size))
	m.UploadDuration.Observe(elapsed.Seconds())
}

// Track 记录一次进行中的投递，返回的函数在投递结束时调用
func (m *Metrics) Track() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}
