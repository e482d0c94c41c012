package stevedore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records RPC metrics of the runner service. A nil *Metrics records
// nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    prometheus.Counter
}

// NewMetrics creates runner metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_requests_total",
			Help: "Total number of handled RPCs by method and status code",
		}, []string{"method", "code"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rpc_request_duration_seconds",
			Help:    "Duration of handled RPCs, for streams until the stream ends",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "stream_job_bytes_total",
			Help: "Total number of job output bytes sent to StreamJob callers",
		}),
	}
}

func (m *Metrics) handled(method, code string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, code).Inc()
	m.duration.WithLabelValues(method).Observe(seconds)
}

func (m *Metrics) streamed(n int) {
	if m == nil {
		return
	}
	m.bytes.Add(float64(n))
}
