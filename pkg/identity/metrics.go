package identity

import (
	"github.com/juliaogris/stevedore/pkg/cert"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Renewal results as reported in the result label.
const (
	resultReused  = "reused"
	resultRenewed = "renewed"
	resultError   = "error"
)

// Metrics records identity lifecycle metrics. A nil *Metrics records
// nothing.
type Metrics struct {
	renewals    *prometheus.CounterVec
	rootChanges prometheus.Counter
	expiryTime  prometheus.Gauge
}

// NewMetrics creates identity metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		renewals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_renewals_total",
			Help: "Total number of bootstrap runs by result",
		}, []string{"result"}), // result: reused, renewed, error
		rootChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "identity_root_changes_total",
			Help: "Total number of root of trust changes",
		}),
		expiryTime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "identity_certificate_expiry_timestamp_seconds",
			Help: "Unix timestamp when the current identity certificate expires",
		}),
	}
}

func (m *Metrics) renewal(result string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(result).Inc()
}

func (m *Metrics) rootChanged() {
	if m == nil {
		return
	}
	m.rootChanges.Inc()
}

func (m *Metrics) expiry(id cert.Identity) {
	if m == nil {
		return
	}
	notAfter, err := id.NotAfter()
	if err != nil {
		return
	}
	m.expiryTime.Set(float64(notAfter.Unix()))
}
