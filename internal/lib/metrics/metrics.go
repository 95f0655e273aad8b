package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	pairsIssued     *prometheus.CounterVec
	authFailures    *prometheus.CounterVec
	refreshRejected *prometheus.CounterVec
	logouts         prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

// New registers the service collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		pairsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authsvc_token_pairs_issued_total", Help: "Token pairs minted, by flow",
		}, []string{"flow"}),
		authFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authsvc_authenticate_failures_total", Help: "Rejected access tokens, by reason",
		}, []string{"reason"}),
		refreshRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authsvc_refresh_rejected_total", Help: "Rejected refresh attempts, by reason",
		}, []string{"reason"}),
		logouts: f.NewCounter(prometheus.CounterOpts{
			Name: "authsvc_logouts_total", Help: "Successful logouts",
		}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "authsvc_http_request_duration_seconds", Help: "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) PairIssued(flow string) { m.pairsIssued.WithLabelValues(flow).Inc() }

func (m *Metrics) AuthFailed(reason string) { m.authFailures.WithLabelValues(reason).Inc() }

func (m *Metrics) RefreshRejected(reason string) { m.refreshRejected.WithLabelValues(reason).Inc() }

func (m *Metrics) LoggedOut() { m.logouts.Inc() }

func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	m.requestDuration.WithLabelValues(method, route, status).Observe(seconds)
}
