// Package metrics mirrors brim's stats buckets and HTTP pipeline timings
// as Prometheus metrics, served on the supervisor's internal admin mux
// alongside (not instead of) the spec's own JSON stats endpoint. Grounded
// on pkg/metrics/metrics.go and pkg/metrics/collector.go from the teacher.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brimdotnet/brimd/internal/stats"
)

// Registry holds the per-subserver gauge vectors this process mirrors
// stats buckets into, plus pipeline instrumentation shared by every WSGI
// worker.
type Registry struct {
	reg *prometheus.Registry

	statValue *prometheus.GaugeVec // labels: subserver, bucket, stat

	requestDuration *prometheus.HistogramVec // labels: subserver
	requestBytesIn  *prometheus.HistogramVec
	requestBytesOut *prometheus.HistogramVec
}

// NewRegistry builds a fresh Prometheus registry. Call Handler to mount it.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		statValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "brimd_stat_value",
			Help: "Current value of a brimd stats bucket counter.",
		}, []string{"subserver", "bucket", "stat"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brimd_request_duration_seconds",
			Help:    "WSGI request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"subserver"}),
		requestBytesIn: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brimd_request_bytes_in",
			Help:    "WSGI request body bytes read per request.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"subserver"}),
		requestBytesOut: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brimd_request_bytes_out",
			Help:    "WSGI response body bytes written per request.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"subserver"}),
	}
	reg.MustRegister(r.statValue, r.requestDuration, r.requestBytesIn, r.requestBytesOut)
	return r
}

// Handler returns the promhttp handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// MirrorStats copies every bucket of set's declared names into the
// per-(subserver,bucket,stat) gauge. Called on a short interval by the
// supervisor's admin loop; cheap enough to poll since stats are plain
// atomics (spec §4.4, §5).
func (r *Registry) MirrorStats(subserver string, set *stats.Set) {
	if set == nil {
		return
	}
	for b := 0; b < set.WorkerCount(); b++ {
		bucket := strconv.Itoa(b)
		for _, name := range set.Names() {
			r.statValue.WithLabelValues(subserver, bucket, name).Set(float64(set.Get(b, name)))
		}
	}
}

// ObserveRequest records one completed WSGI request's duration and byte
// counts, matching the fields the access log already carries (spec §4.5).
func (r *Registry) ObserveRequest(subserver string, dur time.Duration, bytesIn, bytesOut int) {
	r.requestDuration.WithLabelValues(subserver).Observe(dur.Seconds())
	r.requestBytesIn.WithLabelValues(subserver).Observe(float64(bytesIn))
	r.requestBytesOut.WithLabelValues(subserver).Observe(float64(bytesOut))
}

// Timer is a small stopwatch helper, matching pkg/metrics.Timer.
type Timer struct{ start time.Time }

func NewTimer() Timer { return Timer{start: time.Now()} }

func (t Timer) Elapsed() time.Duration { return time.Since(t.start) }
