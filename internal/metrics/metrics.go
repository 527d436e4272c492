// Package metrics exports task store activity to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "todosync"

// Recorder implements taskstore.Observer on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	remoteOps      *prometheus.CounterVec
	remoteFailures *prometheus.CounterVec
	staleResults   *prometheus.CounterVec
	snapshots      prometheus.Counter
	skipped        prometheus.Counter
	expired        prometheus.Counter
	visible        prometheus.Gauge
}

// New creates a Recorder with the Go runtime collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		remoteOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_ops_total",
			Help:      "Remote writes and deletes issued",
		}, []string{"op"}),
		remoteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_op_failures_total",
			Help:      "Remote writes and deletes that failed",
		}, []string{"op"}),
		staleResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_confirmations_total",
			Help:      "Remote results ignored because a newer local change superseded them",
		}, []string{"op"}),
		snapshots: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshots received from the remote listener",
		}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_records_skipped_total",
			Help:      "Snapshot records dropped because they failed to decode or validate",
		}),
		expired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_expired_total",
			Help:      "Pending local changes that timed out without confirmation",
		}),
		visible: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "visible_tasks",
			Help:      "Tasks currently in the local view",
		}),
	}
}

func (r *Recorder) RemoteOpIssued(op string)    { r.remoteOps.WithLabelValues(op).Inc() }
func (r *Recorder) RemoteOpFailed(op string)    { r.remoteFailures.WithLabelValues(op).Inc() }
func (r *Recorder) StaleConfirmation(op string) { r.staleResults.WithLabelValues(op).Inc() }
func (r *Recorder) PendingExpired()             { r.expired.Inc() }

func (r *Recorder) SnapshotApplied(records, skipped int) {
	r.snapshots.Inc()
	r.skipped.Add(float64(skipped))
}

// SetVisible records the size of the current view.
func (r *Recorder) SetVisible(n int) {
	r.visible.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
