package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "xfer"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reinits      *prom.CounterVec
	serviceState prom.Gauge
	quoteEvents  *prom.CounterVec
	tracked      prom.Gauge
	updates      *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the metrics on reg. A nil reg
// gets a fresh private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		reinits: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reinitializations_total",
			Help:      "Transfer service initialization attempts by result",
		}, []string{"result"}),
		serviceState: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "service_state",
			Help:      "Current lifecycle state of the transfer service",
		}),
		quoteEvents: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "quote_events_total",
			Help:      "Quote stream events by kind",
		}, []string{"kind"}),
		tracked: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_transfers",
			Help:      "Transfers currently being tracked",
		}),
		updates: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_updates_total",
			Help:      "Persisted transfer updates by status",
		}, []string{"status"}),
	}
	reg.MustRegister(pr.reinits, pr.serviceState, pr.quoteEvents, pr.tracked, pr.updates)
	return pr
}

func (p *PrometheusRecorder) IncReinitialization(result ReinitResult) {
	if p == nil || p.reinits == nil {
		return
	}
	p.reinits.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) SetServiceState(state int) {
	if p == nil || p.serviceState == nil {
		return
	}
	p.serviceState.Set(float64(state))
}

func (p *PrometheusRecorder) IncQuoteEvent(kind string) {
	if p == nil || p.quoteEvents == nil {
		return
	}
	p.quoteEvents.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) SetTrackedTransfers(n int) {
	if p == nil || p.tracked == nil {
		return
	}
	p.tracked.Set(float64(n))
}

func (p *PrometheusRecorder) IncTransferUpdate(status string) {
	if p == nil || p.updates == nil {
		return
	}
	p.updates.WithLabelValues(status).Inc()
}

// HTTPHandler serves the metrics of reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
