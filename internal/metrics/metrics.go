package metrics

import (
	"net/http"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry collects orchestration counters. A nil *Registry is safe to use
// and records nothing, so call sites never need guards.
type Registry struct {
	once sync.Once
	reg  *prom.Registry

	eventsPublished  *prom.CounterVec
	eventsDropped    *prom.CounterVec
	eventSubscribers *prom.GaugeVec

	compilations    *prom.CounterVec
	compileFailures *prom.CounterVec
	chainBreaks     *prom.CounterVec
	nativeChanges   *prom.CounterVec
	readyEvents     *prom.CounterVec
}

var Default = NewRegistry(nil)

// NewRegistry constructs and registers the loom metrics (idempotent per
// registry instance).
func NewRegistry(reg *prom.Registry) *Registry {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Registry{reg: reg}
	r.once.Do(func() {
		r.eventsPublished = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "loom",
			Name:      "events_published_total",
			Help:      "Events published per bus and event type",
		}, []string{"bus", "type"})
		r.eventsDropped = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "loom",
			Name:      "events_dropped_total",
			Help:      "Events dropped due to slow subscribers",
		}, []string{"bus", "type"})
		r.eventSubscribers = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "loom",
			Name:      "event_subscribers",
			Help:      "Current subscriber counts per bus",
		}, []string{"bus", "kind"})
		r.compilations = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "loom",
			Name:      "compilations_total",
			Help:      "Bundler compilations by platform and mode",
		}, []string{"platform", "mode"})
		r.compileFailures = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "loom",
			Name:      "compile_failures_total",
			Help:      "Bundler subprocess failures by platform",
		}, []string{"platform"})
		r.chainBreaks = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "loom",
			Name:      "hot_update_chain_breaks_total",
			Help:      "Hot-update hash chain breaks forcing full fallback",
		}, []string{"platform"})
		r.nativeChanges = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "loom",
			Name:      "native_changes_total",
			Help:      "Native file change events latched per platform",
		}, []string{"platform"})
		r.readyEvents = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "loom",
			Name:      "prepare_ready_total",
			Help:      "Prepare readiness events emitted per platform",
		}, []string{"platform"})
		reg.MustRegister(
			r.eventsPublished,
			r.eventsDropped,
			r.eventSubscribers,
			r.compilations,
			r.compileFailures,
			r.chainBreaks,
			r.nativeChanges,
			r.readyEvents,
		)
	})
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil || r.reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventsPublished.WithLabelValues(bus, eventType).Inc()
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventsDropped.WithLabelValues(bus, eventType).Inc()
}

func (r *Registry) SetEventSubscriberCounts(bus string, filtered, unfiltered int) {
	if r == nil {
		return
	}
	r.eventSubscribers.WithLabelValues(bus, "filtered").Set(float64(filtered))
	r.eventSubscribers.WithLabelValues(bus, "unfiltered").Set(float64(unfiltered))
}

func (r *Registry) IncCompilation(platform, mode string) {
	if r == nil {
		return
	}
	r.compilations.WithLabelValues(platform, mode).Inc()
}

func (r *Registry) IncCompileFailure(platform string) {
	if r == nil {
		return
	}
	r.compileFailures.WithLabelValues(platform).Inc()
}

func (r *Registry) IncChainBreak(platform string) {
	if r == nil {
		return
	}
	r.chainBreaks.WithLabelValues(platform).Inc()
}

func (r *Registry) IncNativeChange(platform string) {
	if r == nil {
		return
	}
	r.nativeChanges.WithLabelValues(platform).Inc()
}

func (r *Registry) IncPrepareReady(platform string) {
	if r == nil {
		return
	}
	r.readyEvents.WithLabelValues(platform).Inc()
}
