// Package admin exposes the small HTTP observability surface a
// long-running participant process serves alongside its RTPS traffic:
// the Prometheus collectors of pkg/metrics, a liveness ping, and a
// readiness probe.
//
// Grounded on the teacher's pkg/admin package, kept close to the
// original route layout (/metrics, /ping, /ready, /debug/pprof*)
// but generalized to take an explicit prometheus.Gatherer rather than
// always scraping the global default registry, and a caller-supplied
// readiness probe rather than an unconditional "ok".
package admin

import (
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type handler struct {
	metricsHandler http.Handler
	ready          func() bool
	enablePprof    bool
}

// NewServer returns an initialized *http.Server bound to addr, not yet
// listening. reg is scraped on every /metrics request; ready is
// consulted on every /ready request, a nil ready always reporting ok.
func NewServer(addr string, reg prometheus.Gatherer, ready func() bool, enablePprof bool) *http.Server {
	h := &handler{
		metricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ready:          ready,
		enablePprof:    enablePprof,
	}
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
	}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	const debugPathPrefix = "/debug/pprof/"
	if h.enablePprof && strings.HasPrefix(req.URL.Path, debugPathPrefix) {
		switch req.URL.Path {
		case debugPathPrefix + "cmdline":
			pprof.Cmdline(w, req)
		case debugPathPrefix + "profile":
			pprof.Profile(w, req)
		case debugPathPrefix + "trace":
			pprof.Trace(w, req)
		case debugPathPrefix + "symbol":
			pprof.Symbol(w, req)
		default:
			pprof.Index(w, req)
		}
		return
	}
	switch req.URL.Path {
	case "/metrics":
		h.metricsHandler.ServeHTTP(w, req)
	case "/ping":
		w.Write([]byte("pong\n"))
	case "/ready":
		if h.ready != nil && !h.ready() {
			http.Error(w, "not ready\n", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok\n"))
	default:
		http.NotFound(w, req)
	}
}
