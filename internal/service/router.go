// Package service implements the routing decision at the heart of the
// proxy: answer a recognized _search request locally, forward everything
// else.
package service

import (
	"log/slog"
	"regexp"

	"opensearch-proxy-go/internal/client"
	"opensearch-proxy-go/internal/metrics"
	"opensearch-proxy-go/internal/model"
	"opensearch-proxy-go/internal/search"
	"opensearch-proxy-go/internal/stats"
)

// searchEndpoint matches paths of the shape /<index>/_search. The index
// name is accepted but not used.
var searchEndpoint = regexp.MustCompile(`^/([^/]*)/_search$`)

// Router outcome labels, also used as Prometheus label values.
const (
	outcomeSynthesized = "synthesized"
	outcomeFallback    = "fallback"
	outcomePassthrough = "passthrough"
)

// Router decides per request between local synthesis and upstream
// forwarding, and records the outcome in the stats collector.
type Router struct {
	upstream *client.Upstream
	stats    *stats.Collector
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRouter creates a Router. The metrics parameter is optional; pass nil
// to disable outcome metrics.
func NewRouter(up *client.Upstream, st *stats.Collector, logger *slog.Logger, m *metrics.Metrics) *Router {
	return &Router{
		upstream: up,
		stats:    st,
		logger:   logger.With("component", "router"),
		metrics:  m,
	}
}

// Route handles one request. Local synthesis is an optimization, never an
// obligation: any search request the validator does not recognize is
// recorded as a failure and forwarded unchanged, so the worst case
// degrades to pure proxying. The returned error is only ever an upstream
// forwarding error; the caller maps it to a gateway status.
func (r *Router) Route(env *model.RequestEnvelope) (*model.ResponseEnvelope, error) {
	if !searchEndpoint.MatchString(env.Path) {
		r.stats.RecordPassthrough()
		r.countOutcome(outcomePassthrough)
		return r.upstream.Forward(env)
	}

	parsed, err := search.Parse(env.RawQuery, env.Body)
	if err == nil {
		var resp *model.ResponseEnvelope
		if resp, err = search.Synthesize(parsed, env.Header); err == nil {
			r.stats.RecordSearchSuccess()
			r.countOutcome(outcomeSynthesized)
			return resp, nil
		}
	}

	r.stats.RecordSearchFailure(err.Error(), env.Body)
	r.countOutcome(outcomeFallback)
	r.logger.Warn("search request not recognized, forwarding",
		"reason", err.Error(),
		"path", env.Path,
	)
	return r.upstream.Forward(env)
}

func (r *Router) countOutcome(outcome string) {
	if r.metrics != nil {
		r.metrics.Outcomes.WithLabelValues(outcome).Inc()
	}
}
