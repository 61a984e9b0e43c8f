// Package client provides the upstream HTTP client for the search backend.
package client

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"opensearch-proxy-go/internal/config"
	"opensearch-proxy-go/internal/metrics"
	"opensearch-proxy-go/internal/model"
)

// hopByHopHeaders must not be relayed between the inbound and upstream
// connections (RFC 9110 §7.6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Upstream forwards requests to the configured search backend. Every call
// opens a fresh connection: keep-alives are disabled so no connection state
// is shared between requests.
type Upstream struct {
	httpClient *http.Client
	addr       string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstream creates an Upstream for the configured backend address.
// The metrics parameter is optional; pass nil to disable upstream metrics
// recording.
func NewUpstream(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Upstream {
	transport := &http.Transport{
		DisableKeepAlives: true,
		// The response must be relayed exactly as received; transparent
		// gzip would rewrite the body and strip Content-Encoding.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout: 30 * time.Second,
		}).DialContext,
	}

	return &Upstream{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		addr:    cfg.Upstream.Addr,
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Forward relays the request to the backend unchanged and returns the
// fully materialized response. Method, request URI, headers (minus
// hop-by-hop), Host and body are sent as received.
func (u *Upstream) Forward(env *model.RequestEnvelope) (*model.ResponseEnvelope, error) {
	req, err := http.NewRequestWithContext(env.Ctx, env.Method, "http://"+u.addr+env.RequestURI, bytes.NewReader(env.Body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = relayableHeaders(env.Header)
	req.Host = env.Host
	req.ContentLength = int64(len(env.Body))

	u.logger.Debug("upstream request",
		"method", env.Method,
		"path", env.Path,
	)

	start := time.Now()
	resp, err := u.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(env.Method)

	if err != nil {
		if u.metrics != nil {
			u.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	if u.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		u.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		u.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.ResponseEnvelope{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// relayableHeaders copies the inbound headers minus the hop-by-hop set.
// Content-Length is dropped too; the client derives it from the buffered
// body.
func relayableHeaders(src http.Header) http.Header {
	dst := src.Clone()
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
	dst.Del("Content-Length")
	return dst
}
