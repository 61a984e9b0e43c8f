package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"opensearch-proxy-go/internal/client"
	"opensearch-proxy-go/internal/config"
	"opensearch-proxy-go/internal/service"
	"opensearch-proxy-go/internal/stats"
)

const matchAllBody = `{
	"query": {
		"bool": {
			"filter": [{"match_all": {}}],
			"must": [],
			"must_not": [],
			"should": []
		}
	}
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestProxyHandler wires a full handler stack against the given
// upstream URL and returns the handler with its stats collector.
func newTestProxyHandler(t *testing.T, upstreamURL string) (*ProxyHandler, *stats.Collector) {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			Addr:           strings.TrimPrefix(upstreamURL, "http://"),
			TimeoutSeconds: 10,
		},
	}
	logger := testLogger()
	st := stats.NewCollector(0)
	up := client.NewUpstream(cfg, logger, nil)
	router := service.NewRouter(up, st, logger, nil)
	return NewProxyHandler(router, logger), st
}

func doRequest(t *testing.T, h *ProxyHandler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	return rec
}

func TestProxyHandler_SynthesizedSearch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called for a recognized search")
	}))
	defer ts.Close()

	h, st := newTestProxyHandler(t, ts.URL)

	req := httptest.NewRequest(http.MethodPost, "/my-first-index/_search", strings.NewReader(matchAllBody))
	req.Header.Set("Content-Type", "application/json")
	rec := doRequest(t, h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=UTF-8" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body struct {
		Hits struct {
			Total struct {
				Value    int    `json:"value"`
				Relation string `json:"relation"`
			} `json:"total"`
			Hits []json.RawMessage `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Hits.Total.Value != 3 || len(body.Hits.Hits) != 3 {
		t.Errorf("total = %d, hits = %d, want 3 and 3", body.Hits.Total.Value, len(body.Hits.Hits))
	}

	if snap := st.Snapshot(); snap.SearchSuccess != 1 {
		t.Errorf("SearchSuccess = %d, want 1", snap.SearchSuccess)
	}
}

func TestProxyHandler_OpaqueIDRoundTrip(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	h, _ := newTestProxyHandler(t, ts.URL)

	req := httptest.NewRequest(http.MethodPost, "/idx/_search", strings.NewReader(matchAllBody))
	req.Header.Set("X-Opaque-Id", "req-7")
	rec := doRequest(t, h, req)

	if got := rec.Header().Get("X-Opaque-Id"); got != "req-7" {
		t.Errorf("X-Opaque-Id = %q, want %q", got, "req-7")
	}

	req = httptest.NewRequest(http.MethodPost, "/idx/_search", strings.NewReader(matchAllBody))
	rec = doRequest(t, h, req)

	if got := rec.Header().Get("X-Opaque-Id"); got != "" {
		t.Errorf("X-Opaque-Id = %q, want absent when not sent", got)
	}
}

func TestProxyHandler_IdenticalRequestsIdenticalResponses(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	h, _ := newTestProxyHandler(t, ts.URL)

	body := func() string {
		req := httptest.NewRequest(http.MethodPost, "/idx/_search", strings.NewReader(matchAllBody))
		return doRequest(t, h, req).Body.String()
	}

	first, second := body(), body()
	if first != second {
		t.Errorf("responses differ:\n%s\n%s", first, second)
	}
}

func TestProxyHandler_FallbackMatchesDirectForwarding(t *testing.T) {
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Backend", "real")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintf(w, `{"error":"unknown aggregation","echo":%q}`, body)
	})

	ts := httptest.NewServer(upstream)
	defer ts.Close()

	h, st := newTestProxyHandler(t, ts.URL)

	body := `{"aggs": {}}`

	// What pure forwarding would produce.
	direct := httptest.NewRecorder()
	upstream.ServeHTTP(direct, httptest.NewRequest(http.MethodPost, "/idx/_search", strings.NewReader(body)))

	req := httptest.NewRequest(http.MethodPost, "/idx/_search", strings.NewReader(body))
	rec := doRequest(t, h, req)

	if rec.Code != direct.Code {
		t.Errorf("status = %d, want %d", rec.Code, direct.Code)
	}
	if rec.Body.String() != direct.Body.String() {
		t.Errorf("body = %q, want %q", rec.Body.String(), direct.Body.String())
	}
	if got := rec.Header().Get("X-Backend"); got != "real" {
		t.Errorf("X-Backend = %q, want upstream header relayed", got)
	}

	snap := st.Snapshot()
	if snap.SearchFailure != 1 || len(snap.Failures) != 1 {
		t.Fatalf("stats = %+v, want one recorded failure", snap)
	}
	if string(snap.Failures[0].Body) != body {
		t.Errorf("failure body = %q, want %q", snap.Failures[0].Body, body)
	}
}

func TestProxyHandler_PassthroughNonSearch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"cluster_name":"test"}`))
	}))
	defer ts.Close()

	h, st := newTestProxyHandler(t, ts.URL)

	req := httptest.NewRequest(http.MethodGet, "/_cluster/health", http.NoBody)
	rec := doRequest(t, h, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != `{"cluster_name":"test"}` {
		t.Errorf("body = %q", rec.Body.String())
	}
	if snap := st.Snapshot(); snap.NonSearchPassthrough != 1 {
		t.Errorf("NonSearchPassthrough = %d, want 1", snap.NonSearchPassthrough)
	}
}

func TestProxyHandler_UpstreamDownIs502(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := ts.URL
	ts.Close()

	h, _ := newTestProxyHandler(t, addr)

	req := httptest.NewRequest(http.MethodGet, "/_cluster/health", http.NoBody)
	rec := doRequest(t, h, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected non-empty error message in response")
	}
}

func TestProxyHandler_mapError_DeadlineExceeded(t *testing.T) {
	h := &ProxyHandler{logger: testLogger()}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/idx/_search", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	wrapped := fmt.Errorf("upstream request: %w", context.DeadlineExceeded)
	if err := h.mapError(c, wrapped); err != nil {
		t.Fatalf("mapError() returned error: %v", err)
	}

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusGatewayTimeout)
	}
}

func TestProxyHandler_mapError_DNSError(t *testing.T) {
	h := &ProxyHandler{logger: testLogger()}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/idx/_search", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	dnsErr := &net.DNSError{Err: "no such host", Name: "backend.internal"}
	wrapped := fmt.Errorf("upstream request: %w", dnsErr)

	if err := h.mapError(c, wrapped); err != nil {
		t.Fatalf("mapError() returned error: %v", err)
	}

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "upstream host unreachable" {
		t.Errorf("error = %q, want %q", body["error"], "upstream host unreachable")
	}
}

func TestProxyHandler_mapError_URLError(t *testing.T) {
	h := &ProxyHandler{logger: testLogger()}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/idx/_search", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	urlErr := &url.Error{Op: "Post", URL: "http://127.0.0.1:9200/idx/_search", Err: fmt.Errorf("connection refused")}
	wrapped := fmt.Errorf("upstream request: %w", urlErr)

	if err := h.mapError(c, wrapped); err != nil {
		t.Fatalf("mapError() returned error: %v", err)
	}

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "upstream connection failed" {
		t.Errorf("error = %q, want %q", body["error"], "upstream connection failed")
	}
}
