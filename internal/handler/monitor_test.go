package handler

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"opensearch-proxy-go/internal/config"
	"opensearch-proxy-go/internal/stats"
)

func monitorContext(t *testing.T, h *MonitorHandler, path string, handle echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := handle(c); err != nil {
		t.Fatalf("%s: %v", path, err)
	}
	return rec
}

func TestMonitorHandler_Counters(t *testing.T) {
	st := stats.NewCollector(0)
	st.RecordSearchSuccess()
	st.RecordSearchSuccess()
	st.RecordSearchFailure("reason", nil)
	st.RecordPassthrough()
	st.RecordPassthrough()
	st.RecordPassthrough()

	h := NewMonitorHandler(st, &config.Config{})

	tests := []struct {
		name   string
		path   string
		handle echo.HandlerFunc
		want   string
	}{
		{"success", "/search_queries_success_count", h.SuccessCount, "2"},
		{"failure", "/search_queries_failure_count", h.FailureCount, "1"},
		{"passthrough", "/nonsearch_passed_through_count", h.PassthroughCount, "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := monitorContext(t, h, tt.path, tt.handle)
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
			if got := rec.Body.String(); got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Errorf("Content-Type = %q, want text/plain", ct)
			}
		})
	}
}

func TestMonitorHandler_Failures(t *testing.T) {
	st := stats.NewCollector(0)
	st.RecordSearchFailure("unimplemented search parameter: aggs", []byte(`{"aggs":{}}`))
	st.RecordSearchFailure("bad <script>", []byte{0xff, 0xfe})

	h := NewMonitorHandler(st, &config.Config{})
	rec := monitorContext(t, h, "/search_queries_failures", h.Failures)

	body := rec.Body.String()

	if got := strings.Count(body, "<div class='failure_row'>"); got != 2 {
		t.Errorf("failure rows = %d, want 2", got)
	}
	if !strings.Contains(body, "unimplemented search parameter: aggs") {
		t.Errorf("missing reason in %q", body)
	}
	if !strings.Contains(body, "{&#34;aggs&#34;:{}}") {
		t.Errorf("missing escaped body in %q", body)
	}
	// Reasons are escaped, never raw HTML.
	if strings.Contains(body, "<script>") {
		t.Errorf("unescaped HTML leaked into %q", body)
	}
	// Invalid UTF-8 bodies render as an empty string.
	if !strings.Contains(body, "<div class='failure_body'></div>") {
		t.Errorf("invalid UTF-8 body not rendered empty in %q", body)
	}
}

func TestMonitorHandler_FailuresEmpty(t *testing.T) {
	h := NewMonitorHandler(stats.NewCollector(0), &config.Config{})
	rec := monitorContext(t, h, "/search_queries_failures", h.Failures)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
}

func TestMonitorHandler_Index(t *testing.T) {
	dir := t.TempDir()
	index := filepath.Join(dir, "index.html")
	if err := os.WriteFile(index, []byte("<html>monitor</html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Monitor: config.MonitorConfig{IndexFile: index},
	}
	h := NewMonitorHandler(stats.NewCollector(0), cfg)
	rec := monitorContext(t, h, "/", h.Index)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "monitor") {
		t.Errorf("body = %q, want the index file", rec.Body.String())
	}
}

func TestMonitorHandler_Healthz(t *testing.T) {
	h := NewMonitorHandler(stats.NewCollector(0), &config.Config{})
	rec := monitorContext(t, h, "/healthz", h.Healthz)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}
