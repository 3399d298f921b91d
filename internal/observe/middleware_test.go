package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// serve runs one request through Middleware wrapping h and returns the
// recorder plus the collected metrics.
func serve(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, metricdata.ResourceMetrics) {
	t.Helper()
	m, reader := newTestMetrics(t)
	rec := httptest.NewRecorder()
	Middleware(m)(h).ServeHTTP(rec, req)
	return rec, collect(t, reader)
}

func durationLabels(t *testing.T, rm metricdata.ResourceMetrics) map[string]string {
	t.Helper()
	met := findMetric(rm, "earshot.http.request.duration")
	if met == nil {
		t.Fatal("earshot.http.request.duration not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("data points = %+v, want one sample", hist.DataPoints)
	}
	out := make(map[string]string)
	for _, kv := range hist.DataPoints[0].Attributes.ToSlice() {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func TestMiddleware_LabelsByMuxPattern(t *testing.T) {
	exp := installTracer(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	rec, rm := serve(t, mux, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	got := durationLabels(t, rm)
	want := map[string]string{"method": "GET", "route": "GET /healthz", "status": "503"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("label %s = %q, want %q", k, got[k], v)
		}
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP GET /healthz" {
		t.Fatalf("spans = %+v", spans)
	}
	if code, _ := attr(spans[0], "http.response.status_code"); code != "503" {
		t.Errorf("span status code = %q, want 503", code)
	}
	if rec.Header().Get("X-Trace-ID") != spans[0].SpanContext.TraceID().String() {
		t.Error("X-Trace-ID does not match span")
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	installTracer(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(http.ResponseWriter, *http.Request) {})

	rec, rm := serve(t, mux, httptest.NewRequest(http.MethodGet, "/wp-login.php", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := durationLabels(t, rm)["route"]; got != routeUnmatched {
		t.Errorf("route = %q, want %q", got, routeUnmatched)
	}
}

func TestMiddleware_PlainHandlerUsesPath(t *testing.T) {
	installTracer(t)

	h := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	_, rm := serve(t, h, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if got := durationLabels(t, rm)["route"]; got != "/readyz" {
		t.Errorf("route = %q, want /readyz", got)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	installTracer(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var seen string
	h := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")

	rec, _ := serve(t, h, req)
	if seen != traceID {
		t.Errorf("handler trace = %q, want %q", seen, traceID)
	}
	if got := rec.Header().Get("X-Trace-ID"); got != traceID {
		t.Errorf("X-Trace-ID = %q, want %q", got, traceID)
	}
}
