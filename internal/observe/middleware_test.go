package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates metrics and tracing backends for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// controlPlane builds the route set the middleware wraps in production: the
// session toggle plus the status probe.
func controlPlane(t *testing.T, m *Metrics) (http.Handler, *string) {
	t.Helper()

	var toggleCID string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /session/toggle", func(w http.ResponseWriter, r *http.Request) {
		toggleCID = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /statusz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(m)(mux), &toggleCID
}

func TestMiddleware_SetsCorrelationIDOnToggle(t *testing.T) {
	m, _, _ := testSetup(t)
	handler, toggleCID := controlPlane(t, m)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session/toggle", nil))

	if *toggleCID == "" {
		t.Error("toggle handler saw no correlation ID in context")
	}
	if len(*toggleCID) != 32 {
		t.Errorf("correlation ID length = %d, want 32", len(*toggleCID))
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != *toggleCID {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, *toggleCID)
	}
}

func TestMiddleware_SpanNamedByRoutePattern(t *testing.T) {
	m, _, exp := testSetup(t)
	handler, _ := controlPlane(t, m)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session/toggle", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "POST /session/toggle" {
		t.Errorf("span name = %q, want the matched route pattern", spans[0].Name)
	}
	foundRoute := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.route" && a.Value.AsString() == "POST /session/toggle" {
			foundRoute = true
		}
	}
	if !foundRoute {
		t.Error("span missing http.route attribute with the matched pattern")
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	m, reader, _ := testSetup(t)
	handler, _ := controlPlane(t, m)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statusz", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "voxtide.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("got %d data points, want 1", len(hist.DataPoints))
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	foundRoute, foundStatus := false, false
	for _, kv := range dp.Attributes.ToSlice() {
		if string(kv.Key) == "route" && kv.Value.AsString() == "GET /statusz" {
			foundRoute = true
		}
		if string(kv.Key) == "status" && kv.Value.AsInt64() == 200 {
			foundStatus = true
		}
	}
	if !foundRoute {
		t.Error("missing route attribute with the matched pattern")
	}
	if !foundStatus {
		t.Error("missing status attribute")
	}
}

func TestMiddleware_UnmatchedRouteFallsBackToPath(t *testing.T) {
	m, _, exp := testSetup(t)
	handler, _ := controlPlane(t, m)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/no-such-route", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "GET /no-such-route" {
		t.Errorf("span name = %q, want method + path fallback", spans[0].Name)
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 404 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code attribute")
	}
}

func TestMiddleware_ContinuesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)
	handler, toggleCID := controlPlane(t, m)

	req := httptest.NewRequest(http.MethodPost, "/session/toggle", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// The toggle joins the caller's trace: its correlation ID is the trace
	// ID from the incoming header.
	if *toggleCID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("correlation ID = %q, want the propagated trace ID", *toggleCID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("response X-Correlation-ID = %q, want the propagated trace ID", got)
	}
}

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}
