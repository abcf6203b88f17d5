package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func manualProvider() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumFor(t *testing.T, data metricdata.Aggregation, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", data)
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{SampleRate: 3}
	cfg.applyDefaults()
	assert.Equal(t, "tcm-server", cfg.ServiceName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 1.0, cfg.SampleRate)

	custom := Config{ServiceName: "tcm", Environment: "production", SampleRate: 0.25}
	custom.applyDefaults()
	assert.Equal(t, "tcm", custom.ServiceName)
	assert.Equal(t, 0.25, custom.SampleRate)
}

func TestDomainRecorder_CountsPerTenant(t *testing.T) {
	mp, reader := manualProvider()
	rec, err := NewDomainRecorder(mp)
	require.NoError(t, err)

	ctx := context.Background()
	rec.TransitionCreated(ctx, "acme")
	rec.TransitionCreated(ctx, "acme")
	rec.TransitionCreated(ctx, "globex")
	rec.OutreachLogged(ctx, "acme")
	rec.TransitionClosed(ctx, "acme")
	rec.MutationFailed(ctx, "acme", "close")

	got := collect(t, reader)
	acme := attribute.String("tenant", "acme")
	assert.Equal(t, int64(2), sumFor(t, got["tcm.transitions_created"], acme))
	assert.Equal(t, int64(1), sumFor(t, got["tcm.transitions_created"], attribute.String("tenant", "globex")))
	assert.Equal(t, int64(1), sumFor(t, got["tcm.outreach_logged"], acme))
	assert.Equal(t, int64(1), sumFor(t, got["tcm.transitions_closed"], acme))
	assert.Equal(t, int64(1), sumFor(t, got["tcm.mutation_failures"], acme, attribute.String("operation", "close")))
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	mp, reader := manualProvider()
	mw, err := MetricsMiddleware(mp)
	require.NoError(t, err)

	e := echo.New()
	e.Use(mw)
	e.GET("/api/v1/care-transitions/:key", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "care transition 9 not found")
	})
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/care-transitions/9", nil))

	got := collect(t, reader)
	hist, ok := got["http.server.request.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	dp := hist.DataPoints[0]
	assert.Equal(t, uint64(1), dp.Count)
	route, _ := dp.Attributes.Value("http.route")
	assert.Equal(t, "/api/v1/care-transitions/:key", route.AsString())
	status, _ := dp.Attributes.Value("http.response.status_code")
	assert.Equal(t, int64(404), status.AsInt64())

	active, ok := got["http.server.active_requests"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, active.DataPoints, 1)
	assert.Equal(t, int64(0), active.DataPoints[0].Value)
}

func TestStatusOf(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	_ = c.NoContent(http.StatusAccepted)
	assert.Equal(t, http.StatusAccepted, statusOf(c, nil))
	assert.Equal(t, http.StatusConflict, statusOf(c, echo.NewHTTPError(http.StatusConflict)))
	assert.Equal(t, http.StatusInternalServerError, statusOf(c, io.EOF))
}

func TestTracingMiddleware_RecordsServerSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	p := &Provider{
		cfg:            Config{ServiceName: "tcm-test"},
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)),
	}

	e := echo.New()
	e.Use(p.TracingMiddleware())
	e.GET("/tcm/alerts", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/tcm/alerts", nil))
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1, "health checks are not traced")
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
}

func TestProvider_PrometheusHandler(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{ServiceName: "tcm-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	rec, err := NewDomainRecorder(p.MeterProvider)
	require.NoError(t, err)
	rec.TransitionCreated(context.Background(), "acme")

	e := echo.New()
	resp := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/metrics", nil), resp)
	require.NoError(t, p.PrometheusHandler()(c))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "tcm_transitions_created")
	assert.Contains(t, resp.Body.String(), `tenant="acme"`)
}
