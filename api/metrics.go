package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName     = "todo-api/api"
	ctxMetricsKey  = "request.metrics"
	metricsMessage = "todos.request.metrics"
)

type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	method        string
	start         time.Time
	storeDuration time.Duration
	taskID        int64
	hasTaskID     bool
	tasksReturned int
	errorStage    string
	user          string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("http.route", route),
		))
	return &requestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		method: method,
		start:  time.Now(),
	}, ctx
}

func (m *requestMetrics) ObserveStore(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.storeDuration += d
}

func (m *requestMetrics) SetTaskID(id int64) {
	if m == nil {
		return
	}
	m.taskID = id
	m.hasTaskID = true
}

func (m *requestMetrics) SetTasksReturned(n int) {
	if m == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	m.tasksReturned = n
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) SetUser(id string) {
	if m == nil {
		return
	}
	m.user = id
}

// Log ends the span and writes a single structured entry for the request.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	total := time.Since(m.start)

	attrs := []attribute.KeyValue{
		attribute.Int("http.response.status_code", status),
		attribute.Float64("todo.total_ms", durationToMillis(total)),
	}
	if m.hasTaskID {
		attrs = append(attrs, attribute.Int64("todo.id", m.taskID))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("todo.error_stage", m.errorStage))
	}
	if m.user != "" {
		attrs = append(attrs, attribute.String("enduser.id", m.user))
	}
	m.span.SetAttributes(attrs...)
	if err != nil {
		m.span.RecordError(err)
	}
	if status >= http.StatusInternalServerError || err != nil {
		m.span.SetStatus(codes.Error, http.StatusText(status))
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":          m.route,
		"method":         m.method,
		"status":         status,
		"total_ms":       durationToMillis(total),
		"tasks_returned": m.tasksReturned,
	}
	if m.storeDuration > 0 {
		fields["store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.hasTaskID {
		fields["task_id"] = m.taskID
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if m.user != "" {
		fields["user"] = m.user
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info(metricsMessage)
}

// metricsMiddleware attaches a requestMetrics to every request and logs it
// once the handler returns.
func metricsMiddleware(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			m, ctx := newRequestMetrics(c.Request().Context(), logger, c.Request().Method, c.Path())
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(ctxMetricsKey, m)
			defer func() {
				status := c.Response().Status
				if err != nil {
					if he, ok := err.(*echo.HTTPError); ok {
						status = he.Code
					}
				}
				m.Log(status, err)
			}()
			return next(c)
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(ctxMetricsKey).(*requestMetrics)
	return m
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
