package api

import (
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
	tracerName        = "admin-approvals/api"
	metricsContextKey = "request.metrics"
	metricsLogMessage = "requests.request.metrics"
)

type requestMetrics struct {
	start      time.Time
	actorID    string
	errorStage string
	err        error
}

// RequestMetrics wraps every request in a server span and logs one
// structured entry when it completes.
func RequestMetrics(logger *log.Logger) echo.MiddlewareFunc {
	tracer := otel.Tracer(tracerName)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			ctx, span := tracer.Start(req.Context(), req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.route", route),
				))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			m := &requestMetrics{start: time.Now()}
			c.Set(metricsContextKey, m)

			err := next(c)
			status := c.Response().Status
			if err != nil {
				m.err = err
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			m.finish(logger, span, route, status)
			return err
		}
	}
}

func (m *requestMetrics) finish(logger *log.Logger, span trace.Span, route string, status int) {
	total := durationToMillis(time.Since(m.start))
	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Float64("approvals.request.total_ms", total),
	)
	if m.actorID != "" {
		span.SetAttributes(attribute.String("actor.id", m.actorID))
	}
	if m.errorStage != "" {
		span.SetAttributes(attribute.String("approvals.request.error_stage", m.errorStage))
	}
	if status >= http.StatusInternalServerError {
		msg := http.StatusText(status)
		if m.err != nil {
			span.RecordError(m.err)
			msg = m.err.Error()
		}
		span.SetStatus(codes.Error, msg)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	if logger == nil {
		return
	}
	fields := log.Fields{
		"route":    route,
		"status":   status,
		"total_ms": total,
	}
	if m.actorID != "" {
		fields["actor"] = m.actorID
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if m.err != nil {
		fields["error"] = m.err.Error()
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	entry := logger.WithFields(fields)
	switch {
	case status >= http.StatusInternalServerError:
		entry.Error(metricsLogMessage)
	case status >= http.StatusBadRequest:
		entry.Warn(metricsLogMessage)
	default:
		entry.Info(metricsLogMessage)
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsContextKey).(*requestMetrics)
	return m
}

func setErrorStage(c echo.Context, stage string) {
	if m := metricsFrom(c); m != nil && stage != "" {
		m.errorStage = stage
	}
}

func setRequestError(c echo.Context, err error) {
	if m := metricsFrom(c); m != nil && err != nil {
		m.err = err
	}
}

func setMetricsActor(c echo.Context, actorID string) {
	if m := metricsFrom(c); m != nil {
		m.actorID = actorID
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
