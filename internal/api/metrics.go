package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	moveRoute       = "/api/tasks/move"
	moveSpanName    = "api.tasks.move"
	moveMetricsName = "tasks.move.metrics"
)

// moveRequestMetrics times the phases of one move request and reports them as
// a single log line and a span.
type moveRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	authDuration time.Duration
	moveDuration time.Duration
	attempts     int
	idempotent   bool
	errorStage   string
}

func newMoveRequestMetrics(ctx context.Context, logger *log.Logger) (*moveRequestMetrics, context.Context) {
	ctx, span := otel.Tracer("agileflow/api").Start(ctx, moveSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", moveRoute)),
	)
	return &moveRequestMetrics{logger: logger, span: span, start: time.Now()}, ctx
}

func (m *moveRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *moveRequestMetrics) ObserveMove(d time.Duration, attempts int) {
	if d > 0 {
		m.moveDuration = d
	}
	m.attempts = attempts
}

func (m *moveRequestMetrics) SetIdempotent(v bool) { m.idempotent = v }

func (m *moveRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log emits the request summary and ends the span.
func (m *moveRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	severity, _ := severityForStatus(status, err)
	fields := log.Fields{
		"route":      moveRoute,
		"status":     status,
		"total_ms":   durationToMillis(time.Since(m.start)),
		"attempts":   m.attempts,
		"idempotent": m.idempotent,
	}
	attrs := []attribute.KeyValue{
		attribute.Int("http.status_code", status),
		attribute.Int("tasks.move.attempts", m.attempts),
		attribute.Bool("tasks.move.idempotent", m.idempotent),
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.moveDuration > 0 {
		fields["move_ms"] = durationToMillis(m.moveDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
		attrs = append(attrs, attribute.String("tasks.move.error_stage", m.errorStage))
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}

	m.span.SetAttributes(attrs...)
	if err != nil || status >= http.StatusInternalServerError {
		desc := http.StatusText(status)
		if err != nil {
			fields["error"] = err.Error()
			desc = err.Error()
			m.span.RecordError(err)
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	entry := m.logger.WithFields(fields)
	switch severity {
	case "ERROR":
		entry.Error(moveMetricsName)
	case "WARN":
		entry.Warn(moveMetricsName)
	default:
		entry.Info(moveMetricsName)
	}
}

// severityForStatus returns the OpenTelemetry severity text and number for a
// response.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError, status == 0 && err != nil:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
