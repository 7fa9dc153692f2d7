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
	tracerName       = "taskboard-api/api"
	boardRoute       = "/api/board"
	boardSpanName    = "board.fetch"
	boardEventName   = "board.fetch"
	boardEventDomain = "taskboard"
)

// boardRequestMetrics captures timings for one board fetch and emits them as
// a structured observability event plus an OTEL span on Log.
type boardRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	authDuration   time.Duration
	loadDuration   time.Duration
	encodeDuration time.Duration
	rangeDays      int
	tasksReturned  int
	errorStage     string
}

func newBoardRequestMetrics(ctx context.Context, logger *log.Logger) (*boardRequestMetrics, context.Context) {
	m := &boardRequestMetrics{logger: logger, start: time.Now()}
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, boardSpanName)
	m.span = span
	return m, spanCtx
}

func (m *boardRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *boardRequestMetrics) ObserveLoad(d time.Duration) {
	if d > 0 {
		m.loadDuration = d
	}
}

func (m *boardRequestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *boardRequestMetrics) SetRangeDays(n int) {
	if n < 0 {
		n = 0
	}
	m.rangeDays = n
}

func (m *boardRequestMetrics) SetTasksReturned(n int) {
	if n < 0 {
		n = 0
	}
	m.tasksReturned = n
}

func (m *boardRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log emits the observability event and closes the span. It must be called
// exactly once per request.
func (m *boardRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	severityText, severityNumber := severityForStatus(status, err)
	attrs := []attribute.KeyValue{
		attribute.String("http.route", boardRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64("board.total_ms", durationToMillis(time.Since(m.start))),
		attribute.Int("board.range_days", m.rangeDays),
		attribute.Int("board.tasks_returned", m.tasksReturned),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("board.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.loadDuration > 0 {
		attrs = append(attrs, attribute.Float64("board.load_ms", durationToMillis(m.loadDuration)))
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64("board.encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("board.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	attrMap := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attrMap[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      boardEventName,
		"event.domain":    boardEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrMap,
	}
	if m.span != nil {
		sc := m.span.SpanContext()
		if sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
		if sc.HasSpanID() {
			fields["span_id"] = sc.SpanID().String()
		}
	}
	m.logger.WithFields(fields).Info("observability.event")

	if m.span == nil {
		return
	}
	m.span.SetAttributes(attrs...)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", boardEventName),
		attribute.String("event.domain", boardEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)
	m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
	if err != nil {
		m.span.SetStatus(codes.Error, err.Error())
	} else if status >= http.StatusInternalServerError {
		m.span.SetStatus(codes.Error, http.StatusText(status))
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
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
