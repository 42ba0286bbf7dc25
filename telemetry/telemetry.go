// Package telemetry records one span and one structured "observability.event"
// log entry per request or realtime command.
package telemetry

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
	tracerName = "prism-board"

	// EventMessage is the log message and span event name of every observation.
	EventMessage = "observability.event"

	StatusKey       = attribute.Key("prism.status_code")
	DurationKey     = attribute.Key("prism.total_ms")
	ErrorStageKey   = attribute.Key("prism.error_stage")
	ErrorMessageKey = attribute.Key("error.message")
)

// Operation measures a single unit of work.
type Operation struct {
	logger     *log.Logger
	span       trace.Span
	start      time.Time
	name       string
	domain     string
	attrs      []attribute.KeyValue
	errorStage string
}

// Start opens a span named spanName. The returned context carries the span.
func Start(ctx context.Context, logger *log.Logger, spanName, eventName, eventDomain string, attrs ...attribute.KeyValue) (*Operation, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	return &Operation{
		logger: logger,
		span:   span,
		start:  time.Now(),
		name:   eventName,
		domain: eventDomain,
		attrs:  append([]attribute.KeyValue(nil), attrs...),
	}, ctx
}

// Set adds attributes reported at End.
func (o *Operation) Set(attrs ...attribute.KeyValue) {
	if o == nil {
		return
	}
	o.attrs = append(o.attrs, attrs...)
}

// SetErrorStage names the step that failed.
func (o *Operation) SetErrorStage(stage string) {
	if o == nil || stage == "" {
		return
	}
	o.errorStage = stage
}

// End closes the span and emits the observability event. status follows
// HTTP semantics; realtime commands map their outcome onto it.
func (o *Operation) End(status int, err error) {
	if o == nil {
		return
	}
	severityText, severityNumber := SeverityForStatus(status, err)

	attrs := append([]attribute.KeyValue(nil), o.attrs...)
	attrs = append(attrs,
		StatusKey.Int(status),
		DurationKey.Float64(durationToMillis(time.Since(o.start))),
	)
	if o.errorStage != "" {
		attrs = append(attrs, ErrorStageKey.String(o.errorStage))
	}
	if err != nil {
		attrs = append(attrs, ErrorMessageKey.String(err.Error()))
	}

	o.span.SetAttributes(attrs...)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", o.name),
		attribute.String("event.domain", o.domain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)
	o.span.AddEvent(EventMessage, trace.WithAttributes(eventAttrs...))
	if severityText == "ERROR" {
		if err != nil {
			o.span.RecordError(err)
			o.span.SetStatus(codes.Error, err.Error())
		} else {
			o.span.SetStatus(codes.Error, http.StatusText(status))
		}
	} else {
		o.span.SetStatus(codes.Ok, "")
	}

	if o.logger != nil {
		sc := o.span.SpanContext()
		fields := log.Fields{
			"event.name":      o.name,
			"event.domain":    o.domain,
			"attributes":      attributesToMap(attrs),
			"severity_text":   severityText,
			"severity_number": severityNumber,
		}
		if sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
		if sc.HasSpanID() {
			fields["span_id"] = sc.SpanID().String()
		}
		o.logger.WithFields(fields).Log(levelFor(severityText), EventMessage)
	}
	o.span.End()
}

// SeverityForStatus maps an outcome to OpenTelemetry log severity.
func SeverityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	case err != nil:
		return "ERROR", 17
	default:
		return "INFO", 9
	}
}

func levelFor(severity string) log.Level {
	switch severity {
	case "ERROR":
		return log.ErrorLevel
	case "WARN":
		return log.WarnLevel
	}
	return log.InfoLevel
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
