package observability

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/teledigest/pkg/faults"
)

const (
	attrErrorType   = "error.type"
	attrErrorSource = "error.source"
)

// RecordSpanError marks span as failed, classifying err through the faults
// taxonomy. An empty source is omitted.
func RecordSpanError(span trace.Span, err error, source string) {
	if err == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String(attrErrorType, faults.Classify(err).String())}
	if source != "" {
		attrs = append(attrs, attribute.String(attrErrorSource, source))
	}

	span.RecordError(err)
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Error, err.Error())
}
