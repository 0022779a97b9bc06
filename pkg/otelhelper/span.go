package otelhelper

import (
	"github.com/dukex/coursepipe/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RecordFailure marks the span failed. The failure code of err, when it
// carries one, is added as an attribute.
func RecordFailure(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if code := protocol.ErrorCode(err); code != "" {
		attrs = append(attrs, attribute.String(ErrorCodeKey, code))
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attrs...)
}

// RecordCompletion annotates the span with the usage of an LLM completion.
func RecordCompletion(span trace.Span, completion *protocol.Completion) {
	span.SetAttributes(
		attribute.String(ProviderKey, completion.Provider),
		attribute.Int(InputTokensKey, completion.InputTokens),
		attribute.Int(OutputTokensKey, completion.OutputTokens),
		attribute.Int64(LatencyMsKey, completion.Latency.Milliseconds()),
	)
}
