package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/earshot"

// Span attribute keys shared by the pipeline.
const (
	KeyGuild  = attribute.Key("earshot.guild_id")
	KeyUser   = attribute.Key("earshot.user_id")
	KeyEngine = attribute.Key("earshot.engine")
	KeySound  = attribute.Key("earshot.sound")
)

// StartSpan starts a span on the global tracer. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartTranscription opens the span around one recognizer call.
func StartTranscription(ctx context.Context, guildID, userID, engine string) (context.Context, trace.Span) {
	return StartSpan(ctx, "recognition.transcribe", trace.WithAttributes(
		KeyGuild.String(guildID),
		KeyUser.String(userID),
		KeyEngine.String(engine),
	))
}

// StartPlayback opens the span around one queued sound.
func StartPlayback(ctx context.Context, guildID, sound string) (context.Context, trace.Span) {
	return StartSpan(ctx, "playback.play", trace.WithAttributes(
		KeyGuild.String(guildID),
		KeySound.String(sound),
	))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceID returns the trace ID of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, with trace_id and span_id attached when
// ctx carries a sampled span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
	)
}
