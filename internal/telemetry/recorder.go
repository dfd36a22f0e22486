package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Origanire/netfilm-backend/telemetry"

var (
	attrProvider = attribute.Key("netfilm.provider")
	attrOutcome  = attribute.Key("netfilm.outcome")
	attrAttempt  = attribute.Key("netfilm.attempt")
)

// Recorder publishes game and provider metrics and traces provider calls.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	tracer trace.Tracer

	gamesStarted    metric.Int64Counter
	gamesEnded      metric.Int64Counter
	providerCalls   metric.Int64Counter
	providerLatency metric.Float64Histogram
	gameQuestions   metric.Int64Histogram
}

// NewRecorder creates the instruments on the given providers
func NewRecorder(tp trace.TracerProvider, mp metric.MeterProvider) (*Recorder, error) {
	meter := mp.Meter(instrumentationName)

	r := &Recorder{tracer: tp.Tracer(instrumentationName)}

	var err error
	if r.gamesStarted, err = meter.Int64Counter("netfilm.games.started",
		metric.WithDescription("Games that received their first question")); err != nil {
		return nil, err
	}
	if r.gamesEnded, err = meter.Int64Counter("netfilm.games.ended",
		metric.WithDescription("Games that reached a terminal state")); err != nil {
		return nil, err
	}
	if r.providerCalls, err = meter.Int64Counter("netfilm.provider.calls",
		metric.WithDescription("Outbound provider calls by outcome")); err != nil {
		return nil, err
	}
	if r.providerLatency, err = meter.Float64Histogram("netfilm.provider.latency.ms",
		metric.WithDescription("Provider call latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if r.gameQuestions, err = meter.Int64Histogram("netfilm.game.questions",
		metric.WithDescription("Questions asked per finished game")); err != nil {
		return nil, err
	}

	return r, nil
}

// GameStarted counts a new game
func (r *Recorder) GameStarted(ctx context.Context, provider string) {
	if r == nil {
		return
	}
	r.gamesStarted.Add(ctx, 1, metric.WithAttributes(attrProvider.String(provider)))
}

// GameEnded counts a terminal transition and records the game length
func (r *Recorder) GameEnded(ctx context.Context, provider, outcome string, questions int) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attrProvider.String(provider), attrOutcome.String(outcome))
	r.gamesEnded.Add(ctx, 1, attrs)
	r.gameQuestions.Record(ctx, int64(questions), attrs)
}

// StartProviderCall opens a provider.ask span. The returned function ends it
// and records the call latency under outcome ("ok" or an error kind).
func (r *Recorder) StartProviderCall(ctx context.Context, provider string, attempt int) (context.Context, func(outcome string, err error)) {
	if r == nil {
		return ctx, func(string, error) {}
	}

	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "provider.ask",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrProvider.String(provider), attrAttempt.Int(attempt)))

	return ctx, func(outcome string, err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attrOutcome.String(outcome))
		span.End()

		attrs := metric.WithAttributes(attrProvider.String(provider), attrOutcome.String(outcome))
		r.providerCalls.Add(ctx, 1, attrs)
		r.providerLatency.Record(ctx, float64(time.Since(start).Microseconds())/1000, metric.WithAttributes(attrProvider.String(provider)))
	}
}
