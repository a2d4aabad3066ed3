package otel

import (
	"context"
	"fmt"
	"sync"

	eventbus "github.com/hanpama/subscribe/internal/eventbus"
	events "github.com/hanpama/subscribe/internal/events"
	reqid "github.com/hanpama/subscribe/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unregister := Register(otel.Tracer("subscribe"))

	return func(ctx context.Context) error {
		unregister()
		return tp.Shutdown(ctx)
	}, nil
}

// Register subscribes span-producing handlers to the global bus.
//
// Phases become "subscribe.phase" spans; every slot activation becomes a
// "subscribe.subscription" span that ends when the slot is disposed.
func Register(tracer trace.Tracer) (unregister func()) {
	s := &subscriber{tracer: tracer}
	return s.register()
}

type subscriber struct {
	tracer     trace.Tracer
	phaseSpans sync.Map // phase id -> trace.Span
	subSpans   sync.Map // slotKey -> trace.Span
}

type slotKey struct {
	owner  string
	slot   int
	manual bool
}

func (s *subscriber) register() func() {
	offs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.PhaseStart) {
			pid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "subscribe.phase")
			span.SetAttributes(
				attribute.String("subscribe.host", e.Host),
				attribute.String("subscribe.phase", string(e.Phase)),
			)
			s.phaseSpans.Store(pid, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.PhaseFinish) {
			pid, _ := reqid.FromContext(ctx)
			v, ok := s.phaseSpans.LoadAndDelete(pid)
			if !ok {
				return
			}
			span := v.(trace.Span)
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
			span.End()
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.SubscriptionStart) {
			parent := ctx
			if pid, ok := reqid.FromContext(ctx); ok {
				if v, ok := s.phaseSpans.Load(pid); ok {
					parent = trace.ContextWithSpan(ctx, v.(trace.Span))
				}
			}
			_, span := s.tracer.Start(parent, "subscribe.subscription")
			span.SetAttributes(
				attribute.String("subscribe.kind", e.Kind),
				attribute.Int("subscribe.slot", e.Slot),
				attribute.Bool("subscribe.manual", e.Manual),
			)
			s.subSpans.Store(slotKey{owner: e.Owner, slot: e.Slot, manual: e.Manual}, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.SubscriptionStop) {
			v, ok := s.subSpans.LoadAndDelete(slotKey{owner: e.Owner, slot: e.Slot, manual: e.Manual})
			if !ok {
				return
			}
			span := v.(trace.Span)
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, fmt.Sprintf("dispose: %v", e.Err))
			}
			span.End()
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}
