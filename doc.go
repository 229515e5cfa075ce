// Package hoptrace propagates trace context across a message broker and
// records the spans on both sides of every hop.
//
// # Overview
//
// A producer starts a span, injects its [SpanContext] into the outgoing
// message's metadata, and publishes. The consumer extracts the context from
// the received metadata, starts a child span, and processes the message.
// Both spans share a trace ID and the consumer's parent is the producer's
// span, so a backend stitches the hop into a single trace.
//
// The package provides:
//   - [SpanContext] and [Baggage], immutable values carried through context.Context
//   - [Propagator], which reads and writes the W3C traceparent and baggage headers
//   - [Tracer] and [Span], the span lifecycle with live-span truncation on shutdown
//   - [Processor] and [Exporter], with a non-blocking [BatchProcessor]
//   - [Diagnostics], the sink every recovered tracing failure is reported to
//
// Tracing never fails business code. A malformed carrier yields a fresh root
// context, a full export queue drops spans, and an exporter error is logged.
// All of these are reported through [Diagnostics].
//
// # Quick Start
//
//	cfg, err := hoptrace.LoadConfig("hoptrace.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tracer, err := hoptrace.NewTracerFromConfig(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tracer.Shutdown(ctx)
//
//	prop := hoptrace.NewPropagatorFromConfig(cfg.Propagation)
//
//	// producer
//	ctx, span := tracer.StartProducer(ctx, "send orders")
//	prop.Inject(span.Context(), hoptrace.MapCarrier(msg.Metadata))
//	span.End()
//
//	// consumer
//	parent := prop.Extract(hoptrace.MapCarrier(msg.Metadata))
//	span := tracer.StartSpan(parent, "process orders")
//	defer span.End()
//
// The messaging sub-package wraps this exchange into a Producer and a
// Consumer over any broker that implements its Sender and Receiver.
//
// # Configuration
//
// Configure via YAML or environment variables (OTel standard):
//
//	enabled: true
//	serviceName: "orders"  # OTEL_SERVICE_NAME
//	traces:
//	  exporter: "otlp"  # OTEL_TRACES_EXPORTER
//	  sampling:
//	    sampler: "parentbased_traceidratio"  # OTEL_TRACES_SAMPLER
//	    samplerArg: 0.1  # OTEL_TRACES_SAMPLER_ARG
//	  batch:
//	    queueSize: 2048  # OTEL_BSP_MAX_QUEUE_SIZE
//	propagation:
//	  propagators: "tracecontext,baggage"  # OTEL_PROPAGATORS
//
// # Baggage
//
// Baggage rides alongside the trace context and reaches every downstream hop:
//
//	ctx = hoptrace.MustSetBaggage(ctx, "tenant.id", tenantID)
//	// ... later, on the consumer side
//	tenantID := hoptrace.GetBaggage(ctx, "tenant.id")
package hoptrace
