package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stewardhq/steward/internal/domain"
)

// Publisher is the event publish surface wrapped by InstrumentedPublisher.
// Satisfied by queue.Publisher.
type Publisher interface {
	Publish(ctx context.Context, tenantID uuid.UUID, topic string, payload any) (*domain.Event, error)
}

// Escalator is the incident escalation surface wrapped by
// InstrumentedEscalator. Satisfied by notification.Dispatcher.
type Escalator interface {
	Escalate(ctx context.Context, inc *domain.Incident) error
}

// --- InstrumentedPublisher ---

// InstrumentedPublisher wraps an event publisher with metrics, tracing, and
// anomaly detection.
type InstrumentedPublisher struct {
	inner   Publisher
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedPublisher wraps a publisher with observability.
func NewInstrumentedPublisher(inner Publisher, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedPublisher {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedPublisher{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (p *InstrumentedPublisher) Publish(ctx context.Context, tenantID uuid.UUID, topic string, payload any) (*domain.Event, error) {
	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "queue.publish",
			trace.WithAttributes(
				attribute.String("event.topic", topic),
				attribute.String("tenant.id", tenantID.String()),
			))
		defer span.End()
	}

	start := time.Now()
	ev, err := p.inner.Publish(ctx, tenantID, topic, payload)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if p.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if p.metrics != nil {
		p.metrics.PublishesTotal.WithLabelValues(topic, status).Inc()
		p.metrics.PublishDuration.WithLabelValues(topic).Observe(duration)
	}

	if p.anomaly != nil {
		if err != nil {
			p.anomaly.RecordError("publish:" + topic)
		} else {
			p.anomaly.RecordSuccess("publish:" + topic)
		}
	}

	return ev, err
}

// --- InstrumentedEscalator ---

// InstrumentedEscalator wraps an incident escalator with metrics and tracing.
type InstrumentedEscalator struct {
	inner   Escalator
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedEscalator wraps an escalator with observability.
func NewInstrumentedEscalator(inner Escalator, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedEscalator {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedEscalator{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (e *InstrumentedEscalator) Escalate(ctx context.Context, inc *domain.Incident) error {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "ethics.escalate",
			trace.WithAttributes(
				attribute.String("incident.severity", inc.Severity),
				attribute.String("incident.source", inc.Source),
			))
		defer span.End()
	}

	err := e.inner.Escalate(ctx, inc)

	status := "success"
	if err != nil {
		status = "error"
		if e.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if e.metrics != nil {
		e.metrics.EscalationsTotal.WithLabelValues(status).Inc()
	}

	return err
}
