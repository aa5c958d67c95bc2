package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	admissions      metric.Int64Counter
	restrictions    metric.Int64Counter
	sessions        metric.Int64Counter
	transitions     metric.Int64Counter
	cancellations   metric.Int64Counter
	notifications   metric.Int64Counter
	rateLimitDenied metric.Int64Counter
	duplicates      metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "eventpay"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	if m.admissions, err = meter.Int64Counter("eventpay_attendance_admissions_total"); err != nil {
		return nil, err
	}
	if m.restrictions, err = meter.Int64Counter("eventpay_event_edit_rejections_total"); err != nil {
		return nil, err
	}
	if m.sessions, err = meter.Int64Counter("eventpay_payment_sessions_total"); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("eventpay_payment_transitions_total"); err != nil {
		return nil, err
	}
	if m.cancellations, err = meter.Int64Counter("eventpay_event_cancellations_total"); err != nil {
		return nil, err
	}
	if m.notifications, err = meter.Int64Counter("eventpay_notifications_total"); err != nil {
		return nil, err
	}
	if m.rateLimitDenied, err = meter.Int64Counter("eventpay_rate_limit_denied_total"); err != nil {
		return nil, err
	}
	if m.duplicates, err = meter.Int64Counter("eventpay_payment_duplicate_collections_total"); err != nil {
		return nil, err
	}
	return &m, nil
}

// Admission counts capacity guard outcomes.
func (m *Metrics) Admission(ctx context.Context, outcome string, bypass bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
		attribute.Bool("bypass", bypass),
	)
	m.admissions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RestrictionRejected counts blocking violations of event edits.
func (m *Metrics) RestrictionRejected(ctx context.Context, level, field string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("level", strings.TrimSpace(level)),
		attribute.String("field", strings.TrimSpace(field)),
	)
	m.restrictions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// PaymentSession counts online payment session attempts by outcome.
func (m *Metrics) PaymentSession(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.sessions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// PaymentTransition counts applied payment status transitions.
func (m *Metrics) PaymentTransition(ctx context.Context, from, to, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from", strings.TrimSpace(from)),
		attribute.String("to", strings.TrimSpace(to)),
		attribute.String("source", strings.TrimSpace(source)),
	)
	m.transitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Cancellation counts cancel attempts by outcome.
func (m *Metrics) Cancellation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.cancellations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Notification counts publish attempts by topic and outcome.
func (m *Metrics) Notification(ctx context.Context, topic, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("topic", strings.TrimSpace(topic)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.notifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RateLimitDenied counts denied rate limit decisions.
func (m *Metrics) RateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// DuplicateCollection counts payments collected on a replaced checkout
// session after the attendance fee was already settled.
func (m *Metrics) DuplicateCollection(ctx context.Context) {
	if m == nil {
		return
	}
	m.duplicates.Add(ctx, 1)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"outcome":     {},
	"bypass":      {},
	"level":       {},
	"field":       {},
	"from":        {},
	"to":          {},
	"source":      {},
	"topic":       {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
