package observability

import (
	"os"
	"strings"

	"github.com/smallbiznis/eventpay/internal/config"
)

// Config holds observability configuration derived from the app config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	TracingEnabled       bool
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "eventpay"
	}
	protocol := strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL")))
	if protocol == "" {
		protocol = "grpc"
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		OtelEnabled:          cfg.Metrics.Enabled,
		OtelExporterEndpoint: cfg.Metrics.ExporterEndpoint,
		OtelExporterProtocol: protocol,
		TracingEnabled:       cfg.Metrics.Enabled && !strings.EqualFold(os.Getenv("OTEL_TRACES_EXPORTER"), "none"),
	}
}
