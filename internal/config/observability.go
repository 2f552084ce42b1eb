package config

// ObservabilityConfig holds observability configuration. OTelEnabled
// defaults to false (env.Load leaves unset fields at their zero value);
// set HOOKWORKER_OTEL_ENABLED=true to export traces/metrics/logs via OTLP
// instead of the no-op/stdout fallbacks.
type ObservabilityConfig struct {
	OTelEnabled bool `env:"HOOKWORKER_OTEL_ENABLED"`
}
