package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Setup installs a process-global SDK meter provider tagged with the
// service name; exporter/reader selection is left to the deployment (an
// OTel collector sidecar, or none). Returns the provider's shutdown func.
func Setup(serviceName string) func(context.Context) error {
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)))
	if err != nil {
		res = resource.Default()
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	return mp.Shutdown
}

// Meter returns a named meter from the installed (or default no-op)
// provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}
