package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "relay"

// Metrics holds all Relay metric instruments.
type Metrics struct {
	RunsStarted   metric.Int64Counter
	RunsSucceeded metric.Int64Counter
	RunsFailed    metric.Int64Counter
	StageDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("relay.runs.started",
		metric.WithDescription("Number of pipeline runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsSucceeded, err = meter.Int64Counter("relay.runs.succeeded",
		metric.WithDescription("Number of pipeline runs that finished succeeded"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("relay.runs.failed",
		metric.WithDescription("Number of pipeline runs that finished failed"))
	if err != nil {
		return nil, err
	}

	m.StageDuration, err = meter.Float64Histogram("relay.stage.duration_seconds",
		metric.WithDescription("Stage execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
