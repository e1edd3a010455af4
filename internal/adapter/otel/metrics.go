package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "edustream"

// Metrics holds the chat metric instruments.
type Metrics struct {
	TurnsStarted   metric.Int64Counter
	TurnsCompleted metric.Int64Counter
	TurnsFailed    metric.Int64Counter
	ChunksStreamed metric.Int64Counter
	TurnDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TurnsStarted, err = meter.Int64Counter("edustream.turns.started",
		metric.WithDescription("Number of chat turns started"))
	if err != nil {
		return nil, err
	}

	m.TurnsCompleted, err = meter.Int64Counter("edustream.turns.completed",
		metric.WithDescription("Number of chat turns completed"))
	if err != nil {
		return nil, err
	}

	m.TurnsFailed, err = meter.Int64Counter("edustream.turns.failed",
		metric.WithDescription("Number of chat turns failed"))
	if err != nil {
		return nil, err
	}

	m.ChunksStreamed, err = meter.Int64Counter("edustream.chunks.streamed",
		metric.WithDescription("Number of reply fragments streamed to clients"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("edustream.turn.duration_seconds",
		metric.WithDescription("Chat turn duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
