package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instruments are the driver's RED metrics.
type instruments struct {
	actions  metric.Int64Counter
	retries  metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstruments(m metric.Meter) (instruments, error) {
	var in instruments
	var err error

	in.actions, err = m.Int64Counter("kmad.actions.total",
		metric.WithDescription("Commands run through the pipeline, by command and outcome"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return in, err
	}

	in.retries, err = m.Int64Counter("kmad.retries.total",
		metric.WithDescription("Capacity retries taken through the replacement proposer"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return in, err
	}

	in.failures, err = m.Int64Counter("kmad.failures.total",
		metric.WithDescription("Commands aborted by a fatal error"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return in, err
	}

	in.duration, err = m.Float64Histogram("kmad.action.duration",
		metric.WithDescription("Pipeline duration per command in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	)
	return in, err
}

func (in instruments) record(ctx context.Context, res Result, elapsed time.Duration) {
	cmd := attribute.String("kmad.command", commandOf(res))
	in.actions.Add(ctx, 1, metric.WithAttributes(cmd, attribute.String("kmad.outcome", string(res.Kind))))
	if res.Retries > 0 {
		in.retries.Add(ctx, int64(res.Retries), metric.WithAttributes(cmd))
	}
	in.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(cmd))
}

func (in instruments) fail(ctx context.Context) {
	in.failures.Add(ctx, 1)
}

// commandOf names the command behind a result for metric attributes.
func commandOf(res Result) string {
	if res.Command == "" {
		return "invalid"
	}
	return res.Command
}
