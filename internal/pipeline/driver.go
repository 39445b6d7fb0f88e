// Package pipeline implements the Pipeline Driver: it runs one command
// through the fixed phase sequence, including the bounded capacity retry
// edge, and turns the arbiter's decision into a user-facing Result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/HendryAvila/kmad/internal/arbiter"
	"github.com/HendryAvila/kmad/internal/command"
	"github.com/HendryAvila/kmad/internal/departments"
	"github.com/HendryAvila/kmad/internal/schedule"
	"github.com/HendryAvila/kmad/internal/store"
)

// Driver executes commands against a store. It keeps no per-command state
// and may be shared; commits are serialized by the store.
type Driver struct {
	arbiter  *arbiter.Arbiter
	registry departments.Registry
	triggers map[command.Action][]arbiter.Proposer
	store    store.Store
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	metrics  instruments
}

// Option customizes a Driver.
type Option func(*Driver)

// WithLogger sets the driver's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTracer sets the tracer used for per-phase spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Driver) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithMeter sets the meter the driver records its metrics on.
func WithMeter(m metric.Meter) Option {
	return func(d *Driver) {
		if m != nil {
			d.meter = m
		}
	}
}

// New wires a driver. Every department named in triggers must be a
// registered proposer.
func New(arb *arbiter.Arbiter, reg departments.Registry, triggers map[command.Action][]string, st store.Store, opts ...Option) (*Driver, error) {
	if arb == nil || st == nil {
		return nil, errors.New("pipeline: arbiter and store are required")
	}
	d := &Driver{
		arbiter:  arb,
		registry: reg,
		triggers: make(map[command.Action][]arbiter.Proposer, len(triggers)),
		store:    st,
		logger:   slog.Default(),
		tracer:   tracenoop.NewTracerProvider().Tracer(""),
		meter:    metricnoop.NewMeterProvider().Meter(""),
	}
	for action, names := range triggers {
		for _, name := range names {
			p, ok := reg.Proposer(name)
			if !ok {
				return nil, fmt.Errorf("pipeline: trigger %s names unregistered proposer %s", action, name)
			}
			d.triggers[action] = append(d.triggers[action], p)
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	var err error
	if d.metrics, err = newInstruments(d.meter); err != nil {
		return nil, fmt.Errorf("pipeline: create instruments: %w", err)
	}
	return d, nil
}

// Run executes a typed command. Its fields are checked, then it goes
// through parse in text form so both entry points see the same checks.
func (d *Driver) Run(ctx context.Context, cmd command.Command) (Result, error) {
	line := cmd.String()
	return d.run(ctx, line, func() (command.Command, error) {
		if err := cmd.Check(); err != nil {
			return command.Command{}, err
		}
		return command.Parse(line)
	})
}

// Execute runs one line of input through the pipeline. Expected rejections
// (parse errors, validation failures, exhausted retries) come back as a
// Result of kind error. Role-boundary violations and commit failures are
// returned as errors.
func (d *Driver) Execute(ctx context.Context, line string) (Result, error) {
	return d.run(ctx, line, func() (command.Command, error) { return command.Parse(line) })
}

func (d *Driver) run(ctx context.Context, line string, parse func() (command.Command, error)) (Result, error) {
	ctx, span := d.tracer.Start(ctx, "kmad.execute", trace.WithAttributes(attribute.String("kmad.input", line)))
	defer span.End()

	started := timeNow()
	res, err := d.execute(ctx, parse)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("pipeline failed", "input", line, "error", err)
		d.metrics.fail(ctx)
		return Result{}, err
	}
	span.SetAttributes(attribute.String("kmad.result", string(res.Kind)))
	d.metrics.record(ctx, res, timeNow().Sub(started))
	return res, nil
}

func (d *Driver) execute(ctx context.Context, parse func() (command.Command, error)) (Result, error) {
	started := timeNow()
	t := &trail{}

	var cmd command.Command
	var parseErr *command.ParseError
	err := d.phase(ctx, t, PhaseParse, func(context.Context) error {
		var err error
		cmd, err = parse()
		return err
	})
	switch {
	case errors.As(err, &parseErr):
		return d.format(ctx, t, started, func() (Result, error) {
			return Result{Kind: ResultError, Message: parseErr.Msg}, nil
		})
	case err != nil:
		return Result{}, err
	}

	var proposers []arbiter.Proposer
	if err := d.phase(ctx, t, PhaseDetectTrigger, func(context.Context) error {
		if !cmd.ReadOnly() {
			proposers = d.triggers[cmd.Action]
		}
		return nil
	}); err != nil {
		return Result{}, err
	}

	if cmd.ReadOnly() {
		return d.format(ctx, t, started, func() (Result, error) {
			snap, err := d.store.Snapshot(ctx)
			if err != nil {
				return Result{}, fmt.Errorf("pipeline: read snapshot: %w", err)
			}
			return Result{Kind: ResultList, Command: string(cmd.Action), Message: listMessage(snap), Version: snap.Version()}, nil
		})
	}

	return d.arbitrate(ctx, t, started, cmd, proposers)
}

// arbitrate runs the claim phases for a mutating command. One snapshot is
// read when proposers are invoked and used through every validation pass;
// the store rejects the commit if it moved in the meantime.
func (d *Driver) arbitrate(ctx context.Context, t *trail, started time.Time, cmd command.Command, proposers []arbiter.Proposer) (Result, error) {
	act := arbiter.NewAction(cmd)
	logger := d.logger.With("action", act.ID(), "command", string(cmd.Action))

	var snap schedule.Snapshot
	if err := d.phase(ctx, t, PhaseInvokeProposers, func(ctx context.Context) error {
		var err error
		if snap, err = d.store.Snapshot(ctx); err != nil {
			return fmt.Errorf("pipeline: read snapshot: %w", err)
		}
		return d.arbiter.Collect(act, proposers, snap)
	}); err != nil {
		return Result{}, err
	}

	if len(act.Claims()) > 0 {
		for {
			if err := d.phase(ctx, t, PhaseInvokeValidators, func(context.Context) error {
				return d.arbiter.Validate(act, d.registry.Validators, snap)
			}); err != nil {
				return Result{}, err
			}

			var ev arbiter.Evaluation
			if err := d.phase(ctx, t, PhaseEvaluate, func(context.Context) error {
				var err error
				ev, err = d.arbiter.Evaluate(act)
				return err
			}); err != nil {
				return Result{}, err
			}
			if ev.Outcome != arbiter.OutcomeRetry {
				break
			}

			var replaced bool
			if err := d.phase(ctx, t, PhaseReplacementPropose, func(context.Context) error {
				var err error
				replaced, err = d.arbiter.Replace(act, d.registry.Replacement, ev.Failing, snap)
				return err
			}); err != nil {
				return Result{}, err
			}
			if !replaced {
				logger.Debug("no replacement available", "retries", act.Retries())
				break
			}
			logger.Debug("retrying with replacement", "retries", act.Retries())
		}
	}

	// A role violation is fatal here; the action is already done and the
	// trail ends at arbiter-decide.
	var decision arbiter.Decision
	if err := d.phase(ctx, t, PhaseArbiterDecide, func(context.Context) error {
		var err error
		decision, err = d.arbiter.Decide(act)
		return err
	}); err != nil {
		return Result{}, err
	}

	var commit arbiter.CommitResult
	if err := d.phase(ctx, t, PhaseCommitOrNoop, func(ctx context.Context) error {
		var err error
		commit, _, err = d.arbiter.Settle(ctx, act, d.store)
		return err
	}); err != nil {
		return Result{}, err
	}

	return d.format(ctx, t, started, func() (Result, error) {
		res := Result{
			Command:  string(cmd.Action),
			ActionID: act.ID(),
			Retries:  act.Retries(),
			Claims:   claimTrail(act.Claims()),
		}
		if !decision.Approved() {
			res.Kind = ResultError
			res.Message = decision.Reason
			res.Category = string(decision.Category)
			return res, nil
		}
		res.Kind, res.Message = approvedMessage(decision.Claims, snap)
		res.Version = commit.Version
		res.TaskIDs = commit.TaskIDs
		return res, nil
	})
}

// format runs the format-result phase and stamps the trail on the result.
func (d *Driver) format(ctx context.Context, t *trail, started time.Time, build func() (Result, error)) (Result, error) {
	var res Result
	if err := d.phase(ctx, t, PhaseFormatResult, func(context.Context) error {
		var err error
		res, err = build()
		return err
	}); err != nil {
		return Result{}, err
	}
	res.finish(t, started)
	return res, nil
}

// phase advances the trail and runs fn inside a span named after the phase.
func (d *Driver) phase(ctx context.Context, t *trail, p Phase, fn func(context.Context) error) error {
	if err := t.advance(p); err != nil {
		return err
	}
	ctx, span := d.tracer.Start(ctx, "kmad."+string(p))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
