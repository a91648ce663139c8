package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/gates"
	"github.com/fyrsmithlabs/loopd/internal/generator"
	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/recovery"
	"github.com/fyrsmithlabs/loopd/internal/registry"
	"github.com/fyrsmithlabs/loopd/internal/telemetry"
	"github.com/fyrsmithlabs/loopd/internal/trajectory"
)

const instrumentationName = "github.com/fyrsmithlabs/loopd/internal/orchestrator"

// Failure kinds used as metric labels.
const (
	kindTimeout   = "timeout"
	kindTransport = "transport"
	kindGate      = "gate"
)

// Options configures an Orchestrator.
type Options struct {
	ManifestPath string

	// MaxIterations caps the run. Zero means no cap.
	MaxIterations int

	Gates    []gates.Gate
	Generate generator.Options

	Reporter  Reporter
	Stop      Stopper
	Redactor  Redactor
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry

	// RunID tags logs and the snapshot. Generated when empty.
	RunID string
}

// Orchestrator runs the iteration loop. It owns the manifest state and the
// trajectory of the item in flight; Run must not be called concurrently.
type Orchestrator struct {
	opts         Options
	gen          generator.Generator
	gates        gates.Runner
	memory       Memory
	trajectories TrajectoryStore

	logger  *logging.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics

	state   registry.State
	skipped map[string]bool

	mu   sync.RWMutex
	snap Snapshot
}

// New creates an Orchestrator.
func New(gen generator.Generator, runner gates.Runner, mem Memory, store TrajectoryStore, opts Options) (*Orchestrator, error) {
	switch {
	case gen == nil:
		return nil, errors.New("generator is required")
	case runner == nil:
		return nil, errors.New("gate runner is required")
	case mem == nil:
		return nil, errors.New("memory is required")
	case store == nil:
		return nil, errors.New("trajectory store is required")
	case opts.ManifestPath == "":
		return nil, errors.New("manifest path is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	metrics, err := telemetry.NewMetrics(opts.Telemetry.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	o := &Orchestrator{
		opts:         opts,
		gen:          gen,
		gates:        runner,
		memory:       mem,
		trajectories: store,
		logger:       opts.Logger.Named("orchestrator"),
		tracer:       opts.Telemetry.Tracer(instrumentationName),
		metrics:      metrics,
		skipped:      make(map[string]bool),
	}
	o.snap = Snapshot{RunID: opts.RunID, Phase: PhaseIdle}
	return o, nil
}

// RunID returns the id of this orchestrator's run.
func (o *Orchestrator) RunID() string {
	return o.opts.RunID
}

// Run loops until no item is ready, the iteration cap is reached or a stop
// is requested. Failures of individual items are absorbed into their
// trajectories; a PersistenceError ends the run and is returned.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	ctx = logging.WithRunID(ctx, o.opts.RunID)
	ctx, span := o.tracer.Start(ctx, "loopd.run", trace.WithAttributes(attribute.String("run.id", o.opts.RunID)))
	defer span.End()

	summary := Summary{RunID: o.opts.RunID}

	state, err := registry.LoadFile(o.opts.ManifestPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "loading manifest failed")
		return summary, fmt.Errorf("loading manifest: %w", err)
	}
	o.state = o.resumeInterrupted(ctx, registry.Refresh(state))
	o.publish(func(s *Snapshot) {
		s.StartedAt = start.UTC()
		s.Phase = PhaseIdle
	})

	o.logger.Info(ctx, "run started",
		zap.String("manifest", o.opts.ManifestPath),
		zap.Int("pending", o.state.Counts.Pending),
		zap.Int("total", o.state.Counts.Total),
		zap.String("generator", o.gen.Name()),
		zap.Int("gates", len(o.opts.Gates)))

	for {
		o.setPhase(PhaseSelect)
		item, reason, ok := o.selectItem(ctx, summary.Iterations)
		if !ok {
			summary.Reason = reason
			break
		}
		summary.Iterations++

		report, err := o.iterate(ctx, summary.Iterations, item)
		switch {
		case report.Success:
			summary.Completed = append(summary.Completed, item.ID)
		case report.Abandoned:
			summary.Abandoned = append(summary.Abandoned, item.ID)
		}
		if err != nil {
			summary.Reason = haltReason(err)
			summary.Counts = o.state.Counts
			summary.Duration = time.Since(start)
			o.finish(summary.Reason)
			span.RecordError(err)
			span.SetStatus(codes.Error, string(summary.Reason))
			o.logger.Error(ctx, "run halted", zap.Error(err), zap.Int("iterations", summary.Iterations))
			return summary, err
		}
	}

	summary.Counts = o.state.Counts
	summary.Duration = time.Since(start)
	o.finish(summary.Reason)
	span.SetAttributes(attribute.Int("iterations", summary.Iterations), attribute.String("reason", string(summary.Reason)))

	o.logger.Info(ctx, "run finished",
		zap.String("reason", string(summary.Reason)),
		zap.Int("iterations", summary.Iterations),
		zap.Int("completed", len(summary.Completed)),
		zap.Int("abandoned", len(summary.Abandoned)),
		zap.Int("remaining", summary.Counts.Pending+summary.Counts.Blocked),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// haltReason names why an iteration error ended the run.
func haltReason(err error) DoneReason {
	if errors.Is(err, ErrPersistence) {
		return DonePersistence
	}
	return DoneError
}

// resumeInterrupted returns items a previous run left in progress to
// pending. Their trajectories are kept and continue on the next attempt.
func (o *Orchestrator) resumeInterrupted(ctx context.Context, state registry.State) registry.State {
	for _, it := range state.Items {
		if it.Status != registry.StatusInProgress {
			continue
		}
		next, err := registry.Abandon(state, it.ID)
		if err != nil {
			continue
		}
		state = next
		o.logger.Info(ctx, "resuming interrupted item", zap.String("item.id", it.ID))
	}
	return state
}

// selectItem checks the stop signal and the iteration cap, then picks the
// first ready item not given up in this run.
func (o *Orchestrator) selectItem(ctx context.Context, done int) (registry.Item, DoneReason, bool) {
	if o.opts.Stop != nil && o.opts.Stop.Stopped() {
		o.logger.Info(ctx, "stop requested", zap.String("reason", o.opts.Stop.Reason()))
		return registry.Item{}, DoneStopped, false
	}
	if ctx.Err() != nil {
		return registry.Item{}, DoneStopped, false
	}
	if o.opts.MaxIterations > 0 && done >= o.opts.MaxIterations {
		return registry.Item{}, DoneIterationCap, false
	}
	for _, it := range o.state.Items {
		if it.Status != registry.StatusPending || o.skipped[it.ID] {
			continue
		}
		if len(registry.Unresolved(o.state, it)) == 0 {
			return it, "", true
		}
	}
	return registry.Item{}, DoneNoReadyItems, false
}

// attemptResult is one execution of an item.
type attemptResult struct {
	attempt trajectory.Attempt
	output  string
	failed  []string
	err     error
}

// iterate runs one item through execute, succeed or fail, optional
// recovery and persist.
func (o *Orchestrator) iterate(ctx context.Context, n int, item registry.Item) (IterationReport, error) {
	start := time.Now()
	ctx = logging.WithIteration(logging.WithItemID(ctx, item.ID), n)
	ctx, span := o.tracer.Start(ctx, "loopd.iteration", trace.WithAttributes(
		attribute.String("item.id", item.ID),
		attribute.Int("iteration", n),
	))
	defer span.End()

	report := IterationReport{Iteration: n, ItemID: item.ID, Title: item.Title}

	state, err := registry.Start(o.state, item.ID)
	if err != nil {
		return report, fmt.Errorf("starting %s: %w", item.ID, err)
	}
	o.state = state
	o.publish(func(s *Snapshot) {
		s.Iteration = n
		s.CurrentItem = item.ID
	})
	o.logger.Info(ctx, "iteration started", zap.String("title", item.Title))

	traj := o.loadTrajectory(ctx, item)

	// A trajectory carried over from an earlier run may already be stuck.
	var frame *recovery.Frame
	if len(traj.Attempts) > 0 {
		if d := trajectory.ShouldTriggerRecovery(traj.FailedCount(), trajectory.Analyze(traj)); d.Trigger {
			f := o.reframe(ctx, item, traj, d)
			frame = &f
		}
	}

	res := o.execute(ctx, item, traj, frame)
	if ctx.Err() != nil {
		return o.abort(ctx, item, traj, report, start)
	}
	o.appendAttempt(ctx, traj, res.attempt)

	if !res.attempt.Success && frame == nil {
		o.setPhase(PhaseFail)
		symptoms := trajectory.Analyze(traj)
		decision := trajectory.ShouldTriggerRecovery(traj.FailedCount(), symptoms)
		o.logger.Info(ctx, "attempt failed",
			zap.String("reason", res.attempt.FailureReason),
			zap.Int("failed_attempts", traj.FailedCount()),
			zap.Int("stuck_confidence", symptoms.StuckConfidence),
			zap.Bool("recover", decision.Trigger))

		if decision.Trigger {
			f := o.reframe(ctx, item, traj, decision)
			frame = &f
			res = o.execute(ctx, item, traj, frame)
			if ctx.Err() != nil {
				return o.abort(ctx, item, traj, report, start)
			}
			o.appendAttempt(ctx, traj, res.attempt)
		}
	}
	report.Recovered = frame != nil

	var discard bool
	switch {
	case res.attempt.Success:
		if err := o.succeed(ctx, item, res, &report); err != nil {
			return report, err
		}
		discard = true
	case frame != nil:
		if err := o.giveUp(ctx, item, traj, &report); err != nil {
			return report, err
		}
		discard = true
	default:
		if err := o.retryLater(ctx, item); err != nil {
			return report, err
		}
	}

	report.Attempts = len(traj.Attempts)
	report.Cost = traj.Totals
	if !res.attempt.Success {
		report.FailureReason = res.attempt.FailureReason
		report.FailedGates = res.failed
		report.Err = res.err
		if res.err != nil {
			report.Error = res.err.Error()
		}
	}

	persistErr := o.persist(ctx, traj, discard)
	report.Duration = time.Since(start)
	o.metrics.Iteration(ctx, report.Success)
	o.emit(ctx, report)

	span.SetAttributes(
		attribute.Bool("success", report.Success),
		attribute.Bool("recovered", report.Recovered),
		attribute.Int("attempts", report.Attempts),
	)
	if persistErr != nil {
		span.RecordError(persistErr)
		span.SetStatus(codes.Error, "persist failed")
		return report, persistErr
	}
	if !report.Success {
		span.SetStatus(codes.Error, report.FailureReason)
	}
	return report, nil
}

// abort ends an iteration whose context was canceled during execute. The
// interrupted attempt is not recorded: the item goes back to pending and
// its trajectory is kept as it was before the attempt.
func (o *Orchestrator) abort(ctx context.Context, item registry.Item, traj *trajectory.Trajectory, report IterationReport, start time.Time) (IterationReport, error) {
	cause := ctx.Err()
	o.logger.Warn(ctx, "iteration aborted, item returned to pending", zap.Error(cause))

	// Persisting must not be cut short by the same cancellation.
	ctx = context.WithoutCancel(ctx)
	if err := o.retryLater(ctx, item); err != nil {
		return report, err
	}

	report.Aborted = true
	report.Attempts = len(traj.Attempts)
	report.Cost = traj.Totals
	report.FailureReason = "aborted"
	report.Err = cause
	report.Error = cause.Error()

	persistErr := o.persist(ctx, traj, len(traj.Attempts) == 0)
	report.Duration = time.Since(start)
	o.emit(ctx, report)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, "aborted")
	return report, persistErr
}

// loadTrajectory returns the stored trajectory for item, or a new one. A
// trajectory that cannot be read is replaced.
func (o *Orchestrator) loadTrajectory(ctx context.Context, item registry.Item) *trajectory.Trajectory {
	traj, ok, err := o.trajectories.Load(item.ID)
	switch {
	case err != nil:
		o.logger.Warn(ctx, "discarding unreadable trajectory", zap.Error(err))
	case ok && !traj.Resolved:
		o.logger.Debug(ctx, "continuing trajectory", zap.Int("attempts", len(traj.Attempts)))
		return traj
	}
	return trajectory.New(item.ID, item.Title)
}

func (o *Orchestrator) appendAttempt(ctx context.Context, traj *trajectory.Trajectory, a trajectory.Attempt) {
	if err := traj.Append(a); err != nil {
		o.logger.Error(ctx, "recording attempt failed", zap.Error(err))
	}
}

// execute makes one attempt at item: generate, then run the gates.
func (o *Orchestrator) execute(ctx context.Context, item registry.Item, traj *trajectory.Trajectory, frame *recovery.Frame) attemptResult {
	o.setPhase(PhaseExecute)
	ctx, span := o.tracer.Start(ctx, "loopd.execute", trace.WithAttributes(
		attribute.Bool("recovery", frame != nil),
		attribute.String("generator", o.gen.Name()),
	))
	defer span.End()

	prompt := buildPrompt(item, o.memory.Context(ctx, o.state, item), traj, frame)

	started := time.Now()
	output, usage, genErr := o.generate(ctx, prompt)
	elapsed := time.Since(started)
	o.metrics.Generate(ctx, o.gen.Name(), elapsed)

	res := attemptResult{output: output}
	a := trajectory.Attempt{
		Approach:  approachOf(output),
		Recovery:  frame != nil,
		StartedAt: started.UTC(),
		Cost: trajectory.Cost{
			Elapsed: elapsed,
			Tokens:  usage.Tokens(),
			CostUSD: usage.CostUSD,
		},
	}

	var kind string
	switch {
	case errors.Is(genErr, generator.ErrTimeout):
		kind = kindTimeout
		res.err = &TransportError{Backend: o.gen.Name(), Err: genErr}
		a.FailureReason = "timeout"
		a.Outcome = genErr.Error()
		o.logger.Warn(ctx, "generation timed out", zap.Duration("timeout", o.opts.Generate.Timeout))

	case genErr != nil:
		kind = kindTransport
		terr := &TransportError{Backend: o.gen.Name(), Err: genErr}
		res.err = terr
		a.FailureReason = terr.Error()
		a.Outcome = "generation failed"
		o.logger.Error(ctx, "generation failed", zap.Error(terr))

	default:
		gateReport := gates.RunAll(ctx, o.gates, o.opts.Gates)
		if gateReport.Passed() {
			a.Success = true
			a.Outcome = "all gates passed"
			break
		}
		kind = kindGate
		res.failed = gateReport.Failed()
		res.err = &GateFailure{Gates: res.failed}
		a.FailureReason = gateReason(gateReport)
		a.Outcome = gateReport.Summary(maxOutcomeLen / max(1, len(res.failed)))
		o.logger.Info(ctx, "gates failed", zap.Strings("gates", res.failed))
	}

	a.Approach = o.redact(a.Approach)
	a.FailureReason = o.redact(a.FailureReason)
	a.Outcome = o.redact(a.Outcome)
	res.attempt = a

	span.SetAttributes(attribute.Int("tokens", a.Cost.Tokens), attribute.Bool("success", a.Success))
	if !a.Success && ctx.Err() == nil {
		o.metrics.FailedAttempt(ctx, kind)
		span.SetStatus(codes.Error, a.FailureReason)
	}
	return res
}

func (o *Orchestrator) generate(ctx context.Context, prompt string) (string, generator.Usage, error) {
	stream, err := o.gen.Generate(ctx, prompt, o.opts.Generate)
	if err != nil {
		return "", generator.Usage{}, err
	}
	return generator.Collect(stream)
}

// gateReason is the one-line failure reason for a gate report.
func gateReason(r gates.Report) string {
	var parts []string
	for _, res := range r.Results {
		if !res.Passed {
			parts = append(parts, fmt.Sprintf("%s (%s)", res.Name, res.Reason))
		}
	}
	return "gates failed: " + strings.Join(parts, "; ")
}

// reframe builds a recovery frame for a stuck trajectory and records the
// decision.
func (o *Orchestrator) reframe(ctx context.Context, item registry.Item, traj *trajectory.Trajectory, decision trajectory.Decision) recovery.Frame {
	o.setPhase(PhaseRecover)
	symptoms := trajectory.Analyze(traj)
	o.logger.Warn(ctx, "stuck trajectory detected, reframing",
		zap.String("reason", decision.Reason),
		zap.Int("stuck_confidence", symptoms.StuckConfidence),
		zap.Strings("symptoms", symptoms.Symptoms()),
		zap.Int("failed_attempts", traj.FailedCount()))
	o.metrics.Recovery(ctx)

	frame := recovery.BuildFrame(traj)
	cmp := recovery.CompareCosts(traj)
	o.logger.Info(ctx, "recovery cost comparison",
		zap.String("recommendation", string(cmp.Recommendation)),
		zap.Float64("savings_tokens", cmp.Savings),
		zap.Float64("probability_gain", cmp.ProbabilityGain),
		zap.String("reason", cmp.Reason),
		zap.Int("constraints", len(frame.Constraints)))

	o.memory.AddDecision(fmt.Sprintf("%s: reframed %s after %d failed attempts; root cause: %s; cost comparison recommends %s (%s)",
		time.Now().UTC().Format(time.DateOnly), item.ID, traj.FailedCount(), frame.RootCause, cmp.Recommendation, cmp.Reason))

	trace.SpanFromContext(ctx).AddEvent("reframed", trace.WithAttributes(
		attribute.String("root_cause", frame.RootCause),
		attribute.String("recommendation", string(cmp.Recommendation)),
	))
	return frame
}

func (o *Orchestrator) succeed(ctx context.Context, item registry.Item, res attemptResult, report *IterationReport) error {
	o.setPhase(PhaseSucceed)
	state, err := registry.Complete(o.state, item.ID)
	if err != nil {
		return fmt.Errorf("completing %s: %w", item.ID, err)
	}
	o.state = state

	learnings := o.memory.RecordSuccess(ctx, item.ID, res.output)
	report.Success = true
	report.Learnings = len(learnings)
	o.logger.Info(ctx, "item complete",
		zap.Int("learnings", len(learnings)),
		zap.Bool("recovered", res.attempt.Recovery))
	return nil
}

// giveUp records what a failed recovery taught and abandons the item for
// the rest of the run.
func (o *Orchestrator) giveUp(ctx context.Context, item registry.Item, traj *trajectory.Trajectory, report *IterationReport) error {
	var constraints []string
	for _, c := range recovery.ExtractConstraints(traj) {
		constraints = append(constraints, c.Description)
	}
	rootCause := recovery.RootCause(traj)
	mistakes := []string{fmt.Sprintf("%s: %s", item.ID, rootCause)}
	o.memory.RecordFailure(ctx, item.ID, mistakes, constraints)

	state, err := registry.Abandon(o.state, item.ID)
	if err != nil {
		return fmt.Errorf("abandoning %s: %w", item.ID, err)
	}
	o.state = state
	o.skipped[item.ID] = true
	report.Abandoned = true
	report.RootCause = rootCause
	report.Constraints = constraints
	o.logger.Warn(ctx, "recovery failed, abandoning item for this run",
		zap.Int("attempts", len(traj.Attempts)),
		zap.Int("constraints", len(constraints)))
	return nil
}

// retryLater returns the item to pending; its trajectory is kept.
func (o *Orchestrator) retryLater(ctx context.Context, item registry.Item) error {
	state, err := registry.Abandon(o.state, item.ID)
	if err != nil {
		return fmt.Errorf("returning %s to pending: %w", item.ID, err)
	}
	o.state = state
	o.logger.Debug(ctx, "item returned to pending")
	return nil
}

// persist writes the manifest, the knowledge document and the trajectory.
// The trajectory file is removed when discard is set.
func (o *Orchestrator) persist(ctx context.Context, traj *trajectory.Trajectory, discard bool) error {
	o.setPhase(PhasePersist)

	var perr *PersistenceError
	if err := registry.SaveFile(o.opts.ManifestPath, o.state); err != nil {
		perr = &PersistenceError{What: "manifest", Err: err}
	} else if err := o.memory.Save(); err != nil {
		perr = &PersistenceError{What: "knowledge", Err: err}
	} else {
		var err error
		if discard {
			err = o.trajectories.Delete(traj.ItemID)
		} else {
			err = o.trajectories.Save(traj)
		}
		if err != nil {
			perr = &PersistenceError{What: "trajectory", Err: err}
		}
	}

	o.publish(func(s *Snapshot) {
		s.CurrentItem = ""
	})
	if perr != nil {
		o.logger.Error(ctx, "persisting state failed", zap.String("what", perr.What), zap.Error(perr.Err))
		return perr
	}
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, report IterationReport) {
	fields := []zap.Field{
		zap.Bool("success", report.Success),
		zap.Bool("recovered", report.Recovered),
		zap.Int("attempts", report.Attempts),
		zap.Int("tokens", report.Cost.Tokens),
		zap.Duration("duration", report.Duration),
	}
	if !report.Success {
		fields = append(fields, zap.String("failure_reason", report.FailureReason))
	}
	if len(report.FailedGates) > 0 {
		fields = append(fields, zap.Strings("failed_gates", report.FailedGates))
	}
	o.logger.Info(ctx, "iteration finished", fields...)

	o.publish(func(s *Snapshot) {
		r := report
		s.LastReport = &r
	})
	if o.opts.Reporter != nil {
		o.opts.Reporter(report)
	}
}

func (o *Orchestrator) redact(s string) string {
	if o.opts.Redactor == nil || s == "" {
		return s
	}
	return o.opts.Redactor.Redact(s)
}
