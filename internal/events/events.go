// Package events publishes loop progress to NATS.
//
// Every event is JSON on the subject <prefix>.<run_id>.<kind>, so a
// consumer can follow one run with loopd.<run_id>.> or all runs with
// loopd.*.iteration.finished. Publishing is best effort: the loop never
// waits on a subscriber and a failed publish is logged, not returned to it.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/config"
	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/orchestrator"
)

// Event kinds.
const (
	KindRunStarted        = "run.started"
	KindIterationFinished = "iteration.finished"
	KindRunFinished       = "run.finished"
)

// ErrClosed is returned when publishing after Close.
var ErrClosed = errors.New("event publisher closed")

// Event is the payload of every published message.
type Event struct {
	ID    string    `json:"id"`
	Kind  string    `json:"kind"`
	RunID string    `json:"run_id"`
	Time  time.Time `json:"time"`

	Report  *orchestrator.IterationReport `json:"report,omitempty"`
	Summary *orchestrator.Summary         `json:"summary,omitempty"`
}

// Publisher publishes the events of one run.
type Publisher struct {
	nc      *nats.Conn
	prefix  string
	runID   string
	timeout time.Duration
	owned   bool
	logger  *logging.Logger
}

// Connect dials the configured NATS server. The returned publisher owns the
// connection and closes it on Close.
func Connect(cfg config.EventsConfig, runID string, logger *logging.Logger) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("events.url is not set")
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("loopd "+runID),
		nats.Timeout(cfg.Timeout.Duration()),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.URL, err)
	}
	p := NewPublisher(nc, cfg.Subject, runID, logger)
	p.timeout = cfg.Timeout.Duration()
	p.owned = true
	return p, nil
}

// NewPublisher publishes on an existing connection, which stays open after
// Close.
func NewPublisher(nc *nats.Conn, prefix, runID string, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Publisher{
		nc:      nc,
		prefix:  prefix,
		runID:   runID,
		timeout: 5 * time.Second,
		logger:  logger.Named("events"),
	}
}

// Subject returns the subject events of kind are published on.
func (p *Publisher) Subject(kind string) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, p.runID, kind)
}

// RunStarted announces the run.
func (p *Publisher) RunStarted(ctx context.Context) error {
	return p.publish(ctx, Event{Kind: KindRunStarted})
}

// IterationFinished publishes one iteration report.
func (p *Publisher) IterationFinished(ctx context.Context, report orchestrator.IterationReport) error {
	return p.publish(ctx, Event{Kind: KindIterationFinished, Report: &report})
}

// RunFinished publishes the run summary.
func (p *Publisher) RunFinished(ctx context.Context, summary orchestrator.Summary) error {
	return p.publish(ctx, Event{Kind: KindRunFinished, Summary: &summary})
}

// Reporter adapts IterationFinished to an orchestrator.Reporter. Publish
// failures are logged.
func (p *Publisher) Reporter(ctx context.Context) orchestrator.Reporter {
	return func(report orchestrator.IterationReport) {
		if err := p.IterationFinished(ctx, report); err != nil {
			p.logger.Warn(ctx, "publishing iteration event failed",
				zap.String("item_id", report.ItemID),
				zap.Error(err))
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	if p.nc == nil || p.nc.IsClosed() {
		return ErrClosed
	}
	ev.ID = uuid.NewString()
	ev.RunID = p.runID
	ev.Time = time.Now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}

	subject := p.Subject(ev.Kind)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug(ctx, "event published", zap.String("subject", subject))
	return nil
}

// Close flushes pending messages and, when the publisher owns the
// connection, closes it.
func (p *Publisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	err := p.nc.FlushTimeout(p.timeout)
	if p.owned {
		p.nc.Close()
	}
	if err != nil {
		return fmt.Errorf("flushing events: %w", err)
	}
	return nil
}
