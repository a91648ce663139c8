package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/logging"
)

// StopFile is the name of the file in the state directory that asks a
// running loop to stop after the current iteration.
const StopFile = "STOP"

// Stopper is polled by the loop when it selects the next item.
type Stopper interface {
	Stopped() bool
	Reason() string
}

// StopSignal turns OS signals and the STOP file into a stop request. The
// first signal requests a stop; a second one calls the force function set
// with OnForce.
type StopSignal struct {
	path   string
	logger *logging.Logger

	mu      sync.Mutex
	reason  string
	signals int
	force   func()

	watcher *fsnotify.Watcher
	sigs    chan os.Signal
	done    chan struct{}
	once    sync.Once
}

// NewStopSignal watches for stateDir/STOP.
func NewStopSignal(stateDir string, logger *logging.Logger) *StopSignal {
	if logger == nil {
		logger = logging.Nop()
	}
	return &StopSignal{
		path:   filepath.Join(stateDir, StopFile),
		logger: logger,
		sigs:   make(chan os.Signal, 2),
		done:   make(chan struct{}),
	}
}

// Path returns the STOP file path.
func (s *StopSignal) Path() string {
	return s.path
}

// OnForce sets the function called on a second OS signal.
func (s *StopSignal) OnForce(f func()) {
	s.mu.Lock()
	s.force = f
	s.mu.Unlock()
}

// Start begins watching the state directory and the given signals until
// ctx is done or Close is called. A STOP file that already exists counts.
func (s *StopSignal) Start(ctx context.Context, signals ...os.Signal) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating stop file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	s.watcher = watcher

	if len(signals) > 0 {
		signal.Notify(s.sigs, signals...)
	}
	s.checkFile(ctx)

	go s.loop(ctx)
	return nil
}

func (s *StopSignal) loop(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case sig := <-s.sigs:
			s.handleSignal(ctx, sig)
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name == s.path && event.Op.Has(fsnotify.Create) {
				s.Request(fmt.Sprintf("%s file created", StopFile))
				s.logger.Info(ctx, "stop file found, stopping after the current iteration", zap.String("path", s.path))
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn(ctx, "stop file watcher error", zap.Error(err))
		}
	}
}

func (s *StopSignal) handleSignal(ctx context.Context, sig os.Signal) {
	s.mu.Lock()
	s.signals++
	n := s.signals
	force := s.force
	s.mu.Unlock()

	if n == 1 {
		s.Request("received " + sig.String())
		s.logger.Info(ctx, "stopping after the current iteration; signal again to abort it",
			zap.String("signal", sig.String()))
		return
	}
	s.logger.Warn(ctx, "aborting the current iteration", zap.String("signal", sig.String()))
	if force != nil {
		force()
	}
}

// checkFile requests a stop if the STOP file exists.
func (s *StopSignal) checkFile(ctx context.Context) {
	if _, err := os.Stat(s.path); err == nil {
		s.Request(fmt.Sprintf("%s file present", StopFile))
		s.logger.Info(ctx, "stop file present", zap.String("path", s.path))
	}
}

// Request asks the loop to stop. The first reason is kept.
func (s *StopSignal) Request(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason == "" {
		s.reason = reason
	}
}

// Stopped implements Stopper. The STOP file is checked directly as well,
// for filesystems that do not deliver events.
func (s *StopSignal) Stopped() bool {
	if s.Reason() != "" {
		return true
	}
	s.checkFile(context.Background())
	return s.Reason() != ""
}

// Reason implements Stopper.
func (s *StopSignal) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Clear removes a STOP file left from an earlier run.
func (s *StopSignal) Clear() (bool, error) {
	err := os.Remove(s.path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("removing %s: %w", s.path, err)
	}
}

// Close stops watching.
func (s *StopSignal) Close() error {
	var err error
	s.once.Do(func() {
		signal.Stop(s.sigs)
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}
