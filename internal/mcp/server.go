package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/memory"
	"github.com/fyrsmithlabs/loopd/internal/trajectory"
)

// TrajectoryReader reads stored trajectories. *trajectory.Store satisfies it.
type TrajectoryReader interface {
	Load(itemID string) (*trajectory.Trajectory, bool, error)
	List() ([]string, error)
}

// LessonSearcher finds indexed lessons. *memory.LessonIndex satisfies it.
type LessonSearcher interface {
	Query(ctx context.Context, text string, k int) ([]memory.Lesson, error)
}

// Config configures the server.
type Config struct {
	// Name is the implementation name (default "loopd").
	Name    string
	Version string

	// ManifestPath is the task manifest read on every call.
	ManifestPath string

	Logger *logging.Logger
	Meter  metric.Meter
}

// Server exposes loop state as MCP tools.
type Server struct {
	mcp          *mcp.Server
	manifestPath string
	trajectories TrajectoryReader
	lessons      LessonSearcher
	metrics      *Metrics
	logger       *logging.Logger
}

// NewServer creates a server and registers its tools. lessons may be nil,
// in which case search_lessons reports the index as disabled.
func NewServer(cfg Config, trajectories TrajectoryReader, lessons LessonSearcher) (*Server, error) {
	if cfg.ManifestPath == "" {
		return nil, errors.New("manifest path is required")
	}
	if trajectories == nil {
		return nil, errors.New("trajectory reader is required")
	}
	if cfg.Name == "" {
		cfg.Name = "loopd"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		manifestPath: cfg.ManifestPath,
		trajectories: trajectories,
		lessons:      lessons,
		metrics:      NewMetrics(cfg.Meter, cfg.Logger),
		logger:       cfg.Logger.Named("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Run serves on stdin and stdout until ctx is done or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves one session on transport.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	session, err := s.mcp.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting session: %w", err)
	}
	s.logger.Debug(ctx, "MCP session connected", zap.String("manifest", s.manifestPath))
	return session, nil
}
