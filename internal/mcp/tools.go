package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/recovery"
	"github.com/fyrsmithlabs/loopd/internal/registry"
	"github.com/fyrsmithlabs/loopd/internal/trajectory"
)

const (
	defaultLessonLimit = 5
	maxLessonLimit     = 20
)

var (
	errInvalidArgument = errors.New("invalid argument")
	errNoTrajectory    = errors.New("no trajectory stored")
	errIndexDisabled   = errors.New("lesson index is disabled")
)

// itemOutput is a work item as tools return it.
type itemOutput struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Status             string   `json:"status"`
	Section            string   `json:"section,omitempty"`
	Priority           string   `json:"priority,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	DependsOn          []string `json:"depends_on,omitempty"`
	Unresolved         []string `json:"unresolved,omitempty"`
}

func toItemOutput(state registry.State, it registry.Item) itemOutput {
	return itemOutput{
		ID:                 it.ID,
		Title:              it.Title,
		Status:             string(it.Status),
		Section:            it.Section,
		Priority:           string(it.Priority),
		AcceptanceCriteria: it.AcceptanceCriteria,
		DependsOn:          it.DependsOn,
		Unresolved:         registry.Unresolved(state, it),
	}
}

type loopStatusInput struct{}

type loopStatusOutput struct {
	Pending      int         `json:"pending"`
	InProgress   int         `json:"in_progress"`
	Complete     int         `json:"complete"`
	Blocked      int         `json:"blocked"`
	Total        int         `json:"total"`
	Next         *itemOutput `json:"next,omitempty"`
	Trajectories []string    `json:"trajectories"`
}

type getItemInput struct {
	ID string `json:"id" jsonschema:"Work item id"`
}

type trajectoryInput struct {
	ItemID string `json:"item_id" jsonschema:"Work item id whose trajectory to read"`
}

type frameOutput struct {
	ItemID      string   `json:"item_id"`
	RootCause   string   `json:"root_cause"`
	Constraints []string `json:"constraints"`
	Prompt      string   `json:"prompt"`
}

type searchLessonsInput struct {
	Query string `json:"query" jsonschema:"Text to search for, usually a work item title"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum results, 1 to 20 (default 5)"`
}

type lessonOutput struct {
	ItemID     string  `json:"item_id"`
	Kind       string  `json:"kind"`
	Text       string  `json:"text"`
	Similarity float32 `json:"similarity"`
}

type searchLessonsOutput struct {
	Lessons []lessonOutput `json:"lessons"`
}

// registerTools registers every tool with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "loop_status",
		Description: "Item counts, the next ready item and the items with a stored trajectory",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ loopStatusInput) (*mcp.CallToolResult, loopStatusOutput, error) {
		done := s.metrics.track(ctx, "loop_status")
		out, err := s.loopStatus()
		done(err)
		return nil, out, s.logged(ctx, "loop_status", err)
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_item",
		Description: "Look up one work item with its acceptance criteria and unresolved dependencies",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args getItemInput) (*mcp.CallToolResult, itemOutput, error) {
		done := s.metrics.track(ctx, "get_item")
		out, err := s.getItem(args.ID)
		done(err)
		return nil, out, s.logged(ctx, "get_item", err)
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "analyze_trajectory",
		Description: "Stuck symptoms, the recovery decision, the likely root cause and the cost of continuing against restarting for an item",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args trajectoryInput) (*mcp.CallToolResult, recovery.Assessment, error) {
		done := s.metrics.track(ctx, "analyze_trajectory")
		var out recovery.Assessment
		traj, err := s.loadTrajectory(args.ItemID)
		if err == nil {
			out = recovery.Assess(traj)
		}
		done(err)
		return nil, out, s.logged(ctx, "analyze_trajectory", err)
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "recovery_frame",
		Description: "The reframed task for an item: root cause, constraints learned from failures and the prompt a fresh attempt starts from",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args trajectoryInput) (*mcp.CallToolResult, frameOutput, error) {
		done := s.metrics.track(ctx, "recovery_frame")
		var out frameOutput
		traj, err := s.loadTrajectory(args.ItemID)
		if err == nil {
			out = toFrameOutput(traj)
		}
		done(err)
		return nil, out, s.logged(ctx, "recovery_frame", err)
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_lessons",
		Description: "Search learnings, constraints and mistakes recorded by earlier iterations",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args searchLessonsInput) (*mcp.CallToolResult, searchLessonsOutput, error) {
		done := s.metrics.track(ctx, "search_lessons")
		out, err := s.searchLessons(ctx, args)
		done(err)
		return nil, out, s.logged(ctx, "search_lessons", err)
	})
}

func (s *Server) logged(ctx context.Context, tool string, err error) error {
	if err != nil {
		s.logger.Debug(ctx, "tool call failed", zap.String("tool", tool), zap.Error(err))
	}
	return err
}

func (s *Server) loadState() (registry.State, error) {
	state, err := registry.LoadFile(s.manifestPath)
	if err != nil {
		return registry.State{}, err
	}
	return registry.Refresh(state), nil
}

func (s *Server) loopStatus() (loopStatusOutput, error) {
	state, err := s.loadState()
	if err != nil {
		return loopStatusOutput{}, err
	}
	ids, err := s.trajectories.List()
	if err != nil {
		return loopStatusOutput{}, fmt.Errorf("listing trajectories: %w", err)
	}

	c := state.Counts
	out := loopStatusOutput{
		Pending:      c.Pending,
		InProgress:   c.InProgress,
		Complete:     c.Complete,
		Blocked:      c.Blocked,
		Total:        c.Total,
		Trajectories: ids,
	}
	if out.Trajectories == nil {
		out.Trajectories = []string{}
	}
	if next, ok := registry.NextReady(state); ok {
		item := toItemOutput(state, next)
		out.Next = &item
	}
	return out, nil
}

func (s *Server) getItem(id string) (itemOutput, error) {
	if err := registry.ValidateID(id); err != nil {
		return itemOutput{}, err
	}
	state, err := s.loadState()
	if err != nil {
		return itemOutput{}, err
	}
	it, err := registry.Find(state, id)
	if err != nil {
		return itemOutput{}, err
	}
	return toItemOutput(state, it), nil
}

func (s *Server) loadTrajectory(id string) (*trajectory.Trajectory, error) {
	if err := registry.ValidateID(id); err != nil {
		return nil, err
	}
	traj, ok, err := s.trajectories.Load(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w for %q", errNoTrajectory, id)
	}
	return traj, nil
}

func toFrameOutput(traj *trajectory.Trajectory) frameOutput {
	frame := recovery.BuildFrame(traj)
	constraints := make([]string, len(frame.Constraints))
	for i, c := range frame.Constraints {
		constraints[i] = c.Description
	}
	return frameOutput{
		ItemID:      traj.ItemID,
		RootCause:   frame.RootCause,
		Constraints: constraints,
		Prompt:      recovery.FormatPrompt(frame),
	}
}

func (s *Server) searchLessons(ctx context.Context, args searchLessonsInput) (searchLessonsOutput, error) {
	if s.lessons == nil {
		return searchLessonsOutput{}, errIndexDisabled
	}
	limit := args.Limit
	switch {
	case limit == 0:
		limit = defaultLessonLimit
	case limit < 0 || limit > maxLessonLimit:
		return searchLessonsOutput{}, fmt.Errorf("%w: limit must be between 1 and %d, got %d", errInvalidArgument, maxLessonLimit, limit)
	}

	lessons, err := s.lessons.Query(ctx, strings.TrimSpace(args.Query), limit)
	if err != nil {
		return searchLessonsOutput{}, err
	}
	out := searchLessonsOutput{Lessons: make([]lessonOutput, len(lessons))}
	for i, l := range lessons {
		out.Lessons[i] = lessonOutput{
			ItemID:     l.ItemID,
			Kind:       l.Kind,
			Text:       l.Text,
			Similarity: l.Similarity,
		}
	}
	return out, nil
}
