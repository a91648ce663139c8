package generator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/config"
	"github.com/fyrsmithlabs/loopd/internal/logging"
)

// Stream-json event types written by `claude --output-format stream-json`.
const (
	eventSystem    = "system"
	eventAssistant = "assistant"
	eventUser      = "user"
	eventResult    = "result"
)

const (
	maxEventLine = 16 * 1024 * 1024
	stderrTail   = 2048
	waitDelay    = 5 * time.Second
)

// ResultError is a result event with is_error set.
type ResultError struct {
	Subtype string
	Message string
}

func (e *ResultError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "no message"
	}
	if e.Subtype != "" {
		return fmt.Sprintf("claude reported %s: %s", e.Subtype, msg)
	}
	return "claude reported an error: " + msg
}

// ExitError is a non-zero exit of the claude process.
type ExitError struct {
	Err    error
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("claude exited: %v", e.Err)
	}
	return fmt.Sprintf("claude exited: %v: %s", e.Err, e.Stderr)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// streamEvent is one line of stream-json output. Fields not needed here are
// ignored.
type streamEvent struct {
	Type         string        `json:"type"`
	Subtype      string        `json:"subtype,omitempty"`
	SessionID    string        `json:"session_id,omitempty"`
	Model        string        `json:"model,omitempty"`
	Message      *eventMessage `json:"message,omitempty"`
	Result       string        `json:"result,omitempty"`
	IsError      bool          `json:"is_error,omitempty"`
	TotalCostUSD float64       `json:"total_cost_usd,omitempty"`
	CostUSD      float64       `json:"cost_usd,omitempty"`
	NumTurns     int           `json:"num_turns,omitempty"`
	Usage        *eventUsage   `json:"usage,omitempty"`
}

type eventMessage struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type eventUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

func parseEvent(line []byte) (streamEvent, error) {
	var ev streamEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return streamEvent{}, err
	}
	return ev, nil
}

// usage converts a result event into Usage. Cached input counts as input.
func (ev streamEvent) usage() Usage {
	u := Usage{CostUSD: ev.TotalCostUSD}
	if u.CostUSD == 0 {
		u.CostUSD = ev.CostUSD
	}
	if ev.Usage != nil {
		u.InputTokens = ev.Usage.InputTokens + ev.Usage.CacheCreationInputTokens + ev.Usage.CacheReadInputTokens
		u.OutputTokens = ev.Usage.OutputTokens
	}
	return u
}

// ClaudeCLI runs the claude binary in print mode for every generation, so
// each work item starts from a fresh context.
type ClaudeCLI struct {
	path   string
	dir    string
	logger *logging.Logger
}

// NewClaudeCLI returns a backend that runs the binary at path with dir as
// its working directory.
func NewClaudeCLI(path, dir string, logger *logging.Logger) *ClaudeCLI {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ClaudeCLI{path: path, dir: dir, logger: logger}
}

// Name implements Generator.
func (c *ClaudeCLI) Name() string {
	return config.BackendClaudeCLI
}

// Generate implements Generator. The prompt is written to the process's
// stdin so it never shows up in the process list.
func (c *ClaudeCLI) Generate(ctx context.Context, prompt string, opts Options) (*Stream, error) {
	if _, err := exec.LookPath(c.path); err != nil {
		return nil, fmt.Errorf("locating claude binary: %w", err)
	}
	return NewStream(ctx, opts.Timeout, func(ctx context.Context, emit EmitFunc) error {
		return c.run(ctx, prompt, opts, emit)
	}), nil
}

func (c *ClaudeCLI) args(opts Options) []string {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	return args
}

func (c *ClaudeCLI) run(ctx context.Context, prompt string, opts Options, emit EmitFunc) error {
	cmd := exec.CommandContext(ctx, c.path, c.args(opts)...)
	cmd.Dir = c.dir
	cmd.Stdin = strings.NewReader(prompt)
	cmd.WaitDelay = waitDelay

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("claude stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting claude: %w", err)
	}

	var (
		resultErr error
		streamed  bool
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

scan:
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := parseEvent(line)
		if err != nil {
			c.logger.Debug(ctx, "skipping non-json claude output", zap.Int("bytes", len(line)))
			continue
		}

		switch ev.Type {
		case eventSystem:
			c.logger.Trace(ctx, "claude session started",
				zap.String("session_id", ev.SessionID),
				zap.String("model", ev.Model))
		case eventAssistant:
			if ev.Message == nil {
				continue
			}
			for _, block := range ev.Message.Content {
				if block.Type != "text" || block.Text == "" {
					continue
				}
				streamed = true
				if !emit(Chunk{Text: block.Text}) {
					break scan
				}
			}
		case eventResult:
			if ev.IsError {
				resultErr = &ResultError{Subtype: ev.Subtype, Message: ev.Result}
				continue
			}
			u := ev.usage()
			chunk := Chunk{Usage: &u}
			if !streamed {
				chunk.Text = ev.Result
			}
			if !emit(chunk) {
				break scan
			}
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// stdout is no longer drained.
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if resultErr != nil {
		return resultErr
	}
	if scanErr != nil {
		return fmt.Errorf("reading claude output: %w", scanErr)
	}
	if waitErr != nil {
		return &ExitError{Err: waitErr, Stderr: tail(stderr.String(), stderrTail)}
	}
	return nil
}

// tail returns at most the last n bytes of s, trimmed.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
