// Package gates runs the quality gates that decide whether a generated
// change is accepted.
//
// A gate is a shell command run in the project directory. It passes when it
// exits zero within its timeout; a gate that times out fails like any
// other. Every gate in a set runs, so a failed iteration reports all of the
// gates it broke.
package gates

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/config"
	"github.com/fyrsmithlabs/loopd/internal/logging"
)

const (
	// DefaultTimeout applies to gates configured without one.
	DefaultTimeout = 5 * time.Minute

	defaultMaxOutput = 16 * 1024
	waitDelay        = 2 * time.Second
)

// Gate is one quality check.
type Gate struct {
	Name    string
	Command string
	Timeout time.Duration
}

// Result is the outcome of running a gate.
type Result struct {
	Name     string
	Passed   bool
	Output   string
	TimedOut bool
	ExitCode int
	Duration time.Duration

	// Reason explains a failure in one line.
	Reason string
}

// Runner runs a single gate.
type Runner interface {
	Run(ctx context.Context, g Gate) Result
}

// FromConfig converts configured gates.
func FromConfig(cfgs []config.GateConfig) []Gate {
	gates := make([]Gate, 0, len(cfgs))
	for _, c := range cfgs {
		gates = append(gates, Gate{
			Name:    c.Name,
			Command: c.Command,
			Timeout: c.Timeout.Duration(),
		})
	}
	return gates
}

// ShellRunner runs gate commands with sh -c.
type ShellRunner struct {
	dir       string
	maxOutput int
	logger    *logging.Logger
}

// NewShellRunner returns a runner whose commands start in dir.
func NewShellRunner(dir string, logger *logging.Logger) *ShellRunner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ShellRunner{dir: dir, maxOutput: defaultMaxOutput, logger: logger}
}

// Run implements Runner. It never returns an error: anything that stops the
// command from passing is a failed Result.
func (r *ShellRunner) Run(ctx context.Context, g Gate) Result {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", g.Command)
	cmd.Dir = r.dir
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	out := newTailBuffer(r.maxOutput)
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Name:     g.Name,
		Output:   out.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.ExitCode = -1
		res.Reason = fmt.Sprintf("timed out after %s", timeout)
	case err == nil:
		res.Passed = true
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		res.Reason = fmt.Sprintf("exit status %d", res.ExitCode)
	default:
		res.ExitCode = -1
		res.Reason = err.Error()
	}

	if res.Passed && LooksLikeUsage(res.Output) {
		res.Passed = false
		res.Reason = "printed usage text instead of running checks"
	}

	r.logger.Debug(ctx, "gate finished",
		zap.String("gate", g.Name),
		zap.Bool("passed", res.Passed),
		zap.Bool("timed_out", res.TimedOut),
		zap.Duration("duration", res.Duration))
	return res
}

// Report is the outcome of a gate set.
type Report struct {
	Results []Result
}

// RunAll runs every gate in order with runner.
func RunAll(ctx context.Context, runner Runner, gates []Gate) Report {
	report := Report{Results: make([]Result, 0, len(gates))}
	for _, g := range gates {
		report.Results = append(report.Results, runner.Run(ctx, g))
	}
	return report
}

// Passed reports whether every gate passed. An empty set passes.
func (r Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Failed returns the names of failing gates in run order.
func (r Report) Failed() []string {
	var names []string
	for _, res := range r.Results {
		if !res.Passed {
			names = append(names, res.Name)
		}
	}
	return names
}

// Summary describes the failing gates, one per line, with the tail of each
// gate's output.
func (r Report) Summary(maxOutput int) string {
	var b strings.Builder
	for _, res := range r.Results {
		if res.Passed {
			continue
		}
		fmt.Fprintf(&b, "gate %s failed: %s\n", res.Name, res.Reason)
		if out := lastBytes(strings.TrimSpace(res.Output), maxOutput); out != "" {
			b.WriteString(out)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func lastBytes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

var testOutputPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(pass|fail|error).*\d+`),
	regexp.MustCompile(`(?i)test.*\([\d.]+s\)`),
	regexp.MustCompile(`✓|✗`),
	regexp.MustCompile(`(?i)ok\s+\S+\s+[\d.]+s`),
	regexp.MustCompile(`(?i)test suites?:\s*\d+`),
}

var usageMarkers = []string{
	"usage:",
	"--help",
	"-h, --help",
	"show help",
	"show this help",
	"options:",
}

// LooksLikeUsage reports whether output is a command's help text rather
// than the result of a check, as when a gate is misconfigured with flags
// the tool does not know.
func LooksLikeUsage(output string) bool {
	if output == "" {
		return false
	}
	for _, p := range testOutputPatterns {
		if p.MatchString(output) {
			return false
		}
	}

	lower := strings.ToLower(output)
	hits := 0
	for _, m := range usageMarkers {
		if strings.Contains(lower, m) {
			hits++
		}
	}
	return hits >= 2
}
