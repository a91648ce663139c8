// Package escalate files GitHub issues for work items the loop abandoned.
//
// Each item gets at most one open issue, found again through a marker in its
// body. A later abandonment of the same item comments on that issue instead
// of opening another.
package escalate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/loopd/internal/config"
	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/orchestrator"
)

const listPageSize = 100

// Result says what Escalate did.
type Result struct {
	Number    int    `json:"number"`
	URL       string `json:"url"`
	Commented bool   `json:"commented"`
}

// Escalator opens or updates issues in one repository.
type Escalator struct {
	client  *github.Client
	owner   string
	repo    string
	labels  []string
	runID   string
	timeout time.Duration
	retry   RetryConfig
	logger  *logging.Logger
}

// Option configures an Escalator.
type Option func(*Escalator)

// WithRetry replaces the default retry configuration.
func WithRetry(cfg RetryConfig) Option {
	return func(e *Escalator) { e.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Escalator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New builds an escalator authenticated with the configured token. BaseURL,
// when set, points the client at a GitHub Enterprise API.
func New(ctx context.Context, cfg config.EscalationConfig, runID string, opts ...Option) (*Escalator, error) {
	if !cfg.Enabled() {
		return nil, errors.New("escalation.repo is not set")
	}
	if !cfg.Token.IsSet() {
		return nil, errors.New("GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid escalation.base_url: %w", err)
		}
		client.BaseURL = u
	}

	e := &Escalator{
		client:  client,
		owner:   cfg.Owner(),
		repo:    cfg.Name(),
		labels:  cfg.Labels,
		runID:   runID,
		timeout: cfg.Timeout.Duration(),
		retry:   DefaultRetryConfig(),
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("escalate")
	return e, nil
}

// Escalate opens an issue for an abandoned item, or comments on the open
// issue already filed for it.
func (e *Escalator) Escalate(ctx context.Context, report orchestrator.IterationReport) (Result, error) {
	if report.ItemID == "" {
		return Result{}, errors.New("report has no item id")
	}

	existing, err := e.findOpen(ctx, report.ItemID)
	if err != nil {
		return Result{}, fmt.Errorf("finding issue for %s: %w", report.ItemID, err)
	}

	if existing != nil {
		comment := &github.IssueComment{Body: github.String(commentBody(report, e.runID))}
		err := retry(ctx, e.retry, e.logger, func() (*github.Response, error) {
			_, resp, err := e.client.Issues.CreateComment(ctx, e.owner, e.repo, existing.GetNumber(), comment)
			return resp, err
		})
		if err != nil {
			return Result{}, fmt.Errorf("commenting on issue #%d: %w", existing.GetNumber(), err)
		}
		return Result{Number: existing.GetNumber(), URL: existing.GetHTMLURL(), Commented: true}, nil
	}

	req := &github.IssueRequest{
		Title: github.String(issueTitle(report)),
		Body:  github.String(issueBody(report, e.runID)),
	}
	if len(e.labels) > 0 {
		labels := append([]string(nil), e.labels...)
		req.Labels = &labels
	}

	var created *github.Issue
	err = retry(ctx, e.retry, e.logger, func() (*github.Response, error) {
		issue, resp, err := e.client.Issues.Create(ctx, e.owner, e.repo, req)
		created = issue
		return resp, err
	})
	if err != nil {
		return Result{}, fmt.Errorf("creating issue for %s: %w", report.ItemID, err)
	}
	return Result{Number: created.GetNumber(), URL: created.GetHTMLURL()}, nil
}

// findOpen returns the open issue carrying the item's marker, or nil.
func (e *Escalator) findOpen(ctx context.Context, itemID string) (*github.Issue, error) {
	marker := itemMarker(itemID)
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		Labels:      e.labels,
		ListOptions: github.ListOptions{PerPage: listPageSize},
	}

	for {
		var issues []*github.Issue
		var next int
		err := retry(ctx, e.retry, e.logger, func() (*github.Response, error) {
			page, resp, err := e.client.Issues.ListByRepo(ctx, e.owner, e.repo, opts)
			issues = page
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			if strings.Contains(issue.GetBody(), marker) {
				return issue, nil
			}
		}
		if next == 0 {
			return nil, nil
		}
		opts.Page = next
	}
}

// Reporter escalates every abandoned item. Failures are logged; the loop
// goes on either way.
func (e *Escalator) Reporter(ctx context.Context) orchestrator.Reporter {
	return func(report orchestrator.IterationReport) {
		if !report.Abandoned {
			return
		}
		callCtx := context.WithoutCancel(ctx)
		if e.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, e.timeout)
			defer cancel()
		}

		res, err := e.Escalate(callCtx, report)
		if err != nil {
			e.logger.Warn(ctx, "escalating abandoned item failed",
				zap.String("item_id", report.ItemID),
				zap.Error(err))
			return
		}
		e.logger.Info(ctx, "escalated abandoned item",
			zap.String("item_id", report.ItemID),
			zap.Int("issue", res.Number),
			zap.Bool("commented", res.Commented),
			zap.String("url", res.URL))
	}
}

func itemMarker(itemID string) string {
	return "<!-- loopd:item=" + itemID + " -->"
}

func issueTitle(report orchestrator.IterationReport) string {
	if report.Title == "" {
		return "loopd gave up on " + report.ItemID
	}
	return fmt.Sprintf("loopd gave up on %s: %s", report.ItemID, report.Title)
}

func issueBody(report orchestrator.IterationReport, runID string) string {
	var b strings.Builder
	b.WriteString(itemMarker(report.ItemID))
	b.WriteString("\n\n")
	writeDetails(&b, report, runID)
	b.WriteString("\nClose this issue once the item is unblocked; the next run picks it up again.\n")
	return b.String()
}

func commentBody(report orchestrator.IterationReport, runID string) string {
	var b strings.Builder
	b.WriteString("Abandoned again.\n\n")
	writeDetails(&b, report, runID)
	return b.String()
}

func writeDetails(b *strings.Builder, report orchestrator.IterationReport, runID string) {
	fmt.Fprintf(b, "Item `%s` was abandoned after %d attempts", report.ItemID, report.Attempts)
	if report.Recovered {
		b.WriteString(", including a reframed recovery attempt")
	}
	b.WriteString(".\n\n")

	fmt.Fprintf(b, "- Iteration: %d\n", report.Iteration)
	if runID != "" {
		fmt.Fprintf(b, "- Run: `%s`\n", runID)
	}
	if report.FailureReason != "" {
		fmt.Fprintf(b, "- Last failure: %s\n", report.FailureReason)
	}
	if len(report.FailedGates) > 0 {
		fmt.Fprintf(b, "- Failed gates: %s\n", strings.Join(report.FailedGates, ", "))
	}
	if report.Cost.Tokens > 0 {
		fmt.Fprintf(b, "- Tokens spent: %d\n", report.Cost.Tokens)
	}

	if report.RootCause != "" {
		fmt.Fprintf(b, "\n### Root cause\n\n%s\n", report.RootCause)
	}
	if len(report.Constraints) > 0 {
		b.WriteString("\n### Constraints learned\n\n")
		for _, c := range report.Constraints {
			fmt.Fprintf(b, "- %s\n", c)
		}
	}
}
