package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/storyrag/internal/embed"
	"github.com/Aman-CERP/storyrag/internal/output"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status as its lower-case name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// UnmarshalText accepts the names written by MarshalText.
func (s *CheckStatus) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "PASS":
		*s = StatusPass
	case "WARN":
		*s = StatusWarn
	case "FAIL":
		*s = StatusFail
	default:
		return fmt.Errorf("unknown check status %q", text)
	}
	return nil
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// ModelProber is the model server client.
type ModelProber interface {
	Probe(ctx context.Context) ([]string, error)
	Model() string
	BaseURL() string
}

// Targets are the things RunAll inspects. Nil services are reported as
// skipped warnings.
type Targets struct {
	ProjectDir string

	Model ModelProber

	// Embedder is nil when it could not be created; EmbedderErr says why.
	Embedder    embed.Embedder
	EmbedderErr error

	Index IndexInspector

	RecordsPath string
}

// Checker performs preflight checks.
type Checker struct {
	verbose bool
	output  io.Writer
	timeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// WithTimeout bounds each network check. Default 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		c.timeout = d
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		output:  os.Stdout,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check concurrently. Results keep a fixed order.
func (c *Checker) RunAll(ctx context.Context, t Targets) []CheckResult {
	checks := []func(context.Context) CheckResult{
		func(context.Context) CheckResult { return c.CheckDiskSpace(t.ProjectDir) },
		func(context.Context) CheckResult { return c.CheckWritePermissions(t.ProjectDir) },
		func(context.Context) CheckResult { return c.CheckFileDescriptors() },
		func(ctx context.Context) CheckResult { return c.CheckModelServer(ctx, t.Model) },
		func(ctx context.Context) CheckResult { return c.CheckEmbedder(ctx, t.Embedder, t.EmbedderErr) },
		func(ctx context.Context) CheckResult { return c.CheckIndex(ctx, t.Index) },
		func(ctx context.Context) CheckResult { return c.CheckRecords(ctx, t.RecordsPath) },
	}

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			results[i] = check(cctx)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns "ready", "ready_with_warnings" or "failed".
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	out := output.New(c.output)
	out.Heading("storyrag doctor")

	for _, r := range results {
		msg := fmt.Sprintf("%-18s %s", r.Name, r.Message)
		switch {
		case r.Status == StatusPass:
			out.Success(msg)
		case r.IsCritical():
			out.Error(msg)
		default:
			out.Warning(msg)
		}
		if c.verbose && r.Details != "" {
			out.Dim("      " + r.Details)
		}
	}

	out.Newline()
	out.Println("Status: " + strings.ToUpper(c.SummaryStatus(results)))

	var failures []string
	for _, r := range results {
		if r.IsCritical() && r.Details != "" {
			failures = append(failures, r.Name+": "+r.Details)
		}
	}
	if len(failures) > 0 {
		out.Newline()
		out.Println("To fix:")
		for _, f := range failures {
			out.Println("  - " + f)
		}
	}
}

// CheckWritePermissions checks that the project directory is writable.
func (c *Checker) CheckWritePermissions(path string) CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
	}

	testFile := filepath.Join(path, ".storyrag-preflight-test")
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	result.Status = StatusPass
	result.Message = "OK"
	return result
}
