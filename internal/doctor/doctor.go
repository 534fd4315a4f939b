package doctor

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/scanchain/scanchain/internal/config"
)

// CheckTimeout bounds each network check.
const CheckTimeout = 10 * time.Second

// Doctor runs preflight checks against a ScanChain server configuration.
type Doctor struct {
	checkers []Checker
	output   *Output
	writer   io.Writer
	options  Options
}

// New creates a Doctor writing to stdout with the checkers implied by cfg.
func New(cfg *config.Config, configPath string, opts Options) *Doctor {
	useColors := !opts.JSON && term.IsTerminal(int(os.Stdout.Fd()))
	d := NewWithWriter(opts, os.Stdout, useColors)
	d.checkers = DefaultCheckers(cfg, configPath)
	return d
}

// NewWithWriter creates a Doctor without checkers; add them with AddChecker.
func NewWithWriter(opts Options, w io.Writer, useColors bool) *Doctor {
	return &Doctor{
		options: opts,
		output:  NewOutput(w, useColors),
		writer:  w,
	}
}

// DefaultCheckers returns the checks for a configuration. Backends that are
// not configured are still listed so the report shows them as skipped.
func DefaultCheckers(cfg *config.Config, configPath string) []Checker {
	return []Checker{
		NewConfigFileChecker(configPath),
		NewWalletChecker(cfg),
		NewLedgerChecker(cfg),
		NewStorageChecker(cfg),
		NewRegistryChecker(cfg),
		NewRedisChecker(cfg),
		NewFileDescriptorChecker(),
	}
}

// AddChecker adds a custom checker
func (d *Doctor) AddChecker(c Checker) {
	d.checkers = append(d.checkers, c)
}

// Run executes all checks and returns a report
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	checkers := d.filterCheckers()
	report := &Report{
		Checks: make([]CheckResult, 0, len(checkers)),
	}

	if !d.options.JSON {
		d.output.Header()
	}

	for i, checker := range checkers {
		if !d.options.JSON {
			d.output.CheckStart(i+1, len(checkers), checker.Name())
		}

		checkCtx, cancel := context.WithTimeout(ctx, CheckTimeout)
		result := checker.Check(checkCtx)
		cancel()

		if !d.options.JSON {
			d.output.CheckResult(result)
		}
		report.Checks = append(report.Checks, result)
		updateSummary(&report.Summary, result)
	}

	if d.options.JSON {
		enc := json.NewEncoder(d.writer)
		enc.SetIndent("", "  ")
		return report, enc.Encode(report)
	}
	d.output.Summary(report.Summary)
	return report, nil
}

// filterCheckers returns checkers filtered by category if specified
func (d *Doctor) filterCheckers() []Checker {
	if d.options.Category == "" {
		return d.checkers
	}

	filtered := make([]Checker, 0)
	for _, c := range d.checkers {
		if c.Category() == d.options.Category {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func updateSummary(summary *Summary, result CheckResult) {
	summary.Total++
	switch result.Status {
	case StatusOK:
		summary.Passed++
	case StatusError:
		summary.Failed++
	case StatusWarning:
		summary.Warned++
	case StatusSkipped:
		summary.Skipped++
	}
}
