package doctor

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
)

// statusMarks pairs each check status with its mark and color.
var statusMarks = map[Status]struct{ mark, color string }{
	StatusOK:      {"✓", ansiGreen},
	StatusWarning: {"!", ansiYellow},
	StatusError:   {"✗", ansiRed},
	StatusSkipped: {"-", ansiDim},
}

// Output writes the human-readable doctor report.
type Output struct {
	w     io.Writer
	color bool
}

// NewOutput writes to w, or stdout when w is nil.
func NewOutput(w io.Writer, useColors bool) *Output {
	if w == nil {
		w = os.Stdout
	}
	return &Output{w: w, color: useColors}
}

func (o *Output) paint(color, s string) string {
	if !o.color || color == "" {
		return s
	}
	return color + s + ansiReset
}

func (o *Output) printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}

// Header prints the report title.
func (o *Output) Header() {
	const title = "ScanChain Doctor"
	o.printf("\n%s\n%s\n\n", o.paint(ansiBold, title), strings.Repeat("=", len(title)))
}

// CheckStart announces check index of total.
func (o *Output) CheckStart(index, total int, name string) {
	o.printf("[%d/%d] Checking %s...\n", index, total, name)
}

// CheckResult prints one result. The fix command is shown only for checks
// that did not pass.
func (o *Output) CheckResult(result CheckResult) {
	m := statusMarks[result.Status]
	o.printf("  %s %s\n", o.paint(m.color, m.mark), result.Message)
	if result.Details != "" {
		o.printf("    %s\n", result.Details)
	}
	if result.Status != StatusOK && result.FixCommand != "" {
		o.printf("    Fix: %s\n", result.FixCommand)
	}
}

// Summary prints the pass/fail tally. Warnings and skips appear only when
// there are some.
func (o *Output) Summary(summary Summary) {
	failed := fmt.Sprintf("%d failed", summary.Failed)
	if summary.Failed > 0 {
		failed = o.paint(ansiRed, failed)
	}
	parts := []string{o.paint(ansiGreen, fmt.Sprintf("%d passed", summary.Passed)), failed}
	if summary.Warned > 0 {
		parts = append(parts, o.paint(ansiYellow, fmt.Sprintf("%d warnings", summary.Warned)))
	}
	if summary.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", summary.Skipped))
	}
	o.printf("\nSummary: %s\n", strings.Join(parts, ", "))
}
