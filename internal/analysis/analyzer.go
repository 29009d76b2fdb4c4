// Package analysis produces the technical and educational review of an
// exercise file from its SQL and execution report.
package analysis

import (
	"context"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
)

// Request is everything an analyzer sees about one file.
type Request struct {
	File      evaluation.SQLFile
	SQL       string
	Execution *evaluation.ExecutionReport
}

// Analyzer reviews one file. Implementations must be safe for concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*evaluation.Analysis, error)
}

// Func adapts a function to the Analyzer interface.
type Func func(ctx context.Context, req Request) (*evaluation.Analysis, error)

// Analyze calls f.
func (f Func) Analyze(ctx context.Context, req Request) (*evaluation.Analysis, error) {
	return f(ctx, req)
}

// FallbackModel is recorded on analyses produced without the AI service.
const FallbackModel = "fallback"

// Fallback returns the deterministic analysis used when the AI service is
// unavailable or returns something unusable.
func Fallback(reason string) *evaluation.Analysis {
	summary := "Automated analysis was unavailable for this file."
	if reason != "" {
		summary += " Reason: " + reason
	}
	return &evaluation.Analysis{
		TechnicalScore:      5.0,
		EducationalScore:    5.0,
		TechnicalFeedback:   "No technical feedback was generated.",
		EducationalFeedback: "No educational feedback was generated.",
		Summary:             summary,
		LetterGrade:         "C",
		NumericScore:        5,
		Recommendations:     []string{"Re-run analysis once the analysis service is reachable."},
		Model:               FallbackModel,
		Fallback:            true,
	}
}

// Static always returns the fallback analysis. It backs the "fallback"
// backend, which runs every file offline.
type Static struct{}

// Analyze returns Fallback.
func (Static) Analyze(ctx context.Context, req Request) (*evaluation.Analysis, error) {
	return Fallback("analysis backend disabled"), nil
}
