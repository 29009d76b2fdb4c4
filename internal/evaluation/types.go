// Package evaluation defines the typed records shared by the sandbox, cache,
// repository, and output layers of a sqlquest run.
package evaluation

import (
	"path/filepath"
	"strings"
	"time"
)

// ExecutionMode selects how a file's statements are isolated from each other.
type ExecutionMode string

const (
	// ModeAtomic runs every statement in one transaction. The first error
	// rolls back the whole file.
	ModeAtomic ExecutionMode = "atomic"

	// ModeNonAtomic commits each statement on its own and keeps going after
	// a failing statement.
	ModeNonAtomic ExecutionMode = "non_atomic"
)

// Valid reports whether m is a known execution mode.
func (m ExecutionMode) Valid() bool {
	return m == ModeAtomic || m == ModeNonAtomic
}

// SQLFile identifies one exercise file and its current content hash.
type SQLFile struct {
	Path        string    `json:"path"`     // absolute path on disk
	RelPath     string    `json:"rel_path"` // slash-separated, relative to the quests root
	Quest       string    `json:"quest"`
	Subcategory string    `json:"subcategory,omitempty"`
	Name        string    `json:"name"`
	Hash        string    `json:"content_hash"`
	Difficulty  string    `json:"difficulty,omitempty"`
	Description string    `json:"description,omitempty"`
	ModTime     time.Time `json:"mod_time"`
}

// Stem returns the filename without its extension.
func (f *SQLFile) Stem() string {
	return strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
}

// Key returns the stable identity used for persistence and caching.
func (f *SQLFile) Key() string {
	if f.RelPath != "" {
		return f.RelPath
	}
	return filepath.ToSlash(f.Path)
}

// StatementKind separates row-returning statements from mutating ones.
type StatementKind string

const (
	KindQuery StatementKind = "query"
	KindExec  StatementKind = "exec"
)

// StatementResult is the outcome of a single statement.
type StatementResult struct {
	Index        int           `json:"index"`
	SQL          string        `json:"sql"`
	Kind         StatementKind `json:"kind"`
	Success      bool          `json:"success"`
	Skipped      bool          `json:"skipped,omitempty"`
	Rows         int64         `json:"rows,omitempty"`
	RowsAffected int64         `json:"rows_affected,omitempty"`
	Columns      []string      `json:"columns,omitempty"`
	Preview      string        `json:"preview,omitempty"`
	Error        string        `json:"error,omitempty"`
	Warning      string        `json:"warning,omitempty"`
	DurationMs   int64         `json:"duration_ms"`
}

// ExecutionReport aggregates a file's statement results.
type ExecutionReport struct {
	Mode            ExecutionMode     `json:"mode"`
	Success         bool              `json:"execution_success"`
	StatementCount  int               `json:"statement_count"`
	ResultSets      int               `json:"result_sets"`
	RowsAffected    int64             `json:"rows_affected"`
	ErrorCount      int               `json:"error_count"`
	WarningCount    int               `json:"warning_count"`
	OutputLines     int               `json:"output_lines"`
	ExecutionTimeMs int64             `json:"execution_time_ms"`
	RolledBack      bool              `json:"rolled_back,omitempty"`
	ConnectionError string            `json:"connection_error,omitempty"`
	Output          string            `json:"output"`
	Statements      []StatementResult `json:"statements"`
}

// FirstError returns the first statement or connection error, if any.
func (r *ExecutionReport) FirstError() string {
	if r.ConnectionError != "" {
		return r.ConnectionError
	}
	for _, s := range r.Statements {
		if s.Error != "" {
			return s.Error
		}
	}
	return ""
}

// Analysis is the combined technical and educational review of a file.
type Analysis struct {
	TechnicalScore      float64  `json:"technical_score"`
	EducationalScore    float64  `json:"educational_score"`
	TechnicalFeedback   string   `json:"technical_feedback"`
	EducationalFeedback string   `json:"educational_feedback"`
	Summary             string   `json:"summary"`
	LetterGrade         string   `json:"letter_grade"`
	NumericScore        int      `json:"numeric_score"`
	Recommendations     []string `json:"recommendations"`
	Model               string   `json:"model,omitempty"`
	Fallback            bool     `json:"fallback,omitempty"`
}

// Result is a successful evaluation of one file.
type Result struct {
	File         SQLFile         `json:"file"`
	Execution    ExecutionReport `json:"execution"`
	Analysis     Analysis        `json:"analysis"`
	Assessment   Assessment      `json:"assessment"`
	NumericScore int             `json:"numeric_score"`
	LetterGrade  string          `json:"letter_grade"`
	EvaluatedAt  time.Time       `json:"evaluated_at"`
	Cached       bool            `json:"cached,omitempty"`
}

// Stage names the step of a file evaluation that failed.
type Stage string

const (
	StageExecute  Stage = "execute"
	StageAnalyze  Stage = "analyze"
	StagePersist  Stage = "persist"
	StageDiscover Stage = "discover"
)

// Failure records why a file could not be evaluated.
type Failure struct {
	File    SQLFile `json:"file"`
	Stage   Stage   `json:"stage"`
	Message string  `json:"message"`
}

// Outcome carries exactly one of Result or Failure.
type Outcome struct {
	Result  *Result  `json:"result,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

// Succeeded reports whether the outcome holds a result.
func (o Outcome) Succeeded() bool {
	return o.Result != nil
}

// File returns the file the outcome belongs to.
func (o Outcome) File() SQLFile {
	if o.Result != nil {
		return o.Result.File
	}
	if o.Failure != nil {
		return o.Failure.File
	}
	return SQLFile{}
}

// Succeed wraps a result in an outcome.
func Succeed(r *Result) Outcome {
	return Outcome{Result: r}
}

// Fail builds a failure outcome.
func Fail(file SQLFile, stage Stage, err error) Outcome {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Outcome{Failure: &Failure{File: file, Stage: stage, Message: msg}}
}
