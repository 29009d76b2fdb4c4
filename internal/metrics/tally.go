package metrics

import (
	"regexp"
	"sort"
	"sync"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
)

// ErrorClass buckets sandbox error messages from SQLite and Postgres.
type ErrorClass string

const (
	ErrorSyntax        ErrorClass = "syntax"
	ErrorMissingObject ErrorClass = "missing_object"
	ErrorDuplicate     ErrorClass = "duplicate_object"
	ErrorConstraint    ErrorClass = "constraint"
	ErrorType          ErrorClass = "type_mismatch"
	ErrorTimeout       ErrorClass = "timeout"
	ErrorConnection    ErrorClass = "connection"
	ErrorOther         ErrorClass = "other"
)

var errorPatterns = []struct {
	class ErrorClass
	re    *regexp.Regexp
}{
	{ErrorConnection, regexp.MustCompile(`(?i)sandbox connection failed|connection refused|dial tcp`)},
	{ErrorTimeout, regexp.MustCompile(`(?i)deadline exceeded|statement timeout|canceling statement|interrupted`)},
	{ErrorSyntax, regexp.MustCompile(`(?i)syntax error|incomplete input|unrecognized token`)},
	{ErrorMissingObject, regexp.MustCompile(`(?i)no such (table|column|function|index|view)|does not exist|undefined (table|column|function)`)},
	{ErrorDuplicate, regexp.MustCompile(`(?i)already exists`)},
	{ErrorConstraint, regexp.MustCompile(`(?i)constraint|violates|not null|unique|foreign key`)},
	{ErrorType, regexp.MustCompile(`(?i)datatype mismatch|invalid input syntax|cannot be cast|operator does not exist`)},
}

// ClassifyError returns the class of a sandbox error message.
func ClassifyError(msg string) ErrorClass {
	if msg == "" {
		return ""
	}
	for _, p := range errorPatterns {
		if p.re.MatchString(msg) {
			return p.class
		}
	}
	return ErrorOther
}

// Tally accumulates outcomes across a run. It is safe for concurrent use.
type Tally struct {
	mu        sync.Mutex
	files     int
	succeeded int
	failed    int
	cached    int
	fallbacks int
	scoreSum  int
	stages    map[evaluation.Stage]int
	errors    map[ErrorClass]int
}

// NewTally returns an empty tally.
func NewTally() *Tally {
	return &Tally{
		stages: make(map[evaluation.Stage]int),
		errors: make(map[ErrorClass]int),
	}
}

// Add records one outcome.
func (t *Tally) Add(out evaluation.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.files++
	if out.Failure != nil {
		t.failed++
		t.stages[out.Failure.Stage]++
		return
	}

	r := out.Result
	t.succeeded++
	t.scoreSum += r.NumericScore
	if r.Cached {
		t.cached++
	}
	if r.Analysis.Fallback {
		t.fallbacks++
	}
	if r.Execution.ConnectionError != "" {
		t.errors[ClassifyError(r.Execution.ConnectionError)]++
	}
	for _, s := range r.Execution.Statements {
		if s.Error != "" {
			t.errors[ClassifyError(s.Error)]++
		}
	}
}

// TallySnapshot is a point-in-time copy of a Tally.
type TallySnapshot struct {
	Files        int                      `json:"files"`
	Succeeded    int                      `json:"succeeded"`
	Failed       int                      `json:"failed"`
	Cached       int                      `json:"cached"`
	Fallbacks    int                      `json:"fallbacks"`
	AverageScore float64                  `json:"average_score"`
	FailedStages map[evaluation.Stage]int `json:"failed_stages,omitempty"`
	ErrorClasses map[ErrorClass]int       `json:"error_classes,omitempty"`
}

// SuccessRate returns Succeeded/Files, or 0 for an empty run.
func (s TallySnapshot) SuccessRate() float64 {
	if s.Files == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Files)
}

// TopErrors returns error classes ordered by count, then name.
func (s TallySnapshot) TopErrors() []ErrorClass {
	classes := make([]ErrorClass, 0, len(s.ErrorClasses))
	for c := range s.ErrorClasses {
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool {
		ci, cj := s.ErrorClasses[classes[i]], s.ErrorClasses[classes[j]]
		if ci != cj {
			return ci > cj
		}
		return classes[i] < classes[j]
	})
	return classes
}

// Snapshot copies the current counts.
func (t *Tally) Snapshot() TallySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := TallySnapshot{
		Files:        t.files,
		Succeeded:    t.succeeded,
		Failed:       t.failed,
		Cached:       t.cached,
		Fallbacks:    t.fallbacks,
		FailedStages: make(map[evaluation.Stage]int, len(t.stages)),
		ErrorClasses: make(map[ErrorClass]int, len(t.errors)),
	}
	if t.succeeded > 0 {
		s.AverageScore = float64(t.scoreSum) / float64(t.succeeded)
	}
	for k, v := range t.stages {
		s.FailedStages[k] = v
	}
	for k, v := range t.errors {
		s.ErrorClasses[k] = v
	}
	return s
}
