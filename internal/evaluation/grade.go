package evaluation

import (
	"math"
	"strings"
)

// Assessment is the coarse verdict stored with each evaluation.
type Assessment string

const (
	AssessmentExcellent Assessment = "excellent"
	AssessmentGood      Assessment = "good"
	AssessmentNeedsWork Assessment = "needs_work"
	AssessmentFailing   Assessment = "failing"
)

// Assess derives the assessment from a numeric score. A file whose SQL did not
// execute cleanly never rates above needs_work.
func Assess(score int, executionOK bool) Assessment {
	var a Assessment
	switch {
	case score >= 9:
		a = AssessmentExcellent
	case score >= 7:
		a = AssessmentGood
	case score >= 5:
		a = AssessmentNeedsWork
	default:
		a = AssessmentFailing
	}
	if !executionOK && (a == AssessmentExcellent || a == AssessmentGood) {
		a = AssessmentNeedsWork
	}
	return a
}

// ClampScore forces a numeric score into [1,10].
func ClampScore(score int) int {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

// RoundScore rounds a model-supplied score into [1,10]. The float is clamped
// before conversion so huge or non-finite values cannot overflow int.
func RoundScore(v float64) int {
	switch {
	case math.IsNaN(v) || v < 1:
		return 1
	case v > 10:
		return 10
	}
	return int(math.Round(v))
}

// ClampSubscore forces a technical or educational score into [0,10].
func ClampSubscore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

// NormalizeGrade returns an upper-case letter grade from A-F. Modifiers such as
// "B+" are dropped; anything unrecognised falls back to the grade implied by score.
func NormalizeGrade(grade string, score int) string {
	g := strings.ToUpper(strings.TrimSpace(grade))
	if g != "" {
		switch g[0] {
		case 'A', 'B', 'C', 'D', 'F':
			return g[:1]
		}
	}
	return GradeForScore(score)
}

// GradeForScore maps a [1,10] score onto a letter grade.
func GradeForScore(score int) string {
	switch {
	case score >= 9:
		return "A"
	case score >= 7:
		return "B"
	case score >= 5:
		return "C"
	case score >= 3:
		return "D"
	default:
		return "F"
	}
}
