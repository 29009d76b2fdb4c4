package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
)

const (
	maxPromptSQL    = 20000
	maxPromptOutput = 8000
)

// systemInstruction frames the reviewer role for every request.
const systemInstruction = `You review SQL exercise files written for learners.
Judge the SQL on correctness, style, and performance, and judge the file as
teaching material: does it build understanding step by step, are comments
helpful, is the difficulty appropriate. Reply with a single JSON object.`

// buildPrompt constructs the analysis prompt.
func buildPrompt(req Request) string {
	var sb strings.Builder

	sb.WriteString("Evaluate the following SQL exercise.\n\n")
	fmt.Fprintf(&sb, "File: %s\n", req.File.Key())
	if req.File.Quest != "" {
		fmt.Fprintf(&sb, "Quest: %s\n", req.File.Quest)
	}
	if req.File.Subcategory != "" {
		fmt.Fprintf(&sb, "Topic: %s\n", req.File.Subcategory)
	}
	if req.File.Difficulty != "" {
		fmt.Fprintf(&sb, "Difficulty: %s\n", req.File.Difficulty)
	}
	if req.File.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", req.File.Description)
	}
	sb.WriteString("\n")

	sb.WriteString("SQL:\n```sql\n")
	sb.WriteString(clip(req.SQL, maxPromptSQL))
	sb.WriteString("\n```\n\n")

	if ex := req.Execution; ex != nil {
		sb.WriteString("Execution result:\n")
		fmt.Fprintf(&sb, "- mode: %s\n", ex.Mode)
		fmt.Fprintf(&sb, "- success: %t\n", ex.Success)
		fmt.Fprintf(&sb, "- statements: %d, result sets: %d, rows affected: %d\n",
			ex.StatementCount, ex.ResultSets, ex.RowsAffected)
		fmt.Fprintf(&sb, "- errors: %d, warnings: %d\n", ex.ErrorCount, ex.WarningCount)
		if ex.ConnectionError != "" {
			fmt.Fprintf(&sb, "- the sandbox database was unreachable: %s\n", ex.ConnectionError)
		}
		if ex.Output != "" {
			sb.WriteString("\nOutput:\n```\n")
			sb.WriteString(clip(ex.Output, maxPromptOutput))
			sb.WriteString("\n```\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Respond with JSON only:\n")
	sb.WriteString(`{
  "technical_score": 0-10,
  "educational_score": 0-10,
  "technical_feedback": "...",
  "educational_feedback": "...",
  "summary": "one paragraph",
  "letter_grade": "A|B|C|D|F",
  "numeric_score": 1-10,
  "recommendations": ["...", "..."]
}`)
	sb.WriteString("\n\nA file whose SQL fails to execute should not score above 6.\n")

	return sb.String()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "\n... (truncated)"
}

// response mirrors the JSON the model is asked for.
type response struct {
	TechnicalScore      *float64 `json:"technical_score"`
	EducationalScore    *float64 `json:"educational_score"`
	TechnicalFeedback   string   `json:"technical_feedback"`
	EducationalFeedback string   `json:"educational_feedback"`
	Summary             string   `json:"summary"`
	LetterGrade         string   `json:"letter_grade"`
	NumericScore        *float64 `json:"numeric_score"`
	Recommendations     []string `json:"recommendations"`
}

// parseAnalysis extracts an Analysis from model output. Scores are clamped;
// a missing overall score is derived from the two subscores.
func parseAnalysis(output, model string) (*evaluation.Analysis, error) {
	jsonStr := extractJSON(output)
	if jsonStr == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", evaluation.ErrAnalysis)
	}

	var resp response
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", evaluation.ErrAnalysis, err)
	}
	if resp.TechnicalScore == nil && resp.EducationalScore == nil && resp.NumericScore == nil {
		return nil, fmt.Errorf("%w: response has no scores", evaluation.ErrAnalysis)
	}

	a := &evaluation.Analysis{
		TechnicalFeedback:   strings.TrimSpace(resp.TechnicalFeedback),
		EducationalFeedback: strings.TrimSpace(resp.EducationalFeedback),
		Summary:             strings.TrimSpace(resp.Summary),
		Model:               model,
	}
	if resp.TechnicalScore != nil {
		a.TechnicalScore = evaluation.ClampSubscore(*resp.TechnicalScore)
	}
	if resp.EducationalScore != nil {
		a.EducationalScore = evaluation.ClampSubscore(*resp.EducationalScore)
	}

	if resp.NumericScore != nil {
		a.NumericScore = evaluation.RoundScore(*resp.NumericScore)
	} else {
		a.NumericScore = evaluation.RoundScore((a.TechnicalScore + a.EducationalScore) / 2)
	}
	a.LetterGrade = evaluation.NormalizeGrade(resp.LetterGrade, a.NumericScore)

	for _, r := range resp.Recommendations {
		if r = strings.TrimSpace(r); r != "" {
			a.Recommendations = append(a.Recommendations, r)
		}
	}

	return a, nil
}

// extractJSON attempts to find a JSON object in the output.
func extractJSON(output string) string {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return output[start : end+1]
}
