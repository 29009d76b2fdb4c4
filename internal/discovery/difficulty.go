package discovery

import (
	"sort"
	"strings"
)

// Difficulty levels assigned to exercise files.
const (
	Beginner     = "beginner"
	Intermediate = "intermediate"
	Advanced     = "advanced"
)

// difficultyRule labels a file when its path names the level outright or
// enough of its keywords appear in the SQL.
type difficultyRule struct {
	Level        string
	PathSegments []string
	Keywords     []string
	Threshold    int // keyword hits required
	Priority     int // higher wins
}

func defaultDifficultyRules() []difficultyRule {
	return []difficultyRule{
		{
			Level:        Advanced,
			PathSegments: []string{"advanced", "expert", "optimization", "performance"},
			Keywords: []string{
				"over (", "over(", "partition by", "with recursive", "lateral",
				"create trigger", "create index", "explain", "rollup", "cube",
				"grouping sets", "window ",
			},
			Threshold: 2,
			Priority:  30,
		},
		{
			Level:        Intermediate,
			PathSegments: []string{"intermediate"},
			Keywords: []string{
				" join ", "group by", "having", "union", "exists", "case when",
				"subquery", " with ", "create view", "coalesce",
			},
			Threshold: 2,
			Priority:  20,
		},
		{
			Level:        Beginner,
			PathSegments: []string{"beginner", "basic", "intro", "getting-started"},
			Priority:     10,
		},
	}
}

// Classifier infers a difficulty level for an exercise file from its path and
// SQL. The default is beginner.
type Classifier struct {
	rules []difficultyRule
}

// NewClassifier returns a classifier with the built-in rules.
func NewClassifier() *Classifier {
	rules := defaultDifficultyRules()
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
	return &Classifier{rules: rules}
}

// Classify returns the difficulty for relPath with the given content. Path
// segments are checked before content so authors can force a level by
// directory name.
func (c *Classifier) Classify(relPath, content string) string {
	lowerPath := strings.ToLower(relPath)
	for _, r := range c.rules {
		for _, seg := range r.PathSegments {
			if strings.Contains(lowerPath, seg) {
				return r.Level
			}
		}
	}

	lowerSQL := " " + strings.Join(strings.Fields(strings.ToLower(stripComments(content))), " ") + " "
	for _, r := range c.rules {
		if r.Threshold > 0 && keywordHits(r.Keywords, lowerSQL) >= r.Threshold {
			return r.Level
		}
	}
	return Beginner
}

func keywordHits(keywords []string, text string) int {
	n := 0
	for _, kw := range keywords {
		n += strings.Count(text, kw)
	}
	return n
}

// stripComments drops "--" line comments so prose in the header does not
// count as SQL.
func stripComments(content string) string {
	var sb strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if i := strings.Index(line, "--"); i >= 0 {
			line = line[:i]
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}
