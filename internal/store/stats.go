package store

import (
	"context"
	"database/sql"
	"time"
)

// Stats aggregates every stored evaluation.
type Stats struct {
	Files             int            `json:"files"`
	Evaluated         int            `json:"evaluated"`
	AverageScore      float64        `json:"average_score"`
	ExecutionFailures int            `json:"execution_failures"`
	FallbackAnalyses  int            `json:"fallback_analyses"`
	ByAssessment      map[string]int `json:"by_assessment"`
	ByGrade           map[string]int `json:"by_grade"`
}

// QuestStat aggregates the evaluations of one quest.
type QuestStat struct {
	Quest        string  `json:"quest"`
	Files        int     `json:"files"`
	Evaluated    int     `json:"evaluated"`
	AverageScore float64 `json:"average_score"`
	Failing      int     `json:"failing"`
}

// Lowest is a low-scoring file for status reports.
type Lowest struct {
	Path            string    `json:"path"`
	NumericScore    int       `json:"numeric_score"`
	LetterGrade     string    `json:"letter_grade"`
	Assessment      string    `json:"assessment"`
	LastEvaluatedAt time.Time `json:"last_evaluated_at"`
}

// StatusData is everything the status command shows.
type StatusData struct {
	LatestRun *Run         `json:"latest_run,omitempty"`
	Stats     *Stats       `json:"stats"`
	Quests    []*QuestStat `json:"quests"`
	Lowest    []*Lowest    `json:"lowest"`
}

// Stats returns totals across all evaluations.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByAssessment: make(map[string]int),
		ByGrade:      make(map[string]int),
	}

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM sql_files),
		       COUNT(e.id),
		       AVG(e.numeric_score),
		       COALESCE(SUM(CASE WHEN m.execution_success = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(a.is_fallback), 0)
		FROM evaluations e
		LEFT JOIN execution_metadata m ON m.evaluation_id = e.id
		LEFT JOIN analyses a ON a.evaluation_id = e.id`,
	).Scan(&st.Files, &st.Evaluated, &avg, &st.ExecutionFailures, &st.FallbackAnalyses)
	if err != nil {
		return nil, err
	}
	st.AverageScore = avg.Float64

	rows, err := s.db.QueryContext(ctx, "SELECT assessment, letter_grade, COUNT(*) FROM evaluations GROUP BY assessment, letter_grade")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var assessment, grade string
		var count int
		if err := rows.Scan(&assessment, &grade, &count); err != nil {
			return nil, err
		}
		st.ByAssessment[assessment] += count
		st.ByGrade[grade] += count
	}
	return st, rows.Err()
}

// QuestStats returns per-quest totals ordered by quest name.
func (s *Store) QuestStats(ctx context.Context) ([]*QuestStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.quest,
		       COUNT(f.id),
		       COUNT(e.id),
		       COALESCE(AVG(e.numeric_score), 0),
		       COALESCE(SUM(CASE WHEN e.assessment = 'failing' THEN 1 ELSE 0 END), 0)
		FROM sql_files f
		LEFT JOIN evaluations e ON e.sql_file_id = f.id
		GROUP BY f.quest
		ORDER BY f.quest`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*QuestStat
	for rows.Next() {
		q := &QuestStat{}
		if err := rows.Scan(&q.Quest, &q.Files, &q.Evaluated, &q.AverageScore, &q.Failing); err != nil {
			return nil, err
		}
		stats = append(stats, q)
	}
	return stats, rows.Err()
}

// LowestScoring returns up to limit files with the lowest scores.
func (s *Store) LowestScoring(ctx context.Context, limit int) ([]*Lowest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.path, e.numeric_score, e.letter_grade, e.assessment, e.last_evaluated_at
		FROM evaluations e
		JOIN sql_files f ON f.id = e.sql_file_id
		ORDER BY e.numeric_score ASC, f.path ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Lowest
	for rows.Next() {
		l := &Lowest{}
		if err := rows.Scan(&l.Path, &l.NumericScore, &l.LetterGrade, &l.Assessment, &l.LastEvaluatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ExportStatusData gathers the data for the status command. A store with no
// runs yet is not an error.
func (s *Store) ExportStatusData(ctx context.Context, lowest int) (*StatusData, error) {
	data := &StatusData{}

	if run, err := s.LatestRun(ctx); err == nil {
		data.LatestRun = run
	}

	var err error
	if data.Stats, err = s.Stats(ctx); err != nil {
		return nil, err
	}
	if data.Quests, err = s.QuestStats(ctx); err != nil {
		return nil, err
	}
	if data.Lowest, err = s.LowestScoring(ctx, lowest); err != nil {
		return nil, err
	}
	return data, nil
}
