package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
)

// Evaluation is the current-state evaluation row for one file.
type Evaluation struct {
	ID              int64                    `json:"id"`
	SQLFileID       int64                    `json:"sql_file_id"`
	Assessment      evaluation.Assessment    `json:"assessment"`
	NumericScore    int                      `json:"numeric_score"`
	LetterGrade     string                   `json:"letter_grade"`
	ExecutionMode   evaluation.ExecutionMode `json:"execution_mode"`
	ContentHash     string                   `json:"content_hash"`
	CreatedAt       time.Time                `json:"created_at"`
	LastEvaluatedAt time.Time                `json:"last_evaluated_at"`
}

// SaveFile registers file by path, refreshing its hash and metadata when it
// already exists. It returns the row ID.
func (s *Store) SaveFile(ctx context.Context, q Querier, file *evaluation.SQLFile) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO sql_files (path, quest, subcategory, filename, content_hash, difficulty, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		     quest = excluded.quest,
		     subcategory = excluded.subcategory,
		     filename = excluded.filename,
		     content_hash = excluded.content_hash,
		     difficulty = excluded.difficulty,
		     description = excluded.description,
		     updated_at = CURRENT_TIMESTAMP
		 RETURNING id`,
		file.Key(), file.Quest, file.Subcategory, file.Name, file.Hash, file.Difficulty, file.Description,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("saving file %s: %w", file.Key(), err)
	}
	return id, nil
}

// Upsert writes result as the single evaluation for fileID. An existing row
// is overwritten in place; its children are overwritten and its
// recommendations replaced.
func (s *Store) Upsert(ctx context.Context, q Querier, fileID int64, result *evaluation.Result) (*Evaluation, error) {
	now := time.Now().UTC()
	ev := &Evaluation{
		SQLFileID:       fileID,
		Assessment:      result.Assessment,
		NumericScore:    result.NumericScore,
		LetterGrade:     result.LetterGrade,
		ExecutionMode:   result.Execution.Mode,
		ContentHash:     result.File.Hash,
		LastEvaluatedAt: now,
	}

	err := q.QueryRowContext(ctx,
		"SELECT id, created_at FROM evaluations WHERE sql_file_id = ?", fileID,
	).Scan(&ev.ID, &ev.CreatedAt)

	switch {
	case err == sql.ErrNoRows:
		ev.CreatedAt = now
		res, err := q.ExecContext(ctx,
			`INSERT INTO evaluations (sql_file_id, assessment, numeric_score, letter_grade,
			 execution_mode, content_hash, created_at, last_evaluated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			fileID, string(ev.Assessment), ev.NumericScore, ev.LetterGrade,
			string(ev.ExecutionMode), ev.ContentHash, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("inserting evaluation: %w", err)
		}
		if ev.ID, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("reading evaluation id: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("looking up evaluation: %w", err)
	default:
		if _, err := q.ExecContext(ctx,
			`UPDATE evaluations SET assessment = ?, numeric_score = ?, letter_grade = ?,
			 execution_mode = ?, content_hash = ?, last_evaluated_at = ?
			 WHERE id = ?`,
			string(ev.Assessment), ev.NumericScore, ev.LetterGrade,
			string(ev.ExecutionMode), ev.ContentHash, now, ev.ID,
		); err != nil {
			return nil, fmt.Errorf("updating evaluation %d: %w", ev.ID, err)
		}
	}

	if err := upsertExecution(ctx, q, ev.ID, &result.Execution); err != nil {
		return nil, err
	}
	if err := upsertAnalysis(ctx, q, ev.ID, &result.Analysis); err != nil {
		return nil, err
	}
	if err := replaceRecommendations(ctx, q, ev.ID, result.Analysis.Recommendations); err != nil {
		return nil, err
	}

	return ev, nil
}

func upsertExecution(ctx context.Context, q Querier, evalID int64, r *evaluation.ExecutionReport) error {
	var id int64
	err := q.QueryRowContext(ctx, "SELECT id FROM execution_metadata WHERE evaluation_id = ?", evalID).Scan(&id)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("looking up execution metadata: %w", err)
	}
	if err == sql.ErrNoRows {
		if _, err := q.ExecContext(ctx, "INSERT INTO execution_metadata (evaluation_id, execution_success) VALUES (?, 1)", evalID); err != nil {
			return fmt.Errorf("creating execution metadata: %w", err)
		}
	}

	_, err = q.ExecContext(ctx,
		`UPDATE execution_metadata SET execution_success = ?, statement_count = ?, result_sets = ?,
		 rows_affected = ?, error_count = ?, warning_count = ?, output_lines = ?,
		 execution_time_ms = ?, raw_output = ?
		 WHERE evaluation_id = ?`,
		r.Success, r.StatementCount, r.ResultSets, r.RowsAffected, r.ErrorCount,
		r.WarningCount, r.OutputLines, r.ExecutionTimeMs, r.Output, evalID,
	)
	if err != nil {
		return fmt.Errorf("writing execution metadata: %w", err)
	}
	return nil
}

func upsertAnalysis(ctx context.Context, q Querier, evalID int64, a *evaluation.Analysis) error {
	var id int64
	err := q.QueryRowContext(ctx, "SELECT id FROM analyses WHERE evaluation_id = ?", evalID).Scan(&id)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("looking up analysis: %w", err)
	}
	if err == sql.ErrNoRows {
		if _, err := q.ExecContext(ctx,
			"INSERT INTO analyses (evaluation_id, technical_score, educational_score) VALUES (?, 0, 0)", evalID,
		); err != nil {
			return fmt.Errorf("creating analysis: %w", err)
		}
	}

	_, err = q.ExecContext(ctx,
		`UPDATE analyses SET technical_score = ?, educational_score = ?, technical_feedback = ?,
		 educational_feedback = ?, summary = ?, model = ?, is_fallback = ?
		 WHERE evaluation_id = ?`,
		evaluation.ClampSubscore(a.TechnicalScore), evaluation.ClampSubscore(a.EducationalScore),
		a.TechnicalFeedback, a.EducationalFeedback, a.Summary, a.Model, a.Fallback, evalID,
	)
	if err != nil {
		return fmt.Errorf("writing analysis: %w", err)
	}
	return nil
}

func replaceRecommendations(ctx context.Context, q Querier, evalID int64, recs []string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM recommendations WHERE evaluation_id = ?", evalID); err != nil {
		return fmt.Errorf("clearing recommendations: %w", err)
	}
	for i, text := range recs {
		if _, err := q.ExecContext(ctx,
			"INSERT INTO recommendations (evaluation_id, position, text) VALUES (?, ?, ?)",
			evalID, i, text,
		); err != nil {
			return fmt.Errorf("inserting recommendation %d: %w", i, err)
		}
	}
	return nil
}

// --- Reads ---

// EvaluationRecord is an evaluation joined with its file and children.
type EvaluationRecord struct {
	Evaluation
	File      evaluation.SQLFile         `json:"file"`
	Execution evaluation.ExecutionReport `json:"execution"`
	Analysis  evaluation.Analysis        `json:"analysis"`
}

// GetEvaluationByPath loads the evaluation stored for a file path.
func (s *Store) GetEvaluationByPath(ctx context.Context, path string) (*EvaluationRecord, error) {
	rec := &EvaluationRecord{}
	err := s.db.QueryRowContext(ctx,
		`SELECT e.id, e.sql_file_id, e.assessment, e.numeric_score, e.letter_grade,
		        e.execution_mode, e.content_hash, e.created_at, e.last_evaluated_at,
		        f.path, f.quest, f.subcategory, f.filename, f.content_hash, f.difficulty, f.description,
		        m.execution_success, m.statement_count, m.result_sets, m.rows_affected,
		        m.error_count, m.warning_count, m.output_lines, m.execution_time_ms, m.raw_output,
		        a.technical_score, a.educational_score, a.technical_feedback,
		        a.educational_feedback, a.summary, a.model, a.is_fallback
		 FROM evaluations e
		 JOIN sql_files f ON f.id = e.sql_file_id
		 JOIN execution_metadata m ON m.evaluation_id = e.id
		 JOIN analyses a ON a.evaluation_id = e.id
		 WHERE f.path = ?`, path,
	).Scan(
		&rec.ID, &rec.SQLFileID, &rec.Assessment, &rec.NumericScore, &rec.LetterGrade,
		&rec.ExecutionMode, &rec.ContentHash, &rec.CreatedAt, &rec.LastEvaluatedAt,
		&rec.File.RelPath, &rec.File.Quest, &rec.File.Subcategory, &rec.File.Name, &rec.File.Hash,
		&rec.File.Difficulty, &rec.File.Description,
		&rec.Execution.Success, &rec.Execution.StatementCount, &rec.Execution.ResultSets,
		&rec.Execution.RowsAffected, &rec.Execution.ErrorCount, &rec.Execution.WarningCount,
		&rec.Execution.OutputLines, &rec.Execution.ExecutionTimeMs, &rec.Execution.Output,
		&rec.Analysis.TechnicalScore, &rec.Analysis.EducationalScore, &rec.Analysis.TechnicalFeedback,
		&rec.Analysis.EducationalFeedback, &rec.Analysis.Summary, &rec.Analysis.Model, &rec.Analysis.Fallback,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no evaluation for %s", path)
	}
	if err != nil {
		return nil, err
	}

	rec.Execution.Mode = rec.ExecutionMode
	rec.Analysis.NumericScore = rec.NumericScore
	rec.Analysis.LetterGrade = rec.LetterGrade
	if rec.Analysis.Recommendations, err = s.Recommendations(ctx, rec.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

// Recommendations returns an evaluation's recommendations in order.
func (s *Store) Recommendations(ctx context.Context, evalID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT text FROM recommendations WHERE evaluation_id = ? ORDER BY position", evalID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		recs = append(recs, text)
	}
	return recs, rows.Err()
}

// CountEvaluations returns the number of evaluation rows.
func (s *Store) CountEvaluations(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM evaluations").Scan(&n)
	return n, err
}
