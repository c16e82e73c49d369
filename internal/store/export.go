package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/cbtportal/internal/model"
)

// ExportResults builds the results sheet for an exam from every finalized
// submission. In-progress attempts are left out.
func (s *Store) ExportResults(ctx context.Context, examID string) (model.ResultsExport, error) {
	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return model.ResultsExport{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT u.name, COALESCE(u.admission_number, ''), u.class_level, COALESCE(u.email, ''),
			s.status, s.total_score, s.percentage, s.passed, s.submitted_at
		 FROM submissions s JOIN users u ON u.id = s.student_id
		 WHERE s.exam_id = $1 AND s.status <> $2
		 ORDER BY u.class_level, u.name`,
		examID, model.StatusInProgress,
	)
	if err != nil {
		return model.ResultsExport{}, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []model.StudentResult
	for rows.Next() {
		var r model.StudentResult
		if err := rows.Scan(&r.Name, &r.AdmissionNumber, &r.ClassLevel, &r.Email,
			&r.Status, &r.TotalScore, &r.Percentage, &r.Passed, &r.SubmittedAt); err != nil {
			return model.ResultsExport{}, err
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return model.ResultsExport{}, err
	}

	return model.ResultsExport{
		ExamID:       exam.ID,
		Title:        exam.Title,
		TotalMarks:   exam.TotalMarks,
		PassingMarks: exam.PassingMarks,
		Duration:     exam.Duration,
		GeneratedAt:  s.now(),
		Summary:      model.Summarize(results),
		Results:      results,
	}, nil
}
