package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/cbtportal/internal/model"
)

// ImportExam creates an exam from an uploaded document in one transaction.
// hash identifies the upload; importing the same hash again while its exam
// still exists fails with ErrDuplicate.
func (s *Store) ImportExam(ctx context.Context, e model.Exam, hash, filename string) (model.Exam, error) {
	if len(e.Questions) == 0 {
		return model.Exam{}, model.ErrNoQuestions
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		examID, err := uploadedExamID(ctx, tx, hash)
		if err != nil {
			return err
		}
		if examID != "" {
			return fmt.Errorf("%s was already imported as exam %s: %w", filename, examID, model.ErrDuplicate)
		}
		if err := s.insertExam(ctx, tx, &e); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO uploads (hash, exam_id, filename, uploaded_at) VALUES ($1, $2, $3, $4)`,
			hash, e.ID, filename, s.now(),
		)
		return err
	})
	if err != nil {
		return model.Exam{}, err
	}
	slog.Info("imported exam", "id", e.ID, "file", filename, "questions", len(e.Questions), "total_marks", e.TotalMarks)
	return e, nil
}

// UploadedExamID returns the exam created from the upload with the given
// hash, or "" if there is none.
func (s *Store) UploadedExamID(ctx context.Context, hash string) (string, error) {
	return uploadedExamID(ctx, s.db, hash)
}

func uploadedExamID(ctx context.Context, q querier, hash string) (string, error) {
	var examID string
	err := q.QueryRowContext(ctx, `SELECT exam_id FROM uploads WHERE hash = $1`, hash).Scan(&examID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return examID, err
}
