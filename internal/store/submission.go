package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/cbtportal/internal/grading"
	"github.com/pavelanni/cbtportal/internal/model"
)

const submissionColumns = `id, exam_id, student_id, status, started_at, submitted_at,
	total_score, percentage, passed`

// StartOrResumeSubmission returns the student's in-progress submission for
// the exam, creating it if none exists. A submission that was already
// finalized cannot be resumed.
func (s *Store) StartOrResumeSubmission(ctx context.Context, examID, studentID string) (model.Submission, error) {
	var sub model.Submission
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getExam(ctx, tx, examID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO submissions (id, exam_id, student_id, status, started_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (exam_id, student_id) DO NOTHING`,
			uuid.NewString(), examID, studentID, model.StatusInProgress, s.now(),
		)
		if err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		sub, err = scanSubmission(tx.QueryRowContext(ctx,
			`SELECT `+submissionColumns+` FROM submissions WHERE exam_id = $1 AND student_id = $2`,
			examID, studentID))
		if err != nil {
			return err
		}
		if sub.Status != model.StatusInProgress {
			return fmt.Errorf("exam %s already submitted (%s): %w", examID, sub.Status, model.ErrInvalidSubmissionState)
		}
		return nil
	})
	if err != nil {
		return model.Submission{}, err
	}
	return sub, nil
}

// GetSubmission returns a submission by ID.
func (s *Store) GetSubmission(ctx context.Context, id string) (model.Submission, error) {
	return getSubmission(ctx, s.db, id)
}

func getSubmission(ctx context.Context, q querier, id string) (model.Submission, error) {
	sub, err := scanSubmission(q.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if err != nil {
		return model.Submission{}, notFound(err, fmt.Errorf("%s: %w", id, model.ErrSubmissionNotFound))
	}
	return sub, nil
}

func scanSubmission(row rowScanner) (model.Submission, error) {
	var sub model.Submission
	err := row.Scan(&sub.ID, &sub.ExamID, &sub.StudentID, &sub.Status, &sub.StartedAt,
		&sub.SubmittedAt, &sub.TotalScore, &sub.Percentage, &sub.Passed)
	return sub, err
}

// RecordAnswersAndFinalize stores the student's answers, auto-grades the
// objective ones and closes the submission. answers maps question ID to the
// chosen option or essay text. A second call on the same submission fails
// with ErrInvalidSubmissionState and changes nothing.
func (s *Store) RecordAnswersAndFinalize(ctx context.Context, submissionID, studentID string, answers map[string]string, now time.Time) (model.Submission, error) {
	var res grading.Result
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sub, err := getSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		exam, err := getExam(ctx, tx, sub.ExamID)
		if err != nil {
			return err
		}
		res, err = grading.AutoGrade(exam, sub, studentID, answers, now)
		if err != nil {
			return err
		}

		// Claim the submission first so a concurrent finalize loses before it
		// writes any answers.
		if err := updateSubmission(ctx, tx, res.Submission, model.StatusInProgress); err != nil {
			return err
		}
		for i := range res.Answers {
			if err := upsertAnswer(ctx, tx, &res.Answers[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Submission{}, err
	}
	slog.Info("submission finalized", "id", submissionID, "status", res.Submission.Status, "answers", len(res.Answers))
	return res.Submission, nil
}

// ApplyManualGrades records essay marks and computes the submission's final
// result. grades maps answer ID to awarded marks. Staff may only grade exams
// they created; admins may grade any.
func (s *Store) ApplyManualGrades(ctx context.Context, submissionID string, grader model.Identity, grades map[string]float64) (model.Submission, error) {
	var res grading.Result
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sub, err := getSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		exam, err := getExam(ctx, tx, sub.ExamID)
		if err != nil {
			return err
		}
		if err := checkGrader(exam, grader); err != nil {
			return err
		}
		answers, err := listAnswers(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		res, err = grading.ApplyManualGrades(exam, sub, answers, grades)
		if err != nil {
			return err
		}
		if err := updateSubmission(ctx, tx, res.Submission, model.StatusSubmitted); err != nil {
			return err
		}
		for _, a := range res.Answers {
			if _, err := tx.ExecContext(ctx, `UPDATE answers SET marks = $1 WHERE id = $2`, a.Marks, a.ID); err != nil {
				return fmt.Errorf("update answer %s: %w", a.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return model.Submission{}, err
	}
	slog.Info("submission graded", "id", submissionID, "grader", grader.UserID, "total", *res.Submission.TotalScore)
	return res.Submission, nil
}

func checkGrader(exam model.Exam, grader model.Identity) error {
	switch grader.Role {
	case model.UserRoleAdmin:
		return nil
	case model.UserRoleStaff:
		if exam.CreatedByID == grader.UserID {
			return nil
		}
		return fmt.Errorf("exam %s was created by another user: %w", exam.ID, model.ErrForbidden)
	}
	return fmt.Errorf("role %s cannot grade: %w", grader.Role, model.ErrForbidden)
}

// updateSubmission writes sub's grading state if the stored status is still
// from. Losing the race yields ErrInvalidSubmissionState.
func updateSubmission(ctx context.Context, tx *sql.Tx, sub model.Submission, from model.SubmissionStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE submissions SET status = $1, submitted_at = $2, total_score = $3, percentage = $4, passed = $5
		 WHERE id = $6 AND status = $7`,
		sub.Status, sub.SubmittedAt, sub.TotalScore, sub.Percentage, sub.Passed, sub.ID, from,
	)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("submission %s is no longer %s: %w", sub.ID, from, model.ErrInvalidSubmissionState)
	}
	return nil
}

func upsertAnswer(ctx context.Context, tx *sql.Tx, a *model.Answer) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	err := tx.QueryRowContext(ctx,
		`INSERT INTO answers (id, submission_id, question_id, answer, is_correct, marks)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (submission_id, question_id) DO UPDATE SET
			answer = EXCLUDED.answer, is_correct = EXCLUDED.is_correct, marks = EXCLUDED.marks
		 RETURNING id`,
		a.ID, a.SubmissionID, a.QuestionID, a.Text, a.IsCorrect, a.Marks,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("upsert answer for question %s: %w", a.QuestionID, err)
	}
	return nil
}

// ListAnswers returns a submission's answers in question order.
func (s *Store) ListAnswers(ctx context.Context, submissionID string) ([]model.Answer, error) {
	return listAnswers(ctx, s.db, submissionID)
}

func listAnswers(ctx context.Context, q querier, submissionID string) ([]model.Answer, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT a.id, a.submission_id, a.question_id, a.answer, a.is_correct, a.marks
		 FROM answers a JOIN questions q ON q.id = a.question_id
		 WHERE a.submission_id = $1 ORDER BY q.position, a.id`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.ID, &a.SubmissionID, &a.QuestionID, &a.Text, &a.IsCorrect, &a.Marks); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

const submissionViewQuery = `SELECT s.id, s.exam_id, s.student_id, s.status, s.started_at, s.submitted_at,
		s.total_score, s.percentage, s.passed,
		u.name, COALESCE(u.admission_number, ''), u.class_level, e.title
	 FROM submissions s
	 JOIN users u ON u.id = s.student_id
	 JOIN exams e ON e.id = s.exam_id`

func scanSubmissionViews(rows *sql.Rows) ([]model.SubmissionView, error) {
	defer rows.Close()
	var out []model.SubmissionView
	for rows.Next() {
		var v model.SubmissionView
		sub := &v.Submission
		if err := rows.Scan(&sub.ID, &sub.ExamID, &sub.StudentID, &sub.Status, &sub.StartedAt, &sub.SubmittedAt,
			&sub.TotalScore, &sub.Percentage, &sub.Passed,
			&v.StudentName, &v.AdmissionNumber, &v.ClassLevel, &v.ExamTitle); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListExamSubmissions returns every submission for an exam ordered by class
// and student name.
func (s *Store) ListExamSubmissions(ctx context.Context, examID string) ([]model.SubmissionView, error) {
	rows, err := s.db.QueryContext(ctx,
		submissionViewQuery+` WHERE s.exam_id = $1 ORDER BY u.class_level, u.name`, examID)
	if err != nil {
		return nil, err
	}
	return scanSubmissionViews(rows)
}

// ListPendingSubmissions returns submissions awaiting essay grading. A
// non-empty creatorID limits them to exams that user created.
func (s *Store) ListPendingSubmissions(ctx context.Context, creatorID string) ([]model.SubmissionView, error) {
	rows, err := s.db.QueryContext(ctx,
		submissionViewQuery+` WHERE s.status = $1 AND ($2 = '' OR e.created_by_id = $2)
		 ORDER BY s.submitted_at, s.id`,
		model.StatusSubmitted, creatorID)
	if err != nil {
		return nil, err
	}
	return scanSubmissionViews(rows)
}

// ListStudentSubmissions returns a student's submissions, newest first.
func (s *Store) ListStudentSubmissions(ctx context.Context, studentID string) ([]model.SubmissionView, error) {
	rows, err := s.db.QueryContext(ctx,
		submissionViewQuery+` WHERE s.student_id = $1 ORDER BY s.started_at DESC, s.id`, studentID)
	if err != nil {
		return nil, err
	}
	return scanSubmissionViews(rows)
}

// GetSubmissionDetail returns a submission with its exam and answers joined
// to their questions.
func (s *Store) GetSubmissionDetail(ctx context.Context, id string) (*model.SubmissionDetail, error) {
	rows, err := s.db.QueryContext(ctx, submissionViewQuery+` WHERE s.id = $1`, id)
	if err != nil {
		return nil, err
	}
	views, err := scanSubmissionViews(rows)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, fmt.Errorf("%s: %w", id, model.ErrSubmissionNotFound)
	}

	exam, err := s.GetExam(ctx, views[0].ExamID)
	if err != nil {
		return nil, err
	}
	answers, err := s.ListAnswers(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &model.SubmissionDetail{Submission: views[0], Exam: exam}
	for _, a := range answers {
		q, ok := exam.Question(a.QuestionID)
		if !ok {
			continue
		}
		detail.Answers = append(detail.Answers, model.AnswerView{Answer: a, Question: q})
	}
	return detail, nil
}

// DeleteSubmissions removes the given submissions and their answers so the
// students can sit the exam again. Either all IDs exist and are deleted, or
// nothing changes.
func (s *Store) DeleteSubmissions(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, model.Validationf("no submissions given")
	}
	ids = slices.Compact(slices.Sorted(slices.Values(ids)))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM answers WHERE submission_id = $1`, id); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `DELETE FROM submissions WHERE id = $1`, id)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("%s: %w", id, model.ErrSubmissionNotFound)
			}
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			slog.Error("failed to reset submissions", "count", len(ids), "error", err)
		}
		return 0, err
	}
	slog.Info("reset submissions", "count", len(ids))
	return len(ids), nil
}
