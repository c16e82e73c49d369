package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/cbtportal/internal/grading"
	"github.com/pavelanni/cbtportal/internal/model"
)

const examColumns = `id, title, description, duration, total_marks, passing_marks, status,
	start_time, end_time, assigned_to, created_by_id, created_at`

// CreateExam validates and inserts an exam with its questions. TotalMarks is
// always derived from the questions; PassingMarks is taken as given.
func (s *Store) CreateExam(ctx context.Context, e model.Exam) (model.Exam, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return s.insertExam(ctx, tx, &e)
	})
	if err != nil {
		return model.Exam{}, err
	}
	slog.Info("created exam", "id", e.ID, "title", e.Title, "questions", len(e.Questions))
	return e, nil
}

func (s *Store) insertExam(ctx context.Context, tx *sql.Tx, e *model.Exam) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = model.ExamDraft
	}
	if e.AssignedTo == nil {
		e.AssignedTo = []string{}
	}
	e.CreatedAt = s.now()

	questions := make([]model.Question, 0, len(e.Questions))
	for i, q := range e.Questions {
		v, err := grading.ValidateQuestion(q)
		if err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
		if v.Order == 0 {
			v.Order = i + 1
		}
		questions = append(questions, v)
	}
	e.Questions = grading.Renumber(questions)
	e.TotalMarks = grading.SumMarks(e.Questions)
	if err := grading.ValidateExam(*e); err != nil {
		return err
	}

	assigned, err := encodeStrings(e.AssignedTo)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO exams (id, title, description, duration, total_marks, passing_marks, status,
			start_time, end_time, assigned_to, created_by_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.Title, e.Description, e.Duration, e.TotalMarks, e.PassingMarks, e.Status,
		e.StartTime, e.EndTime, assigned, e.CreatedByID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert exam: %w", err)
	}
	for i := range e.Questions {
		e.Questions[i].ExamID = e.ID
		if err := insertQuestion(ctx, tx, &e.Questions[i]); err != nil {
			return err
		}
	}
	return nil
}

func insertQuestion(ctx context.Context, q querier, question *model.Question) error {
	if question.ID == "" {
		question.ID = uuid.NewString()
	}
	opts, err := encodeStrings(question.Options)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO questions (id, exam_id, type, question, options, correct_answer, marks, position)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		question.ID, question.ExamID, question.Type, question.Text, opts,
		question.CorrectAnswer, question.Marks, question.Order,
	)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

// GetExam returns an exam with its questions in order.
func (s *Store) GetExam(ctx context.Context, id string) (model.Exam, error) {
	return getExam(ctx, s.db, id)
}

func getExam(ctx context.Context, q querier, id string) (model.Exam, error) {
	e, err := scanExam(q.QueryRowContext(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
	if err != nil {
		return model.Exam{}, notFound(err, model.NotFoundf("exam %s", id))
	}
	e.Questions, err = listQuestions(ctx, q, id)
	if err != nil {
		return model.Exam{}, err
	}
	return e, nil
}

func scanExam(row rowScanner) (model.Exam, error) {
	var (
		e        model.Exam
		assigned string
	)
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Duration, &e.TotalMarks, &e.PassingMarks,
		&e.Status, &e.StartTime, &e.EndTime, &assigned, &e.CreatedByID, &e.CreatedAt)
	if err != nil {
		return model.Exam{}, err
	}
	if e.AssignedTo, err = decodeStrings(assigned); err != nil {
		return model.Exam{}, fmt.Errorf("exam %s assigned_to: %w", e.ID, err)
	}
	if e.AssignedTo == nil {
		e.AssignedTo = []string{}
	}
	return e, nil
}

func listQuestions(ctx context.Context, q querier, examID string) ([]model.Question, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, exam_id, type, question, options, correct_answer, marks, position
		 FROM questions WHERE exam_id = $1 ORDER BY position, id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		question, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, question)
	}
	return questions, rows.Err()
}

func scanQuestion(row rowScanner) (model.Question, error) {
	var (
		q    model.Question
		opts string
	)
	if err := row.Scan(&q.ID, &q.ExamID, &q.Type, &q.Text, &opts, &q.CorrectAnswer, &q.Marks, &q.Order); err != nil {
		return model.Question{}, err
	}
	var err error
	if q.Options, err = decodeStrings(opts); err != nil {
		return model.Question{}, fmt.Errorf("question %s options: %w", q.ID, err)
	}
	if len(q.Options) == 0 {
		q.Options = nil
	}
	return q, nil
}

// GetQuestion returns a single question.
func (s *Store) GetQuestion(ctx context.Context, id string) (model.Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT id, exam_id, type, question, options, correct_answer, marks, position
		 FROM questions WHERE id = $1`, id))
	if err != nil {
		return model.Question{}, notFound(err, model.NotFoundf("question %s", id))
	}
	return q, nil
}

// ExamFilter narrows ListExams. Zero values match everything.
type ExamFilter struct {
	CreatedBy string
	Status    model.ExamStatus
}

// ListExams returns exam summaries, newest first. Questions are not loaded.
func (s *Store) ListExams(ctx context.Context, f ExamFilter) ([]model.ExamSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.title, e.description, e.duration, e.total_marks, e.passing_marks, e.status,
			e.start_time, e.end_time, e.assigned_to, e.created_by_id, e.created_at,
			(SELECT COUNT(*) FROM questions q WHERE q.exam_id = e.id),
			(SELECT COUNT(*) FROM submissions s WHERE s.exam_id = e.id),
			COALESCE(u.name, '')
		 FROM exams e LEFT JOIN users u ON u.id = e.created_by_id
		 WHERE ($1 = '' OR e.created_by_id = $1) AND ($2 = '' OR e.status = $2)
		 ORDER BY e.created_at DESC, e.id`,
		f.CreatedBy, string(f.Status),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExamSummary
	for rows.Next() {
		var (
			sum      model.ExamSummary
			assigned string
		)
		e := &sum.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Duration, &e.TotalMarks, &e.PassingMarks,
			&e.Status, &e.StartTime, &e.EndTime, &assigned, &e.CreatedByID, &e.CreatedAt,
			&sum.QuestionCount, &sum.SubmissionCount, &sum.CreatedByName); err != nil {
			return nil, err
		}
		if e.AssignedTo, err = decodeStrings(assigned); err != nil {
			return nil, fmt.Errorf("exam %s assigned_to: %w", e.ID, err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ExamSettings are the editable fields of an exam. Nil fields are left alone.
type ExamSettings struct {
	Title        *string
	Description  *string
	Duration     *int
	PassingMarks *int
	Status       *model.ExamStatus
	AssignedTo   *[]string
	StartTime    *time.Time
	EndTime      *time.Time
	ClearWindow  bool
}

// UpdateExamSettings changes an exam's publication settings and returns the
// updated exam.
func (s *Store) UpdateExamSettings(ctx context.Context, id string, set ExamSettings) (model.Exam, error) {
	var e model.Exam
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if e, err = getExam(ctx, tx, id); err != nil {
			return err
		}
		if set.Title != nil {
			e.Title = *set.Title
		}
		if set.Description != nil {
			e.Description = *set.Description
		}
		if set.Duration != nil {
			e.Duration = *set.Duration
		}
		if set.PassingMarks != nil {
			e.PassingMarks = *set.PassingMarks
		}
		if set.Status != nil {
			e.Status = *set.Status
		}
		if set.AssignedTo != nil {
			e.AssignedTo = *set.AssignedTo
			if e.AssignedTo == nil {
				e.AssignedTo = []string{}
			}
		}
		if set.ClearWindow {
			e.StartTime, e.EndTime = nil, nil
		}
		if set.StartTime != nil {
			e.StartTime = set.StartTime
		}
		if set.EndTime != nil {
			e.EndTime = set.EndTime
		}
		if err := grading.ValidateExam(e); err != nil {
			return err
		}

		assigned, err := encodeStrings(e.AssignedTo)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE exams SET title = $1, description = $2, duration = $3, passing_marks = $4,
				status = $5, assigned_to = $6, start_time = $7, end_time = $8
			 WHERE id = $9`,
			e.Title, e.Description, e.Duration, e.PassingMarks, e.Status, assigned,
			e.StartTime, e.EndTime, e.ID,
		)
		return err
	})
	if err != nil {
		return model.Exam{}, err
	}
	slog.Info("updated exam", "id", id, "status", e.Status, "assigned_to", e.AssignedTo)
	return e, nil
}

// AddQuestion appends a validated question to an exam and rescales its marks.
func (s *Store) AddQuestion(ctx context.Context, examID string, q model.Question) (model.Exam, error) {
	var e model.Exam
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		old, err := getExam(ctx, tx, examID)
		if err != nil {
			return err
		}
		v, err := grading.ValidateQuestion(q)
		if err != nil {
			return err
		}
		v.ID = ""
		v.ExamID = examID
		v.Order = len(old.Questions) + 1
		if err := insertQuestion(ctx, tx, &v); err != nil {
			return err
		}
		e, err = recomputeExamMarks(ctx, tx, old)
		return err
	})
	return e, err
}

// DeleteQuestion removes a question and its answers, then recomputes the
// exam's marks and renumbers the remaining questions. It returns the updated
// exam.
func (s *Store) DeleteQuestion(ctx context.Context, questionID string) (model.Exam, error) {
	var e model.Exam
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var examID string
		err := tx.QueryRowContext(ctx, `SELECT exam_id FROM questions WHERE id = $1`, questionID).Scan(&examID)
		if err != nil {
			return notFound(err, model.NotFoundf("question %s", questionID))
		}
		old, err := getExam(ctx, tx, examID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM answers WHERE question_id = $1`, questionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE id = $1`, questionID); err != nil {
			return err
		}
		e, err = recomputeExamMarks(ctx, tx, old)
		return err
	})
	if err != nil {
		return model.Exam{}, err
	}
	slog.Info("deleted question", "id", questionID, "exam_id", e.ID, "total_marks", e.TotalMarks, "passing_marks", e.PassingMarks)
	return e, nil
}

// DeleteAllQuestions removes every question of an exam and returns how many
// were deleted. The exam's marks drop to zero.
func (s *Store) DeleteAllQuestions(ctx context.Context, examID string) (int, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		old, err := getExam(ctx, tx, examID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM answers WHERE question_id IN (SELECT id FROM questions WHERE exam_id = $1)`, examID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE exam_id = $1`, examID)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		_, err = recomputeExamMarks(ctx, tx, old)
		return err
	})
	return int(n), err
}

// RecomputeExamMarks brings an exam's totals and question order in line with
// its current questions.
func (s *Store) RecomputeExamMarks(ctx context.Context, examID string) (model.Exam, error) {
	var e model.Exam
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		old, err := getExam(ctx, tx, examID)
		if err != nil {
			return err
		}
		e, err = recomputeExamMarks(ctx, tx, old)
		return err
	})
	return e, err
}

// recomputeExamMarks rescales old's marks to the questions now stored for it
// and renumbers them 1..n.
func recomputeExamMarks(ctx context.Context, tx *sql.Tx, old model.Exam) (model.Exam, error) {
	questions, err := listQuestions(ctx, tx, old.ID)
	if err != nil {
		return model.Exam{}, err
	}
	questions = grading.Renumber(questions)
	for _, q := range questions {
		if _, err := tx.ExecContext(ctx, `UPDATE questions SET position = $1 WHERE id = $2`, q.Order, q.ID); err != nil {
			return model.Exam{}, err
		}
	}

	total, passing := grading.RecomputeExamMarks(questions, old.TotalMarks, old.PassingMarks)
	if _, err := tx.ExecContext(ctx,
		`UPDATE exams SET total_marks = $1, passing_marks = $2 WHERE id = $3`,
		total, passing, old.ID); err != nil {
		return model.Exam{}, err
	}

	e := old
	e.TotalMarks, e.PassingMarks, e.Questions = total, passing, questions
	return e, nil
}

// DeleteExam removes an exam with its questions, submissions and answers.
func (s *Store) DeleteExam(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM answers WHERE submission_id IN (SELECT id FROM submissions WHERE exam_id = $1)`,
			`DELETE FROM submissions WHERE exam_id = $1`,
			`DELETE FROM questions WHERE exam_id = $1`,
			`DELETE FROM uploads WHERE exam_id = $1`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM exams WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.NotFoundf("exam %s", id)
		}
		return nil
	})
}
