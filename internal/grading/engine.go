// Package grading scores submissions and keeps exam mark totals consistent.
//
// Everything here is pure: callers load the exam, submission and answers,
// call into this package, and persist the returned values atomically.
package grading

import (
	"fmt"
	"math"
	"time"

	"github.com/pavelanni/cbtportal/internal/model"
)

// Result is the outcome of a grading step: the submission's new state and
// the answer rows to write.
type Result struct {
	Submission model.Submission
	Answers    []model.Answer
}

// AutoGrade records a student's answers and finalizes the submission.
//
// Objective answers are compared to the key by exact string equality.
// If the exam has any essay question the submission becomes SUBMITTED with
// no totals, otherwise it is GRADED immediately.
func AutoGrade(exam model.Exam, sub model.Submission, studentID string, answers map[string]string, now time.Time) (Result, error) {
	if err := checkOwnership(exam, sub, studentID); err != nil {
		return Result{}, err
	}
	if sub.Status != model.StatusInProgress {
		return Result{}, fmt.Errorf("finalize submission in state %s: %w", sub.Status, model.ErrInvalidSubmissionState)
	}

	var (
		graded []model.Answer
		total  float64
	)
	// Walk the exam rather than the map so answers come out in question order.
	for _, q := range exam.Questions {
		text, ok := answers[q.ID]
		if !ok {
			continue
		}
		a := model.Answer{
			SubmissionID: sub.ID,
			QuestionID:   q.ID,
			Text:         text,
		}
		if q.Type.AutoGraded() {
			correct := text == q.CorrectAnswer
			var marks float64
			if correct {
				marks = float64(q.Marks)
			}
			a.IsCorrect = &correct
			a.Marks = &marks
			total += marks
		}
		graded = append(graded, a)
	}

	submittedAt := now
	sub.SubmittedAt = &submittedAt
	if exam.HasEssay() {
		sub.Status = model.StatusSubmitted
		sub.TotalScore, sub.Percentage, sub.Passed = nil, nil, nil
	} else {
		sub.Status = model.StatusGraded
		setTotals(&sub, exam, total)
	}

	return Result{Submission: sub, Answers: graded}, nil
}

// ApplyManualGrades sets essay marks and computes the final result.
//
// grades maps answer ID to awarded marks and may only reference essay answers
// of this submission. Essay answers left out are awarded zero. Objective
// answers keep the marks stored when the submission was finalized.
func ApplyManualGrades(exam model.Exam, sub model.Submission, answers []model.Answer, grades map[string]float64) (Result, error) {
	if sub.ExamID != exam.ID {
		return Result{}, model.ErrSubmissionNotFound
	}
	if sub.Status != model.StatusSubmitted {
		return Result{}, fmt.Errorf("grade submission in state %s: %w", sub.Status, model.ErrInvalidSubmissionState)
	}

	byID := make(map[string]model.Answer, len(answers))
	for _, a := range answers {
		byID[a.ID] = a
	}
	for id, marks := range grades {
		a, ok := byID[id]
		if !ok {
			return Result{}, fmt.Errorf("answer %s is not part of submission %s: %w", id, sub.ID, model.ErrInvalidGrade)
		}
		q, ok := exam.Question(a.QuestionID)
		if !ok || q.Type != model.Essay {
			return Result{}, fmt.Errorf("answer %s is not an essay answer: %w", id, model.ErrInvalidGrade)
		}
		if math.IsNaN(marks) || marks < 0 || marks > float64(q.Marks) {
			return Result{}, fmt.Errorf("marks %v outside 0..%d for answer %s: %w", marks, q.Marks, id, model.ErrInvalidGrade)
		}
	}

	var (
		updated []model.Answer
		total   float64
	)
	for _, a := range answers {
		q, ok := exam.Question(a.QuestionID)
		if !ok {
			continue
		}
		if q.Type == model.Essay {
			marks := grades[a.ID]
			a.Marks = &marks
			updated = append(updated, a)
			total += marks
			continue
		}
		if a.Marks != nil {
			total += *a.Marks
		}
	}

	sub.Status = model.StatusGraded
	setTotals(&sub, exam, total)

	return Result{Submission: sub, Answers: updated}, nil
}

// Percentage returns score as a share of totalMarks, unrounded.
// An exam without marks yields zero.
func Percentage(score float64, totalMarks int) float64 {
	if totalMarks <= 0 {
		return 0
	}
	return score / float64(totalMarks) * 100
}

func setTotals(sub *model.Submission, exam model.Exam, total float64) {
	pct := Percentage(total, exam.TotalMarks)
	passed := total >= float64(exam.PassingMarks)
	sub.TotalScore = &total
	sub.Percentage = &pct
	sub.Passed = &passed
}

func checkOwnership(exam model.Exam, sub model.Submission, studentID string) error {
	if sub.ExamID != exam.ID {
		return model.ErrSubmissionNotFound
	}
	if sub.StudentID != studentID {
		return model.ErrNotOwner
	}
	return nil
}
