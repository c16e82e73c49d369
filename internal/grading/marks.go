package grading

import (
	"slices"
	"strings"

	"github.com/pavelanni/cbtportal/internal/model"
)

// SumMarks totals the marks of the given questions.
func SumMarks(questions []model.Question) int {
	total := 0
	for _, q := range questions {
		total += q.Marks
	}
	return total
}

// RecomputeExamMarks derives an exam's totals from its current questions.
// Passing marks keep their previous share of the total, rounded up and
// capped at the new total.
func RecomputeExamMarks(questions []model.Question, oldTotal, oldPassing int) (total, passing int) {
	total = SumMarks(questions)
	passing = oldPassing
	if oldTotal > 0 {
		passing = ceilDiv(oldPassing*total, oldTotal)
	}
	return total, min(max(passing, 0), total)
}

// PassingMarksFor converts a pass percentage into marks, rounding up.
func PassingMarksFor(totalMarks, percentage int) int {
	return min(ceilDiv(totalMarks*percentage, 100), totalMarks)
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Renumber sorts questions by their current order and assigns 1..n.
func Renumber(questions []model.Question) []model.Question {
	out := slices.Clone(questions)
	slices.SortStableFunc(out, func(a, b model.Question) int { return a.Order - b.Order })
	for i := range out {
		out[i].Order = i + 1
	}
	return out
}

// ValidateQuestion checks a question against the rules of its type and
// returns it normalized: true/false and essay questions carry no options.
func ValidateQuestion(q model.Question) (model.Question, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, model.Validationf("question text is required")
	}
	if q.Marks <= 0 {
		return q, model.Validationf("question %q: marks must be positive", q.Text)
	}

	switch q.Type {
	case model.MultipleChoice:
		if len(q.Options) < 2 {
			return q, model.Validationf("question %q: multiple choice needs at least 2 options", q.Text)
		}
		if slices.Contains(q.Options, "") {
			return q, model.Validationf("question %q: options must not be empty", q.Text)
		}
		if !slices.Contains(q.Options, q.CorrectAnswer) {
			return q, model.Validationf("question %q: correct answer must match one of the options", q.Text)
		}
	case model.TrueFalse:
		if !slices.Contains(model.TrueFalseOptions, q.CorrectAnswer) {
			return q, model.Validationf("question %q: correct answer must be True or False", q.Text)
		}
		q.Options = nil
	case model.Essay:
		q.Options = nil
	default:
		return q, model.Validationf("question %q: unknown type %q", q.Text, q.Type)
	}
	return q, nil
}

// ValidateExam checks exam-level fields and that passing marks fit the total.
func ValidateExam(e model.Exam) error {
	if strings.TrimSpace(e.Title) == "" {
		return model.Validationf("exam title is required")
	}
	if e.Duration <= 0 {
		return model.Validationf("exam duration must be positive")
	}
	if !e.Status.Valid() {
		return model.Validationf("unknown exam status %q", e.Status)
	}
	if e.PassingMarks < 0 || e.PassingMarks > e.TotalMarks {
		return model.Validationf("passing marks %d must be between 0 and total marks %d", e.PassingMarks, e.TotalMarks)
	}
	if e.StartTime != nil && e.EndTime != nil && e.EndTime.Before(*e.StartTime) {
		return model.Validationf("end time must not be before start time")
	}
	return nil
}
