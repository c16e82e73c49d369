package model

import "time"

// ResultsExport is the top-level JSON structure for an exam's results.
type ResultsExport struct {
	ExamID       string          `json:"exam_id"`
	Title        string          `json:"title"`
	TotalMarks   int             `json:"total_marks"`
	PassingMarks int             `json:"passing_marks"`
	Duration     int             `json:"duration"`
	GeneratedAt  time.Time       `json:"generated_at"`
	Summary      ResultsSummary  `json:"summary"`
	Results      []StudentResult `json:"results"`
}

// ResultsSummary counts outcomes across submissions.
type ResultsSummary struct {
	TotalSubmissions int `json:"total_submissions"`
	Passed           int `json:"passed"`
	Failed           int `json:"failed"`
	NotGraded        int `json:"not_graded"`
}

// StudentResult holds one student's outcome for export.
type StudentResult struct {
	Name            string           `json:"name"`
	AdmissionNumber string           `json:"admission_number"`
	ClassLevel      string           `json:"class_level"`
	Email           string           `json:"email,omitempty"`
	Status          SubmissionStatus `json:"status"`
	TotalScore      *float64         `json:"total_score"`
	Percentage      *float64         `json:"percentage"`
	Passed          *bool            `json:"passed"`
	SubmittedAt     *time.Time       `json:"submitted_at,omitempty"`
}

// Summarize counts passed, failed and ungraded results.
func Summarize(results []StudentResult) ResultsSummary {
	s := ResultsSummary{TotalSubmissions: len(results)}
	for _, r := range results {
		switch {
		case r.Passed == nil:
			s.NotGraded++
		case *r.Passed:
			s.Passed++
		default:
			s.Failed++
		}
	}
	return s
}
