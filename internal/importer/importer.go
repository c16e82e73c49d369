// Package importer turns an uploaded question document into a draft exam.
package importer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/cbtportal/internal/docx"
	"github.com/pavelanni/cbtportal/internal/grading"
	"github.com/pavelanni/cbtportal/internal/model"
	"github.com/pavelanni/cbtportal/internal/parser"
)

// DefaultPassingPercentage applies when an upload does not name one.
const DefaultPassingPercentage = 50

// ErrUnsupportedFile is returned for documents that are neither .docx nor .txt.
var ErrUnsupportedFile = fmt.Errorf("unsupported file type: %w", model.ErrValidation)

// TooManyQuestionsError reports a document with more questions than declared.
type TooManyQuestionsError struct {
	Found, Expected int
}

func (e *TooManyQuestionsError) Error() string {
	return fmt.Sprintf("found %d questions, expected at most %d", e.Found, e.Expected)
}

func (e *TooManyQuestionsError) Unwrap() error { return model.ErrValidation }

// Options describe the exam built from a document.
type Options struct {
	Title             string `json:"examTitle" validate:"required,max=200"`
	Description       string `json:"examDescription"`
	TotalQuestions    int    `json:"totalQuestions" validate:"required,gt=0"`
	MarksPerQuestion  int    `json:"marksPerQuestion" validate:"required,gt=0"`
	Duration          int    `json:"duration" validate:"required,gt=0"`
	PassingPercentage int    `json:"passingPercentage" validate:"gte=0,lte=100"`
	CreatedByID       string `json:"-"`
}

// DocumentText returns the plain text of a question document, chosen by
// file extension.
func DocumentText(filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".docx":
		text, err := docx.ExtractText(data)
		if err != nil {
			return "", fmt.Errorf("%s: %v: %w", filename, err, ErrUnsupportedFile)
		}
		return text, nil
	case ".txt":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%s is not UTF-8 text: %w", filename, ErrUnsupportedFile)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("%s: %w", filename, ErrUnsupportedFile)
}

// BuildExam parses document text into a DRAFT exam. Zero questions yield
// model.ErrNoQuestions and more than opts.TotalQuestions a
// *TooManyQuestionsError.
func BuildExam(text string, opts Options) (model.Exam, error) {
	records := parser.Parse(text, opts.MarksPerQuestion)
	if len(records) == 0 {
		return model.Exam{}, model.ErrNoQuestions
	}
	if opts.TotalQuestions > 0 && len(records) > opts.TotalQuestions {
		return model.Exam{}, &TooManyQuestionsError{Found: len(records), Expected: opts.TotalQuestions}
	}

	questions := make([]model.Question, 0, len(records))
	for i, rec := range records {
		questions = append(questions, rec.ToQuestion(i+1))
	}
	return model.Exam{
		Title:        strings.TrimSpace(opts.Title),
		Description:  opts.Description,
		Duration:     opts.Duration,
		PassingMarks: grading.PassingMarksFor(grading.SumMarks(questions), opts.PassingPercentage),
		Status:       model.ExamDraft,
		CreatedByID:  opts.CreatedByID,
		Questions:    questions,
	}, nil
}

// Hash identifies an upload by exam title and file content.
func Hash(title string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
