package model

import (
	"errors"
	"fmt"
)

// Error kinds. Callers classify failures with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")

	ErrSubmissionNotFound     = fmt.Errorf("submission %w", ErrNotFound)
	ErrInvalidSubmissionState = errors.New("invalid submission state")
	ErrNotOwner               = fmt.Errorf("submission belongs to another student: %w", ErrForbidden)
	ErrExamUnavailable        = errors.New("exam unavailable")
	ErrInvalidGrade           = fmt.Errorf("invalid grade: %w", ErrValidation)
	ErrNoQuestions            = fmt.Errorf("no valid questions found: %w", ErrValidation)
	ErrDuplicate              = errors.New("already exists")
)

// Validationf returns a validation error with a descriptive reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf returns a not-found error naming what was missing.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}
