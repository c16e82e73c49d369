// Package access decides whether a student may open an exam right now.
package access

import (
	"fmt"
	"slices"
	"time"

	"github.com/pavelanni/cbtportal/internal/model"
)

// DenialReason says why an exam is not available.
type DenialReason string

const (
	NotPublished     DenialReason = "NOT_PUBLISHED"
	NotStarted       DenialReason = "NOT_STARTED"
	Ended            DenialReason = "ENDED"
	ClassNotAssigned DenialReason = "CLASS_NOT_ASSIGNED"
)

// Decision is the result of an availability check.
type Decision struct {
	Allowed bool         `json:"allowed"`
	Reason  DenialReason `json:"reason,omitempty"`
}

// Err returns nil for an allowed decision, otherwise an error wrapping
// model.ErrExamUnavailable.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Reason: d.Reason}
}

// DeniedError carries the denial reason for translation by callers.
type DeniedError struct {
	Reason DenialReason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s", model.ErrExamUnavailable, e.Reason)
}

func (e *DeniedError) Unwrap() error { return model.ErrExamUnavailable }

// Check evaluates the exam's status, time window and class assignment for
// a student of the given class at time now. An exam assigned to no class is
// open to every class.
func Check(exam model.Exam, classLevel string, now time.Time) Decision {
	switch {
	case exam.Status != model.ExamPublished:
		return deny(NotPublished)
	case exam.StartTime != nil && now.Before(*exam.StartTime):
		return deny(NotStarted)
	case exam.EndTime != nil && now.After(*exam.EndTime):
		return deny(Ended)
	case len(exam.AssignedTo) > 0 && (classLevel == "" || !slices.Contains(exam.AssignedTo, classLevel)):
		return deny(ClassNotAssigned)
	}
	return Decision{Allowed: true}
}

func deny(r DenialReason) Decision {
	return Decision{Reason: r}
}
