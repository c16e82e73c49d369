package access

import (
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/cbtportal/internal/model"
)

func TestCheck(t *testing.T) {
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	inAnHour := now.Add(time.Hour)
	anHourAgo := now.Add(-time.Hour)

	published := func(mut func(*model.Exam)) model.Exam {
		e := model.Exam{ID: "e", Status: model.ExamPublished}
		if mut != nil {
			mut(&e)
		}
		return e
	}

	tests := []struct {
		name       string
		exam       model.Exam
		classLevel string
		at         time.Time
		want       Decision
	}{
		{"open exam any class", published(nil), "SS2", now, Decision{Allowed: true}},
		{"open exam no class", published(nil), "", now, Decision{Allowed: true}},
		{"draft", published(func(e *model.Exam) { e.Status = model.ExamDraft }), "JSS1", now, Decision{Reason: NotPublished}},
		{"archived", published(func(e *model.Exam) { e.Status = model.ExamArchived }), "JSS1", now, Decision{Reason: NotPublished}},
		{"not started", published(func(e *model.Exam) { e.StartTime = &inAnHour }), "JSS1", now, Decision{Reason: NotStarted}},
		{"just after start", published(func(e *model.Exam) { e.StartTime = &inAnHour }), "JSS1", inAnHour.Add(time.Nanosecond), Decision{Allowed: true}},
		{"exactly at start", published(func(e *model.Exam) { e.StartTime = &inAnHour }), "JSS1", inAnHour, Decision{Allowed: true}},
		{"ended", published(func(e *model.Exam) { e.EndTime = &anHourAgo }), "JSS1", now, Decision{Reason: Ended}},
		{"exactly at end", published(func(e *model.Exam) { e.EndTime = &anHourAgo }), "JSS1", anHourAgo, Decision{Allowed: true}},
		{"class assigned", published(func(e *model.Exam) { e.AssignedTo = []string{"JSS1", "JSS2"} }), "JSS2", now, Decision{Allowed: true}},
		{"class not assigned", published(func(e *model.Exam) { e.AssignedTo = []string{"JSS1"} }), "SS1", now, Decision{Reason: ClassNotAssigned}},
		{"student without class", published(func(e *model.Exam) { e.AssignedTo = []string{"JSS1"} }), "", now, Decision{Reason: ClassNotAssigned}},
		{"status checked before window", published(func(e *model.Exam) {
			e.Status = model.ExamDraft
			e.StartTime = &inAnHour
		}), "JSS1", now, Decision{Reason: NotPublished}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Check(tt.exam, tt.classLevel, tt.at)
			if got != tt.want {
				t.Errorf("Check() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecisionErr(t *testing.T) {
	if err := (Decision{Allowed: true}).Err(); err != nil {
		t.Errorf("allowed decision returned error %v", err)
	}

	err := Decision{Reason: Ended}.Err()
	if !errors.Is(err, model.ErrExamUnavailable) {
		t.Fatalf("expected ErrExamUnavailable, got %v", err)
	}
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Reason != Ended {
		t.Errorf("expected DeniedError with reason ENDED, got %v", err)
	}
}
