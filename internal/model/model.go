package model

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent takes exams.
	UserRoleStudent UserRole = "STUDENT"
	// UserRoleStaff authors and grades exams, subject to StaffPermissions.
	UserRoleStaff UserRole = "STAFF"
	// UserRoleAdmin manages everything.
	UserRoleAdmin UserRole = "ADMIN"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleStudent, UserRoleStaff, UserRoleAdmin:
		return true
	}
	return false
}

// StaffPermissions are the capabilities an admin grants to a staff member.
type StaffPermissions struct {
	CanCreateExam     bool `json:"can_create_exam"`
	CanGrade          bool `json:"can_grade"`
	CanManageStudents bool `json:"can_manage_students"`
}

// ParseStaffPermissions decodes the stored permissions blob.
// An empty blob means no permissions; unknown keys are rejected.
func ParseStaffPermissions(raw string) (StaffPermissions, error) {
	var p StaffPermissions
	if raw == "" || raw == "null" {
		return p, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return StaffPermissions{}, fmt.Errorf("decode staff permissions: %w", err)
	}
	return p, nil
}

// User represents a system user.
type User struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Email           string           `json:"email,omitempty"`
	AdmissionNumber string           `json:"admission_number,omitempty"`
	ClassLevel      string           `json:"class_level,omitempty"`
	PasswordHash    string           `json:"-"`
	Role            UserRole         `json:"role"`
	Permissions     StaffPermissions `json:"permissions"`
	Active          bool             `json:"active"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Can reports whether the user may perform the permission-gated action.
// Admins can do everything, students nothing.
func (u *User) Can(check func(StaffPermissions) bool) bool {
	switch u.Role {
	case UserRoleAdmin:
		return true
	case UserRoleStaff:
		return check(u.Permissions)
	}
	return false
}

// CreateExamPermission selects StaffPermissions.CanCreateExam.
func CreateExamPermission(p StaffPermissions) bool { return p.CanCreateExam }

// GradePermission selects StaffPermissions.CanGrade.
func GradePermission(p StaffPermissions) bool { return p.CanGrade }

// ManageStudentsPermission selects StaffPermissions.CanManageStudents.
func ManageStudentsPermission(p StaffPermissions) bool { return p.CanManageStudents }

// Identity is the acting user as seen by operations that must re-check ownership.
type Identity struct {
	UserID string
	Role   UserRole
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

// ExamStatus is the publication state of an exam.
type ExamStatus string

const (
	ExamDraft     ExamStatus = "DRAFT"
	ExamPublished ExamStatus = "PUBLISHED"
	ExamArchived  ExamStatus = "ARCHIVED"
)

// Valid reports whether s is a known exam status.
func (s ExamStatus) Valid() bool {
	switch s {
	case ExamDraft, ExamPublished, ExamArchived:
		return true
	}
	return false
}

// QuestionType selects how a question is answered and graded.
type QuestionType string

const (
	MultipleChoice QuestionType = "MULTIPLE_CHOICE"
	TrueFalse      QuestionType = "TRUE_FALSE"
	Essay          QuestionType = "ESSAY"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case MultipleChoice, TrueFalse, Essay:
		return true
	}
	return false
}

// AutoGraded reports whether answers of this type are graded without staff input.
func (t QuestionType) AutoGraded() bool {
	return t == MultipleChoice || t == TrueFalse
}

// TrueFalseOptions are the implicit choices of a TRUE_FALSE question.
var TrueFalseOptions = []string{"True", "False"}

// SubmissionStatus represents the status of a student's attempt.
type SubmissionStatus string

const (
	StatusInProgress SubmissionStatus = "IN_PROGRESS"
	StatusSubmitted  SubmissionStatus = "SUBMITTED"
	StatusGraded     SubmissionStatus = "GRADED"
)

// Exam is a gradable assessment made of ordered questions.
type Exam struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Duration     int        `json:"duration"` // minutes
	TotalMarks   int        `json:"total_marks"`
	PassingMarks int        `json:"passing_marks"`
	Status       ExamStatus `json:"status"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	AssignedTo   []string   `json:"assigned_to"`
	CreatedByID  string     `json:"created_by_id"`
	CreatedAt    time.Time  `json:"created_at"`
	Questions    []Question `json:"questions,omitempty"`
}

// HasEssay reports whether any question needs manual grading.
func (e Exam) HasEssay() bool {
	return slices.ContainsFunc(e.Questions, func(q Question) bool { return q.Type == Essay })
}

// Question finds a question of the exam by ID.
func (e Exam) Question(id string) (Question, bool) {
	for _, q := range e.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Question is one gradable item within an exam.
type Question struct {
	ID            string       `json:"id"`
	ExamID        string       `json:"exam_id"`
	Type          QuestionType `json:"type"`
	Text          string       `json:"question"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	Marks         int          `json:"marks"`
	Order         int          `json:"order"`
}

// StudentView strips the answer key.
func (q Question) StudentView() Question {
	q.CorrectAnswer = ""
	if q.Type == TrueFalse {
		q.Options = TrueFalseOptions
	}
	return q
}

// Submission is one student's attempt at one exam.
type Submission struct {
	ID          string           `json:"id"`
	ExamID      string           `json:"exam_id"`
	StudentID   string           `json:"student_id"`
	Status      SubmissionStatus `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	SubmittedAt *time.Time       `json:"submitted_at,omitempty"`
	TotalScore  *float64         `json:"total_score"`
	Percentage  *float64         `json:"percentage"`
	Passed      *bool            `json:"passed"`
}

// Answer is one response to one question within a submission.
type Answer struct {
	ID           string   `json:"id"`
	SubmissionID string   `json:"submission_id"`
	QuestionID   string   `json:"question_id"`
	Text         string   `json:"answer"`
	IsCorrect    *bool    `json:"is_correct"`
	Marks        *float64 `json:"marks"`
}

// QuestionRecord is a question extracted from an uploaded document.
type QuestionRecord struct {
	Type          QuestionType `json:"type"`
	Question      string       `json:"question"`
	Options       []string     `json:"options"`
	CorrectAnswer string       `json:"correct_answer"`
	Marks         int          `json:"marks"`
}

// ToQuestion converts a parsed record into a question at the given 1-based position.
func (r QuestionRecord) ToQuestion(order int) Question {
	return Question{
		Type:          r.Type,
		Text:          r.Question,
		Options:       r.Options,
		CorrectAnswer: r.CorrectAnswer,
		Marks:         r.Marks,
		Order:         order,
	}
}

// ExamSummary is an exam row with counts for dashboards.
type ExamSummary struct {
	Exam
	QuestionCount   int    `json:"question_count"`
	SubmissionCount int    `json:"submission_count"`
	CreatedByName   string `json:"created_by_name"`
}

// SubmissionView joins a submission with who took it and what exam it was.
type SubmissionView struct {
	Submission
	StudentName     string `json:"student_name"`
	AdmissionNumber string `json:"admission_number,omitempty"`
	ClassLevel      string `json:"class_level,omitempty"`
	ExamTitle       string `json:"exam_title"`
}

// AnswerView combines an answer with its question for grading screens.
type AnswerView struct {
	Answer   Answer   `json:"answer"`
	Question Question `json:"question"`
}

// SubmissionDetail is a submission with its exam and every answer.
type SubmissionDetail struct {
	Submission SubmissionView `json:"submission"`
	Exam       Exam           `json:"exam"`
	Answers    []AnswerView   `json:"answers"`
}

// Config holds runtime parameters set via CLI flags.
type Config struct {
	BasePath      string // URL prefix for sub-path deployments (e.g. "/cbt")
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
	PromptVariant string // Essay suggestion prompt variant (strict, standard, lenient)
}
