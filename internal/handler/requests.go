package handler

import (
	"strings"
	"time"

	"github.com/pavelanni/cbtportal/internal/model"
)

type loginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

type createUserRequest struct {
	FirstName       string                 `json:"firstName" validate:"required,max=100"`
	Surname         string                 `json:"surname" validate:"required,max=100"`
	Role            model.UserRole         `json:"role" validate:"required,oneof=STUDENT STAFF ADMIN"`
	Email           string                 `json:"email" validate:"omitempty,email"`
	AdmissionNumber string                 `json:"admissionNumber" validate:"required_if=Role STUDENT"`
	ClassLevel      string                 `json:"classLevel" validate:"required_if=Role STUDENT"`
	Permissions     model.StaffPermissions `json:"permissions"`
}

// profile copies the request's profile fields onto u. Only students keep an
// admission number and class level, only staff keep permissions.
func (req createUserRequest) profile(u *model.User) {
	u.Name = strings.TrimSpace(req.FirstName) + " " + strings.TrimSpace(req.Surname)
	u.Email = strings.TrimSpace(req.Email)
	u.Role = req.Role
	u.AdmissionNumber, u.ClassLevel = "", ""
	u.Permissions = model.StaffPermissions{}
	switch req.Role {
	case model.UserRoleStudent:
		u.AdmissionNumber = strings.TrimSpace(req.AdmissionNumber)
		u.ClassLevel = strings.TrimSpace(req.ClassLevel)
	case model.UserRoleStaff:
		u.Permissions = req.Permissions
	}
}

type createUserResponse struct {
	User     *model.User `json:"user"`
	Password string      `json:"password"`
}

type questionRequest struct {
	Type          model.QuestionType `json:"type" validate:"required,oneof=MULTIPLE_CHOICE TRUE_FALSE ESSAY"`
	Question      string             `json:"question" validate:"required"`
	Options       []string           `json:"options"`
	CorrectAnswer string             `json:"correctAnswer"`
	Marks         int                `json:"marks" validate:"required,gt=0"`
}

func (q questionRequest) toQuestion() model.Question {
	return model.Question{
		Type:          q.Type,
		Text:          q.Question,
		Options:       q.Options,
		CorrectAnswer: q.CorrectAnswer,
		Marks:         q.Marks,
	}
}

type createExamRequest struct {
	Title             string            `json:"title" validate:"required,max=200"`
	Description       string            `json:"description"`
	Duration          int               `json:"duration" validate:"required,gt=0"`
	PassingMarks      *int              `json:"passingMarks" validate:"omitempty,gte=0"`
	PassingPercentage *int              `json:"passingPercentage" validate:"omitempty,gte=0,lte=100"`
	AssignedTo        []string          `json:"assignedTo"`
	StartTime         *time.Time        `json:"startTime"`
	EndTime           *time.Time        `json:"endTime"`
	Questions         []questionRequest `json:"questions" validate:"dive"`
}

type assignRequest struct {
	AssignedTo  *[]string         `json:"assignedTo"`
	Status      *model.ExamStatus `json:"status" validate:"omitempty,oneof=DRAFT PUBLISHED ARCHIVED"`
	StartTime   *time.Time        `json:"startTime"`
	EndTime     *time.Time        `json:"endTime"`
	ClearWindow bool              `json:"clearWindow"`
}

type submitRequest struct {
	SubmissionID string            `json:"submissionId" validate:"required"`
	Answers      map[string]string `json:"answers"`
}

// gradeRequest may carry an empty map: essays the student skipped have no
// answer to grade and score zero.
type gradeRequest struct {
	Grades map[string]float64 `json:"grades" validate:"required"`
}

type bulkResetRequest struct {
	SubmissionIDs []string `json:"submissionIds" validate:"required,min=1,dive,required"`
}

type countResponse struct {
	Count   int    `json:"count"`
	Message string `json:"message,omitempty"`
}

// studentExam is what a student sees of an exam: no answer key.
type studentExam struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Duration    int              `json:"duration"`
	TotalMarks  int              `json:"total_marks"`
	StartTime   *time.Time       `json:"start_time,omitempty"`
	EndTime     *time.Time       `json:"end_time,omitempty"`
	Questions   []model.Question `json:"questions,omitempty"`
}

func newStudentExam(e model.Exam, withQuestions bool) studentExam {
	out := studentExam{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		Duration:    e.Duration,
		TotalMarks:  e.TotalMarks,
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
	}
	if withQuestions {
		out.Questions = make([]model.Question, 0, len(e.Questions))
		for _, q := range e.Questions {
			out.Questions = append(out.Questions, q.StudentView())
		}
	}
	return out
}
