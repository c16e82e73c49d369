package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/cbtportal/internal/access"
	"github.com/pavelanni/cbtportal/internal/model"
	"github.com/pavelanni/cbtportal/internal/store"
)

type studentExamListItem struct {
	studentExam
	QuestionCount    int                    `json:"question_count"`
	SubmissionStatus model.SubmissionStatus `json:"submission_status,omitempty"`
}

type startResponse struct {
	Submission model.Submission `json:"submission"`
	Exam       studentExam      `json:"exam"`
}

// availableExam loads an exam and applies the availability policy for the
// current student.
func (h *Handler) availableExam(r *http.Request, examID string) (model.Exam, error) {
	exam, err := h.store.GetExam(r.Context(), examID)
	if err != nil {
		return model.Exam{}, err
	}
	user := model.UserFromContext(r.Context())
	if err := access.Check(exam, user.ClassLevel, h.now()).Err(); err != nil {
		return model.Exam{}, err
	}
	return exam, nil
}

func (h *Handler) handleStudentExams(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	exams, err := h.store.ListExams(r.Context(), store.ExamFilter{Status: model.ExamPublished})
	if err != nil {
		writeError(w, r, err)
		return
	}
	subs, err := h.store.ListStudentSubmissions(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := make(map[string]model.SubmissionStatus, len(subs))
	for _, s := range subs {
		status[s.ExamID] = s.Status
	}

	now := h.now()
	out := []studentExamListItem{}
	for _, e := range exams {
		if !access.Check(e.Exam, user.ClassLevel, now).Allowed {
			continue
		}
		out = append(out, studentExamListItem{
			studentExam:      newStudentExam(e.Exam, false),
			QuestionCount:    e.QuestionCount,
			SubmissionStatus: status[e.ID],
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleStudentExam(w http.ResponseWriter, r *http.Request) {
	exam, err := h.availableExam(r, chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStudentExam(exam, true))
}

func (h *Handler) handleStartExam(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	exam, err := h.availableExam(r, chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := h.store.StartOrResumeSubmission(r.Context(), exam.ID, user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("exam started", "exam_id", exam.ID, "student_id", user.ID, "submission_id", sub.ID)
	writeJSON(w, http.StatusOK, startResponse{Submission: sub, Exam: newStudentExam(exam, true)})
}

func (h *Handler) handleSubmitExam(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	examID := chi.URLParam(r, "examID")

	var req submitRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := h.store.GetSubmission(r.Context(), req.SubmissionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sub.ExamID != examID {
		writeError(w, r, fmt.Errorf("%s for exam %s: %w", req.SubmissionID, examID, model.ErrSubmissionNotFound))
		return
	}

	sub, err = h.store.RecordAnswersAndFinalize(r.Context(), sub.ID, user.ID, req.Answers, h.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("exam submitted", "exam_id", examID, "student_id", user.ID, "status", sub.Status)
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleMySubmissions(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	subs, err := h.store.ListStudentSubmissions(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []model.SubmissionView{}
	}
	writeJSON(w, http.StatusOK, subs)
}
