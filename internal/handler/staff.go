package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/cbtportal/internal/llm"
	"github.com/pavelanni/cbtportal/internal/model"
)

type suggestionsResponse struct {
	SubmissionID string           `json:"submission_id"`
	Suggestions  []llm.Suggestion `json:"suggestions"`
}

func (h *Handler) handlePendingSubmissions(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	creator := user.ID
	if user.Role == model.UserRoleAdmin {
		creator = ""
	}
	subs, err := h.store.ListPendingSubmissions(r.Context(), creator)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []model.SubmissionView{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// gradableDetail loads a submission whose exam the current user may grade.
func (h *Handler) gradableDetail(r *http.Request) (*model.SubmissionDetail, error) {
	id := chi.URLParam(r, "submissionID")
	detail, err := h.store.GetSubmissionDetail(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !canManage(model.UserFromContext(r.Context()), detail.Exam) {
		return nil, fmt.Errorf("submission %s: %w", id, model.ErrForbidden)
	}
	return detail, nil
}

func (h *Handler) handleSubmissionDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.gradableDetail(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if h.llm == nil {
		writeError(w, r, errNoAssistant)
		return
	}
	detail, err := h.gradableDetail(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if detail.Submission.Status != model.StatusSubmitted {
		writeError(w, r, fmt.Errorf("submission %s is %s: %w", detail.Submission.ID, detail.Submission.Status, model.ErrInvalidSubmissionState))
		return
	}
	suggestions, err := h.llm.SuggestForSubmission(r.Context(), detail)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if suggestions == nil {
		suggestions = []llm.Suggestion{}
	}
	writeJSON(w, http.StatusOK, suggestionsResponse{SubmissionID: detail.Submission.ID, Suggestions: suggestions})
}

func (h *Handler) handleGradeSubmission(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	id := chi.URLParam(r, "submissionID")
	var req gradeRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := h.store.ApplyManualGrades(r.Context(), id, model.Identity{UserID: user.ID, Role: user.Role}, req.Grades)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("submission graded", "submission_id", id, "grader", user.ID, "status", sub.Status)
	writeJSON(w, http.StatusOK, sub)
}
