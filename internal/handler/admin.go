package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/cbtportal/internal/grading"
	"github.com/pavelanni/cbtportal/internal/handler/views"
	appI18n "github.com/pavelanni/cbtportal/internal/i18n"
	"github.com/pavelanni/cbtportal/internal/importer"
	"github.com/pavelanni/cbtportal/internal/model"
	"github.com/pavelanni/cbtportal/internal/store"
)

const maxUploadBytes = 10 << 20

// canManage reports whether user may manage exam: admins any, staff their own.
func canManage(user *model.User, exam model.Exam) bool {
	return user.Role == model.UserRoleAdmin || exam.CreatedByID == user.ID
}

// ownedExam loads an exam the current user may manage.
func (h *Handler) ownedExam(r *http.Request, examID string) (model.Exam, error) {
	exam, err := h.store.GetExam(r.Context(), examID)
	if err != nil {
		return model.Exam{}, err
	}
	if !canManage(model.UserFromContext(r.Context()), exam) {
		return model.Exam{}, fmt.Errorf("exam %s: %w", examID, model.ErrForbidden)
	}
	return exam, nil
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	f := store.ExamFilter{Status: model.ExamStatus(r.URL.Query().Get("status"))}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, r, model.Validationf("unknown exam status %q", f.Status))
		return
	}
	if user.Role != model.UserRoleAdmin {
		f.CreatedBy = user.ID
	}
	exams, err := h.store.ListExams(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if exams == nil {
		exams = []model.ExamSummary{}
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req createExamRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	questions := make([]model.Question, 0, len(req.Questions))
	for i, q := range req.Questions {
		question := q.toQuestion()
		question.Order = i + 1
		questions = append(questions, question)
	}
	exam := model.Exam{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Duration:    req.Duration,
		Status:      model.ExamDraft,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		AssignedTo:  req.AssignedTo,
		CreatedByID: user.ID,
		Questions:   questions,
	}
	switch {
	case req.PassingMarks != nil:
		exam.PassingMarks = *req.PassingMarks
	case req.PassingPercentage != nil:
		exam.PassingMarks = grading.PassingMarksFor(grading.SumMarks(questions), *req.PassingPercentage)
	default:
		exam.PassingMarks = grading.PassingMarksFor(grading.SumMarks(questions), importer.DefaultPassingPercentage)
	}

	created, err := h.store.CreateExam(r.Context(), exam)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	exam, err := h.ownedExam(r, chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	exam, err := h.ownedExam(r, chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.DeleteExam(r.Context(), exam.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAssignExam(w http.ResponseWriter, r *http.Request) {
	exam, err := h.ownedExam(r, chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req assignRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := h.store.UpdateExamSettings(r.Context(), exam.ID, store.ExamSettings{
		Status:      req.Status,
		AssignedTo:  req.AssignedTo,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		ClearWindow: req.ClearWindow,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleAddQuestion(w http.ResponseWriter, r *http.Request) {
	exam, err := h.ownedExam(r, chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req questionRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := h.store.AddQuestion(r.Context(), exam.ID, req.toQuestion())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, updated)
}

func (h *Handler) handleDeleteAllQuestions(w http.ResponseWriter, r *http.Request) {
	exam, err := h.ownedExam(r, chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.store.DeleteAllQuestions(r.Context(), exam.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

// handleRecomputeMarks rescales an exam's totals and renumbers its questions.
func (h *Handler) handleRecomputeMarks(w http.ResponseWriter, r *http.Request) {
	exam, err := h.ownedExam(r, chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := h.store.RecomputeExamMarks(r.Context(), exam.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("recomputed exam marks", "id", exam.ID, "total_marks", updated.TotalMarks, "passing_marks", updated.PassingMarks)
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := h.store.GetQuestion(r.Context(), chi.URLParam(r, "questionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.ownedExam(r, q.ExamID); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := h.store.DeleteQuestion(r.Context(), q.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type uploadResponse struct {
	Message string     `json:"message"`
	Count   int        `json:"count"`
	Exam    model.Exam `json:"exam"`
}

func (h *Handler) parseUploadForm(r *http.Request) (importer.Options, error) {
	opts := importer.Options{
		Title:             strings.TrimSpace(r.FormValue("examTitle")),
		Description:       r.FormValue("examDescription"),
		PassingPercentage: importer.DefaultPassingPercentage,
	}
	ints := []struct {
		field string
		dst   *int
	}{
		{"totalQuestions", &opts.TotalQuestions},
		{"marksPerQuestion", &opts.MarksPerQuestion},
		{"duration", &opts.Duration},
		{"passingPercentage", &opts.PassingPercentage},
	}
	for _, in := range ints {
		raw := strings.TrimSpace(r.FormValue(in.field))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return opts, model.Validationf("%s must be a whole number", in.field)
		}
		*in.dst = n
	}
	return opts, h.check(opts)
}

func (h *Handler) handleUploadQuestions(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, model.Validationf("no file uploaded"))
		return
	}
	defer file.Close()

	opts, err := h.parseUploadForm(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	opts.CreatedByID = user.ID

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}
	text, err := importer.DocumentText(header.Filename, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	exam, err := importer.BuildExam(text, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := h.store.ImportExam(r.Context(), exam, importer.Hash(opts.Title, data), header.Filename)
	if err != nil {
		writeError(w, r, err)
		return
	}

	n := len(created.Questions)
	slog.Info("uploaded questions via admin", "filename", header.Filename, "count", n, "exam_id", created.ID)
	writeJSON(w, http.StatusCreated, uploadResponse{
		Message: appI18n.Tp(r.Context(), "QuestionsImported", n),
		Count:   n,
		Exam:    created,
	})
}

func (h *Handler) handleExamSubmissions(w http.ResponseWriter, r *http.Request) {
	exam, err := h.ownedExam(r, chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	subs, err := h.store.ListExamSubmissions(r.Context(), exam.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []model.SubmissionView{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	exam, err := h.ownedExam(r, chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	export, err := h.store.ExportResults(r.Context(), exam.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (h *Handler) handleResultsPage(w http.ResponseWriter, r *http.Request) {
	exam, err := h.ownedExam(r, chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	export, err := h.store.ExportResults(r.Context(), exam.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ResultsPage(export).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// resettable checks that the current user may reset every given submission.
func (h *Handler) resettable(r *http.Request, ids []string) error {
	user := model.UserFromContext(r.Context())
	if user.Role == model.UserRoleAdmin {
		return nil
	}
	checked := make(map[string]bool)
	for _, id := range ids {
		sub, err := h.store.GetSubmission(r.Context(), id)
		if err != nil {
			return err
		}
		if checked[sub.ExamID] {
			continue
		}
		if _, err := h.ownedExam(r, sub.ExamID); err != nil {
			return err
		}
		checked[sub.ExamID] = true
	}
	return nil
}

func (h *Handler) handleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "submissionID")
	if err := h.resettable(r, []string{id}); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.store.DeleteSubmissions(r.Context(), []string{id}); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBulkReset(w http.ResponseWriter, r *http.Request) {
	var req bulkResetRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.resettable(r, req.SubmissionIDs); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.store.DeleteSubmissions(r.Context(), req.SubmissionIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{
		Count:   n,
		Message: appI18n.Tp(r.Context(), "SubmissionsReset", n),
	})
}

// generatePassword derives the initial password: surname followed by the
// first letter of the first name, lower-cased.
func generatePassword(firstName, surname string) string {
	initial, _ := utf8.DecodeRuneInString(strings.TrimSpace(firstName))
	s := strings.ReplaceAll(strings.TrimSpace(surname), " ", "")
	if initial != utf8.RuneError {
		s += string(initial)
	}
	return strings.ToLower(s)
}

// mayManageUser reports whether actor may change target. Staff with the
// manage-students permission only reach students.
func mayManageUser(actor *model.User, target model.UserRole) bool {
	return actor.Role == model.UserRoleAdmin || target == model.UserRoleStudent
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	f := store.UserFilter{
		Role:       model.UserRole(r.URL.Query().Get("role")),
		ClassLevel: r.URL.Query().Get("class"),
	}
	if user.Role != model.UserRoleAdmin {
		f.Role = model.UserRoleStudent
	}
	users, err := h.store.ListUsers(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	actor := model.UserFromContext(r.Context())
	var req createUserRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !mayManageUser(actor, req.Role) {
		writeError(w, r, fmt.Errorf("create %s: %w", req.Role, model.ErrForbidden))
		return
	}
	if req.Role != model.UserRoleStudent && strings.TrimSpace(req.Email) == "" {
		writeError(w, r, model.Validationf("email is required for %s users", req.Role))
		return
	}

	password := generatePassword(req.FirstName, req.Surname)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		writeError(w, r, err)
		return
	}

	u := model.User{PasswordHash: string(hash), Active: true}
	req.profile(&u)

	id, err := h.store.CreateUser(r.Context(), u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createUserResponse{User: created, Password: password})
}

// targetUser loads the user named in the URL and checks actor may change it.
func (h *Handler) targetUser(r *http.Request) (*model.User, error) {
	actor := model.UserFromContext(r.Context())
	id := chi.URLParam(r, "userID")
	if id == actor.ID {
		return nil, model.Validationf("you cannot change your own account")
	}
	target, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, model.NotFoundf("user %s", id)
	}
	if !mayManageUser(actor, target.Role) {
		return nil, fmt.Errorf("user %s: %w", id, model.ErrForbidden)
	}
	return target, nil
}

// handleUpdateUser replaces a user's profile. A student moved to another
// class sees a different set of assigned exams from the next request on.
func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	actor := model.UserFromContext(r.Context())
	target, err := h.targetUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createUserRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !mayManageUser(actor, req.Role) {
		writeError(w, r, fmt.Errorf("change user %s to %s: %w", target.ID, req.Role, model.ErrForbidden))
		return
	}
	if req.Role != model.UserRoleStudent && strings.TrimSpace(req.Email) == "" {
		writeError(w, r, model.Validationf("email is required for %s users", req.Role))
		return
	}
	if req.Role != model.UserRoleStudent && target.Role == model.UserRoleStudent {
		subs, err := h.store.ListStudentSubmissions(r.Context(), target.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if len(subs) > 0 {
			writeError(w, r, model.Validationf("user %s has %d submissions and must stay a student", target.ID, len(subs)))
			return
		}
	}

	req.profile(target)
	if err := h.store.UpdateUser(r.Context(), *target); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := h.store.GetUserByID(r.Context(), target.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	target, err := h.targetUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	active, err := h.store.ToggleUserActive(r.Context(), target.ID)
	if err != nil {
		slog.Error("failed to toggle user active", "id", target.ID, "error", err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": active})
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	target, err := h.targetUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.DeleteUser(r.Context(), target.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
