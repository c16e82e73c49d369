package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/cbtportal/internal/access"
	appI18n "github.com/pavelanni/cbtportal/internal/i18n"
	"github.com/pavelanni/cbtportal/internal/importer"
	"github.com/pavelanni/cbtportal/internal/llm"
	"github.com/pavelanni/cbtportal/internal/model"
	"github.com/pavelanni/cbtportal/internal/store"
)

const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	llm      *llm.Client // nil when no essay assistant is configured
	config   model.Config
	validate *validator.Validate
	now      func() time.Time
}

// New creates a new Handler. l may be nil.
func New(s *store.Store, l *llm.Client, cfg model.Config) (*Handler, error) {
	if s == nil {
		return nil, errors.New("handler: store is required")
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		store:    s,
		llm:      l,
		config:   cfg,
		validate: v,
		now:      time.Now,
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/auth/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Get("/api/auth/me", h.handleMe)
		r.Post("/api/auth/logout", h.handleLogout)

		// Student
		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleStudent))
			r.Get("/api/exams", h.handleStudentExams)
			r.Get("/api/exams/{examID}", h.handleStudentExam)
			r.Post("/api/exams/{examID}/start", h.handleStartExam)
			r.Post("/api/exams/{examID}/submit", h.handleSubmitExam)
			r.Get("/api/submissions/mine", h.handleMySubmissions)
		})

		// Authoring and administration
		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin, model.UserRoleStaff))
			r.Get("/api/admin/exams", h.handleListExams)
			r.With(requirePermission(model.CreateExamPermission)).Post("/api/admin/exams", h.handleCreateExam)
			r.Get("/api/admin/exams/{examID}", h.handleGetExam)
			r.Delete("/api/admin/exams/{examID}", h.handleDeleteExam)
			r.Post("/api/admin/exams/{examID}/assign", h.handleAssignExam)
			r.With(requirePermission(model.CreateExamPermission)).Post("/api/admin/exams/{examID}/questions", h.handleAddQuestion)
			r.With(requirePermission(model.CreateExamPermission)).Delete("/api/admin/exams/{examID}/questions", h.handleDeleteAllQuestions)
			r.With(requirePermission(model.CreateExamPermission)).Post("/api/admin/exams/{examID}/recompute", h.handleRecomputeMarks)
			r.With(requirePermission(model.CreateExamPermission)).Delete("/api/admin/questions/{questionID}", h.handleDeleteQuestion)
			r.With(requirePermission(model.CreateExamPermission)).Post("/api/admin/questions/upload", h.handleUploadQuestions)

			r.Get("/api/admin/exams/{examID}/submissions", h.handleExamSubmissions)
			r.Get("/api/admin/exams/{examID}/results", h.handleResults)
			r.Get("/admin/exams/{examID}/results", h.handleResultsPage)
			r.Delete("/api/admin/submissions/{submissionID}", h.handleDeleteSubmission)
			r.Post("/api/admin/submissions/bulk-reset", h.handleBulkReset)

			r.With(requirePermission(model.ManageStudentsPermission)).Get("/api/admin/users", h.handleListUsers)
			r.With(requirePermission(model.ManageStudentsPermission)).Post("/api/admin/users", h.handleCreateUser)
			r.With(requirePermission(model.ManageStudentsPermission)).Put("/api/admin/users/{userID}", h.handleUpdateUser)
			r.With(requirePermission(model.ManageStudentsPermission)).Post("/api/admin/users/{userID}/toggle", h.handleToggleUserActive)
			r.With(requirePermission(model.ManageStudentsPermission)).Delete("/api/admin/users/{userID}", h.handleDeleteUser)
		})

		// Grading
		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin, model.UserRoleStaff))
			r.Use(requirePermission(model.GradePermission))
			r.Get("/api/staff/submissions/pending", h.handlePendingSubmissions)
			r.Get("/api/staff/submissions/{submissionID}", h.handleSubmissionDetail)
			r.Get("/api/staff/submissions/{submissionID}/suggestions", h.handleSuggestions)
			r.Post("/api/staff/submissions/{submissionID}/grade", h.handleGradeSubmission)
		})
	})
}

// BasePathMiddleware stores the configured base path in the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// path prefixes p with the configured base path.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	return h.path("/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

var (
	errBadRequest         = errors.New("malformed request")
	errUnauthorized       = errors.New("unauthorized")
	errInvalidCredentials = errors.New("invalid credentials")
	errAccountDisabled    = errors.New("account disabled")
	errNoAssistant        = errors.New("essay assistant not configured")
)

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return h.check(dst)
}

func (h *Handler) check(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return model.Validationf("invalid fields: %s", strings.Join(fields, ", "))
	}
	return err
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// writeError maps an error kind to a status and a localized message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var (
		denied  *access.DeniedError
		tooMany *importer.TooManyQuestionsError
		status  int
		msgID   = "ErrInternal"
	)
	switch {
	case errors.As(err, &denied):
		writeJSON(w, http.StatusForbidden, errorResponse{
			Error:   err.Error(),
			Message: appI18n.T(ctx, "Denial"+string(denied.Reason)),
			Reason:  string(denied.Reason),
		})
		return
	case errors.As(err, &tooMany):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: err.Error(),
			Message: appI18n.Td(ctx, "ErrTooManyQuestions", map[string]any{
				"Found":    tooMany.Found,
				"Expected": tooMany.Expected,
			}),
		})
		return
	case errors.Is(err, errBadRequest):
		status, msgID = http.StatusBadRequest, "ErrBadRequest"
	case errors.Is(err, model.ErrNoQuestions):
		status, msgID = http.StatusBadRequest, "ErrNoQuestions"
	case errors.Is(err, importer.ErrUnsupportedFile):
		status, msgID = http.StatusBadRequest, "ErrUnsupportedFile"
	case errors.Is(err, model.ErrValidation):
		status, msgID = http.StatusBadRequest, "ErrValidation"
	case errors.Is(err, errUnauthorized):
		status, msgID = http.StatusUnauthorized, "ErrUnauthorized"
	case errors.Is(err, errInvalidCredentials):
		status, msgID = http.StatusUnauthorized, "ErrInvalidCredentials"
	case errors.Is(err, errAccountDisabled):
		status, msgID = http.StatusUnauthorized, "ErrAccountDisabled"
	case errors.Is(err, model.ErrNotFound):
		status, msgID = http.StatusNotFound, "ErrNotFound"
	case errors.Is(err, model.ErrInvalidSubmissionState):
		status, msgID = http.StatusConflict, "ErrInvalidState"
	case errors.Is(err, model.ErrDuplicate):
		status, msgID = http.StatusConflict, "ErrDuplicate"
	case errors.Is(err, model.ErrForbidden), errors.Is(err, model.ErrExamUnavailable):
		status, msgID = http.StatusForbidden, "ErrForbidden"
	case errors.Is(err, errNoAssistant):
		status, msgID = http.StatusServiceUnavailable, "ErrAssistantUnavailable"
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "internal error",
			Message: appI18n.T(ctx, msgID),
		})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Message: appI18n.T(ctx, msgID)})
}
