package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/cbtportal/internal/i18n"
	"github.com/pavelanni/cbtportal/internal/model"
	"github.com/pavelanni/cbtportal/internal/store"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type testEnv struct {
	store  *store.Store
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h, err := New(s, nil, model.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	h.Routes(r)
	return &testEnv{store: s, router: r}
}

// addUser creates an active user whose password is "secret".
func (e *testEnv) addUser(t *testing.T, u model.User) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u.PasswordHash = string(hash)
	u.Active = true
	id, err := e.store.CreateUser(context.Background(), u)
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", u.Name, err)
	}
	return id
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, login, password string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"login": login, "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d: %s", login, rec.Code, rec.Body)
	}
	return decode[loginResponse](t, rec).Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body %s)", v, err, rec.Body)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body)
	}
}

func TestLoginAndSession(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, model.User{Name: "Ada Obi", Role: model.UserRoleStudent, AdmissionNumber: "ADM/001", ClassLevel: "JSS1"})

	rec := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"login": "ADM/001", "password": "wrong"})
	expectStatus(t, rec, http.StatusUnauthorized)
	if got := decode[errorResponse](t, rec).Message; got != "Invalid login or password." {
		t.Errorf("message = %q", got)
	}

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"login": "ADM/001", "password": "secret"})
	expectStatus(t, rec, http.StatusOK)
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("expected HttpOnly session cookie, got %+v", cookie)
	}
	token := decode[loginResponse](t, rec).Token

	rec = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	expectStatus(t, rec, http.StatusOK)
	if me := decode[model.User](t, rec); me.AdmissionNumber != "ADM/001" || me.Role != model.UserRoleStudent {
		t.Errorf("unexpected user %+v", me)
	}

	// The cookie works as well as the bearer header.
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookie)
	cookieRec := httptest.NewRecorder()
	env.router.ServeHTTP(cookieRec, req)
	expectStatus(t, cookieRec, http.StatusOK)

	expectStatus(t, env.do(t, http.MethodPost, "/api/auth/logout", token, nil), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodGet, "/api/auth/me", token, nil), http.StatusUnauthorized)
}

func TestRoleAndPermissionChecks(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, model.User{Name: "Ada Obi", Role: model.UserRoleStudent, AdmissionNumber: "ADM/001", ClassLevel: "JSS1"})
	env.addUser(t, model.User{Name: "Grace Eze", Role: model.UserRoleStaff, Email: "grace@school.test"})
	student := env.login(t, "ADM/001", "secret")
	staff := env.login(t, "grace@school.test", "secret")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/exams", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/exams", "nope", http.StatusUnauthorized},
		{"student on admin route", http.MethodGet, "/api/admin/exams", student, http.StatusForbidden},
		{"staff on student route", http.MethodGet, "/api/exams", staff, http.StatusForbidden},
		{"staff without create permission", http.MethodPost, "/api/admin/exams", staff, http.StatusForbidden},
		{"staff without grade permission", http.MethodGet, "/api/staff/submissions/pending", staff, http.StatusForbidden},
		{"staff without manage permission", http.MethodGet, "/api/admin/users", staff, http.StatusForbidden},
		{"staff lists own exams", http.MethodGet, "/api/admin/exams", staff, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := map[string]any{}
			expectStatus(t, env.do(t, tt.method, tt.path, tt.token, body), tt.want)
		})
	}
}

func TestStudentExamFlow(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, model.User{
		Name: "Grace Eze", Role: model.UserRoleStaff, Email: "grace@school.test",
		Permissions: model.StaffPermissions{CanCreateExam: true},
	})
	env.addUser(t, model.User{Name: "Ada Obi", Role: model.UserRoleStudent, AdmissionNumber: "ADM/001", ClassLevel: "JSS1"})
	env.addUser(t, model.User{Name: "Tunde Bello", Role: model.UserRoleStudent, AdmissionNumber: "ADM/002", ClassLevel: "JSS2"})
	staff := env.login(t, "grace@school.test", "secret")
	ada := env.login(t, "ADM/001", "secret")
	tunde := env.login(t, "ADM/002", "secret")

	rec := env.do(t, http.MethodPost, "/api/admin/exams", staff, map[string]any{
		"title":             "Mathematics",
		"duration":          30,
		"passingPercentage": 50,
		"questions": []map[string]any{
			{"type": "MULTIPLE_CHOICE", "question": "Two plus two?", "options": []string{"3", "4"}, "correctAnswer": "4", "marks": 2},
			{"type": "TRUE_FALSE", "question": "Zero is even.", "correctAnswer": "True", "marks": 2},
		},
	})
	expectStatus(t, rec, http.StatusCreated)
	exam := decode[model.Exam](t, rec)
	if exam.TotalMarks != 4 || exam.PassingMarks != 2 || exam.Status != model.ExamDraft {
		t.Fatalf("unexpected exam %+v", exam)
	}

	// Drafts are invisible to students.
	rec = env.do(t, http.MethodGet, "/api/exams", ada, nil)
	expectStatus(t, rec, http.StatusOK)
	if list := decode[[]studentExamListItem](t, rec); len(list) != 0 {
		t.Fatalf("expected no exams, got %d", len(list))
	}
	rec = env.do(t, http.MethodPost, "/api/exams/"+exam.ID+"/start", ada, nil)
	expectStatus(t, rec, http.StatusForbidden)
	if reason := decode[errorResponse](t, rec).Reason; reason != "NOT_PUBLISHED" {
		t.Errorf("reason = %q, want NOT_PUBLISHED", reason)
	}

	rec = env.do(t, http.MethodPost, "/api/admin/exams/"+exam.ID+"/assign", staff, map[string]any{
		"status":     "PUBLISHED",
		"assignedTo": []string{"JSS1"},
	})
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodGet, "/api/exams", ada, nil)
	expectStatus(t, rec, http.StatusOK)
	if list := decode[[]studentExamListItem](t, rec); len(list) != 1 || list[0].QuestionCount != 2 {
		t.Fatalf("unexpected exam list %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/api/exams/"+exam.ID, ada, nil)
	expectStatus(t, rec, http.StatusOK)
	if strings.Contains(rec.Body.String(), "correct_answer") {
		t.Errorf("student view leaks answer key: %s", rec.Body)
	}

	rec = env.do(t, http.MethodPost, "/api/exams/"+exam.ID+"/start", tunde, nil)
	expectStatus(t, rec, http.StatusForbidden)
	if reason := decode[errorResponse](t, rec).Reason; reason != "CLASS_NOT_ASSIGNED" {
		t.Errorf("reason = %q, want CLASS_NOT_ASSIGNED", reason)
	}

	rec = env.do(t, http.MethodPost, "/api/exams/"+exam.ID+"/start", ada, nil)
	expectStatus(t, rec, http.StatusOK)
	started := decode[startResponse](t, rec)
	if started.Submission.Status != model.StatusInProgress || len(started.Exam.Questions) != 2 {
		t.Fatalf("unexpected start response %+v", started)
	}

	// Resuming returns the same submission.
	rec = env.do(t, http.MethodPost, "/api/exams/"+exam.ID+"/start", ada, nil)
	expectStatus(t, rec, http.StatusOK)
	if again := decode[startResponse](t, rec); again.Submission.ID != started.Submission.ID {
		t.Errorf("resume created a new submission")
	}

	answers := map[string]string{}
	for _, q := range started.Exam.Questions {
		if q.Type == model.TrueFalse {
			answers[q.ID] = "True"
		} else {
			answers[q.ID] = "4"
		}
	}
	submit := map[string]any{"submissionId": started.Submission.ID, "answers": answers}

	rec = env.do(t, http.MethodPost, "/api/exams/other-exam/submit", ada, submit)
	expectStatus(t, rec, http.StatusNotFound)

	rec = env.do(t, http.MethodPost, "/api/exams/"+exam.ID+"/submit", ada, submit)
	expectStatus(t, rec, http.StatusOK)
	sub := decode[model.Submission](t, rec)
	if sub.Status != model.StatusGraded || sub.TotalScore == nil || *sub.TotalScore != 4 || sub.Passed == nil || !*sub.Passed {
		t.Errorf("unexpected graded submission %+v", sub)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/exams/"+exam.ID+"/submit", ada, submit), http.StatusConflict)
	expectStatus(t, env.do(t, http.MethodPost, "/api/exams/"+exam.ID+"/start", ada, nil), http.StatusConflict)

	rec = env.do(t, http.MethodGet, "/api/submissions/mine", ada, nil)
	expectStatus(t, rec, http.StatusOK)
	if mine := decode[[]model.SubmissionView](t, rec); len(mine) != 1 || mine[0].ExamTitle != "Mathematics" {
		t.Errorf("unexpected submissions %+v", mine)
	}

	rec = env.do(t, http.MethodGet, "/api/admin/exams/"+exam.ID+"/results", staff, nil)
	expectStatus(t, rec, http.StatusOK)
	if res := decode[model.ResultsExport](t, rec); res.Summary.TotalSubmissions != 1 || res.Summary.Passed != 1 {
		t.Errorf("unexpected results summary %+v", res.Summary)
	}

	rec = env.do(t, http.MethodGet, "/admin/exams/"+exam.ID+"/results", staff, nil)
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "Ada Obi") {
		t.Errorf("results page misses student name")
	}
}

func TestEssayGradingFlow(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, model.User{Name: "Head Teacher", Role: model.UserRoleAdmin, Email: "admin@school.test"})
	env.addUser(t, model.User{
		Name: "Grace Eze", Role: model.UserRoleStaff, Email: "grace@school.test",
		Permissions: model.StaffPermissions{CanGrade: true},
	})
	env.addUser(t, model.User{Name: "Ada Obi", Role: model.UserRoleStudent, AdmissionNumber: "ADM/001", ClassLevel: "JSS1"})
	admin := env.login(t, "admin@school.test", "secret")
	grader := env.login(t, "grace@school.test", "secret")
	ada := env.login(t, "ADM/001", "secret")

	rec := env.do(t, http.MethodPost, "/api/admin/exams", admin, map[string]any{
		"title":        "English",
		"duration":     40,
		"passingMarks": 5,
		"questions": []map[string]any{
			{"type": "ESSAY", "question": "Describe your school.", "marks": 10},
		},
	})
	expectStatus(t, rec, http.StatusCreated)
	exam := decode[model.Exam](t, rec)
	expectStatus(t, env.do(t, http.MethodPost, "/api/admin/exams/"+exam.ID+"/assign", admin,
		map[string]any{"status": "PUBLISHED"}), http.StatusOK)

	rec = env.do(t, http.MethodPost, "/api/exams/"+exam.ID+"/start", ada, nil)
	expectStatus(t, rec, http.StatusOK)
	started := decode[startResponse](t, rec)
	rec = env.do(t, http.MethodPost, "/api/exams/"+exam.ID+"/submit", ada, map[string]any{
		"submissionId": started.Submission.ID,
		"answers":      map[string]string{started.Exam.Questions[0].ID: "It is big and green."},
	})
	expectStatus(t, rec, http.StatusOK)
	if sub := decode[model.Submission](t, rec); sub.Status != model.StatusSubmitted || sub.TotalScore != nil {
		t.Fatalf("essay submission should await grading, got %+v", sub)
	}

	// The grader did not create the exam.
	rec = env.do(t, http.MethodGet, "/api/staff/submissions/pending", grader, nil)
	expectStatus(t, rec, http.StatusOK)
	if pending := decode[[]model.SubmissionView](t, rec); len(pending) != 0 {
		t.Errorf("grader should not see other staff's exams, got %d", len(pending))
	}
	expectStatus(t, env.do(t, http.MethodGet, "/api/staff/submissions/"+started.Submission.ID, grader, nil), http.StatusForbidden)

	rec = env.do(t, http.MethodGet, "/api/staff/submissions/pending", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if pending := decode[[]model.SubmissionView](t, rec); len(pending) != 1 {
		t.Fatalf("expected 1 pending submission, got %d", len(pending))
	}

	expectStatus(t, env.do(t, http.MethodGet, "/api/staff/submissions/"+started.Submission.ID+"/suggestions", admin, nil),
		http.StatusServiceUnavailable)

	rec = env.do(t, http.MethodGet, "/api/staff/submissions/"+started.Submission.ID, admin, nil)
	expectStatus(t, rec, http.StatusOK)
	detail := decode[model.SubmissionDetail](t, rec)
	if len(detail.Answers) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(detail.Answers))
	}
	answerID := detail.Answers[0].Answer.ID

	rec = env.do(t, http.MethodPost, "/api/staff/submissions/"+started.Submission.ID+"/grade", admin,
		map[string]any{"grades": map[string]float64{answerID: 11}})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, "/api/staff/submissions/"+started.Submission.ID+"/grade", admin,
		map[string]any{"grades": map[string]float64{answerID: 7}})
	expectStatus(t, rec, http.StatusOK)
	if sub := decode[model.Submission](t, rec); sub.Status != model.StatusGraded || sub.Passed == nil || !*sub.Passed {
		t.Errorf("unexpected graded submission %+v", sub)
	}

	rec = env.do(t, http.MethodPost, "/api/staff/submissions/"+started.Submission.ID+"/grade", admin,
		map[string]any{"grades": map[string]float64{answerID: 3}})
	expectStatus(t, rec, http.StatusConflict)

	rec = env.do(t, http.MethodPost, "/api/admin/submissions/bulk-reset", admin,
		map[string]any{"submissionIds": []string{started.Submission.ID}})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[countResponse](t, rec); got.Count != 1 || got.Message != "Reset 1 submission." {
		t.Errorf("unexpected reset response %+v", got)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/api/exams/"+exam.ID+"/start", ada, nil), http.StatusOK)
}

func uploadRequest(t *testing.T, token, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/admin/questions/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUploadQuestions(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, model.User{Name: "Head Teacher", Role: model.UserRoleAdmin, Email: "admin@school.test"})
	admin := env.login(t, "admin@school.test", "secret")

	doc := "1. Two plus two?\nA. 3\nB. 4*\nC. 5\n\n(2) Capital of France? (a) Paris* (b) Rome\n"
	fields := map[string]string{
		"examTitle":        "Quiz",
		"totalQuestions":   "5",
		"marksPerQuestion": "2",
		"duration":         "20",
	}
	send := func(filename, content string, fields map[string]string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, uploadRequest(t, admin, filename, content, fields))
		return rec
	}

	rec := send("quiz.txt", doc, fields)
	expectStatus(t, rec, http.StatusCreated)
	resp := decode[uploadResponse](t, rec)
	if resp.Count != 2 || resp.Exam.TotalMarks != 4 || resp.Exam.PassingMarks != 2 || resp.Exam.Status != model.ExamDraft {
		t.Errorf("unexpected upload response %+v", resp)
	}
	if resp.Message != "Imported 2 questions." {
		t.Errorf("message = %q", resp.Message)
	}

	expectStatus(t, send("quiz.txt", doc, fields), http.StatusConflict)

	tests := []struct {
		name     string
		filename string
		content  string
		override map[string]string
		want     int
	}{
		{"unsupported type", "quiz.pdf", doc, nil, http.StatusBadRequest},
		{"no questions", "empty.txt", "nothing to see here", map[string]string{"examTitle": "Empty"}, http.StatusBadRequest},
		{"too many questions", "quiz.txt", doc, map[string]string{"examTitle": "Short", "totalQuestions": "1"}, http.StatusBadRequest},
		{"missing duration", "quiz.txt", doc, map[string]string{"examTitle": "Timeless", "duration": ""}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := map[string]string{}
			for k, v := range fields {
				f[k] = v
			}
			for k, v := range tt.override {
				f[k] = v
			}
			expectStatus(t, send(tt.filename, tt.content, f), tt.want)
		})
	}

	rec = env.do(t, http.MethodGet, "/api/admin/exams", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if exams := decode[[]model.ExamSummary](t, rec); len(exams) != 1 {
		t.Errorf("rejected uploads must not create exams, got %d", len(exams))
	}
}

func TestUserAdministration(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, model.User{Name: "Head Teacher", Role: model.UserRoleAdmin, Email: "admin@school.test"})
	env.addUser(t, model.User{
		Name: "Grace Eze", Role: model.UserRoleStaff, Email: "grace@school.test",
		Permissions: model.StaffPermissions{CanManageStudents: true},
	})
	admin := env.login(t, "admin@school.test", "secret")
	staff := env.login(t, "grace@school.test", "secret")

	rec := env.do(t, http.MethodPost, "/api/admin/users", staff, map[string]any{
		"firstName": "Chidi", "surname": "Okafor", "role": "STUDENT",
		"admissionNumber": "ADM/010", "classLevel": "SS1",
	})
	expectStatus(t, rec, http.StatusCreated)
	created := decode[createUserResponse](t, rec)
	if created.Password != "okaforc" || created.User.Name != "Chidi Okafor" {
		t.Errorf("unexpected created user %+v", created)
	}
	student := env.login(t, "ADM/010", "okaforc")
	if student == "" {
		t.Fatal("expected a token")
	}

	tests := []struct {
		name  string
		token string
		body  map[string]any
		want  int
	}{
		{"staff cannot create staff", staff, map[string]any{"firstName": "A", "surname": "B", "role": "STAFF", "email": "ab@school.test"}, http.StatusForbidden},
		{"student needs admission number", admin, map[string]any{"firstName": "A", "surname": "B", "role": "STUDENT", "classLevel": "SS1"}, http.StatusBadRequest},
		{"staff needs email", admin, map[string]any{"firstName": "A", "surname": "B", "role": "STAFF"}, http.StatusBadRequest},
		{"unknown role", admin, map[string]any{"firstName": "A", "surname": "B", "role": "PARENT"}, http.StatusBadRequest},
		{"duplicate admission number", admin, map[string]any{"firstName": "A", "surname": "B", "role": "STUDENT", "admissionNumber": "ADM/010", "classLevel": "SS1"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, env.do(t, http.MethodPost, "/api/admin/users", tt.token, tt.body), tt.want)
		})
	}

	rec = env.do(t, http.MethodGet, "/api/admin/users", staff, nil)
	expectStatus(t, rec, http.StatusOK)
	for _, u := range decode[[]model.User](t, rec) {
		if u.Role != model.UserRoleStudent {
			t.Errorf("staff listing includes %s %s", u.Role, u.Name)
		}
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/admin/users/"+created.User.ID+"/toggle", admin, nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/api/auth/me", student, nil), http.StatusUnauthorized)

	me := decode[model.User](t, env.do(t, http.MethodGet, "/api/auth/me", admin, nil))
	expectStatus(t, env.do(t, http.MethodDelete, "/api/admin/users/"+me.ID, admin, nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodDelete, "/api/admin/users/"+created.User.ID, admin, nil), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodDelete, "/api/admin/users/"+created.User.ID, admin, nil), http.StatusNotFound)
}

func TestErrorMessagesAreLocalized(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, model.User{Name: "Head Teacher", Role: model.UserRoleAdmin, Email: "admin@school.test"})
	admin := env.login(t, "admin@school.test", "secret")

	tests := []struct {
		lang string
		want string
	}{
		{"en", "The requested item was not found."},
		{"fr-FR,fr;q=0.9", "L'élément demandé est introuvable."},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/exams/missing", nil)
			req.Header.Set("Authorization", "Bearer "+admin)
			req.Header.Set("Accept-Language", tt.lang)
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)
			expectStatus(t, rec, http.StatusNotFound)
			if got := decode[errorResponse](t, rec).Message; got != tt.want {
				t.Errorf("message = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGeneratePassword(t *testing.T) {
	tests := []struct {
		first, surname, want string
	}{
		{"Chidi", "Okafor", "okaforc"},
		{" émeka ", "Van Der Berg", "vanderbergé"},
		{"", "Obi", "obi"},
	}
	for _, tt := range tests {
		if got := generatePassword(tt.first, tt.surname); got != tt.want {
			t.Errorf("generatePassword(%q, %q) = %q, want %q", tt.first, tt.surname, got, tt.want)
		}
	}
}

func TestGradeSubmissionWithSkippedEssay(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, model.User{Name: "Head Teacher", Role: model.UserRoleAdmin, Email: "admin@school.test"})
	env.addUser(t, model.User{Name: "Ada Obi", Role: model.UserRoleStudent, AdmissionNumber: "ADM/001", ClassLevel: "JSS1"})
	admin := env.login(t, "admin@school.test", "secret")
	ada := env.login(t, "ADM/001", "secret")

	rec := env.do(t, http.MethodPost, "/api/admin/exams", admin, map[string]any{
		"title":        "Civics",
		"duration":     20,
		"passingMarks": 3,
		"questions": []map[string]any{
			{"type": "ESSAY", "question": "Why do we vote?", "marks": 5},
			{"type": "TRUE_FALSE", "question": "Nigeria has 36 states.", "correctAnswer": "True", "marks": 2},
		},
	})
	expectStatus(t, rec, http.StatusCreated)
	exam := decode[model.Exam](t, rec)
	expectStatus(t, env.do(t, http.MethodPost, "/api/admin/exams/"+exam.ID+"/assign", admin,
		map[string]any{"status": "PUBLISHED"}), http.StatusOK)

	rec = env.do(t, http.MethodPost, "/api/exams/"+exam.ID+"/start", ada, nil)
	expectStatus(t, rec, http.StatusOK)
	started := decode[startResponse](t, rec)
	answers := map[string]string{}
	for _, q := range started.Exam.Questions {
		if q.Type == model.TrueFalse {
			answers[q.ID] = "True"
		}
	}
	rec = env.do(t, http.MethodPost, "/api/exams/"+exam.ID+"/submit", ada,
		map[string]any{"submissionId": started.Submission.ID, "answers": answers})
	expectStatus(t, rec, http.StatusOK)
	if sub := decode[model.Submission](t, rec); sub.Status != model.StatusSubmitted {
		t.Fatalf("status = %s, want SUBMITTED", sub.Status)
	}

	gradePath := "/api/staff/submissions/" + started.Submission.ID + "/grade"
	expectStatus(t, env.do(t, http.MethodPost, gradePath, admin, map[string]any{}), http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, gradePath, admin, map[string]any{"grades": map[string]float64{}})
	expectStatus(t, rec, http.StatusOK)
	sub := decode[model.Submission](t, rec)
	if sub.Status != model.StatusGraded || sub.TotalScore == nil || *sub.TotalScore != 2 {
		t.Fatalf("unexpected graded submission %+v", sub)
	}
	if sub.Passed == nil || *sub.Passed {
		t.Errorf("2 of 7 marks should fail against a pass mark of 3, got %+v", sub.Passed)
	}
}

func TestUpdateUser(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, model.User{Name: "Head Teacher", Role: model.UserRoleAdmin, Email: "admin@school.test"})
	graceID := env.addUser(t, model.User{
		Name: "Grace Eze", Role: model.UserRoleStaff, Email: "grace@school.test",
		Permissions: model.StaffPermissions{CanCreateExam: true, CanManageStudents: true},
	})
	adaID := env.addUser(t, model.User{Name: "Ada Obi", Role: model.UserRoleStudent, AdmissionNumber: "ADM/001", ClassLevel: "JSS1"})
	env.addUser(t, model.User{Name: "Tunde Bello", Role: model.UserRoleStudent, AdmissionNumber: "ADM/002", ClassLevel: "JSS1"})
	admin := env.login(t, "admin@school.test", "secret")
	grace := env.login(t, "grace@school.test", "secret")
	ada := env.login(t, "ADM/001", "secret")

	rec := env.do(t, http.MethodPost, "/api/admin/exams", grace, map[string]any{
		"title":        "Basic Science",
		"duration":     30,
		"passingMarks": 1,
		"questions": []map[string]any{
			{"type": "TRUE_FALSE", "question": "Water boils at 100C.", "correctAnswer": "True", "marks": 2},
		},
	})
	expectStatus(t, rec, http.StatusCreated)
	exam := decode[model.Exam](t, rec)
	expectStatus(t, env.do(t, http.MethodPost, "/api/admin/exams/"+exam.ID+"/assign", grace,
		map[string]any{"status": "PUBLISHED", "assignedTo": []string{"JSS2"}}), http.StatusOK)

	examPath := "/api/exams/" + exam.ID
	rec = env.do(t, http.MethodGet, examPath, ada, nil)
	expectStatus(t, rec, http.StatusForbidden)
	if reason := decode[errorResponse](t, rec).Reason; reason != "CLASS_NOT_ASSIGNED" {
		t.Fatalf("reason = %q, want CLASS_NOT_ASSIGNED", reason)
	}

	student := func(class string) map[string]any {
		return map[string]any{
			"firstName": "Ada", "surname": "Obi", "role": "STUDENT",
			"admissionNumber": "ADM/001", "classLevel": class,
		}
	}

	// Promotion to JSS2 opens the exam on the next request.
	rec = env.do(t, http.MethodPut, "/api/admin/users/"+adaID, grace, student("JSS2"))
	expectStatus(t, rec, http.StatusOK)
	if u := decode[model.User](t, rec); u.ClassLevel != "JSS2" || u.Name != "Ada Obi" || u.AdmissionNumber != "ADM/001" {
		t.Fatalf("unexpected updated user %+v", u)
	}
	expectStatus(t, env.do(t, http.MethodGet, examPath, ada, nil), http.StatusOK)

	rec = env.do(t, http.MethodPut, "/api/admin/users/"+adaID, grace, student("JSS1"))
	expectStatus(t, rec, http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, examPath, ada, nil), http.StatusForbidden)

	// The password is untouched.
	env.login(t, "ADM/001", "secret")

	duplicate := student("JSS1")
	duplicate["admissionNumber"] = "ADM/002"
	tests := []struct {
		name  string
		token string
		id    string
		body  map[string]any
		want  int
	}{
		{"staff cannot promote to staff", grace, adaID,
			map[string]any{"firstName": "Ada", "surname": "Obi", "role": "STAFF", "email": "ada@school.test"}, http.StatusForbidden},
		{"missing surname", grace, adaID,
			map[string]any{"firstName": "Ada", "role": "STUDENT", "admissionNumber": "ADM/001", "classLevel": "JSS1"}, http.StatusBadRequest},
		{"admission number taken", grace, adaID, duplicate, http.StatusConflict},
		{"unknown user", admin, "missing", student("JSS1"), http.StatusNotFound},
		{"own account", grace, graceID,
			map[string]any{"firstName": "Grace", "surname": "Eze", "role": "STAFF", "email": "grace@school.test"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, env.do(t, http.MethodPut, "/api/admin/users/"+tt.id, tt.token, tt.body), tt.want)
		})
	}

	// Staff permissions can be withdrawn.
	rec = env.do(t, http.MethodPut, "/api/admin/users/"+graceID, admin, map[string]any{
		"firstName": "Grace", "surname": "Eze", "role": "STAFF", "email": "grace@school.test",
		"permissions": map[string]bool{"can_grade": true},
	})
	expectStatus(t, rec, http.StatusOK)
	if u := decode[model.User](t, rec); u.Permissions != (model.StaffPermissions{CanGrade: true}) {
		t.Errorf("unexpected permissions %+v", u.Permissions)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/api/admin/exams/"+exam.ID+"/questions", grace, map[string]any{
		"type": "TRUE_FALSE", "question": "Ice is cold.", "correctAnswer": "True", "marks": 1,
	}), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodPut, "/api/admin/users/"+adaID, grace, student("JSS2")), http.StatusForbidden)
}

func TestQuestionEditingNeedsCreatePermission(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, model.User{
		Name: "Grace Eze", Role: model.UserRoleStaff, Email: "grace@school.test",
		Permissions: model.StaffPermissions{CanCreateExam: true},
	})
	env.addUser(t, model.User{Name: "Musa Bala", Role: model.UserRoleStaff, Email: "musa@school.test"})
	grace := env.login(t, "grace@school.test", "secret")
	musa := env.login(t, "musa@school.test", "secret")

	rec := env.do(t, http.MethodPost, "/api/admin/exams", grace, map[string]any{
		"title":    "Agriculture",
		"duration": 15,
		"questions": []map[string]any{
			{"type": "TRUE_FALSE", "question": "Maize is a cereal.", "correctAnswer": "True", "marks": 2},
		},
	})
	expectStatus(t, rec, http.StatusCreated)
	exam := decode[model.Exam](t, rec)
	question := map[string]any{"type": "TRUE_FALSE", "question": "Yam is a tuber.", "correctAnswer": "True", "marks": 2}

	expectStatus(t, env.do(t, http.MethodPost, "/api/admin/exams/"+exam.ID+"/questions", musa, question), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodDelete, "/api/admin/questions/"+exam.Questions[0].ID, musa, nil), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodDelete, "/api/admin/exams/"+exam.ID+"/questions", musa, nil), http.StatusForbidden)

	rec = env.do(t, http.MethodPost, "/api/admin/exams/"+exam.ID+"/questions", grace, question)
	expectStatus(t, rec, http.StatusCreated)
	if updated := decode[model.Exam](t, rec); updated.TotalMarks != 4 || len(updated.Questions) != 2 {
		t.Errorf("unexpected exam after adding a question %+v", updated)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/api/admin/exams/"+exam.ID+"/recompute", musa, nil), http.StatusForbidden)

	expectStatus(t, env.do(t, http.MethodDelete, "/api/admin/questions/"+exam.Questions[0].ID, grace, nil), http.StatusOK)
	rec = env.do(t, http.MethodPost, "/api/admin/exams/"+exam.ID+"/recompute", grace, nil)
	expectStatus(t, rec, http.StatusOK)
	if updated := decode[model.Exam](t, rec); updated.TotalMarks != 2 || len(updated.Questions) != 1 || updated.Questions[0].Order != 1 {
		t.Errorf("unexpected exam after recompute %+v", updated)
	}
}
