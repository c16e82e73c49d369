package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "AppTitle")
	if got != "CBT Portal" {
		t.Errorf("T(AppTitle) = %q, want 'CBT Portal'", got)
	}

	got = T(ctx, "DenialNOT_STARTED")
	if got != "This exam has not started yet." {
		t.Errorf("T(DenialNOT_STARTED) = %q", got)
	}
}

func TestTranslateFrench(t *testing.T) {
	ctx := initLang(t, "fr")

	got := T(ctx, "AppTitle")
	if got != "Portail CBT" {
		t.Errorf("T(AppTitle) = %q, want 'Portail CBT'", got)
	}

	got = T(ctx, "DenialENDED")
	if got != "Cet examen est terminé." {
		t.Errorf("T(DenialENDED) = %q, want 'Cet examen est terminé.'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "SubmissionCount", 1)
	if got1 != "1 submission" {
		t.Errorf("Tp(SubmissionCount, 1) = %q, want '1 submission'", got1)
	}

	got5 := Tp(ctx, "QuestionsImported", 5)
	if got5 != "Imported 5 questions." {
		t.Errorf("Tp(QuestionsImported, 5) = %q, want 'Imported 5 questions.'", got5)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ErrTooManyQuestions", map[string]any{"Found": 12, "Expected": 10})
	want := "The document contains 12 questions but only 10 were expected."
	if got != want {
		t.Errorf("Td(ErrTooManyQuestions) = %q, want %q", got, want)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestLanguages(t *testing.T) {
	initLang(t, "en")
	langs := Languages()
	for _, want := range []string{"en", "fr"} {
		if !slices.Contains(langs, want) {
			t.Errorf("Languages() = %v, missing %s", langs, want)
		}
	}
}

func TestMiddlewareAcceptLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"french preferred", "fr-FR,fr;q=0.9,en;q=0.8", "Portail CBT"},
		{"english", "en-GB", "CBT Portal"},
		{"unsupported falls back", "de-DE", "CBT Portal"},
		{"no header", "", "CBT Portal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = T(r.Context(), "AppTitle")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Accept-Language", tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("AppTitle = %q, want %q", got, tt.want)
			}
		})
	}
}
