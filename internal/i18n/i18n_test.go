package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pavelanni/assessor/internal/model"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestVerdictLabels(t *testing.T) {
	tests := []struct {
		lang    string
		verdict model.Verdict
		want    string
	}{
		{"en", model.VerdictCorrect, "Correct"},
		{"en", model.VerdictIncorrect, "Incorrect"},
		{"en", model.VerdictNotVerified, "Not verified"},
		{"ru", model.VerdictCorrect, "Верно"},
		{"ru", model.VerdictNotVerified, "Не проверено"},
	}
	for _, tt := range tests {
		t.Run(tt.lang+"/"+string(tt.verdict), func(t *testing.T) {
			ctx := initLang(t, tt.lang)
			if got := Verdict(ctx, tt.verdict); got != tt.want {
				t.Errorf("Verdict(%s) = %q, want %q", tt.verdict, got, tt.want)
			}
		})
	}
}

func TestPluralTranslation(t *testing.T) {
	en := initLang(t, "en")
	if got := Tp(en, "BatchFailed", 1); got != "1 question could not be verified." {
		t.Errorf("Tp(BatchFailed, 1) = %q", got)
	}
	if got := Tp(en, "BatchFailed", 3); got != "3 questions could not be verified." {
		t.Errorf("Tp(BatchFailed, 3) = %q", got)
	}

	ru := initLang(t, "ru")
	if got := Tp(ru, "BatchFailed", 5); got != "5 вопросов не удалось проверить." {
		t.Errorf("Tp(BatchFailed, 5) ru = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ScoreSummary", map[string]any{"Score": 2, "Total": 3})
	if got != "2 of 3 correct" {
		t.Errorf("Td(ScoreSummary) = %q, want '2 of 3 correct'", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMiddlewareAcceptLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "VerdictCorrect")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Верно" {
		t.Errorf("with Accept-Language ru got %q", got)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got != "Correct" {
		t.Errorf("default language got %q", got)
	}
}
