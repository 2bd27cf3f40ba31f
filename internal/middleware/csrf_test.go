package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func csrfHandler(called *bool, token *string) http.Handler {
	return NewCSRFMiddleware(CookieConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		*token = CSRFTokenFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCSRFMiddleware_GETIssuesTokenIntoContext(t *testing.T) {
	var called bool
	var token string
	w := httptest.NewRecorder()
	csrfHandler(&called, &token).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/journal", nil))

	if !called {
		t.Fatal("handler should be called for GET")
	}
	if len(token) != 64 {
		t.Errorf("token = %q, want 64 hex chars", token)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != csrfCookieName || cookies[0].Value != token {
		t.Errorf("cookies = %+v", cookies)
	}
	if cookies[0].HttpOnly {
		t.Error("CSRF cookie must be readable by scripts")
	}
}

func TestCSRFMiddleware_GETReusesCookieToken(t *testing.T) {
	var called bool
	var token string
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()
	csrfHandler(&called, &token).ServeHTTP(w, req)

	if token != "existing" {
		t.Errorf("token = %q, want existing", token)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("cookie should not be reissued")
	}
}

func TestCSRFMiddleware_POST(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		header     string
		formToken  string
		wantStatus int
	}{
		{"header matches", "tok", "tok", "", http.StatusOK},
		{"form field matches", "tok", "", "tok", http.StatusOK},
		{"missing cookie", "", "tok", "", http.StatusForbidden},
		{"missing token", "tok", "", "", http.StatusForbidden},
		{"mismatch", "tok", "other", "", http.StatusForbidden},
		{"form mismatch", "tok", "", "other", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{"title": {"t"}}
			if tt.formToken != "" {
				form.Set(CSRFFormField, tt.formToken)
			}
			req := httptest.NewRequest(http.MethodPost, "/journal", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(CSRFHeaderName, tt.header)
			}

			var called bool
			var token string
			w := httptest.NewRecorder()
			csrfHandler(&called, &token).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
			if called && token != tt.cookie {
				t.Errorf("context token = %q, want %q", token, tt.cookie)
			}
		})
	}
}

func TestCSRFMiddleware_FormIsStillReadableByHandler(t *testing.T) {
	form := url.Values{CSRFFormField: {"tok"}, "title": {"Morning"}}
	req := httptest.NewRequest(http.MethodPost, "/journal", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})

	var title string
	handler := NewCSRFMiddleware(CookieConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title = r.PostFormValue("title")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if title != "Morning" {
		t.Errorf("title = %q, want Morning", title)
	}
}
