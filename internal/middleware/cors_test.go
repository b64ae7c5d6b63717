package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(t *testing.T, allowed []string, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	h := CORS(allowed)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(method, "/api/state", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSExplicitOrigin(t *testing.T) {
	rec := serve(t, []string{"https://shell.example.com"}, http.MethodGet, "https://shell.example.com")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://shell.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("expected credentials for explicit origin")
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want next handler", rec.Code)
	}
}

func TestCORSWildcardNoCredentials(t *testing.T) {
	rec := serve(t, []string{"*"}, http.MethodGet, "https://anything.example.com")
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected wildcard to allow origin")
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("wildcard must not allow credentials")
	}
}

func TestCORSRejectedOrigin(t *testing.T) {
	rec := serve(t, []string{"https://shell.example.com"}, http.MethodGet, "https://evil.example.com")
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unexpected Allow-Origin for rejected origin")
	}
}

func TestCORSPreflight(t *testing.T) {
	rec := serve(t, []string{"*"}, http.MethodOptions, "https://shell.example.com")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://shell.example.com"}
	if !OriginAllowed(allowed, "") {
		t.Error("empty origin should be allowed")
	}
	if !OriginAllowed(allowed, "https://shell.example.com") {
		t.Error("explicit origin should be allowed")
	}
	if OriginAllowed(allowed, "https://evil.example.com") {
		t.Error("unexpected origin allowed")
	}
}
