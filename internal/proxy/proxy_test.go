package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T, upstream string, mw ...gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fwd, err := NewForwarder(upstream, 2*time.Second)
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}
	router := gin.New()
	handlers := append(mw, fwd.Handle)
	router.POST("/api/chat", handlers...)
	return router
}

func post(router http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestForwarderRelaysBodyVerbatim(t *testing.T) {
	var gotBody, gotPath, gotMethod, gotType string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody, gotPath, gotMethod, gotType = string(data), r.URL.Path, r.Method, r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reply":"hi there","extra":1}`))
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream.URL+"/chat")
	body := `{"message":"hello",  "lang":"en"}`
	rec := post(router, body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"reply":"hi there","extra":1}` {
		t.Fatalf("upstream body not passed through: %s", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if gotBody != body {
		t.Fatalf("request body altered: %q", gotBody)
	}
	if gotPath != "/chat" || gotMethod != http.MethodPost || gotType != "application/json" {
		t.Fatalf("unexpected upstream request %s %s (%s)", gotMethod, gotPath, gotType)
	}
}

func TestForwarderMasksUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream sleeping"))
	}))
	defer upstream.Close()

	rec := post(newTestRouter(t, upstream.URL+"/chat"), `{"message":"hello"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if rec.Body.String() != `{"error":"Failed to connect backend"}` {
		t.Fatalf("unexpected error body %s", rec.Body.String())
	}
}

func TestForwarderUnreachableUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	target := upstream.URL + "/chat"
	upstream.Close()

	rec := post(newTestRouter(t, target), `{"message":"hello"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestForwarderRejectsInvalidBodies(t *testing.T) {
	var called atomic.Bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	}))
	defer upstream.Close()
	router := newTestRouter(t, upstream.URL+"/chat")

	for _, body := range []string{"", "not json", `[]`, `{"text":"hi"}`, `{"message":42}`, `null`} {
		rec := post(router, body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
	if called.Load() {
		t.Fatalf("upstream should not be called for invalid bodies")
	}
}

func TestRateLimit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"reply":"ok"}`))
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream.URL+"/chat", RateLimit(0.001, 2))
	for i := 0; i < 2; i++ {
		if rec := post(router, `{"message":"hi"}`); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	if rec := post(router, `{"message":"hi"}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestNewForwarderValidatesURL(t *testing.T) {
	for _, target := range []string{"ftp://example.com/chat", "/chat", "http://"} {
		if _, err := NewForwarder(target, time.Second); err == nil {
			t.Fatalf("expected error for %q", target)
		}
	}
}
