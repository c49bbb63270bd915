package internal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/nous/internal/realm"
	"github.com/starford/nous/internal/sse"
	"github.com/starford/nous/internal/testutil"
)

func testHandler(t *testing.T, cfg *Config) (http.Handler, *realm.Realm) {
	t.Helper()
	dir := testutil.TestRealmDir(t, map[string]string{"a.md": "[[b]]", "b.md": ""})

	app := &application{
		config: cfg,
		root:   dir,
		logger: testutil.Quiet,
	}
	rlm, err := app.openRealm(context.Background())
	if err != nil {
		t.Fatalf("openRealm: %v", err)
	}
	t.Cleanup(func() { rlm.Close() })

	broker := sse.NewBroker(time.Second)
	t.Cleanup(broker.Close)
	rlm.OnReindex(broker.PublishReindex)
	return NewHandler(cfg, rlm, broker), rlm
}

func get(t *testing.T, h http.Handler, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandler_Health(t *testing.T) {
	h, _ := testHandler(t, NewDefaultConfig())

	for _, p := range []string{"/health/live", "/health/ready"} {
		if w := get(t, h, p, ""); w.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", p, w.Code)
		}
	}
}

func TestHandler_APIAndMetrics(t *testing.T) {
	h, _ := testHandler(t, NewDefaultConfig())

	w := get(t, h, "/api/backlinks/b", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"name":"a"`) {
		t.Fatalf("backlinks = %d %s", w.Code, w.Body.String())
	}

	w = get(t, h, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"nous_generation", "nous_http_request_duration_seconds", `path="/api/backlinks/*"`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestHandler_TokenAuth(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth = AuthConfig{Mode: AuthModeToken, Token: "s3cret"}
	h, _ := testHandler(t, cfg)

	if w := get(t, h, "/api/names", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
	if w := get(t, h, "/api/names", "s3cret"); w.Code != http.StatusOK {
		t.Errorf("token = %d, want 200", w.Code)
	}
	if w := get(t, h, "/health/live", ""); w.Code != http.StatusOK {
		t.Errorf("health behind auth = %d, want 200", w.Code)
	}
}

func TestNewApplication_RequiresConfigAndRoot(t *testing.T) {
	if _, err := newApplication(nil); err == nil {
		t.Error("missing config should fail")
	}
	if _, err := newApplication([]Option{WithConfig(NewDefaultConfig())}); err == nil {
		t.Error("missing root should fail")
	}
	app, err := newApplication([]Option{WithConfig(NewDefaultConfig()), WithRoot("/r"), WithVersion("1.2.3")})
	if err != nil || app.version != "1.2.3" {
		t.Errorf("app = %+v, %v", app, err)
	}
}
