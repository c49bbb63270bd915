package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/nous/internal/models"
	"github.com/starford/nous/internal/realm"
	"github.com/starford/nous/internal/testutil"
)

// testEnv sets up a temp realm holding files, indexes it, and builds a router.
// A non-empty authToken enables token mode.
func testEnv(t *testing.T, authToken string, files map[string]string) (*realm.Realm, http.Handler, string) {
	t.Helper()
	return testEnvWithSSE(t, authToken, files, nil)
}

func testEnvWithSSE(t *testing.T, authToken string, files map[string]string, sseHandler http.Handler) (*realm.Realm, http.Handler, string) {
	t.Helper()
	rlm, dir := testutil.TestRealm(t, files)
	router := NewRouter(rlm, authToken != "", authToken, sseHandler)
	return rlm, router, dir
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

var linked = map[string]string{
	"alpha.md":        "# Alpha\nSee [[beta]] and [[ghost]].\n",
	"beta.md":         "Back to [[alpha|home]].\n",
	"notes/x.md":      "",
	"archive/x.md":    "",
	"notes/refers.md": "[[x]]\n",
}

func TestListNodesAndNames(t *testing.T) {
	_, router, _ := testEnv(t, "", linked)

	w := do(t, router, http.MethodGet, "/nodes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var list NodeListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 5 || len(list.Nodes) != 5 {
		t.Errorf("list = %+v, want 5 nodes", list)
	}

	w = do(t, router, http.MethodGet, "/names", nil)
	var names NamesResponse
	_ = json.Unmarshal(w.Body.Bytes(), &names)
	want := []string{"alpha", "archive/x", "beta", "notes/refers", "notes/x"}
	if len(names.Names) != len(want) {
		t.Fatalf("names = %v, want %v", names.Names, want)
	}
	for i := range want {
		if names.Names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names.Names[i], want[i])
		}
	}
}

func TestGetNode(t *testing.T) {
	_, router, _ := testEnv(t, "", linked)

	w := do(t, router, http.MethodGet, "/nodes/ALPHA", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d, body = %s", w.Code, w.Body.String())
	}
	var n models.Node
	_ = json.Unmarshal(w.Body.Bytes(), &n)
	if n.Path != "alpha.md" || n.Title != "Alpha" {
		t.Errorf("node = %+v", n)
	}

	if w := do(t, router, http.MethodGet, "/nodes/notes%2Fx", nil); w.Code != http.StatusOK {
		t.Errorf("encoded slash = %d", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/nodes/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing node = %d, want 404", w.Code)
	}
}

func TestGetNode_Ambiguous(t *testing.T) {
	_, router, _ := testEnv(t, "", linked)

	w := do(t, router, http.MethodGet, "/nodes/x", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("ambiguous = %d, want 409", w.Code)
	}
	var resp errResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Candidates) != 2 || resp.Candidates[0] != "archive/x" || resp.Candidates[1] != "notes/x" {
		t.Errorf("candidates = %v", resp.Candidates)
	}
}

func TestBacklinksAndForwardLinks(t *testing.T) {
	_, router, _ := testEnv(t, "", linked)

	w := do(t, router, http.MethodGet, "/backlinks/beta", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("backlinks = %d", w.Code)
	}
	var bl realm.ResultSet
	_ = json.Unmarshal(w.Body.Bytes(), &bl)
	if len(bl.Nodes) != 1 || bl.Nodes[0].Name != "alpha" {
		t.Errorf("backlinks(beta) = %+v", bl.Nodes)
	}

	w = do(t, router, http.MethodGet, "/links/alpha", nil)
	var fl realm.ResultSet
	_ = json.Unmarshal(w.Body.Bytes(), &fl)
	if len(fl.Nodes) != 1 || fl.Nodes[0].Name != "beta" {
		t.Errorf("forward(alpha) = %+v", fl.Nodes)
	}
	if len(fl.Unresolved) != 1 || fl.Unresolved[0].Link.Target != "ghost" {
		t.Errorf("forward(alpha) unresolved = %+v", fl.Unresolved)
	}
}

func TestUnresolvedEndpoint(t *testing.T) {
	_, router, _ := testEnv(t, "", linked)

	w := do(t, router, http.MethodGet, "/unresolved", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unresolved = %d", w.Code)
	}
	var resp UnresolvedResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Links) != 2 {
		t.Fatalf("links = %+v, want ghost and x", resp.Links)
	}
	if resp.Links[0].Link.Target != "ghost" || resp.Links[0].Kind != models.Unresolved {
		t.Errorf("links[0] = %+v", resp.Links[0])
	}
	if resp.Links[1].Kind != models.Ambiguous || len(resp.Links[1].Candidates) != 2 {
		t.Errorf("links[1] = %+v", resp.Links[1])
	}
}

func TestNodePath(t *testing.T) {
	_, router, dir := testEnv(t, "", linked)

	w := do(t, router, http.MethodGet, "/path/refers", nil)
	var resp PathResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Path != filepath.Join("notes", "refers.md") {
		t.Errorf("path = %q", resp.Path)
	}

	w = do(t, router, http.MethodGet, "/path/refers?absolute=true", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Path != filepath.Join(dir, "notes", "refers.md") {
		t.Errorf("absolute path = %q", resp.Path)
	}
}

func TestTouchRemoveAndMove(t *testing.T) {
	_, router, dir := testEnv(t, "", linked)

	w := do(t, router, http.MethodPost, "/nodes", TouchRequest{Name: "inbox"})
	if w.Code != http.StatusCreated {
		t.Fatalf("touch new = %d, body = %s", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodPost, "/nodes", TouchRequest{Name: "inbox"}); w.Code != http.StatusOK {
		t.Errorf("touch existing = %d, want 200", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/nodes", TouchRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("touch without name = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodPost, "/move", MoveRequest{From: "beta", To: "gamma"})
	if w.Code != http.StatusOK {
		t.Fatalf("move = %d, body = %s", w.Code, w.Body.String())
	}
	data, _ := os.ReadFile(filepath.Join(dir, "alpha.md"))
	if string(data) != "# Alpha\nSee [[gamma]] and [[ghost]].\n" {
		t.Errorf("alpha.md = %q", data)
	}
	if w := do(t, router, http.MethodPost, "/move", MoveRequest{From: "gamma", To: "alpha"}); w.Code != http.StatusConflict {
		t.Errorf("move onto existing = %d, want 409", w.Code)
	}

	if w := do(t, router, http.MethodDelete, "/nodes/inbox", nil); w.Code != http.StatusNoContent {
		t.Errorf("remove = %d, want 204", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/nodes/inbox", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after remove = %d, want 404", w.Code)
	}
}

func TestReindexAndStats(t *testing.T) {
	rlm, router, dir := testEnv(t, "", linked)
	before := rlm.Generation()

	if err := os.WriteFile(filepath.Join(dir, "ghost.md"), []byte("boo"), 0o644); err != nil {
		t.Fatal(err)
	}
	w := do(t, router, http.MethodPost, "/reindex", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reindex = %d", w.Code)
	}
	var stats models.Stats
	_ = json.Unmarshal(w.Body.Bytes(), &stats)
	if stats.Created != 1 || stats.Generation != before+1 {
		t.Errorf("stats = %+v", stats)
	}

	if w := do(t, router, http.MethodPost, "/reindex?full=true", nil); w.Code != http.StatusOK {
		t.Errorf("full reindex = %d", w.Code)
	}

	w = do(t, router, http.MethodGet, "/stats", nil)
	var resp StatsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Nodes != 6 || resp.Generation != before+1 || resp.Root != rlm.Root() {
		t.Errorf("stats response = %+v", resp)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router, _ := testEnv(t, "secret123", nil)

	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router, _ := testEnv(t, "secret123", nil)

	if w := do(t, router, http.MethodGet, "/nodes", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router, _ := testEnv(t, "secret123", nil)

	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

// SSE endpoint auth tests.

func sseStub() http.Handler {
	// Writes headers and blocks until context done.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router, _ := testEnvWithSSE(t, "secret", nil, sseStub())

	if w := do(t, router, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router, _ := testEnvWithSSE(t, "tok", nil, sseStub())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
