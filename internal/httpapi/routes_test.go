package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/markwell/bookmarkd/internal/auth"
	"github.com/markwell/bookmarkd/internal/engine"
	"github.com/markwell/bookmarkd/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	verifier := auth.StaticVerifier{
		"token-1": "user-1",
		"token-2": "user-2",
	}
	mux := http.NewServeMux()
	NewServer(engine.New(st, nil), verifier, nil).RegisterRoutes(mux)
	mux.HandleFunc("GET /healthz", HandleHealthz)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

// do issues an authenticated request and decodes the JSON response body.
func do(t *testing.T, ts *httptest.Server, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reqBody *bytes.Buffer = bytes.NewBuffer(nil)
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reqBody)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func createBookmark(t *testing.T, ts *httptest.Server, token, title string) string {
	t.Helper()
	status, body := do(t, ts, http.MethodPost, "/api/bookmarks", token, map[string]any{
		"title": title,
		"url":   "https://" + title + ".test",
	})
	if status != http.StatusCreated {
		t.Fatalf("create returned %d: %v", status, body)
	}
	bookmark := body["bookmark"].(map[string]any)
	return bookmark["id"].(string)
}

func TestCreateAndGet(t *testing.T) {
	ts := newTestServer(t)

	status, body := do(t, ts, http.MethodPost, "/api/bookmarks", "token-1", map[string]any{
		"title":     "Example",
		"url":       "https://example.com",
		"sortOrder": 2,
	})
	if status != http.StatusCreated {
		t.Fatalf("create returned %d: %v", status, body)
	}
	if body["syncVersion"].(float64) != 1 {
		t.Errorf("syncVersion = %v, want 1", body["syncVersion"])
	}
	id := body["bookmark"].(map[string]any)["id"].(string)

	status, got := do(t, ts, http.MethodGet, "/api/bookmarks/"+id, "token-1", nil)
	if status != http.StatusOK {
		t.Fatalf("get returned %d", status)
	}
	if got["title"] != "Example" || got["url"] != "https://example.com" {
		t.Errorf("get = %v, want created fields", got)
	}
	if got["isFolder"] != false {
		t.Errorf("isFolder = %v, want false", got["isFolder"])
	}
}

func TestGet_NotFoundAndCrossUser(t *testing.T) {
	ts := newTestServer(t)
	id := createBookmark(t, ts, "token-1", "mine")

	if status, _ := do(t, ts, http.MethodGet, "/api/bookmarks/nope", "token-1", nil); status != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", status)
	}
	// Another user's bookmark is invisible, not forbidden.
	if status, _ := do(t, ts, http.MethodGet, "/api/bookmarks/"+id, "token-2", nil); status != http.StatusNotFound {
		t.Errorf("cross-user status = %d, want 404", status)
	}
}

func TestList_ReturnsSyncVersion(t *testing.T) {
	ts := newTestServer(t)
	createBookmark(t, ts, "token-1", "a")
	createBookmark(t, ts, "token-1", "b")

	status, body := do(t, ts, http.MethodGet, "/api/bookmarks", "token-1", nil)
	if status != http.StatusOK {
		t.Fatalf("list returned %d", status)
	}
	if n := len(body["bookmarks"].([]any)); n != 2 {
		t.Errorf("bookmarks = %d entries, want 2", n)
	}
	if body["syncVersion"].(float64) != 2 {
		t.Errorf("syncVersion = %v, want 2", body["syncVersion"])
	}
}

func TestUpdate_RejectsURLOnFolder(t *testing.T) {
	ts := newTestServer(t)

	status, body := do(t, ts, http.MethodPost, "/api/bookmarks", "token-1", map[string]any{
		"title":    "Stuff",
		"isFolder": true,
	})
	if status != http.StatusCreated {
		t.Fatalf("create folder returned %d: %v", status, body)
	}
	id := body["bookmark"].(map[string]any)["id"].(string)

	status, _ = do(t, ts, http.MethodPut, "/api/bookmarks/"+id, "token-1", map[string]any{
		"url":             "https://sneaky.test",
		"expectedVersion": 1,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("url patch on folder returned %d, want 400", status)
	}

	// The folder is untouched.
	status, got := do(t, ts, http.MethodGet, "/api/bookmarks/"+id, "token-1", nil)
	if status != http.StatusOK {
		t.Fatalf("get returned %d", status)
	}
	if got["url"] != nil {
		t.Errorf("folder url = %v, want null", got["url"])
	}
	if got["syncVersion"].(float64) != 1 {
		t.Errorf("syncVersion = %v, want 1 (rejected patch must not bump)", got["syncVersion"])
	}
}

func TestUpdate_SuccessThenSwallowedConflict(t *testing.T) {
	ts := newTestServer(t)
	id := createBookmark(t, ts, "token-1", "a")

	status, body := do(t, ts, http.MethodPut, "/api/bookmarks/"+id, "token-1", map[string]any{
		"title":           "renamed",
		"expectedVersion": 1,
	})
	if status != http.StatusOK {
		t.Fatalf("update returned %d: %v", status, body)
	}
	if body["bookmark"].(map[string]any)["title"] != "renamed" {
		t.Errorf("update response = %v, want renamed bookmark", body)
	}

	// Stale expectedVersion: this adapter masks the conflict as success —
	// documented historical behavior. The row keeps the winning state.
	status, body = do(t, ts, http.MethodPut, "/api/bookmarks/"+id, "token-1", map[string]any{
		"title":           "stale write",
		"expectedVersion": 1,
	})
	if status != http.StatusOK {
		t.Fatalf("stale update returned %d", status)
	}
	if body["success"] != true {
		t.Errorf("stale update body = %v, want {success:true}", body)
	}
	if _, hasBookmark := body["bookmark"]; hasBookmark {
		t.Error("swallowed conflict leaked the bookmark payload")
	}

	_, got := do(t, ts, http.MethodGet, "/api/bookmarks/"+id, "token-1", nil)
	if got["title"] != "renamed" {
		t.Errorf("stored title = %v, stale write must be discarded", got["title"])
	}
}

func TestUpdate_DefaultExpectedVersionZero(t *testing.T) {
	ts := newTestServer(t)
	id := createBookmark(t, ts, "token-1", "a")

	// Omitted expectedVersion defaults to 0, which never matches a live
	// row (they start at 1), so this is always a swallowed conflict.
	status, body := do(t, ts, http.MethodPatch, "/api/bookmarks/"+id, "token-1", map[string]any{
		"title": "x",
	})
	if status != http.StatusOK || body["success"] != true {
		t.Errorf("update without expectedVersion = %d %v, want swallowed conflict", status, body)
	}
}

func TestMove_ConflictSwallowedAtVersionZero(t *testing.T) {
	ts := newTestServer(t)
	folder := createBookmark(t, ts, "token-1", "f")
	id := createBookmark(t, ts, "token-1", "a")

	status, body := do(t, ts, http.MethodPut, "/api/bookmarks/"+id+"/move", "token-1", map[string]any{
		"parentId":  folder,
		"sortOrder": 1,
	})
	if status != http.StatusOK {
		t.Fatalf("move returned %d", status)
	}
	// The move path hardcodes expectedVersion=0, so against a version-1 row
	// it always lands on the conflict-swallowing branch.
	if body["success"] != true {
		t.Errorf("move body = %v, want {success:true}", body)
	}
}

func TestDelete_IdempotentWithVersion(t *testing.T) {
	ts := newTestServer(t)
	id := createBookmark(t, ts, "token-1", "a")

	status, body := do(t, ts, http.MethodDelete,
		fmt.Sprintf("/api/bookmarks/%s?expectedVersion=1", id), "token-1", nil)
	if status != http.StatusOK || body["success"] != true {
		t.Fatalf("delete returned %d %v", status, body)
	}
	if body["syncVersion"].(float64) != 2 {
		t.Errorf("delete syncVersion = %v, want 2", body["syncVersion"])
	}

	// Already gone: still success.
	status, body = do(t, ts, http.MethodDelete,
		fmt.Sprintf("/api/bookmarks/%s?expectedVersion=1", id), "token-1", nil)
	if status != http.StatusOK || body["success"] != true {
		t.Errorf("repeat delete returned %d %v, want success", status, body)
	}
}

func TestBatch_EchoesLocalIDs(t *testing.T) {
	ts := newTestServer(t)

	status, body := do(t, ts, http.MethodPost, "/api/bookmarks/batch", "token-1", map[string]any{
		"bookmarks": []map[string]any{
			{"localId": "l-1", "title": "root", "isFolder": true},
			{"localId": "l-2", "title": "a", "url": "https://a.test"},
		},
	})
	if status != http.StatusOK {
		t.Fatalf("batch returned %d: %v", status, body)
	}
	if body["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2", body["count"])
	}
	created := body["bookmarks"].([]any)
	for i, localID := range []string{"l-1", "l-2"} {
		entry := created[i].(map[string]any)
		if entry["localId"] != localID {
			t.Errorf("entry %d localId = %v, want %s", i, entry["localId"], localID)
		}
		if entry["id"] == "" {
			t.Errorf("entry %d missing server id", i)
		}
	}
}

func TestSearch(t *testing.T) {
	ts := newTestServer(t)
	createBookmark(t, ts, "token-1", "golang")
	createBookmark(t, ts, "token-1", "cooking")

	status, body := do(t, ts, http.MethodGet, "/api/bookmarks/search?q=GOL", "token-1", nil)
	if status != http.StatusOK {
		t.Fatalf("search returned %d", status)
	}
	if body["total"].(float64) != 1 {
		t.Errorf("total = %v, want 1", body["total"])
	}

	if status, _ := do(t, ts, http.MethodGet, "/api/bookmarks/search", "token-1", nil); status != http.StatusBadRequest {
		t.Errorf("search without q = %d, want 400", status)
	}
}

func TestClear_WipesUser(t *testing.T) {
	ts := newTestServer(t)
	createBookmark(t, ts, "token-1", "a")
	keep := createBookmark(t, ts, "token-2", "b")

	status, body := do(t, ts, http.MethodPost, "/api/bookmarks/clear", "token-1", nil)
	if status != http.StatusOK || body["success"] != true {
		t.Fatalf("clear returned %d %v", status, body)
	}

	_, listed := do(t, ts, http.MethodGet, "/api/bookmarks", "token-1", nil)
	if n := len(listed["bookmarks"].([]any)); n != 0 {
		t.Errorf("bookmarks after clear = %d, want 0", n)
	}
	if listed["syncVersion"].(float64) != 0 {
		t.Errorf("syncVersion after clear = %v, want 0", listed["syncVersion"])
	}

	if status, _ := do(t, ts, http.MethodGet, "/api/bookmarks/"+keep, "token-2", nil); status != http.StatusOK {
		t.Error("clear affected another user")
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	if status, _ := do(t, ts, http.MethodGet, "/api/bookmarks", "", nil); status != http.StatusUnauthorized {
		t.Errorf("unauthenticated list = %d, want 401", status)
	}
	if status, _ := do(t, ts, http.MethodGet, "/api/bookmarks", "bogus", nil); status != http.StatusUnauthorized {
		t.Errorf("bad token list = %d, want 401", status)
	}
	// Health stays open.
	if status, _ := do(t, ts, http.MethodGet, "/healthz", "", nil); status != http.StatusOK {
		t.Errorf("healthz = %d, want 200", status)
	}
}

func TestHealthz_ReportsConnections(t *testing.T) {
	srv := httptest.NewServer(Healthz(func() int { return 3 }))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["connections"] != float64(3) {
		t.Errorf("connections = %v, want 3", body["connections"])
	}
}

func TestCreate_RejectsInvalidSpec(t *testing.T) {
	ts := newTestServer(t)

	status, _ := do(t, ts, http.MethodPost, "/api/bookmarks", "token-1", map[string]any{
		"title":    "bad",
		"isFolder": true,
		"url":      "https://x.test",
	})
	if status != http.StatusBadRequest {
		t.Errorf("folder with url = %d, want 400", status)
	}
}
