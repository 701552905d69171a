package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/infinity-templates/composer/internal/catalog"
	"github.com/infinity-templates/composer/internal/dispatch"
	"github.com/infinity-templates/composer/internal/engine"
	"github.com/infinity-templates/composer/internal/memstore"
	"github.com/infinity-templates/composer/internal/store"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "backend", "fastapi", "descriptor.yml"), `
slug: fastapi
category: backend
templated_files: ["**/*.py"]
outputs: ["app/main.py"]
`)
	writeFile(t, filepath.Join(root, "backend", "fastapi", "app", "main.py"), "# {{system_name}} backend\n")

	for _, infra := range []string{"docker-compose", "github-actions-ci"} {
		writeFile(t, filepath.Join(root, "infra", infra, "descriptor.yml"), fmt.Sprintf(`
slug: %s
category: infrastructure
outputs: ["README.md"]
`, infra))
		writeFile(t, filepath.Join(root, "infra", infra, "README.md"), "# "+infra+"\n")
	}
	for _, gov := range []string{"tap-enforcement", "test-coverage-gate", "security-gate"} {
		writeFile(t, filepath.Join(root, "governance", gov, "descriptor.yml"), fmt.Sprintf(`
slug: %s
category: governance
outputs: ["README.md"]
`, gov))
		writeFile(t, filepath.Join(root, "governance", gov, "README.md"), "# "+gov+"\n")
	}

	cat, err := catalog.Load(root)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return cat
}

func newTestServer(t *testing.T, apiKey string) (*testServer, func()) {
	t.Helper()
	cat := newTestCatalog(t)

	stateDir := t.TempDir()
	db, err := store.Open(store.Config{StateDir: stateDir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	jobs := store.NewRepo(db)
	mem := memstore.New(stateDir)
	dispatcher := dispatch.New(dispatch.NewTransport("", ""))

	handler, err := New(Config{
		Catalog:    cat,
		Engine:     engine.New(cat),
		Jobs:       jobs,
		Memory:     mem,
		Dispatcher: dispatcher,
		APIKey:     apiKey,
		OutputRoot: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Close()
			ln.Close()
			db.Close()
		},
	}
	return testSrv, testSrv.Close
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(body))
	}
	var h HealthResponse
	if err := json.Unmarshal(body, &h); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if h.Status != "ok" {
		t.Fatalf("expected status ok, got %s", h.Status)
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	srv, cleanup := newTestServer(t, "s3cret")
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/discover", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", res.StatusCode)
	}

	res2, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/discover", nil, map[string]string{"Authorization": "Bearer s3cret"})
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with valid bearer token, got %d", res2.StatusCode)
	}

	res3, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/health", nil, nil)
	if res3.StatusCode != http.StatusOK {
		t.Fatalf("expected /health to bypass auth, got %d", res3.StatusCode)
	}
}

func TestDiscoverListCategories(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/discover", map[string]any{
		"operation": "list_categories",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("discover status %d: %s", res.StatusCode, string(body))
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	cats, ok := out["categories"].(map[string]any)
	if !ok || cats["backend"] == nil {
		t.Fatalf("expected backend category in response: %s", string(body))
	}
}

func TestDiscoverMissingParam(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/discover", map[string]any{
		"operation": "list_templates",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing param, got %d: %s", res.StatusCode, string(body))
	}
}

func TestComposeHappyPath(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/compose", map[string]any{
		"manifest_version": "1.0",
		"system_name":      "demo-x",
		"org":              "acme",
		"components": map[string]any{
			"backend": map[string]any{"template": "fastapi"},
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("compose status %d: %s", res.StatusCode, string(body))
	}
	var out composeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Status != "succeeded" {
		t.Fatalf("expected status succeeded, got %s", out.Status)
	}
	if out.DispatchStatus != "skipped" {
		t.Fatalf("expected dispatch_status skipped without a transport, got %s", out.DispatchStatus)
	}
}

func TestComposeBadName(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/compose", map[string]any{
		"manifest_version": "1.0",
		"system_name":      "Bad_Name",
		"org":              "acme",
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad system_name, got %d: %s", res.StatusCode, string(body))
	}
	var out struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if _, ok := out.Error.Details["system_name"]; !ok {
		t.Fatalf("expected system_name field detail, got %v", out.Error.Details)
	}
}

func TestChatIntents(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()

	cases := []struct {
		message string
		intent  string
	}{
		{"please compose a new backend for me", "compose"},
		{"can you list templates available", "list_templates"},
		{"what's the current health status", "health"},
		{"tell me a joke", "general"},
	}
	for _, c := range cases {
		res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/chat", map[string]any{
			"model":    "composer-chat",
			"messages": []map[string]any{{"role": "user", "content": c.message}},
		}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("chat status %d: %s", res.StatusCode, string(body))
		}
		var out chatResponse
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if out.Intent != c.intent {
			t.Fatalf("message %q: expected intent %s, got %s", c.message, c.intent, out.Intent)
		}
		if !out.Usage.Advisory {
			t.Fatalf("expected advisory token usage flag")
		}
	}
}
