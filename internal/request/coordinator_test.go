package request

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SimonWaldherr/sqlpagego/internal/config"
	"github.com/SimonWaldherr/sqlpagego/internal/db"
	"github.com/SimonWaldherr/sqlpagego/internal/functions"
)

func newTestCoordinator(t *testing.T, files map[string]string) *Coordinator {
	t.Helper()
	webRoot := t.TempDir()
	for name, content := range files {
		full := filepath.Join(webRoot, name)
		os.MkdirAll(filepath.Dir(full), 0o755)
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}

	cfg := &config.Config{
		DatabaseURL:                       "sqlite::memory:",
		WebRoot:                           webRoot,
		DatabaseConnectionRetries:        1,
		DatabaseConnectionAcquireTimeout: 5 * time.Second,
		MaxUploadedFileSize:              1 << 20,
	}
	pool, err := db.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	funcs := functions.New(cfg)
	return New(cfg, pool, funcs)
}

func TestServeStaticRowPage(t *testing.T) {
	c := newTestCoordinator(t, map[string]string{
		"index.sql": "SELECT 'text' AS component, 'hello world' AS content;",
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/index.sql", nil)
	c.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "hello world") {
		t.Errorf("body missing content: %s", rec.Body.String())
	}
}

func TestServeDirectoryRedirectsToTrailingSlash(t *testing.T) {
	c := newTestCoordinator(t, map[string]string{
		"admin/index.sql": "SELECT 'text' AS component, 'secret' AS content;",
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	c.ServeHTTP(rec, req)

	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", rec.Code)
	}
	if rec.Header().Get("Location") != "/admin/" {
		t.Errorf("Location = %q", rec.Header().Get("Location"))
	}
}

func TestServeRedirectComponent(t *testing.T) {
	c := newTestCoordinator(t, map[string]string{
		"go.sql": "SELECT 'redirect' AS component, '/index.sql' AS link;",
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/go.sql", nil)
	c.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if rec.Header().Get("Location") != "/index.sql" {
		t.Errorf("Location = %q", rec.Header().Get("Location"))
	}
}

func TestServeStaticAsset(t *testing.T) {
	c := newTestCoordinator(t, map[string]string{
		"style.css": "body { color: red; }",
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/style.css", nil)
	c.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "color: red") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestServeGetParamQuery(t *testing.T) {
	c := newTestCoordinator(t, map[string]string{
		"greet.sql": "SELECT 'text' AS component, $name AS content;",
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/greet.sql?name=Ada", nil)
	c.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Ada") {
		t.Errorf("body missing param value: %s", rec.Body.String())
	}
}

func TestServeDefaultContentTypeIsHTML(t *testing.T) {
	c := newTestCoordinator(t, map[string]string{
		"index.sql": "SELECT 'text' AS component, 'hi' AS content;",
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/index.sql", nil)
	c.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", got)
	}
}

func TestServeCookieComponentSetsSetCookieHeader(t *testing.T) {
	c := newTestCoordinator(t, map[string]string{
		"login.sql": "SELECT 'cookie' AS component, 'session' AS name, 'abc' AS value;",
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/login.sql", nil)
	c.ServeHTTP(rec, req)

	if got := rec.Header().Get("Set-Cookie"); got != "session=abc; Secure; SameSite=Strict" {
		t.Errorf("Set-Cookie = %q", got)
	}
}

func TestServeHTTPHeaderStatusOverridesResponseCode(t *testing.T) {
	c := newTestCoordinator(t, map[string]string{
		"missing.sql": "SELECT 'http_header' AS component, 404 AS status;",
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/missing.sql", nil)
	c.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if rec.Header().Get("Status") != "" {
		t.Errorf("status must not leak as a literal Status header, got %q", rec.Header().Get("Status"))
	}
}

func TestServeJSONComponentWritesVerbatimBody(t *testing.T) {
	c := newTestCoordinator(t, map[string]string{
		"api.sql": `SELECT 'json' AS component, '{"ok":true}' AS contents;`,
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api.sql", nil)
	c.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if got := rec.Body.String(); got != `{"ok":true}` {
		t.Errorf("body = %q, want verbatim contents with no HTML wrapping", got)
	}
}

func TestServeMissingFileIs404(t *testing.T) {
	c := newTestCoordinator(t, map[string]string{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nope.sql", nil)
	c.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
