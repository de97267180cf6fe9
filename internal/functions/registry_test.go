package functions

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/SimonWaldherr/sqlpagego/internal/config"
	"github.com/SimonWaldherr/sqlpagego/internal/reqctx"
)

func newTestRegistry(t *testing.T, allowExec bool) *Registry {
	t.Helper()
	return New(&config.Config{AllowExec: allowExec})
}

func TestIsKnown(t *testing.T) {
	r := newTestRegistry(t, false)
	if !r.IsKnown("cookie") {
		t.Error("cookie should be known")
	}
	if r.IsKnown("not_a_real_function") {
		t.Error("unknown function reported as known")
	}
}

func TestCookie(t *testing.T) {
	r := newTestRegistry(t, false)
	rc := reqctx.New("req-1")
	rc.Cookies["session"] = "abc123"
	v, err := r.Call(context.Background(), rc, "cookie", []any{"session"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v != "abc123" {
		t.Errorf("v = %v", v)
	}
}

func TestHashPasswordProducesArgon2idEncoding(t *testing.T) {
	r := newTestRegistry(t, false)
	rc := reqctx.New("req-1")
	v, err := r.Call(context.Background(), rc, "hash_password", []any{"s3cret"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "$argon2id$") {
		t.Errorf("v = %v, want $argon2id$ prefix", v)
	}
}

func TestExecDisabledByDefault(t *testing.T) {
	r := newTestRegistry(t, false)
	rc := reqctx.New("req-1")
	_, err := r.Call(context.Background(), rc, "exec", []any{"echo", "hi"})
	if err == nil {
		t.Fatal("expected exec to be rejected when allow_exec is false")
	}
}

func TestVariablesGetVsPost(t *testing.T) {
	r := newTestRegistry(t, false)
	rc := reqctx.New("req-1")
	rc.Get.Set("a", "1")
	rc.Post.Set("b", "2")

	got, err := r.Call(context.Background(), rc, "variables", []any{"get"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	s, ok := got.(string)
	if !ok {
		t.Fatalf("variables('get') = %T, want string (JSON-encoded)", got)
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("variables('get') did not return valid JSON: %v (%q)", err, s)
	}
	if m["a"] != "1" {
		t.Errorf("get vars = %v", m)
	}

	got, err = r.Call(context.Background(), rc, "variables", []any{"post"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	s, ok = got.(string)
	if !ok {
		t.Fatalf("variables('post') = %T, want string (JSON-encoded)", got)
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("variables('post') did not return valid JSON: %v (%q)", err, s)
	}
	if m["b"] != "2" {
		t.Errorf("post vars = %v", m)
	}
}
