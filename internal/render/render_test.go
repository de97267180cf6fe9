package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/SimonWaldherr/sqlpagego/internal/db"
	"github.com/SimonWaldherr/sqlpagego/internal/dispatch"
	"github.com/SimonWaldherr/sqlpagego/internal/reqctx"
)

func TestRenderTableRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rc := reqctx.New("r1")
	r := NewRenderer(&buf, rc)

	if err := r.Apply([]dispatch.Event{
		dispatch.OpenComponent{Name: "table", Data: map[string]db.DbValue{"title": "Fruits"}},
		dispatch.AppendItem{Data: map[string]db.DbValue{"name": "apple"}},
		dispatch.AppendItem{Data: map[string]db.DbValue{"name": "pear"}},
		dispatch.CloseComponent{},
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := r.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "<table") || !strings.Contains(out, "apple") || !strings.Contains(out, "pear") {
		t.Errorf("output missing expected table content: %s", out)
	}
	if rc.State() != reqctx.Streaming {
		t.Errorf("state = %v, want Streaming after Finish", rc.State())
	}
}

func TestRenderShellWrapsPage(t *testing.T) {
	var buf bytes.Buffer
	rc := reqctx.New("r1")
	r := NewRenderer(&buf, rc)

	r.Apply([]dispatch.Event{dispatch.ShellConfig{Data: map[string]db.DbValue{"title": "My App"}}})
	r.Apply([]dispatch.Event{
		dispatch.OpenComponent{Name: "text", Data: map[string]db.DbValue{"content": "hello"}},
		dispatch.CloseComponent{},
	})
	if err := r.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "<title>My App</title>") {
		t.Errorf("missing shell title: %s", out)
	}
	if !strings.Contains(out, "</body></html>") {
		t.Errorf("missing closing shell tags: %s", out)
	}
}

func TestRenderErrorDoesNotAbortStream(t *testing.T) {
	var buf bytes.Buffer
	rc := reqctx.New("r1")
	r := NewRenderer(&buf, rc)

	r.Apply([]dispatch.Event{dispatch.OpenComponent{Name: "table", Data: nil}})
	if err := r.RenderError(errAssertion); err != nil {
		t.Fatalf("RenderError: %v", err)
	}
	if err := r.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !strings.Contains(buf.String(), "sqlpage-error") {
		t.Errorf("expected error markup, got %s", buf.String())
	}
}

func TestRenderRawBodyWritesVerbatim(t *testing.T) {
	var buf bytes.Buffer
	rc := reqctx.New("r1")
	r := NewRenderer(&buf, rc)

	if err := r.Apply([]dispatch.Event{
		dispatch.RawBody{ContentType: "application/json", Contents: `{"a":"<b>&"}`},
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := r.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	out := buf.String()
	if out != `{"a":"<b>&"}` {
		t.Errorf("RawBody must be written verbatim with no HTML escaping or shell wrapping, got %q", out)
	}
}

var errAssertion = fakeErr{}

type fakeErr struct{}

func (fakeErr) Error() string { return "boom" }
