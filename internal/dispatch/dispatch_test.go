package dispatch

import (
	"strings"
	"testing"

	"github.com/SimonWaldherr/sqlpagego/internal/db"
	"github.com/SimonWaldherr/sqlpagego/internal/reqctx"
)

func row(cols map[string]db.DbValue) db.Row {
	r := db.Row{}
	for k, v := range cols {
		r.Columns = append(r.Columns, k)
		r.Values = append(r.Values, v)
	}
	return r
}

func TestOpensDefaultComponentWhenNoneNamed(t *testing.T) {
	d := New(reqctx.New("r1"))
	events := d.HandleRow(row(map[string]db.DbValue{"title": "hi"}))
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	open, ok := events[0].(OpenComponent)
	if !ok || open.Name != DefaultComponent {
		t.Fatalf("events[0] = %#v", events[0])
	}
}

func TestAppendsToSameComponent(t *testing.T) {
	d := New(reqctx.New("r1"))
	d.HandleRow(row(map[string]db.DbValue{"component": "table", "title": "Items"}))
	events := d.HandleRow(row(map[string]db.DbValue{"name": "apple"}))
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	if _, ok := events[0].(AppendItem); !ok {
		t.Fatalf("events[0] = %#v", events[0])
	}
}

func TestNewComponentClosesPrevious(t *testing.T) {
	d := New(reqctx.New("r1"))
	d.HandleRow(row(map[string]db.DbValue{"component": "table"}))
	events := d.HandleRow(row(map[string]db.DbValue{"component": "text"}))
	if len(events) != 2 {
		t.Fatalf("got %d events: %#v", len(events), events)
	}
	if _, ok := events[0].(CloseComponent); !ok {
		t.Errorf("events[0] = %#v, want CloseComponent", events[0])
	}
	open, ok := events[1].(OpenComponent)
	if !ok || open.Name != "text" {
		t.Errorf("events[1] = %#v", events[1])
	}
}

func TestShellFirstRowEmitsShellConfig(t *testing.T) {
	d := New(reqctx.New("r1"))
	events := d.HandleRow(row(map[string]db.DbValue{"component": "shell", "title": "My App"}))
	if len(events) != 1 {
		t.Fatalf("expected exactly one ShellConfig event, got %#v", events)
	}
	if _, ok := events[0].(ShellConfig); !ok {
		t.Fatalf("events[0] = %#v, want ShellConfig", events[0])
	}
}

func TestRedirectSetsRedirectToAndTerminates(t *testing.T) {
	rc := reqctx.New("r1")
	d := New(rc)
	events := d.HandleRow(row(map[string]db.DbValue{"component": "redirect", "link": "/login"}))
	if len(events) != 0 {
		t.Fatalf("redirect should not emit render events, got %#v", events)
	}
	if rc.RedirectTo != "/login" {
		t.Errorf("RedirectTo = %q", rc.RedirectTo)
	}
	if rc.State() != reqctx.Terminated {
		t.Errorf("state = %v, want Terminated", rc.State())
	}
}

func TestDynamicExpandsArrayOfObjects(t *testing.T) {
	d := New(reqctx.New("r1"))
	events := d.HandleRow(row(map[string]db.DbValue{
		"dynamic": `[{"component":"text","contents":"a"},{"contents":"b"}]`,
	}))
	var opens, appends int
	for _, e := range events {
		switch e.(type) {
		case OpenComponent:
			opens++
		case AppendItem:
			appends++
		}
	}
	if opens != 1 || appends != 1 {
		t.Fatalf("opens=%d appends=%d events=%#v", opens, appends, events)
	}
}

func TestCookieDefaultsMatchSecureStrictExample(t *testing.T) {
	rc := reqctx.New("r1")
	d := New(rc)
	events := d.HandleRow(row(map[string]db.DbValue{
		"component": "cookie", "name": "session", "value": "abc",
	}))
	if len(events) != 0 {
		t.Fatalf("cookie should not emit render events, got %#v", events)
	}
	got := rc.ResponseHeaders.Get("Set-Cookie")
	want := "session=abc; Secure; SameSite=Strict"
	if got != want {
		t.Errorf("Set-Cookie = %q, want %q", got, want)
	}
}

func TestCookieHonorsAllDocumentedAttributes(t *testing.T) {
	rc := reqctx.New("r1")
	d := New(rc)
	d.HandleRow(row(map[string]db.DbValue{
		"component": "cookie",
		"name":      "pref",
		"value":     "dark",
		"domain":    "example.com",
		"max_age":   int64(3600),
		"secure":    false,
		"http_only": true,
		"same_site": "lax",
	}))
	got := rc.ResponseHeaders.Get("Set-Cookie")
	for _, want := range []string{"pref=dark", "Domain=example.com", "Max-Age=3600", "HttpOnly", "SameSite=Lax"} {
		if !strings.Contains(got, want) {
			t.Errorf("Set-Cookie = %q, missing %q", got, want)
		}
	}
	if strings.Contains(got, "Secure") {
		t.Errorf("Set-Cookie = %q, should not carry Secure when secure=false", got)
	}
}

func TestCookieRemoveExpiresIt(t *testing.T) {
	rc := reqctx.New("r1")
	d := New(rc)
	d.HandleRow(row(map[string]db.DbValue{
		"component": "cookie", "name": "session", "remove": true,
	}))
	got := rc.ResponseHeaders.Get("Set-Cookie")
	if !strings.Contains(got, "session=;") && !strings.Contains(got, "session=; ") {
		t.Errorf("Set-Cookie = %q, want emptied value", got)
	}
	if !strings.Contains(got, "Max-Age=0") {
		t.Errorf("Set-Cookie = %q, want a negative/zero Max-Age expiring the cookie", got)
	}
}

func TestHTTPHeaderStatusSetsResponseStatusNotLiteralHeader(t *testing.T) {
	rc := reqctx.New("r1")
	d := New(rc)
	events := d.HandleRow(row(map[string]db.DbValue{
		"component": "http_header", "status": "404",
	}))
	if len(events) != 0 {
		t.Fatalf("http_header should not emit render events, got %#v", events)
	}
	if rc.ResponseStatus != 404 {
		t.Errorf("ResponseStatus = %d, want 404", rc.ResponseStatus)
	}
	if rc.ResponseHeaders.Get("Status") != "" {
		t.Errorf("status must not be forwarded as a literal Status header, got %q", rc.ResponseHeaders.Get("Status"))
	}
}

func TestHTTPHeaderSetsArbitraryHeader(t *testing.T) {
	rc := reqctx.New("r1")
	d := New(rc)
	d.HandleRow(row(map[string]db.DbValue{
		"component": "http_header", "x-frame-options": "DENY",
	}))
	if got := rc.ResponseHeaders.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestJSONComponentBypassesTemplatingAndSetsContentType(t *testing.T) {
	rc := reqctx.New("r1")
	d := New(rc)
	events := d.HandleRow(row(map[string]db.DbValue{
		"component": "json", "contents": `{"ok":true}`,
	}))
	if len(events) != 1 {
		t.Fatalf("got %d events, want exactly one RawBody: %#v", len(events), events)
	}
	body, ok := events[0].(RawBody)
	if !ok {
		t.Fatalf("events[0] = %#v, want RawBody", events[0])
	}
	if body.Contents != `{"ok":true}` {
		t.Errorf("Contents = %q, want verbatim contents column", body.Contents)
	}
	if got := rc.ResponseHeaders.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
}

func TestJSONComponentSubsequentRowsAlsoEmitRawBody(t *testing.T) {
	d := New(reqctx.New("r1"))
	d.HandleRow(row(map[string]db.DbValue{"component": "json", "contents": `[`}))
	events := d.HandleRow(row(map[string]db.DbValue{"contents": `1]`}))
	if len(events) != 1 {
		t.Fatalf("got %d events: %#v", len(events), events)
	}
	if body, ok := events[0].(RawBody); !ok || body.Contents != "1]" {
		t.Errorf("events[0] = %#v", events[0])
	}
}

func TestJSONComponentFinishEmitsNoCloseComponent(t *testing.T) {
	d := New(reqctx.New("r1"))
	d.HandleRow(row(map[string]db.DbValue{"component": "json", "contents": `{}`}))
	events := d.Finish()
	if len(events) != 0 {
		t.Fatalf("json must not be closed like a visible component, got %#v", events)
	}
}

func TestFinishClosesOpenComponent(t *testing.T) {
	d := New(reqctx.New("r1"))
	d.HandleRow(row(map[string]db.DbValue{"component": "table"}))
	events := d.Finish()
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	if _, ok := events[0].(CloseComponent); !ok {
		t.Errorf("events[0] = %#v", events[0])
	}
}
