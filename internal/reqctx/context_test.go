package reqctx

import (
	"net/http"
	"testing"
)

func TestNewSeedsDefaultContentType(t *testing.T) {
	c := New("r1")
	if got := c.ResponseHeaders.Get("Content-Type"); got != DefaultContentType {
		t.Errorf("Content-Type = %q, want %q", got, DefaultContentType)
	}
}

func TestSetHeaderRejectedAfterStreamingBegins(t *testing.T) {
	c := New("r1")
	c.BeginStreaming()
	if err := c.SetHeader("X-Test", "1"); err != ErrHeadersAlreadySent {
		t.Errorf("SetHeader after streaming = %v, want ErrHeadersAlreadySent", err)
	}
}

func TestSetCookieRejectedAfterStreamingBegins(t *testing.T) {
	c := New("r1")
	c.BeginStreaming()
	err := c.SetCookie(&http.Cookie{Name: "a", Value: "b"})
	if err != ErrHeadersAlreadySent {
		t.Errorf("SetCookie after streaming = %v, want ErrHeadersAlreadySent", err)
	}
}

func TestSetStatusRejectedAfterStreamingBegins(t *testing.T) {
	c := New("r1")
	c.BeginStreaming()
	if err := c.SetStatus(404); err != ErrHeadersAlreadySent {
		t.Errorf("SetStatus after streaming = %v, want ErrHeadersAlreadySent", err)
	}
}

func TestRedirectRejectedAfterStreamingBegins(t *testing.T) {
	c := New("r1")
	c.BeginStreaming()
	if err := c.Redirect("/elsewhere"); err != ErrHeadersAlreadySent {
		t.Errorf("Redirect after streaming = %v, want ErrHeadersAlreadySent", err)
	}
}

func TestHeadersStillWritableWhilePending(t *testing.T) {
	c := New("r1")
	if err := c.SetHeader("X-Test", "1"); err != nil {
		t.Fatalf("SetHeader while Pending: %v", err)
	}
	if c.State() != Pending {
		t.Errorf("state = %v, want Pending", c.State())
	}
}

func TestBeginStreamingIsIdempotent(t *testing.T) {
	c := New("r1")
	c.BeginStreaming()
	c.BeginStreaming()
	if c.State() != Streaming {
		t.Errorf("state = %v, want Streaming", c.State())
	}
}
