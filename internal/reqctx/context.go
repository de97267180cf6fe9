// Package reqctx holds the per-request state threaded through the pipeline:
// HTTP parameters, cookies, headers, uploaded files, SetVariable bindings,
// and the in-progress HTTP response.
package reqctx

import (
	"errors"
	"net/http"
	"sync"
)

// State is the lifecycle of the HTTP response associated with a request.
type State int

const (
	// Pending: no bytes sent yet. Headers, cookies, and redirects may still
	// mutate the response.
	Pending State = iota
	// Streaming: headers are frozen and the body is being written.
	Streaming
	// Terminated: a redirect or a fatal error finalized the response.
	Terminated
)

// ErrHeadersAlreadySent is returned when a side-effect component tries to
// mutate response headers after the first body byte has been flushed.
var ErrHeadersAlreadySent = errors.New("sqlpage: headers already sent")

// UploadedFile records where a multipart field was drained to disk.
type UploadedFile struct {
	FieldName string
	TempPath  string
	MimeType  string
	FileName  string
}

// Context is the mutable, exclusive-reference state passed through one
// request's pipeline. It is never shared across requests or goroutines.
type Context struct {
	Method string
	Path   string

	// Get/Post preserve insertion order; duplicate keys keep only the last
	// value.
	Get  *ParamMap
	Post *ParamMap

	Cookies map[string]string
	Headers http.Header

	UploadedFiles map[string]UploadedFile

	BasicAuthUser string
	BasicAuthPass string

	// Vars holds bindings created by SET statements. Mutated in place so
	// downstream statements in the same file observe new values.
	Vars map[string]any

	mu    sync.Mutex
	state State

	// ResponseHeaders/Cookies/Status accumulate side effects emitted by
	// http_header/cookie/redirect components while state == Pending.
	ResponseHeaders http.Header
	ResponseStatus  int
	RedirectTo      string

	RequestID string
}

// DefaultContentType is the response Content-Type assumed for a rendered
// .sql page unless an http_header or json component overrides it.
const DefaultContentType = "text/html; charset=utf-8"

// New creates an empty per-request Context, pre-seeded with the default
// text/html response content type.
func New(requestID string) *Context {
	headers := http.Header{}
	headers.Set("Content-Type", DefaultContentType)
	return &Context{
		Get:             NewParamMap(),
		Post:            NewParamMap(),
		Cookies:         map[string]string{},
		Headers:         http.Header{},
		UploadedFiles:   map[string]UploadedFile{},
		Vars:            map[string]any{},
		ResponseHeaders: headers,
		ResponseStatus:  http.StatusOK,
		state:           Pending,
		RequestID:       requestID,
	}
}

// State returns the current response lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BeginStreaming transitions Pending -> Streaming. It is irreversible and
// idempotent: calling it again once already Streaming is a no-op.
func (c *Context) BeginStreaming() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Pending {
		c.state = Streaming
	}
}

// Terminate transitions to Terminated, used by redirect and fatal errors.
func (c *Context) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Terminated
}

// RequireHeaderWritable returns ErrHeadersAlreadySent unless the response
// is still Pending, enforcing the headers-before-body invariant.
func (c *Context) RequireHeaderWritable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Pending {
		return ErrHeadersAlreadySent
	}
	return nil
}

// SetHeader records a response header while still Pending.
func (c *Context) SetHeader(name, value string) error {
	if err := c.RequireHeaderWritable(); err != nil {
		return err
	}
	c.ResponseHeaders.Set(name, value)
	return nil
}

// SetStatus overrides the response status code while still Pending, used
// by the http_header component's reserved "status" pseudo-header.
func (c *Context) SetStatus(code int) error {
	if err := c.RequireHeaderWritable(); err != nil {
		return err
	}
	c.ResponseStatus = code
	return nil
}

// SetCookie appends a Set-Cookie header while still Pending.
func (c *Context) SetCookie(cookie *http.Cookie) error {
	if err := c.RequireHeaderWritable(); err != nil {
		return err
	}
	c.ResponseHeaders.Add("Set-Cookie", cookie.String())
	return nil
}

// Redirect records a 302 redirect and terminates the request, cancelling
// remaining statements.
func (c *Context) Redirect(location string) error {
	if err := c.RequireHeaderWritable(); err != nil {
		return err
	}
	c.RedirectTo = location
	c.ResponseStatus = http.StatusFound
	c.Terminate()
	return nil
}
