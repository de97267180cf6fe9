// Package render is the streaming renderer: it turns dispatch Events into
// HTML (or JSON, for the json component) written to the response in
// small buffered flushes rather than one giant in-memory page.
//
// Grounded on render.rs's RenderContext/SplitTemplateRenderer and on
// tinySQL's cmd/tinysqlpage component HTML helpers, adapted from
// single-shot ResultSet rendering to a streaming header/item/footer
// discipline driven by dispatch.Event.
package render

import (
	"bytes"
	"html/template"
	"io"
	"net/http"

	"github.com/SimonWaldherr/sqlpagego/internal/db"
	"github.com/SimonWaldherr/sqlpagego/internal/dispatch"
	"github.com/SimonWaldherr/sqlpagego/internal/reqctx"
)

// flushThreshold is the buffered-byte count at which Renderer proactively
// flushes instead of waiting for the caller to call Flush explicitly.
const flushThreshold = 8 * 1024

// Renderer streams one request's rendered page to w, buffering output and
// flushing in small chunks once the response has started.
type Renderer struct {
	w       io.Writer
	flusher http.Flusher
	rc      *reqctx.Context
	buf     bytes.Buffer

	shell      *shellState
	components []componentRenderer

	preFlush     func()
	headerWarmed bool
}

// NewRenderer wraps w (typically an http.ResponseWriter) for one request.
func NewRenderer(w io.Writer, rc *reqctx.Context) *Renderer {
	r := &Renderer{w: w, rc: rc}
	if f, ok := w.(http.Flusher); ok {
		r.flusher = f
	}
	return r
}

// OnFirstFlush registers a callback run exactly once, immediately before
// the first byte is actually written to the underlying writer. The
// coordinator uses this to copy accumulated side-effect headers onto the
// real http.ResponseWriter while it is still legal to do so.
func (r *Renderer) OnFirstFlush(fn func()) { r.preFlush = fn }

// Apply runs one batch of dispatch Events (as produced by one result row)
// against the renderer, writing and possibly flushing output.
func (r *Renderer) Apply(events []dispatch.Event) error {
	for _, ev := range events {
		if err := r.applyOne(ev); err != nil {
			return err
		}
	}
	if r.buf.Len() >= flushThreshold {
		return r.Flush()
	}
	return nil
}

func (r *Renderer) applyOne(ev dispatch.Event) error {
	switch e := ev.(type) {
	case dispatch.OpenComponent:
		return r.open(e.Name, e.Data)
	case dispatch.AppendItem:
		return r.item(e.Data)
	case dispatch.CloseComponent:
		return r.close()
	case dispatch.Err:
		return r.RenderError(e.Err)
	case dispatch.ShellConfig:
		return r.openShell(e.Data)
	case dispatch.RawBody:
		r.buf.WriteString(e.Contents)
		return nil
	default:
		return nil
	}
}

func (r *Renderer) openShell(data map[string]db.DbValue) error {
	r.shell = newShellState()
	r.shell.apply(data)
	r.shell.writeHead(&r.buf)
	return nil
}

func (r *Renderer) open(name string, data map[string]db.DbValue) error {
	if r.shell == nil {
		r.shell = newShellState()
	}
	cr := newComponentRenderer(name)
	r.components = append(r.components, cr)
	return cr.Header(&r.buf, data)
}

func (r *Renderer) item(data map[string]db.DbValue) error {
	if len(r.components) == 0 {
		return r.open(dispatch.DefaultComponent, data)
	}
	cur := r.components[len(r.components)-1]
	return cur.Item(&r.buf, data)
}

func (r *Renderer) close() error {
	if len(r.components) == 0 {
		return nil
	}
	cur := r.components[len(r.components)-1]
	r.components = r.components[:len(r.components)-1]
	return cur.Footer(&r.buf)
}

// RenderError renders the built-in "error" component in place of whatever
// was currently open, mirroring render.rs's handle_error: close the
// current component, show the error, then let the file continue.
func (r *Renderer) RenderError(err error) error {
	if len(r.components) > 0 {
		_ = r.close()
	}
	r.buf.WriteString(`<div class="sqlpage-error" role="alert"><strong>Error:</strong> `)
	r.buf.WriteString(template.HTMLEscapeString(err.Error()))
	r.buf.WriteString(`</div>`)
	return nil
}

// Flush writes buffered output to the underlying writer and, on first
// call, transitions the request's response to Streaming. The first call
// runs the OnFirstFlush hook even when there is nothing buffered yet, so a
// page whose only output is side effects (a bare cookie/http_header/redirect
// component with no visible component) still gets its headers copied onto
// the real response.
func (r *Renderer) Flush() error {
	if !r.headerWarmed {
		r.headerWarmed = true
		if r.preFlush != nil {
			r.preFlush()
		}
	}
	if r.buf.Len() == 0 {
		return nil
	}
	r.rc.BeginStreaming()
	if _, err := r.w.Write(r.buf.Bytes()); err != nil {
		return err
	}
	r.buf.Reset()
	if r.flusher != nil {
		r.flusher.Flush()
	}
	return nil
}

// Finish closes any component (and the shell) still open and flushes
// remaining output. Call exactly once at the end of a page.
func (r *Renderer) Finish() error {
	for len(r.components) > 0 {
		if err := r.close(); err != nil {
			return err
		}
	}
	if r.shell != nil {
		r.shell.writeFoot(&r.buf)
	}
	return r.Flush()
}
