// Package request is the request coordinator: it resolves an incoming
// HTTP request to a .sql file or a static asset under web_root, builds the
// per-request Context, and drives the analyzer -> params -> db -> dispatch
// -> render pipeline end to end.
//
// Grounded on http.rs's main_handler/path_to_sql_file/serve_file and
// render.rs's stream_response.
package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SimonWaldherr/sqlpagego/internal/analyzer"
	"github.com/SimonWaldherr/sqlpagego/internal/config"
	"github.com/SimonWaldherr/sqlpagego/internal/db"
	"github.com/SimonWaldherr/sqlpagego/internal/dispatch"
	"github.com/SimonWaldherr/sqlpagego/internal/functions"
	"github.com/SimonWaldherr/sqlpagego/internal/params"
	"github.com/SimonWaldherr/sqlpagego/internal/render"
	"github.com/SimonWaldherr/sqlpagego/internal/reqctx"
)

// Coordinator is the top-level http.Handler that serves both .sql pages and
// static files out of a web root directory.
type Coordinator struct {
	cfg   *config.Config
	pool  *db.Pool
	funcs *functions.Registry

	cacheMu sync.Mutex
	cache   map[string]*cachedFile
}

type cachedFile struct {
	modTime time.Time
	file    *analyzer.AnalyzedFile
}

// New builds a Coordinator serving cfg.WebRoot against pool, using funcs as
// the sqlpage.* function registry for both analysis-time validation and
// execution-time calls.
func New(cfg *config.Config, pool *db.Pool, funcs *functions.Registry) *Coordinator {
	return &Coordinator{cfg: cfg, pool: pool, funcs: funcs, cache: map[string]*cachedFile{}}
}

// ServeHTTP implements http.Handler.
func (c *Coordinator) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	reqPath, err := decodedPath(req.URL.Path)
	if err != nil {
		http.Error(w, "bad request path", http.StatusBadRequest)
		return
	}

	sqlPath, isSQL := pathToSQLFile(reqPath)
	if !isSQL {
		c.serveStatic(w, req, reqPath)
		return
	}

	if redirectTo, ok := redirectMissingTrailingSlash(reqPath); ok {
		http.Redirect(w, req, redirectTo, http.StatusMovedPermanently)
		return
	}

	c.serveSQL(w, req, sqlPath)
}

// decodedPath percent-decodes an incoming URL path.
func decodedPath(raw string) (string, error) {
	return url.PathUnescape(raw)
}

// pathToSQLFile decides whether reqPath names a .sql file to execute: no
// extension means "append index.sql", a .sql extension is used as-is, and
// any other extension is not a SQL file at all (serve as a static asset).
func pathToSQLFile(reqPath string) (string, bool) {
	if strings.HasSuffix(reqPath, "/") {
		return strings.TrimSuffix(reqPath, "/") + "/index.sql", true
	}
	ext := filepath.Ext(reqPath)
	switch ext {
	case "":
		return reqPath + "/index.sql", true
	case ".sql":
		return reqPath, true
	default:
		return "", false
	}
}

// redirectMissingTrailingSlash reports a canonical redirect when reqPath
// names a directory index implicitly (no extension, no trailing slash):
// "/admin" -> "/admin/". Paths already ending in / or naming a concrete
// .sql file are left alone.
func redirectMissingTrailingSlash(reqPath string) (string, bool) {
	if reqPath == "" || strings.HasSuffix(reqPath, "/") {
		return "", false
	}
	if filepath.Ext(reqPath) != "" {
		return "", false
	}
	return reqPath + "/", true
}

func (c *Coordinator) serveSQL(w http.ResponseWriter, req *http.Request, sqlPath string) {
	fsPath := filepath.Join(c.cfg.WebRoot, filepath.FromSlash(sqlPath))
	af, err := c.loadAnalyzed(fsPath)
	if err != nil {
		c.writeError(w, err)
		return
	}

	rc, err := c.buildContext(req)
	if err != nil {
		c.writeError(w, err)
		return
	}
	if rc.UploadedFiles != nil {
		defer cleanupUploads(rc.UploadedFiles)
	}

	conn, err := c.pool.Acquire(req.Context())
	if err != nil {
		c.writeError(w, err)
		return
	}
	defer conn.Release()

	renderer := render.NewRenderer(w, rc)
	renderer.OnFirstFlush(func() { c.applyResponseSideEffects(w, rc) })
	d := dispatch.New(rc)
	c.runFile(req.Context(), af, rc, conn, d, renderer)

	if rc.State() == reqctx.Terminated && rc.RedirectTo != "" {
		c.applyResponseSideEffects(w, rc)
		http.Redirect(w, req, rc.RedirectTo, http.StatusFound)
		return
	}

	renderer.Finish()
}

// runFile executes every statement of af in order, feeding its rows through
// the dispatcher and renderer. A statement-level error is shown inline via
// the error component and does not stop later, independent statements.
func (c *Coordinator) runFile(ctx context.Context, af *analyzer.AnalyzedFile, rc *reqctx.Context, conn *db.Conn, d *dispatch.Dispatcher, r *render.Renderer) {
	for _, stmt := range af.Statements {
		if rc.State() == reqctx.Terminated {
			return
		}
		switch s := stmt.(type) {
		case *analyzer.StaticRow:
			r.Apply(d.HandleRow(staticRowToDBRow(s)))
		case *analyzer.SetVariable:
			c.runSetVariable(ctx, s, rc, conn)
		case *analyzer.Query:
			c.runQuery(ctx, s, rc, conn, d, r)
		}
	}
	for _, e := range af.Errs {
		r.Apply([]dispatch.Event{dispatch.Err{Err: e}})
	}
	r.Apply(d.Finish())
}

func (c *Coordinator) runSetVariable(ctx context.Context, s *analyzer.SetVariable, rc *reqctx.Context, conn *db.Conn) {
	args, err := params.Evaluate(ctx, rc, s.Inner.Placeholders, c.funcs)
	if err != nil {
		rc.Vars[s.Name] = nil
		return
	}
	v, err := conn.QueryScalar(ctx, s.Inner.SQL, args)
	if err != nil {
		rc.Vars[s.Name] = nil
		return
	}
	rc.Vars[s.Name] = v
}

func (c *Coordinator) runQuery(ctx context.Context, q *analyzer.Query, rc *reqctx.Context, conn *db.Conn, d *dispatch.Dispatcher, r *render.Renderer) {
	args, err := params.Evaluate(ctx, rc, q.Placeholders, c.funcs)
	if err != nil {
		r.Apply([]dispatch.Event{dispatch.Err{Err: err}})
		return
	}
	rows, err := conn.QueryRows(ctx, q.SQL, args)
	if err != nil {
		r.Apply([]dispatch.Event{dispatch.Err{Err: err}})
		return
	}
	defer rows.Close()
	for rows.Next() {
		if rc.State() == reqctx.Terminated {
			return
		}
		r.Apply(d.HandleRow(rows.Row()))
	}
	if err := rows.Err(); err != nil {
		r.Apply([]dispatch.Event{dispatch.Err{Err: err}})
	}
}

func staticRowToDBRow(s *analyzer.StaticRow) db.Row {
	row := db.Row{Columns: make([]string, len(s.Columns)), Values: make([]db.DbValue, len(s.Columns))}
	for i, c := range s.Columns {
		row.Columns[i] = c.Name
		row.Values[i] = c.Value
	}
	return row
}

func (c *Coordinator) applyResponseSideEffects(w http.ResponseWriter, rc *reqctx.Context) {
	for k, vs := range rc.ResponseHeaders {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if rc.ResponseStatus != 0 && rc.ResponseStatus != http.StatusOK && rc.ResponseStatus != http.StatusFound {
		w.WriteHeader(rc.ResponseStatus)
	}
}

func (c *Coordinator) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var se *db.StatusError
	if errors.As(err, &se) {
		status = se.Status
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", db.RetryAfterSeconds))
		}
	}
	if os.IsNotExist(err) {
		status = http.StatusNotFound
	}
	msg := err.Error()
	if c.cfg.IsProduction() {
		msg = "internal server error"
	}
	http.Error(w, msg, status)
}

// loadAnalyzed returns a cached AnalyzedFile for fsPath, re-analyzing when
// the file's mtime has changed since the cached entry was built.
func (c *Coordinator) loadAnalyzed(fsPath string) (*analyzer.AnalyzedFile, error) {
	info, err := os.Stat(fsPath)
	if err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	if entry, ok := c.cache[fsPath]; ok && entry.modTime.Equal(info.ModTime()) {
		c.cacheMu.Unlock()
		return entry.file, nil
	}
	c.cacheMu.Unlock()

	data, err := os.ReadFile(fsPath)
	if err != nil {
		return nil, err
	}
	af, err := analyzer.Analyze(fsPath, string(data), c.pool.Dialect, c.funcs)
	if err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.cache[fsPath] = &cachedFile{modTime: info.ModTime(), file: af}
	c.cacheMu.Unlock()
	return af, nil
}

// serveStatic serves any non-.sql path under web_root, honoring
// If-Modified-Since the way serve_file does.
func (c *Coordinator) serveStatic(w http.ResponseWriter, req *http.Request, reqPath string) {
	fsPath := filepath.Join(c.cfg.WebRoot, filepath.FromSlash(reqPath))
	f, err := os.Open(fsPath)
	if err != nil {
		c.writeError(w, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, req)
		return
	}
	if ct := mime.TypeByExtension(filepath.Ext(fsPath)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, req, fsPath, info.ModTime(), f)
}

// buildContext assembles a Context from an incoming HTTP request: query
// params, form/multipart params, cookies, headers, and basic auth.
func (c *Coordinator) buildContext(req *http.Request) (*reqctx.Context, error) {
	rc := reqctx.New(uuid.NewString())
	rc.Method = req.Method
	rc.Path = req.URL.Path
	rc.Headers = req.Header.Clone()

	for k, vs := range req.URL.Query() {
		if len(vs) > 0 {
			rc.Get.Set(k, vs[len(vs)-1])
		}
	}

	for _, ck := range req.Cookies() {
		rc.Cookies[ck.Name] = ck.Value
	}

	if user, pass, ok := req.BasicAuth(); ok {
		rc.BasicAuthUser = user
		rc.BasicAuthPass = pass
	}

	if err := c.populatePost(req, rc); err != nil {
		return nil, err
	}
	return rc, nil
}

func (c *Coordinator) populatePost(req *http.Request, rc *reqctx.Context) error {
	ct := req.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "multipart/form-data"):
		if err := req.ParseMultipartForm(c.cfg.MaxUploadedFileSize); err != nil {
			return err
		}
		for k, vs := range req.MultipartForm.Value {
			if len(vs) > 0 {
				rc.Post.Set(k, vs[len(vs)-1])
			}
		}
		return c.drainUploads(req, rc)
	case strings.HasPrefix(ct, "application/x-www-form-urlencoded"):
		if err := req.ParseForm(); err != nil {
			return err
		}
		for k, vs := range req.PostForm {
			if len(vs) > 0 {
				rc.Post.Set(k, vs[len(vs)-1])
			}
		}
	}
	return nil
}

func (c *Coordinator) drainUploads(req *http.Request, rc *reqctx.Context) error {
	for field, headers := range req.MultipartForm.File {
		if len(headers) == 0 {
			continue
		}
		fh := headers[0]
		src, err := fh.Open()
		if err != nil {
			return err
		}
		tmp, err := os.CreateTemp("", "sqlpage-upload-*")
		if err != nil {
			src.Close()
			return err
		}
		if _, err := io.Copy(tmp, src); err != nil {
			src.Close()
			tmp.Close()
			return err
		}
		src.Close()
		tmp.Close()
		rc.UploadedFiles[field] = reqctx.UploadedFile{
			FieldName: field,
			TempPath:  tmp.Name(),
			MimeType:  fh.Header.Get("Content-Type"),
			FileName:  fh.Filename,
		}
	}
	return nil
}

func cleanupUploads(files map[string]reqctx.UploadedFile) {
	for _, f := range files {
		os.Remove(f.TempPath)
	}
}
