// Package functions implements the sqlpage.* built-in function registry
// that the analyzer recognizes and the params evaluator calls.
package functions

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/SimonWaldherr/sqlpagego/internal/config"
	"github.com/SimonWaldherr/sqlpagego/internal/db"
	"github.com/SimonWaldherr/sqlpagego/internal/reqctx"
)

// Version is stamped at build time (ldflags) and returned by
// sqlpage.version().
var Version = "dev"

// Func is one sqlpage.* built-in. Args have already been evaluated to Go
// values (string, int64, float64, bool, []byte, nil) by the params
// evaluator.
type Func func(ctx context.Context, rc *reqctx.Context, args []any) (any, error)

// Registry is the built-in function catalog, consulted by the analyzer for
// unknown-function detection and by the params evaluator to actually run a
// call.
type Registry struct {
	funcs     map[string]Func
	allowExec bool
}

// New builds the standard sqlpage.* registry. cfg controls gated functions
// like exec.
func New(cfg *config.Config) *Registry {
	r := &Registry{funcs: map[string]Func{}, allowExec: cfg != nil && cfg.AllowExec}
	r.register()
	return r
}

// IsKnown implements analyzer.KnownFunctions.
func (r *Registry) IsKnown(name string) bool {
	_, ok := r.funcs[name]
	return ok
}

// Call dispatches to name's implementation, or an UnknownFunctionError-shaped
// error if name was registered by a different sqlpagego build than the one
// that analyzed the file.
func (r *Registry) Call(ctx context.Context, rc *reqctx.Context, name string, args []any) (any, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("functions: unknown function sqlpage.%s", name)
	}
	return fn(ctx, rc, args)
}

func (r *Registry) register() {
	r.funcs["cookie"] = fnCookie
	r.funcs["header"] = fnHeader
	r.funcs["basic_auth_username"] = fnBasicAuthUsername
	r.funcs["basic_auth_password"] = fnBasicAuthPassword
	r.funcs["hash_password"] = fnHashPassword
	r.funcs["variables"] = fnVariables
	r.funcs["path"] = fnPath
	r.funcs["url_encode"] = fnURLEncode
	r.funcs["random_string"] = fnRandomString
	r.funcs["environment_variable"] = fnEnvironmentVariable
	r.funcs["current_working_directory"] = fnCurrentWorkingDirectory
	r.funcs["version"] = fnVersion
	r.funcs["read_file_as_data_url"] = fnReadFileAsDataURL
	r.funcs["uploaded_file_path"] = fnUploadedFilePath
	r.funcs["uploaded_file_mime_type"] = fnUploadedFileMimeType
	r.funcs["fetch"] = fnFetch
	r.funcs["exec"] = r.fnExec
}

func argString(args []any, i int) string {
	if i >= len(args) || args[i] == nil {
		return ""
	}
	if s, ok := args[i].(string); ok {
		return s
	}
	return fmt.Sprintf("%v", args[i])
}

func fnCookie(_ context.Context, rc *reqctx.Context, args []any) (any, error) {
	v, ok := rc.Cookies[argString(args, 0)]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func fnHeader(_ context.Context, rc *reqctx.Context, args []any) (any, error) {
	v := rc.Headers.Get(argString(args, 0))
	if v == "" {
		return nil, nil
	}
	return v, nil
}

func fnBasicAuthUsername(_ context.Context, rc *reqctx.Context, _ []any) (any, error) {
	if rc.BasicAuthUser == "" {
		return nil, nil
	}
	return rc.BasicAuthUser, nil
}

func fnBasicAuthPassword(_ context.Context, rc *reqctx.Context, _ []any) (any, error) {
	if rc.BasicAuthPass == "" {
		return nil, nil
	}
	return rc.BasicAuthPass, nil
}

// argon2idParams follows the OWASP-recommended baseline for interactive
// login: one pass, 64MiB, four lanes.
const (
	argon2Time    = 1
	argon2MemoryK = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

func fnHashPassword(_ context.Context, _ *reqctx.Context, args []any) (any, error) {
	password := argString(args, 0)
	salt := make([]byte, argon2SaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("functions: hash_password: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2MemoryK, argon2Threads, argon2KeyLen)
	encoded := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2MemoryK, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
	return encoded, nil
}

// fnVariables returns the entire get/post parameter map serialized as a
// JSON object string, since database/sql can only bind scalar values.
func fnVariables(_ context.Context, rc *reqctx.Context, args []any) (any, error) {
	var m map[string]string
	switch argString(args, 0) {
	case "post":
		m = rc.Post.Map()
	default:
		m = rc.Get.Map()
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("functions: variables: %w", err)
	}
	return string(encoded), nil
}

func fnPath(_ context.Context, rc *reqctx.Context, _ []any) (any, error) {
	return rc.Path, nil
}

func fnURLEncode(_ context.Context, _ *reqctx.Context, args []any) (any, error) {
	return url.QueryEscape(argString(args, 0)), nil
}

const randomStringAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func fnRandomString(_ context.Context, _ *reqctx.Context, args []any) (any, error) {
	n := int64(20)
	if len(args) > 0 {
		if f, ok := toInt64(args[0]); ok {
			n = f
		}
	}
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(randomStringAlphabet))))
		if err != nil {
			return nil, fmt.Errorf("functions: random_string: %w", err)
		}
		out[i] = randomStringAlphabet[idx.Int64()]
	}
	return string(out), nil
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func fnEnvironmentVariable(_ context.Context, _ *reqctx.Context, args []any) (any, error) {
	v, ok := os.LookupEnv(argString(args, 0))
	if !ok {
		return nil, nil
	}
	return v, nil
}

func fnCurrentWorkingDirectory(_ context.Context, _ *reqctx.Context, _ []any) (any, error) {
	return os.Getwd()
}

func fnVersion(_ context.Context, _ *reqctx.Context, _ []any) (any, error) {
	return Version, nil
}

func fnReadFileAsDataURL(_ context.Context, _ *reqctx.Context, args []any) (any, error) {
	path := argString(args, 0)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("functions: read_file_as_data_url: %w", err)
	}
	ext := filepath.Ext(path)
	mimeType := mimeTypeFor(ext)
	return db.DataURL(mimeType, data), nil
}

func mimeTypeFor(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".svg":
		return "image/svg+xml"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func fnUploadedFilePath(_ context.Context, rc *reqctx.Context, args []any) (any, error) {
	f, ok := rc.UploadedFiles[argString(args, 0)]
	if !ok {
		return nil, nil
	}
	return f.TempPath, nil
}

func fnUploadedFileMimeType(_ context.Context, rc *reqctx.Context, args []any) (any, error) {
	f, ok := rc.UploadedFiles[argString(args, 0)]
	if !ok {
		return nil, nil
	}
	return f.MimeType, nil
}

// fnFetch performs a synchronous HTTP GET, the way sqlpage.fetch does for
// simple read-only calls. Bodies are capped at 8MiB to bound memory.
const fetchMaxBody = 8 * 1024 * 1024

func fnFetch(ctx context.Context, _ *reqctx.Context, args []any) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, argString(args, 0), nil)
	if err != nil {
		return nil, fmt.Errorf("functions: fetch: %w", err)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("functions: fetch: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBody))
	if err != nil {
		return nil, fmt.Errorf("functions: fetch: %w", err)
	}
	return string(body), nil
}

// fnExec is gated by allow_exec: sqlpage.json/env must opt in, since running
// arbitrary sql-file-authored commands is the most dangerous capability in
// the registry.
func (r *Registry) fnExec(ctx context.Context, _ *reqctx.Context, args []any) (any, error) {
	if !r.allowExec {
		return nil, errors.New("functions: sqlpage.exec is disabled; set allow_exec to enable it")
	}
	if len(args) == 0 {
		return nil, errors.New("functions: exec requires a command name")
	}
	name := argString(args, 0)
	var cmdArgs []string
	for i := 1; i < len(args); i++ {
		cmdArgs = append(cmdArgs, argString(args, i))
	}
	cmd := exec.CommandContext(ctx, name, cmdArgs...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("functions: exec %s: %w", name, err)
	}
	return string(out), nil
}
