// Package params evaluates a Statement's PlaceholderRef list against the
// current request context into a positional argument vector the database
// driver can bind, calling sqlpage.* functions exactly once per occurrence
// in left-to-right order.
package params

import (
	"context"
	"fmt"
	"strconv"

	"github.com/SimonWaldherr/sqlpagego/internal/analyzer"
	"github.com/SimonWaldherr/sqlpagego/internal/reqctx"
)

// FunctionCaller runs one sqlpage.* call. internal/functions.Registry
// satisfies this without params importing that package directly, keeping
// analyzer -> params -> {db,dispatch} acyclic.
type FunctionCaller interface {
	Call(ctx context.Context, rc *reqctx.Context, name string, args []any) (any, error)
}

// Error attaches the offending PlaceholderRef's name to an evaluation
// failure, so request-level error reporting can name the bad parameter.
type Error struct {
	Ref analyzer.PlaceholderRef
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("evaluating placeholder %s: %v", refLabel(e.Ref), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func refLabel(ref analyzer.PlaceholderRef) string {
	if ref.Call != nil {
		return "sqlpage." + ref.Call.Name + "()"
	}
	return ref.Name
}

// Evaluate resolves refs, in order, into a positional argument vector.
// A SourceFunction ref is evaluated by first resolving its own Args
// (recursively, depth-first) and then invoking caller.Call exactly once.
func Evaluate(ctx context.Context, rc *reqctx.Context, refs []analyzer.PlaceholderRef, caller FunctionCaller) ([]any, error) {
	out := make([]any, len(refs))
	for i, ref := range refs {
		v, err := resolve(ctx, rc, ref, caller)
		if err != nil {
			return nil, &Error{Ref: ref, Err: err}
		}
		out[i] = v
	}
	return out, nil
}

func resolve(ctx context.Context, rc *reqctx.Context, ref analyzer.PlaceholderRef, caller FunctionCaller) (any, error) {
	switch ref.Kind {
	case analyzer.SourceGetParam:
		if v, ok := rc.Vars[ref.Name]; ok {
			return v, nil
		}
		if v, ok := rc.Get.Get(ref.Name); ok {
			return v, nil
		}
		if v, ok := rc.Post.Get(ref.Name); ok {
			return v, nil
		}
		return nil, nil
	case analyzer.SourcePostParam:
		if v, ok := rc.Post.Get(ref.Name); ok {
			return v, nil
		}
		return nil, nil
	case analyzer.SourceCookie:
		if v, ok := rc.Cookies[ref.Name]; ok {
			return v, nil
		}
		return nil, nil
	case analyzer.SourceHeader:
		if v := rc.Headers.Get(ref.Name); v != "" {
			return v, nil
		}
		return nil, nil
	case analyzer.SourceVar:
		return rc.Vars[ref.Name], nil
	case analyzer.SourceLiteral:
		return literalValue(ref.Name), nil
	case analyzer.SourceFunction:
		if ref.Call == nil {
			return nil, fmt.Errorf("placeholder has SourceFunction kind but no Call")
		}
		args := make([]any, len(ref.Call.Args))
		for i, argRef := range ref.Call.Args {
			v, err := resolve(ctx, rc, argRef, caller)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return caller.Call(ctx, rc, ref.Call.Name, args)
	default:
		return nil, fmt.Errorf("unknown placeholder source kind %d", ref.Kind)
	}
}

// literalValue converts a function-call literal argument's source text back
// into a typed Go value: int64/float64 when it parses as a number,
// otherwise the text unchanged.
func literalValue(text string) any {
	if text == "" {
		return ""
	}
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f
	}
	return text
}
