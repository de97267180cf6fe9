// Package analyzer implements the SQL source analyzer: it
// splits a .sql file into an ordered sequence of statements, rewrites
// $name/:name placeholders and sqlpage.* function calls into
// dialect-native positional markers, and recognizes statements whose every
// projected column is a literal so they can bypass the database entirely.
//
// What: a single-pass, quote- and comment-aware scanner tuned to the small
// grammar sqlpage.* placeholders need, not a general SQL parser.
// How: adapted from the rune-based scanner in tinySQL's internal/engine
// lexer, replacing keyword/identifier tokenization with placeholder and
// function-call recognition.
// Why: SQLPage never needs to understand full SQL semantics — only where a
// parameter is bound — so a general-purpose SQL grammar would be the wrong
// tool for this layer.
package analyzer

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/SimonWaldherr/sqlpagego/internal/dialect"
)

// SourceKind identifies where a PlaceholderRef's value comes from.
type SourceKind int

const (
	SourceGetParam SourceKind = iota
	SourcePostParam
	SourceCookie
	SourceHeader
	SourceVar
	SourceFunction
	// SourceLiteral is a literal argument passed to a sqlpage.* function
	// call, e.g. the 'foo' in sqlpage.exec('foo', $1).
	SourceLiteral
)

// PlaceholderRef is one resolved `$name`/`:name`/`sqlpage.func(...)`
// occurrence, numbered by left-to-right ordinal and passed positionally
// to the database driver.
type PlaceholderRef struct {
	Ordinal int
	Kind    SourceKind
	Name    string       // set for Source{GetParam,PostParam,Cookie,Header,Var}; the literal text for SourceLiteral
	Call    *FunctionCall // set for SourceFunction
}

// FunctionCall is a `sqlpage.<name>(args...)` reference. Arguments are
// themselves placeholder references, so a function argument that is itself
// a nested function call recurses through Call.
type FunctionCall struct {
	Name string
	Args []PlaceholderRef
}

// Statement is one analyzed statement: Query, SetVariable, or StaticRow.
type Statement interface {
	statementTag()
}

// Query is a rewritten, parameter-bound SQL statement ready for the
// database driver.
type Query struct {
	SQL          string
	Placeholders []PlaceholderRef
	Dialect      dialect.Dialect
	// SourceText is the original, un-rewritten statement text; Line is the
	// 1-based source line the statement starts on.
	SourceText string
	Line       int
}

func (*Query) statementTag() {}

// SetVariable evaluates Inner once, synchronously, and binds its single
// scalar result under $Name for the remainder of the file.
type SetVariable struct {
	Name  string
	Inner *Query
}

func (*SetVariable) statementTag() {}

// StaticRow is a statement whose every projected expression was a literal;
// it can be evaluated without a database round trip.
type StaticRow struct {
	Columns []StaticColumn
}

func (*StaticRow) statementTag() {}

// StaticColumn is one literal column=value pair of a StaticRow, in
// projection order (order matters for duplicate-column semantics).
type StaticColumn struct {
	Name  string
	Value any
}

// AnalyzedFile is the immutable result of analyzing one .sql file, cached
// by (path, mtime) by the caller.
type AnalyzedFile struct {
	Path       string
	SourceHash string
	Statements []Statement
	// Errs holds a StatementError per statement that failed to analyze;
	// statements that do not depend on a failed one remain runnable.
	Errs []error
}

// KnownFunctions is injected by the caller (normally
// internal/functions.Registry.Names) so unknown-function detection can
// happen here, at analysis time rather than execution time.
type KnownFunctions interface {
	IsKnown(name string) bool
}

// Analyze splits source into statements for the given dialect, recognizing
// placeholders, sqlpage.* calls, and literal-only projections.
func Analyze(path, source string, d dialect.Dialect, known KnownFunctions) (*AnalyzedFile, error) {
	sum := sha256.Sum256([]byte(source))
	af := &AnalyzedFile{
		Path:       path,
		SourceHash: hex.EncodeToString(sum[:]),
	}

	raw := splitStatements(source)
	for i, rs := range raw {
		stmt, err := analyzeOne(rs, d, known)
		if err != nil {
			af.Errs = append(af.Errs, &StatementError{Index: i, Err: err})
			continue
		}
		af.Statements = append(af.Statements, stmt)
	}
	return af, nil
}

func analyzeOne(rs rawStatement, d dialect.Dialect, known KnownFunctions) (Statement, error) {
	if name, inner, ok := splitSetVariable(rs.text); ok {
		q, err := buildQuery(rawStatement{text: inner, line: rs.line}, d, known)
		if err != nil {
			return nil, err
		}
		return &SetVariable{Name: name, Inner: q}, nil
	}

	q, err := buildQuery(rs, d, known)
	if err != nil {
		return nil, err
	}
	if len(q.Placeholders) == 0 {
		if cols, ok := literalProjection(rs.text); ok {
			return &StaticRow{Columns: cols}, nil
		}
	}
	return q, nil
}

func buildQuery(rs rawStatement, d dialect.Dialect, known KnownFunctions) (*Query, error) {
	rewritten, refs, err := scanAndRewrite(rs.text, d, known, 0)
	if err != nil {
		return nil, err
	}
	return &Query{
		SQL:          rewritten,
		Placeholders: refs,
		Dialect:      d,
		SourceText:   rs.text,
		Line:         rs.line,
	}, nil
}

// maxFunctionDepth bounds FunctionCall nesting; analysis rejects recursion
// deeper than this.
const maxFunctionDepth = 32
