// Package dispatch implements the component dispatcher: the state machine
// that classifies each result row as opening a new component, continuing
// the current one, or firing a side effect, and expands "dynamic" rows
// into their nested virtual rows.
//
// Grounded on render.rs's RenderContext/handle_row: dynamic is checked
// first regardless of the current component, a "component" column opens a
// new one, and everything else appends to whichever component is open.
package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/SimonWaldherr/sqlpagego/internal/db"
	"github.com/SimonWaldherr/sqlpagego/internal/reqctx"
)

// DefaultComponent is used for rows before any "component" column has been
// seen.
const DefaultComponent = "default"

// ShellComponent is the page shell; if the very first row of a page names
// it, that row's columns configure the shell instead of opening a visible
// component.
const ShellComponent = "shell"

// maxRecursionDepth bounds "dynamic" row expansion, matching the
// recursion budget render.rs enforces.
const maxRecursionDepth = 256

// sideEffectComponents name components that mutate the response instead of
// rendering a template. They never open/close a visible component.
var sideEffectComponents = map[string]bool{
	"http_header": true,
	"cookie":      true,
	"redirect":    true,
}

// Event is one dispatch decision the renderer consumes. It is one of
// OpenComponent, AppendItem, CloseComponent, Err, RawBody, or ShellConfig.
type Event interface{ eventTag() }

type OpenComponent struct {
	Name string
	Data map[string]db.DbValue
}

func (OpenComponent) eventTag() {}

type AppendItem struct {
	Data map[string]db.DbValue
}

func (AppendItem) eventTag() {}

type CloseComponent struct{}

func (CloseComponent) eventTag() {}

type Err struct{ Err error }

func (Err) eventTag() {}

// RawBody is emitted by the "json" component: its contents column is
// written to the response body verbatim, bypassing the template engine
// entirely.
type RawBody struct {
	ContentType string
	Contents    string
}

func (RawBody) eventTag() {}

// ShellConfig is emitted exactly once, for a leading "shell" component row,
// carrying page-level properties (title, css, ...) to the renderer instead
// of opening a visible component.
type ShellConfig struct {
	Data map[string]db.DbValue
}

func (ShellConfig) eventTag() {}

// Dispatcher tracks which component is currently open across a stream of
// rows from one .sql file.
type Dispatcher struct {
	current     string
	hasCurrent  bool
	shellOpened bool
	jsonMode    bool
	rc          *reqctx.Context
}

// New creates a Dispatcher bound to rc, so side-effect components
// (http_header, cookie, redirect) can mutate the in-flight response.
func New(rc *reqctx.Context) *Dispatcher {
	return &Dispatcher{rc: rc}
}

// HandleRow classifies one result row and returns the Events it produces.
// A StatementError from an earlier stage should be translated to HandleRow
// being skipped entirely by the caller; HandleRow itself only reports
// dispatch-level failures (bad dynamic JSON, recursion overflow) and
// failures of side-effect components (http_header, cookie, redirect, and
// the json Content-Type header), such as ErrHeadersAlreadySent.
func (d *Dispatcher) HandleRow(row db.Row) []Event {
	return d.handleCols(toMap(row), 0)
}

func toMap(row db.Row) map[string]db.DbValue {
	m := make(map[string]db.DbValue, len(row.Columns))
	for i, name := range row.Columns {
		// Duplicate column names: last one wins, matching SQL's own
		// left-to-right column overwrite semantics for SELECT *.
		m[name] = row.Values[i]
	}
	return m
}

func (d *Dispatcher) handleCols(cols map[string]db.DbValue, depth int) []Event {
	if v, ok := cols["dynamic"]; ok && v != nil {
		return d.handleDynamic(v, depth)
	}
	if name, ok := componentName(cols); ok && name == "dynamic" {
		return d.handleDynamic(cols["properties"], depth)
	}
	if name, ok := componentName(cols); ok {
		return d.openComponent(name, cols)
	}
	return d.appendCurrent(cols)
}

func componentName(cols map[string]db.DbValue) (string, bool) {
	v, ok := cols["component"]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (d *Dispatcher) openComponent(name string, cols map[string]db.DbValue) []Event {
	if !d.shellOpened && name == ShellComponent && !d.hasCurrent {
		d.shellOpened = true
		// The shell row configures page-level properties; it never opens
		// a visible component of its own.
		return []Event{ShellConfig{Data: cols}}
	}

	var events []Event
	// json never pushed a visible component onto the renderer's stack, so
	// leaving it needs no CloseComponent.
	if d.hasCurrent && !d.jsonMode {
		events = append(events, CloseComponent{})
	}
	d.jsonMode = false

	if name == "json" {
		if err := d.rc.SetHeader("Content-Type", "application/json"); err != nil {
			d.hasCurrent = false
			return append(events, Err{Err: err})
		}
		d.current = name
		d.hasCurrent = true
		d.jsonMode = true
		if body, ok := jsonContents(cols); ok {
			events = append(events, RawBody{ContentType: "application/json", Contents: body})
		}
		return events
	}

	if sideEffectComponents[name] {
		if ev, err := d.applyEffect(name, cols); err != nil {
			return append(events, Err{Err: err})
		} else if ev != nil {
			events = append(events, ev...)
		}
		d.hasCurrent = false
		return events
	}

	d.current = name
	d.hasCurrent = true
	events = append(events, OpenComponent{Name: name, Data: cols})
	return events
}

// jsonContents reads the row's "contents" column, the one value a "json"
// component row carries verbatim into the response body.
func jsonContents(cols map[string]db.DbValue) (string, bool) {
	v, ok := cols["contents"]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (d *Dispatcher) appendCurrent(cols map[string]db.DbValue) []Event {
	if !d.hasCurrent {
		d.current = DefaultComponent
		d.hasCurrent = true
		return []Event{OpenComponent{Name: DefaultComponent, Data: cols}}
	}
	if d.jsonMode {
		if body, ok := jsonContents(cols); ok {
			return []Event{RawBody{ContentType: "application/json", Contents: body}}
		}
		return nil
	}
	return []Event{AppendItem{Data: cols}}
}

// handleDynamic expands a "dynamic" row: raw is the JSON string held in the
// row's "dynamic" column, or in the "properties" column of a row whose
// component is "dynamic". It is either a single object (one virtual row) or
// an array of objects (several virtual rows), each re-entering handleCols.
func (d *Dispatcher) handleDynamic(raw db.DbValue, depth int) []Event {
	if depth >= maxRecursionDepth {
		return []Event{Err{Err: fmt.Errorf("dispatch: dynamic recursion exceeded %d levels", maxRecursionDepth)}}
	}
	text, ok := raw.(string)
	if !ok {
		return []Event{Err{Err: fmt.Errorf("dispatch: dynamic column must be a JSON string")}}
	}

	var asArray []map[string]any
	if err := json.Unmarshal([]byte(text), &asArray); err == nil {
		var events []Event
		for _, obj := range asArray {
			events = append(events, d.handleCols(toDbValueMap(obj), depth+1)...)
		}
		return events
	}

	var asObject map[string]any
	if err := json.Unmarshal([]byte(text), &asObject); err != nil {
		return []Event{Err{Err: fmt.Errorf("dispatch: parsing dynamic properties: %w", err)}}
	}
	return d.handleCols(toDbValueMap(asObject), depth+1)
}

func toDbValueMap(obj map[string]any) map[string]db.DbValue {
	m := make(map[string]db.DbValue, len(obj))
	for k, v := range obj {
		m[k] = v
	}
	return m
}

// Finish closes any component left open at end of file.
func (d *Dispatcher) Finish() []Event {
	if d.hasCurrent {
		d.hasCurrent = false
		if d.jsonMode {
			d.jsonMode = false
			return nil
		}
		return []Event{CloseComponent{}}
	}
	return nil
}
