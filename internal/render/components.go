package render

import (
	"fmt"
	"html/template"
	"io"
	"sort"

	"github.com/SimonWaldherr/sqlpagego/internal/db"
)

// componentRenderer renders one open component across its header row,
// zero or more item rows, and a footer, adapted from tinySQL's
// cmd/tinysqlpage per-component HTML helpers to a streaming discipline.
type componentRenderer interface {
	Header(w io.Writer, data map[string]db.DbValue) error
	Item(w io.Writer, data map[string]db.DbValue) error
	Footer(w io.Writer) error
}

func newComponentRenderer(name string) componentRenderer {
	switch name {
	case "table":
		return &tableRenderer{}
	case "text":
		return &textRenderer{}
	case "hero":
		return &heroRenderer{}
	case "stat_list", "stats":
		return &statListRenderer{}
	case "list":
		return &listRenderer{}
	default:
		return &genericRenderer{name: name}
	}
}

// metaColumns are properties consumed by the component itself rather than
// rendered as data, matching tinySQL's componentsFromResult exclusion list.
var metaColumns = map[string]bool{
	"component": true, "title": true, "subtitle": true, "content": true,
}

func sortedDataKeys(data map[string]db.DbValue) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		if !metaColumns[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func str(v db.DbValue) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func esc(s string) string { return template.HTMLEscapeString(s) }

// --- table ---

type tableRenderer struct {
	cols    []string
	started bool
}

func (t *tableRenderer) Header(w io.Writer, data map[string]db.DbValue) error {
	if title, ok := data["title"]; ok {
		fmt.Fprintf(w, `<h2>%s</h2>`, esc(str(title)))
	}
	fmt.Fprint(w, `<table class="sqlpage-table">`)
	return nil
}

func (t *tableRenderer) writeColumnsIfNeeded(w io.Writer, data map[string]db.DbValue) {
	if t.started {
		return
	}
	t.cols = sortedDataKeys(data)
	fmt.Fprint(w, `<thead><tr>`)
	for _, c := range t.cols {
		fmt.Fprintf(w, `<th>%s</th>`, esc(c))
	}
	fmt.Fprint(w, `</tr></thead><tbody>`)
	t.started = true
}

func (t *tableRenderer) Item(w io.Writer, data map[string]db.DbValue) error {
	t.writeColumnsIfNeeded(w, data)
	fmt.Fprint(w, `<tr>`)
	for _, c := range t.cols {
		fmt.Fprintf(w, `<td>%s</td>`, esc(str(data[c])))
	}
	fmt.Fprint(w, `</tr>`)
	return nil
}

func (t *tableRenderer) Footer(w io.Writer) error {
	if !t.started {
		fmt.Fprint(w, `<thead></thead><tbody>`)
	}
	fmt.Fprint(w, `</tbody></table>`)
	return nil
}

// --- text ---

type textRenderer struct{}

func (t *textRenderer) Header(w io.Writer, data map[string]db.DbValue) error {
	fmt.Fprint(w, `<p class="sqlpage-text">`)
	if c, ok := data["content"]; ok {
		fmt.Fprint(w, esc(str(c)))
	}
	return nil
}

func (t *textRenderer) Item(w io.Writer, data map[string]db.DbValue) error {
	for _, k := range sortedDataKeys(data) {
		fmt.Fprint(w, esc(str(data[k])))
	}
	return nil
}

func (t *textRenderer) Footer(w io.Writer) error {
	fmt.Fprint(w, `</p>`)
	return nil
}

// --- hero ---

type heroRenderer struct{}

func (h *heroRenderer) Header(w io.Writer, data map[string]db.DbValue) error {
	fmt.Fprint(w, `<section class="sqlpage-hero">`)
	if title, ok := data["title"]; ok {
		fmt.Fprintf(w, `<h1>%s</h1>`, esc(str(title)))
	}
	if sub, ok := data["subtitle"]; ok {
		fmt.Fprintf(w, `<p class="subtitle">%s</p>`, esc(str(sub)))
	}
	return nil
}

func (h *heroRenderer) Item(w io.Writer, data map[string]db.DbValue) error { return nil }

func (h *heroRenderer) Footer(w io.Writer) error {
	fmt.Fprint(w, `</section>`)
	return nil
}

// --- stat_list ---

type statListRenderer struct{}

func (s *statListRenderer) Header(w io.Writer, data map[string]db.DbValue) error {
	fmt.Fprint(w, `<div class="sqlpage-stat-list">`)
	return s.Item(w, data)
}

func (s *statListRenderer) Item(w io.Writer, data map[string]db.DbValue) error {
	label := firstOf(data, "label", "name", "title")
	value := firstOf(data, "value", "content")
	fmt.Fprintf(w, `<div class="stat"><span class="label">%s</span><span class="value">%s</span></div>`,
		esc(label), esc(value))
	return nil
}

func (s *statListRenderer) Footer(w io.Writer) error {
	fmt.Fprint(w, `</div>`)
	return nil
}

func firstOf(data map[string]db.DbValue, names ...string) string {
	for _, n := range names {
		if v, ok := data[n]; ok && v != nil {
			return str(v)
		}
	}
	return ""
}

// --- list ---

type listRenderer struct{ started bool }

func (l *listRenderer) Header(w io.Writer, data map[string]db.DbValue) error {
	fmt.Fprint(w, `<ul class="sqlpage-list">`)
	if hasAny(data) {
		return l.Item(w, data)
	}
	return nil
}

func hasAny(data map[string]db.DbValue) bool {
	return len(sortedDataKeys(data)) > 0
}

func (l *listRenderer) Item(w io.Writer, data map[string]db.DbValue) error {
	label := firstOf(data, "title", "name", "label")
	fmt.Fprintf(w, `<li>%s</li>`, esc(label))
	return nil
}

func (l *listRenderer) Footer(w io.Writer) error {
	fmt.Fprint(w, `</ul>`)
	return nil
}

// --- generic fallback ---

// genericRenderer renders an unrecognized component name as a definition
// list, the same "don't crash on an unknown component" fallback tinySQL's
// componentsFromResult default case uses.
type genericRenderer struct {
	name    string
	started bool
}

func (g *genericRenderer) Header(w io.Writer, data map[string]db.DbValue) error {
	fmt.Fprintf(w, `<div class="sqlpage-component" data-component=%q>`, g.name)
	return g.Item(w, data)
}

func (g *genericRenderer) Item(w io.Writer, data map[string]db.DbValue) error {
	fmt.Fprint(w, `<dl>`)
	for _, k := range sortedDataKeys(data) {
		fmt.Fprintf(w, `<dt>%s</dt><dd>%s</dd>`, esc(k), esc(str(data[k])))
	}
	fmt.Fprint(w, `</dl>`)
	return nil
}

func (g *genericRenderer) Footer(w io.Writer) error {
	fmt.Fprint(w, `</div>`)
	return nil
}
