package render

import (
	"fmt"
	"html/template"
	"io"

	"github.com/SimonWaldherr/sqlpagego/internal/db"
)

// shellState tracks whether a page shell was opened and the title
// configured via a leading "shell" component row, the way
// RenderContext::new special-cases a first row named "shell".
type shellState struct {
	opened bool
	title  string
}

func newShellState() *shellState { return &shellState{} }

// apply records shell properties from the configuring row. It does not
// write anything; writeHead does that once all properties are known.
func (s *shellState) apply(data map[string]db.DbValue) {
	if v, ok := data["title"]; ok {
		s.title = str(v)
	}
}

// writeHead emits the page <head> and opens <body>, using the shell row's
// title (or "sqlpagego"). Other shell properties are not rendered.
func (s *shellState) writeHead(w io.Writer) {
	s.opened = true
	title := s.title
	if title == "" {
		title = "sqlpagego"
	}
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head><body>\n",
		template.HTMLEscapeString(title))
}

func (s *shellState) writeFoot(w io.Writer) {
	if !s.opened {
		return
	}
	fmt.Fprint(w, "\n</body></html>")
}
