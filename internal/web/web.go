// Package web renders the HTML pages and serves the browser assets,
// including the device fingerprint script.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/darkodi/snaplink/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// HomePage is the data for the landing page
type HomePage struct {
	BaseURL string
}

// Renderer holds one parsed template set per page
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer parses every page against the shared layout
func NewRenderer() (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template)}

	for _, page := range []string{"home", "stats", "notfound"} {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+page+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", page, err)
		}
		r.pages[page] = tmpl
	}
	return r, nil
}

// Home renders the landing page
func (r *Renderer) Home(w http.ResponseWriter, data HomePage) error {
	return r.render(w, http.StatusOK, "home", data)
}

// Stats renders a link's statistics
func (r *Renderer) Stats(w http.ResponseWriter, stats *model.LinkStats) error {
	return r.render(w, http.StatusOK, "stats", stats)
}

// NotFound renders the 404 page
func (r *Renderer) NotFound(w http.ResponseWriter) error {
	return r.render(w, http.StatusNotFound, "notfound", nil)
}

// render executes into a buffer first so a template error never leaves a half-written page
func (r *Renderer) render(w http.ResponseWriter, status int, page string, data any) error {
	tmpl, ok := r.pages[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("render %s: %w", page, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// Static serves the embedded assets; mount it under /static/
func Static() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		// the directory is embedded at build time
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
