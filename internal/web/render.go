package web

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"net/http"

	appLog "clinicweb/internal/log"
)

//go:embed templates/*.html
var templateFS embed.FS

// Pages rendered inside base.html. print.html is a standalone document.
var layoutPages = []string{"login.html", "register.html", "dashboard.html", "confirm.html"}

type renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	// seq yields n items so templates can repeat markup n times.
	"seq": func(n int) []int {
		if n < 0 {
			n = 0
		}
		return make([]int, n)
	},
}

func newRenderer() (*renderer, error) {
	r := &renderer{pages: map[string]*template.Template{}}
	for _, name := range layoutPages {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/base.html", "templates/"+name)
		if err != nil {
			return nil, err
		}
		r.pages[name] = t
	}
	t, err := template.New("print.html").Funcs(funcs).ParseFS(templateFS, "templates/print.html")
	if err != nil {
		return nil, err
	}
	r.pages["print.html"] = t
	return r, nil
}

// render executes into a buffer first so a template error never leaves a
// half-written page behind.
func (r *renderer) render(w http.ResponseWriter, status int, name string, data any) {
	t, ok := r.pages[name]
	if !ok {
		appLog.Error("unknown template", errors.New("template not registered"), "name", name)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", data); err != nil {
		appLog.Error("template render failed", err, "name", name)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
