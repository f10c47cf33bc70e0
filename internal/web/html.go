package web

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
)

//go:embed static/app.css
var appCSS []byte

//go:embed templates/*.html
var templatesFS embed.FS

const (
	billsPage   = "bills.html"
	newBillPage = "newbill.html"
)

var pages = parsePages(billsPage, newBillPage)

// parsePages builds one template set per page, each with the shared layout
func parsePages(names ...string) map[string]*template.Template {
	parsed := make(map[string]*template.Template, len(names))
	for _, name := range names {
		parsed[name] = template.Must(template.New("layout.html").ParseFS(templatesFS, "templates/layout.html", "templates/"+name))
	}
	return parsed
}

// render executes a page into w with the given status code
func render(w http.ResponseWriter, status int, page string, data any) error {
	t, ok := pages[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := t.ExecuteTemplate(w, "layout", data); err != nil {
		return fmt.Errorf("rendering %s: %w", page, err)
	}
	return nil
}
