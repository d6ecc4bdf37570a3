package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/session"

	"github.com/gorilla/csrf"
	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

// Raw HTML inside recommendation markdown is escaped: WithUnsafe is not set.
var mdRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

var pageFuncs = template.FuncMap{
	"markdown": func(md string) template.HTML {
		var buf bytes.Buffer
		if err := mdRenderer.Convert([]byte(md), &buf); err != nil {
			return template.HTML(template.HTMLEscapeString(md))
		}
		return template.HTML(buf.String())
	},
	"money": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"pct":   func(v float64) string { return fmt.Sprintf("%.1f%%", v) },
	"date":  func(t time.Time) string { return t.Format("2006-01-02") },
	"title": func(d domain.Dashboard) string { return d.Title() },
}

var views = mustParsePages("login.html", "signup.html", "hub.html", "dashboard.html", "consent.html", "error.html")

func mustParsePages(names ...string) map[string]*template.Template {
	out := make(map[string]*template.Template, len(names))
	for _, name := range names {
		out[name] = template.Must(template.New("layout.html").Funcs(pageFuncs).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name))
	}
	return out
}

// pageData is what every page template receives.
type pageData struct {
	Title     string
	Customer  *domain.Customer
	CSRFField template.HTML
	Notice    string
	Error     string
	Body      any
}

type errorView struct {
	Heading   string
	Dashboard domain.Dashboard
	Upsell    domain.Product
}

func render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData, logger *zap.Logger) {
	data.CSRFField = csrf.TemplateField(r)
	if sess := session.FromContext(r.Context()); data.Customer == nil && sess.Authenticated() {
		data.Customer = sess.Customer
	}

	var buf bytes.Buffer
	if err := views[name].Execute(&buf, data); err != nil {
		logger.Error("render failed", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// renderErrorPage is the HTML counterpart of handleServiceError.
func renderErrorPage(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	status, _, msg := classify(err)
	logServiceError(logger, status, err)

	view := errorView{Heading: http.StatusText(status)}
	if f, ok := asForbidden(err); ok {
		view = errorView{Heading: "Upgrade to unlock this dashboard", Dashboard: f.Dashboard, Upsell: f.Upsell}
	}
	render(w, r, status, "error.html", pageData{Title: view.Heading, Error: msg, Body: view}, logger)
}
