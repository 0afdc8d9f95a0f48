// Package render 使用内嵌模板把作品集、发票与名单渲染为 HTML。
package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"portfolioPro/internal/portfolio"
)

//go:embed templates
var templateFS embed.FS

// Themes 是内置的作品集模板文件名，与 database.DefaultTemplates 的 TemplateFile 对应。
var Themes = []string{"classic", "modern", "minimal"}

var funcs = template.FuncMap{
	"month":  monthName,
	"period": period,
	"inc":    func(i int) int { return i + 1 },
}

// Renderer 持有解析后的模板，可并发使用。
type Renderer struct {
	themes  map[string]*template.Template
	invoice *template.Template
	roster  *template.Template
}

// New 解析全部内置模板。
func New() (*Renderer, error) {
	r := &Renderer{themes: make(map[string]*template.Template, len(Themes))}
	for _, theme := range Themes {
		t, err := template.New(theme).Funcs(funcs).ParseFS(templateFS,
			"templates/portfolio/partials.html",
			"templates/portfolio/"+theme+".html",
		)
		if err != nil {
			return nil, fmt.Errorf("parse theme %s: %w", theme, err)
		}
		r.themes[theme] = t
	}

	var err error
	if r.invoice, err = template.New("invoice").Funcs(funcs).ParseFS(templateFS, "templates/invoice.html"); err != nil {
		return nil, fmt.Errorf("parse invoice: %w", err)
	}
	if r.roster, err = template.New("roster").Funcs(funcs).ParseFS(templateFS, "templates/roster.html"); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	return r, nil
}

// MustNew 在模板解析失败时 panic。
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

type portfolioPage struct {
	*portfolio.View
	Photo template.URL
}

// HasTheme 判断模板文件是否存在。
func (r *Renderer) HasTheme(name string) bool {
	_, ok := r.themes[name]
	return ok
}

// Portfolio 使用 v.TemplateFile 渲染作品集，未知模板回退到默认模板。
// v.PhotoURL 可以是 https 地址或 data URI。
func (r *Renderer) Portfolio(w io.Writer, v *portfolio.View) error {
	t, ok := r.themes[v.TemplateFile]
	if !ok {
		t = r.themes[portfolio.DefaultTemplateFile]
	}
	page := portfolioPage{View: v}
	if isSafeImageURL(v.PhotoURL) {
		page.Photo = template.URL(v.PhotoURL)
	}
	return t.ExecuteTemplate(w, "page", page)
}

func isSafeImageURL(u string) bool {
	return strings.HasPrefix(u, "https://") ||
		strings.HasPrefix(u, "http://") ||
		strings.HasPrefix(u, "data:image/jpeg;base64,") ||
		strings.HasPrefix(u, "data:image/png;base64,")
}

// InvoiceData 是发票模板的数据。
type InvoiceData struct {
	Number       string
	Date         time.Time
	Username     string
	Email        string
	AmountRupees float64
	OrderID      string
	PaymentID    string
}

// Invoice 渲染发票。
func (r *Renderer) Invoice(w io.Writer, data InvoiceData) error {
	return r.invoice.ExecuteTemplate(w, "invoice", data)
}

// RosterRow 是花名册中的一行。
type RosterRow struct {
	Name          string
	Email         string
	Status        string
	InvitedOn     time.Time
	ProfileStatus string
}

// RosterData 是代理学生花名册的数据。
type RosterData struct {
	AgentName   string
	GeneratedAt time.Time
	Students    []RosterRow
}

// Roster 渲染花名册。
func (r *Renderer) Roster(w io.Writer, data RosterData) error {
	return r.roster.ExecuteTemplate(w, "roster", data)
}

func monthName(m int) string {
	if m < 1 || m > 12 {
		return ""
	}
	return time.Month(m).String()[:3]
}

func period(startMonth, startYear int, endMonth, endYear *int, current bool) string {
	start := strings.TrimSpace(fmt.Sprintf("%s %d", monthName(startMonth), startYear))
	switch {
	case current:
		return start + " – Present"
	case endMonth != nil && endYear != nil:
		return fmt.Sprintf("%s – %s %d", start, monthName(*endMonth), *endYear)
	}
	return start
}
