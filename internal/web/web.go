// Package web renders the server-side HTML pages of the directory: the
// filtered listing, a tool's detail page and the submission form.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mcp-directory/mcp-directory/internal/cache"
	"github.com/mcp-directory/mcp-directory/internal/catalog"
	"github.com/mcp-directory/mcp-directory/internal/submission"
	"github.com/mcp-directory/mcp-directory/internal/telemetry"
)

//go:embed templates/*.html
var templateFS embed.FS

// DefaultCategories are offered on the submission form even before any tool
// has been listed under them.
var DefaultCategories = []string{"开发工具", "AI助手", "生产力工具", "数据工具"}

// CatalogSource returns the current catalog record. It never fails.
type CatalogSource interface {
	Get(ctx context.Context) *cache.Record
}

// DetailSource loads one tool with its README.
type DetailSource interface {
	FetchToolDetail(ctx context.Context, id string) (*catalog.ToolDetail, error)
}

// Submitter accepts tool submissions.
type Submitter interface {
	Submit(ctx context.Context, form submission.Form) (*submission.Result, error)
}

// Templates parses the embedded page templates.
func Templates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"date": func(t time.Time) string { return t.UTC().Format("2006-01-02") },
	}).ParseFS(templateFS, "templates/*.html")
}

// Pages serves the HTML views.
type Pages struct {
	tmpl      *template.Template
	catalogs  CatalogSource
	details   DetailSource
	submitter Submitter
}

// NewPages parses the templates and returns the page handlers.
func NewPages(catalogs CatalogSource, details DetailSource, submitter Submitter) (*Pages, error) {
	tmpl, err := Templates()
	if err != nil {
		return nil, err
	}
	return &Pages{tmpl: tmpl, catalogs: catalogs, details: details, submitter: submitter}, nil
}

// Register installs the page templates on engine and the page routes on r.
// submitMiddleware runs before POST /submit only.
func (p *Pages) Register(engine *gin.Engine, r gin.IRoutes, submitMiddleware ...gin.HandlerFunc) {
	engine.SetHTMLTemplate(p.tmpl)
	r.GET("/", p.List)
	r.GET("/tools/:id", p.Detail)
	r.GET("/submit", p.SubmitForm)
	r.POST("/submit", append(submitMiddleware, p.Submit)...)
}

type page struct {
	PageTitle string
}

type listPage struct {
	page
	Categories []string
	Selected   string
	Query      string
	Results    []catalog.Category
}

type detailPage struct {
	page
	Tool         *catalog.ToolDetail
	ManualConfig string
	Submitted    bool
}

type submitPage struct {
	page
	Form       submission.Form
	Categories []string
	Error      string
}

type errorPage struct {
	page
	Message string
}

// List renders the catalog narrowed by ?category= and ?q=.
// GET /
func (p *Pages) List(c *gin.Context) {
	rec := p.catalogs.Get(c.Request.Context())
	selected := c.Query("category")
	q := c.Query("q")

	c.HTML(http.StatusOK, "index.html", listPage{
		Categories: catalog.CategoryIDs(rec.Catalog),
		Selected:   selected,
		Query:      q,
		Results:    catalog.Filter(rec.Catalog, selected, q),
	})
}

// Detail renders one tool.
// GET /tools/:id
func (p *Pages) Detail(c *gin.Context) {
	id := c.Param("id")
	detail, err := p.details.FetchToolDetail(c.Request.Context(), id)
	switch {
	case errors.Is(err, catalog.ErrToolNotFound):
		p.renderError(c, http.StatusNotFound, "Tool not found", "No tool is listed under this address.")
		return
	case err != nil:
		telemetry.Logger(c.Request.Context()).Error("failed to fetch tool", "tool_id", id, "error", err)
		p.renderError(c, http.StatusInternalServerError, "Something went wrong", "The tool could not be loaded, please try again later.")
		return
	}

	manual, err := ManualConfig(&detail.Tool)
	if err != nil {
		telemetry.Logger(c.Request.Context()).Warn("failed to encode manual configuration", "tool_id", id, "error", err)
	}
	c.HTML(http.StatusOK, "detail.html", detailPage{
		page:         page{PageTitle: detail.Title},
		Tool:         detail,
		ManualConfig: manual,
		Submitted:    c.Query("submitted") == "1",
	})
}

// SubmitForm renders an empty submission form.
// GET /submit
func (p *Pages) SubmitForm(c *gin.Context) {
	c.HTML(http.StatusOK, "submit.html", submitPage{
		page:       page{PageTitle: "Submit a tool"},
		Form:       submission.Form{Category: DefaultCategories[0]},
		Categories: p.categories(c.Request.Context()),
	})
}

// Submit handles the form post. Success redirects to the new tool's page;
// failures re-render the form with the submitted values.
// POST /submit
func (p *Pages) Submit(c *gin.Context) {
	var form submission.Form
	if err := c.ShouldBind(&form); err != nil {
		telemetry.SubmissionsTotal.WithLabelValues("invalid").Inc()
		p.renderForm(c, http.StatusBadRequest, form, submission.BindingMessage(err))
		return
	}

	res, err := p.submitter.Submit(c.Request.Context(), form)
	if err != nil {
		status, msg := submission.ErrorResponse(err)
		p.renderForm(c, status, form, msg)
		return
	}
	c.Redirect(http.StatusSeeOther, "/tools/"+res.ToolID+"?submitted=1")
}

func (p *Pages) renderForm(c *gin.Context, status int, form submission.Form, msg string) {
	c.HTML(status, "submit.html", submitPage{
		page:       page{PageTitle: "Submit a tool"},
		Form:       form,
		Categories: p.categories(c.Request.Context()),
		Error:      msg,
	})
}

func (p *Pages) renderError(c *gin.Context, status int, title, msg string) {
	c.HTML(status, "error.html", errorPage{page: page{PageTitle: title}, Message: msg})
}

// categories lists the known categories followed by any default not yet in use.
func (p *Pages) categories(ctx context.Context) []string {
	ids := catalog.CategoryIDs(p.catalogs.Get(ctx).Catalog)
	for _, d := range DefaultCategories {
		if !slices.Contains(ids, d) {
			ids = append(ids, d)
		}
	}
	return ids
}

// ManualConfig renders a tool's manual installation as the server entry an
// MCP client configuration expects. It returns "" when the tool has none.
func ManualConfig(t *catalog.Tool) (string, error) {
	m := t.Installation.Manual
	if m == nil {
		return "", nil
	}
	entry := struct {
		Command string            `json:"command"`
		Args    []string          `json:"args"`
		Env     map[string]string `json:"env,omitempty"`
	}{m.Command, m.Args, m.Env}
	if entry.Args == nil {
		entry.Args = []string{}
	}

	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]interface{}{"mcpServers": map[string]interface{}{t.ID: entry}}); err != nil {
		return "", err
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}
