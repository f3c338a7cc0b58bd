// Package tools serves the JSON tool directory API: the filtered listing,
// single tool details and submissions.
package tools

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcp-directory/mcp-directory/internal/cache"
	"github.com/mcp-directory/mcp-directory/internal/catalog"
	"github.com/mcp-directory/mcp-directory/internal/middleware"
	"github.com/mcp-directory/mcp-directory/internal/submission"
	"github.com/mcp-directory/mcp-directory/internal/telemetry"
	"github.com/mcp-directory/mcp-directory/pkg/checksum"
)

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

const (
	msgToolNotFound = "Tool not found"
	msgFetchFailed  = "Failed to fetch tool details"
)

// @Summary      List tools
// @Description  Returns the catalog grouped by category. category keeps one category, q keeps tools whose
// @Description  title, description or tags contain it (case-insensitive). Unfiltered responses carry an ETag;
// @Description  a matching If-None-Match yields 304 with no body. Clients that never send If-None-Match always get 200.
// @Tags         Tools
// @Produce      json
// @Param        category  query  string  false  "Category id"
// @Param        q         query  string  false  "Search term"
// @Success      200  {object}  catalog.Catalog
// @Success      304  "Not modified"
// @Router       /api/tools [get]
// ListHandler serves the catalog. An unavailable content repository yields
// an empty catalog, never an error status. The unfiltered listing also
// supports conditional GET: it sets an ETag over the encoded catalog and
// answers 304 to a matching If-None-Match. That is an addition on top of the
// plain 200 listing, so clients that ignore ETags see no difference.
// GET /api/tools
func ListHandler(src CatalogSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec := src.Get(c.Request.Context())
		category := c.Query("category")
		q := c.Query("q")

		if category == "" && q == "" {
			c.Header("ETag", rec.ETag)
			if checksum.MatchETag(c.GetHeader("If-None-Match"), rec.ETag) {
				c.Status(http.StatusNotModified)
				return
			}
			c.Data(http.StatusOK, "application/json; charset=utf-8", rec.Body)
			return
		}

		c.JSON(http.StatusOK, catalog.Catalog{Categories: catalog.Filter(rec.Catalog, category, q)})
	}
}

// @Summary      Get tool
// @Description  Returns one tool's metadata plus its README as documentation when present.
// @Tags         Tools
// @Produce      json
// @Param        id  path  string  true  "Tool id"
// @Success      200  {object}  catalog.ToolDetail
// @Failure      404  {object}  map[string]interface{}  "error: Tool not found"
// @Failure      500  {object}  map[string]interface{}  "error: Failed to fetch tool details, requestId"
// @Router       /api/tools/{id} [get]
// GetHandler serves one tool.
// GET /api/tools/:id
func GetHandler(src DetailSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		detail, err := src.FetchToolDetail(c.Request.Context(), id)
		switch {
		case errors.Is(err, catalog.ErrToolNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": msgToolNotFound})
			return
		case err != nil:
			telemetry.Logger(c.Request.Context()).Error("failed to fetch tool", "tool_id", id, "error", err)
			serverError(c, http.StatusInternalServerError, gin.H{"error": msgFetchFailed})
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

// @Summary      Submit tool
// @Description  Adds a tool to the directory, or overwrites the tool with the same derived id.
// @Tags         Tools
// @Accept       json
// @Produce      json
// @Param        body  body  submission.Form  true  "Tool submission"
// @Success      200  {object}  map[string]interface{}  "success: true, toolId"
// @Failure      400  {object}  map[string]interface{}  "success: false, error"
// @Failure      429  {object}  map[string]interface{}  "success: false, error, retry_after"
// @Failure      500  {object}  map[string]interface{}  "success: false, error, requestId"
// @Router       /api/tools [post]
// SubmitHandler accepts a JSON submission.
// POST /api/tools
func SubmitHandler(s Submitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var form submission.Form
		if err := c.ShouldBindJSON(&form); err != nil {
			telemetry.SubmissionsTotal.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": submission.BindingMessage(err)})
			return
		}

		res, err := s.Submit(c.Request.Context(), form)
		if err != nil {
			status, msg := submission.ErrorResponse(err)
			if status >= http.StatusInternalServerError {
				serverError(c, status, gin.H{"success": false, "error": msg})
				return
			}
			c.JSON(status, gin.H{"success": false, "error": msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "toolId": res.ToolID})
	}
}

// serverError writes body with the request id attached, so a user reporting
// the failure can be matched to the logged error.
func serverError(c *gin.Context, status int, body gin.H) {
	if id := middleware.GetRequestID(c); id != "" {
		body["requestId"] = id
	}
	c.JSON(status, body)
}
