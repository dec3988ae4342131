package vocabulary

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ayushsetu/ayushsetu/internal/platform/auth"
	"github.com/ayushsetu/ayushsetu/pkg/pagination"
)

// Handler provides REST endpoints for vocabulary search and ingestion.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers vocabulary routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	term := api.Group("/terminology")
	term.GET("/search", h.Search)
	term.GET("/:system/:code", h.Lookup)

	vocab := api.Group("/vocabulary", auth.RequireRole("admin", "curator"))
	vocab.POST("/namaste/import", h.ImportNAMASTE)
}

// SearchResponse wraps search results with paging metadata.
type SearchResponse struct {
	Results []*CodeEntry `json:"results"`
	Total   int          `json:"total"`
	Query   string       `json:"query"`
	System  string       `json:"system,omitempty"`
}

// Search handles GET /api/v1/terminology/search?q=...&system=...&ayush_system=...
func (h *Handler) Search(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'q' is required")
	}
	page := pagination.FromContext(c)

	results, total, err := h.svc.Search(c.Request().Context(),
		query, c.QueryParam("system"), c.QueryParam("ayush_system"), page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if results == nil {
		results = []*CodeEntry{}
	}
	return c.JSON(http.StatusOK, &SearchResponse{
		Results: results,
		Total:   total,
		Query:   query,
		System:  c.QueryParam("system"),
	})
}

// Lookup handles GET /api/v1/terminology/:system/:code
func (h *Handler) Lookup(c echo.Context) error {
	entry, err := h.svc.Lookup(c.Request().Context(), c.Param("code"), c.Param("system"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "code not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, entry)
}

// ImportNAMASTE handles POST /api/v1/vocabulary/namaste/import with a
// multipart "file" field containing the CSV.
func (h *Handler) ImportNAMASTE(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'file' is required")
	}
	f, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot open uploaded file")
	}
	defer f.Close()

	report, err := h.svc.ImportCSV(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}
