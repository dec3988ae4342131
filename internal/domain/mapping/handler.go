package mapping

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ayushsetu/ayushsetu/internal/domain/vocabulary"
	"github.com/ayushsetu/ayushsetu/internal/platform/auth"
	"github.com/ayushsetu/ayushsetu/pkg/pagination"
)

// Handler provides REST endpoints for mapping generation, translation
// and curation.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers mapping routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/translate", h.Translate)

	m := api.Group("/mappings")
	m.GET("", h.List)
	m.GET("/:id", h.Get)
	m.PUT("/:id/validation", h.SetValidation, auth.RequireRole("admin", "curator"))

	gen := api.Group("/mappings/generate", auth.RequireRole("admin", "curator"))
	gen.POST("", h.Generate)
	gen.GET("/jobs", h.ListJobs)
	gen.GET("/jobs/:id", h.GetJob)
	gen.DELETE("/jobs/:id", h.CancelJob)
}

// Translate handles GET /api/v1/translate?code=...&system=...&target_system=...
func (h *Handler) Translate(c echo.Context) error {
	result, err := h.svc.Translate(c.Request().Context(),
		c.QueryParam("code"), c.QueryParam("system"), c.QueryParam("target_system"))
	if errors.Is(err, vocabulary.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown source code")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

type generateRequest struct {
	SourceSystem string  `json:"source_system"`
	TargetSystem string  `json:"target_system"`
	Threshold    float64 `json:"threshold"`
	Async        bool    `json:"async"`
}

// Generate handles POST /api/v1/mappings/generate. With "async": true
// the run happens in the background and a job is returned immediately.
func (h *Handler) Generate(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Async {
		actor := ""
		if a := auth.ActorFromContext(c.Request().Context()); a != nil {
			actor = a.ID
		}
		job, err := h.svc.GenerateAsync(req.SourceSystem, req.TargetSystem, req.Threshold, actor)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		c.Response().Header().Set("Content-Location", "/api/v1/mappings/generate/jobs/"+job.ID)
		return c.JSON(http.StatusAccepted, job)
	}

	report, err := h.svc.GenerateMappings(c.Request().Context(), req.SourceSystem, req.TargetSystem, req.Threshold)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) ListJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"jobs": h.svc.Jobs()})
}

func (h *Handler) GetJob(c echo.Context) error {
	job, err := h.svc.Job(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, job)
}

func (h *Handler) CancelJob(c echo.Context) error {
	if err := h.svc.CancelJob(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid mapping id")
	}
	m, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "mapping not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) List(c echo.Context) error {
	page := pagination.FromContext(c)
	results, total, err := h.svc.List(c.Request().Context(), c.QueryParam("validation"), page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if results == nil {
		results = []*Correspondence{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(results, total, page.Limit, page.Offset))
}

type validationRequest struct {
	Decision    string `json:"decision"`
	Equivalence string `json:"equivalence,omitempty"`
}

// SetValidation handles PUT /api/v1/mappings/:id/validation. The acting
// curator comes from the auth context.
func (h *Handler) SetValidation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid mapping id")
	}
	var req validationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	actor := ""
	if a := auth.ActorFromContext(c.Request().Context()); a != nil {
		actor = a.ID
	}

	m, err := h.svc.SetValidation(c.Request().Context(), id, req.Decision, req.Equivalence, actor)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "mapping not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}
