package icd11

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ayushsetu/ayushsetu/internal/platform/auth"
)

// Handler exposes the sync trigger.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/icd11/sync", h.Sync, auth.RequireRole("admin"))
}

// Sync handles POST /api/v1/icd11/sync. The crawl runs within the
// request; callers poll large linearizations with a generous timeout.
func (h *Handler) Sync(c echo.Context) error {
	report, err := h.svc.Sync(c.Request().Context())
	if errors.Is(err, ErrSyncInFlight) {
		return echo.NewHTTPError(http.StatusConflict, "a sync for this system is already running")
	}
	if errors.Is(err, ErrAuth) {
		return echo.NewHTTPError(http.StatusBadGateway, "WHO API authentication failed")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}
