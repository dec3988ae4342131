package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ayushsetu/ayushsetu/internal/platform/auth"
)

type Handler struct {
	recorder *Recorder
}

func NewHandler(recorder *Recorder) *Handler {
	return &Handler{recorder: recorder}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/audit", h.Recent, auth.RequireRole("admin"))
}

// Recent handles GET /api/v1/audit?limit=...
func (h *Handler) Recent(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	records, err := h.recorder.Recent(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if records == nil {
		records = []*Record{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"records": records})
}
