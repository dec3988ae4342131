package exchange

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ayushsetu/ayushsetu/internal/domain/mapping"
	"github.com/ayushsetu/ayushsetu/internal/domain/vocabulary"
	"github.com/ayushsetu/ayushsetu/internal/platform/fhir"
)

// Handler serves FHIR renderings under /fhir.
type Handler struct {
	emitter *Emitter
}

func NewHandler(emitter *Emitter) *Handler {
	return &Handler{emitter: emitter}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/CodeSystem/:system", h.CodeSystem)
	g.GET("/ConceptMap/namaste-icd11-tm2", h.ConceptMap)
	g.POST("/Bundle/encounter", h.EncounterBundle)
}

// CodeSystem handles GET /fhir/CodeSystem/:system
func (h *Handler) CodeSystem(c echo.Context) error {
	system := c.Param("system")
	if !vocabulary.KnownSystems[system] {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("unknown code system"))
	}
	cs, err := h.emitter.EmitCodeSystem(c.Request().Context(), system)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, cs)
}

// ConceptMap handles GET /fhir/ConceptMap/namaste-icd11-tm2
func (h *Handler) ConceptMap(c echo.Context) error {
	cm, err := h.emitter.EmitConceptMap(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, cm)
}

// EncounterBundle handles POST /fhir/Bundle/encounter
func (h *Handler) EncounterBundle(c echo.Context) error {
	var in EncounterInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome("invalid request body"))
	}

	bundle, err := h.emitter.EmitEncounterBundle(c.Request().Context(), &in)
	if errors.Is(err, vocabulary.ErrNotFound) {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("unknown NAMASTE code"))
	}
	if errors.Is(err, mapping.ErrNotFound) {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("no mapping for code"))
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, bundle)
}
