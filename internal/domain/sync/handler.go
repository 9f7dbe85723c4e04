package sync

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/occuhealth/ehr/internal/platform/auth"
	"github.com/occuhealth/ehr/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/sync", auth.RequireRole("admin", "provider", "nurse", "registrar"))
	g.POST("", h.Sync)
	g.POST("/beacon", h.Beacon)
	g.GET("/status", h.Status)
	g.GET("/conflicts", h.ListConflicts)
	g.GET("/conflicts/:id", h.GetConflict)
	g.POST("/conflicts/:id/resolve", h.ResolveConflict)
}

func (h *Handler) Sync(c echo.Context) error {
	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actorID := auth.UserIDFromContext(c.Request().Context())
	results := h.svc.ProcessBatch(c.Request().Context(), actorID, &req)
	return c.JSON(http.StatusOK, map[string]interface{}{"results": results})
}

// Beacon accepts navigator.sendBeacon uploads. The browser never reads the
// response, so this always returns 202 with an empty body regardless of what
// happens to the payload.
func (h *Handler) Beacon(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusAccepted)
	}
	actorID := auth.UserIDFromContext(c.Request().Context())
	h.svc.ProcessBeacon(c.Request().Context(), actorID, body)
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) Status(c echo.Context) error {
	actorID := auth.UserIDFromContext(c.Request().Context())
	status, err := h.svc.Status(c.Request().Context(), actorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, status)
}

func (h *Handler) ListConflicts(c echo.Context) error {
	pg := pagination.FromContext(c)

	status := ConflictStatus(c.QueryParam("status"))
	if status == "" {
		status = StatusPending
	}
	if status != StatusPending && status != StatusResolved {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	actorID := auth.UserIDFromContext(c.Request().Context())
	conflicts, total, err := h.svc.ListConflicts(c.Request().Context(), actorID, status, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(conflicts, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetConflict(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	conflict, err := h.svc.GetConflict(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrConflictNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conflict not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, conflict)
}

type resolveRequest struct {
	Resolution Resolution `json:"resolution"`
}

func (h *Handler) ResolveConflict(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !ValidResolution(req.Resolution) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid resolution")
	}

	actorID := auth.UserIDFromContext(c.Request().Context())
	resolved, err := h.svc.Resolve(c.Request().Context(), actorID, id, req.Resolution)
	if err != nil {
		switch {
		case errors.Is(err, ErrConflictNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "conflict not found")
		case errors.Is(err, ErrConflictResolved):
			return echo.NewHTTPError(http.StatusConflict, "conflict already resolved")
		case errors.Is(err, ErrMergeNotSupported):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, ErrMergeNotSupported.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, resolved)
}
