package reminder

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ayurflow/workflow/internal/platform/apperr"
	"github.com/ayurflow/workflow/internal/platform/auth"
	"github.com/ayurflow/workflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Creation – patient for themself, doctor on behalf of a patient
	create := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	create.POST("/reminders", h.Create)

	// Patient inbox
	patient := api.Group("", auth.RequireRole(auth.RolePatient))
	patient.GET("/reminders", h.List)
	patient.GET("/reminders/today", h.Today)
	patient.POST("/reminders/:id/sent", h.MarkSent)
	patient.POST("/reminders/:id/cancel", h.Cancel)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rem, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, rem)
}

// Today serves ?tz=<IANA zone>, defaulting to the clinic zone.
func (h *Handler) Today(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	loc := h.svc.Location()
	if tz := c.QueryParam("tz"); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown time zone "+tz)
		}
	}
	items, err := h.svc.Today(c.Request().Context(), actor, loc)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) List(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), actor, Status(c.QueryParam("status")), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	pg.SetLinkHeader(c, total)
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) MarkSent(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rem, err := h.svc.MarkSent(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rem)
}

func (h *Handler) Cancel(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rem, err := h.svc.Cancel(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rem)
}
