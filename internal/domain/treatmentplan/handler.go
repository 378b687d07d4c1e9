package treatmentplan

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ayurflow/workflow/internal/platform/apperr"
	"github.com/ayurflow/workflow/internal/platform/auth"
	"github.com/ayurflow/workflow/pkg/calendar"
	"github.com/ayurflow/workflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Plan authoring – doctor only
	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/plans", h.Create)
	doctor.PUT("/plans/:id", h.Update)
	doctor.POST("/plans/:id/reminders", h.ScheduleReminders)

	// Adherence – patient only
	patient := api.Group("", auth.RequireRole(auth.RolePatient))
	patient.POST("/plans/:id/days/:day/complete", h.CompleteDay)

	// Read views – either owner
	owner := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	owner.GET("/plans", h.List)
	owner.GET("/plans/:id", h.Get)
	owner.GET("/plans/:id/progress", h.GetProgress)
	owner.GET("/plans/:id/schedule", h.GetSchedule)
	owner.GET("/plans/:id/phases", h.GetPhases)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type createPlanRequest struct {
	PatientID uuid.UUID   `json:"patient_id"`
	Title     string      `json:"title"`
	StartDate string      `json:"start_date,omitempty"`
	Therapies [][]Therapy `json:"therapies,omitempty"`
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	var req createPlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in := CreatePlanInput{PatientID: req.PatientID, Title: req.Title, Therapies: req.Therapies}
	if req.StartDate != "" {
		d, err := calendar.Parse(req.StartDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		in.StartDate = d
	}
	res, err := h.svc.CreatePlan(c.Request().Context(), actor, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if res.ReminderFailure != nil {
		return c.JSON(http.StatusMultiStatus, res)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) Update(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in UpdatePlanInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.UpdatePlan(c.Request().Context(), actor, id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ScheduleReminders(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.ScheduleReminders(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CompleteDay(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	day, err := strconv.Atoi(c.Param("day"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid day number")
	}
	var in CompleteDayInput
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&in); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	in.DayNumber = day
	res, err := h.svc.CompleteDay(c.Request().Context(), actor, id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Get(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
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

func (h *Handler) GetProgress(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetProgress(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// GetSchedule serves ?date=YYYY-MM-DD, defaulting to today in the clinic zone.
func (h *Handler) GetSchedule(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	date := h.svc.Today()
	if q := strings.TrimSpace(c.QueryParam("date")); q != "" {
		date, err = calendar.Parse(q)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	sched, err := h.svc.GetDailySchedule(c.Request().Context(), actor, id, date)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) GetPhases(c echo.Context) error {
	actor, err := auth.ActorFromEcho(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	phases, err := h.svc.GetPhases(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"plan_id": id, "phases": phases})
}
