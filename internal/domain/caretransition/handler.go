package caretransition

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carebridge/tcm/internal/platform/auth"
	"github.com/carebridge/tcm/internal/platform/db"
	"github.com/carebridge/tcm/pkg/pagination"
	"github.com/carebridge/tcm/pkg/timestamp"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readRole := auth.RequireRole("care_manager", "nurse", "physician", "viewer")
	writeRole := auth.RequireRole("care_manager", "nurse", "physician")

	read := api.Group("", readRole)
	read.GET("/care-transitions", h.List)
	read.GET("/care-transitions/:key", h.Get)
	read.GET("/care-transitions/:key/timeline", h.Timeline)
	read.GET("/care-transitions/:key/compliance", h.Compliance)
	read.GET("/tcm/metrics", h.Metrics)
	read.GET("/tcm/overdue/schedule1", h.OverdueSchedule1)
	read.GET("/tcm/overdue/schedule2", h.OverdueSchedule2)
	read.GET("/tcm/overdue/outreach", h.OverdueOutreach)
	read.GET("/tcm/overdue/follow-up", h.OverdueFollowUp)
	read.GET("/tcm/readmissions", h.Readmissions)
	read.GET("/tcm/alerts", h.Alerts)

	write := api.Group("", writeRole)
	write.POST("/care-transitions", h.Create)
	write.PATCH("/care-transitions/:key", h.Update)
	write.PUT("/care-transitions/:key/assignment", h.Assign)
	write.PUT("/care-transitions/:key/priority", h.UpdatePriority)
	write.PUT("/care-transitions/:key/risk-tier", h.UpdateRiskTier)
	write.POST("/care-transitions/:key/close", h.Close)
	write.POST("/care-transitions/:key/outreach", h.LogOutreach)
}

func tenantOf(c echo.Context) string {
	return db.TenantFromContext(c.Request().Context())
}

func authorOf(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func parseKey(c echo.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return v, nil
}

// checkTimestamps rejects malformed wire dates before they reach the
// normalizer, which would otherwise drop them silently.
func checkTimestamps(fields map[string]*string) error {
	for name, v := range fields {
		if v == nil {
			continue
		}
		if err := timestamp.Validate(*v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s: %s", name, err.Error()))
		}
	}
	return nil
}

// respond writes a mutation result with a status derived from its error.
func respond(c echo.Context, successCode int, r Result) error {
	if r.Success {
		return c.JSON(successCode, r)
	}
	return c.JSON(statusFor(r.Err()), r)
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrStaleVersion), errors.Is(err, ErrClosed):
		return http.StatusConflict
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// -- Mutations --

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := checkTimestamps(map[string]*string{
		"discharge_date":           req.DischargeDate,
		"tcm_schedule1":            req.TCMSchedule1,
		"tcm_schedule2":            req.TCMSchedule2,
		"follow_up_appt_date_time": req.FollowUpApptDateTime,
		"communication_sent_date":  req.CommunicationSentDate,
		"next_outreach_date":       req.NextOutreachDate,
	}); err != nil {
		return err
	}
	req.Author = authorOf(c)
	return respond(c, http.StatusCreated, h.svc.Create(c.Request().Context(), tenantOf(c), req))
}

func (h *Handler) Update(c echo.Context) error {
	key, err := parseKey(c, "key")
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := checkTimestamps(map[string]*string{
		"tcm_schedule1":            req.TCMSchedule1,
		"tcm_schedule2":            req.TCMSchedule2,
		"follow_up_appt_date_time": req.FollowUpApptDateTime,
		"communication_sent_date":  req.CommunicationSentDate,
		"next_outreach_date":       req.NextOutreachDate,
	}); err != nil {
		return err
	}
	req.Author = authorOf(c)
	return respond(c, http.StatusOK, h.svc.Update(c.Request().Context(), tenantOf(c), key, req))
}

func (h *Handler) Assign(c echo.Context) error {
	key, err := parseKey(c, "key")
	if err != nil {
		return err
	}
	var req AssignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return respond(c, http.StatusOK, h.svc.Assign(c.Request().Context(), tenantOf(c), key, req))
}

type priorityBody struct {
	Priority string `json:"priority"`
}

func (h *Handler) UpdatePriority(c echo.Context) error {
	key, err := parseKey(c, "key")
	if err != nil {
		return err
	}
	var body priorityBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return respond(c, http.StatusOK, h.svc.UpdatePriority(c.Request().Context(), tenantOf(c), key, body.Priority))
}

type riskTierBody struct {
	RiskTier string `json:"risk_tier"`
}

func (h *Handler) UpdateRiskTier(c echo.Context) error {
	key, err := parseKey(c, "key")
	if err != nil {
		return err
	}
	var body riskTierBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return respond(c, http.StatusOK, h.svc.UpdateRiskTier(c.Request().Context(), tenantOf(c), key, body.RiskTier))
}

func (h *Handler) Close(c echo.Context) error {
	key, err := parseKey(c, "key")
	if err != nil {
		return err
	}
	var req CloseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Author = authorOf(c)
	return respond(c, http.StatusOK, h.svc.Close(c.Request().Context(), tenantOf(c), key, req))
}

func (h *Handler) LogOutreach(c echo.Context) error {
	key, err := parseKey(c, "key")
	if err != nil {
		return err
	}
	var req OutreachRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := checkTimestamps(map[string]*string{
		"outreach_date":      req.OutreachDate,
		"next_outreach_date": req.NextOutreachDate,
	}); err != nil {
		return err
	}
	req.Author = authorOf(c)
	return respond(c, http.StatusOK, h.svc.LogOutreach(c.Request().Context(), tenantOf(c), key, req))
}

// -- Reads --

func (h *Handler) Get(c echo.Context) error {
	key, err := parseKey(c, "key")
	if err != nil {
		return err
	}
	ct, err := h.svc.Get(c.Request().Context(), tenantOf(c), key)
	if err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, ct)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	tenant := tenantOf(c)
	pg := pagination.FromContext(c)

	var items []*CareTransition
	var err error
	switch {
	case c.QueryParam("encounter_key") != "":
		ek, perr := strconv.ParseInt(c.QueryParam("encounter_key"), 10, 64)
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid encounter_key")
		}
		items, err = h.svc.ListByEncounter(ctx, tenant, ek)
	case c.QueryParam("patient_key") != "":
		pk, perr := strconv.ParseInt(c.QueryParam("patient_key"), 10, 64)
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_key")
		}
		items, err = h.svc.ListByPatient(ctx, tenant, pk)
	case c.QueryParam("status") != "":
		items, err = h.svc.ListByStatus(ctx, tenant, c.QueryParam("status"))
	case c.QueryParam("active") == "true":
		items, err = h.svc.ListActive(ctx, tenant)
	default:
		page, total, lerr := h.svc.ListByTenant(ctx, tenant, pg.Limit, pg.Offset)
		if lerr != nil {
			return echo.NewHTTPError(statusFor(lerr), lerr.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(page, total, pg.Limit, pg.Offset))
	}
	if err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.Slice(items, pg))
}

func (h *Handler) Timeline(c echo.Context) error {
	key, err := parseKey(c, "key")
	if err != nil {
		return err
	}
	events, err := h.svc.Timeline(c.Request().Context(), tenantOf(c), key)
	if err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, events)
}

func (h *Handler) Compliance(c echo.Context) error {
	key, err := parseKey(c, "key")
	if err != nil {
		return err
	}
	comp, err := h.svc.Compliance(c.Request().Context(), tenantOf(c), key)
	if err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, comp)
}

func parseBound(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	if err := timestamp.Validate(v); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s: %s", name, err.Error()))
	}
	return timestamp.Parse(v), nil
}

func (h *Handler) Metrics(c echo.Context) error {
	from, err := parseBound(c, "from")
	if err != nil {
		return err
	}
	to, err := parseBound(c, "to")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.svc.Metrics(c.Request().Context(), tenantOf(c), from, to))
}

func (h *Handler) OverdueSchedule1(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.OverdueSchedule1(c.Request().Context(), tenantOf(c)))
}

func (h *Handler) OverdueSchedule2(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.OverdueSchedule2(c.Request().Context(), tenantOf(c)))
}

func (h *Handler) OverdueOutreach(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.OverdueOutreach(c.Request().Context(), tenantOf(c)))
}

func (h *Handler) OverdueFollowUp(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.OverdueFollowUp(c.Request().Context(), tenantOf(c)))
}

func (h *Handler) Readmissions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Readmissions(c.Request().Context(), tenantOf(c)))
}

func (h *Handler) Alerts(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Alerts(c.Request().Context(), tenantOf(c)))
}
