package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/poster-tracker/internal/middleware"
	"github.com/iliyamo/poster-tracker/internal/service"
)

// Lifecycle is the engine surface the position endpoints need.
// *service.Engine implements it.
type Lifecycle interface {
	Create(ctx context.Context, in service.CreateInput) (*service.PositionView, error)
	Hang(ctx context.Context, userID, positionID uuid.UUID, image []byte, coords *service.Coordinates) (*service.PositionView, error)
	TakeDown(ctx context.Context, userID, positionID uuid.UUID, image []byte) (*service.PositionView, error)
	ReportDamage(ctx context.Context, userID, positionID uuid.UUID, image []byte) (*service.PositionView, error)
	Edit(ctx context.Context, positionID uuid.UUID, in service.EditInput) (*service.PositionView, error)
	Get(ctx context.Context, positionID uuid.UUID) (*service.PositionView, error)
	List(ctx context.Context, f service.ListFilter) ([]service.PositionView, int, error)
}

// PositionHandler serves the /v1/positions endpoints.  Authentication and
// role checks happen in middleware; responsibility checks in the engine.
type PositionHandler struct {
	Engine        Lifecycle
	Responses     ResponseBuilder
	Timeout       time.Duration
	MaxImageBytes int
}

// NewPositionHandler wires a PositionHandler.  A zero timeout defaults to
// five seconds.
func NewPositionHandler(engine Lifecycle, images URLResolver, timeout time.Duration, maxImageBytes int) *PositionHandler {
	if engine == nil {
		panic("nil engine passed to NewPositionHandler")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PositionHandler{
		Engine:        engine,
		Responses:     ResponseBuilder{Images: images},
		Timeout:       timeout,
		MaxImageBytes: maxImageBytes,
	}
}

// ----- DTOs -----

type createPositionReq struct {
	PosterID         string    `json:"poster_id" validate:"required,uuid"`
	Latitude         *float64  `json:"latitude" validate:"required"`
	Longitude        *float64  `json:"longitude" validate:"required"`
	ExpiresAt        time.Time `json:"expires_at" validate:"required"`
	ResponsibleUsers []string  `json:"responsible_users" validate:"required,min=1,dive,uuid"`
}

type hangReq struct {
	Image     string   `json:"image" validate:"required"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type imageReq struct {
	Image string `json:"image" validate:"required"`
}

type editPositionReq struct {
	Latitude         *float64   `json:"latitude"`
	Longitude        *float64   `json:"longitude"`
	ExpiresAt        *time.Time `json:"expires_at"`
	PosterID         *string    `json:"poster_id" validate:"omitempty,uuid"`
	ResponsibleUsers *[]string  `json:"responsible_users" validate:"omitempty,dive,uuid"`
	Image            *string    `json:"image"`
}

// Create handles POST /v1/positions.
func (h *PositionHandler) Create(c echo.Context) error {
	var req createPositionReq
	if err := h.bind(c, &req); err != nil {
		return err
	}
	posterID, err := uuid.Parse(req.PosterID)
	if err != nil {
		return badRequest(c, "poster_id must be a UUID")
	}
	users, err := parseUUIDs(req.ResponsibleUsers)
	if err != nil {
		return badRequest(c, "responsible_users must contain UUIDs")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	v, err := h.Engine.Create(ctx, service.CreateInput{
		PosterID:         posterID,
		Coordinates:      service.Coordinates{Latitude: *req.Latitude, Longitude: *req.Longitude},
		ExpiresAt:        req.ExpiresAt,
		ResponsibleUsers: users,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, h.Responses.Position(v))
}

// List handles GET /v1/positions.  Without page/per the full list is
// returned and no pagination headers are set.
func (h *PositionHandler) List(c echo.Context) error {
	p, err := parsePage(c)
	if err != nil {
		return err
	}
	f := service.ListFilter{Page: p.Page, Per: p.Per}
	if raw := c.QueryParam("poster_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return badRequest(c, "poster_id must be a UUID")
		}
		f.PosterID = &id
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	views, total, err := h.Engine.List(ctx, f)
	if err != nil {
		return respondError(c, err)
	}
	if p.Per > 0 {
		setPaginationHeaders(c, p, total)
	}
	if t, ok := statusHorizon(views...); ok {
		middleware.CacheUntil(c, t)
	}
	return c.JSON(http.StatusOK, h.Responses.Positions(views))
}

// Get handles GET /v1/positions/:id.
func (h *PositionHandler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	v, err := h.Engine.Get(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	if t, ok := statusHorizon(*v); ok {
		middleware.CacheUntil(c, t)
	}
	return c.JSON(http.StatusOK, h.Responses.Position(v))
}

// statusHorizon is the earliest moment one of views changes status without
// a write: a hanging poster reads as overdue once its expiry has passed.
func statusHorizon(views ...service.PositionView) (time.Time, bool) {
	var (
		at    time.Time
		found bool
	)
	for _, v := range views {
		if v.Status != service.StatusHangs {
			continue
		}
		if !found || v.Position.ExpiresAt.Before(at) {
			at, found = v.Position.ExpiresAt, true
		}
	}
	return at, found
}

// Hang handles PUT /v1/positions/:id/hang.
func (h *PositionHandler) Hang(c echo.Context) error {
	userID, id, err := h.caller(c)
	if err != nil {
		return err
	}
	var req hangReq
	if err := h.bind(c, &req); err != nil {
		return err
	}
	var coords *service.Coordinates
	switch {
	case req.Latitude != nil && req.Longitude != nil:
		coords = &service.Coordinates{Latitude: *req.Latitude, Longitude: *req.Longitude}
	case req.Latitude != nil || req.Longitude != nil:
		return badRequest(c, "latitude and longitude must be supplied together")
	}
	img, err := h.decodeImage(req.Image)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	v, err := h.Engine.Hang(ctx, userID, id, img, coords)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, h.Responses.Hang(v))
}

// TakeDown handles PUT /v1/positions/:id/take-down.
func (h *PositionHandler) TakeDown(c echo.Context) error {
	userID, id, img, err := h.imageAction(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	v, err := h.Engine.TakeDown(ctx, userID, id, img)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, h.Responses.TakeDown(v))
}

// ReportDamage handles PUT /v1/positions/:id/report-damage.
func (h *PositionHandler) ReportDamage(c echo.Context) error {
	userID, id, img, err := h.imageAction(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	v, err := h.Engine.ReportDamage(ctx, userID, id, img)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, h.Responses.Damage(v))
}

// Edit handles PATCH /v1/positions/:id.
func (h *PositionHandler) Edit(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req editPositionReq
	if err := h.bind(c, &req); err != nil {
		return err
	}

	in := service.EditInput{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		ExpiresAt: req.ExpiresAt,
	}
	if req.PosterID != nil {
		pid, err := uuid.Parse(*req.PosterID)
		if err != nil {
			return badRequest(c, "poster_id must be a UUID")
		}
		in.PosterID = &pid
	}
	if req.ResponsibleUsers != nil {
		users, err := parseUUIDs(*req.ResponsibleUsers)
		if err != nil {
			return badRequest(c, "responsible_users must contain UUIDs")
		}
		in.ResponsibleUsers = &users
	}
	if req.Image != nil {
		if in.Image, err = h.decodeImage(*req.Image); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	v, err := h.Engine.Edit(ctx, id, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, h.Responses.Position(v))
}

// ----- helpers -----

// imageAction reads the caller, the path id and the image body shared by
// take-down and damage reports.
func (h *PositionHandler) imageAction(c echo.Context) (uuid.UUID, uuid.UUID, []byte, error) {
	userID, id, err := h.caller(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, nil, err
	}
	var req imageReq
	if err := h.bind(c, &req); err != nil {
		return uuid.Nil, uuid.Nil, nil, err
	}
	img, err := h.decodeImage(req.Image)
	if err != nil {
		return uuid.Nil, uuid.Nil, nil, err
	}
	return userID, id, img, nil
}

func (h *PositionHandler) caller(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	userID, ok := middleware.UserID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	id, err := pathID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userID, id, nil
}

// bind decodes and validates the body.  Failures come back as 400
// HTTPErrors for the router's error handler to render.
func (h *PositionHandler) bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// decodeImage accepts plain base64 or a data URL and enforces the size
// limit on the decoded bytes.
func (h *PositionHandler) decodeImage(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		if i := strings.Index(raw, ";base64,"); i >= 0 {
			raw = raw[i+len(";base64,"):]
		}
	}
	img, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(img) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "image must be base64 encoded")
	}
	if h.MaxImageBytes > 0 && len(img) > h.MaxImageBytes {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image is too large")
	}
	return img, nil
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid position id")
	}
	return id, nil
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func badRequest(c echo.Context, reason string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": reason})
}

// respondError writes an engine error as {"error": reason} with the status
// matching its kind.  Internal causes are logged, never returned.
func respondError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch service.KindOf(err) {
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindForbidden:
		status = http.StatusForbidden
	case service.KindBadRequest:
		status = http.StatusBadRequest
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		middleware.Logger(c).WithError(err).Error("poster position request failed")
	}
	return c.JSON(status, echo.Map{"error": service.ReasonOf(err)})
}
