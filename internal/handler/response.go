package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/poster-tracker/internal/model"
	"github.com/iliyamo/poster-tracker/internal/service"
)

// Pagination response headers.
const (
	HeaderPage       = "Pagination-Current-Page"
	HeaderPerPage    = "Pagination-Per-Page"
	HeaderTotalItems = "Pagination-Total-Items"
	HeaderTotalPages = "Pagination-Total-Pages"

	defaultPerPage = 10
	maxPerPage     = 100
)

// URLResolver turns a stored image key into a URL clients can fetch.
type URLResolver interface {
	URL(key string) string
}

// ResponseBuilder maps engine views onto the public JSON shapes.
type ResponseBuilder struct {
	Images URLResolver
}

type positionResp struct {
	ID               uuid.UUID        `json:"id"`
	PosterID         uuid.UUID        `json:"poster_id"`
	Latitude         float64          `json:"latitude"`
	Longitude        float64          `json:"longitude"`
	ExpiresAt        time.Time        `json:"expires_at"`
	PostedAt         *time.Time       `json:"posted_at"`
	PostedBy         *model.Identity  `json:"posted_by"`
	RemovedAt        *time.Time       `json:"removed_at"`
	RemovedBy        *model.Identity  `json:"removed_by"`
	Damaged          bool             `json:"damaged"`
	ImageURL         *string          `json:"image_url"`
	Status           string           `json:"status"`
	ResponsibleUsers []model.Identity `json:"responsible_users"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type hangResp struct {
	PosterPosition positionResp    `json:"poster_position"`
	PostedAt       *time.Time      `json:"posted_at"`
	PostedBy       *model.Identity `json:"posted_by"`
	ImageURL       *string         `json:"image_url"`
	Latitude       float64         `json:"latitude"`
	Longitude      float64         `json:"longitude"`
}

type takeDownResp struct {
	PosterPosition positionResp    `json:"poster_position"`
	RemovedAt      *time.Time      `json:"removed_at"`
	RemovedBy      *model.Identity `json:"removed_by"`
	ImageURL       *string         `json:"image_url"`
}

type damageResp struct {
	PosterPosition positionResp `json:"poster_position"`
	Damaged        bool         `json:"damaged"`
	ImageURL       *string      `json:"image_url"`
}

// Position renders a single view.
func (b ResponseBuilder) Position(v *service.PositionView) positionResp {
	p := v.Position
	return positionResp{
		ID:               p.ID,
		PosterID:         p.PosterID,
		Latitude:         p.Latitude,
		Longitude:        p.Longitude,
		ExpiresAt:        p.ExpiresAt,
		PostedAt:         p.PostedAt,
		PostedBy:         v.PostedBy,
		RemovedAt:        p.RemovedAt,
		RemovedBy:        v.RemovedBy,
		Damaged:          p.Damaged,
		ImageURL:         b.imageURL(p.Image),
		Status:           string(v.Status),
		ResponsibleUsers: v.Responsible,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// Positions renders a list; an empty list renders as [].
func (b ResponseBuilder) Positions(views []service.PositionView) []positionResp {
	out := make([]positionResp, 0, len(views))
	for i := range views {
		out = append(out, b.Position(&views[i]))
	}
	return out
}

func (b ResponseBuilder) Hang(v *service.PositionView) hangResp {
	pr := b.Position(v)
	return hangResp{
		PosterPosition: pr,
		PostedAt:       pr.PostedAt,
		PostedBy:       pr.PostedBy,
		ImageURL:       pr.ImageURL,
		Latitude:       pr.Latitude,
		Longitude:      pr.Longitude,
	}
}

func (b ResponseBuilder) TakeDown(v *service.PositionView) takeDownResp {
	pr := b.Position(v)
	return takeDownResp{
		PosterPosition: pr,
		RemovedAt:      pr.RemovedAt,
		RemovedBy:      pr.RemovedBy,
		ImageURL:       pr.ImageURL,
	}
}

func (b ResponseBuilder) Damage(v *service.PositionView) damageResp {
	pr := b.Position(v)
	return damageResp{PosterPosition: pr, Damaged: pr.Damaged, ImageURL: pr.ImageURL}
}

func (b ResponseBuilder) imageURL(key *string) *string {
	if key == nil || b.Images == nil {
		return key
	}
	u := b.Images.URL(*key)
	return &u
}

// page is the paging request of a list call.  Zero Per means the caller
// asked for the full list.
type page struct {
	Page int
	Per  int
}

// parsePage reads ?page= and ?per=.  Paging applies when either is
// present; the missing one defaults to page 1 or defaultPerPage.
func parsePage(c echo.Context) (page, error) {
	rawPage, rawPer := c.QueryParam("page"), c.QueryParam("per")
	if rawPage == "" && rawPer == "" {
		return page{}, nil
	}
	p := page{Page: 1, Per: defaultPerPage}
	var err error
	if rawPage != "" {
		if p.Page, err = strconv.Atoi(rawPage); err != nil || p.Page < 1 {
			return page{}, echo.NewHTTPError(http.StatusBadRequest, "page must be a positive integer")
		}
	}
	if rawPer != "" {
		if p.Per, err = strconv.Atoi(rawPer); err != nil || p.Per < 1 || p.Per > maxPerPage {
			return page{}, echo.NewHTTPError(http.StatusBadRequest, "per must be between 1 and "+strconv.Itoa(maxPerPage))
		}
	}
	return p, nil
}

// totalPages is ceil(total/per).
func totalPages(total, per int) int {
	if per <= 0 {
		return 0
	}
	return (total + per - 1) / per
}

// setPaginationHeaders writes the Pagination-* headers for p.
func setPaginationHeaders(c echo.Context, p page, total int) {
	h := c.Response().Header()
	h.Set(HeaderPage, strconv.Itoa(p.Page))
	h.Set(HeaderPerPage, strconv.Itoa(p.Per))
	h.Set(HeaderTotalItems, strconv.Itoa(total))
	h.Set(HeaderTotalPages, strconv.Itoa(totalPages(total, p.Per)))
}
