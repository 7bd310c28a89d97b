package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	conditionService "bookresale-backend/internal/domains/condition/service"
	"bookresale-backend/internal/domains/item/model"
	itemService "bookresale-backend/internal/domains/item/service"
	listingService "bookresale-backend/internal/domains/listing/service"
	pricingService "bookresale-backend/internal/domains/pricing/service"
	"bookresale-backend/internal/shared/response"
)

const (
	maxPhotoBytes = 10 << 20
	maxPhotos     = 10
)

type ItemHandler struct {
	items       *itemService.Service
	assessments *conditionService.Service
	pricing     *pricingService.Service
	listings    *listingService.Service
}

func NewItemHandler(items *itemService.Service, assessments *conditionService.Service, pricing *pricingService.Service, listings *listingService.Service) *ItemHandler {
	return &ItemHandler{
		items:       items,
		assessments: assessments,
		pricing:     pricing,
		listings:    listings,
	}
}

// ownerID reads the caller identity set by the gateway.
func ownerID(c *gin.Context) string {
	return c.GetHeader("X-User-ID")
}

// CreateItem accepts multipart photos and starts the pipeline.
// POST /api/v1/items
func (h *ItemHandler) CreateItem(c *gin.Context) {
	owner := ownerID(c)
	if owner == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.BadRequest(c, "expected multipart form with image files")
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		response.BadRequest(c, "at least one image is required")
		return
	}
	if len(files) > maxPhotos {
		response.BadRequest(c, "too many images, maximum is "+strconv.Itoa(maxPhotos))
		return
	}

	uploads := make([]itemService.Upload, 0, len(files))
	for _, file := range files {
		if file.Size > maxPhotoBytes {
			response.BadRequest(c, "image "+file.Filename+" exceeds the 10MB limit")
			return
		}
		f, err := file.Open()
		if err != nil {
			response.InternalServerError(c, "failed to read uploaded image")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			response.InternalServerError(c, "failed to read uploaded image")
			return
		}
		uploads = append(uploads, itemService.Upload{
			Data:        data,
			ContentType: file.Header.Get("Content-Type"),
		})
	}

	item, err := h.items.CreateItem(c.Request.Context(), owner, uploads)
	if err != nil {
		response.InternalServerError(c, "failed to create item")
		return
	}
	response.Success(c, http.StatusCreated, item)
}

// GetItem returns one item.
// GET /api/v1/items/:id
func (h *ItemHandler) GetItem(c *gin.Context) {
	owner := ownerID(c)
	if owner == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	item, err := h.items.GetItem(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		h.renderError(c, err, "failed to load item")
		return
	}
	response.Success(c, http.StatusOK, item)
}

// ListItems returns the caller's items, paged.
// GET /api/v1/items?limit=&offset=
func (h *ItemHandler) ListItems(c *gin.Context) {
	owner := ownerID(c)
	if owner == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, total, err := h.items.ListItems(c.Request.Context(), owner, limit, offset)
	if err != nil {
		response.InternalServerError(c, "failed to list items")
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{
		Limit: limit,
		Total: total,
	})
}

// DeleteItem removes an item and its photos.
// DELETE /api/v1/items/:id
func (h *ItemHandler) DeleteItem(c *gin.Context) {
	owner := ownerID(c)
	if owner == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	if err := h.items.DeleteItem(c.Request.Context(), owner, c.Param("id")); err != nil {
		h.renderError(c, err, "failed to delete item")
		return
	}
	response.Success(c, http.StatusOK, nil)
}

// Reprocess re-runs identification on a failed or review item.
// POST /api/v1/items/:id/reprocess
func (h *ItemHandler) Reprocess(c *gin.Context) {
	owner := ownerID(c)
	if owner == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	if err := h.items.Reprocess(c.Request.Context(), owner, c.Param("id")); err != nil {
		h.renderError(c, err, "failed to reprocess item")
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"status": "queued"})
}

// Delist requests a takedown of a listed item.
// POST /api/v1/items/:id/delist
func (h *ItemHandler) Delist(c *gin.Context) {
	owner := ownerID(c)
	if owner == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	if err := h.items.Delist(c.Request.Context(), owner, c.Param("id")); err != nil {
		h.renderError(c, err, "failed to delist item")
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"status": "queued"})
}

// ListAssessments returns the item's condition reports, newest first.
// GET /api/v1/items/:id/assessments
func (h *ItemHandler) ListAssessments(c *gin.Context) {
	owner := ownerID(c)
	if owner == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	assessments, err := h.assessments.History(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		response.InternalServerError(c, "failed to load assessments")
		return
	}
	response.Success(c, http.StatusOK, assessments)
}

// ListPricingHistory returns the item's pricing decisions, newest
// first.
// GET /api/v1/items/:id/pricing-history
func (h *ItemHandler) ListPricingHistory(c *gin.Context) {
	owner := ownerID(c)
	if owner == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	decisions, err := h.pricing.History(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		response.InternalServerError(c, "failed to load pricing history")
		return
	}
	response.Success(c, http.StatusOK, decisions)
}

// ListListings returns the item's active marketplace listings.
// GET /api/v1/items/:id/listings
func (h *ItemHandler) ListListings(c *gin.Context) {
	owner := ownerID(c)
	if owner == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	listings, err := h.listings.ActiveListings(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		response.InternalServerError(c, "failed to load listings")
		return
	}
	response.Success(c, http.StatusOK, listings)
}

func (h *ItemHandler) renderError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, model.ErrItemNotFound):
		response.NotFound(c, "item not found")
	case errors.Is(err, model.ErrInvalidTransition):
		response.Conflict(c, err.Error())
	default:
		response.InternalServerError(c, fallback)
	}
}
