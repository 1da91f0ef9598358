package waitlist

import (
	"context"
	"errors"
	"net/http"

	"tablewait/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Controller struct {
	service Service
}

func NewController(service Service) *Controller {
	return &Controller{
		service: service,
	}
}

// JoinWaitlist handles POST /api/v1/waitlist
func (c *Controller) JoinWaitlist(ctx *gin.Context) {
	var request JoinWaitlistRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}

	entry, err := c.service.AddEntry(ctx.Request.Context(), &request)
	if err != nil {
		respondError(ctx, err, "Failed to join waitlist")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusCreated, "Successfully joined waitlist", NewEntryResponse(entry), nil)
}

// GetEntry handles GET /api/v1/waitlist/entries/:id
func (c *Controller) GetEntry(ctx *gin.Context) {
	id, ok := entryIDParam(ctx)
	if !ok {
		return
	}

	entry, err := c.service.GetEntry(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err, "Failed to get waitlist entry")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Waitlist entry retrieved successfully", NewEntryResponse(entry), nil)
}

// ConfirmOffer handles POST /api/v1/waitlist/entries/:id/confirm
func (c *Controller) ConfirmOffer(ctx *gin.Context) {
	id, ok := entryIDParam(ctx)
	if !ok {
		return
	}

	entry, err := c.service.Confirm(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err, "Failed to confirm offer")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Table confirmed", NewEntryResponse(entry), nil)
}

// CancelEntry handles POST /api/v1/waitlist/entries/:id/cancel and its admin twin
func (c *Controller) CancelEntry(ctx *gin.Context) {
	id, ok := entryIDParam(ctx)
	if !ok {
		return
	}

	var request CancelEntryRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&request); err != nil {
			response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
			return
		}
	}

	entry, err := c.service.CancelEntry(ctx.Request.Context(), id, request.Reason)
	if err != nil {
		respondError(ctx, err, "Failed to cancel waitlist entry")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Waitlist entry cancelled", NewEntryResponse(entry), nil)
}

// ListWaiting handles GET /api/v1/admin/waitlist/waiting?date=YYYY-MM-DD
func (c *Controller) ListWaiting(ctx *gin.Context) {
	date := ctx.Query("date")

	entries, err := c.service.ListWaiting(ctx.Request.Context(), date)
	if err != nil {
		respondError(ctx, err, "Failed to list waiting entries")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Waiting entries retrieved successfully", NewEntryListResponse(date, entries), nil)
}

// GetStats handles GET /api/v1/admin/waitlist/stats?from=&to=
func (c *Controller) GetStats(ctx *gin.Context) {
	stats, err := c.service.GetStats(ctx.Request.Context(), ctx.Query("from"), ctx.Query("to"))
	if err != nil {
		respondError(ctx, err, "Failed to compute waitlist stats")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Waitlist stats retrieved successfully", stats, nil)
}

// ReportSlot handles POST /api/v1/admin/waitlist/slots
func (c *Controller) ReportSlot(ctx *gin.Context) {
	var request SlotAvailableRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}

	slot := request.ToSlot()
	result, err := c.service.OnSlotAvailable(ctx.Request.Context(), slot)
	switch {
	case errors.Is(err, ErrNoMatch), errors.Is(err, ErrSlotUnavailable):
		response.RespondJSON(ctx, "success", http.StatusOK, "No compatible waiting entry, slot returned", NewSlotMatchResponse(slot, nil), nil)
	case err != nil:
		respondError(ctx, err, "Failed to process available slot")
	default:
		response.RespondJSON(ctx, "success", http.StatusOK, "Slot offered", NewSlotMatchResponse(slot, result), nil)
	}
}

// ListAttempts handles GET /api/v1/admin/waitlist/entries/:id/attempts
func (c *Controller) ListAttempts(ctx *gin.Context) {
	id, ok := entryIDParam(ctx)
	if !ok {
		return
	}

	attempts, err := c.service.ListNotificationAttempts(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err, "Failed to list notification attempts")
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Notification attempts retrieved successfully", attempts, nil)
}

func entryIDParam(ctx *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid entry ID", nil, nil)
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps engine errors onto HTTP statuses
func respondError(ctx *gin.Context, err error, fallback string) {
	var (
		validationErr *ValidationError
		conflictErr   *ConflictError
		expiredErr    *ExpiredOfferError
		transitionErr *InvalidTransitionError
	)

	switch {
	case errors.As(err, &validationErr):
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, validationErr.Fields)
	case errors.Is(err, ErrEntryNotFound), errors.Is(err, ErrSlotNotFound):
		response.RespondJSON(ctx, "error", http.StatusNotFound, err.Error(), nil, nil)
	case errors.Is(err, ErrDuplicateActiveEntry):
		response.RespondJSON(ctx, "error", http.StatusConflict, err.Error(), nil, nil)
	case errors.As(err, &expiredErr):
		response.RespondJSON(ctx, "error", http.StatusGone, "Offer has expired", nil, err.Error())
	case errors.As(err, &conflictErr), errors.As(err, &transitionErr), errors.Is(err, ErrSlotOfferPending):
		response.RespondJSON(ctx, "error", http.StatusConflict, err.Error(), nil, nil)
	case IsPersistenceError(err), errors.Is(err, context.DeadlineExceeded):
		response.RespondJSON(ctx, "error", http.StatusServiceUnavailable, fallback, nil, nil)
	default:
		response.RespondJSON(ctx, "error", http.StatusInternalServerError, fallback, nil, nil)
	}
}
