package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/timetable-engine/internal/dto"
	"github.com/noah-isme/timetable-engine/internal/models"
	"github.com/noah-isme/timetable-engine/internal/service"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
	"github.com/noah-isme/timetable-engine/pkg/response"
)

type slotEditor interface {
	Create(ctx context.Context, timetableID int64, input dto.SlotInput) (*models.TimetableSlot, error)
	Update(ctx context.Context, timetableID int64, slotID string, patch dto.SlotPatch) (*models.TimetableSlot, error)
	Delete(ctx context.Context, timetableID int64, slotID string) error
}

// TimetableSlotHandler exposes the manual slot editor.
type TimetableSlotHandler struct {
	service slotEditor
}

// NewTimetableSlotHandler constructs the handler.
func NewTimetableSlotHandler(svc *service.TimetableSlotService) *TimetableSlotHandler {
	return &TimetableSlotHandler{service: svc}
}

// Create godoc
// @Summary Add a slot to a timetable
// @Tags Timetable Slots
// @Accept json
// @Produce json
// @Param id path int true "Timetable ID"
// @Param payload body dto.SlotInput true "Slot payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetables/{id}/slots [post]
func (h *TimetableSlotHandler) Create(c *gin.Context) {
	timetableID, err := timetableIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var input dto.SlotInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid slot payload"))
		return
	}
	slot, err := h.service.Create(c.Request.Context(), timetableID, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// Update godoc
// @Summary Update or move a slot
// @Tags Timetable Slots
// @Accept json
// @Produce json
// @Param id path int true "Timetable ID"
// @Param slotId path string true "Slot ID"
// @Param payload body dto.SlotPatch true "Slot patch"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetables/{id}/slots/{slotId} [patch]
func (h *TimetableSlotHandler) Update(c *gin.Context) {
	timetableID, err := timetableIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var patch dto.SlotPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid slot payload"))
		return
	}
	slot, err := h.service.Update(c.Request.Context(), timetableID, c.Param("slotId"), patch)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slot)
}

// Delete godoc
// @Summary Remove a slot
// @Tags Timetable Slots
// @Param id path int true "Timetable ID"
// @Param slotId path string true "Slot ID"
// @Success 204
// @Router /timetables/{id}/slots/{slotId} [delete]
func (h *TimetableSlotHandler) Delete(c *gin.Context) {
	timetableID, err := timetableIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), timetableID, c.Param("slotId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
