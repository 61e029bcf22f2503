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

type timetableGenerator interface {
	Generate(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error)
}

type timetableStore interface {
	Create(ctx context.Context, req dto.CreateTimetableRequest) (*models.Timetable, error)
	List(ctx context.Context, query dto.TimetableQuery) ([]models.Timetable, error)
	Get(ctx context.Context, id int64, includeSlots bool) (*models.Timetable, error)
	UpdateStatus(ctx context.Context, id int64, req dto.UpdateTimetableStatusRequest) (*models.Timetable, error)
	Delete(ctx context.Context, id int64) error
	Export(ctx context.Context, id int64, format string) (*service.ExportFile, error)
}

// TimetableHandler exposes generation and timetable lifecycle endpoints.
type TimetableHandler struct {
	generator timetableGenerator
	store     timetableStore
}

// NewTimetableHandler constructs the handler.
func NewTimetableHandler(generator *service.TimetableGeneratorService, store *service.TimetableService) *TimetableHandler {
	return &TimetableHandler{generator: generator, store: store}
}

// Generate godoc
// @Summary Generate a timetable for a batch and semester
// @Description Runs the greedy placement. dryRun returns the candidate without persisting; otherwise a new draft version is stored.
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body dto.GenerateTimetableRequest true "Generation request"
// @Success 200 {object} response.Envelope
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /timetables/generate [post]
func (h *TimetableHandler) Generate(c *gin.Context) {
	var req dto.GenerateTimetableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generate payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	req.GeneratedBy = claims.UserID

	result, err := h.generator.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.DryRun {
		response.JSON(c, http.StatusOK, result)
		return
	}
	response.Created(c, result)
}

// Create godoc
// @Summary Create an empty timetable for manual editing
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body dto.CreateTimetableRequest true "Timetable payload"
// @Success 201 {object} response.Envelope
// @Router /timetables [post]
func (h *TimetableHandler) Create(c *gin.Context) {
	var req dto.CreateTimetableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid timetable payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	req.GeneratedBy = claims.UserID

	timetable, err := h.store.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, timetable)
}

// List godoc
// @Summary List timetables
// @Tags Timetables
// @Produce json
// @Param semesterId query string false "Semester ID"
// @Param batchId query string false "Batch ID"
// @Param status query string false "Comma separated statuses"
// @Param includeSlots query bool false "Embed slots"
// @Success 200 {object} response.Envelope
// @Router /timetables [get]
func (h *TimetableHandler) List(c *gin.Context) {
	var query dto.TimetableQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	items, err := h.store.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	if items == nil {
		items = []models.Timetable{}
	}
	response.JSON(c, http.StatusOK, items, withMeta(c, "count", len(items)))
}

// Get godoc
// @Summary Get a timetable with its slots
// @Tags Timetables
// @Produce json
// @Param id path int true "Timetable ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetables/{id} [get]
func (h *TimetableHandler) Get(c *gin.Context) {
	id, err := timetableIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	includeSlots := c.DefaultQuery("includeSlots", "true") != "false"
	timetable, err := h.store.Get(c.Request.Context(), id, includeSlots)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, timetable)
}

// UpdateStatus godoc
// @Summary Change timetable status
// @Tags Timetables
// @Accept json
// @Produce json
// @Param id path int true "Timetable ID"
// @Param payload body dto.UpdateTimetableStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Router /timetables/{id}/status [patch]
func (h *TimetableHandler) UpdateStatus(c *gin.Context) {
	id, err := timetableIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.UpdateTimetableStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	timetable, err := h.store.UpdateStatus(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, timetable)
}

// Delete godoc
// @Summary Delete a timetable and its slots
// @Tags Timetables
// @Param id path int true "Timetable ID"
// @Success 204
// @Router /timetables/{id} [delete]
func (h *TimetableHandler) Delete(c *gin.Context) {
	id, err := timetableIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Export godoc
// @Summary Download the timetable grid
// @Tags Timetables
// @Produce text/csv
// @Produce application/pdf
// @Param id path int true "Timetable ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /timetables/{id}/export [get]
func (h *TimetableHandler) Export(c *gin.Context) {
	id, err := timetableIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.store.Export(c.Request.Context(), id, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Payload)
}
