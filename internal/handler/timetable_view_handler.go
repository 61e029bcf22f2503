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

type timetableViews interface {
	Teacher(ctx context.Context, teacherID string) (*dto.TimetableView, bool, error)
	Student(ctx context.Context, studentID string) (*dto.TimetableView, bool, error)
}

// TimetableViewHandler serves per-teacher and per-student timetables.
type TimetableViewHandler struct {
	views timetableViews
}

// NewTimetableViewHandler constructs the handler.
func NewTimetableViewHandler(views *service.TimetableViewService) *TimetableViewHandler {
	return &TimetableViewHandler{views: views}
}

// Teacher godoc
// @Summary Slots taught by a teacher across non-archived timetables
// @Tags Timetable Views
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/timetable [get]
func (h *TimetableViewHandler) Teacher(c *gin.Context) {
	h.render(c, h.views.Teacher, c.Param("id"))
}

// Student godoc
// @Summary Timetable of the student's batch in the active semester
// @Tags Timetable Views
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /students/{id}/timetable [get]
func (h *TimetableViewHandler) Student(c *gin.Context) {
	h.render(c, h.views.Student, c.Param("id"))
}

// Me godoc
// @Summary Timetable of the calling teacher or student
// @Tags Timetable Views
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /me/timetable [get]
func (h *TimetableViewHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	switch claims.Role {
	case models.RoleTeacher:
		h.render(c, h.views.Teacher, claims.UserID)
	case models.RoleStudent:
		h.render(c, h.views.Student, claims.UserID)
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "only teachers and students have a personal timetable"))
	}
}

func (h *TimetableViewHandler) render(c *gin.Context, load func(context.Context, string) (*dto.TimetableView, bool, error), ownerID string) {
	view, hit, err := load(c.Request.Context(), ownerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, cacheMeta(c, hit))
}
