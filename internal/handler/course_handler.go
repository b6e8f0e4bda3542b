package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/service"
	appErrors "github.com/sechachelebohang0-a11y/career-guidance-app/pkg/errors"
	"github.com/sechachelebohang0-a11y/career-guidance-app/pkg/response"
)

// CourseHandler exposes course catalog endpoints.
type CourseHandler struct {
	courses  *service.CourseService
	waitlist *service.WaitlistService
}

// NewCourseHandler constructs CourseHandler.
func NewCourseHandler(courses *service.CourseService, waitlist *service.WaitlistService) *CourseHandler {
	return &CourseHandler{courses: courses, waitlist: waitlist}
}

func courseFilterFromQuery(c *gin.Context) models.CourseFilter {
	var filter models.CourseFilter
	filter.InstitutionID = c.Query("institutionId")
	filter.Search = c.Query("search")
	if active := c.Query("active"); active != "" {
		if v, err := strconv.ParseBool(active); err == nil {
			filter.Active = &v
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")
	return filter
}

// List godoc
// @Summary Browse the course catalog
// @Tags Courses
// @Produce json
// @Param institutionId query string false "Filter by institution"
// @Param search query string false "Search by course or institution name"
// @Param active query bool false "Filter by active flag"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	filter := courseFilterFromQuery(c)

	// Students get the same catalog annotated with their own standing.
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleStudent {
		offers, total, err := h.courses.BrowseForStudent(c.Request.Context(), claims.UserID, filter)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, offers, paginationFor(filter.Page, filter.PageSize, total))
		return
	}

	courses, total, err := h.courses.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, paginationFor(filter.Page, filter.PageSize, total))
}

// Get godoc
// @Summary Course details
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.courses.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Create godoc
// @Summary Add a course to the institution's catalog
// @Tags Courses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	course, err := h.courses.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// Update godoc
// @Summary Edit a course
// @Tags Courses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param payload body service.CourseRequest true "Course payload"
// @Success 200 {object} response.Envelope
// @Router /courses/{id} [put]
func (h *CourseHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	course, err := h.courses.Update(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Promote godoc
// @Summary Manually sweep a course's waitlist into free seats
// @Tags Courses
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /courses/{id}/promote [post]
func (h *CourseHandler) Promote(c *gin.Context) {
	promoted, err := h.waitlist.Promote(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, promoted, nil, map[string]interface{}{"promoted": len(promoted)})
}
