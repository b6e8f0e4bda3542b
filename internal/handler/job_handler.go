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

// JobHandler exposes job board endpoints.
type JobHandler struct {
	jobs *service.JobService
}

// NewJobHandler constructs JobHandler.
func NewJobHandler(jobs *service.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

func jobFilterFromQuery(c *gin.Context) models.JobFilter {
	var filter models.JobFilter
	filter.CompanyID = c.Query("companyId")
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
	return filter
}

// List godoc
// @Summary Browse job postings
// @Tags Jobs
// @Produce json
// @Param companyId query string false "Filter by company"
// @Param search query string false "Search by title or company name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /jobs [get]
func (h *JobHandler) List(c *gin.Context) {
	filter := jobFilterFromQuery(c)

	// Students see postings annotated against their own record.
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleStudent {
		matches, total, err := h.jobs.MatchForStudent(c.Request.Context(), claims.UserID, filter)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, matches, paginationFor(filter.Page, filter.PageSize, total))
		return
	}

	jobs, total, err := h.jobs.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, jobs, paginationFor(filter.Page, filter.PageSize, total))
}

// Create godoc
// @Summary Post a job
// @Tags Jobs
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.JobRequest true "Job payload"
// @Success 201 {object} response.Envelope
// @Router /jobs [post]
func (h *JobHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	job, err := h.jobs.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, job)
}

// Update godoc
// @Summary Edit a job posting
// @Tags Jobs
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Job ID"
// @Param payload body service.JobRequest true "Job payload"
// @Success 200 {object} response.Envelope
// @Router /jobs/{id} [put]
func (h *JobHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	job, err := h.jobs.Update(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}
