package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/service"
	appErrors "github.com/sechachelebohang0-a11y/career-guidance-app/pkg/errors"
	"github.com/sechachelebohang0-a11y/career-guidance-app/pkg/response"
)

// AdmissionHandler exposes institution-side review endpoints.
type AdmissionHandler struct {
	admissions *service.AdmissionService
}

// NewAdmissionHandler constructs AdmissionHandler.
func NewAdmissionHandler(admissions *service.AdmissionService) *AdmissionHandler {
	return &AdmissionHandler{admissions: admissions}
}

func applicantFilterFromQuery(c *gin.Context) models.ApplicationFilter {
	var filter models.ApplicationFilter
	filter.CourseID = c.Query("courseId")
	filter.Status = models.ApplicationStatus(c.Query("status"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	return filter
}

// ListApplicants godoc
// @Summary List the institution's applicants
// @Tags Admissions
// @Produce json
// @Security BearerAuth
// @Param courseId query string false "Filter by course"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admissions [get]
func (h *AdmissionHandler) ListApplicants(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	filter := applicantFilterFromQuery(c)
	applicants, total, err := h.admissions.ListApplicants(c.Request.Context(), claims.UserID, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, applicants, paginationFor(filter.Page, filter.PageSize, total))
}

// Review godoc
// @Summary Admit, reject or waitlist an application
// @Tags Admissions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Application ID"
// @Param payload body service.ReviewRequest true "Review decision"
// @Success 200 {object} response.Envelope
// @Router /admissions/{id} [put]
func (h *AdmissionHandler) Review(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	application, err := h.admissions.Review(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, application, nil)
}

// Export godoc
// @Summary Export the applicant roster
// @Tags Admissions
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv or pdf" default(csv)
// @Param courseId query string false "Filter by course"
// @Param status query string false "Filter by status"
// @Success 200 {file} byte
// @Router /admissions/export [get]
func (h *AdmissionHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	filter := applicantFilterFromQuery(c)
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))

	payload, contentType, err := h.admissions.ExportApplicants(c.Request.Context(), claims.UserID, filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("applicants-%s.%s", time.Now().Format("20060102"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, payload)
}
