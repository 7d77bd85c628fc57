package storeapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/ninzstore/storefront/internal/app"
)

// listJobs returns the scheduled maintenance tasks
// @Summary list scheduled jobs
// @Tags Admin
// @Success 200 {array} app.JobInfo
// @Router /api/admin/jobs [get]
func listJobs(c echo.Context) error {
	return ok(c, GetAppContext(c).Jobs())
}

// runJob triggers a scheduled task immediately
// @Summary run a job now
// @Tags Admin
// @Param name path string true "Job name"
// @Success 204
// @Router /api/admin/jobs/{name}/run [post]
func runJob(c echo.Context) error {
	err := GetAppContext(c).RunJobNow(c.Param("name"))
	if errors.Is(err, app.ErrUnknownJob) {
		return fail(c, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, "RUN_FAILED", "Failed to run job", err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
