package scheduler

import (
	"net/http"
	"strconv"

	"LIBRA-backend/internal/platform/apierr"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	driver *Driver
}

// RegisterRoutes はヘルスチェック。認証なし。
func RegisterRoutes(r gin.IRoutes, d *Driver) {
	h := &Handler{driver: d}
	r.GET("/healthz", h.Health)
}

func RegisterAdminRoutes(r gin.IRoutes, d *Driver) {
	h := &Handler{driver: d}
	r.POST("/trigger-reminder", h.TriggerReminder)
	r.POST("/borrows/batch-remind", h.BatchRemind)
	r.GET("/reminder-runs", h.ListRuns)
	r.GET("/jobs", h.ListJobs)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "scheduler": h.driver.Health()})
}

func (h *Handler) TriggerReminder(c *gin.Context) {
	sum, err := h.driver.TriggerSweepNow(c.Request.Context())
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) BatchRemind(c *gin.Context) {
	sum, err := h.driver.TriggerOverdueNow(c.Request.Context())
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) ListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.ErrInvalid("limit must be an integer")))
		return
	}
	runs, err := h.driver.ListRuns(c.Request.Context(), c.Query("job_id"), limit)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.Body(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": runs, "total": len(runs)})
}

func (h *Handler) ListJobs(c *gin.Context) {
	jobs := h.driver.ListJobs()
	c.JSON(http.StatusOK, gin.H{"items": jobs, "total": len(jobs)})
}
