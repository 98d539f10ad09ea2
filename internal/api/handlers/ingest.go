package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GetIngestReport 获取最近一次采集周期的报告
func (h *Handler) GetIngestReport(c *gin.Context) {
	report := h.fleetService.LastReport()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No ingest cycle has completed yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}

// TriggerIngest 手动触发一次采集
func (h *Handler) TriggerIngest(c *gin.Context) {
	report := h.fleetService.IngestOnce(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"data": report})
}

type backfillRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	From     string `json:"from" binding:"required"`
	To       string `json:"to" binding:"required"`
}

// TriggerBackfill 按时间范围回填历史轨迹并重新切分行程
func (h *Handler) TriggerBackfill(c *gin.Context) {
	var req backfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	from, err := time.Parse(time.RFC3339, req.From)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from time"})
		return
	}
	to, err := time.Parse(time.RFC3339, req.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to time"})
		return
	}
	if !to.After(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
		return
	}

	report, err := h.fleetService.Backfill(c.Request.Context(), req.DeviceID, from, to)
	if err != nil {
		h.logger.Error("Backfill failed", zap.String("device", req.DeviceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

// TriggerReconcile 手动触发行程坐标回填
func (h *Handler) TriggerReconcile(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	report, err := h.fleetService.Reconcile(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Reconcile failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}
