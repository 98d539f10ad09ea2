package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ListDevices 获取设备列表
func (h *Handler) ListDevices(c *gin.Context) {
	devices, err := h.deviceRepo.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list devices", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list devices"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": devices})
}

// GetLatestPosition 获取设备最新位置
func (h *Handler) GetLatestPosition(c *gin.Context) {
	deviceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device ID"})
		return
	}

	pos, err := h.posRepo.GetLatest(c.Request.Context(), deviceID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No position for device"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": pos})
}

// GetDeviceTrack 获取设备在时间范围内的轨迹
func (h *Handler) GetDeviceTrack(c *gin.Context) {
	deviceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device ID"})
		return
	}

	from, to, ok := parseTimeRange(c)
	if !ok {
		return
	}

	positions, err := h.posRepo.ListByDeviceRange(c.Request.Context(), deviceID, from, to)
	if err != nil {
		h.logger.Error("Failed to list positions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list positions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": positions})
}

// ListAccIntervals 获取设备的权威 ACC 区间
func (h *Handler) ListAccIntervals(c *gin.Context) {
	deviceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device ID"})
		return
	}

	from, to, ok := parseTimeRange(c)
	if !ok {
		return
	}

	intervals, err := h.accRepo.ListByDeviceRange(c.Request.Context(), deviceID, from, to)
	if err != nil {
		h.logger.Error("Failed to list acc intervals", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list acc intervals"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": intervals})
}

// parseTimeRange 解析 from/to 查询参数，缺省为最近 24 小时
func parseTimeRange(c *gin.Context) (from, to time.Time, ok bool) {
	to = time.Now().UTC()
	from = to.Add(-24 * time.Hour)

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from time"})
			return from, to, false
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to time"})
			return from, to, false
		}
		to = t
	}

	return from, to, true
}
