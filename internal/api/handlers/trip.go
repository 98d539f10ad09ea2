package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ListTrips 获取设备行程列表，分页
func (h *Handler) ListTrips(c *gin.Context) {
	deviceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device ID"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	trips, err := h.tripRepo.ListByDevice(c.Request.Context(), deviceID, perPage, offset)
	if err != nil {
		h.logger.Error("Failed to list trips", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list trips"})
		return
	}

	total, err := h.tripRepo.CountByDevice(c.Request.Context(), deviceID)
	if err != nil {
		h.logger.Error("Failed to count trips", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count trips"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": trips,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// GetTripStats 获取设备行程统计
func (h *Handler) GetTripStats(c *gin.Context) {
	deviceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device ID"})
		return
	}

	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	if days < 1 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	distance, duration, count, err := h.tripRepo.GetStats(c.Request.Context(), deviceID, since)
	if err != nil {
		h.logger.Error("Failed to get trip stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get trip stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"since":             since,
			"trip_count":        count,
			"total_distance_km": distance,
			"total_duration_s":  duration,
		},
	})
}

// GetTrip 获取单个行程
func (h *Handler) GetTrip(c *gin.Context) {
	tripID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid trip ID"})
		return
	}

	trip, err := h.tripRepo.GetByID(c.Request.Context(), tripID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trip not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": trip})
}

// GetTripPositions 获取行程对应的轨迹点
func (h *Handler) GetTripPositions(c *gin.Context) {
	tripID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid trip ID"})
		return
	}

	trip, err := h.tripRepo.GetByID(c.Request.Context(), tripID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trip not found"})
		return
	}

	// 进行中的行程取到当前时刻
	end := time.Now().UTC()
	if trip.EndTime != nil {
		end = *trip.EndTime
	}

	positions, err := h.posRepo.ListByDeviceRange(c.Request.Context(), trip.DeviceID, trip.StartTime, end)
	if err != nil {
		h.logger.Error("Failed to list trip positions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list trip positions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": positions})
}
