package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mymoto/fleetsync/internal/repository"
	"github.com/mymoto/fleetsync/internal/service"
	"github.com/mymoto/fleetsync/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger       *zap.Logger
	deviceRepo   *repository.DeviceRepository
	posRepo      *repository.PositionRepository
	tripRepo     *repository.TripRepository
	accRepo      *repository.AccStateRepository
	fleetService *service.FleetService
	wsHub        *ws.Hub
	registry     *prometheus.Registry
	upgrader     websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	deviceRepo *repository.DeviceRepository,
	posRepo *repository.PositionRepository,
	tripRepo *repository.TripRepository,
	accRepo *repository.AccStateRepository,
	fleetService *service.FleetService,
	wsHub *ws.Hub,
	registry *prometheus.Registry,
) *Handler {
	return &Handler{
		logger:       logger,
		deviceRepo:   deviceRepo,
		posRepo:      posRepo,
		tripRepo:     tripRepo,
		accRepo:      accRepo,
		fleetService: fleetService,
		wsHub:        wsHub,
		registry:     registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 设备
		api.GET("/devices", h.ListDevices)
		api.GET("/devices/:id/latest", h.GetLatestPosition)
		api.GET("/devices/:id/track", h.GetDeviceTrack)
		api.GET("/devices/:id/acc-intervals", h.ListAccIntervals)

		// 行程
		api.GET("/devices/:id/trips", h.ListTrips)
		api.GET("/devices/:id/trips/stats", h.GetTripStats)
		api.GET("/trips/:id", h.GetTrip)
		api.GET("/trips/:id/positions", h.GetTripPositions)

		// 采集控制
		api.GET("/ingest/report", h.GetIngestReport)
		api.POST("/ingest/run", h.TriggerIngest)
		api.POST("/ingest/backfill", h.TriggerBackfill)
		api.POST("/ingest/reconcile", h.TriggerReconcile)
	}

	// Prometheus 指标
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})))

	// WebSocket
	r.GET("/ws", h.ServeWS)
}

// ServeWS 升级 WebSocket 连接
func (h *Handler) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}
	h.wsHub.ServeClient(conn)
}
