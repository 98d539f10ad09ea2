package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mymoto/fleetsync/internal/api/gps51"
	"github.com/mymoto/fleetsync/internal/api/handlers"
	"github.com/mymoto/fleetsync/internal/config"
	"github.com/mymoto/fleetsync/internal/models"
	"github.com/mymoto/fleetsync/internal/repository"
	"github.com/mymoto/fleetsync/internal/service"
	"github.com/mymoto/fleetsync/internal/telemetry"
	"github.com/mymoto/fleetsync/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting FleetSync", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 创建 Repository
	deviceRepo := repository.NewDeviceRepository(db)
	posRepo := repository.NewPositionRepository(db)
	tripRepo := repository.NewTripRepository(db)
	accRepo := repository.NewAccStateRepository(db)

	// 创建 GPS51 客户端
	vendorClient := gps51.NewClient(
		cfg.GPS51BaseURL,
		cfg.GPS51Username,
		cfg.GPS51Password,
		cfg.GPS51From,
		gps51.Options{
			MinInterval:    cfg.RequestMinInterval,
			BackoffInitial: cfg.BackoffInitial,
			BackoffMax:     cfg.BackoffMax,
			MaxAttempts:    cfg.MaxAttempts,
		},
	)

	if err := vendorClient.Login(ctx); err != nil {
		logger.Fatal("Failed to login to GPS51", zap.Error(err))
	}
	logger.Info("Logged in to GPS51", zap.String("username", cfg.GPS51Username))

	// Prometheus 指标
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	wsHub.SetInitDataProvider(func() *ws.InitData {
		initCtx, initCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer initCancel()

		devices, err := deviceRepo.List(initCtx)
		if err != nil {
			logger.Warn("Failed to load devices for ws init", zap.Error(err))
		}
		positions, err := posRepo.ListAllLatest(initCtx)
		if err != nil {
			logger.Warn("Failed to load positions for ws init", zap.Error(err))
		}
		return &ws.InitData{Devices: devices, Positions: positions}
	})
	go wsHub.Run()

	// 创建采集服务
	fleetService := service.NewFleetService(
		cfg,
		logger,
		vendorClient,
		deviceRepo,
		posRepo,
		tripRepo,
		accRepo,
		metrics,
	)

	// 位置更新广播到 WebSocket
	fleetService.SetPositionCallback(func(pos *models.Position) {
		wsHub.BroadcastPosition(pos)
	})

	if err := fleetService.Start(ctx); err != nil {
		logger.Fatal("Failed to start fleet service", zap.Error(err))
	}

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		deviceRepo,
		posRepo,
		tripRepo,
		accRepo,
		fleetService,
		wsHub,
		registry,
	)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 停止采集服务
	fleetService.Stop()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
