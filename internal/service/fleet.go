package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mymoto/fleetsync/internal/config"
	"github.com/mymoto/fleetsync/internal/models"
	"github.com/mymoto/fleetsync/internal/telemetry"
	"github.com/mymoto/fleetsync/internal/trip"
)

// FleetService 采集与切分调度。
// 每个周期拉一次最新位置、归一化入库，再对增量窗口做行程切分。
type FleetService struct {
	cfg        *config.Config
	logger     *zap.Logger
	vendor     VendorClient
	deviceRepo DeviceStore
	posRepo    PositionStore
	tripRepo   TripStore
	accRepo    AccStateStore
	normalizer *telemetry.Normalizer
	segmenter  *trip.Segmenter
	metrics    *telemetry.Metrics

	// 位置更新回调，WebSocket 广播挂在这里
	onPosition func(pos *models.Position)

	mu         sync.Mutex
	stopCh     chan struct{}
	wg         sync.WaitGroup
	running    bool
	cursor     int64 // lastposition 查询游标
	lastReport *models.IngestReport
}

// NewFleetService 创建采集服务
func NewFleetService(
	cfg *config.Config,
	logger *zap.Logger,
	vendor VendorClient,
	deviceRepo DeviceStore,
	posRepo PositionStore,
	tripRepo TripStore,
	accRepo AccStateStore,
	metrics *telemetry.Metrics,
) *FleetService {
	return &FleetService{
		cfg:        cfg,
		logger:     logger,
		vendor:     vendor,
		deviceRepo: deviceRepo,
		posRepo:    posRepo,
		tripRepo:   tripRepo,
		accRepo:    accRepo,
		metrics:    metrics,
		normalizer: telemetry.NewNormalizer(cfg.Ignition, logger, metrics),
		segmenter: trip.NewSegmenter(trip.Options{
			IdleTimeout:       cfg.IdleTimeout,
			MinTripDistanceKm: cfg.MinTripDistanceKm,
			MovementSpeedKmh:  cfg.MovementSpeedKmh,
			MaxPointGap:       cfg.MaxPointGap,
		}, logger),
		stopCh: make(chan struct{}),
	}
}

// SetPositionCallback 注册位置更新回调
func (s *FleetService) SetPositionCallback(fn func(pos *models.Position)) {
	s.onPosition = fn
}

// LastReport 最近一次采集的汇总
func (s *FleetService) LastReport() *models.IngestReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}

// Start 启动轮询
func (s *FleetService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Fleet service already running, skipping start")
		return nil
	}
	s.stopCh = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting fleet service")

	// 同步设备列表
	if err := s.SyncDevices(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("sync devices: %w", err)
	}

	s.wg.Add(1)
	go s.pollLoop(ctx)

	s.logger.Info("Fleet service started", zap.Duration("poll_interval", s.cfg.PollInterval))
	return nil
}

// Stop 停止服务
func (s *FleetService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping fleet service")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Fleet service stopped")
}

// pollLoop 轮询循环，周期触发采集和 ACC 区间同步
func (s *FleetService) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	// 启动时立即执行一次
	s.logger.Info("Performing initial ingest...")
	s.runIngest(ctx)

	ingestTicker := time.NewTicker(s.cfg.PollInterval)
	defer ingestTicker.Stop()
	accTicker := time.NewTicker(s.cfg.AccSyncInterval)
	defer accTicker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ingestTicker.C:
			s.runIngest(ctx)
		case <-accTicker.C:
			if report := s.SyncAccState(ctx); report != nil {
				s.logger.Info("Acc state sync finished",
					zap.Int("devices", report.Devices),
					zap.Int("failed", report.Failed))
			}
		}
	}
}

// runIngest 单次采集，限定运行时长
func (s *FleetService) runIngest(ctx context.Context) {
	// 单次执行限时，避免慢周期互相堆叠
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.PollInterval)
	defer cancel()

	report := s.IngestOnce(runCtx)

	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()

	s.logger.Info("Ingest cycle finished",
		zap.Int("devices", report.Devices),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("positions", report.Positions),
		zap.Int("trips_created", report.TripsCreated),
		zap.Int("trips_closed", report.TripsClosed),
		zap.Duration("duration", report.Duration))
}

// SyncDevices 从上游同步设备注册表
func (s *FleetService) SyncDevices(ctx context.Context) error {
	vendorDevices, err := s.vendor.QueryDevices(ctx)
	if err != nil {
		return fmt.Errorf("query devices from gps51: %w", err)
	}

	for _, v := range vendorDevices {
		device := &models.Device{
			GPS51ID:   v.DeviceID,
			Name:      v.DeviceName,
			SIMNumber: v.SIMNum,
			Model:     v.DeviceType,
		}
		if err := s.deviceRepo.Upsert(ctx, device); err != nil {
			s.logger.Error("Failed to upsert device", zap.Error(err), zap.String("gps51_id", v.DeviceID))
			continue
		}
		s.logger.Info("Synced device",
			zap.String("gps51_id", device.GPS51ID),
			zap.String("name", device.Name))
	}

	return nil
}
