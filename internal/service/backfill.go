package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mymoto/fleetsync/internal/models"
)

// Backfill 对一个设备回填历史轨迹并重新切分。
// 按 BackfillChunk 逐块拉取、逐块落库，每块落库后立即对
// [块头-MaxPointGap, 块尾] 做一次切分，跨块行程由带回看的窗口补齐。
// 全程幂等：中途超时后重跑同一范围不会产生重复数据。
func (s *FleetService) Backfill(ctx context.Context, gps51ID string, from, to time.Time) (*models.IngestReport, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("invalid backfill range: %s >= %s", from, to)
	}

	device, err := s.deviceRepo.GetByGPS51ID(ctx, gps51ID)
	if err != nil {
		return nil, fmt.Errorf("resolve device %s: %w", gps51ID, err)
	}

	report := &models.IngestReport{StartedAt: time.Now().UTC(), Devices: 1}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
	}()

	s.logger.Info("Starting backfill",
		zap.String("gps51_id", gps51ID),
		zap.Time("from", from),
		zap.Time("to", to))

	for chunkStart := from; chunkStart.Before(to); chunkStart = chunkStart.Add(s.cfg.BackfillChunk) {
		chunkEnd := chunkStart.Add(s.cfg.BackfillChunk)
		if chunkEnd.After(to) {
			chunkEnd = to
		}

		if err := ctx.Err(); err != nil {
			// 超时/取消只丢当前块，已完成的块都已落库
			report.Errors = append(report.Errors, fmt.Sprintf("aborted at chunk %s: %v", chunkStart, err))
			report.Failed++
			return report, nil
		}

		if err := s.backfillChunk(ctx, device, chunkStart, chunkEnd, report); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("chunk %s: %v", chunkStart, err))
			s.logger.Error("Backfill chunk failed",
				zap.String("gps51_id", gps51ID),
				zap.Time("chunk_start", chunkStart),
				zap.Error(err))
			continue
		}
		report.Succeeded++
	}

	s.logger.Info("Backfill finished",
		zap.String("gps51_id", gps51ID),
		zap.Int("positions", report.Positions),
		zap.Int("trips_created", report.TripsCreated),
		zap.Int("chunks_failed", report.Failed))

	return report, nil
}

// backfillChunk 拉取并处理一个时间块
func (s *FleetService) backfillChunk(ctx context.Context, device *models.Device, from, to time.Time, report *models.IngestReport) error {
	records, err := s.vendor.QueryTracks(ctx, device.GPS51ID, from, to)
	if err != nil {
		return fmt.Errorf("query tracks: %w", err)
	}

	for i := range records {
		pos := s.normalizer.Normalize(device.ID, &records[i])
		inserted, insErr := s.posRepo.Insert(ctx, pos)
		if insErr != nil {
			return fmt.Errorf("insert position: %w", insErr)
		}
		if inserted {
			report.Positions++
		}
	}

	// 回看整整一块，跨块行程的真实起点必然落在切分窗口内，
	// 重复成形的行程由存在性检查去重
	segFrom := from.Add(-s.cfg.BackfillChunk)
	if err := s.segmentRange(ctx, device.ID, segFrom, to, false, report); err != nil {
		return fmt.Errorf("segment chunk: %w", err)
	}

	return nil
}
