package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mymoto/fleetsync/internal/models"
)

// SyncAccState 从上游拉取权威 ACC 开关区间并入库，
// 然后用它校验本地切分出的行程边界。
// 区间数据只追加，不回写行程，差异以数据质量日志暴露。
func (s *FleetService) SyncAccState(ctx context.Context) *models.IngestReport {
	report := &models.IngestReport{StartedAt: time.Now().UTC()}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
	}()

	devices, err := s.deviceRepo.List(ctx)
	if err != nil {
		s.logger.Error("Failed to list devices for acc sync", zap.Error(err))
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	report.Devices = len(devices)

	now := time.Now().UTC()
	from := now.Add(-s.cfg.IncrementalWindow)

	for _, device := range devices {
		if err := s.syncDeviceAccState(ctx, device, from, now); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", device.GPS51ID, err))
			s.logger.Warn("Acc state sync failed",
				zap.String("gps51_id", device.GPS51ID),
				zap.Error(err))
			continue
		}
		report.Succeeded++
	}

	return report
}

// syncDeviceAccState 同步并校验单个设备
func (s *FleetService) syncDeviceAccState(ctx context.Context, device *models.Device, from, to time.Time) error {
	records, err := s.vendor.QueryAccState(ctx, device.GPS51ID, from, to)
	if err != nil {
		return fmt.Errorf("query acc state: %w", err)
	}

	for _, rec := range records {
		state := models.AccStateOff
		if rec.AccState == 1 {
			state = models.AccStateOn
		}
		interval := &models.AccStateInterval{
			DeviceID:       device.ID,
			State:          state,
			BeginTime:      time.UnixMilli(rec.BeginTime).UTC(),
			EndTime:        time.UnixMilli(rec.EndTime).UTC(),
			BeginLatitude:  rec.BeginLat,
			BeginLongitude: rec.BeginLon,
			EndLatitude:    rec.EndLat,
			EndLongitude:   rec.EndLon,
			Source:         "gps51",
		}
		if _, err := s.accRepo.Insert(ctx, interval); err != nil {
			return fmt.Errorf("insert acc interval: %w", err)
		}
	}

	return s.validateTripsAgainstAcc(ctx, device, from, to)
}

// validateTripsAgainstAcc 把本地行程和权威 ON 区间对账。
// 找不到覆盖区间的行程记质量告警，供人工或回填工具跟进。
func (s *FleetService) validateTripsAgainstAcc(ctx context.Context, device *models.Device, from, to time.Time) error {
	intervals, err := s.accRepo.ListByDeviceRange(ctx, device.ID, from, to)
	if err != nil {
		return fmt.Errorf("list acc intervals: %w", err)
	}
	if len(intervals) == 0 {
		return nil
	}

	trips, err := s.tripRepo.ListByDevice(ctx, device.ID, 200, 0)
	if err != nil {
		return fmt.Errorf("list trips: %w", err)
	}

	for _, t := range trips {
		if t.EndTime == nil || t.StartTime.Before(from) || t.StartTime.After(to) {
			continue
		}
		if !tripCoveredByOnInterval(t, intervals) {
			s.logger.Warn("Trip not corroborated by vendor acc interval",
				zap.Int64("trip_id", t.ID),
				zap.String("gps51_id", device.GPS51ID),
				zap.Time("start", t.StartTime),
				zap.Timep("end", t.EndTime))
		}
	}

	return nil
}

// tripCoveredByOnInterval 判断行程是否与某个权威 ON 区间重叠
func tripCoveredByOnInterval(t *models.Trip, intervals []*models.AccStateInterval) bool {
	for _, iv := range intervals {
		if iv.State != models.AccStateOn {
			continue
		}
		if iv.BeginTime.Before(*t.EndTime) && iv.EndTime.After(t.StartTime) {
			return true
		}
	}
	return false
}
