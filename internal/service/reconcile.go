package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mymoto/fleetsync/internal/models"
	"github.com/mymoto/fleetsync/pkg/geo"
)

// Reconcile 修复起止坐标缺失的行程：
// 在行程起止时刻的 ±ReconcileWindow 内找最近的有效位置补坐标，
// 然后基于行程内的位置序列重算距离和均速。
func (s *FleetService) Reconcile(ctx context.Context, limit int) (*models.IngestReport, error) {
	if limit <= 0 {
		limit = 100
	}

	report := &models.IngestReport{StartedAt: time.Now().UTC()}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
	}()

	trips, err := s.tripRepo.ListZeroCoordinate(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list trips to reconcile: %w", err)
	}
	report.Devices = len(trips)

	for _, t := range trips {
		if err := s.reconcileTrip(ctx, t); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("trip %d: %v", t.ID, err))
			s.logger.Warn("Failed to reconcile trip", zap.Int64("trip_id", t.ID), zap.Error(err))
			continue
		}
		report.Succeeded++
	}

	return report, nil
}

// reconcileTrip 修复一条行程
func (s *FleetService) reconcileTrip(ctx context.Context, t *models.Trip) error {
	if t.EndTime == nil {
		return fmt.Errorf("trip still open")
	}

	changed := false

	if t.StartLatitude == 0 && t.StartLongitude == 0 {
		pos, err := s.posRepo.NearestInWindow(ctx, t.DeviceID, t.StartTime, s.cfg.ReconcileWindow)
		if err != nil {
			return fmt.Errorf("no position near trip start: %w", err)
		}
		t.StartLatitude = *pos.Latitude
		t.StartLongitude = *pos.Longitude
		changed = true
	}

	if t.EndLatitude == 0 && t.EndLongitude == 0 {
		pos, err := s.posRepo.NearestInWindow(ctx, t.DeviceID, *t.EndTime, s.cfg.ReconcileWindow)
		if err != nil {
			return fmt.Errorf("no position near trip end: %w", err)
		}
		t.EndLatitude = *pos.Latitude
		t.EndLongitude = *pos.Longitude
		changed = true
	}

	if !changed {
		return nil
	}

	// 坐标补齐后基于行程内的轨迹点重算距离
	positions, err := s.posRepo.ListByDeviceRange(ctx, t.DeviceID, t.StartTime, *t.EndTime)
	if err != nil {
		return fmt.Errorf("load trip positions: %w", err)
	}

	distance := 0.0
	var lastLat, lastLon *float64
	for _, p := range positions {
		if !p.HasCoordinates() {
			continue
		}
		if lastLat != nil {
			distance += geo.HaversineKm(*lastLat, *lastLon, *p.Latitude, *p.Longitude)
		}
		lastLat = p.Latitude
		lastLon = p.Longitude
	}
	if distance == 0 && geo.ValidCoordinate(t.StartLatitude, t.StartLongitude) && geo.ValidCoordinate(t.EndLatitude, t.EndLongitude) {
		// 轨迹点不够时退化为起止两点的直线距离
		distance = geo.HaversineKm(t.StartLatitude, t.StartLongitude, t.EndLatitude, t.EndLongitude)
	}

	t.DistanceKm = distance
	if t.DurationSec > 0 {
		t.SpeedAvgKmh = distance / (float64(t.DurationSec) / 3600.0)
	}

	if err := s.tripRepo.UpdateCoordinates(ctx, t); err != nil {
		return err
	}

	s.logger.Info("Reconciled trip coordinates",
		zap.Int64("trip_id", t.ID),
		zap.Float64("distance_km", t.DistanceKm))
	return nil
}
