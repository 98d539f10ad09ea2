package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mymoto/fleetsync/internal/api/gps51"
	"github.com/mymoto/fleetsync/internal/models"
	"github.com/mymoto/fleetsync/internal/trip"
)

// IngestOnce 执行一次采集：
// 拉取全部设备的最新位置 → 归一化入库 → 对每个设备的增量窗口做行程切分。
// 单个设备的失败只影响自己，汇总进报告，不中断整个批次。
func (s *FleetService) IngestOnce(ctx context.Context) *models.IngestReport {
	report := &models.IngestReport{StartedAt: time.Now().UTC()}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
	}()

	devices, err := s.deviceRepo.List(ctx)
	if err != nil {
		s.logger.Error("Failed to list devices", zap.Error(err))
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	report.Devices = len(devices)
	if len(devices) == 0 {
		return report
	}

	byGPS51 := make(map[string]*models.Device, len(devices))
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		byGPS51[d.GPS51ID] = d
		ids = append(ids, d.GPS51ID)
	}

	s.mu.Lock()
	cursor := s.cursor
	s.mu.Unlock()

	records, nextCursor, err := s.vendor.LastPosition(ctx, ids, cursor)
	if err != nil {
		// 上游失败直接收工，下个周期从同一游标自然重试
		s.logger.Error("Failed to fetch last positions", zap.Error(err))
		report.Errors = append(report.Errors, err.Error())
		report.Failed = len(devices)
		return report
	}

	s.mu.Lock()
	s.cursor = nextCursor
	s.mu.Unlock()

	recordsByDevice := make(map[string][]*gps51.Record)
	for i := range records {
		rec := &records[i]
		recordsByDevice[rec.DeviceID] = append(recordsByDevice[rec.DeviceID], rec)
	}

	for _, device := range devices {
		recs := recordsByDevice[device.GPS51ID]
		if len(recs) == 0 {
			report.Skipped++
			if s.metrics != nil {
				s.metrics.ObserveIngest("skipped")
			}
			continue
		}

		if err := s.ingestDevice(ctx, device, recs, report); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", device.GPS51ID, err))
			if s.metrics != nil {
				s.metrics.ObserveIngest("failed")
			}
			s.logger.Error("Device ingest failed",
				zap.String("gps51_id", device.GPS51ID),
				zap.Error(err))
			continue
		}

		report.Succeeded++
		if s.metrics != nil {
			s.metrics.ObserveIngest("succeeded")
		}
	}

	return report
}

// ingestDevice 处理单个设备：归一化、入库、增量切分
func (s *FleetService) ingestDevice(ctx context.Context, device *models.Device, recs []*gps51.Record, report *models.IngestReport) (err error) {
	// 单设备的 panic 不能拖垮整个批次
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	var latest *models.Position
	for _, rec := range recs {
		pos := s.normalizer.Normalize(device.ID, rec)

		inserted, insErr := s.posRepo.Insert(ctx, pos)
		if insErr != nil {
			return fmt.Errorf("insert position: %w", insErr)
		}
		if inserted {
			report.Positions++
		}
		if latest == nil || pos.GPSTime.After(latest.GPSTime) {
			latest = pos
		}
	}

	if latest != nil {
		if upErr := s.posRepo.UpsertLatest(ctx, latest); upErr != nil {
			return fmt.Errorf("upsert latest: %w", upErr)
		}
		if s.onPosition != nil {
			s.onPosition(latest)
		}
	}

	// 增量切分：只看最近窗口，和回填共用同一条切分路径
	now := time.Now().UTC()
	if segErr := s.segmentRange(ctx, device.ID, now.Add(-s.cfg.IncrementalWindow), now, true, report); segErr != nil {
		return fmt.Errorf("segment incremental window: %w", segErr)
	}

	return nil
}

// segmentRange 对设备在给定窗口内的位置做切分并落库。
// live 表示窗口末尾的未关闭行程是真实进行中的行程，需要落为 open 行。
func (s *FleetService) segmentRange(ctx context.Context, deviceID int64, from, to time.Time, live bool, report *models.IngestReport) error {
	positions, err := s.posRepo.ListByDeviceRange(ctx, deviceID, from, to)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	if len(positions) == 0 {
		return nil
	}

	result := s.segmenter.Segment(deviceID, positions)
	return s.persistResult(ctx, deviceID, result, live, report)
}

// persistResult 把切分结果写入 trips 表。
// 与已有行程相交的候选跳过；和 open 行相交的闭合行程就地关闭 open 行，
// 绝不让 NULL end_time 的行悬空。并发竞争交给唯一约束仲裁。
func (s *FleetService) persistResult(ctx context.Context, deviceID int64, result trip.Result, live bool, report *models.IngestReport) error {
	open, err := s.tripRepo.GetOpen(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("get open trip: %w", err)
	}

	for _, t := range result.Closed {
		// 闭合行程和库里的 open 行在时间上相交：是同一趟物理行程
		// （可能被窗口左缘截断），就地关闭 open 行而不是再插一行
		if open != nil && t.EndTime != nil && t.EndTime.After(open.StartTime) {
			if !t.StartTime.Equal(open.StartTime) {
				// 窗口截断或回填改写导致起点对不上，沿用库内起点收口
				s.logger.Warn("Closing stale open trip against overlapping segment",
					zap.Int64("device_id", deviceID),
					zap.Time("db_start", open.StartTime),
					zap.Time("segment_start", t.StartTime))
				t.DurationSec = int64(t.EndTime.Sub(open.StartTime).Seconds())
				if t.DurationSec > 0 {
					t.SpeedAvgKmh = t.DistanceKm / (float64(t.DurationSec) / 3600.0)
				}
			}
			t.ID = open.ID
			if closeErr := s.tripRepo.Close(ctx, t); closeErr != nil {
				return fmt.Errorf("close trip: %w", closeErr)
			}
			if report != nil {
				report.TripsClosed++
			}
			open = nil
			continue
		}

		created, createErr := s.tripRepo.Create(ctx, t)
		if createErr != nil {
			return fmt.Errorf("create trip: %w", createErr)
		}
		if created {
			if report != nil {
				report.TripsCreated++
			}
			if s.metrics != nil {
				s.metrics.ObserveTripCreated()
			}
		} else {
			if report != nil {
				report.TripsDuplicate++
			}
			if s.metrics != nil {
				s.metrics.ObserveTripDuplicate()
			}
		}
	}

	if result.Open != nil && live {
		if open != nil {
			// 起点相同：等后续周期闭合。起点不同：窗口截断把同一趟
			// 进行中的行程切出了更晚的开口，保留库里更早的起点，
			// 后续的闭合输出会通过相交匹配把它收口。
			if !open.StartTime.Equal(result.Open.StartTime) {
				s.logger.Debug("Keeping stored open trip over re-segmented start",
					zap.Int64("device_id", deviceID),
					zap.Time("db_start", open.StartTime),
					zap.Time("segment_start", result.Open.StartTime))
			}
			return nil
		}
		created, createErr := s.tripRepo.Create(ctx, result.Open)
		if createErr != nil {
			return fmt.Errorf("create open trip: %w", createErr)
		}
		if created && report != nil {
			report.TripsCreated++
		}
	}

	return nil
}
