package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mymoto/fleetsync/internal/models"
)

// AccStateRepository 上游权威 ACC 区间仓库（append-only）
type AccStateRepository struct {
	db *DB
}

// NewAccStateRepository 创建 ACC 区间仓库
func NewAccStateRepository(db *DB) *AccStateRepository {
	return &AccStateRepository{db: db}
}

// Insert 追加一条 ACC 区间，重复区间按已存在处理
func (r *AccStateRepository) Insert(ctx context.Context, interval *models.AccStateInterval) (bool, error) {
	query := `
		INSERT INTO acc_state_intervals (device_id, state, begin_time, end_time,
			begin_latitude, begin_longitude, end_latitude, end_longitude, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		interval.DeviceID,
		interval.State,
		interval.BeginTime,
		interval.EndTime,
		interval.BeginLatitude,
		interval.BeginLongitude,
		interval.EndLatitude,
		interval.EndLongitude,
		interval.Source,
	).Scan(&interval.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert acc interval: %w", err)
	}
	return true, nil
}

// ListByDeviceRange 获取设备的 ACC 区间，按开始时间升序
func (r *AccStateRepository) ListByDeviceRange(ctx context.Context, deviceID int64, from, to time.Time) ([]*models.AccStateInterval, error) {
	query := `
		SELECT id, device_id, state, begin_time, end_time,
			begin_latitude, begin_longitude, end_latitude, end_longitude, source, created_at
		FROM acc_state_intervals
		WHERE device_id = $1 AND begin_time >= $2 AND begin_time <= $3
		ORDER BY begin_time
	`
	rows, err := r.db.Pool.Query(ctx, query, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list acc intervals: %w", err)
	}
	defer rows.Close()

	var intervals []*models.AccStateInterval
	for rows.Next() {
		interval := &models.AccStateInterval{}
		err := rows.Scan(
			&interval.ID,
			&interval.DeviceID,
			&interval.State,
			&interval.BeginTime,
			&interval.EndTime,
			&interval.BeginLatitude,
			&interval.BeginLongitude,
			&interval.EndLatitude,
			&interval.EndLongitude,
			&interval.Source,
			&interval.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan acc interval: %w", err)
		}
		intervals = append(intervals, interval)
	}

	return intervals, nil
}
