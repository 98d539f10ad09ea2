package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mymoto/fleetsync/internal/models"
)

// TripRepository 行程数据仓库
type TripRepository struct {
	db *DB
}

// NewTripRepository 创建行程仓库
func NewTripRepository(db *DB) *TripRepository {
	return &TripRepository{db: db}
}

const tripColumns = `id, device_id, start_time, end_time, start_latitude, start_longitude,
	end_latitude, end_longitude, distance_km, duration_sec, speed_max_kmh, speed_avg_kmh, ignition_backed`

// Create 写入行程。
// 与已有行程时间相交的候选跳过并返回 (false, nil)：完全相同的窗口是重跑产生的
// 重复，部分相交的是截断窗口重切出来的同一趟物理行程，都不该落成第二行。
// 并发插入的唯一约束冲突同样按已存在处理。
func (r *TripRepository) Create(ctx context.Context, trip *models.Trip) (bool, error) {
	// 先做冲突检查，让常规重跑不产生约束冲突噪音
	conflict, err := r.conflicts(ctx, trip.DeviceID, trip.StartTime, trip.EndTime)
	if err != nil {
		return false, err
	}
	if conflict {
		return false, nil
	}

	query := `
		INSERT INTO trips (device_id, start_time, end_time, start_latitude, start_longitude,
			end_latitude, end_longitude, distance_km, duration_sec, speed_max_kmh, speed_avg_kmh, ignition_backed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`
	err = r.db.Pool.QueryRow(ctx, query,
		trip.DeviceID,
		trip.StartTime,
		trip.EndTime,
		trip.StartLatitude,
		trip.StartLongitude,
		trip.EndLatitude,
		trip.EndLongitude,
		trip.DistanceKm,
		trip.DurationSec,
		trip.SpeedMaxKmh,
		trip.SpeedAvgKmh,
		trip.IgnitionBacked,
	).Scan(&trip.ID)

	if err != nil {
		// 竞态下另一次切分先写入了同一行程，视同成功
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert trip: %w", err)
	}
	return true, nil
}

// Close 关闭进行中的行程
func (r *TripRepository) Close(ctx context.Context, trip *models.Trip) error {
	query := `
		UPDATE trips SET
			end_time = $1,
			end_latitude = $2,
			end_longitude = $3,
			distance_km = $4,
			duration_sec = $5,
			speed_max_kmh = $6,
			speed_avg_kmh = $7
		WHERE id = $8 AND end_time IS NULL
	`
	_, err := r.db.Pool.Exec(ctx, query,
		trip.EndTime,
		trip.EndLatitude,
		trip.EndLongitude,
		trip.DistanceKm,
		trip.DurationSec,
		trip.SpeedMaxKmh,
		trip.SpeedAvgKmh,
		trip.ID,
	)
	if err != nil {
		return fmt.Errorf("close trip: %w", err)
	}
	return nil
}

// GetOpen 获取设备进行中的行程，没有则返回 (nil, nil)
func (r *TripRepository) GetOpen(ctx context.Context, deviceID int64) (*models.Trip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM trips WHERE device_id = $1 AND end_time IS NULL
		ORDER BY start_time DESC LIMIT 1
	`
	trip, err := r.scanOne(r.db.Pool.QueryRow(ctx, query, deviceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get open trip: %w", err)
	}
	return trip, nil
}

// GetByID 获取行程
func (r *TripRepository) GetByID(ctx context.Context, id int64) (*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1`
	trip, err := r.scanOne(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get trip by id: %w", err)
	}
	return trip, nil
}

// ListByDevice 获取设备行程列表，按开始时间倒序
func (r *TripRepository) ListByDevice(ctx context.Context, deviceID int64, limit, offset int) ([]*models.Trip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM trips WHERE device_id = $1 ORDER BY start_time DESC LIMIT $2 OFFSET $3
	`
	return r.queryTrips(ctx, query, deviceID, limit, offset)
}

// CountByDevice 统计设备行程数
func (r *TripRepository) CountByDevice(ctx context.Context, deviceID int64) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM trips WHERE device_id = $1`, deviceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count trips: %w", err)
	}
	return count, nil
}

// ListZeroCoordinate 找出起止坐标缺失、待回填的已关闭行程
func (r *TripRepository) ListZeroCoordinate(ctx context.Context, limit int) ([]*models.Trip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE end_time IS NOT NULL
		  AND ((start_latitude = 0 AND start_longitude = 0) OR (end_latitude = 0 AND end_longitude = 0))
		ORDER BY start_time DESC LIMIT $1
	`
	return r.queryTrips(ctx, query, limit)
}

// UpdateCoordinates 回填行程起止坐标并更新重算后的距离
func (r *TripRepository) UpdateCoordinates(ctx context.Context, trip *models.Trip) error {
	query := `
		UPDATE trips SET
			start_latitude = $1,
			start_longitude = $2,
			end_latitude = $3,
			end_longitude = $4,
			distance_km = $5,
			speed_avg_kmh = $6
		WHERE id = $7
	`
	_, err := r.db.Pool.Exec(ctx, query,
		trip.StartLatitude,
		trip.StartLongitude,
		trip.EndLatitude,
		trip.EndLongitude,
		trip.DistanceKm,
		trip.SpeedAvgKmh,
		trip.ID,
	)
	if err != nil {
		return fmt.Errorf("update trip coordinates: %w", err)
	}
	return nil
}

// GetStats 获取设备行程统计
func (r *TripRepository) GetStats(ctx context.Context, deviceID int64, since time.Time) (totalDistance float64, totalDuration int64, count int64, err error) {
	query := `
		SELECT COALESCE(SUM(distance_km), 0), COALESCE(SUM(duration_sec), 0), COUNT(*)
		FROM trips WHERE device_id = $1 AND start_time >= $2 AND end_time IS NOT NULL
	`
	err = r.db.Pool.QueryRow(ctx, query, deviceID, since).Scan(&totalDistance, &totalDuration, &count)
	if err != nil {
		err = fmt.Errorf("get trip stats: %w", err)
	}
	return
}

// conflicts 行程时间不重叠是硬性约束。
// 已关闭的候选和任何已关闭行程相交即冲突；进行中的候选视为 [start, +inf)，
// 和同 start 的 open 行或结束于 start 之后的已关闭行程相交即冲突。
func (r *TripRepository) conflicts(ctx context.Context, deviceID int64, startTime time.Time, endTime *time.Time) (bool, error) {
	var (
		count int64
		err   error
	)
	if endTime == nil {
		err = r.db.Pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM trips
			WHERE device_id = $1
			  AND ((end_time IS NULL AND start_time = $2)
			    OR (end_time IS NOT NULL AND end_time > $2))`,
			deviceID, startTime).Scan(&count)
	} else {
		err = r.db.Pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM trips
			WHERE device_id = $1 AND end_time IS NOT NULL
			  AND start_time < $3 AND end_time > $2`,
			deviceID, startTime, *endTime).Scan(&count)
	}
	if err != nil {
		return false, fmt.Errorf("check trip conflicts: %w", err)
	}
	return count > 0, nil
}

func (r *TripRepository) scanOne(row pgx.Row) (*models.Trip, error) {
	trip := &models.Trip{}
	err := row.Scan(
		&trip.ID,
		&trip.DeviceID,
		&trip.StartTime,
		&trip.EndTime,
		&trip.StartLatitude,
		&trip.StartLongitude,
		&trip.EndLatitude,
		&trip.EndLongitude,
		&trip.DistanceKm,
		&trip.DurationSec,
		&trip.SpeedMaxKmh,
		&trip.SpeedAvgKmh,
		&trip.IgnitionBacked,
	)
	if err != nil {
		return nil, err
	}
	return trip, nil
}

func (r *TripRepository) queryTrips(ctx context.Context, query string, args ...interface{}) ([]*models.Trip, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var trips []*models.Trip
	for rows.Next() {
		trip := &models.Trip{}
		err := rows.Scan(
			&trip.ID,
			&trip.DeviceID,
			&trip.StartTime,
			&trip.EndTime,
			&trip.StartLatitude,
			&trip.StartLongitude,
			&trip.EndLatitude,
			&trip.EndLongitude,
			&trip.DistanceKm,
			&trip.DurationSec,
			&trip.SpeedMaxKmh,
			&trip.SpeedAvgKmh,
			&trip.IgnitionBacked,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, trip)
	}

	return trips, nil
}
