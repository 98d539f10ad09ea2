package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mymoto/fleetsync/internal/models"
)

// Postgres 唯一约束冲突
const uniqueViolationCode = "23505"

// isUniqueViolation 判断是否唯一约束冲突
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// PositionRepository 位置数据仓库
type PositionRepository struct {
	db *DB
}

// NewPositionRepository 创建位置仓库
func NewPositionRepository(db *DB) *PositionRepository {
	return &PositionRepository{db: db}
}

const positionColumns = `device_id, latitude, longitude, speed_kmh, heading, battery_pct, odometer_km,
	ignition_on, ignition_confidence, ignition_method, raw_status, gps_time, recorded_at`

// Insert 追加一条位置记录。
// 同设备同 GPS 时间的重复上报按已存在处理，返回 (false, nil)。
func (r *PositionRepository) Insert(ctx context.Context, pos *models.Position) (bool, error) {
	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		pos.DeviceID,
		pos.Latitude,
		pos.Longitude,
		pos.SpeedKmh,
		pos.Heading,
		pos.BatteryPct,
		pos.OdometerKm,
		pos.IgnitionOn,
		pos.IgnitionConfidence,
		pos.IgnitionMethod,
		int64(pos.RawStatus),
		pos.GPSTime,
		pos.RecordedAt,
	).Scan(&pos.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert position: %w", err)
	}
	return true, nil
}

// UpsertLatest 覆盖写入设备的最新位置（每设备一行）
func (r *PositionRepository) UpsertLatest(ctx context.Context, pos *models.Position) error {
	query := `
		INSERT INTO latest_positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (device_id) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			speed_kmh = EXCLUDED.speed_kmh,
			heading = EXCLUDED.heading,
			battery_pct = EXCLUDED.battery_pct,
			odometer_km = EXCLUDED.odometer_km,
			ignition_on = EXCLUDED.ignition_on,
			ignition_confidence = EXCLUDED.ignition_confidence,
			ignition_method = EXCLUDED.ignition_method,
			raw_status = EXCLUDED.raw_status,
			gps_time = EXCLUDED.gps_time,
			recorded_at = EXCLUDED.recorded_at
	`
	_, err := r.db.Pool.Exec(ctx, query,
		pos.DeviceID,
		pos.Latitude,
		pos.Longitude,
		pos.SpeedKmh,
		pos.Heading,
		pos.BatteryPct,
		pos.OdometerKm,
		pos.IgnitionOn,
		pos.IgnitionConfidence,
		pos.IgnitionMethod,
		int64(pos.RawStatus),
		pos.GPSTime,
		pos.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert latest position: %w", err)
	}
	return nil
}

// GetLatest 获取设备最新位置
func (r *PositionRepository) GetLatest(ctx context.Context, deviceID int64) (*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM latest_positions WHERE device_id = $1
	`
	pos := &models.Position{}
	var rawStatus int64
	err := r.db.Pool.QueryRow(ctx, query, deviceID).Scan(
		&pos.DeviceID,
		&pos.Latitude,
		&pos.Longitude,
		&pos.SpeedKmh,
		&pos.Heading,
		&pos.BatteryPct,
		&pos.OdometerKm,
		&pos.IgnitionOn,
		&pos.IgnitionConfidence,
		&pos.IgnitionMethod,
		&rawStatus,
		&pos.GPSTime,
		&pos.RecordedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get latest position: %w", err)
	}
	pos.RawStatus = uint32(rawStatus)
	return pos, nil
}

// ListAllLatest 获取全部设备的最新位置
func (r *PositionRepository) ListAllLatest(ctx context.Context) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM latest_positions ORDER BY device_id`
	return r.queryPositions(ctx, query)
}

// ListByDeviceRange 按时间范围获取设备位置，严格按 GPS 时间升序
func (r *PositionRepository) ListByDeviceRange(ctx context.Context, deviceID int64, from, to time.Time) ([]*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE device_id = $1 AND gps_time >= $2 AND gps_time <= $3
		ORDER BY gps_time
	`
	return r.queryPositions(ctx, query, deviceID, from, to)
}

// NearestInWindow 找到距离目标时刻最近且坐标有效的位置，窗口外返回 pgx.ErrNoRows
func (r *PositionRepository) NearestInWindow(ctx context.Context, deviceID int64, at time.Time, window time.Duration) (*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE device_id = $1
		  AND gps_time BETWEEN $2 AND $3
		  AND latitude IS NOT NULL AND longitude IS NOT NULL
		  AND NOT (latitude = 0 AND longitude = 0)
		ORDER BY ABS(EXTRACT(EPOCH FROM (gps_time - $4))) ASC
		LIMIT 1
	`
	positions, err := r.queryPositions(ctx, query, deviceID, at.Add(-window), at.Add(window), at)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, pgx.ErrNoRows
	}
	return positions[0], nil
}

func (r *PositionRepository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*models.Position, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		pos := &models.Position{}
		var rawStatus int64
		err := rows.Scan(
			&pos.DeviceID,
			&pos.Latitude,
			&pos.Longitude,
			&pos.SpeedKmh,
			&pos.Heading,
			&pos.BatteryPct,
			&pos.OdometerKm,
			&pos.IgnitionOn,
			&pos.IgnitionConfidence,
			&pos.IgnitionMethod,
			&rawStatus,
			&pos.GPSTime,
			&pos.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		pos.RawStatus = uint32(rawStatus)
		positions = append(positions, pos)
	}

	return positions, nil
}
