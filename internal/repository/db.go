package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateDevices,
		migrationCreatePositions,
		migrationCreateLatestPositions,
		migrationCreateTrips,
		migrationCreateAccStateIntervals,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateDevices = `
CREATE TABLE IF NOT EXISTS devices (
    id BIGSERIAL PRIMARY KEY,
    gps51_id VARCHAR(64) NOT NULL UNIQUE,
    name VARCHAR(255),
    sim_number VARCHAR(32),
    model VARCHAR(64),
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_devices_gps51_id ON devices(gps51_id);
`

// positions 是 append-only 历史，写入后不再修改
const migrationCreatePositions = `
CREATE TABLE IF NOT EXISTS positions (
    id BIGSERIAL PRIMARY KEY,
    device_id BIGINT NOT NULL REFERENCES devices(id),
    latitude DOUBLE PRECISION,
    longitude DOUBLE PRECISION,
    speed_kmh DOUBLE PRECISION NOT NULL DEFAULT 0,
    heading INT NOT NULL DEFAULT 0,
    battery_pct INT,
    odometer_km DOUBLE PRECISION,
    ignition_on BOOLEAN NOT NULL DEFAULT FALSE,
    ignition_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    ignition_method VARCHAR(20) NOT NULL DEFAULT 'unknown',
    raw_status BIGINT NOT NULL DEFAULT 0,
    gps_time TIMESTAMP WITH TIME ZONE NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_device_id ON positions(device_id);
CREATE INDEX IF NOT EXISTS idx_positions_gps_time ON positions(gps_time);
CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_device_gps_time ON positions(device_id, gps_time);
`

// 每设备一行的最新位置，按 device_id upsert
const migrationCreateLatestPositions = `
CREATE TABLE IF NOT EXISTS latest_positions (
    device_id BIGINT PRIMARY KEY REFERENCES devices(id),
    latitude DOUBLE PRECISION,
    longitude DOUBLE PRECISION,
    speed_kmh DOUBLE PRECISION NOT NULL DEFAULT 0,
    heading INT NOT NULL DEFAULT 0,
    battery_pct INT,
    odometer_km DOUBLE PRECISION,
    ignition_on BOOLEAN NOT NULL DEFAULT FALSE,
    ignition_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    ignition_method VARCHAR(20) NOT NULL DEFAULT 'unknown',
    raw_status BIGINT NOT NULL DEFAULT 0,
    gps_time TIMESTAMP WITH TIME ZONE NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
);
`

// 唯一索引是重复行程和并发切分竞争的最终仲裁
const migrationCreateTrips = `
CREATE TABLE IF NOT EXISTS trips (
    id BIGSERIAL PRIMARY KEY,
    device_id BIGINT NOT NULL REFERENCES devices(id),
    start_time TIMESTAMP WITH TIME ZONE NOT NULL,
    end_time TIMESTAMP WITH TIME ZONE,
    start_latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
    start_longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
    end_latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
    end_longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
    distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
    duration_sec BIGINT NOT NULL DEFAULT 0,
    speed_max_kmh DOUBLE PRECISION NOT NULL DEFAULT 0,
    speed_avg_kmh DOUBLE PRECISION NOT NULL DEFAULT 0,
    ignition_backed BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_trips_device_id ON trips(device_id);
CREATE INDEX IF NOT EXISTS idx_trips_start_time ON trips(start_time);
CREATE UNIQUE INDEX IF NOT EXISTS idx_trips_device_window ON trips(device_id, start_time, end_time);
`

const migrationCreateAccStateIntervals = `
CREATE TABLE IF NOT EXISTS acc_state_intervals (
    id BIGSERIAL PRIMARY KEY,
    device_id BIGINT NOT NULL REFERENCES devices(id),
    state VARCHAR(8) NOT NULL,
    begin_time TIMESTAMP WITH TIME ZONE NOT NULL,
    end_time TIMESTAMP WITH TIME ZONE NOT NULL,
    begin_latitude DOUBLE PRECISION,
    begin_longitude DOUBLE PRECISION,
    end_latitude DOUBLE PRECISION,
    end_longitude DOUBLE PRECISION,
    source VARCHAR(32) NOT NULL DEFAULT 'gps51',
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_acc_intervals_device_id ON acc_state_intervals(device_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_acc_intervals_window ON acc_state_intervals(device_id, state, begin_time, end_time);
`
