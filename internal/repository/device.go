package repository

import (
	"context"
	"fmt"

	"github.com/mymoto/fleetsync/internal/models"
)

// DeviceRepository 设备数据仓库
type DeviceRepository struct {
	db *DB
}

// NewDeviceRepository 创建设备仓库
func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Upsert 按上游设备号插入或更新
func (r *DeviceRepository) Upsert(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices (gps51_id, name, sim_number, model)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (gps51_id) DO UPDATE SET
			name = EXCLUDED.name,
			sim_number = EXCLUDED.sim_number,
			model = EXCLUDED.model,
			updated_at = NOW()
		RETURNING id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		device.GPS51ID,
		device.Name,
		device.SIMNumber,
		device.Model,
	).Scan(&device.ID)

	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// GetByGPS51ID 按上游设备号获取设备
func (r *DeviceRepository) GetByGPS51ID(ctx context.Context, gps51ID string) (*models.Device, error) {
	query := `
		SELECT id, gps51_id, name, sim_number, model, created_at, updated_at
		FROM devices WHERE gps51_id = $1
	`
	device := &models.Device{}
	err := r.db.Pool.QueryRow(ctx, query, gps51ID).Scan(
		&device.ID,
		&device.GPS51ID,
		&device.Name,
		&device.SIMNumber,
		&device.Model,
		&device.CreatedAt,
		&device.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get device by gps51 id: %w", err)
	}
	return device, nil
}

// List 获取全部设备
func (r *DeviceRepository) List(ctx context.Context) ([]*models.Device, error) {
	query := `
		SELECT id, gps51_id, name, sim_number, model, created_at, updated_at
		FROM devices ORDER BY id
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device := &models.Device{}
		err := rows.Scan(
			&device.ID,
			&device.GPS51ID,
			&device.Name,
			&device.SIMNumber,
			&device.Model,
			&device.CreatedAt,
			&device.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, device)
	}

	return devices, nil
}
