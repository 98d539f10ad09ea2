package service

import (
	"context"
	"time"

	"github.com/mymoto/fleetsync/internal/api/gps51"
	"github.com/mymoto/fleetsync/internal/models"
)

// 仓库和上游客户端的最小依赖面，便于测试替换

type VendorClient interface {
	Login(ctx context.Context) error
	Authenticated() bool
	QueryDevices(ctx context.Context) ([]gps51.Device, error)
	LastPosition(ctx context.Context, deviceIDs []string, cursor int64) ([]gps51.Record, int64, error)
	QueryTracks(ctx context.Context, deviceID string, from, to time.Time) ([]gps51.Record, error)
	QueryAccState(ctx context.Context, deviceID string, from, to time.Time) ([]gps51.AccRecord, error)
}

type DeviceStore interface {
	Upsert(ctx context.Context, device *models.Device) error
	List(ctx context.Context) ([]*models.Device, error)
	GetByGPS51ID(ctx context.Context, gps51ID string) (*models.Device, error)
}

type PositionStore interface {
	Insert(ctx context.Context, pos *models.Position) (bool, error)
	UpsertLatest(ctx context.Context, pos *models.Position) error
	ListByDeviceRange(ctx context.Context, deviceID int64, from, to time.Time) ([]*models.Position, error)
	NearestInWindow(ctx context.Context, deviceID int64, at time.Time, window time.Duration) (*models.Position, error)
}

type TripStore interface {
	Create(ctx context.Context, trip *models.Trip) (bool, error)
	Close(ctx context.Context, trip *models.Trip) error
	GetOpen(ctx context.Context, deviceID int64) (*models.Trip, error)
	ListByDevice(ctx context.Context, deviceID int64, limit, offset int) ([]*models.Trip, error)
	ListZeroCoordinate(ctx context.Context, limit int) ([]*models.Trip, error)
	UpdateCoordinates(ctx context.Context, trip *models.Trip) error
}

type AccStateStore interface {
	Insert(ctx context.Context, interval *models.AccStateInterval) (bool, error)
	ListByDeviceRange(ctx context.Context, deviceID int64, from, to time.Time) ([]*models.AccStateInterval, error)
}
