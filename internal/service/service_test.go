package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mymoto/fleetsync/internal/api/gps51"
	"github.com/mymoto/fleetsync/internal/config"
	"github.com/mymoto/fleetsync/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		PollInterval:      5 * time.Minute,
		AccSyncInterval:   30 * time.Minute,
		IdleTimeout:       180 * time.Second,
		MinTripDistanceKm: 0.1,
		MovementSpeedKmh:  1.0,
		MaxPointGap:       30 * time.Minute,
		ReconcileWindow:   15 * time.Minute,
		IncrementalWindow: 24 * time.Hour,
		BackfillChunk:     time.Hour,
		Ignition: config.IgnitionWeights{
			BaseBit:      0.6,
			ExtendedBit:  0.2,
			SpeedSupport: 0.2,
			StringMatch:  0.9,
			SpeedHigh:    0.4,
			SpeedLow:     0.3,
			SpeedStopped: 0.5,
			SpeedHighKmh: 5.0,
			SpeedLowKmh:  3.0,
			Threshold:    0.5,
		},
	}
}

// ---- fakes ----

type fakeVendor struct {
	devices      []gps51.Device
	records      []gps51.Record
	nextCursor   int64
	lastPosErr   error
	trackCalls   []timeRange
	trackRecords map[string][]gps51.Record
	accRecords   []gps51.AccRecord
}

type timeRange struct {
	from, to time.Time
}

func (f *fakeVendor) Login(ctx context.Context) error { return nil }
func (f *fakeVendor) Authenticated() bool             { return true }
func (f *fakeVendor) QueryDevices(ctx context.Context) ([]gps51.Device, error) {
	return f.devices, nil
}
func (f *fakeVendor) LastPosition(ctx context.Context, deviceIDs []string, cursor int64) ([]gps51.Record, int64, error) {
	if f.lastPosErr != nil {
		return nil, cursor, f.lastPosErr
	}
	return f.records, f.nextCursor, nil
}
func (f *fakeVendor) QueryTracks(ctx context.Context, deviceID string, from, to time.Time) ([]gps51.Record, error) {
	f.trackCalls = append(f.trackCalls, timeRange{from, to})
	key := fmt.Sprintf("%s|%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	return f.trackRecords[key], nil
}
func (f *fakeVendor) QueryAccState(ctx context.Context, deviceID string, from, to time.Time) ([]gps51.AccRecord, error) {
	return f.accRecords, nil
}

type fakeDeviceStore struct {
	devices []*models.Device
	nextID  int64
}

func (f *fakeDeviceStore) Upsert(ctx context.Context, device *models.Device) error {
	for _, d := range f.devices {
		if d.GPS51ID == device.GPS51ID {
			d.Name = device.Name
			device.ID = d.ID
			return nil
		}
	}
	f.nextID++
	device.ID = f.nextID
	f.devices = append(f.devices, device)
	return nil
}

func (f *fakeDeviceStore) List(ctx context.Context) ([]*models.Device, error) {
	return f.devices, nil
}

func (f *fakeDeviceStore) GetByGPS51ID(ctx context.Context, gps51ID string) (*models.Device, error) {
	for _, d := range f.devices {
		if d.GPS51ID == gps51ID {
			return d, nil
		}
	}
	return nil, errors.New("device not found")
}

type fakePositionStore struct {
	positions []*models.Position
	latest    map[int64]*models.Position
}

func (f *fakePositionStore) Insert(ctx context.Context, pos *models.Position) (bool, error) {
	for _, p := range f.positions {
		if p.DeviceID == pos.DeviceID && p.GPSTime.Equal(pos.GPSTime) {
			return false, nil
		}
	}
	f.positions = append(f.positions, pos)
	return true, nil
}

func (f *fakePositionStore) UpsertLatest(ctx context.Context, pos *models.Position) error {
	if f.latest == nil {
		f.latest = make(map[int64]*models.Position)
	}
	f.latest[pos.DeviceID] = pos
	return nil
}

func (f *fakePositionStore) ListByDeviceRange(ctx context.Context, deviceID int64, from, to time.Time) ([]*models.Position, error) {
	var out []*models.Position
	for _, p := range f.positions {
		if p.DeviceID == deviceID && !p.GPSTime.Before(from) && !p.GPSTime.After(to) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GPSTime.Before(out[j].GPSTime) })
	return out, nil
}

func (f *fakePositionStore) NearestInWindow(ctx context.Context, deviceID int64, at time.Time, window time.Duration) (*models.Position, error) {
	var best *models.Position
	var bestDiff time.Duration
	for _, p := range f.positions {
		if p.DeviceID != deviceID || !p.HasCoordinates() {
			continue
		}
		diff := p.GPSTime.Sub(at)
		if diff < 0 {
			diff = -diff
		}
		if diff > window {
			continue
		}
		if best == nil || diff < bestDiff {
			best = p
			bestDiff = diff
		}
	}
	if best == nil {
		return nil, errors.New("no rows in result set")
	}
	return best, nil
}

type fakeTripStore struct {
	trips  []*models.Trip
	nextID int64
	closed int
}

func (f *fakeTripStore) Create(ctx context.Context, trip *models.Trip) (bool, error) {
	// 和仓库一致：时间相交即冲突
	for _, t := range f.trips {
		if t.DeviceID != trip.DeviceID {
			continue
		}
		if trip.EndTime == nil {
			if t.EndTime == nil && t.StartTime.Equal(trip.StartTime) {
				return false, nil
			}
			if t.EndTime != nil && t.EndTime.After(trip.StartTime) {
				return false, nil
			}
		} else if t.EndTime != nil && t.StartTime.Before(*trip.EndTime) && t.EndTime.After(trip.StartTime) {
			return false, nil
		}
	}
	f.nextID++
	trip.ID = f.nextID
	copied := *trip
	f.trips = append(f.trips, &copied)
	return true, nil
}

func (f *fakeTripStore) Close(ctx context.Context, trip *models.Trip) error {
	// 和仓库一致：只更新收口字段，start_time 不动
	for _, t := range f.trips {
		if t.ID == trip.ID && t.EndTime == nil {
			t.EndTime = trip.EndTime
			t.EndLatitude = trip.EndLatitude
			t.EndLongitude = trip.EndLongitude
			t.DistanceKm = trip.DistanceKm
			t.DurationSec = trip.DurationSec
			t.SpeedMaxKmh = trip.SpeedMaxKmh
			t.SpeedAvgKmh = trip.SpeedAvgKmh
			f.closed++
			return nil
		}
	}
	return nil
}

func (f *fakeTripStore) GetOpen(ctx context.Context, deviceID int64) (*models.Trip, error) {
	for _, t := range f.trips {
		if t.DeviceID == deviceID && t.EndTime == nil {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeTripStore) ListByDevice(ctx context.Context, deviceID int64, limit, offset int) ([]*models.Trip, error) {
	var out []*models.Trip
	for _, t := range f.trips {
		if t.DeviceID == deviceID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTripStore) ListZeroCoordinate(ctx context.Context, limit int) ([]*models.Trip, error) {
	var out []*models.Trip
	for _, t := range f.trips {
		if t.EndTime == nil {
			continue
		}
		if (t.StartLatitude == 0 && t.StartLongitude == 0) || (t.EndLatitude == 0 && t.EndLongitude == 0) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTripStore) UpdateCoordinates(ctx context.Context, trip *models.Trip) error {
	for _, t := range f.trips {
		if t.ID == trip.ID {
			*t = *trip
			return nil
		}
	}
	return errors.New("trip not found")
}

type fakeAccStore struct {
	intervals []*models.AccStateInterval
}

func (f *fakeAccStore) Insert(ctx context.Context, interval *models.AccStateInterval) (bool, error) {
	for _, iv := range f.intervals {
		if iv.DeviceID == interval.DeviceID && iv.State == interval.State &&
			iv.BeginTime.Equal(interval.BeginTime) && iv.EndTime.Equal(interval.EndTime) {
			return false, nil
		}
	}
	f.intervals = append(f.intervals, interval)
	return true, nil
}

func (f *fakeAccStore) ListByDeviceRange(ctx context.Context, deviceID int64, from, to time.Time) ([]*models.AccStateInterval, error) {
	var out []*models.AccStateInterval
	for _, iv := range f.intervals {
		if iv.DeviceID == deviceID {
			out = append(out, iv)
		}
	}
	return out, nil
}

type tripFixture struct {
	vendor  *fakeVendor
	devices *fakeDeviceStore
	pos     *fakePositionStore
	trips   *fakeTripStore
	acc     *fakeAccStore
	svc     *FleetService
}

func newFixture(cfg *config.Config) *tripFixture {
	f := &tripFixture{
		vendor:  &fakeVendor{},
		devices: &fakeDeviceStore{},
		pos:     &fakePositionStore{},
		trips:   &fakeTripStore{},
		acc:     &fakeAccStore{},
	}
	f.svc = NewFleetService(cfg, zap.NewNop(), f.vendor, f.devices, f.pos, f.trips, f.acc, nil)
	return f
}

func rec(deviceID string, at time.Time, lat, lon, speed float64, status uint32) gps51.Record {
	return gps51.Record{
		DeviceID:   deviceID,
		CalLat:     &lat,
		CalLon:     &lon,
		Speed:      speed,
		Status:     json.Number(fmt.Sprintf("%d", status)),
		UpdateTime: at.UnixMilli(),
	}
}

// ---- tests ----

func TestSyncDevices(t *testing.T) {
	f := newFixture(testConfig())
	f.vendor.devices = []gps51.Device{
		{DeviceID: "dev-1", DeviceName: "Bike 1", SIMNum: "0801", DeviceType: "GT06N"},
		{DeviceID: "dev-2", DeviceName: "Bike 2"},
	}

	require.NoError(t, f.svc.SyncDevices(context.Background()))
	require.Len(t, f.devices.devices, 2)
	assert.Equal(t, "Bike 1", f.devices.devices[0].Name)
	assert.Equal(t, "GT06N", f.devices.devices[0].Model)

	// 重复同步不产生新设备
	require.NoError(t, f.svc.SyncDevices(context.Background()))
	assert.Len(t, f.devices.devices, 2)
}

func TestIngestOnceCreatesTrip(t *testing.T) {
	f := newFixture(testConfig())
	f.devices.devices = []*models.Device{
		{ID: 1, GPS51ID: "dev-1"},
		{ID: 2, GPS51ID: "dev-2"},
	}

	now := time.Now().UTC().Truncate(time.Second)
	t0 := now.Add(-30 * time.Minute)
	f.vendor.records = []gps51.Record{
		rec("dev-1", t0, 6.4281, 3.4216, 30, 262151),
		rec("dev-1", t0.Add(5*time.Minute), 6.4400, 3.4300, 45, 262151),
		rec("dev-1", t0.Add(10*time.Minute), 6.4541, 3.4350, 0, 262150),
	}
	f.vendor.nextCursor = now.UnixMilli()

	report := f.svc.IngestOnce(context.Background())

	assert.Equal(t, 2, report.Devices)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 3, report.Positions)
	assert.Equal(t, 1, report.TripsCreated)

	// 行程已关闭并带点火确认
	require.Len(t, f.trips.trips, 1)
	trip := f.trips.trips[0]
	assert.Equal(t, int64(1), trip.DeviceID)
	require.NotNil(t, trip.EndTime)
	assert.Equal(t, t0, trip.StartTime)
	assert.Equal(t, t0.Add(10*time.Minute), *trip.EndTime)
	assert.True(t, trip.IgnitionBacked)

	// 最新位置已更新
	require.NotNil(t, f.pos.latest[1])
	assert.Equal(t, t0.Add(10*time.Minute), f.pos.latest[1].GPSTime)
}

func TestIngestOnceIdempotent(t *testing.T) {
	f := newFixture(testConfig())
	f.devices.devices = []*models.Device{{ID: 1, GPS51ID: "dev-1"}}

	t0 := time.Now().UTC().Truncate(time.Second).Add(-30 * time.Minute)
	f.vendor.records = []gps51.Record{
		rec("dev-1", t0, 6.4281, 3.4216, 30, 262151),
		rec("dev-1", t0.Add(5*time.Minute), 6.4400, 3.4300, 45, 262151),
		rec("dev-1", t0.Add(10*time.Minute), 6.4541, 3.4350, 0, 262150),
	}

	first := f.svc.IngestOnce(context.Background())
	assert.Equal(t, 1, first.TripsCreated)

	// 同一批数据重放：位置去重，行程判重
	second := f.svc.IngestOnce(context.Background())
	assert.Equal(t, 0, second.Positions)
	assert.Equal(t, 0, second.TripsCreated)
	assert.Equal(t, 1, second.TripsDuplicate)
	assert.Len(t, f.trips.trips, 1)
}

func TestIngestOnceVendorFailure(t *testing.T) {
	f := newFixture(testConfig())
	f.devices.devices = []*models.Device{
		{ID: 1, GPS51ID: "dev-1"},
		{ID: 2, GPS51ID: "dev-2"},
	}
	f.vendor.lastPosErr = errors.New("rate limited")

	report := f.svc.IngestOnce(context.Background())
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 0, report.Succeeded)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "rate limited")
}

func TestIngestOpenTripLifecycle(t *testing.T) {
	f := newFixture(testConfig())
	f.devices.devices = []*models.Device{{ID: 1, GPS51ID: "dev-1"}}

	t0 := time.Now().UTC().Truncate(time.Second).Add(-20 * time.Minute)

	// 第一个周期：行程进行中，落一条 open 行
	f.vendor.records = []gps51.Record{
		rec("dev-1", t0, 6.4281, 3.4216, 30, 262151),
		rec("dev-1", t0.Add(5*time.Minute), 6.4400, 3.4300, 45, 262151),
	}
	report := f.svc.IngestOnce(context.Background())
	assert.Equal(t, 1, report.TripsCreated)

	open, err := f.trips.GetOpen(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, t0, open.StartTime)

	// 第二个周期：熄火，open 行就地关闭而不是再插一行
	f.vendor.records = []gps51.Record{
		rec("dev-1", t0.Add(10*time.Minute), 6.4541, 3.4350, 0, 262150),
	}
	report = f.svc.IngestOnce(context.Background())
	assert.Equal(t, 1, report.TripsClosed)
	assert.Equal(t, 0, report.TripsCreated)

	require.Len(t, f.trips.trips, 1)
	require.NotNil(t, f.trips.trips[0].EndTime)
	assert.Equal(t, t0.Add(10*time.Minute), *f.trips.trips[0].EndTime)
	assert.Equal(t, 1, f.trips.closed)
}

func TestIngestWindowSlideNoOverlap(t *testing.T) {
	f := newFixture(testConfig())
	f.devices.devices = []*models.Device{{ID: 1, GPS51ID: "dev-1"}}

	now := time.Now().UTC().Truncate(time.Second)
	f.vendor.records = []gps51.Record{
		rec("dev-1", now.Add(-60*time.Minute), 6.4281, 3.4216, 30, 262151),
		rec("dev-1", now.Add(-54*time.Minute), 6.4400, 3.4300, 45, 262151),
		rec("dev-1", now.Add(-52*time.Minute), 6.4500, 3.4340, 35, 262151),
		rec("dev-1", now.Add(-50*time.Minute), 6.4541, 3.4350, 0, 262150),
	}

	first := f.svc.IngestOnce(context.Background())
	assert.Equal(t, 1, first.TripsCreated)
	require.Len(t, f.trips.trips, 1)

	// 增量窗口左缘滑进已入库的行程内部，重切只看得到行程的尾巴。
	// 尾巴行程和库内行程相交，必须判重而不是落成第二行
	f.svc.cfg.IncrementalWindow = 55 * time.Minute
	f.vendor.records = []gps51.Record{
		rec("dev-1", now.Add(-50*time.Minute), 6.4541, 3.4350, 0, 262150),
	}

	second := f.svc.IngestOnce(context.Background())
	assert.Equal(t, 0, second.TripsCreated)
	assert.Equal(t, 1, second.TripsDuplicate)

	// 同一趟物理行程只有一行，时间上互不相交
	require.Len(t, f.trips.trips, 1)
	trip := f.trips.trips[0]
	assert.Equal(t, now.Add(-60*time.Minute), trip.StartTime)
	require.NotNil(t, trip.EndTime)
	assert.Equal(t, now.Add(-50*time.Minute), *trip.EndTime)
}

func TestIngestClosesStaleOpenTrip(t *testing.T) {
	f := newFixture(testConfig())
	f.devices.devices = []*models.Device{{ID: 1, GPS51ID: "dev-1"}}

	now := time.Now().UTC().Truncate(time.Second)

	// 第一个周期：行程进行中，落 open 行
	f.vendor.records = []gps51.Record{
		rec("dev-1", now.Add(-70*time.Minute), 6.4281, 3.4216, 30, 262151),
		rec("dev-1", now.Add(-60*time.Minute), 6.4400, 3.4300, 45, 262151),
	}
	first := f.svc.IngestOnce(context.Background())
	assert.Equal(t, 1, first.TripsCreated)

	// 第二个周期：窗口左缘已滑过 open 行的起点，重切出的闭合尾巴
	// 起点对不上，但必须就地关闭 open 行，不能留下悬空的 NULL 行
	f.svc.cfg.IncrementalWindow = 55 * time.Minute
	f.vendor.records = []gps51.Record{
		rec("dev-1", now.Add(-50*time.Minute), 6.4500, 3.4340, 35, 262151),
		rec("dev-1", now.Add(-45*time.Minute), 6.4541, 3.4350, 0, 262150),
	}
	second := f.svc.IngestOnce(context.Background())
	assert.Equal(t, 1, second.TripsClosed)
	assert.Equal(t, 0, second.TripsCreated)

	require.Len(t, f.trips.trips, 1)
	trip := f.trips.trips[0]
	require.NotNil(t, trip.EndTime)
	assert.Equal(t, now.Add(-70*time.Minute), trip.StartTime)
	assert.Equal(t, now.Add(-45*time.Minute), *trip.EndTime)
	// 时长从库内起点算，不是截断后的起点
	assert.Equal(t, int64(25*60), trip.DurationSec)

	open, err := f.trips.GetOpen(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestIngestPositionCallback(t *testing.T) {
	f := newFixture(testConfig())
	f.devices.devices = []*models.Device{{ID: 1, GPS51ID: "dev-1"}}

	var gotPositions []*models.Position
	f.svc.SetPositionCallback(func(pos *models.Position) {
		gotPositions = append(gotPositions, pos)
	})

	t0 := time.Now().UTC().Add(-10 * time.Minute)
	f.vendor.records = []gps51.Record{
		rec("dev-1", t0, 6.4281, 3.4216, 30, 262151),
		rec("dev-1", t0.Add(time.Minute), 6.4300, 3.4230, 35, 262151),
	}

	f.svc.IngestOnce(context.Background())

	// 回调只收每设备最新的一个点
	require.Len(t, gotPositions, 1)
	assert.Equal(t, t0.Add(time.Minute).Truncate(time.Millisecond), gotPositions[0].GPSTime.Truncate(time.Millisecond))
}

func TestBackfillChunking(t *testing.T) {
	cfg := testConfig()
	cfg.BackfillChunk = time.Hour
	f := newFixture(cfg)
	f.devices.devices = []*models.Device{{ID: 1, GPS51ID: "dev-1"}}
	f.vendor.trackRecords = map[string][]gps51.Record{}

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(2*time.Hour + 30*time.Minute)

	report, err := f.svc.Backfill(context.Background(), "dev-1", from, to)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 0, report.Failed)

	// 三个块：两个整块加一个尾块
	require.Len(t, f.vendor.trackCalls, 3)
	assert.Equal(t, from, f.vendor.trackCalls[0].from)
	assert.Equal(t, from.Add(time.Hour), f.vendor.trackCalls[0].to)
	assert.Equal(t, from.Add(2*time.Hour), f.vendor.trackCalls[2].from)
	assert.Equal(t, to, f.vendor.trackCalls[2].to)
}

func TestBackfillCrossChunkTrip(t *testing.T) {
	cfg := testConfig()
	cfg.BackfillChunk = time.Hour
	f := newFixture(cfg)
	f.devices.devices = []*models.Device{{ID: 1, GPS51ID: "dev-1"}}

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(2 * time.Hour)

	// 行程从第一块尾部跨到第二块头部
	mk := func(at time.Time, lat, lon, speed float64, status uint32) gps51.Record {
		return rec("dev-1", at, lat, lon, speed, status)
	}
	key := func(a, b time.Time) string {
		return fmt.Sprintf("%s|%s", a.Format(time.RFC3339), b.Format(time.RFC3339))
	}
	f.vendor.trackRecords = map[string][]gps51.Record{
		key(from, from.Add(time.Hour)): {
			mk(from.Add(50*time.Minute), 6.4281, 3.4216, 30, 262151),
			mk(from.Add(55*time.Minute), 6.4400, 3.4300, 40, 262151),
		},
		key(from.Add(time.Hour), to): {
			mk(from.Add(65*time.Minute), 6.4500, 3.4340, 35, 262151),
			mk(from.Add(70*time.Minute), 6.4541, 3.4350, 0, 262150),
		},
	}

	report, err := f.svc.Backfill(context.Background(), "dev-1", from, to)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Positions)

	// 只产出一条行程，起点在第一块内
	require.Len(t, f.trips.trips, 1)
	trip := f.trips.trips[0]
	assert.Equal(t, from.Add(50*time.Minute), trip.StartTime)
	require.NotNil(t, trip.EndTime)
	assert.Equal(t, from.Add(70*time.Minute), *trip.EndTime)
}

func TestBackfillUnknownDevice(t *testing.T) {
	f := newFixture(testConfig())

	_, err := f.svc.Backfill(context.Background(), "nope",
		time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve device")
}

func TestReconcileFillsCoordinates(t *testing.T) {
	f := newFixture(testConfig())

	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)

	lat1, lon1 := 6.4281, 3.4216
	lat2, lon2 := 6.4541, 3.4350
	f.pos.positions = []*models.Position{
		{DeviceID: 1, GPSTime: start.Add(time.Minute), Latitude: &lat1, Longitude: &lon1},
		{DeviceID: 1, GPSTime: end.Add(-time.Minute), Latitude: &lat2, Longitude: &lon2},
	}

	f.trips.trips = []*models.Trip{{
		ID:          1,
		DeviceID:    1,
		StartTime:   start,
		EndTime:     &end,
		DurationSec: 600,
	}}

	report, err := f.svc.Reconcile(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 0, report.Failed)

	trip := f.trips.trips[0]
	assert.Equal(t, lat1, trip.StartLatitude)
	assert.Equal(t, lat2, trip.EndLatitude)
	assert.Greater(t, trip.DistanceKm, 0.0)
	assert.Greater(t, trip.SpeedAvgKmh, 0.0)
}

func TestReconcileNoNearbyPosition(t *testing.T) {
	f := newFixture(testConfig())

	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)
	f.trips.trips = []*models.Trip{{
		ID: 1, DeviceID: 1, StartTime: start, EndTime: &end,
	}}

	report, err := f.svc.Reconcile(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
}

func TestSyncAccState(t *testing.T) {
	f := newFixture(testConfig())
	f.devices.devices = []*models.Device{{ID: 1, GPS51ID: "dev-1"}}

	begin := time.Now().UTC().Add(-2 * time.Hour)
	f.vendor.accRecords = []gps51.AccRecord{
		{DeviceID: "dev-1", AccState: 1, BeginTime: begin.UnixMilli(), EndTime: begin.Add(30 * time.Minute).UnixMilli()},
		{DeviceID: "dev-1", AccState: 0, BeginTime: begin.Add(30 * time.Minute).UnixMilli(), EndTime: begin.Add(time.Hour).UnixMilli()},
	}

	report := f.svc.SyncAccState(context.Background())
	assert.Equal(t, 1, report.Succeeded)

	require.Len(t, f.acc.intervals, 2)
	assert.Equal(t, models.AccStateOn, f.acc.intervals[0].State)
	assert.Equal(t, models.AccStateOff, f.acc.intervals[1].State)
	assert.Equal(t, "gps51", f.acc.intervals[0].Source)

	// 重放不产生重复区间
	f.svc.SyncAccState(context.Background())
	assert.Len(t, f.acc.intervals, 2)
}
