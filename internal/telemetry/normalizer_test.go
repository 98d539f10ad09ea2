package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mymoto/fleetsync/internal/api/gps51"
	"github.com/mymoto/fleetsync/internal/models"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(testWeights(), zap.NewNop(), nil)
}

func f64(v float64) *float64 { return &v }

func TestNormalizeBasicRecord(t *testing.T) {
	n := newTestNormalizer()

	updateTime := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	raw := &gps51.Record{
		DeviceID:      "868120321456789",
		CalLat:        f64(6.4281),
		CalLon:        f64(3.4216),
		Speed:         42.5,
		Course:        185,
		Status:        json.Number("262151"),
		TotalDistance: f64(1523400), // 米
		UpdateTime:    updateTime.UnixMilli(),
	}

	pos := n.Normalize(7, raw)
	require.NotNil(t, pos)

	assert.Equal(t, int64(7), pos.DeviceID)
	assert.Equal(t, updateTime, pos.GPSTime)
	require.NotNil(t, pos.Latitude)
	assert.Equal(t, 6.4281, *pos.Latitude)
	assert.Equal(t, 42.5, pos.SpeedKmh)
	assert.Equal(t, uint32(262151), pos.RawStatus)
	require.NotNil(t, pos.OdometerKm)
	assert.InDelta(t, 1523.4, *pos.OdometerKm, 1e-9)

	assert.True(t, pos.IgnitionOn)
	assert.Equal(t, models.DetectionMultiSignal, pos.IgnitionMethod)
}

func TestNormalizeSpeedUnitCorrection(t *testing.T) {
	n := newTestNormalizer()

	// m/h 量级的速度换算成 km/h
	pos := n.Normalize(1, &gps51.Record{Speed: 42500})
	assert.InDelta(t, 42.5, pos.SpeedKmh, 1e-9)

	// 换算一次后仍然离谱的置零，不做二次换算
	pos = n.Normalize(1, &gps51.Record{Speed: 500000})
	assert.Equal(t, 0.0, pos.SpeedKmh)

	// 负速度置零
	pos = n.Normalize(1, &gps51.Record{Speed: -5})
	assert.Equal(t, 0.0, pos.SpeedKmh)

	// 正常量级原样保留
	pos = n.Normalize(1, &gps51.Record{Speed: 120})
	assert.Equal(t, 120.0, pos.SpeedKmh)
}

func TestNormalizeInvalidCoordinates(t *testing.T) {
	n := newTestNormalizer()

	// (0,0) 未定位哨兵值置空
	pos := n.Normalize(1, &gps51.Record{CalLat: f64(0), CalLon: f64(0)})
	assert.Nil(t, pos.Latitude)
	assert.Nil(t, pos.Longitude)
	assert.False(t, pos.HasCoordinates())

	// 越界坐标置空
	pos = n.Normalize(1, &gps51.Record{CalLat: f64(95), CalLon: f64(3.4)})
	assert.Nil(t, pos.Latitude)

	// 只有一个坐标也按缺失处理
	pos = n.Normalize(1, &gps51.Record{CalLat: f64(6.4)})
	assert.Nil(t, pos.Latitude)
}

func TestNormalizeMissingTimestamp(t *testing.T) {
	n := newTestNormalizer()

	pos := n.Normalize(1, &gps51.Record{})
	assert.False(t, pos.GPSTime.IsZero())
	assert.Equal(t, pos.RecordedAt, pos.GPSTime)
}

func TestNormalizeNeverFails(t *testing.T) {
	n := newTestNormalizer()

	// 空报文、坏状态字、各种缺失字段都必须产出记录
	records := []*gps51.Record{
		{},
		{Status: json.Number("not-a-number")},
		{Status: json.Number("-1")},
		{StrStatus: "???", Speed: -100},
		{CalLat: f64(200), CalLon: f64(-200), UpdateTime: -1},
	}

	for i, raw := range records {
		pos := n.Normalize(1, raw)
		require.NotNil(t, pos, "record %d", i)
		assert.False(t, pos.IgnitionOn, "record %d", i)
	}

	// 速度在模糊区间且无其他信号时判定为 unknown
	pos := n.Normalize(1, &gps51.Record{Speed: 2})
	assert.Equal(t, models.DetectionUnknown, pos.IgnitionMethod)
	assert.Equal(t, 0.0, pos.IgnitionConfidence)
}
