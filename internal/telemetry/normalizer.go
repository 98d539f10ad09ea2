package telemetry

import (
	"time"

	"go.uber.org/zap"

	"github.com/mymoto/fleetsync/internal/api/gps51"
	"github.com/mymoto/fleetsync/internal/config"
	"github.com/mymoto/fleetsync/internal/models"
	"github.com/mymoto/fleetsync/pkg/geo"
)

// 速度明显超出 km/h 量级时按 m/h 处理，只换算一次
const speedSanityKmh = 300.0

// Normalizer 把原始设备报文归一化为位置记录。
// 单条报文的任何字段异常都只做降级，不中断处理。
type Normalizer struct {
	weights config.IgnitionWeights
	logger  *zap.Logger
	metrics *Metrics
}

// NewNormalizer 创建归一化器
func NewNormalizer(weights config.IgnitionWeights, logger *zap.Logger, metrics *Metrics) *Normalizer {
	return &Normalizer{
		weights: weights,
		logger:  logger,
		metrics: metrics,
	}
}

// Normalize 处理一条原始报文，永远返回非 nil 的位置记录
func (n *Normalizer) Normalize(deviceID int64, raw *gps51.Record) *models.Position {
	pos := &models.Position{
		DeviceID:   deviceID,
		Heading:    raw.Course,
		RawStatus:  raw.StatusValue(),
		RecordedAt: time.Now().UTC(),
	}

	// 时间戳：缺失时退回入库时间，保持记录可排序
	if t := raw.GPSTime(); !t.IsZero() {
		pos.GPSTime = t
	} else {
		pos.GPSTime = pos.RecordedAt
	}

	// 坐标：非法值置空，不伪造
	if raw.CalLat != nil && raw.CalLon != nil && geo.ValidCoordinate(*raw.CalLat, *raw.CalLon) {
		pos.Latitude = raw.CalLat
		pos.Longitude = raw.CalLon
	} else if raw.CalLat != nil || raw.CalLon != nil {
		n.logger.Debug("Dropping invalid coordinates",
			zap.String("gps51_id", raw.DeviceID),
			zap.Any("lat", raw.CalLat),
			zap.Any("lon", raw.CalLon))
	}

	pos.SpeedKmh = normalizeSpeed(raw.Speed)
	pos.BatteryPct = raw.VoltagePercent
	pos.OdometerKm = raw.OdometerKm()

	d := DetectIgnition(n.weights, pos.RawStatus, raw.StatusText(), pos.SpeedKmh)
	pos.IgnitionOn = d.On
	pos.IgnitionConfidence = d.Confidence
	pos.IgnitionMethod = d.Method

	if d.Ambiguous {
		// 有信号但没凑够阈值，只记监控，不算错误
		n.logger.Debug("Ambiguous ignition signal",
			zap.String("gps51_id", raw.DeviceID),
			zap.Uint32("status", pos.RawStatus),
			zap.Float64("confidence", d.Confidence))
	}

	if n.metrics != nil {
		n.metrics.ObserveDetection(d)
	}

	return pos
}

// normalizeSpeed 纠正量级错乱的速度值。
// 只换算一次：换算后仍然离谱的按 0 处理并保持可观测。
func normalizeSpeed(speed float64) float64 {
	if speed < 0 {
		return 0
	}
	if speed <= speedSanityKmh {
		return speed
	}
	corrected := speed / 1000.0
	if corrected > speedSanityKmh {
		return 0
	}
	return corrected
}
