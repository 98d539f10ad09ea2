package trip

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mymoto/fleetsync/internal/models"
	"github.com/mymoto/fleetsync/pkg/geo"
)

// 速度低于该值视为静止
const stoppedSpeedKmh = 0.5

// Options 切分参数
type Options struct {
	IdleTimeout       time.Duration
	MinTripDistanceKm float64
	MovementSpeedKmh  float64
	MaxPointGap       time.Duration
}

// Result 一次切分的产出。Open 是窗口末尾仍在进行的行程，可能为 nil。
type Result struct {
	Closed []*models.Trip
	Open   *models.Trip
}

// Segmenter 行程切分引擎。
// 输入按时间排序的单设备位置序列，输出互不重叠的行程。
// 纯函数式：同样的输入永远产出同样的行程，增量和回填共用同一条路径。
type Segmenter struct {
	opts   Options
	logger *zap.Logger
}

// NewSegmenter 创建切分引擎
func NewSegmenter(opts Options, logger *zap.Logger) *Segmenter {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 180 * time.Second
	}
	if opts.MovementSpeedKmh <= 0 {
		opts.MovementSpeedKmh = 1.0
	}
	if opts.MaxPointGap <= 0 {
		opts.MaxPointGap = 30 * time.Minute
	}
	return &Segmenter{opts: opts, logger: logger}
}

// builder 累积中的行程
type builder struct {
	startTime time.Time
	startLat  float64
	startLon  float64

	endLat float64
	endLon float64

	distanceKm  float64
	speedMaxKmh float64

	startOdo *float64
	lastOdo  *float64

	// 上一个有坐标的点，用于累加大圆距离
	lastLat *float64
	lastLon *float64

	ignitionBacked bool
}

// Segment 对一个设备的位置序列执行切分。
// 序列内存在权威点火信号时用信号驱动，否则退回速度启发。
func (s *Segmenter) Segment(deviceID int64, positions []*models.Position) Result {
	if len(positions) == 0 {
		return Result{}
	}

	// 防御性排序：乱序输入会破坏行程边界
	sorted := make([]*models.Position, len(positions))
	copy(sorted, positions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].GPSTime.Before(sorted[j].GPSTime)
	})

	hasIgnition := hasIgnitionSignal(sorted)

	m := newMachine()
	var (
		trips []*models.Trip
		b     *builder

		prevTime     time.Time
		prevIgnition bool
		havePrev     bool

		stoppedSince      *time.Time
		requireTransition bool // 卡死的常开信号在超时关闭后，必须先落一次或重新动起来
	)

	closeTrip := func(endTime time.Time) {
		if b == nil {
			// 不该发生：状态机在行程外收到了关闭事件
			s.logger.Warn("Close requested without an open trip",
				zap.Int64("device_id", deviceID),
				zap.Time("at", endTime))
			return
		}
		if !endTime.After(b.startTime) {
			// 重复时间戳造成的零长行程，丢弃
			s.logger.Warn("Dropping zero-duration trip",
				zap.Int64("device_id", deviceID),
				zap.Time("start", b.startTime))
			b = nil
			stoppedSince = nil
			return
		}
		t := b.finish(deviceID, endTime)
		// 抖动过滤只作用于速度兜底开启的行程，点火确认过的短途是真实行程
		if !t.IgnitionBacked && t.DistanceKm < s.opts.MinTripDistanceKm {
			s.logger.Debug("Discarding jitter trip",
				zap.Int64("device_id", deviceID),
				zap.Float64("distance_km", t.DistanceKm))
		} else {
			trips = append(trips, t)
		}
		b = nil
		stoppedSince = nil
	}

	openTrip := func(p *models.Position, ignitionBacked bool) {
		b = newBuilder(p, ignitionBacked)
		stoppedSince = nil
		if p.SpeedKmh <= stoppedSpeedKmh {
			t := p.GPSTime
			stoppedSince = &t
		}
	}

	for _, p := range sorted {
		// unknown 不携带任何信号，不参与状态转换
		usable := p.IgnitionMethod != models.DetectionUnknown

		// 数据断流：在上一个已知点收口，不跨断层接续
		if havePrev && m.inTrip() && p.GPSTime.Sub(prevTime) > s.opts.MaxPointGap {
			if err := m.trigger(EventGapTimeout); err == nil {
				closeTrip(prevTime)
			}
			requireTransition = false
		}

		if m.inTrip() {
			b.extend(p)

			if hasIgnition && usable && havePrev && prevIgnition && !p.IgnitionOn {
				// 点火落下，立即收口
				if err := m.trigger(EventIgnitionOff); err == nil {
					closeTrip(p.GPSTime)
				}
			} else if p.SpeedKmh <= stoppedSpeedKmh {
				// 防御性兜底：速度持续归零超时就关闭，点火常开也拦不住
				if stoppedSince == nil {
					t := p.GPSTime
					stoppedSince = &t
				} else if p.GPSTime.Sub(*stoppedSince) >= s.opts.IdleTimeout {
					if err := m.trigger(EventIdleTimeout); err == nil {
						closeTrip(stoppedSince.Add(s.opts.IdleTimeout))
					}
					// 点火信号可能仍然常开，要求重新转换或重新移动才能再开行程
					if hasIgnition && usable && p.IgnitionOn {
						requireTransition = true
					}
				}
			} else {
				stoppedSince = nil
			}
		} else {
			// IDLE 状态，评估是否开启
			switch {
			case hasIgnition && usable && p.IgnitionOn:
				transition := !havePrev || !prevIgnition
				if requireTransition && !transition && p.SpeedKmh <= s.opts.MovementSpeedKmh {
					// 常开信号未复位，按兵不动
					break
				}
				if err := m.trigger(EventIgnitionOn); err == nil {
					// 速度推断出的开启不算点火确认，抖动过滤仍然生效
					openTrip(p, hasAuthoritativeSignal(p))
					requireTransition = false
				}
			case !hasIgnition && p.SpeedKmh > s.opts.MovementSpeedKmh:
				if err := m.trigger(EventMovementStart); err == nil {
					openTrip(p, false)
				}
			}
		}

		if usable {
			prevIgnition = p.IgnitionOn
			if !p.IgnitionOn {
				requireTransition = false
			}
		}
		prevTime = p.GPSTime
		havePrev = true
	}

	var open *models.Trip
	if b != nil {
		open = b.finish(deviceID, time.Time{})
		open.EndTime = nil
	}

	return Result{Closed: trips, Open: open}
}

// hasIgnitionSignal 判断序列里是否存在权威点火信号
func hasIgnitionSignal(positions []*models.Position) bool {
	for _, p := range positions {
		if hasAuthoritativeSignal(p) {
			return true
		}
	}
	return false
}

// hasAuthoritativeSignal 速度推断和 unknown 都不算点火信号
func hasAuthoritativeSignal(p *models.Position) bool {
	return p.IgnitionMethod.Authority() >= models.DetectionStringParse.Authority()
}

func newBuilder(p *models.Position, ignitionBacked bool) *builder {
	b := &builder{
		startTime:      p.GPSTime,
		ignitionBacked: ignitionBacked,
		speedMaxKmh:    p.SpeedKmh,
		startOdo:       p.OdometerKm,
		lastOdo:        p.OdometerKm,
	}
	if p.HasCoordinates() {
		b.startLat = *p.Latitude
		b.startLon = *p.Longitude
		b.endLat = *p.Latitude
		b.endLon = *p.Longitude
		b.lastLat = p.Latitude
		b.lastLon = p.Longitude
	}
	return b
}

// extend 吸收一个行程内的位置点
func (b *builder) extend(p *models.Position) {
	if p.SpeedKmh > b.speedMaxKmh {
		b.speedMaxKmh = p.SpeedKmh
	}

	if p.HasCoordinates() {
		if b.lastLat != nil && b.lastLon != nil {
			b.distanceKm += geo.HaversineKm(*b.lastLat, *b.lastLon, *p.Latitude, *p.Longitude)
		}
		if b.startLat == 0 && b.startLon == 0 {
			// 开启时坐标缺失，用第一个有效点补上
			b.startLat = *p.Latitude
			b.startLon = *p.Longitude
		}
		b.endLat = *p.Latitude
		b.endLon = *p.Longitude
		b.lastLat = p.Latitude
		b.lastLon = p.Longitude
	}

	// 里程表只在严格递增时采信
	if p.OdometerKm != nil {
		if b.lastOdo == nil || *p.OdometerKm >= *b.lastOdo {
			b.lastOdo = p.OdometerKm
		}
	}
}

// finish 产出行程记录。endTime 为零值时表示行程仍开放。
func (b *builder) finish(deviceID int64, endTime time.Time) *models.Trip {
	t := &models.Trip{
		DeviceID:       deviceID,
		StartTime:      b.startTime,
		StartLatitude:  b.startLat,
		StartLongitude: b.startLon,
		EndLatitude:    b.endLat,
		EndLongitude:   b.endLon,
		SpeedMaxKmh:    b.speedMaxKmh,
		DistanceKm:     b.distanceKm,
		IgnitionBacked: b.ignitionBacked,
	}

	// 两端都有严格递增的里程表时，用里程差覆盖大圆累加
	if b.startOdo != nil && b.lastOdo != nil && *b.lastOdo > *b.startOdo {
		t.DistanceKm = *b.lastOdo - *b.startOdo
	}

	if !endTime.IsZero() {
		et := endTime
		t.EndTime = &et
		t.DurationSec = int64(endTime.Sub(b.startTime).Seconds())
		if t.DurationSec > 0 {
			t.SpeedAvgKmh = t.DistanceKm / (float64(t.DurationSec) / 3600.0)
		}
	}

	return t
}
