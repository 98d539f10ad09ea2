package models

import "time"

// DetectionMethod 点火信号的判定来源
type DetectionMethod string

const (
	DetectionStatusBit      DetectionMethod = "status_bit"      // 硬件状态位
	DetectionStringParse    DetectionMethod = "string_parse"    // 状态文本解析
	DetectionSpeedInference DetectionMethod = "speed_inference" // 速度推断
	DetectionMultiSignal    DetectionMethod = "multi_signal"    // 多信号叠加
	DetectionUnknown        DetectionMethod = "unknown"         // 无可用信号
)

// Authority 检测方法的权威等级，越大越可信。
// 置信度不能跨方法直接比较，排序时先比方法再比分值。
func (m DetectionMethod) Authority() int {
	switch m {
	case DetectionStatusBit, DetectionMultiSignal:
		return 3
	case DetectionStringParse:
		return 2
	case DetectionSpeedInference:
		return 1
	default:
		return 0
	}
}

// Device 设备信息
type Device struct {
	ID        int64     `json:"id" db:"id"`
	GPS51ID   string    `json:"gps51_id" db:"gps51_id"` // 上游平台的设备号
	Name      string    `json:"name" db:"name"`
	SIMNumber string    `json:"sim_number" db:"sim_number"`
	Model     string    `json:"model" db:"model"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Position 归一化后的位置记录（append-only 历史）
type Position struct {
	ID       int64 `json:"id" db:"id"`
	DeviceID int64 `json:"device_id" db:"device_id"`

	// 坐标缺失时为 nil，不写入伪造的 0 值
	Latitude   *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude  *float64 `json:"longitude,omitempty" db:"longitude"`
	SpeedKmh   float64  `json:"speed_kmh" db:"speed_kmh"`
	Heading    int      `json:"heading" db:"heading"`
	BatteryPct *int     `json:"battery_pct,omitempty" db:"battery_pct"`
	OdometerKm *float64 `json:"odometer_km,omitempty" db:"odometer_km"` // 设备总里程，非必传

	// 点火信号：置信度和判定方法永远成对出现
	IgnitionOn         bool            `json:"ignition_on" db:"ignition_on"`
	IgnitionConfidence float64         `json:"ignition_confidence" db:"ignition_confidence"`
	IgnitionMethod     DetectionMethod `json:"ignition_method" db:"ignition_method"`

	RawStatus  uint32    `json:"raw_status" db:"raw_status"`
	GPSTime    time.Time `json:"gps_time" db:"gps_time"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"` // 入库时间
}

// HasCoordinates 判断坐标是否可用
func (p *Position) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil && (*p.Latitude != 0 || *p.Longitude != 0)
}

// Trip 行程记录
type Trip struct {
	ID        int64      `json:"id" db:"id"`
	DeviceID  int64      `json:"device_id" db:"device_id"`
	StartTime time.Time  `json:"start_time" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"` // 进行中为 nil

	StartLatitude  float64 `json:"start_latitude" db:"start_latitude"`
	StartLongitude float64 `json:"start_longitude" db:"start_longitude"`
	EndLatitude    float64 `json:"end_latitude" db:"end_latitude"`
	EndLongitude   float64 `json:"end_longitude" db:"end_longitude"`

	DistanceKm  float64 `json:"distance_km" db:"distance_km"`
	DurationSec int64   `json:"duration_sec" db:"duration_sec"`
	SpeedMaxKmh float64 `json:"speed_max_kmh" db:"speed_max_kmh"`
	SpeedAvgKmh float64 `json:"speed_avg_kmh" db:"speed_avg_kmh"`
	// 行程是由点火信号还是速度兜底触发的
	IgnitionBacked bool `json:"ignition_backed" db:"ignition_backed"`
}

// AccStateInterval 上游平台下发的权威 ACC 区间（append-only）
type AccStateInterval struct {
	ID        int64     `json:"id" db:"id"`
	DeviceID  int64     `json:"device_id" db:"device_id"`
	State     string    `json:"state" db:"state"` // ON / OFF
	BeginTime time.Time `json:"begin_time" db:"begin_time"`
	EndTime   time.Time `json:"end_time" db:"end_time"`

	BeginLatitude  *float64 `json:"begin_latitude,omitempty" db:"begin_latitude"`
	BeginLongitude *float64 `json:"begin_longitude,omitempty" db:"begin_longitude"`
	EndLatitude    *float64 `json:"end_latitude,omitempty" db:"end_latitude"`
	EndLongitude   *float64 `json:"end_longitude,omitempty" db:"end_longitude"`

	Source    string    `json:"source" db:"source"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

const (
	AccStateOn  = "ON"
	AccStateOff = "OFF"
)

// IngestReport 单次采集/切分的汇总结果
type IngestReport struct {
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Devices        int           `json:"devices"`
	Succeeded      int           `json:"succeeded"`
	Skipped        int           `json:"skipped"`
	Failed         int           `json:"failed"`
	Positions      int           `json:"positions"`
	TripsCreated   int           `json:"trips_created"`
	TripsClosed    int           `json:"trips_closed"`
	TripsDuplicate int           `json:"trips_duplicate"`
	Errors         []string      `json:"errors,omitempty"`
}
