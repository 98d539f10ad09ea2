package gps51

import (
	"encoding/json"
	"strings"
	"time"
)

// 上游时间格式 (平台固定东八区)
const timeLayout = "2006-01-02 15:04:05"

// loginRequest 登录请求体
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"` // md5 hex
	From     string `json:"from"`
	Type     string `json:"type"`
}

// loginResponse 登录响应
type loginResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

// envelope 通用响应外壳，status != 0 表示业务错误
type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Records json.RawMessage `json:"records"`
	// lastposition 查询游标，原样回传给下一次请求
	LastQueryPositionTime int64 `json:"lastquerypositiontime"`
}

// Device 上游设备信息 (querymonitorlist)
type Device struct {
	DeviceID   string `json:"deviceid"`
	DeviceName string `json:"devicename"`
	DeviceType string `json:"devicetype"`
	SIMNum     string `json:"simnum"`
}

type monitorGroup struct {
	GroupName string   `json:"groupname"`
	Devices   []Device `json:"devices"`
}

// Record 一条原始遥测记录。上游字段类型不稳定，能缺省的都按可缺省建模。
type Record struct {
	DeviceID       string      `json:"deviceid"`
	CalLat         *float64    `json:"callat"` // 纬度，可能缺失
	CalLon         *float64    `json:"callon"` // 经度，可能缺失
	Speed          float64     `json:"speed"`  // 单位不稳定，km/h 或 m/h
	Course         int         `json:"course"` // 航向角
	Altitude       float64     `json:"altitude"`
	Status         json.Number `json:"status"`        // 32 位状态字，偶见字符串编码
	StrStatus      string      `json:"strstatus"`     // 可读状态文本，可能含 "ACC ON"
	StrStatusEn    string      `json:"strstatusen"`   // 英文状态文本
	TotalDistance  *float64    `json:"totaldistance"` // 累计里程 (米)
	VoltagePercent *int        `json:"voltagepercent"`
	UpdateTime     int64       `json:"updatetime"` // 毫秒时间戳
}

// StatusValue 把 status 解析为无符号 32 位整数，解析失败返回 0。
// 上游扩展状态会超过 16 位，这里不做任何截断。
func (r *Record) StatusValue() uint32 {
	if r.Status == "" {
		return 0
	}
	n, err := r.Status.Int64()
	if err != nil || n < 0 {
		return 0
	}
	return uint32(n)
}

// StatusText 返回可用的状态文本，优先英文
func (r *Record) StatusText() string {
	if s := strings.TrimSpace(r.StrStatusEn); s != "" {
		return s
	}
	return strings.TrimSpace(r.StrStatus)
}

// GPSTime 报文时间
func (r *Record) GPSTime() time.Time {
	if r.UpdateTime <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.UpdateTime).UTC()
}

// OdometerKm 累计里程换算为 km，缺失返回 nil
func (r *Record) OdometerKm() *float64 {
	if r.TotalDistance == nil || *r.TotalDistance <= 0 {
		return nil
	}
	km := *r.TotalDistance / 1000.0
	return &km
}

// AccRecord 上游权威 ACC 区间 (queryaccstate)
type AccRecord struct {
	DeviceID  string   `json:"deviceid"`
	AccState  int      `json:"accstate"` // 1 = ON, 0 = OFF
	BeginTime int64    `json:"begintime"` // 毫秒时间戳
	EndTime   int64    `json:"endtime"`
	BeginLat  *float64 `json:"beginlat"`
	BeginLon  *float64 `json:"beginlon"`
	EndLat    *float64 `json:"endlat"`
	EndLon    *float64 `json:"endlon"`
}

// lastPositionRequest lastposition 请求体
type lastPositionRequest struct {
	DeviceIDs             []string `json:"deviceids"`
	LastQueryPositionTime int64    `json:"lastquerypositiontime"`
}

// trackRequest querytracks / queryaccstate 请求体
type trackRequest struct {
	DeviceID  string `json:"deviceid"`
	BeginTime string `json:"begintime"`
	EndTime   string `json:"endtime"`
	Timezone  int    `json:"timezone"`
}

type monitorListRequest struct {
	Username string `json:"username"`
}
