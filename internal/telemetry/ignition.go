package telemetry

import (
	"strings"

	"github.com/mymoto/fleetsync/internal/config"
	"github.com/mymoto/fleetsync/internal/models"
)

// Detection 一次点火判定的结果
type Detection struct {
	On         bool
	Confidence float64
	Method     models.DetectionMethod
	// Ambiguous 表示状态位有非零信号但没凑够阈值，只用于质量监控
	Ambiguous bool
}

// detector 单个点火检测策略。
// matched=false 表示该策略没有可用输入，交给下一级。
type detector interface {
	detect(status uint32, statusText string, speedKmh float64) (matched bool, d Detection)
}

// DetectIgnition 按优先级执行检测策略链：
// 状态位 > 状态文本 > 速度推断 > unknown。
// 某一级置信度达到阈值即短路返回；都没达到阈值时沿用权威性最高的
// 匹配结果；全部失配时返回零置信度的 unknown。
// 信号缺失或互相矛盾都是合法输入，任何情况下不报错。
func DetectIgnition(w config.IgnitionWeights, status uint32, statusText string, speedKmh float64) Detection {
	detectors := []detector{
		statusBitDetector{w: w},
		stringDetector{confidence: w.StringMatch},
		speedDetector{w: w},
	}

	var fallback *Detection
	ambiguous := false

	for i, det := range detectors {
		matched, d := det.detect(status, statusText, speedKmh)
		if !matched {
			continue
		}
		// 状态位有信号但不够阈值，记一笔监控指标，继续往下降级
		if i == 0 && d.Confidence > 0 && d.Confidence < w.Threshold {
			ambiguous = true
		}
		if d.Confidence >= w.Threshold {
			d.Ambiguous = ambiguous
			return d
		}
		if fallback == nil {
			copied := d
			fallback = &copied
		}
	}

	if fallback != nil {
		fallback.Ambiguous = ambiguous
		return *fallback
	}

	return Detection{On: false, Confidence: 0, Method: models.DetectionUnknown, Ambiguous: ambiguous}
}

// statusBitDetector 解析 32 位状态字。
// 低 16 位是 JT808 标准状态，高 16 位是平台扩展，各取 bit0 作为 ACC。
// 状态值超过 65535 是正常的扩展编码，不是坏数据。
type statusBitDetector struct {
	w config.IgnitionWeights
}

func (s statusBitDetector) detect(status uint32, _ string, speedKmh float64) (bool, Detection) {
	if status == 0 {
		return false, Detection{}
	}

	base := status & 0xFFFF
	extended := status >> 16
	baseAcc := base&0x01 == 1
	extendedAcc := extended&0x01 == 1

	confidence := 0.0
	signals := 0
	if baseAcc {
		confidence += s.w.BaseBit
		signals++
	}
	if extendedAcc {
		confidence += s.w.ExtendedBit
		signals++
	}
	if speedKmh > s.w.SpeedLowKmh {
		confidence += s.w.SpeedSupport
		signals++
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	method := models.DetectionStatusBit
	if signals > 1 {
		method = models.DetectionMultiSignal
	}

	return true, Detection{
		On:         confidence >= s.w.Threshold,
		Confidence: confidence,
		Method:     method,
	}
}

// stringDetector 匹配状态文本里的 ACC 开关描述
type stringDetector struct {
	confidence float64
}

var (
	accOnPatterns  = []string{"acc on", "acc:on", "acc_on", "acc=on"}
	accOffPatterns = []string{"acc off", "acc:off", "acc_off", "acc=off"}
)

func (s stringDetector) detect(_ uint32, statusText string, _ float64) (bool, Detection) {
	text := strings.ToLower(statusText)
	if text == "" {
		return false, Detection{}
	}

	// OFF 优先，文本同时出现两种描述时按 OFF 处理
	for _, p := range accOffPatterns {
		if strings.Contains(text, p) {
			return true, Detection{On: false, Confidence: s.confidence, Method: models.DetectionStringParse}
		}
	}
	for _, p := range accOnPatterns {
		if strings.Contains(text, p) {
			return true, Detection{On: true, Confidence: s.confidence, Method: models.DetectionStringParse}
		}
	}

	return false, Detection{}
}

// speedDetector 速度兜底推断，权威性最低
type speedDetector struct {
	w config.IgnitionWeights
}

func (s speedDetector) detect(_ uint32, _ string, speedKmh float64) (bool, Detection) {
	switch {
	case speedKmh > s.w.SpeedHighKmh:
		return true, Detection{On: true, Confidence: s.w.SpeedHigh, Method: models.DetectionSpeedInference}
	case speedKmh > s.w.SpeedLowKmh:
		return true, Detection{On: true, Confidence: s.w.SpeedLow, Method: models.DetectionSpeedInference}
	case speedKmh <= 0.5:
		// 静止且没有任何相反信号，按熄火处理
		return true, Detection{On: false, Confidence: s.w.SpeedStopped, Method: models.DetectionSpeedInference}
	default:
		return false, Detection{}
	}
}
