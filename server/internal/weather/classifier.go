// Package weather 从 METAR 解读中提取天气风险信号，并给出每个阶段的优先题目。
package weather

import (
	"strings"

	"skytrail/server/internal/model"
)

// Signal 天气风险信号。
type Signal string

const (
	Thunderstorm Signal = "thunderstorm"
	LowCeiling   Signal = "low_ceiling"
	LowVis       Signal = "low_vis"
	Gusty        Signal = "gusty"
	GoodVFR      Signal = "good_vfr"
)

const (
	lowCeilingFt = 4000
	lowVisSM     = 5.0
	gustyKt      = 15
)

// Classify 顺序固定：thunderstorm, low_ceiling, low_vis, gusty；都不满足时返回 good_vfr。
func Classify(d model.MetarDecoded) []Signal {
	var signals []Signal
	if hasThunderstorm(d) {
		signals = append(signals, Thunderstorm)
	}
	if d.CeilingFt != nil && *d.CeilingFt <= lowCeilingFt {
		signals = append(signals, LowCeiling)
	}
	if d.VisibilitySM <= lowVisSM {
		signals = append(signals, LowVis)
	}
	if d.GustKt >= gustyKt {
		signals = append(signals, Gusty)
	}
	if len(signals) == 0 {
		signals = append(signals, GoodVFR)
	}
	return signals
}

// wx code 形如 "-TSRA"、"VCTS"，TS 描述符即雷暴。
func hasThunderstorm(d model.MetarDecoded) bool {
	if strings.Contains(strings.ToLower(d.Phenomena), "thunderstorm") {
		return true
	}
	return strings.Contains(strings.ToUpper(d.WxCode), "TS")
}

// RiskCount 参与紧急事件概率计算的信号数，good_vfr 不计。
func RiskCount(signals []Signal) int {
	n := 0
	for _, s := range signals {
		if s != GoodVFR {
			n++
		}
	}
	return n
}

// Strings 转成 API 输出用的字符串切片。
func Strings(signals []Signal) []string {
	out := make([]string, len(signals))
	for i, s := range signals {
		out[i] = string(s)
	}
	return out
}

// BiasTable 信号 -> 阶段 -> 优先题目 id（表内顺序即优先级）。
type BiasTable map[string]map[model.Phase][]string

// PreferredIDs 合并所有信号在该阶段的优先 id，按信号顺序再按表内顺序去重输出。
func (t BiasTable) PreferredIDs(phase model.Phase, signals []Signal) []string {
	seen := map[string]bool{}
	var ids []string
	for _, s := range signals {
		for _, id := range t[string(s)][phase] {
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
