// Package brief 生成每个 hop 的飞行简报：机场、跑道、呼号、巡航高度与一份 METAR。
package brief

import (
	"fmt"
	"strings"

	"skytrail/server/internal/domain"
	"skytrail/server/internal/model"
	"skytrail/server/internal/rng"
)

const callsignLetters = "ABCDEFGHJKLMNPQRSTUVWXYZ"

var cruiseAltitudes = []string{"2,500", "3,500", "4,500", "5,500"}

// Generate 从静态表随机生成简报。所有随机性都来自 r。
func Generate(lib *domain.Library, r rng.Source) model.FlightBrief {
	airport, _ := rng.Pick(r, lib.Airports)
	pair, _ := rng.Pick(r, airport.Runways)
	runway, _ := rng.Pick(r, strings.Split(pair, "/"))
	callsign := Callsign(r)
	tmpl, _ := rng.Pick(r, lib.Metars)
	cruise, _ := rng.Pick(r, cruiseAltitudes)

	return model.FlightBrief{
		Airport:        airport,
		Runway:         runway,
		Callsign:       callsign,
		CruiseAltitude: cruise,
		Metar: model.Metar{
			Raw:      BuildMetar(airport.ICAO, tmpl.Parts, r),
			Decoded:  tmpl.Decoded,
			Question: tmpl.Question,
		},
	}
}

// Callsign 加拿大私用注册号格式 C-GXXX，不含 I 与 O。
func Callsign(r rng.Source) string {
	var b strings.Builder
	b.WriteString("C-G")
	for i := 0; i < 3; i++ {
		b.WriteByte(callsignLetters[rng.Intn(r, len(callsignLetters))])
	}
	return b.String()
}

// BuildMetar 拼出原始报文：METAR ICAO DDHHMMZ 及各片段，空片段跳过。
// 日 01-28，时 06-23Z，分 00 或 30。
func BuildMetar(icao string, p model.MetarParts, r rng.Source) string {
	day := rng.Between(r, 1, 28)
	hour := rng.Between(r, 6, 23)
	minute, _ := rng.Pick(r, []string{"00", "30"})

	fields := []string{
		"METAR " + icao,
		fmt.Sprintf("%02d%02d%sZ", day, hour, minute),
		p.Wind, p.Vis, p.Wx, p.Clouds, p.TempDew, p.Altimeter, p.Remarks,
	}
	out := fields[:0]
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

// Mode VFR/MVFR 直接出发，IFR/LIFR 先做 go/no-go 决策。
func Mode(b model.FlightBrief) string {
	switch strings.ToUpper(b.Metar.Decoded.FlightCategory) {
	case "VFR", "MVFR":
		return model.ModeVFR
	default:
		return model.ModeGoNoGo
	}
}

// SVFRAvailable 只有管制机场可以申请特殊 VFR。
func SVFRAvailable(b model.FlightBrief) bool {
	return b.Airport.HasATC
}
