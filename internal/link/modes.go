package link

import "strings"

// ArduCopter custom modes (HEARTBEAT.custom_mode).
const (
	ModeStabilize uint32 = 0
	ModeAcro      uint32 = 1
	ModeAltHold   uint32 = 2
	ModeAuto      uint32 = 3
	ModeGuided    uint32 = 4
	ModeLoiter    uint32 = 5
	ModeRTL       uint32 = 6
	ModeCircle    uint32 = 7
	ModeLand      uint32 = 9
	ModeDrift     uint32 = 11
	ModeSport     uint32 = 13
	ModePosHold   uint32 = 16
	ModeBrake     uint32 = 17
	ModeSmartRTL  uint32 = 21
)

var copterModes = map[uint32]string{
	ModeStabilize: "STABILIZE",
	ModeAcro:      "ACRO",
	ModeAltHold:   "ALT_HOLD",
	ModeAuto:      "AUTO",
	ModeGuided:    "GUIDED",
	ModeLoiter:    "LOITER",
	ModeRTL:       "RTL",
	ModeCircle:    "CIRCLE",
	ModeLand:      "LAND",
	ModeDrift:     "DRIFT",
	ModeSport:     "SPORT",
	ModePosHold:   "POSHOLD",
	ModeBrake:     "BRAKE",
	ModeSmartRTL:  "SMART_RTL",
}

// ModeName returns the ArduCopter name for a custom mode, or "UNKNOWN".
func ModeName(mode uint32) string {
	if name, ok := copterModes[mode]; ok {
		return name
	}
	return "UNKNOWN"
}

// ModeID looks a mode up by name, case-insensitively.
func ModeID(name string) (uint32, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for id, n := range copterModes {
		if n == name {
			return id, true
		}
	}
	return 0, false
}
