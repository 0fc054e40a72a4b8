package telemetry

import "time"

// Summary is the boundary shape of a snapshot returned by the REST surface
// and carried in hub events.
type Summary struct {
	Position SummaryPosition `json:"position"`
	GPS      SummaryGPS      `json:"gps"`
	Armed    bool            `json:"armed"`
	Mode     string          `json:"mode"`
	Heading  float64         `json:"heading"`
	Sequence uint64          `json:"sequence"`
	Updated  time.Time       `json:"updated"`

	// StatusValid is false until a heartbeat has set Armed and Mode.
	StatusValid bool `json:"statusValid"`
}

// SummaryPosition is the NED position, metres.
type SummaryPosition struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Valid bool    `json:"valid"`
}

// SummaryGPS is the global position; Alt is relative to home.
type SummaryGPS struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Alt   float64 `json:"alt"`
	AMSL  float64 `json:"amsl"`
	Fix   uint8   `json:"fix"`
	Sats  uint8   `json:"satellites"`
	Valid bool    `json:"valid"`
}

// Summary projects the snapshot onto its boundary shape.
func (s Snapshot) Summary() Summary {
	return Summary{
		Position: SummaryPosition{
			X:     s.Position.X,
			Y:     s.Position.Y,
			Z:     s.Position.Z,
			Valid: s.Position.Valid,
		},
		GPS: SummaryGPS{
			Lat:   s.GPS.Lat,
			Lon:   s.GPS.Lon,
			Alt:   s.GPS.RelativeAlt,
			AMSL:  s.GPS.Alt,
			Fix:   s.GPS.FixType,
			Sats:  s.GPS.Satellites,
			Valid: s.GPS.Valid,
		},
		Armed:    s.Status.Armed,
		Mode:     s.Status.Mode,
		Heading:  s.Heading.Degrees,
		Sequence: s.Sequence,
		Updated:  s.UpdatedAt,

		StatusValid: s.Status.Valid,
	}
}
