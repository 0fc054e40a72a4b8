// Package geo holds the local NED frame and the flat-earth conversion between
// geodetic coordinates and local metres.
package geo

import "math"

// NED is a point or offset in the local North-East-Down frame, metres.
type NED struct {
	North float64 `json:"x"`
	East  float64 `json:"y"`
	Down  float64 `json:"z"`
}

// Add returns p + o.
func (p NED) Add(o NED) NED {
	return NED{North: p.North + o.North, East: p.East + o.East, Down: p.Down + o.Down}
}

// Sub returns p - o.
func (p NED) Sub(o NED) NED {
	return NED{North: p.North - o.North, East: p.East - o.East, Down: p.Down - o.Down}
}

// Norm is the Euclidean length of p.
func (p NED) Norm() float64 {
	return math.Sqrt(p.North*p.North + p.East*p.East + p.Down*p.Down)
}

// Distance is the Euclidean distance between two NED points.
func Distance(a, b NED) float64 {
	return a.Sub(b).Norm()
}

// StepToward moves from p toward target by at most maxStep metres.
func StepToward(p, target NED, maxStep float64) NED {
	d := target.Sub(p)
	n := d.Norm()
	if n <= maxStep || n == 0 {
		return target
	}
	k := maxStep / n
	return NED{North: p.North + d.North*k, East: p.East + d.East*k, Down: p.Down + d.Down*k}
}

// Valid reports whether every component is finite.
func (p NED) Valid() bool {
	return finite(p.North) && finite(p.East) && finite(p.Down)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// GeoRef anchors the local frame at a geodetic origin (usually home).
type GeoRef struct {
	OriginLat float64
	OriginLon float64
}

const metersPerDegLat = 111_320.0

func (g GeoRef) metersPerDegLon() float64 {
	return metersPerDegLat * math.Cos(g.OriginLat*math.Pi/180.0)
}

// ToLocal converts lat/lon plus altitude above the origin to NED.
func (g GeoRef) ToLocal(lat, lon, relAlt float64) NED {
	return NED{
		North: (lat - g.OriginLat) * metersPerDegLat,
		East:  (lon - g.OriginLon) * g.metersPerDegLon(),
		Down:  -relAlt,
	}
}

// ToGeo converts a NED point back to lat/lon and altitude above the origin.
func (g GeoRef) ToGeo(p NED) (lat, lon, relAlt float64) {
	lat = g.OriginLat + p.North/metersPerDegLat
	lon = g.OriginLon + p.East/g.metersPerDegLon()
	relAlt = -p.Down
	return
}

// HeadingDeg returns the compass heading of a horizontal offset: 0=north,
// 90=east.
func HeadingDeg(v NED) float64 {
	if math.Abs(v.North) < 1e-9 && math.Abs(v.East) < 1e-9 {
		return 0
	}
	deg := math.Atan2(v.East, v.North) * 180.0 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg
}

// ValidLatLon reports whether lat and lon are finite and in range.
func ValidLatLon(lat, lon float64) bool {
	return finite(lat) && finite(lon) && lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
