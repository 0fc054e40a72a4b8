package telemetry

import (
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
)

// Position is the local NED position and velocity, metres and m/s.
type Position struct {
	X, Y, Z    float64
	VX, VY, VZ float64
	Valid      bool
}

// GPS is the fused global position. Alt is above mean sea level and
// RelativeAlt above home, both in metres.
type GPS struct {
	Lat, Lon    float64
	Alt         float64
	RelativeAlt float64
	FixType     uint8
	Satellites  uint8
	Valid       bool
}

// Attitude in radians.
type Attitude struct {
	Roll, Pitch, Yaw float64
	Valid            bool
}

// Status is the vehicle state carried by HEARTBEAT.
type Status struct {
	Armed        bool
	Mode         string
	CustomMode   uint32
	SystemStatus string
	Valid        bool
}

// Heading in degrees, 0 = north.
type Heading struct {
	Degrees float64
	Valid   bool
}

// Ack is the latest COMMAND_ACK received for one command. Counter increases
// with every ack for that command so a waiter can tell a fresh ack from a
// stale one.
type Ack struct {
	Result  common.MAV_RESULT
	Counter uint64
	At      time.Time
}

// Snapshot is an immutable copy of the store contents.
type Snapshot struct {
	Available bool
	Sequence  uint64
	UpdatedAt time.Time

	Position Position
	GPS      GPS
	Attitude Attitude
	Status   Status
	Heading  Heading
	Acks     map[common.MAV_CMD]Ack
}

// Store holds the latest known vehicle state. The drain loop is the only
// writer; readers always get a consistent copy.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewStore returns an empty store. Read reports !ok until the first update.
func NewStore() *Store {
	return &Store{
		snap: Snapshot{Acks: make(map[common.MAV_CMD]Ack)},
		now:  time.Now,
	}
}

// Read returns a deep copy of the current state and whether any frame has
// been applied yet.
func (s *Store) Read() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.snap
	out.Acks = make(map[common.MAV_CMD]Ack, len(s.snap.Acks))
	for k, v := range s.snap.Acks {
		out.Acks[k] = v
	}
	return out, out.Available
}

// Sequence returns the number of updates applied so far.
func (s *Store) Sequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Sequence
}

// UpdatePosition replaces the local position record.
func (s *Store) UpdatePosition(p Position) uint64 {
	p.Valid = true
	return s.apply(func(snap *Snapshot) { snap.Position = p })
}

// UpdateGPS replaces the global position record. Fix quality is owned by
// UpdateGPSFix and carried over.
func (s *Store) UpdateGPS(g GPS) uint64 {
	g.Valid = true
	return s.apply(func(snap *Snapshot) {
		g.FixType = snap.GPS.FixType
		g.Satellites = snap.GPS.Satellites
		snap.GPS = g
	})
}

// UpdateGPSFix refreshes fix quality without touching the fused position.
func (s *Store) UpdateGPSFix(fixType, satellites uint8) uint64 {
	return s.apply(func(snap *Snapshot) {
		snap.GPS.FixType = fixType
		snap.GPS.Satellites = satellites
	})
}

// UpdateAttitude replaces the attitude record.
func (s *Store) UpdateAttitude(a Attitude) uint64 {
	a.Valid = true
	return s.apply(func(snap *Snapshot) { snap.Attitude = a })
}

// UpdateHeading replaces the heading record.
func (s *Store) UpdateHeading(deg float64) uint64 {
	return s.apply(func(snap *Snapshot) { snap.Heading = Heading{Degrees: deg, Valid: true} })
}

// UpdateStatus replaces the status record and returns the previous one.
func (s *Store) UpdateStatus(st Status) (prev Status, seq uint64) {
	st.Valid = true
	seq = s.apply(func(snap *Snapshot) {
		prev = snap.Status
		snap.Status = st
	})
	return prev, seq
}

// RecordAck stores the result of the latest ack for cmd.
func (s *Store) RecordAck(cmd common.MAV_CMD, result common.MAV_RESULT) uint64 {
	return s.apply(func(snap *Snapshot) {
		prev := snap.Acks[cmd]
		snap.Acks[cmd] = Ack{Result: result, Counter: prev.Counter + 1, At: s.now()}
	})
}

func (s *Store) apply(fn func(*Snapshot)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.snap)
	s.snap.Available = true
	s.snap.Sequence++
	s.snap.UpdatedAt = s.now()
	return s.snap.Sequence
}
