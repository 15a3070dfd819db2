package statistic

const (
	// SubflowGap separates two subflows (µs).
	SubflowGap int64 = 1_000_000
	// ActivityTimeout separates an active period from an idle one (µs).
	ActivityTimeout int64 = 5_000_000
)

// SubflowTracker cuts a flow's timeline into subflows and alternating
// active/idle periods, and keeps the active and idle duration statistics.
type SubflowTracker struct {
	started     bool
	count       uint32
	lastPacket  int64
	activeStart int64
	activeEnd   int64

	active Accumulator
	idle   Accumulator
}

// Update feeds the timestamp (µs) of the next packet of the flow.
func (s *SubflowTracker) Update(ts int64) {
	if !s.started {
		s.started = true
		s.lastPacket = ts
		s.activeStart = ts
		s.activeEnd = ts
	}

	if ts-s.lastPacket > SubflowGap {
		s.count++
		s.updateActiveIdle(ts, ActivityTimeout)
	} else {
		s.activeEnd = ts
	}
	s.lastPacket = ts
}

func (s *SubflowTracker) updateActiveIdle(ts, threshold int64) {
	if ts-s.activeEnd > threshold {
		if span := s.activeEnd - s.activeStart; span > 0 {
			s.active.Update(float64(span))
		}
		s.idle.Update(float64(ts - s.activeEnd))
		s.activeStart = ts
		s.activeEnd = ts
		return
	}
	s.activeEnd = ts
}

// Count is the number of subflow boundaries seen so far.
func (s *SubflowTracker) Count() uint32 { return s.count }

// Active returns the active-duration statistics (µs).
func (s *SubflowTracker) Active() *Accumulator { return &s.active }

// Idle returns the idle-duration statistics (µs).
func (s *SubflowTracker) Idle() *Accumulator { return &s.idle }
