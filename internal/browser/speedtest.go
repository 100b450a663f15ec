package browser

import (
	"sync"
	"time"
)

// SpeedTest accounts bytes transferred during a SPEED_TEST exchange,
// adapted from the teacher's root-level accounting.go Stats/Account
// reader-wrapper pattern (global transfer-stats singleton there,
// per-session counter here — one speed test per session at a time rather
// than one process-wide total).
type SpeedTest struct {
	mu      sync.Mutex
	start   time.Time
	running bool
	bytes   int64
}

// NewSpeedTest returns an idle counter.
func NewSpeedTest() *SpeedTest {
	return &SpeedTest{}
}

// Start resets the counter and begins timing.
func (s *SpeedTest) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = time.Now()
	s.running = true
	s.bytes = 0
}

// AddBytes records n more bytes transferred.
func (s *SpeedTest) AddBytes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.bytes += int64(n)
	}
}

// Stop ends timing and returns the elapsed duration and total bytes.
func (s *SpeedTest) Stop() (time.Duration, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return time.Since(s.start), s.bytes
}

// BytesPerSecond reports the current throughput without stopping the
// test, for a progress readout mid-transfer.
func (s *SpeedTest) BytesPerSecond() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	dt := time.Since(s.start).Seconds()
	if dt <= 0 {
		return 0
	}
	return float64(s.bytes) / dt
}
