// Package audit records remote-action outcomes and sync events to an
// optional InfluxDB sink. Auditing is best effort: a broken sink degrades to
// log lines, never into the sync path.
package audit

import (
	"log"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Event is one audit line.
type Event struct {
	Kind       string // remote_action | action_result | full_sync
	Identifier string
	Success    bool
	Message    string
	Timestamp  time.Time
}

// Sink consumes audit events. Record must not block.
type Sink interface {
	Record(Event)
}

// Nop discards all events; used when no audit backend is configured.
type Nop struct{}

func (Nop) Record(Event) {}

// InfluxSink writes audit events asynchronously through a WriteAPI and keeps
// track of the last write error for readiness checks.
type InfluxSink struct {
	api     api.WriteAPI
	mu      sync.RWMutex
	lastErr time.Time
	counts  map[string]int64
}

func NewInfluxSink(w api.WriteAPI) *InfluxSink {
	s := &InfluxSink{
		api:     w,
		lastErr: time.Now().Add(-24 * time.Hour),
		counts:  make(map[string]int64),
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				s.mu.Lock()
				s.lastErr = time.Now()
				s.mu.Unlock()
				log.Printf("audit: influx write error: %v", err)
			}
		}
	}()
	return s
}

func (s *InfluxSink) Record(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	p := influxdb2.NewPoint(
		"bridge_audit",
		map[string]string{
			"kind":    e.Kind,
			"success": map[bool]string{true: "true", false: "false"}[e.Success],
		},
		map[string]interface{}{
			"identifier": e.Identifier,
			"message":    e.Message,
		},
		e.Timestamp,
	)
	s.api.WritePoint(p)

	s.mu.Lock()
	s.counts[e.Kind]++
	s.mu.Unlock()
}

// LastErrorAge reports how long ago the last write error happened.
func (s *InfluxSink) LastErrorAge() time.Duration {
	s.mu.RLock()
	t := s.lastErr
	s.mu.RUnlock()
	return time.Since(t)
}

// Count reads the ingest counter for one event kind.
func (s *InfluxSink) Count(kind string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[kind]
}
