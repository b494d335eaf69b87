// Package status reports the state of a running guest agent on its local
// status socket.
//
// One listener carries two protocols, split by cmux: the standard gRPC
// health service, which says whether the agent is mirroring, and a small
// HTTP/JSON view with the details.
package status

import (
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"go.klb.dev/guestclip/internal/mirror"
)

// Service is the health service name the agent registers.
const Service = "guestclip"

// Snapshot is the agent state at one point in time.
type Snapshot struct {
	Version   string
	Source    string
	Clipboard string // backend name
	Host      string // host-side peer address
	Started   time.Time

	Joined    bool // member of the clipboard-viewer chain
	Connected bool
	Failed    string // reason the session ended, "" while it has not

	Pushed        uint64
	Applied       uint64
	WriteFailures uint64
}

// Serving reports whether the agent is mirroring the clipboard.
func (s Snapshot) Serving() bool { return s.Connected && s.Failed == "" }

// Tracker collects what the agent reports about itself and keeps the health
// service in step with it. It is safe for concurrent use.
type Tracker struct {
	health *health.Server

	mu    sync.Mutex
	snap  Snapshot
	stats func() mirror.Stats
}

// NewTracker returns a Tracker for an agent that has not connected yet.
func NewTracker(version, source, clipboard string) *Tracker {
	t := &Tracker{
		health: health.NewServer(),
		snap: Snapshot{
			Version:   version,
			Source:    source,
			Clipboard: clipboard,
			Started:   time.Now(),
		},
	}
	t.publish()
	return t
}

// Health returns the gRPC health service the Tracker drives.
func (t *Tracker) Health() *health.Server { return t.health }

// SetCounters installs the source of the activity counters.
func (t *Tracker) SetCounters(fn func() mirror.Stats) {
	t.mu.Lock()
	t.stats = fn
	t.mu.Unlock()
}

func (t *Tracker) SetChain(joined bool) { t.update(func(s *Snapshot) { s.Joined = joined }) }
func (t *Tracker) SetHost(addr string)  { t.update(func(s *Snapshot) { s.Host = addr }) }
func (t *Tracker) SetConnected()        { t.update(func(s *Snapshot) { s.Connected = true }) }

// SetFailed records why the session ended. The first reason sticks.
func (t *Tracker) SetFailed(reason string) {
	t.update(func(s *Snapshot) {
		s.Connected = false
		if s.Failed == "" {
			s.Failed = reason
		}
	})
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	snap, stats := t.snap, t.stats
	t.mu.Unlock()
	if stats != nil {
		st := stats()
		snap.Pushed = st.Pushed
		snap.Applied = st.Applied
		snap.WriteFailures = st.WriteFailures
	}
	return snap
}

func (t *Tracker) update(fn func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.snap)
	t.publish()
}

// publish must be called with mu held.
func (t *Tracker) publish() {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if t.snap.Serving() {
		st = healthpb.HealthCheckResponse_SERVING
	}
	t.health.SetServingStatus(Service, st)
	t.health.SetServingStatus("", st)
}
