package fairness

import (
	"time"

	"github.com/xraph/fairqueue/queue"
)

// Sweep flags every non-empty tier whose last service is further in the
// past than maxStarvation for forced inclusion in the next selection
// round. Run it periodically (the scheduler does so on its fairness
// refresh tick): together with forced selection it guarantees that a
// continuously non-empty queue is serviced at least once within any
// window longer than maxStarvation plus one tick, for every algorithm.
//
// Returns the tiers flagged by this pass.
func (m *Manager) Sweep(snap queue.Snapshot, maxStarvation time.Duration, now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var flagged []string
	for _, ti := range snap {
		if ti.Len == 0 {
			continue
		}
		st := m.ensureState(ti.Tier, now)
		if st.forced {
			continue
		}
		if now.Sub(st.lastProcessedAt) > maxStarvation {
			st.forced = true
			flagged = append(flagged, ti.Tier)
		}
	}
	return flagged
}

// StarvedTiers returns the tiers currently flagged for forced
// inclusion.
func (m *Manager) StarvedTiers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for tier, st := range m.states {
		if st.forced {
			out = append(out, tier)
		}
	}
	return out
}
