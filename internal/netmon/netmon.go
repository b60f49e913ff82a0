// Package netmon provides the online/offline signal the sync core consumes.
// The monitor probes the backend health endpoint on a ticker and fans the
// current state out to subscribers; platforms with a native reachability
// signal can feed SetOnline directly instead of starting the prober.
package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pomadehq/pomade/internal/logging"
)

// Monitor tracks network reachability and notifies subscribers on
// transitions.
type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client

	mu     sync.RWMutex
	online bool
	subs   []chan bool

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// New creates a Monitor probing probeURL every interval. The monitor starts
// offline until the first probe or SetOnline call.
func New(probeURL string, interval time.Duration) *Monitor {
	return &Monitor{
		probeURL: probeURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		stopCh:   make(chan struct{}),
	}
}

// Start begins background probing. Returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		// Probe once up front so consumers don't wait a full interval
		// for the initial state.
		m.SetOnline(m.probe(ctx))

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.SetOnline(m.probe(ctx))
			}
		}
	}()
}

// Stop halts background probing and waits for the prober to exit.
func (m *Monitor) Stop() {
	m.stopped.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// probe checks reachability with a single HEAD request.
func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// IsOnline returns the last observed reachability state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records a reachability state and notifies subscribers when it
// changes. Exposed so platform reachability callbacks (and tests) can drive
// the monitor directly.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	subs := make([]chan bool, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if !changed {
		return
	}

	logging.Info("network reachability changed", map[string]interface{}{
		"online": online,
	})

	for _, ch := range subs {
		// Drop rather than block: subscribers only care about the latest
		// state and read IsOnline on wake.
		select {
		case ch <- online:
		default:
		}
	}
}

// Subscribe returns a channel receiving reachability transitions. The
// channel is buffered; a slow consumer misses intermediate flaps, never
// blocks the monitor.
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}
