// Package status polls the station backend for now-playing snapshots at a
// fixed cadence and delivers them to subscribers.
package status

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/halcyonfm/halcyon/internal/nowplaying"
)

// DefaultInterval between status fetches. Failures neither accelerate nor
// slow the cadence: the interval is short and failures are transient, so
// backoff buys nothing here.
const DefaultInterval = 5 * time.Second

// Fetcher is the slice of the station API the poller needs.
type Fetcher interface {
	Status(ctx context.Context) (*nowplaying.Snapshot, error)
}

// Poller fetches snapshots on a fixed interval. It delivers every
// successfully fetched snapshot to all subscribers; diffing against
// previous state is the orchestrator's job, not the poller's.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration

	mu          sync.Mutex
	subscribers []func(*nowplaying.Snapshot)
	cancel      context.CancelFunc
	done        chan struct{}

	failures atomic.Int32
}

// NewPoller creates a poller with the given fetch interval. Zero or
// negative falls back to DefaultInterval.
func NewPoller(fetcher Fetcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
	}
}

// Subscribe registers a listener invoked with every successfully fetched
// snapshot. Listeners cannot be removed; subscribers live as long as the
// poller (known limitation, acceptable for a process-lifetime component).
func (p *Poller) Subscribe(fn func(*nowplaying.Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// Start begins an immediate fetch followed by recurring fetches every
// interval. Idempotent: calling Start on a running poller is a no-op, so
// duplicate tickers cannot be created.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		log.Debug().Msg("Poller already running")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		log.Info().Dur("interval", p.interval).Msg("Status poller started")

		p.tick(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Status poller stopped")
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
}

// Stop cancels the recurring fetch and waits for the loop to exit. Safe
// to call when not started, and safe to call twice.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// ConsecutiveFailures returns the number of fetch failures since the last
// success. The poller itself never decides to show an offline state; the
// orchestrator consults this to apply its own threshold.
func (p *Poller) ConsecutiveFailures() int {
	return int(p.failures.Load())
}

// tick performs one fetch. On any failure the tick is silent: no
// subscriber sees partial data, and the next tick retries at the normal
// cadence.
func (p *Poller) tick(ctx context.Context) {
	snap, err := p.fetcher.Status(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		n := p.failures.Add(1)
		log.Warn().Err(err).Int32("consecutive", n).Msg("Status fetch failed")
		return
	}
	p.failures.Store(0)

	p.mu.Lock()
	subs := make([]func(*nowplaying.Snapshot), len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
