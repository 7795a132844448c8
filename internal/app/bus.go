// Package app wires the pollers, the push channel, the vote queue and
// the playback pipeline together and owns the event flow between them.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/halcyonfm/halcyon/internal/nowplaying"
	"github.com/halcyonfm/halcyon/internal/stream"
)

// Event is a message on the application bus.
type Event interface{ event() }

// SongChanged fires when the station moves to a different song.
type SongChanged struct{ Snapshot nowplaying.Snapshot }

// NowPlayingUpdated fires when the current song's mutable fields change
// without the song itself changing.
type NowPlayingUpdated struct{ Snapshot nowplaying.Snapshot }

// ConnectivityChanged fires on offline/online transitions.
type ConnectivityChanged struct{ Online bool }

// TallyRefreshed fires after a burst of push tallies settles.
type TallyRefreshed struct{ Votes, Steering bool }

// PlaybackChanged mirrors stream lifecycle transitions onto the bus.
type PlaybackChanged struct{ State stream.Event }

// AnalyserReady fires once the audio graph exposes frequency data.
type AnalyserReady struct{ Analyser *stream.Analyser }

func (SongChanged) event()         {}
func (NowPlayingUpdated) event()   {}
func (ConnectivityChanged) event() {}
func (TallyRefreshed) event()      {}
func (PlaybackChanged) event()     {}
func (AnalyserReady) event()       {}

// busBuffer bounds the publish queue. Producers never block; overflow is
// dropped with a warning instead of stalling the audio or network paths.
const busBuffer = 128

// Bus delivers events to subscribers in publish order from a single
// goroutine, so handlers never observe reordered state.
type Bus struct {
	mu    sync.Mutex
	fns   []func(Event)
	queue chan Event

	startOnce sync.Once
	done      chan struct{}
}

// NewBus creates an idle bus. Call Start to begin delivery.
func NewBus() *Bus {
	return &Bus{
		queue: make(chan Event, busBuffer),
		done:  make(chan struct{}),
	}
}

// Subscribe registers fn for every event. Subscriptions made after Start
// only see events published afterwards.
func (b *Bus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fns = append(b.fns, fn)
}

// Start launches the delivery goroutine. It stops when ctx is canceled.
func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		go b.run(ctx)
	})
}

func (b *Bus) run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.queue:
			b.mu.Lock()
			fns := append([]func(Event){}, b.fns...)
			b.mu.Unlock()
			for _, fn := range fns {
				fn(ev)
			}
		}
	}
}

// Publish enqueues ev for ordered delivery. It never blocks; events are
// dropped if the bus is saturated.
func (b *Bus) Publish(ev Event) {
	select {
	case b.queue <- ev:
	default:
		log.Warn().Str("event", eventName(ev)).Msg("Event bus saturated, dropping event")
	}
}

// Wait blocks until the delivery goroutine has exited.
func (b *Bus) Wait() {
	<-b.done
}

func eventName(ev Event) string {
	switch ev.(type) {
	case SongChanged:
		return "song_changed"
	case NowPlayingUpdated:
		return "now_playing_updated"
	case ConnectivityChanged:
		return "connectivity_changed"
	case TallyRefreshed:
		return "tally_refreshed"
	case PlaybackChanged:
		return "playback_changed"
	case AnalyserReady:
		return "analyser_ready"
	}
	return "unknown"
}
