package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/halcyonfm/halcyon/internal/nowplaying"
)

// OfflineAfterFailures is how many consecutive poll failures flip the
// client into offline mode. A single dropped tick stays invisible.
const OfflineAfterFailures = 3

// drainer is the slice of the vote queue the orchestrator drives.
type drainer interface {
	SetOnline(online bool)
	Drain(ctx context.Context) (int, error)
}

// Orchestrator folds snapshots from the poller and the push channel into
// a single view of the station and derives song-change and connectivity
// events. Snapshots are last-write-wins regardless of transport.
type Orchestrator struct {
	bus   *Bus
	queue drainer

	mu       sync.Mutex
	current  nowplaying.Snapshot
	haveSnap bool
	online   bool
	ctx      context.Context
}

// NewOrchestrator creates an orchestrator publishing onto bus. queue may
// be nil when vote submission is disabled.
func NewOrchestrator(bus *Bus, queue drainer) *Orchestrator {
	return &Orchestrator{
		bus:   bus,
		queue: queue,
		ctx:   context.Background(),
	}
}

// Run binds the orchestrator to ctx, which bounds the background drains
// it launches on reconnect.
func (o *Orchestrator) Run(ctx context.Context) {
	o.mu.Lock()
	o.ctx = ctx
	o.mu.Unlock()
}

// Current returns the latest snapshot and whether one exists yet.
func (o *Orchestrator) Current() (nowplaying.Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current, o.haveSnap
}

// Online reports the derived connectivity state.
func (o *Orchestrator) Online() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// HandleSnapshot ingests a snapshot from either transport. A new song id
// produces SongChanged; a redelivery of the current song only refreshes
// mutable fields and never resets song-scoped state downstream.
func (o *Orchestrator) HandleSnapshot(snap *nowplaying.Snapshot) {
	if snap == nil {
		return
	}

	o.mu.Lock()
	changed := !o.haveSnap || !o.current.SameSong(snap)
	o.current = *snap
	o.haveSnap = true
	o.mu.Unlock()

	if changed {
		log.Debug().
			Str("song_id", snap.Song.ID).
			Str("title", snap.Song.Title).
			Msg("Song changed")
		o.bus.Publish(SongChanged{Snapshot: *snap})
	} else {
		o.bus.Publish(NowPlayingUpdated{Snapshot: *snap})
	}

	// Any successfully decoded snapshot proves the station is reachable.
	o.markOnline()
}

// HandlePollFailure ingests the poller's consecutive failure count and
// flips to offline once it crosses the threshold.
func (o *Orchestrator) HandlePollFailure(consecutive int) {
	if consecutive < OfflineAfterFailures {
		return
	}

	o.mu.Lock()
	wasOnline := o.online
	o.online = false
	o.mu.Unlock()

	if !wasOnline {
		return
	}

	log.Warn().Int("failures", consecutive).Msg("Station unreachable, going offline")
	if o.queue != nil {
		o.queue.SetOnline(false)
	}
	o.bus.Publish(ConnectivityChanged{Online: false})
}

func (o *Orchestrator) markOnline() {
	o.mu.Lock()
	wasOnline := o.online
	o.online = true
	ctx := o.ctx
	o.mu.Unlock()

	if wasOnline {
		return
	}

	log.Info().Msg("Station reachable")
	if o.queue != nil {
		o.queue.SetOnline(true)
		go func() {
			n, err := o.queue.Drain(ctx)
			if err != nil {
				log.Warn().Err(err).Int("submitted", n).Msg("Queued vote drain stopped early")
			} else if n > 0 {
				log.Info().Int("submitted", n).Msg("Queued votes submitted")
			}
		}()
	}
	o.bus.Publish(ConnectivityChanged{Online: true})
}
