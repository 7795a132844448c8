package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"
)

// MPDBackend plays the station stream through a local MPD daemon. MPD
// does its own decoding, so no analysis tap is available and visuals run
// in idle mode.
type MPDBackend struct {
	mu       sync.Mutex
	client   *mpd.Client
	addr     string
	password string
}

// NewMPDBackend creates a backend for the MPD daemon at addr
// (host:port). Connection is established lazily on first use.
func NewMPDBackend(addr, password string) *MPDBackend {
	return &MPDBackend{addr: addr, password: password}
}

func (b *MPDBackend) connectLocked() error {
	log.Info().Str("addr", b.addr).Msg("Connecting to MPD")

	client, err := mpd.Dial("tcp", b.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to MPD: %w", err)
	}

	if b.password != "" {
		if err := client.Command("password %s", b.password).OK(); err != nil {
			client.Close()
			return fmt.Errorf("MPD authentication failed: %w", err)
		}
	}

	b.client = client
	return nil
}

func (b *MPDBackend) ensureConnectedLocked() error {
	if b.client == nil {
		return b.connectLocked()
	}

	if err := b.client.Ping(); err != nil {
		log.Warn().Err(err).Msg("MPD connection lost, reconnecting")
		b.client.Close()
		b.client = nil
		return b.connectLocked()
	}

	return nil
}

// Play replaces the MPD queue with the stream URL and starts playback.
func (b *MPDBackend) Play(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.ensureConnectedLocked(); err != nil {
		return err
	}

	if err := b.client.Clear(); err != nil {
		return fmt.Errorf("failed to clear MPD queue: %w", err)
	}
	if err := b.client.Add(url); err != nil {
		return fmt.Errorf("failed to queue stream: %w", err)
	}
	return b.client.Play(-1)
}

// Pause stops playback. A live stream has no resume point, so pause maps
// to stop and the next Play rejoins the live edge.
func (b *MPDBackend) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil
	}
	return b.client.Stop()
}

// Analyser reports nil: MPD playback offers no sample tap.
func (b *MPDBackend) Analyser() *Analyser { return nil }

// Close stops playback and closes the MPD connection.
func (b *MPDBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil
	}
	b.client.Stop()
	err := b.client.Close()
	b.client = nil
	return err
}
