package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog/log"
)

// speakerRate is the fixed output sample rate. Streams at other rates
// are resampled so the speaker is initialized exactly once.
const speakerRate beep.SampleRate = 44100

// LocalBackend decodes the station stream in-process and plays it
// through the system audio device. Decoded samples pass through the
// analyser on their way to the speaker.
type LocalBackend struct {
	mu       sync.Mutex
	analyser *Analyser
	httpc    *http.Client

	speakerOnce sync.Once
	speakerErr  error

	current *playbackSession
}

// playbackSession holds the resources of one live connection.
type playbackSession struct {
	streamer beep.StreamSeekCloser
}

// NewLocalBackend creates the in-process playback backend. The analyser
// must not be nil.
func NewLocalBackend(analyser *Analyser) *LocalBackend {
	return &LocalBackend{
		analyser: analyser,
		// No overall client timeout: the body is a live stream and stays
		// open for the whole session. Dial and TLS handshake limits come
		// from the default transport.
		httpc: &http.Client{},
	}
}

// tapStreamer feeds every decoded chunk to the analyser after pulling it
// from the wrapped source.
type tapStreamer struct {
	src      beep.Streamer
	analyser *Analyser
}

func (t *tapStreamer) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.src.Stream(samples)
	if n > 0 {
		t.analyser.Feed(samples, n)
	}
	return n, ok
}

func (t *tapStreamer) Err() error { return t.src.Err() }

// Play connects to url, decodes it and starts playback, replacing any
// session already running.
func (b *LocalBackend) Play(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopLocked()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build stream request: %w", err)
	}
	resp, err := b.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	streamer, format, err := mp3.Decode(resp.Body)
	if err != nil {
		resp.Body.Close()
		return fmt.Errorf("failed to decode stream: %w", err)
	}

	b.speakerOnce.Do(func() {
		b.speakerErr = speaker.Init(speakerRate, speakerRate.N(100*time.Millisecond))
	})
	if b.speakerErr != nil {
		streamer.Close()
		return fmt.Errorf("failed to open audio device: %w", b.speakerErr)
	}

	var out beep.Streamer = &tapStreamer{src: streamer, analyser: b.analyser}
	if format.SampleRate != speakerRate {
		out = beep.Resample(4, format.SampleRate, speakerRate, out)
	}

	speaker.Play(out)
	b.current = &playbackSession{streamer: streamer}

	log.Debug().Str("url", url).Int("sample_rate", int(format.SampleRate)).Msg("Local playback started")
	return nil
}

// Pause disconnects from the stream. Live audio has no buffer worth
// holding, so the next Play rejoins the live edge. The analyser stays
// attached and simply stops receiving samples.
func (b *LocalBackend) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopLocked()
	return nil
}

// Analyser returns the tap the backend feeds.
func (b *LocalBackend) Analyser() *Analyser { return b.analyser }

// Close tears down the current session.
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopLocked()
	return nil
}

// stopLocked drains the speaker and closes the network session. Caller
// holds the lock.
func (b *LocalBackend) stopLocked() {
	if b.current == nil {
		return
	}
	speaker.Clear()
	// Closing the decoder also closes the underlying response body.
	if err := b.current.streamer.Close(); err != nil {
		log.Debug().Err(err).Msg("Error closing stream")
	}
	b.current = nil
	b.analyser.Reset()
}
