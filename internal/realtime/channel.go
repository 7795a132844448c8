// Package realtime maintains the push connection to the station backend.
// It is an optional accelerator: snapshots arrive here faster than the
// poll interval, but the poller remains the source-of-truth fallback.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/halcyonfm/halcyon/internal/nowplaying"
)

// Reconnect backoff parameters. The counter resets to zero once the
// connection reaches Open.
const (
	BackoffBase       = 2 * time.Second
	BackoffMultiplier = 1.5
	BackoffCap        = 30 * time.Second
)

// State is the connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "disconnected"
	}
}

// Message types delivered by the push channel.
const (
	TypeSong     = "song"
	TypeVote     = "vote_update"
	TypeSteering = "steering_update"
)

// TallyEvent carries a vote or steering tally update. The payload is the
// raw message for the consumer to interpret.
type TallyEvent struct {
	Type    string
	Payload json.RawMessage
}

// Channel is a reconnecting WebSocket client.
type Channel struct {
	url    string
	dialer *websocket.Dialer

	mu       sync.Mutex
	state    State
	attempts int
	conn     *websocket.Conn
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}

	snapshotFn func(*nowplaying.Snapshot)
	tallyFn    func(TallyEvent)
}

// NewChannel creates a channel for the given WebSocket URL.
func NewChannel(url string) *Channel {
	return &Channel{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// OnSnapshot registers the callback for push-delivered snapshots. It is
// the same downstream path a poll result takes.
func (c *Channel) OnSnapshot(fn func(*nowplaying.Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshotFn = fn
}

// OnTally registers the callback for vote and steering tally updates.
func (c *Channel) OnTally(fn func(TallyEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tallyFn = fn
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start runs the connect/read/reconnect loop until Close or context
// cancellation. Idempotent while running.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil || c.closed {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(ctx)
	}()
}

// Close shuts the channel down intentionally. Unlike a connection drop,
// an intentional close never arms the reconnect timer.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *Channel) run(ctx context.Context) {
	for {
		c.setState(StateConnecting)

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if c.stopped(ctx) {
				return
			}
			delay := c.nextBackoff()
			log.Warn().Err(err).Dur("retry_in", delay).Msg("Push channel dial failed")
			c.setState(StateDisconnected)
			if !c.sleep(ctx, delay) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.state = StateOpen
		c.attempts = 0
		c.mu.Unlock()
		log.Info().Str("url", c.url).Msg("Push channel open")

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.state = StateDisconnected
		c.mu.Unlock()

		// The reconnect timer is armed only here, after an unexpected
		// close or error. An intentional Close exits before this point.
		if c.stopped(ctx) {
			log.Info().Msg("Push channel closed")
			return
		}
		delay := c.nextBackoff()
		log.Info().Dur("retry_in", delay).Msg("Push channel lost, reconnecting")
		if !c.sleep(ctx, delay) {
			return
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(data)
	}
}

// handleMessage dispatches one push message. Unrecognized types are
// ignored; malformed payloads are dropped without tearing the connection
// down.
func (c *Channel) handleMessage(data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		log.Debug().Err(err).Msg("Dropping malformed push message")
		return
	}

	c.mu.Lock()
	snapshotFn := c.snapshotFn
	tallyFn := c.tallyFn
	c.mu.Unlock()

	switch envelope.Type {
	case TypeSong:
		snap, err := nowplaying.DecodeSongEvent(data)
		if err != nil {
			log.Debug().Err(err).Msg("Dropping malformed song message")
			return
		}
		if snapshotFn != nil {
			snapshotFn(snap)
		}
	case TypeVote, TypeSteering:
		if tallyFn != nil {
			tallyFn(TallyEvent{Type: envelope.Type, Payload: data})
		}
	default:
		log.Debug().Str("type", envelope.Type).Msg("Ignoring unknown push message type")
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Channel) stopped(ctx context.Context) bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return closed || ctx.Err() != nil
}

// nextBackoff returns the delay before the next attempt and advances the
// counter.
func (c *Channel) nextBackoff() time.Duration {
	c.mu.Lock()
	attempt := c.attempts
	c.attempts++
	c.mu.Unlock()
	return backoffDelay(attempt)
}

// backoffDelay computes base * multiplier^attempt, capped.
func backoffDelay(attempt int) time.Duration {
	delay := float64(BackoffBase)
	for i := 0; i < attempt; i++ {
		delay *= BackoffMultiplier
		if delay >= float64(BackoffCap) {
			return BackoffCap
		}
	}
	if delay > float64(BackoffCap) {
		return BackoffCap
	}
	return time.Duration(delay)
}

func (c *Channel) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return !c.stopped(ctx)
	}
}
