package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/halcyonfm/halcyon/internal/nowplaying"
)

func TestBackoffDelayProgression(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 3 * time.Second},
		{2, 4500 * time.Millisecond},
		{3, 6750 * time.Millisecond},
		{10, 30 * time.Second}, // capped
		{50, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestHandleMessageSongReachesSnapshotCallback(t *testing.T) {
	c := NewChannel("ws://unused")

	var got atomic.Pointer[nowplaying.Snapshot]
	c.OnSnapshot(func(s *nowplaying.Snapshot) { got.Store(s) })

	c.handleMessage([]byte(`{"type":"song","song":{"id":"42","title":"X","artist":"Y"}}`))

	snap := got.Load()
	if snap == nil {
		t.Fatal("song message should reach the snapshot callback")
	}
	if snap.Song.ID != "42" || snap.Song.Title != "X" || snap.Song.Artist != "Y" {
		t.Errorf("unexpected snapshot: %+v", snap.Song)
	}
}

func TestHandleMessageTalliesReachTallyCallback(t *testing.T) {
	c := NewChannel("ws://unused")

	var types []string
	c.OnTally(func(e TallyEvent) { types = append(types, e.Type) })

	c.handleMessage([]byte(`{"type":"vote_update","tallies":{"energetic":3}}`))
	c.handleMessage([]byte(`{"type":"steering_update","mode":"manual"}`))

	if len(types) != 2 || types[0] != TypeVote || types[1] != TypeSteering {
		t.Errorf("unexpected tally deliveries: %v", types)
	}
}

func TestHandleMessageIgnoresUnknownAndMalformed(t *testing.T) {
	c := NewChannel("ws://unused")

	var snapshots, tallies atomic.Int32
	c.OnSnapshot(func(*nowplaying.Snapshot) { snapshots.Add(1) })
	c.OnTally(func(TallyEvent) { tallies.Add(1) })

	c.handleMessage([]byte(`{"type":"chat","text":"hi"}`))
	c.handleMessage([]byte(`{not json`))
	c.handleMessage([]byte(`{"type":"song"}`)) // song message without a song

	if snapshots.Load() != 0 || tallies.Load() != 0 {
		t.Errorf("bad messages must deliver nothing, got %d snapshots %d tallies",
			snapshots.Load(), tallies.Load())
	}
}

// wsTestServer upgrades connections and counts them.
func wsTestServer(t *testing.T, onConn func(*websocket.Conn)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var connects atomic.Int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connects.Add(1)
		onConn(conn)
	}))
	t.Cleanup(server.Close)
	return server, &connects
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestChannelDeliversPushedSong(t *testing.T) {
	server, _ := wsTestServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"song","song":{"id":"42","title":"X","artist":"Y"}}`))
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewChannel(wsURL(server))
	received := make(chan *nowplaying.Snapshot, 1)
	c.OnSnapshot(func(s *nowplaying.Snapshot) {
		select {
		case received <- s:
		default:
		}
	})

	c.Start(t.Context())
	defer c.Close()

	select {
	case snap := <-received:
		if snap.Song.ID != "42" {
			t.Errorf("unexpected snapshot: %+v", snap.Song)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pushed song never arrived")
	}

	if c.State() != StateOpen {
		t.Errorf("expected open state after delivery, got %v", c.State())
	}
}

func TestChannelIntentionalCloseDoesNotReconnect(t *testing.T) {
	server, connects := wsTestServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewChannel(wsURL(server))
	c.Start(t.Context())

	deadline := time.After(2 * time.Second)
	for c.State() != StateOpen {
		select {
		case <-deadline:
			t.Fatal("channel never opened")
		case <-time.After(5 * time.Millisecond):
		}
	}

	c.Close()

	before := connects.Load()
	time.Sleep(100 * time.Millisecond)
	if connects.Load() != before {
		t.Errorf("intentional close must not reconnect: %d -> %d connects", before, connects.Load())
	}
	if c.State() != StateDisconnected {
		t.Errorf("expected disconnected after close, got %v", c.State())
	}
}

func TestChannelMalformedMessageKeepsConnectionAlive(t *testing.T) {
	server, _ := wsTestServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{broken`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"song","song":{"id":"after-bad","title":"Still Here"}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewChannel(wsURL(server))
	received := make(chan *nowplaying.Snapshot, 1)
	c.OnSnapshot(func(s *nowplaying.Snapshot) {
		select {
		case received <- s:
		default:
		}
	})

	c.Start(t.Context())
	defer c.Close()

	select {
	case snap := <-received:
		if snap.Song.ID != "after-bad" {
			t.Errorf("unexpected snapshot: %+v", snap.Song)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message after the malformed one never arrived, connection was torn down")
	}
}
