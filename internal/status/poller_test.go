package status

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/halcyonfm/halcyon/internal/nowplaying"
)

// scriptedFetcher returns a programmed sequence of results, repeating the
// last one once exhausted.
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	snap *nowplaying.Snapshot
	err  error
}

func (f *scriptedFetcher) Status(ctx context.Context) (*nowplaying.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	r := f.results[idx]
	return r.snap, r.err
}

func snapshotFor(songID string) *nowplaying.Snapshot {
	return &nowplaying.Snapshot{Song: nowplaying.Song{ID: songID}, IsOnline: true}
}

func TestPollerDeliversSnapshotsToAllSubscribers(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{snap: snapshotFor("abc123")}}}
	p := NewPoller(f, 10*time.Millisecond)

	var a, b atomic.Int32
	p.Subscribe(func(s *nowplaying.Snapshot) {
		if s.Song.ID != "abc123" {
			t.Errorf("unexpected snapshot: %+v", s)
		}
		a.Add(1)
	})
	p.Subscribe(func(*nowplaying.Snapshot) { b.Add(1) })

	p.Start(context.Background())
	defer p.Stop()

	time.Sleep(50 * time.Millisecond)

	if a.Load() == 0 || b.Load() == 0 {
		t.Errorf("both subscribers should have been notified, got %d and %d", a.Load(), b.Load())
	}
	if a.Load() != b.Load() {
		t.Errorf("subscribers should see the same deliveries, got %d and %d", a.Load(), b.Load())
	}
}

func TestPollerFailedFetchNotifiesNobody(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{err: errors.New("HTTP 500")}}}
	p := NewPoller(f, 10*time.Millisecond)

	var calls atomic.Int32
	p.Subscribe(func(*nowplaying.Snapshot) { calls.Add(1) })

	p.Start(context.Background())
	defer p.Stop()

	time.Sleep(50 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("failed ticks must deliver nothing, got %d calls", calls.Load())
	}
	if p.ConsecutiveFailures() == 0 {
		t.Error("consecutive failure count should have grown")
	}
}

func TestPollerRecoveryResetsFailureCount(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{
		{err: errors.New("HTTP 500")},
		{err: errors.New("HTTP 500")},
		{snap: snapshotFor("abc123")},
	}}
	p := NewPoller(f, 10*time.Millisecond)

	var calls atomic.Int32
	p.Subscribe(func(*nowplaying.Snapshot) { calls.Add(1) })

	p.Start(context.Background())
	defer p.Stop()

	deadline := time.After(time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("poller never recovered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if p.ConsecutiveFailures() != 0 {
		t.Errorf("a success should reset the failure count, got %d", p.ConsecutiveFailures())
	}
}

func TestPollerStartIsIdempotent(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{snap: snapshotFor("abc123")}}}
	p := NewPoller(f, 20*time.Millisecond)

	p.Start(context.Background())
	p.Start(context.Background()) // must not create a second ticker
	defer p.Stop()

	time.Sleep(70 * time.Millisecond)

	f.mu.Lock()
	calls := f.calls
	f.mu.Unlock()

	// One immediate fetch plus ~3 ticks. A duplicated loop would roughly
	// double this.
	if calls > 6 {
		t.Errorf("duplicate Start appears to have created a second loop: %d fetches", calls)
	}
}

func TestPollerStopCancelsTicksAndIsSafeWhenNotStarted(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{snap: snapshotFor("abc123")}}}
	p := NewPoller(f, 10*time.Millisecond)

	p.Stop() // not started: must not panic

	p.Start(context.Background())
	time.Sleep(25 * time.Millisecond)
	p.Stop()

	f.mu.Lock()
	after := f.calls
	f.mu.Unlock()

	time.Sleep(40 * time.Millisecond)

	f.mu.Lock()
	final := f.calls
	f.mu.Unlock()

	if final != after {
		t.Errorf("fetches continued after Stop: %d -> %d", after, final)
	}

	p.Stop() // second Stop must not panic
}

func TestPollerKeepsFixedCadenceThroughFailures(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{err: errors.New("down")}}}
	p := NewPoller(f, 15*time.Millisecond)

	p.Start(context.Background())
	defer p.Stop()

	time.Sleep(110 * time.Millisecond)

	f.mu.Lock()
	calls := f.calls
	f.mu.Unlock()

	// Immediate fetch plus ~7 ticks; backoff would show far fewer,
	// acceleration far more.
	if calls < 4 || calls > 12 {
		t.Errorf("cadence drifted under failures: %d fetches in ~110ms at 15ms interval", calls)
	}
}
