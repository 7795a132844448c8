package votes

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/halcyonfm/halcyon/internal/api"
	"github.com/halcyonfm/halcyon/internal/nowplaying"
	"github.com/halcyonfm/halcyon/internal/store"
)

// fakeSubmitter records calls and fails on request.
type fakeSubmitter struct {
	rateCalls  int
	tagCalls   int
	failAll    bool
	failAfter  int // fail once this many total calls have succeeded; 0 disables
	rateResult *api.RateResult
	submitted  []string // song ids in submission order
}

func (f *fakeSubmitter) calls() int { return f.rateCalls + f.tagCalls }

func (f *fakeSubmitter) shouldFail() bool {
	if f.failAll {
		return true
	}
	return f.failAfter > 0 && len(f.submitted) >= f.failAfter
}

func (f *fakeSubmitter) Rate(ctx context.Context, songID string, rating int) (*api.RateResult, error) {
	f.rateCalls++
	if f.shouldFail() {
		return nil, errors.New("rate failed")
	}
	f.submitted = append(f.submitted, songID)
	if f.rateResult != nil {
		return f.rateResult, nil
	}
	return &api.RateResult{}, nil
}

func (f *fakeSubmitter) MoodTag(ctx context.Context, songID, tag, kind string) (*api.TagResult, error) {
	f.tagCalls++
	if f.shouldFail() {
		return nil, errors.New("tag failed")
	}
	f.submitted = append(f.submitted, songID)
	return &api.TagResult{Status: "accepted", SongID: songID, Tag: tag}, nil
}

func newTestQueue(t *testing.T, submitter Submitter) (*Queue, *store.DB) {
	t.Helper()
	db := store.NewDB(filepath.Join(t.TempDir(), "state.db"))
	if err := db.Open(); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewQueue(submitter, db), db
}

func TestSubmitOfflineQueuesWithoutNetworkCall(t *testing.T) {
	f := &fakeSubmitter{}
	q, db := newTestQueue(t, f)
	q.SetOnline(false)

	res := q.SubmitTag(context.Background(), "abc123", "energetic", KindMood)

	if res.Outcome != OutcomeQueued {
		t.Errorf("expected queued outcome, got %v", res.Outcome)
	}
	if f.calls() != 0 {
		t.Errorf("offline submission must not touch the network, got %d calls", f.calls())
	}
	pending, _ := db.PendingVotes()
	if len(pending) != 1 {
		t.Errorf("expected exactly one queued entry, got %d", len(pending))
	}
}

func TestSubmitWithoutActiveSongRejectedLocally(t *testing.T) {
	f := &fakeSubmitter{}
	q, _ := newTestQueue(t, f)

	for _, songID := range []string{"", "0"} {
		res := q.SubmitRating(context.Background(), songID, 5, nowplaying.Rating{})
		if res.Outcome != OutcomeNoSong {
			t.Errorf("song id %q: expected no-song outcome, got %v", songID, res.Outcome)
		}
	}
	if f.calls() != 0 {
		t.Errorf("placeholder song ids must not reach the network, got %d calls", f.calls())
	}
}

func TestSubmitWithinCooldownRejectedLocally(t *testing.T) {
	f := &fakeSubmitter{}
	q, db := newTestQueue(t, f)

	base := time.Unix(1700000000, 0)
	q.now = func() time.Time { return base.Add(4 * time.Minute) }
	db.SetCooldown("abc123", base)

	res := q.SubmitRating(context.Background(), "abc123", 5, nowplaying.Rating{})

	if res.Outcome != OutcomeCooldown {
		t.Errorf("expected cooldown outcome 4 minutes into a 5 minute window, got %v", res.Outcome)
	}
	if f.calls() != 0 {
		t.Errorf("cooldown rejection must make zero network calls, got %d", f.calls())
	}
}

func TestSubmitAfterCooldownWindowProceeds(t *testing.T) {
	f := &fakeSubmitter{rateResult: &api.RateResult{Average: 3.5, Total: 2, Confirmed: true}}
	q, db := newTestQueue(t, f)

	base := time.Unix(1700000000, 0)
	q.now = func() time.Time { return base.Add(6 * time.Minute) }
	db.SetCooldown("abc123", base)

	res := q.SubmitRating(context.Background(), "abc123", 4, nowplaying.Rating{})

	if res.Outcome != OutcomeAccepted {
		t.Errorf("expected accepted outcome 6 minutes after a 5 minute window, got %v", res.Outcome)
	}
	if f.rateCalls != 1 {
		t.Errorf("expected one network call, got %d", f.rateCalls)
	}
}

func TestAcceptedRatingShowsServerAggregateNotRawValue(t *testing.T) {
	f := &fakeSubmitter{rateResult: &api.RateResult{Average: 4.2, Total: 11, Confirmed: true}}
	q, _ := newTestQueue(t, f)

	res := q.SubmitRating(context.Background(), "abc123", 5, nowplaying.Rating{Average: 4.0, Total: 10})

	if res.Outcome != OutcomeAccepted || res.Rating == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Rating.Average != 4.2 || res.Rating.Total != 11 {
		t.Errorf("displayed aggregate must be the server's 4.2/11, got %+v", res.Rating)
	}
	if res.Rating.Optimistic {
		t.Error("a server-confirmed aggregate must not be flagged optimistic")
	}
}

func TestAcceptedRatingWithoutAggregateFallsBackOptimistically(t *testing.T) {
	f := &fakeSubmitter{rateResult: &api.RateResult{Confirmed: false}}
	q, _ := newTestQueue(t, f)

	res := q.SubmitRating(context.Background(), "abc123", 5, nowplaying.Rating{Average: 3.0, Total: 4})

	if res.Rating == nil || !res.Rating.Optimistic {
		t.Fatalf("expected an optimistic estimate, got %+v", res.Rating)
	}
	// (3.0*4 + 5) / 5 = 3.4
	if res.Rating.Total != 5 || res.Rating.Average != 3.4 {
		t.Errorf("expected optimistic 3.4/5, got %+v", res.Rating)
	}
}

func TestOnlineFailureQueuesAtTail(t *testing.T) {
	f := &fakeSubmitter{failAll: true}
	q, db := newTestQueue(t, f)

	db.AppendPendingVote(store.PendingVote{SongID: "earlier", Value: "3", Kind: KindRating, QueuedAt: time.Now()})

	res := q.SubmitRating(context.Background(), "abc123", 5, nowplaying.Rating{})

	if res.Outcome != OutcomeRetryLater {
		t.Errorf("expected retry-later outcome, got %v", res.Outcome)
	}
	pending, _ := db.PendingVotes()
	if len(pending) != 2 || pending[1].SongID != "abc123" {
		t.Errorf("failed submission should land at the tail, got %v", pending)
	}
}

func TestInvalidValuesRejectedLocally(t *testing.T) {
	f := &fakeSubmitter{}
	q, _ := newTestQueue(t, f)

	if res := q.SubmitRating(context.Background(), "abc123", 0, nowplaying.Rating{}); res.Outcome != OutcomeInvalid {
		t.Errorf("rating 0: expected invalid, got %v", res.Outcome)
	}
	if res := q.SubmitRating(context.Background(), "abc123", 6, nowplaying.Rating{}); res.Outcome != OutcomeInvalid {
		t.Errorf("rating 6: expected invalid, got %v", res.Outcome)
	}
	if res := q.SubmitTag(context.Background(), "abc123", "bogus", KindMood); res.Outcome != OutcomeInvalid {
		t.Errorf("unknown tag: expected invalid, got %v", res.Outcome)
	}
	if f.calls() != 0 {
		t.Errorf("validation failures must make zero network calls, got %d", f.calls())
	}
}

func TestDrainStopsOnFirstFailurePreservingOrder(t *testing.T) {
	const total = 5
	const succeedBefore = 2 // the 3rd entry fails

	f := &fakeSubmitter{failAfter: succeedBefore}
	q, db := newTestQueue(t, f)

	for i := 0; i < total; i++ {
		db.AppendPendingVote(store.PendingVote{
			SongID:   fmt.Sprintf("s%d", i),
			Value:    "energetic",
			Kind:     KindMood,
			QueuedAt: time.Now(),
		})
	}

	submitted, err := q.Drain(context.Background())
	if err == nil {
		t.Fatal("expected drain to report the failed entry")
	}
	if submitted != succeedBefore {
		t.Errorf("expected %d submitted, got %d", succeedBefore, submitted)
	}

	pending, _ := db.PendingVotes()
	if len(pending) != total-succeedBefore {
		t.Fatalf("expected %d entries remaining, got %d", total-succeedBefore, len(pending))
	}
	for i, v := range pending {
		want := fmt.Sprintf("s%d", i+succeedBefore)
		if v.SongID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, v.SongID)
		}
	}
}

func TestDrainEmptiesQueueAndSetsCooldowns(t *testing.T) {
	f := &fakeSubmitter{}
	q, db := newTestQueue(t, f)

	db.AppendPendingVote(store.PendingVote{SongID: "s1", Value: "5", Kind: KindRating, QueuedAt: time.Now()})
	db.AppendPendingVote(store.PendingVote{SongID: "s2", Value: "dark", Kind: KindMood, QueuedAt: time.Now()})

	submitted, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if submitted != 2 {
		t.Errorf("expected 2 submitted, got %d", submitted)
	}
	if n, _ := db.PendingCount(); n != 0 {
		t.Errorf("expected empty queue, got %d entries", n)
	}

	// A just-drained vote counts for the cooldown immediately.
	for _, song := range []string{"s1", "s2"} {
		if _, ok, _ := db.Cooldown(song); !ok {
			t.Errorf("expected cooldown recorded for %s after drain", song)
		}
	}
}

func TestDrainProcessesInEnqueueOrder(t *testing.T) {
	f := &fakeSubmitter{}
	q, db := newTestQueue(t, f)

	for _, song := range []string{"first", "second", "third"} {
		db.AppendPendingVote(store.PendingVote{SongID: song, Value: "calm", Kind: KindMood, QueuedAt: time.Now()})
	}

	if _, err := q.Drain(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	want := []string{"first", "second", "third"}
	for i, song := range want {
		if f.submitted[i] != song {
			t.Errorf("submission %d: expected %s, got %s", i, song, f.submitted[i])
		}
	}
}

func TestDrainDropsMalformedRatingWithoutCooldown(t *testing.T) {
	f := &fakeSubmitter{}
	q, db := newTestQueue(t, f)

	db.AppendPendingVote(store.PendingVote{SongID: "s1", Value: "4", Kind: KindRating, QueuedAt: time.Now()})
	db.AppendPendingVote(store.PendingVote{SongID: "s2", Value: "banana", Kind: KindRating, QueuedAt: time.Now()})
	db.AppendPendingVote(store.PendingVote{SongID: "s3", Value: "calm", Kind: KindMood, QueuedAt: time.Now()})

	submitted, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if submitted != 2 {
		t.Errorf("expected 2 submitted, got %d", submitted)
	}
	if n, _ := db.PendingCount(); n != 0 {
		t.Errorf("expected empty queue, got %d entries", n)
	}
	// The dropped entry never reached the server, so s2 stays free to vote.
	if _, ok, _ := db.Cooldown("s2"); ok {
		t.Error("dropped entry must not record a cooldown")
	}
	for _, song := range []string{"s1", "s3"} {
		if _, ok, _ := db.Cooldown(song); !ok {
			t.Errorf("expected cooldown recorded for %s after drain", song)
		}
	}
	want := []string{"s1", "s3"}
	for i, song := range want {
		if f.submitted[i] != song {
			t.Errorf("submission %d: expected %s, got %s", i, song, f.submitted[i])
		}
	}
}

func TestVocabularyAcceptsCanonicalTags(t *testing.T) {
	if !ValidTag("energetic", KindMood) {
		t.Error("energetic should be a valid mood")
	}
	if !ValidTag("darksynth", KindGenre) {
		t.Error("darksynth should be a valid genre")
	}
	if ValidTag("energetic", KindGenre) {
		t.Error("mood tags are not genres")
	}
	if ValidTag("energetic", "rating") {
		t.Error("rating kind carries no tag vocabulary")
	}
}
