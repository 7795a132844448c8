// Package votes submits rating and mood/genre tag votes for the currently
// playing song, honoring a per-song cooldown and tolerating offline
// submission through a durable pending queue.
package votes

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/halcyonfm/halcyon/internal/api"
	"github.com/halcyonfm/halcyon/internal/nowplaying"
	"github.com/halcyonfm/halcyon/internal/store"
)

// DefaultCooldown is the minimum window between accepted votes for the
// same song id. Client-side only; the server enforces its own window.
const DefaultCooldown = 5 * time.Minute

// errMalformedEntry marks a pending entry whose stored value cannot be
// submitted. The drain drops it without treating it as a success.
var errMalformedEntry = errors.New("malformed pending entry")

// Vote kinds.
const (
	KindRating = "rating"
	KindMood   = "mood"
	KindGenre  = "genre"
)

// Outcome classifies the local result of a submission attempt.
type Outcome int

const (
	// OutcomeAccepted means the server confirmed the vote.
	OutcomeAccepted Outcome = iota
	// OutcomeQueued means the client was offline and the vote was stored
	// without a network attempt.
	OutcomeQueued
	// OutcomeRetryLater means the request failed and the vote was stored
	// for a later drain.
	OutcomeRetryLater
	// OutcomeCooldown means a vote for this song id was accepted too
	// recently. Rejected locally, no network call.
	OutcomeCooldown
	// OutcomeNoSong means no track is currently playing. Rejected
	// locally, no network call.
	OutcomeNoSong
	// OutcomeInvalid means the vote value failed validation (rating out
	// of range, tag outside the vocabulary).
	OutcomeInvalid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeQueued:
		return "queued"
	case OutcomeRetryLater:
		return "will retry"
	case OutcomeCooldown:
		return "cooldown"
	case OutcomeNoSong:
		return "no active song"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// DisplayRating is the aggregate to show after a rating submission.
// Optimistic marks a locally estimated value that must never be persisted
// as server-confirmed.
type DisplayRating struct {
	Average    float64
	Total      int
	Optimistic bool
}

// Result is the local outcome of a submission.
type Result struct {
	Outcome Outcome
	Rating  *DisplayRating
}

// Submitter is the slice of the station API the queue needs.
type Submitter interface {
	Rate(ctx context.Context, songID string, rating int) (*api.RateResult, error)
	MoodTag(ctx context.Context, songID, tag, kind string) (*api.TagResult, error)
}

// Queue coordinates vote submission, cooldowns, and the pending queue.
type Queue struct {
	submitter Submitter
	db        *store.DB
	cooldown  time.Duration
	online    atomic.Bool
	now       func() time.Time

	// drainMu serializes drains so entries are processed strictly in
	// enqueue order, never concurrently.
	drainMu sync.Mutex
}

// NewQueue creates a vote queue backed by the given store. The queue
// starts in the online state.
func NewQueue(submitter Submitter, db *store.DB) *Queue {
	q := &Queue{
		submitter: submitter,
		db:        db,
		cooldown:  DefaultCooldown,
		now:       time.Now,
	}
	q.online.Store(true)
	return q
}

// SetCooldownWindow overrides the cooldown window. Zero or negative
// restores the default.
func (q *Queue) SetCooldownWindow(d time.Duration) {
	if d <= 0 {
		d = DefaultCooldown
	}
	q.cooldown = d
}

// SetOnline updates the queue's view of network reachability.
func (q *Queue) SetOnline(online bool) {
	q.online.Store(online)
}

// Online reports the queue's current view of network reachability.
func (q *Queue) Online() bool {
	return q.online.Load()
}

// hasActiveSong reports whether songID identifies a playable track rather
// than an empty or placeholder id.
func hasActiveSong(songID string) bool {
	return songID != "" && songID != "0"
}

// inCooldown reports whether a vote for songID was accepted within the
// cooldown window. Cooldowns are keyed by track identity, so a repeated
// track inherits the earlier window.
func (q *Queue) inCooldown(songID string) bool {
	votedAt, ok, err := q.db.Cooldown(songID)
	if err != nil {
		log.Warn().Err(err).Str("song_id", songID).Msg("Cooldown lookup failed")
		return false
	}
	return ok && q.now().Sub(votedAt) < q.cooldown
}

// SubmitRating submits a 1-5 star rating for songID. prior is the
// currently displayed aggregate, used for the optimistic fallback when the
// server response omits one.
func (q *Queue) SubmitRating(ctx context.Context, songID string, stars int, prior nowplaying.Rating) Result {
	if !hasActiveSong(songID) {
		return Result{Outcome: OutcomeNoSong}
	}
	if stars < 1 || stars > 5 {
		return Result{Outcome: OutcomeInvalid}
	}
	if q.inCooldown(songID) {
		return Result{Outcome: OutcomeCooldown}
	}

	vote := store.PendingVote{
		SongID:   songID,
		Value:    strconv.Itoa(stars),
		Kind:     KindRating,
		QueuedAt: q.now(),
	}

	if !q.Online() {
		q.enqueue(vote)
		return Result{Outcome: OutcomeQueued}
	}

	res, err := q.submitter.Rate(ctx, songID, stars)
	if err != nil {
		log.Warn().Err(err).Str("song_id", songID).Msg("Rating submission failed, queueing")
		q.enqueue(vote)
		return Result{Outcome: OutcomeRetryLater}
	}

	q.markVoted(songID)

	display := &DisplayRating{Average: res.Average, Total: res.Total}
	if !res.Confirmed {
		display.Total = prior.Total + 1
		display.Average = (prior.Average*float64(prior.Total) + float64(stars)) / float64(display.Total)
		display.Optimistic = true
	}
	return Result{Outcome: OutcomeAccepted, Rating: display}
}

// SubmitTag submits a mood or genre tag vote for songID.
func (q *Queue) SubmitTag(ctx context.Context, songID, tag, kind string) Result {
	if !hasActiveSong(songID) {
		return Result{Outcome: OutcomeNoSong}
	}
	if !ValidTag(tag, kind) {
		return Result{Outcome: OutcomeInvalid}
	}
	if q.inCooldown(songID) {
		return Result{Outcome: OutcomeCooldown}
	}

	vote := store.PendingVote{
		SongID:   songID,
		Value:    tag,
		Kind:     kind,
		QueuedAt: q.now(),
	}

	if !q.Online() {
		q.enqueue(vote)
		return Result{Outcome: OutcomeQueued}
	}

	if _, err := q.submitter.MoodTag(ctx, songID, tag, kind); err != nil {
		log.Warn().Err(err).Str("song_id", songID).Str("tag", tag).Msg("Tag submission failed, queueing")
		q.enqueue(vote)
		return Result{Outcome: OutcomeRetryLater}
	}

	q.markVoted(songID)
	return Result{Outcome: OutcomeAccepted}
}

// enqueue appends a vote to the tail of the durable pending queue.
// Failed resends also land at the tail: ordering is best effort, not
// strict FIFO.
func (q *Queue) enqueue(vote store.PendingVote) {
	if _, err := q.db.AppendPendingVote(vote); err != nil {
		log.Error().Err(err).Str("song_id", vote.SongID).Msg("Failed to persist pending vote")
	}
}

func (q *Queue) markVoted(songID string) {
	if err := q.db.SetCooldown(songID, q.now()); err != nil {
		log.Warn().Err(err).Str("song_id", songID).Msg("Failed to persist cooldown")
	}
}

// Drain attempts the pending queue sequentially in stored order. The
// first failure stops the drain, preserving the remaining entries in
// order for the next attempt. Returns the number of entries submitted.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	pending, err := q.db.PendingVotes()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	log.Info().Int("pending", len(pending)).Msg("Draining pending votes")

	submitted := 0
	for _, v := range pending {
		if err := ctx.Err(); err != nil {
			return submitted, err
		}
		err := q.submitOne(ctx, v)
		if errors.Is(err, errMalformedEntry) {
			// Drop the entry rather than wedge the queue. Nothing was
			// submitted, so no cooldown and no count.
			log.Error().Str("song_id", v.SongID).Str("value", v.Value).
				Msg("Dropping malformed pending vote")
			if err := q.db.RemovePendingVote(v.ID); err != nil {
				return submitted, err
			}
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("song_id", v.SongID).Int("remaining", len(pending)-submitted).
				Msg("Drain stopped on failed submission")
			return submitted, err
		}
		if err := q.db.RemovePendingVote(v.ID); err != nil {
			return submitted, err
		}
		// Cooldown starts at confirmation time, so a just-drained vote
		// cannot be immediately duplicated by the user.
		q.markVoted(v.SongID)
		submitted++
	}
	return submitted, nil
}

func (q *Queue) submitOne(ctx context.Context, v store.PendingVote) error {
	switch v.Kind {
	case KindRating:
		stars, err := strconv.Atoi(v.Value)
		if err != nil {
			return errMalformedEntry
		}
		_, err = q.submitter.Rate(ctx, v.SongID, stars)
		return err
	default:
		_, err := q.submitter.MoodTag(ctx, v.SongID, v.Value, v.Kind)
		return err
	}
}

// PendingCount returns the number of votes awaiting submission.
func (q *Queue) PendingCount() int {
	n, err := q.db.PendingCount()
	if err != nil {
		log.Warn().Err(err).Msg("Pending count failed")
		return 0
	}
	return n
}
