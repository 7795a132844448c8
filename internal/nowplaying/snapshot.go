// Package nowplaying defines the now-playing snapshot model shared by the
// status poller, the realtime channel, and the orchestrator.
package nowplaying

import "time"

// Steering modes reported by the station backend.
const (
	SteeringAuto   = "auto"
	SteeringManual = "manual"
)

// Rating is the per-song rating aggregate. Average is always recomputed
// from the distribution, never adjusted incrementally.
type Rating struct {
	Average      float64     `json:"average"`
	Total        int         `json:"total"`
	Distribution map[int]int `json:"distribution,omitempty"`
}

// Recompute derives Average and Total from the distribution. A nil or
// empty distribution yields zero for both.
func (r *Rating) Recompute() {
	total := 0
	weighted := 0
	for star, count := range r.Distribution {
		if star < 1 || star > 5 || count <= 0 {
			continue
		}
		total += count
		weighted += star * count
	}
	r.Total = total
	if total == 0 {
		r.Average = 0
		return
	}
	r.Average = float64(weighted) / float64(total)
}

// AddVote records one vote (1-5 stars) in the distribution and recomputes
// the aggregate. Out-of-range stars are ignored.
func (r *Rating) AddVote(star int) {
	if star < 1 || star > 5 {
		return
	}
	if r.Distribution == nil {
		r.Distribution = make(map[int]int)
	}
	r.Distribution[star]++
	r.Recompute()
}

// Song holds the metadata for one broadcast track.
type Song struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Artist     string         `json:"artist"`
	Album      string         `json:"album"`
	ArtURL     string         `json:"art_url"`
	Rating     Rating         `json:"rating"`
	TopMood    string         `json:"top_mood"`
	MoodCounts map[string]int `json:"mood_counts,omitempty"`
}

// Steering reflects the station's track-selection bias state.
type Steering struct {
	Mode   string `json:"mode"`
	Target string `json:"target,omitempty"`
}

// Snapshot is a point-in-time now-playing record. It is immutable once
// decoded; each poll or push cycle supersedes the previous one. Track
// changes are detected by comparing Song.ID.
type Snapshot struct {
	Song      Song      `json:"song"`
	NextSong  *Song     `json:"next_song,omitempty"`
	Listeners int       `json:"listener_count"`
	IsOnline  bool      `json:"is_online"`
	IsLive    bool      `json:"is_live"`
	Steering  Steering  `json:"steering"`
	FetchedAt time.Time `json:"-"`
}

// SameSong reports whether other carries the same track as s. A nil other
// never matches.
func (s *Snapshot) SameSong(other *Snapshot) bool {
	if s == nil || other == nil {
		return false
	}
	return s.Song.ID == other.Song.ID
}

// HistoryEntry is one row of the station's play history.
type HistoryEntry struct {
	Song     Song      `json:"song"`
	PlayedAt time.Time `json:"played_at"`
}

// ScheduleEntry is one programme block from the station schedule.
type ScheduleEntry struct {
	Name        string    `json:"name"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description,omitempty"`
}
