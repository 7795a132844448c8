package nowplaying

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNoNowPlaying is returned when a status payload carries no now_playing
// section at all. Partial sections elsewhere are tolerated; a missing
// current song is not.
var ErrNoNowPlaying = errors.New("status payload has no now_playing section")

// wireSong is the song shape used by the station backend.
type wireSong struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Artist     string         `json:"artist"`
	Album      string         `json:"album"`
	Art        string         `json:"art"`
	Rating     *wireRating    `json:"rating"`
	TopMood    string         `json:"top_mood"`
	MoodCounts map[string]int `json:"mood_counts"`
}

type wireRating struct {
	Average      float64        `json:"average"`
	Total        int            `json:"total"`
	Distribution map[string]int `json:"distribution"`
}

type wireStatus struct {
	NowPlaying *struct {
		Song *wireSong `json:"song"`
	} `json:"now_playing"`
	PlayingNext *struct {
		Song *wireSong `json:"song"`
	} `json:"playing_next"`
	Listeners struct {
		Current int `json:"current"`
	} `json:"listeners"`
	IsOnline bool `json:"is_online"`
	Live     struct {
		IsLive bool `json:"is_live"`
	} `json:"live"`
	Steering *struct {
		Mode   string `json:"mode"`
		Target string `json:"target"`
	} `json:"steering"`
}

func (w *wireSong) toSong() Song {
	s := Song{
		ID:         w.ID,
		Title:      w.Title,
		Artist:     w.Artist,
		Album:      w.Album,
		ArtURL:     w.Art,
		TopMood:    w.TopMood,
		MoodCounts: w.MoodCounts,
	}
	if w.Rating != nil {
		s.Rating.Average = w.Rating.Average
		s.Rating.Total = w.Rating.Total
		if len(w.Rating.Distribution) > 0 {
			s.Rating.Distribution = make(map[int]int, len(w.Rating.Distribution))
			for star, count := range w.Rating.Distribution {
				switch star {
				case "1", "2", "3", "4", "5":
					s.Rating.Distribution[int(star[0]-'0')] = count
				}
			}
		}
	}
	return s
}

// DecodeStatus parses a station status payload into a Snapshot.
func DecodeStatus(data []byte) (*Snapshot, error) {
	var w wireStatus
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.NowPlaying == nil || w.NowPlaying.Song == nil {
		return nil, ErrNoNowPlaying
	}

	snap := &Snapshot{
		Song:      w.NowPlaying.Song.toSong(),
		Listeners: w.Listeners.Current,
		IsOnline:  w.IsOnline,
		IsLive:    w.Live.IsLive,
		FetchedAt: time.Now(),
	}
	if w.PlayingNext != nil && w.PlayingNext.Song != nil {
		next := w.PlayingNext.Song.toSong()
		snap.NextSong = &next
	}
	if w.Steering != nil {
		snap.Steering.Mode = w.Steering.Mode
		snap.Steering.Target = w.Steering.Target
	} else {
		snap.Steering.Mode = SteeringAuto
	}
	return snap, nil
}

// DecodeSongEvent parses a push-channel song message into a Snapshot. The
// message carries the song object directly rather than a full status
// payload; listener count and liveness default to their zero values and
// the orchestrator treats the result exactly like a poll result.
func DecodeSongEvent(data []byte) (*Snapshot, error) {
	var w struct {
		Song      *wireSong `json:"song"`
		Listeners int       `json:"listeners"`
		IsLive    bool      `json:"is_live"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.Song == nil {
		return nil, ErrNoNowPlaying
	}
	return &Snapshot{
		Song:      w.Song.toSong(),
		Listeners: w.Listeners,
		IsOnline:  true,
		IsLive:    w.IsLive,
		Steering:  Steering{Mode: SteeringAuto},
		FetchedAt: time.Now(),
	}, nil
}

// DecodeHistory parses a play-history payload. Both the wrapped form
// {"history": [...]} and a raw array are accepted.
func DecodeHistory(data []byte) ([]HistoryEntry, error) {
	type wireEntry struct {
		Song     *wireSong `json:"song"`
		PlayedAt int64     `json:"played_at"`
	}
	var entries []wireEntry
	var wrapped struct {
		History []wireEntry `json:"history"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.History != nil {
		entries = wrapped.History
	} else if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if e.Song == nil {
			continue
		}
		out = append(out, HistoryEntry{
			Song:     e.Song.toSong(),
			PlayedAt: time.Unix(e.PlayedAt, 0),
		})
	}
	return out, nil
}

// DecodeSchedule parses a schedule payload. Both the wrapped form
// {"schedule": [...]} and a raw array are accepted.
func DecodeSchedule(data []byte) ([]ScheduleEntry, error) {
	type wireEntry struct {
		Name           string `json:"name"`
		StartTimestamp int64  `json:"start_timestamp"`
		EndTimestamp   int64  `json:"end_timestamp"`
		Description    string `json:"description"`
	}
	var entries []wireEntry
	var wrapped struct {
		Schedule []wireEntry `json:"schedule"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Schedule != nil {
		entries = wrapped.Schedule
	} else if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	out := make([]ScheduleEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, ScheduleEntry{
			Name:        e.Name,
			Start:       time.Unix(e.StartTimestamp, 0),
			End:         time.Unix(e.EndTimestamp, 0),
			Description: e.Description,
		})
	}
	return out, nil
}
