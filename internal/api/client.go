// Package api provides the HTTP client for the station backend: the status
// snapshot, play history, schedule, and the rating and mood-tag vote
// endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/halcyonfm/halcyon/internal/nowplaying"
)

const (
	// DefaultTimeout for HTTP requests. Kept shorter than the poll
	// interval so a hung request cannot stack ticks.
	DefaultTimeout = 4 * time.Second

	// DefaultUserAgent identifies the client to the station backend.
	DefaultUserAgent = "Halcyon/1.0 (https://github.com/halcyonfm/halcyon)"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Client talks to the station backend.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a station API client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status fetches the current now-playing snapshot.
func (c *Client) Status(ctx context.Context) (*nowplaying.Snapshot, error) {
	data, err := c.get(ctx, "/status")
	if err != nil {
		return nil, err
	}
	snap, err := nowplaying.DecodeStatus(data)
	if err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return snap, nil
}

// History fetches the recent play history.
func (c *Client) History(ctx context.Context) ([]nowplaying.HistoryEntry, error) {
	data, err := c.get(ctx, "/history")
	if err != nil {
		return nil, err
	}
	entries, err := nowplaying.DecodeHistory(data)
	if err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return entries, nil
}

// Schedule fetches the station programme schedule.
func (c *Client) Schedule(ctx context.Context) ([]nowplaying.ScheduleEntry, error) {
	data, err := c.get(ctx, "/schedule")
	if err != nil {
		return nil, err
	}
	entries, err := nowplaying.DecodeSchedule(data)
	if err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	return entries, nil
}

// RateResult carries the server-confirmed rating aggregate, when present.
type RateResult struct {
	Average float64
	Total   int
	// Confirmed is false when the server omitted the aggregate and the
	// caller should fall back to an optimistic local estimate.
	Confirmed bool
}

// Rate submits a 1-5 star rating for a song.
func (c *Client) Rate(ctx context.Context, songID string, rating int) (*RateResult, error) {
	body := map[string]any{
		"song_id": songID,
		"rating":  rating,
		"vote":    rating,
	}
	var out struct {
		Ratings *struct {
			Average float64 `json:"average"`
			Total   int     `json:"total"`
		} `json:"ratings"`
	}
	if err := c.post(ctx, "/rate", body, &out); err != nil {
		return nil, err
	}

	res := &RateResult{}
	if out.Ratings != nil {
		res.Average = out.Ratings.Average
		res.Total = out.Ratings.Total
		res.Confirmed = true
	} else {
		log.Debug().Str("song_id", songID).Msg("Rate response carried no aggregate")
	}
	return res, nil
}

// TagResult is the server acknowledgement for a mood/genre tag vote.
type TagResult struct {
	Status string `json:"status"`
	SongID string `json:"song_id"`
	Tag    string `json:"tag"`
}

// MoodTag submits a mood or genre tag vote for a song. kind is "mood" or
// "genre".
func (c *Client) MoodTag(ctx context.Context, songID, tag, kind string) (*TagResult, error) {
	body := map[string]any{
		"song_id": songID,
		"tag":     tag,
		"type":    kind,
	}
	var out TagResult
	if err := c.post(ctx, "/mood-tag", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Prediction describes the track the steering votes currently favor.
type Prediction struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// VoteNext submits a steering vote biasing upcoming track selection.
func (c *Client) VoteNext(ctx context.Context, vote string) (*Prediction, error) {
	var out struct {
		Prediction *Prediction `json:"prediction"`
	}
	if err := c.post(ctx, "/vote-next", map[string]any{"vote": vote}, &out); err != nil {
		return nil, err
	}
	if out.Prediction == nil {
		return &Prediction{}, nil
	}
	return out.Prediction, nil
}
