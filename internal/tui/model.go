// Package tui is the terminal frontend: one bubbletea model rendering
// the visual engine, the now-playing header and the vote controls.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/halcyonfm/halcyon/internal/api"
	"github.com/halcyonfm/halcyon/internal/app"
	"github.com/halcyonfm/halcyon/internal/nowplaying"
	"github.com/halcyonfm/halcyon/internal/visual"
	"github.com/halcyonfm/halcyon/internal/votes"
)

// headerRows is the fixed number of lines below the visual area.
const headerRows = 4

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff386f")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#7d7d9c"))
	liveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff3838")).Bold(true)
	starStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD75F"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00CED1"))
	offStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff3838")).Reverse(true)
)

// voteSubmitter is the slice of the vote queue the model drives.
type voteSubmitter interface {
	SubmitRating(ctx context.Context, songID string, stars int, prior nowplaying.Rating) votes.Result
	SubmitTag(ctx context.Context, songID, tag, kind string) votes.Result
}

// playbackControl is the slice of the stream controller the model drives.
type playbackControl interface {
	TogglePlay(ctx context.Context) bool
	Playing() bool
}

// steeringVoter submits next-track steering votes.
type steeringVoter interface {
	VoteNext(ctx context.Context, vote string) (*api.Prediction, error)
}

type frameMsg time.Time
type busMsg struct{ ev app.Event }
type voteResultMsg struct{ res votes.Result }
type predictionMsg struct {
	prediction *api.Prediction
	err        error
}

// Model is the bubbletea model for the whole screen.
type Model struct {
	engine *visual.Engine
	player playbackControl
	queue  voteSubmitter
	voter  steeringVoter
	events <-chan app.Event

	snapshot nowplaying.Snapshot
	haveSnap bool
	online   bool
	display  *votes.DisplayRating
	moodIdx  int
	status   string
	frame    string

	width, height int
}

// New creates the model. events is the feed the bus subscriber writes
// into; the model drains it one message per Update.
func New(engine *visual.Engine, player playbackControl, queue voteSubmitter, voter steeringVoter, events <-chan app.Event) Model {
	return Model{
		engine: engine,
		player: player,
		queue:  queue,
		voter:  voter,
		events: events,
	}
}

func frameTick() tea.Cmd {
	return tea.Tick(time.Second/visual.FrameRate, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func waitForEvent(events <-chan app.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return busMsg{ev: ev}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(frameTick(), waitForEvent(m.events))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		rows := msg.Height - headerRows
		if rows < 1 {
			rows = 1
		}
		m.engine.Resize(msg.Width, rows)
		return m, nil

	case frameMsg:
		m.frame = m.engine.Frame()
		return m, frameTick()

	case busMsg:
		m = m.applyEvent(msg.ev)
		return m, waitForEvent(m.events)

	case voteResultMsg:
		m.status = msg.res.Outcome.String()
		if msg.res.Rating != nil {
			m.display = msg.res.Rating
		}
		return m, nil

	case predictionMsg:
		if msg.err != nil {
			m.status = "steering vote failed"
		} else if msg.prediction != nil {
			m.status = fmt.Sprintf("leaning towards %s - %s", msg.prediction.Artist, msg.prediction.Title)
		} else {
			m.status = "steering vote counted"
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) applyEvent(ev app.Event) Model {
	switch ev := ev.(type) {
	case app.SongChanged:
		m.snapshot = ev.Snapshot
		m.haveSnap = true
		m.display = nil
		m.status = ""
	case app.NowPlayingUpdated:
		m.snapshot = ev.Snapshot
		m.haveSnap = true
	case app.ConnectivityChanged:
		m.online = ev.Online
	case app.AnalyserReady:
		m.engine.Init(ev.Analyser)
	case app.PlaybackChanged:
		m.status = string(ev.State)
	}
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "q", "ctrl+c":
		return m, tea.Quit

	case " ":
		player := m.player
		return m, func() tea.Msg {
			player.TogglePlay(context.Background())
			return nil
		}

	case "m":
		m.engine.NextMode()
		m.status = "mode: " + m.engine.Mode().String()
		return m, nil

	case "1", "2", "3", "4", "5":
		stars := int(key[0] - '0')
		songID := m.snapshot.Song.ID
		prior := m.snapshot.Song.Rating
		queue := m.queue
		return m, func() tea.Msg {
			return voteResultMsg{res: queue.SubmitRating(context.Background(), songID, stars, prior)}
		}

	case "tab":
		m.moodIdx = (m.moodIdx + 1) % len(votes.Moods)
		return m, nil

	case "t":
		songID := m.snapshot.Song.ID
		tag := votes.Moods[m.moodIdx]
		queue := m.queue
		return m, func() tea.Msg {
			return voteResultMsg{res: queue.SubmitTag(context.Background(), songID, tag, "mood")}
		}

	case "v":
		voter := m.voter
		return m, func() tea.Msg {
			p, err := voter.VoteNext(context.Background(), "next")
			return predictionMsg{prediction: p, err: err}
		}
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.frame)
	b.WriteByte('\n')
	b.WriteString(m.headerView())
	return b.String()
}

func (m Model) headerView() string {
	if !m.haveSnap {
		return dimStyle.Render("tuning in...")
	}

	song := m.snapshot.Song
	icon := "⏸"
	if m.player != nil && m.player.Playing() {
		icon = "▶"
	}

	title := titleStyle.Render(fmt.Sprintf("%s %s - %s", icon, song.Artist, song.Title))
	if m.snapshot.IsLive {
		title += " " + liveStyle.Render("LIVE")
	}

	avg := song.Rating.Average
	total := song.Rating.Total
	optimistic := ""
	if m.display != nil {
		avg = m.display.Average
		total = m.display.Total
		if m.display.Optimistic {
			optimistic = " ~"
		}
	}
	info := starStyle.Render(starBar(avg)) +
		dimStyle.Render(fmt.Sprintf(" %.1f (%d)%s", avg, total, optimistic)) +
		dimStyle.Render(fmt.Sprintf("  ♫ %d listening", m.snapshot.Listeners))
	if song.TopMood != "" {
		info += dimStyle.Render("  mood: " + song.TopMood)
	}

	controls := dimStyle.Render("mood ") + statusStyle.Render(votes.Moods[m.moodIdx]) +
		dimStyle.Render("  [1-5] rate  [t] tag  [v] next  [space] play  [m] mode  [q] quit")

	status := statusStyle.Render(m.status)
	if !m.online {
		status = offStyle.Render(" OFFLINE ") + " " + status
	}

	return strings.Join([]string{title, info, controls, status}, "\n")
}

// starBar renders a five-star meter for an average rating.
func starBar(avg float64) string {
	full := int(avg + 0.5)
	if full > 5 {
		full = 5
	}
	return strings.Repeat("★", full) + strings.Repeat("☆", 5-full)
}
