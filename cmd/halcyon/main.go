// Package main is the entry point for the Halcyon radio client.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/halcyonfm/halcyon/internal/api"
	"github.com/halcyonfm/halcyon/internal/app"
	"github.com/halcyonfm/halcyon/internal/realtime"
	"github.com/halcyonfm/halcyon/internal/status"
	"github.com/halcyonfm/halcyon/internal/store"
	"github.com/halcyonfm/halcyon/internal/stream"
	"github.com/halcyonfm/halcyon/internal/tui"
	"github.com/halcyonfm/halcyon/internal/version"
	"github.com/halcyonfm/halcyon/internal/visual"
	"github.com/halcyonfm/halcyon/internal/votes"
)

func main() {
	// Command line flags
	apiURL := flag.String("api", "https://radio.halcyon.fm/api", "Station API base URL")
	wsURL := flag.String("ws", "wss://radio.halcyon.fm/ws", "Station realtime websocket URL")
	streamURL := flag.String("stream", "https://radio.halcyon.fm/stream.mp3", "Audio stream URL")
	backend := flag.String("backend", "local", "Playback backend: local or mpd")
	mpdAddr := flag.String("mpd-addr", "localhost:6600", "MPD address for the mpd backend")
	mpdPassword := flag.String("mpd-password", "", "MPD password")
	dbPath := flag.String("db", store.DefaultDBPath, "Path to the client state database")
	pollInterval := flag.Duration("poll-interval", status.DefaultInterval, "Status poll interval")
	showVersion := flag.Bool("version", false, "Print version and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}

	// Setup logging. The terminal belongs to the UI, so logs go to a file
	// next to the database.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	logFile, err := os.OpenFile("halcyon.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err == nil {
		defer logFile.Close()
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: logFile, TimeFormat: time.RFC3339, NoColor: true})
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Terminal Radio Companion")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("api", *apiURL).
		Str("ws", *wsURL).
		Str("stream", *streamURL).
		Str("backend", *backend).
		Dur("poll_interval", *pollInterval).
		Msg("Configuration")

	// Open the client state database
	db := store.NewDB(*dbPath)
	if err := db.Open(); err != nil {
		log.Fatal().Err(err).Msg("Failed to open state database")
	}
	defer db.Close()

	// Station API client and vote queue
	client := api.NewClient(*apiURL, api.WithUserAgent(versionInfo.String()))
	queue := votes.NewQueue(client, db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Application bus and orchestrator
	bus := app.NewBus()
	bus.Start(ctx)

	orch := app.NewOrchestrator(bus, queue)
	orch.Run(ctx)

	coalescer := app.NewTallyCoalescer(250*time.Millisecond, bus)
	defer coalescer.Stop()

	// Status poller with the realtime channel layered on top
	poller := status.NewPoller(client, *pollInterval)
	poller.Subscribe(orch.HandleSnapshot)
	poller.Start(ctx)
	defer poller.Stop()

	go watchPollFailures(ctx, poller, orch, *pollInterval)

	channel := realtime.NewChannel(*wsURL)
	channel.OnSnapshot(orch.HandleSnapshot)
	channel.OnTally(func(ev realtime.TallyEvent) {
		switch ev.Type {
		case realtime.TypeVote:
			coalescer.Trigger("vote")
		case realtime.TypeSteering:
			coalescer.Trigger("steering")
		}
	})
	channel.Start(ctx)
	defer channel.Close()

	// Playback pipeline
	var playerBackend stream.Backend
	switch *backend {
	case "mpd":
		playerBackend = stream.NewMPDBackend(*mpdAddr, *mpdPassword)
		log.Info().Str("addr", *mpdAddr).Msg("Using MPD playback, visuals run idle")
	default:
		playerBackend = stream.NewLocalBackend(stream.NewAnalyser(stream.DefaultBinCount))
	}

	controller := stream.NewController(playerBackend, *streamURL)
	controller.OnLifecycle(func(ev stream.Event) {
		bus.Publish(app.PlaybackChanged{State: ev})
	})
	controller.OnAnalyserReady(func(a *stream.Analyser) {
		bus.Publish(app.AnalyserReady{Analyser: a})
	})
	defer controller.Close()

	// Terminal UI. The bus subscriber must never block delivery, so a
	// saturated UI drops events rather than stalling the pipeline.
	events := make(chan app.Event, 64)
	bus.Subscribe(func(ev app.Event) {
		select {
		case events <- ev:
		default:
		}
	})

	engine := visual.NewEngine(80, 20)
	model := tui.New(engine, controller, queue, client, events)

	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		log.Fatal().Err(err).Msg("UI terminated with error")
	}

	log.Info().Msg("Shutting down")
}

// watchPollFailures feeds the poller's failure counter into the
// orchestrator's offline policy on the poll cadence.
func watchPollFailures(ctx context.Context, poller *status.Poller, orch *app.Orchestrator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := poller.ConsecutiveFailures(); n > 0 {
				orch.HandlePollFailure(n)
			}
		}
	}
}
