// Package main is the entry point for the Stellar offline player backend.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-offline-player/internal/audio"
	"github.com/edumarques81/stellar-offline-player/internal/config"
	"github.com/edumarques81/stellar-offline-player/internal/domain/catalog"
	"github.com/edumarques81/stellar-offline-player/internal/domain/history"
	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
	"github.com/edumarques81/stellar-offline-player/internal/domain/player"
	"github.com/edumarques81/stellar-offline-player/internal/infra/assetcache"
	"github.com/edumarques81/stellar-offline-player/internal/infra/cache"
	"github.com/edumarques81/stellar-offline-player/internal/infra/mpd"
	"github.com/edumarques81/stellar-offline-player/internal/infra/netmon"
	"github.com/edumarques81/stellar-offline-player/internal/transport/rest"
	"github.com/edumarques81/stellar-offline-player/internal/transport/socketio"
	"github.com/edumarques81/stellar-offline-player/internal/version"
)

// snapshotInterval is how often the playback snapshot is persisted.
const snapshotInterval = 5 * time.Second

func main() {
	cfg, err := config.Parse(os.Args[1:])

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Print startup banner
	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Offline Music Player Backend")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("port", cfg.Port).
		Str("data_dir", cfg.DataDir).
		Str("output", cfg.Output).
		Str("index", cfg.Index.URL).
		Int("inline_tracks", len(cfg.Index.Tracks)).
		Str("order", cfg.Index.Order).
		Msg("Configuration")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to create data directory")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	db := cache.NewDB(cfg.DBPath)
	if err := db.Open(); err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	dao := cache.NewDAO(db)
	dao.LogStats()
	songs := cache.NewSongStore(dao)
	hist := history.NewStore(cfg.DataDir)
	defer hist.Flush()

	// Connectivity and asset cache
	monitor := netmon.New(false,
		netmon.WithInterval(cfg.Netmon.Interval),
		netmon.WithProbeURL(cfg.Netmon.ProbeURL),
	)
	monitor.Poll(ctx)

	assets := assetcache.New(cfg.AssetDir(), dao, monitor,
		assetcache.WithFetcher(assetcache.NewHTTPFetcher(assetcache.WithUserAgent(version.UserAgent()))),
		assetcache.WithMediaHost(cfg.MediaHost),
	)
	defer assets.Close()

	// Track catalog
	var source catalog.Source
	if cfg.Index.URL != "" {
		source = catalog.NewHTTPIndex(cfg.Index.URL, catalog.WithUserAgent(version.UserAgent()))
	} else {
		source = catalog.NewStaticIndex(cfg.Index.Tracks)
	}
	catalogSvc := catalog.NewService(source, songs, assets, monitor,
		catalog.WithOrder(catalog.Order(cfg.Index.Order), hist),
	)
	defer catalogSvc.Wait()

	// Playback output
	audioStatus := audio.NewController()
	var pinger rest.Pinger

	var out player.Output
	switch cfg.Output {
	case config.OutputMPD:
		client := mpd.NewClient(cfg.MPD.Host, cfg.MPD.Port, cfg.MPD.Password)
		if err := client.Connect(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MPD")
		}
		defer client.Close()
		if err := client.Ping(); err != nil {
			log.Fatal().Err(err).Msg("MPD ping failed")
		}
		log.Info().Msg("MPD connection verified")
		pinger = client

		// MPD streams through the local proxy so cached tracks play offline
		base := "http://127.0.0.1:" + cfg.Port
		opts := []mpd.OutputOption{
			mpd.WithURIMapper(func(t music.Track) string { return rest.AssetURL(base, t.AudioLocator) }),
			mpd.WithStatusSink(audioStatus),
		}
		if changes, err := client.Watch("player", "mixer"); err != nil {
			log.Warn().Err(err).Msg("MPD watcher unavailable, polling only")
		} else {
			opts = append(opts, mpd.WithChanges(changes))
		}
		out = mpd.NewOutput(client, opts...)
	case config.OutputNull:
		out = player.NewNullOutput(audio.DefaultTickInterval)
	default:
		out = audio.NewSpeakerOutput(assets, audio.WithStatus(audioStatus))
	}

	engine := player.NewEngine(out,
		player.WithPlayRecorder(hist),
		player.WithDurationSink(func(id string, seconds float64) {
			if err := songs.UpdateDuration(id, seconds); err != nil {
				log.Warn().Err(err).Str("id", id).Msg("Failed to persist duration")
			}
		}),
	)
	defer engine.Close()

	bridge := player.NewBridge(engine, dao)
	defer bridge.Persist()

	// Initial track list
	if tracks, err := catalogSvc.ResolveTracks(ctx); err != nil {
		log.Warn().Err(err).Msg("No tracks available at startup")
	} else {
		bridge.Prime(tracks)
		log.Info().Int("tracks", len(tracks)).Msg("Track list ready")
	}

	bridge.Watch(ctx, snapshotInterval)
	monitor.Start(ctx)
	catalogSvc.Watch(ctx, engine.SetTracks, func(err error) {
		log.Warn().Err(err).Msg("Track refetch failed")
	})

	if cfg.Preload.Timeout > 0 {
		go engine.PreloadDurations(ctx, audio.NewMP3Prober(assets), cfg.Preload.Timeout)
	}
	if len(cfg.ShellAssets) > 0 {
		go func() {
			if err := assets.PrecacheShell(ctx, cfg.ShellAssets); err != nil {
				log.Warn().Err(err).Msg("Shell precache incomplete")
			}
		}()
	}

	// Create Socket.io server
	socketServer, err := socketio.NewServer(socketio.Deps{
		Player:    engine,
		Snapshots: bridge,
		Tracks:    catalogSvc,
		Network:   monitor,
		Cache:     assets,
		History:   hist,
		Audio:     audioStatus,
	},
		socketio.WithBroadcastWindow(cfg.Broadcast.Window),
		socketio.WithMaxExternalClients(cfg.Broadcast.MaxExternalClients),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Socket.io server")
	}
	defer socketServer.Close()
	socketServer.Start()

	restServer, err := rest.NewServer(rest.Deps{
		Player:  engine,
		Assets:  assets,
		Network: monitor,
		Cache:   assets,
		Audio:   audioStatus,
		Output:  pinger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create REST server")
	}

	// Setup HTTP server
	mux := http.NewServeMux()
	mux.Handle("/socket.io/", socketServer)
	restServer.Register(mux)

	// Serve static files if directory specified (SPA mode)
	if cfg.Static != "" {
		log.Info().Str("dir", cfg.Static).Msg("Serving static files")
		mux.Handle("/", spaHandler(cfg.Static))
	}

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     corsMiddleware(mux),
		ReadTimeout: 30 * time.Second,
		// no WriteTimeout: /asset streams whole tracks
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", ":"+cfg.Port).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	log.Info().Msg("Server stopped")
}

// spaHandler serves files under dir and falls back to index.html for unknown paths.
func spaHandler(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	index := filepath.Join(dir, "index.html")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.ServeFile(w, r, index)
			return
		}
		if _, err := os.Stat(filepath.Join(dir, filepath.Clean(r.URL.Path))); os.IsNotExist(err) {
			http.ServeFile(w, r, index)
			return
		}
		fs.ServeHTTP(w, r)
	})
}
