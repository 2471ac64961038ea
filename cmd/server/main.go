package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trudenboy/msx-music-assistant/internal/bridge"
	"github.com/trudenboy/msx-music-assistant/internal/encoder"
	"github.com/trudenboy/msx-music-assistant/internal/platform/config"
	"github.com/trudenboy/msx-music-assistant/internal/platform/logger"
	"github.com/trudenboy/msx-music-assistant/internal/platform/metrics"
	"github.com/trudenboy/msx-music-assistant/internal/upstream"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8099")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	upstreamURL := config.GetEnv("UPSTREAM_URL", "http://localhost:8095")
	ffmpegPath := config.GetEnv("FFMPEG_PATH", "ffmpeg")

	cfg := bridge.Config{
		OutputCodec:     bridge.ParseCodec(config.GetEnv("OUTPUT_FORMAT", "mp3")),
		PreBufferBytes:  config.GetEnvInt("PRE_BUFFER_BYTES", bridge.DefaultPreBufferBytes),
		RingChunks:      config.GetEnvInt("GROUP_RING_CHUNKS", bridge.DefaultRingChunks),
		SubQueueChunks:  config.GetEnvInt("GROUP_SUB_QUEUE_CHUNKS", bridge.DefaultSubQueueChunks),
		IdleTimeout:     config.GetEnvDuration("IDLE_TIMEOUT", 30*time.Minute),
		GroupingEnabled: config.GetEnvBool("GROUPING_ENABLED", true),
		ShowStopPrompt:  config.GetEnvBool("SHOW_STOP_NOTIFICATION", false),
		StopOrder:       bridge.ParseStopOrder(config.GetEnv("STOP_SIGNAL_ORDER", "abort_first")),
	}

	log := logger.New(logLevel, logFormat)
	met := metrics.New()

	up := upstream.New(upstreamURL)
	reg := bridge.NewRegistry(cfg, log)
	sessions := bridge.NewSessionRegistry(log)
	groups := bridge.NewGroupRelayCache(cfg.RingChunks, cfg.SubQueueChunks, log)
	hub := bridge.NewHub(reg, log)
	hub.SetCounters(met.IncPushSent, met.IncPushReceived)
	reg.SetNotifier(hub)
	reg.SetSessions(sessions)
	reg.SetGroupRelays(groups)
	reg.SetTranslator(bridge.NewQueueTranslator(up, log))

	h := bridge.NewHandler(bridge.HandlerDeps{
		Log:     log,
		Metrics: met,
		Reg:     reg,
		Hub:     hub,
		Relay:   bridge.NewAudioRelay(sessions, cfg.PreBufferBytes, log),
		Groups:  groups,
		Source:  up,
		Encoder: encoder.New(ffmpegPath, log),
		Queues:  up,
		Ctrl:    up,
		Library: up,
	})

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() {
			met.SetRegisteredRenderers(reg.Count())
			met.SetOpenAudioSessions(sessions.OpenCount())
		}).ServeHTTP(w, req)
	})
	h.Routes(r)

	srv := &http.Server{Addr: ":" + port, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return reg.RunMaintenance(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown signal received, draining connections")
		groups.Close()
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shCtx)
	})

	log.Info("server starting",
		"port", port,
		"upstream", upstreamURL,
		"output_format", string(cfg.OutputCodec),
		"grouping_enabled", cfg.GroupingEnabled,
	)

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
