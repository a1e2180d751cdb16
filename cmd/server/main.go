package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	router "github.com/dkeye/Classroom/internal/adapters/http"
	wsrelay "github.com/dkeye/Classroom/internal/adapters/signal"
	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/config"
)

func main() {
	port := pflag.IntP("port", "p", 0, "listen port, overrides the config file")
	statsEvery := pflag.Duration("stats", time.Minute, "group stats log period, 0 disables")
	pflag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	if *port > 0 {
		cfg.Port = *port
	}

	relay := app.NewRelay(app.NewGroupManager(), app.SimplePolicy{})
	ctrl := wsrelay.NewRelayWSController(relay, wsrelay.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		RateLimit:  cfg.Relay.RateLimit,
		RateWindow: cfg.Relay.RateWindow,
	})

	r := router.SetupRouter(ctx, cfg, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Classroom relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	if *statsEvery > 0 {
		go logStats(ctx, relay, *statsEvery)
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func logStats(ctx context.Context, relay *app.Relay, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			groups := relay.Groups.List()
			ev := log.Info().Str("module", "server").Int("connections", relay.Connections()).Int("groups", len(groups))
			for _, g := range groups {
				ev = ev.Int("group."+string(g.ID), g.MemberCount)
			}
			ev.Msg("relay stats")
		}
	}
}
