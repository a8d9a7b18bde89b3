package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/maxpert/groupd/admin"
	"github.com/maxpert/groupd/cfg"
	"github.com/maxpert/groupd/daemon"
	"github.com/maxpert/groupd/groups"
	"github.com/maxpert/groupd/publisher"
	_ "github.com/maxpert/groupd/publisher/sink"
	_ "github.com/maxpert/groupd/publisher/transformer"
	"github.com/maxpert/groupd/session"
	"github.com/maxpert/groupd/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	setupLogging()

	log.Info().Msg("groupd - group membership daemon")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	roster, err := cfg.Roster()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build roster")
		return
	}
	self, err := cfg.Self(roster)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve local daemon")
		return
	}

	// Publisher observes every notification the directory delivers
	var observers []session.Observer
	var pub *publisher.Registry
	if cfg.Config.Publisher.Enabled {
		pub, err = publisher.NewRegistry(publisher.RegistryConfig{
			Daemon:      self.Name,
			Capacity:    cfg.Config.Publisher.LogCapacity,
			SinkConfigs: cfg.Config.Publisher.Sinks,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize membership publisher")
			return
		}
		if err := pub.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start membership publisher")
			return
		}
		defer pub.Stop()
		observers = append(observers, pub)
	}

	dir := session.NewDirectory(self.Name, observers...)
	lb := daemon.NewLoopback()

	engine, err := groups.NewEngine(groups.Config{
		Self:          self,
		Roster:        roster,
		BufferSize:    cfg.Config.Groups.BufferSize,
		NameCacheSize: cfg.Config.Groups.NameCacheSize,
		Notifier:      dir,
		Transport:     lb,
		Sessions:      dir,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize group engine")
		return
	}

	loop := daemon.NewLoop(engine, daemon.Options{
		GatherTimeout: time.Duration(cfg.Config.Watchdog.GatherTimeoutMS) * time.Millisecond,
		CheckInterval: time.Duration(cfg.Config.Watchdog.CheckIntervalMS) * time.Millisecond,
		FailFast:      cfg.Config.Watchdog.FailFast,
	})
	lb.Attach(loop)
	loop.Start()

	collector := telemetry.NewMetricsCollector(loop, 10*time.Second)
	collector.Start()
	defer collector.Stop()

	var srv *http.Server
	if cfg.Config.Admin.Enabled {
		srv = startAdmin(loop, dir)
	}

	log.Info().
		Str("daemon", self.Name).
		Str("proc_id", self.ID.String()).
		Int("roster", roster.NumProcs()).
		Msg("Daemon is operational")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				reload(loop)
				continue
			}
			log.Info().Str("signal", sig.String()).Msg("Shutting down")
			shutdown(srv)
			if err := loop.Stop(); err != nil && !errors.Is(err, daemon.ErrStopped) {
				log.Error().Err(err).Msg("Event loop stopped with error")
			}
			return
		case <-loop.Done():
			shutdown(srv)
			log.Fatal().Err(loop.Err()).Msg("Event loop terminated")
			return
		}
	}
}

func setupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}

func startAdmin(loop *daemon.Loop, dir *session.Directory) *http.Server {
	mux := http.NewServeMux()
	admin.RegisterRoutes(mux, admin.NewAdminHandlers(loop, dir), admin.RouteOptions{
		AuthToken:   cfg.Config.Admin.AuthToken,
		DebugRoutes: cfg.Config.Admin.DebugRoutes,
	})
	if h := telemetry.GetMetricsHandler(); h != nil {
		mux.Handle("/metrics", h)
	}

	addr := net.JoinHostPort(cfg.Config.Admin.BindAddress, strconv.Itoa(cfg.Config.Admin.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Admin server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("Admin server listening")
	return srv
}

func shutdown(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Admin server shutdown failed")
	}
}

// reload re-reads the roster from the configuration file
func reload(loop *daemon.Loop) {
	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		log.Error().Err(err).Msg("Failed to reload configuration")
		return
	}
	roster, err := cfg.Roster()
	if err != nil {
		log.Error().Err(err).Msg("Failed to build reloaded roster")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := loop.Reload(ctx, roster); err != nil {
		log.Error().Err(err).Msg("Roster reload refused")
		return
	}
	log.Info().Int("roster", roster.NumProcs()).Msg("Roster reloaded")
}
