// Command vigild runs the ingestion engine as a daemon: a cron scheduler
// firing the four feed buckets plus an HTTP surface for manual runs.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vigilsec/vigil/libingest"
)

type config struct {
	HTTPListenAddr string
	StoreURL       string
	StoreKey       string
	LogLevel       string
	Budget         int
	NoSchedule     bool
}

func loadConfig() config {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()
	budget, _ := strconv.Atoi(os.Getenv("SUBREQUEST_BUDGET"))
	addr := os.Getenv("HTTP_LISTEN_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8080"
	}
	return config{
		HTTPListenAddr: addr,
		StoreURL:       os.Getenv("SUPABASE_URL"),
		StoreKey:       os.Getenv("SUPABASE_KEY"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		Budget:         budget,
		NoSchedule:     os.Getenv("SCHEDULE_DISABLED") == "true",
	}
}

func logLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func main() {
	conf := loadConfig()
	zerolog.SetGlobalLevel(logLevel(conf.LogLevel))
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	ctx := log.Logger.WithContext(context.Background())
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.StoreURL == "" || conf.StoreKey == "" {
		log.Fatal().Msg("SUPABASE_URL and SUPABASE_KEY are required")
	}

	eng, err := libingest.New(ctx, libingest.Options{
		StoreURL: conf.StoreURL,
		StoreKey: conf.StoreKey,
		Budget:   conf.Budget,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create engine")
	}

	srv := &http.Server{
		Addr:        conf.HTTPListenAddr,
		Handler:     libingest.NewHandler(eng),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	sched := cron.New()
	if !conf.NoSchedule {
		for _, expr := range []string{
			libingest.CronCritical,
			libingest.CronMain,
			libingest.CronDaily,
			libingest.CronWeekly,
		} {
			expr := expr
			if _, err := sched.AddFunc(expr, func() {
				if _, err := eng.RunCron(ctx, expr); err != nil {
					log.Error().Err(err).Str("cron", expr).Msg("scheduled run failed")
				}
			}); err != nil {
				log.Fatal().Err(err).Str("cron", expr).Msg("failed to register schedule")
			}
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", conf.HTTPListenAddr).Msg("starting http server")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sched.Start()
		<-ctx.Done()
		<-sched.Stop().Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("daemon exited")
	}
	log.Info().Msg("shutdown complete")
}
