// File: cmd/hioload-broadcast/main.go
// Package main
// WebSocket broadcast server: every text message from any client is sent to
// all connected clients, sender included.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/momentics/hioload-broadcast/adapters"
	"github.com/momentics/hioload-broadcast/control"
	"github.com/momentics/hioload-broadcast/internal/logger"
	"github.com/momentics/hioload-broadcast/internal/tracing"
	"github.com/momentics/hioload-broadcast/relay"
	"github.com/momentics/hioload-broadcast/server"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "hioload-broadcast:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("hioload-broadcast", pflag.ContinueOnError)
	control.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, _ := fs.GetString("config")

	settings, v, err := control.LoadConfig(path, fs)
	if err != nil {
		return err
	}

	log, level, err := logger.New(logger.Config{
		Level:      settings.Log.Level,
		Format:     logger.Format(settings.Log.Format),
		File:       settings.Log.File,
		MaxSizeMB:  settings.Log.MaxSizeMB,
		MaxBackups: settings.Log.MaxBackups,
		MaxAgeDays: settings.Log.MaxAgeDays,
		Compress:   settings.Log.Compress,
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reloader := control.NewReloader(v, log.Named("config"))
	reloader.OnReload(func(s *control.Settings) {
		lvl, err := logger.ParseLevel(s.Log.Level)
		if err != nil {
			log.Warn("ignoring log level", zap.String("level", s.Log.Level), zap.Error(err))
			return
		}
		if level.Level() != lvl {
			level.SetLevel(lvl)
			log.Info("log level changed", zap.Stringer("level", lvl))
		}
	})
	reloader.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tcfg := tracing.DefaultConfig()
	tcfg.Enabled = settings.Tracing.Enabled
	tcfg.SampleRatio = settings.Tracing.SampleRatio
	tcfg.ServiceVersion = version
	tp, err := tracing.NewProvider(tcfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	ctrl := adapters.NewControlAdapter()
	opts := []server.ServerOption{
		server.WithLogger(log),
		server.WithControl(ctrl),
		server.WithTracerProvider(tp),
	}
	if settings.Relay.Enabled {
		r, err := relay.DialRedis(ctx, relay.RedisConfig{
			Addr:    settings.Relay.Addr,
			Channel: settings.Relay.Channel,
		}, log.Named("relay"))
		if err != nil {
			return err
		}
		log.Info("relay connected", zap.String("addr", settings.Relay.Addr), zap.String("node", r.Node()))
		opts = append(opts, server.WithRelay(r))
	}

	engine := server.NewEngine(server.ConfigFromSettings(settings.Server), opts...)
	log.Info("starting", zap.String("version", version), zap.String("addr", settings.Server.Addr()),
		zap.Strings("probes", ctrl.DebugProbeNames()))

	err = engine.Run(ctx)
	log.Info("stopped", zap.Any("stats", engine.Stats()))
	return err
}
