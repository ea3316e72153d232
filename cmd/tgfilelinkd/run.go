package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/silverlynx/tgfilelink/config"
	"github.com/silverlynx/tgfilelink/internal/bot"
	"github.com/silverlynx/tgfilelink/internal/httpedge"
	"github.com/silverlynx/tgfilelink/internal/logging"
	"github.com/silverlynx/tgfilelink/internal/properties"
	"github.com/silverlynx/tgfilelink/internal/stream"
)

const propertiesSweepInterval = 30 * time.Minute

var startTime = time.Now()

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gateway with the given configuration",
	Run:   runApp,
}

func runApp(cmd *cobra.Command, _ []string) {
	log, err := logging.New(false, "info")
	if err != nil {
		panic(err)
	}
	mainLog := log.Named("main")
	mainLog.Info("starting tgfilelinkd")

	config.Load(log, cmd)

	// Re-build the logger now that Dev/LogLevel are known.
	log, err = logging.New(config.ValueOf.Dev, config.ValueOf.LogLevel)
	if err != nil {
		mainLog.Fatal("failed to build logger", zap.Error(err))
	}
	mainLog = log.Named("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := bot.NewRegistry(ctx, log, int(config.ValueOf.ApiID), config.ValueOf.ApiHash, config.ValueOf.UseSessionFile)
	defer registry.Close()

	if _, err := registry.StartPrimary(config.ValueOf.BotToken); err != nil {
		mainLog.Fatal("failed to start primary bot", zap.Error(err))
	}
	registry.StartWorkers(config.ValueOf.MultiTokens, 3, time.Duration(config.ValueOf.WorkerStartTimeoutSeconds)*time.Second)

	props := properties.NewCache(log)
	go props.Sweep(ctx, propertiesSweepInterval)

	streamer := stream.NewStreamer(registry, log)

	runtime := &httpedge.Runtime{
		Registry:   registry,
		Properties: props,
		Streamer:   streamer,
		BaseURL:    config.ValueOf.BaseURL,
		Version:    versionString,
		StartTime:  startTime,
	}

	mainServer := newServer(log, config.ValueOf.Port, func(e *gin.Engine) { httpedge.Load(log, e, runtime) })
	statusServer := newServer(log, config.ValueOf.StatusPort, func(e *gin.Engine) { httpedge.LoadStatusOnly(log, e, runtime) })

	mainLog.Info("server starting",
		zap.Int("download_port", config.ValueOf.Port),
		zap.Int("status_port", config.ValueOf.StatusPort),
		zap.String("base_url", config.ValueOf.BaseURL),
	)

	go runServer(mainLog.Named("download"), mainServer)
	go runServer(mainLog.Named("status"), statusServer)

	<-ctx.Done()
	mainLog.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mainServer.Shutdown(shutdownCtx); err != nil {
		mainLog.Error("download server shutdown error", zap.Error(err))
	}
	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		mainLog.Error("status server shutdown error", zap.Error(err))
	}
}

func newServer(log *zap.Logger, port int, load func(*gin.Engine)) *http.Server {
	if config.ValueOf.Dev {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	var engine *gin.Engine
	if config.ValueOf.LogLevel == "error" || config.ValueOf.LogLevel == "warn" {
		engine = gin.New()
		engine.Use(gin.Recovery())
	} else {
		engine = gin.New()
		engine.Use(gin.Recovery(), gin.Logger())
	}
	load(engine)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}
}

func runServer(log *zap.Logger, server *http.Server) {
	log.Sugar().Infof("listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server stopped unexpectedly", zap.Error(err))
	}
}
