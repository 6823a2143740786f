package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aonline-proxy/work/cache"
	"aonline-proxy/work/client"
	"aonline-proxy/work/config"
	"aonline-proxy/work/engine"
	"aonline-proxy/work/handlers"
	"aonline-proxy/work/logger"
	"aonline-proxy/work/probe"
	"aonline-proxy/work/proxy"
	"aonline-proxy/work/resolver"
	"aonline-proxy/work/utils"
	"aonline-proxy/work/videos"
)

var (
	Version = "v0.1.0" // default version
)

// maxCachedTargets bounds the stream cache.
const maxCachedTargets = 10_000

func main() {

	// load our config
	cfg := config.LoadConfig()

	// set up logging
	logger.SetLogLevel(cfg.LogLevel)
	logOut := logger.SetOutput(cfg.LogFile)
	defer logOut.Close()

	// resolution traffic (pages and probes) is paced per host; player
	// relays get their own unpaced client so slow streams never hold
	// connections the resolver needs
	pageClient := client.NewHeaderSettingClient(cfg)
	mediaClient := client.NewRelayClient(cfg)

	baseURL := utils.AdvertisedBaseURL(cfg)
	res := resolver.New(cfg, pageClient, baseURL)

	var prober engine.Prober
	if cfg.ProbeEnabled {
		p, err := probe.New(cfg, pageClient)
		if err != nil {
			logger.Error("{main - main} Failed to create probe: %v", err)
			os.Exit(1)
		}
		defer p.Close()
		prober = p
	}

	eng, err := engine.New(cfg, res, cache.NewStreamCache(cfg.CacheDuration, maxCachedTargets), prober)
	if err != nil {
		logger.Error("{main - main} Failed to create engine: %v", err)
		os.Exit(1)
	}
	defer eng.Close()

	gateway := proxy.NewGateway(cfg, mediaClient, res)
	h := handlers.New(cfg, eng, videos.NewIndex(cfg), Version)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h.Routes(gateway),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// show info
	logger.Info("{main - main} Starting AnimeOnline proxy %s on %s", Version, utils.LogURL(cfg, baseURL))
	for _, line := range cfg.Summary() {
		logger.Info("{main - main}   - %s", line)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("{main - main} Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("{main - main} Graceful shutdown failed: %v", err)
		}
	}()

	// fire us up
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("{main - main} Server failed: %v", err)
		os.Exit(1)
	}
}
