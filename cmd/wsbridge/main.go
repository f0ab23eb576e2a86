package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/tonkeeper/wsbridge/internal"
	"github.com/tonkeeper/wsbridge/internal/app"
	"github.com/tonkeeper/wsbridge/internal/bridge"
	"github.com/tonkeeper/wsbridge/internal/chat"
	"github.com/tonkeeper/wsbridge/internal/config"
	bridge_middleware "github.com/tonkeeper/wsbridge/internal/middleware"
	"github.com/tonkeeper/wsbridge/internal/ports"
	"github.com/tonkeeper/wsbridge/internal/utils"
	"github.com/tonkeeper/wsbridge/internal/ws"
	"golang.org/x/exp/slices"
)

func main() {
	log.Info(fmt.Sprintf("wsbridge %s is running", internal.VersionRevision))
	config.LoadConfig()
	app.InitMetrics(config.Config.Ports)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	overflow, err := ports.ParseOverflowPolicy(config.Config.OutputOverflow)
	if err != nil {
		log.Fatalf("invalid OUTPUT_OVERFLOW: %v", err)
	}
	channels, err := ports.New(ctx, config.Config.Ports, ports.Options{
		InputSize:  config.Config.InputBufferSize,
		OutputSize: config.Config.OutputBufferSize,
		Overflow:   overflow,
		Valkey: ports.ValkeyOptions{
			URI:             config.Config.ValkeyURI,
			EventsChannel:   config.Config.ValkeyEventsChannel,
			CommandsChannel: config.Config.ValkeyCommandsChannel,
			BufferSize:      config.Config.OutputBufferSize,
			ConnectRetries:  config.Config.ValkeyConnectRetries,
		},
	})
	if err != nil {
		log.Fatalf("failed to create ports: %v", err)
	}
	// the core outlives the signal so it can consume the disconnects emitted during shutdown
	coreCtx, stopCore := context.WithCancel(context.Background())
	defer stopCore()
	if mem, ok := channels.(*ports.MemPorts); ok {
		log.Info("Using in-process ports with the chat room core")
		go chat.NewRoom(mem).Run(coreCtx)
	} else {
		log.Infof("Using %s ports, the application core runs elsewhere", config.Config.Ports)
	}

	healthManager := app.NewHealthManager(5 * time.Second)
	go healthManager.StartHealthMonitoring(ctx, channels)

	listener := ws.NewListener(ws.Options{
		MaxMessageSize: config.Config.MaxMessageSize,
		WriteTimeout:   time.Duration(config.Config.WriteTimeout) * time.Second,
		PingInterval:   time.Duration(config.Config.HeartbeatInterval) * time.Second,
		AllowedOrigins: config.Config.AllowedOrigins,
	})
	handle := bridge.Attach(listener, channels, channels,
		bridge.WithVerbose(config.Config.Verbose),
		bridge.WithOutboxSize(config.Config.OutboxSize),
	)

	extractor, err := utils.NewRealIPExtractor(config.Config.TrustedProxyRanges)
	if err != nil {
		log.Warnf("failed to create realIPExtractor: %v, using defaults", err)
		extractor, _ = utils.NewRealIPExtractor([]string{})
	}

	mux := http.NewServeMux()
	mux.Handle("/health", http.HandlerFunc(healthManager.HealthHandler))
	mux.Handle("/ready", http.HandlerFunc(healthManager.HealthHandler))
	mux.Handle("/version", http.HandlerFunc(app.VersionHandler))
	mux.Handle("/metrics", promhttp.Handler())
	if config.Config.PprofEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
	}
	go func() {
		log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", config.Config.MetricsPort), mux))
	}()

	wsPath := config.Config.WSPath
	bypass := config.Config.RateLimitsByPassToken

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		DisableStackAll: true,
	}))
	e.Use(app.LogrusLoggerMiddleware())
	e.Use(app.UpgradeRateLimiter(config.Config.AcceptRPSLimit, app.OnlyUpgrades(wsPath, bypass)))
	e.Use(app.ConnectionsLimitMiddleware(
		bridge_middleware.NewConnectionLimiter(config.Config.ConnectionsLimit, extractor),
		app.OnlyUpgrades(wsPath, bypass),
	))

	if config.Config.CorsEnable {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{echo.GET, echo.OPTIONS},
			AllowHeaders: []string{"User-Agent", "X-Requested-With", "If-Modified-Since", "Cache-Control", "Content-Type", "Authorization"},
			MaxAge:       86400,
		}))
	}

	if config.Config.StaticDir != "" {
		e.Use(app.StaticUnlessUpgrade(config.Config.StaticDir))
	}
	e.GET(wsPath, listener.Handler)

	var existedPaths []string
	for _, r := range e.Routes() {
		existedPaths = append(existedPaths, r.Path)
	}
	p := prometheus.NewPrometheus("http", func(c echo.Context) bool {
		return !slices.Contains(existedPaths, c.Path())
	})
	e.Use(p.HandlerFunc)

	serveErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%v", config.Config.Port)
		if config.Config.SelfSignedTLS {
			cert, key, err := utils.GenerateSelfSignedCertificate()
			if err != nil {
				serveErr <- fmt.Errorf("failed to generate self signed certificate: %w", err)
				return
			}
			serveErr <- e.StartTLS(addr, cert, key)
			return
		}
		serveErr <- e.Start(addr)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("http server failed: %v", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}
	shutdown(handle, listener, e, channels)
	stopCore()
}

func shutdown(handle *bridge.Bridge, listener *ws.Listener, e *echo.Echo, channels ports.Ports) {
	log := log.WithField("prefix", "shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(config.Config.ShutdownTimeout)*time.Second)
	defer cancel()

	// upgrades first, then the sockets, then the transport they report to
	handle.Stop()
	if err := listener.Close(); err != nil {
		log.Warnf("listener close: %v", err)
	}
	if err := handle.Shutdown(ctx); err != nil {
		log.Warnf("bridge shutdown: %v", err)
	}
	if err := e.Shutdown(ctx); err != nil {
		log.Warnf("http shutdown: %v", err)
	}
	if err := channels.Close(); err != nil {
		log.Warnf("ports close: %v", err)
	}
}
