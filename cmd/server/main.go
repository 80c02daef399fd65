package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gomeet/internal/config"
	"gomeet/internal/logging"
	"gomeet/internal/media"
	"gomeet/internal/registry"
	"gomeet/internal/server"
	"gomeet/internal/signaling"
)

func main() {
	logger := logging.New()

	var opts config.Options
	flag.StringVar(&opts.Addr, "addr", "", "HTTP/WebSocket listen address")
	flag.StringVar(&opts.WorkerBin, "worker-bin", "", "path to the mediasoup-worker binary")
	flag.IntVar(&opts.RtcMinPort, "rtc-min-port", 0, "lowest RTC port the media worker may use")
	flag.IntVar(&opts.RtcMaxPort, "rtc-max-port", 0, "highest RTC port the media worker may use")
	flag.StringVar(&opts.ListenIP, "listen-ip", "", "address media transports bind to")
	flag.StringVar(&opts.AnnouncedIP, "announced-ip", "", "address announced to clients in ICE candidates")
	flag.Parse()

	cfg, err := config.Load(opts)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// The worker and router come up before the listener starts accepting, so
	// no connection can ever observe a not-yet-ready router. A dying worker
	// is unrecoverable: the router and all transports on it are gone, so the
	// process exits after a short grace period for in-flight responses.
	engine, err := media.NewEngine(media.EngineConfig{
		WorkerBin:   cfg.WorkerBin,
		RtcMinPort:  uint16(cfg.RtcMinPort),
		RtcMaxPort:  uint16(cfg.RtcMaxPort),
		ListenIP:    cfg.ListenIP,
		AnnouncedIP: cfg.AnnouncedIP,
	}, logger.With("component", "media"), func() {
		logger.Error("media worker died, exiting in 2 seconds")
		time.AfterFunc(2*time.Second, func() { os.Exit(1) })
	})
	if err != nil {
		logger.Error("media engine startup failed", "error", err)
		os.Exit(1)
	}

	reg := registry.New(logger.With("component", "registry"))
	disp := signaling.NewDispatcher(logger.With("component", "dispatcher"))

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: server.Routes(server.Deps{
			Registry:   reg,
			Engine:     engine,
			Dispatcher: disp,
			Logger:     logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		engine.Close()
	}()

	logger.Info("signaling server listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
