package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pinchtab/veilgate/internal/config"
	"github.com/pinchtab/veilgate/internal/events"
	"github.com/pinchtab/veilgate/internal/handlers"
	"github.com/pinchtab/veilgate/internal/journal"
	"github.com/pinchtab/veilgate/internal/orchestrator"
	"github.com/pinchtab/veilgate/internal/ports"
	"github.com/pinchtab/veilgate/internal/proc"
	"github.com/pinchtab/veilgate/internal/store"
	"github.com/pinchtab/veilgate/internal/subscription"
	"github.com/pinchtab/veilgate/internal/tunnel"
)

var version = "dev"

const (
	subscriptionFetchTimeout = 30 * time.Second
	subscriptionCheckEvery   = 10 * time.Minute
)

func main() {
	cfg := config.Load()

	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "--version", "-v", "version":
		fmt.Printf("veilgate %s\n", version)
		return
	case "config":
		config.HandleConfigCommand(cfg, os.Args[2:])
		return
	case "identity":
		os.Exit(runIdentity(cfg, os.Args[2:], os.Stdout))
	case "latency":
		os.Exit(runLatency(cfg, os.Args[2:], os.Stdout))
	case "", "serve":
		runServer(cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: veilgate [serve|config|identity|latency|version]")
	fmt.Fprintln(os.Stderr, "  serve              run the control API (default)")
	fmt.Fprintln(os.Stderr, "  config init|show   manage the config file")
	fmt.Fprintln(os.Stderr, "  identity [-seed n] print a freshly generated browser identity")
	fmt.Fprintln(os.Stderr, "  latency <link>...  time one or more proxy links")
}

func runServer(cfg *config.RuntimeConfig) {
	for _, dir := range []string{cfg.DataDir, cfg.TempDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("cannot create data dir", "dir", dir, "err", err)
			os.Exit(1)
		}
	}

	st := store.Open(cfg.ProfilesFile(), cfg.SettingsFile())
	jr, err := journal.Open(cfg.JournalFile())
	if err != nil {
		slog.Error("cannot open session journal", "path", cfg.JournalFile(), "err", err)
		os.Exit(1)
	}
	defer func() { _ = jr.Close() }()
	if n, err := orchestrator.ReapOrphans(jr); err != nil {
		slog.Warn("journal orphan sweep failed", "err", err)
	} else if n > 0 {
		slog.Info("closed sessions left open by a previous run", "count", n)
	}

	bus := events.NewBus(64)
	broker := tunnel.NewBroker(cfg.DecisionTimeout, func(req tunnel.HostKeyRequest) {
		bus.Publish(events.Event{Type: events.TypeHostKeyPrompt, ProfileID: req.ProfileID, Data: req})
	})
	runner := &proc.LocalRunner{}
	alloc := ports.New(cfg.PortStart, cfg.PortEnd, cfg.DebugPort)
	tunnels := &tunnel.Manager{
		Runner:       runner,
		Ports:        alloc,
		Trust:        tunnel.NewTrustStore(),
		Broker:       broker,
		SSHBinary:    cfg.SSHBinary,
		PlinkBinary:  cfg.PlinkBinary,
		ReadyTimeout: cfg.TunnelTimeout,
	}
	fetcher := subscription.NewFetcher(st, subscriptionFetchTimeout)

	orch := orchestrator.New(cfg, st, orchestrator.Options{
		Runner:  runner,
		Ports:   alloc,
		Tunnels: orchestrator.SSHTunnels{Manager: tunnels},
		Journal: jr,
		Bus:     bus,
		Broker:  broker,
		Fetcher: fetcher,
	})

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go fetcher.Run(bgCtx, subscriptionCheckEvery)

	mux := http.NewServeMux()
	orch.RegisterHandlers(mux)
	handlers.RegisterMetrics(mux, orch)

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handlers.Wrap(cfg, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownOnce := &sync.Once{}
	doShutdown := func() {
		shutdownOnce.Do(func() {
			slog.Info("shutting down, closing sessions...")
			bgCancel()
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown", "err", err)
			}
			orch.Shutdown()
			slog.Info("all sessions closed")
		})
	}

	setupSignalHandler(doShutdown, func() {
		orch.Shutdown()
	})

	slog.Info("veilgate listening", "addr", cfg.ListenAddr(), "data", cfg.DataDir, "ports", fmt.Sprintf("%d-%d", cfg.PortStart, cfg.PortEnd))
	if cfg.Token != "" {
		slog.Info("auth enabled")
	} else {
		slog.Info("auth disabled, loopback clients only (set VEILGATE_TOKEN to enable)")
	}

	go runStartupHealthCheck(cfg)

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server", "err", err)
		orch.Shutdown()
		os.Exit(1)
	}
	// ListenAndServe returns as soon as Shutdown starts; wait for sessions.
	doShutdown()
}

func setupSignalHandler(shutdownFn func(), forceFn func()) {
	go func() {
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		go shutdownFn()
		<-sig
		slog.Warn("force shutdown requested")
		forceFn()
		os.Exit(130)
	}()
}

func runStartupHealthCheck(cfg *config.RuntimeConfig) {
	time.Sleep(500 * time.Millisecond)
	client := &http.Client{Timeout: 5 * time.Second}
	req, _ := http.NewRequest("GET", fmt.Sprintf("http://127.0.0.1:%s/health", cfg.Port), nil)
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	resp, err := client.Do(req)
	if err != nil {
		slog.Error("startup health check failed", "err", err, "hint", "is VEILGATE_BIND reachable from loopback?")
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		slog.Info("startup health check passed")
	} else {
		slog.Warn("startup health check unexpected status", "status", resp.StatusCode)
	}
}
