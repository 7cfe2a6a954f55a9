// Command provisiond is the provisioning-core process entrypoint (spec §6):
// it loads configuration, derives the device identity, wires the
// orchestrator and its collaborators, serves the HTTP/WebSocket surface,
// and shuts everything down in reverse order on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/pamir-ai-pkgs/distiller-services/internal/aputil"
	"github.com/pamir-ai-pkgs/distiller-services/internal/captive"
	"github.com/pamir-ai-pkgs/distiller-services/internal/config"
	"github.com/pamir-ai-pkgs/distiller-services/internal/display"
	"github.com/pamir-ai-pkgs/distiller-services/internal/httpapi"
	"github.com/pamir-ai-pkgs/distiller-services/internal/identity"
	"github.com/pamir-ai-pkgs/distiller-services/internal/mdnspub"
	"github.com/pamir-ai-pkgs/distiller-services/internal/netmgr"
	"github.com/pamir-ai-pkgs/distiller-services/internal/orchestrator"
	"github.com/pamir-ai-pkgs/distiller-services/internal/statestore"
	"github.com/pamir-ai-pkgs/distiller-services/internal/tunnel"
)

const (
	exitOK       = 0
	exitFatal    = 1
	exitBadFlags = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		iface    = flag.String("iface", "wlan0", "WiFi interface to manage")
		logLevel = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()
	if flag.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "provisiond: unexpected positional arguments: %v\n", flag.Args())
		return exitBadFlags
	}

	if err := aputil.LogSetLevel(*logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "provisiond: invalid -log-level: %v\n", err)
		return exitBadFlags
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "provisiond: configuration: %v\n", err)
		return exitFatal
	}

	slog := aputil.NewLogger("provisiond", cfg.Debug)
	defer slog.Sync() //nolint:errcheck

	id, err := identity.Load(cfg.StateDir, cfg.APSSIDPrefix, nil, slog)
	if err != nil {
		slog.Errorw("failed to establish device identity", "error", err)
		return exitFatal
	}
	slog.Infow("device identity established", "identity", id.Describe())

	store, err := statestore.New(cfg.StateDir, slog)
	if err != nil {
		slog.Errorw("failed to open state store", "error", err)
		return exitFatal
	}

	net := netmgr.NewCLIAdapter(*iface, slog)
	defer net.Close()

	if caps, err := net.Probe(context.Background()); err != nil || !caps.HasWiFi {
		slog.Errorw("no usable WiFi device found", "error", err)
		return exitFatal
	}

	captiveCtl := captive.New(*iface, cfg.WebPort, slog)

	tunCfg := tunnel.Config{
		ManagedHealthURL: cfg.TunnelManagedHealthURL,
		ManagedTokenFile: "/var/lib/distiller-services/tunnel-token",
		ProviderPrimary:  cfg.TunnelProviderPrimary,
		SSHHost:          cfg.TunnelSSHHost,
		SSHPort:          cfg.TunnelSSHPort,
		AccessToken:      cfg.TunnelAccessToken,
		RefreshInterval:  time.Duration(cfg.TunnelRefreshIntervalS) * time.Second,
	}
	tun := tunnel.New(tunCfg, slog)

	orchCfg := orchestrator.Config{
		APIP:      cfg.APIP,
		APChannel: cfg.APChannel,
		CaptiveOn: cfg.EnableCaptivePortal,
		TunnelOn:  cfg.TunnelEnabled,
	}
	orch := orchestrator.New(id, store, net, captiveCtl, tun, orchCfg, slog)

	mdns := mdnspub.New(id.Hostname, slog)
	mdns.Start(store)
	defer mdns.Stop()

	sink := display.New(store, noopRenderer{}, slog, 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		slog.Infow("signal received, shutting down", "signal", s.String())
		cancel()
	}()

	go sink.Run(ctx)

	webAddr := fmt.Sprintf("%s:%d", cfg.WebHost, cfg.WebPort)
	server := httpapi.New(webAddr, cfg.APIP, cfg.WebPort, orch, store, net, slog)

	errCh := make(chan error, 1)
	go func() {
		if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("orchestrator: %w", err)
			cancel()
		}
	}()

	if err := server.Start(ctx); err != nil {
		slog.Errorw("http server exited with error", "error", err)
	}

	select {
	case err := <-errCh:
		slog.Errorw("fatal orchestrator error", "error", err)
		return exitFatal
	default:
	}

	tun.Stop()
	if err := captiveCtl.Stop(context.Background()); err != nil {
		slog.Warnw("captive portal teardown on exit failed", "error", err)
	}

	slog.Infow("provisiond exiting cleanly")
	return exitOK
}

type noopRenderer struct{}

func (noopRenderer) Render(display.Frame) {}
