// Command syftboxd runs the SyftBox sync daemon: it reads a JSON config
// (overridable via SYFTBOX_* environment variables), wires the sync
// engine, event bus, hotlink fast path, and local control plane together,
// and serves until it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensync/syftboxd/internal/aclstaging"
	"github.com/opensync/syftboxd/internal/config"
	"github.com/opensync/syftboxd/internal/controlplane"
	"github.com/opensync/syftboxd/internal/datasite"
	"github.com/opensync/syftboxd/internal/eventbus"
	"github.com/opensync/syftboxd/internal/filters"
	"github.com/opensync/syftboxd/internal/hotlink"
	"github.com/opensync/syftboxd/internal/journal"
	"github.com/opensync/syftboxd/internal/logging"
	"github.com/opensync/syftboxd/internal/remoteapi"
	"github.com/opensync/syftboxd/internal/syncengine"
	"github.com/opensync/syftboxd/internal/uploader"
	"github.com/opensync/syftboxd/internal/version"
	"github.com/opensync/syftboxd/internal/workspace"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "path to config.json")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	closer, err := logging.Init(logging.Options{
		Level:   parseLevel(*logLevel),
		LogFile: config.DefaultLogFilePath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging init: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	slog.Info("syftboxd starting", "version", version.Detailed())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("syftboxd exited", "error", err)
		os.Exit(1)
	}
	slog.Info("syftboxd stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// run wires every component and blocks until ctx is canceled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "config", cfg)

	ws, err := workspace.New(cfg.DataDir, cfg.Email)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	if err := ws.Setup(); err != nil {
		return fmt.Errorf("workspace setup: %w", err)
	}
	defer func() {
		if err := ws.Unlock(); err != nil {
			slog.Error("workspace unlock", "error", err)
		}
	}()

	jrnl, err := journal.Load(ws.MetadataDir)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}

	ignore := filters.NewIgnore(ws.DatasitesDir)
	priority := filters.NewPriority()
	scanner := datasite.NewScanner(ws.Root, ignore)
	acl := aclstaging.New(func(datasite string, files []aclstaging.StagedACL) {
		slog.Info("acl manifest applied", "datasite", datasite, "files", len(files))
	})

	remote := remoteapi.New(cfg.ServerURL, cfg.Email, accessToken(cfg))
	uploads := uploader.New(remote, ws.MetadataDir)
	registry := uploader.NewRegistry()

	engine := syncengine.New(ws.Root, cfg.Email, remote, jrnl, scanner, uploads, ignore, priority, acl, nil)
	engine.SetUploadRegistry(registry)

	bus := eventbus.New(cfg.ServerURL, staticTokenSource{cfg: cfg})
	outbound := eventbus.NewOutboundPump(ws.DatasitesDir, priority.ShouldPrioritize, bus, ws)
	disk := diskAdapter{Workspace: ws, pump: outbound}
	inbound := eventbus.NewFileSync(disk, jrnl, fetcherAdapter{remote: remote}, acl)
	inbound.Register(bus)

	hl := hotlink.New(ws, bus, ws.UserDir)
	hl.Register(bus)

	cpServer, err := controlplane.New(controlplane.Config{Addr: clientAddr(cfg.ClientURL), Token: cfg.ClientToken}, registry, engine)
	if err != nil {
		return fmt.Errorf("control plane: %w", err)
	}
	if cfg.ClientToken == "" {
		cfg.ClientToken = cpServer.Token()
		if err := cfg.Save(); err != nil {
			slog.Error("persist generated control-plane token", "error", err)
		}
	}
	slog.Info("control plane ready", "addr", clientAddr(cfg.ClientURL))

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error { bus.Run(ctx); return nil })
	eg.Go(func() error { outbound.Run(ctx); return nil })
	eg.Go(func() error {
		if err := engine.Start(ctx); err != nil {
			return fmt.Errorf("sync engine start: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		if err := cpServer.Start(); err != nil {
			return fmt.Errorf("control plane start: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := cpServer.Stop(shutdownCtx); err != nil {
			slog.Error("control plane stop", "error", err)
		}
		if err := engine.Stop(); err != nil {
			slog.Error("sync engine stop", "error", err)
		}
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// clientAddr derives the control plane's listen address from the
// configured client URL (e.g. "http://localhost:7938" -> "localhost:7938"),
// falling back to controlplane.DefaultAddr if the URL doesn't parse.
func clientAddr(clientURL string) string {
	u, err := url.Parse(clientURL)
	if err != nil || u.Host == "" {
		return controlplane.DefaultAddr
	}
	return u.Host
}

// accessToken returns the bearer credential the remote API and event bus
// authenticate with. The auth/login exchange that obtains and refreshes
// this value is out of scope (SPEC_FULL.md §1); this daemon only consumes
// whatever token is already present in config.
func accessToken(cfg *config.Config) string {
	if cfg.AccessToken != "" {
		return cfg.AccessToken
	}
	return cfg.RefreshToken
}

// staticTokenSource satisfies eventbus.TokenSource with the config's
// already-issued token; Invalidate is a no-op since there is no refresh
// flow to fall back to in this daemon.
type staticTokenSource struct {
	cfg *config.Config
}

func (s staticTokenSource) Token(ctx context.Context) (string, error) {
	return accessToken(s.cfg), nil
}

func (s staticTokenSource) Invalidate() {
	slog.Warn("event bus token rejected, no refresh flow available")
}

// diskAdapter satisfies eventbus.Disk by pairing workspace path resolution
// with the outbound pump's write-suppression, so a file this daemon just
// wrote from an inbound message doesn't loop back out as an outbound push.
type diskAdapter struct {
	*workspace.Workspace
	pump *eventbus.OutboundPump
}

func (d diskAdapter) IgnoreOnce(absPath string) {
	d.pump.IgnoreOnce(absPath)
}

// fetcherAdapter satisfies eventbus.Fetcher's single-key signature over
// remoteapi.Client's batch PresignDownloads.
type fetcherAdapter struct {
	remote *remoteapi.Client
}

func (f fetcherAdapter) PresignDownload(ctx context.Context, key string) (string, error) {
	urls, err := f.remote.PresignDownloads(ctx, []string{key})
	if err != nil {
		return "", err
	}
	presigned, ok := urls[key]
	if !ok {
		return "", fmt.Errorf("presign download: no url for %s", key)
	}
	return presigned, nil
}
