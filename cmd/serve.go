package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawdbot/pagerbridge/internal/bridge"
	"github.com/clawdbot/pagerbridge/internal/broadcast"
	"github.com/clawdbot/pagerbridge/internal/config"
	"github.com/clawdbot/pagerbridge/internal/device"
	"github.com/clawdbot/pagerbridge/internal/eventlog"
	"github.com/clawdbot/pagerbridge/internal/httpapi"
	"github.com/clawdbot/pagerbridge/internal/permission"
	"github.com/clawdbot/pagerbridge/internal/session"
	"github.com/clawdbot/pagerbridge/pkg/protocol"
)

func serveCmd() *cobra.Command {
	var pagerAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(pagerAddr)
		},
	}
	cmd.Flags().StringVar(&pagerAddr, "pager-addr", "", "pager address host:port (overrides config and mDNS)")
	return cmd
}

func runServe(pagerAddr string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if pagerAddr != "" {
		cfg.Pager.Address = pagerAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Event log and recording store are collaborators; the bridge runs
	// without them if they fail to open.
	var log *eventlog.Log
	if cfg.EventLog.Path != "" {
		log, err = eventlog.Open(cfg.EventLog.Path)
		if err != nil {
			slog.Error("event log unavailable", "path", cfg.EventLog.Path, "error", err)
			log = nil
		} else {
			defer log.Close()
		}
	}

	var sessions *session.Store
	if cfg.Sessions.Dir != "" {
		sessions, err = session.NewStore(cfg.Sessions.Dir, log)
		if err != nil {
			slog.Error("session store unavailable", "dir", cfg.Sessions.Dir, "error", err)
			sessions = nil
		}
	}

	link := device.NewLink()
	perms := permission.NewTracker()
	perms.SetRetention(time.Duration(cfg.Permissions.RetentionMinutes) * time.Minute)
	caster := broadcast.New()

	var rec bridge.EventRecorder
	if log != nil {
		rec = log
	}
	mediator := bridge.New(link, perms, caster, rec, bridge.Options{
		IdleDelay:     cfg.Display.IdleDelay(),
		IdleText:      cfg.Display.IdleText,
		SweepInterval: time.Duration(cfg.Permissions.SweepIntervalSeconds) * time.Second,
	})
	defer mediator.Shutdown()
	link.OnStateChange(mediator.HandleDeviceState)

	// Resolve and connect to the pager; startup does not block on it.
	address := cfg.Pager.Address
	if address == "" {
		discovered, err := device.Discover(ctx, cfg.Pager.DiscoverService,
			time.Duration(cfg.Pager.DiscoverTimeoutSeconds)*time.Second)
		if err != nil {
			slog.Warn("pager discovery failed", "error", err)
		} else {
			address = discovered
		}
	}
	if address == "" {
		slog.Warn("no pager address; bridge starts disconnected (set PAGER_ADDR or --pager-addr)")
	} else if err := link.Connect(ctx, address); err != nil {
		slog.Error("cannot connect to pager, starting anyway", "address", address, "error", err)
		if log != nil {
			log.LogError(protocol.SourceBridge, "connect_failed", err.Error())
		}
	}
	defer link.Disconnect()

	// Config hot reload for the display tunables.
	if _, statErr := os.Stat(flagConfig); statErr == nil {
		updates, werr := config.Watch(ctx, flagConfig)
		if werr != nil {
			slog.Warn("config watch unavailable", "error", werr)
		} else {
			go func() {
				for next := range updates {
					mediator.ApplyDisplay(next.Display.IdleDelay(), next.Display.IdleText)
				}
			}()
		}
	}

	go mediator.RunHousekeeping(ctx)

	limiter := httpapi.NewRateLimiter(cfg.RateLimit.RPM, cfg.RateLimit.Burst)
	api := httpapi.NewServer(mediator, caster, log, sessions, limiter)
	api.DefaultPermissionTimeout = time.Duration(cfg.Permissions.DefaultTimeoutSeconds) * time.Second

	mux := http.NewServeMux()
	api.Routes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Bridge.Host, cfg.Bridge.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("bridge running", "addr", addr, "pager", address, "connected", link.Connected())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}

	slog.Info("shutting down")
	return nil
}
