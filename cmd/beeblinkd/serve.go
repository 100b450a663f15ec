package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"github.com/beeblink/beeblinkd/internal/config"
	"github.com/beeblink/beeblinkd/internal/dispatch"
	"github.com/beeblink/beeblinkd/internal/logging"
	"github.com/beeblink/beeblinkd/internal/metrics"
	"github.com/beeblink/beeblinkd/internal/session"
	"github.com/beeblink/beeblinkd/internal/starcmd"
	"github.com/beeblink/beeblinkd/internal/tunnel"
	"github.com/beeblink/beeblinkd/internal/vfs"
	"github.com/beeblink/beeblinkd/internal/vfs/registry"
)

const shutdownGrace = 5 * time.Second

var (
	configPath string
	verbose    bool
)

func init() {
	rootCmd.AddCommand(serveCommand)
	flags := serveCommand.Flags()
	flags.StringVarP(&configPath, "config", "c", "~/.beeblink/beeblinkd.yaml", "path to the beeblinkd config file")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log at debug level (request/response frames are dumped only when the config sets dump)")
}

// openDiscoveryCache opens (creating if needed) the bbolt store backing
// vfs.Finder's volume-discovery cache. The short timeout keeps a stale
// lock from a crashed instance from wedging startup.
func openDiscoveryCache(path string) (*bolt.DB, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return nil, err
	}
	return bolt.Open(expanded, 0600, &bolt.Options{Timeout: time.Second})
}

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Discover volumes and serve the BeebLink protocol over the HTTP tunnel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// runServe wires every module together: discovers volumes, builds the
// star-command and dispatch tables, and serves the HTTP tunnel until
// interrupted. Wiring a concrete transport.Port for the serial link is
// left to a platform-specific adapter, the same way spec.md leaves serial
// enumeration out of scope (§1) — a configured serial_port with no
// adapter compiled in just logs a warning rather than failing the run.
func runServe() error {
	log := logging.New(verbose)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	finder := &vfs.Finder{SearchRoots: cfg.SearchRoots, NewType: registry.NewTypeFactory()}
	if cfg.DiscoveryCache != "" {
		if db, err := openDiscoveryCache(cfg.DiscoveryCache); err != nil {
			log.WithError(err).Warn("discovery cache unavailable; walking search roots")
		} else {
			finder.CacheDB = db
			defer db.Close()
		}
	}
	volumes, err := finder.Find()
	if err != nil {
		return err
	}
	log.WithField("count", len(volumes)).Info("discovered volumes")

	roms, err := cfg.ROMTable()
	if err != nil {
		return err
	}

	reg, promReg := metrics.NewRegistry()

	commands := starcmd.NewTable(nil)
	starcmd.Register(commands)

	table := dispatch.NewDefaultTable(cfg.Dump, log, commands, reg)

	newSession := func() *session.Session {
		s := session.New(volumes, roms)
		s.Files.SetRange(cfg.HandleRangeMin, cfg.HandleRangeMax)
		return s
	}

	if cfg.SerialPort != "" {
		log.WithField("port", cfg.SerialPort).Warn("serial_port configured but no serial device adapter is compiled into this build; only the HTTP tunnel will serve")
	}
	if cfg.TunnelAddr == "" {
		return errors.New("tunnel_addr is not configured: nothing to serve")
	}

	// /metrics is mounted on the tunnel's own router unless a distinct
	// metrics_addr asks for a separate listener (e.g. to keep it off a
	// tunnel address exposed beyond localhost).
	separateMetrics := cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.TunnelAddr
	tunnelProm := promReg
	if separateMetrics {
		tunnelProm = nil
	}

	handler := tunnel.NewHandler(table, newSession, reg, log)
	server := &http.Server{Addr: cfg.TunnelAddr, Handler: handler.Routes(tunnelProm)}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.TunnelAddr).Info("HTTP tunnel listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	var metricsServer *http.Server
	if separateMetrics {
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(promReg)}
		g.Go(func() error {
			log.WithField("addr", cfg.MetricsAddr).Info("metrics listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
