// Command filestore-server is the composition root: it loads
// configuration, builds the registry/storage/metrics/logging
// dependencies, and runs the TCP listener until SIGINT/SIGTERM.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nabbar/filestore/internal/config"
	"github.com/nabbar/filestore/internal/logging"
	"github.com/nabbar/filestore/internal/metrics"
	"github.com/nabbar/filestore/internal/registry"
	"github.com/nabbar/filestore/internal/server"
	"github.com/nabbar/filestore/internal/storage"
)

var configPath string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "filestore-server",
		Short:        "Run the filestore TCP server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (yaml/toml/json)")
	return cmd
}

func run(configPath string) error {
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("filestore-server: %w", err)
	}

	log := logging.New(os.Stderr, logging.InfoLevel)
	log.Info("starting filestore-server")

	root, err := storage.NewRoot(cfg.StorageRoot)
	if err != nil {
		log.Error("failed to create storage root: ", err)
		return err
	}

	reg, err := registry.New(registry.Options{
		Path:       usersFilePath(cfg.StorageRoot),
		QuotaLimit: cfg.UserQuota,
		MaxUsers:   cfg.MaxUsers,
	})
	if err != nil {
		log.Error("failed to load registry: ", err)
		return err
	}

	m := metrics.New()
	m.RegisteredAccounts.Set(float64(reg.Count()))
	var metricsSrv *metrics.Server
	if cfg.MetricsPort > 0 {
		metricsSrv, err = m.Listen(fmt.Sprintf(":%d", cfg.MetricsPort))
		if err != nil {
			// Metrics are observability, not correctness: a bind failure here
			// (e.g. port already in use) should not prevent the file store
			// itself from serving traffic.
			log.Warn("metrics: failed to bind, continuing without it: ", err)
		} else {
			go func() {
				if err := metricsSrv.Serve(); err != nil {
					log.Warn("metrics server stopped: ", err)
				}
			}()
		}
	}

	srv := server.New(server.Deps{
		Registry:                reg,
		Storage:                 root,
		Log:                     log,
		Metrics:                 m,
		SessionPoolSize:         cfg.SessionPoolSize,
		FilePoolSize:            cfg.FilePoolSize,
		ConnectionQueueCapacity: cfg.ConnectionQueueCapacity,
		TaskQueueCapacity:       cfg.TaskQueueCapacity,
		MaxUploadSize:           cfg.MaxUploadSize,
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutdown signal received")
		if err := srv.Shutdown(); err != nil {
			log.Error("shutdown: ", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.WithField("addr", addr).Info("listening")
	if err := srv.Serve(addr); err != nil {
		log.Error("serve: ", err)
		return err
	}

	log.Info("shutdown complete")
	return nil
}

func usersFilePath(storageRoot string) string {
	return filepath.Join(storageRoot, "users.txt")
}
