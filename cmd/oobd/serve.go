package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edgefleet/oobd"
	"github.com/edgefleet/oobd/internal/filestore"
	"github.com/edgefleet/oobd/internal/storage"
)

func newServeCmd() *cobra.Command {
	var (
		flagListen string
		flagDBPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service and background reaper",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := oobd.SettingsFromEnv()
			if flagListen != "" {
				settings.ListenAddr = flagListen
			}
			if flagDBPath != "" {
				settings.DBPath = flagDBPath
			}
			return serve(cmd.Context(), settings)
		},
	}

	cmd.Flags().StringVar(&flagListen, "listen", "", "listen address overriding "+oobd.EnvListenAddr)
	cmd.Flags().StringVar(&flagDBPath, "db", "", "database path overriding "+oobd.EnvDBPath)
	return cmd
}

func serve(parent context.Context, settings oobd.Settings) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(settings.DBPath)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer store.Close()

	files, err := openFilestore(ctx, settings)
	if err != nil {
		return err
	}
	defer files.Close()

	broker := oobd.NewBroker()
	broker.Start()
	defer broker.Stop()

	auth := oobd.NewAuthenticator(store, settings)
	engine := oobd.NewEngine(store, files, broker, auth, settings)

	if settings.ReaperEnabled {
		reaper := oobd.NewReaper(engine, settings)
		go reaper.Run(ctx)
	} else {
		log.Warn().Msg("reaper disabled, stale operations will accumulate")
	}

	server := oobd.NewServer(engine, auth, files, settings)
	if err := server.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("oobd stopped")
	return nil
}

func openFilestore(ctx context.Context, settings oobd.Settings) (filestore.Store, error) {
	switch settings.FilestoreBackend {
	case "local":
		return filestore.NewLocal(settings.FilestoreDir, settings.APIHost+"/v1/api/oob/files")
	case "gcs":
		if settings.GCSBucket == "" {
			return nil, errors.Errorf("%s is required for the gcs backend", oobd.EnvGCSBucket)
		}
		return filestore.NewGCS(ctx, settings.GCSBucket, settings.GCSKeyPath)
	default:
		return nil, errors.Errorf("unknown filestore backend %q", settings.FilestoreBackend)
	}
}
