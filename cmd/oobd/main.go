package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edgefleet/oobd/internal/env"
)

var rootCmd = &cobra.Command{
	Use:   "oobd",
	Short: "Out-of-band operations service for intermittently connected devices",
	Long: `oobd queues asynchronous operations (Reboot, RestartServices, SendFiles)
for devices that poll over HTTP, tracks each operation's lifecycle, and
stores collected files. Configuration comes from the environment; a .env
file is honored in development.`,
}

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.AddCommand(newServeCmd())
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("oobd command failed")
	}
}
