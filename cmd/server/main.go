package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Tasting/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tasting",
	Short: "Real-time group tasting sessions",
	// serve is the default action
	RunE:          func(cmd *cobra.Command, args []string) error { return serveCmd.RunE(cmd, args) },
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	rootCmd.AddCommand(serveCmd, sweepCmd, migrateCmd)
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("tasting exited with error")
		os.Exit(1)
	}
}

// loadConfig reads the config and applies the log settings from it.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFile(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Mode == "release" {
		// JSON lines in production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return cfg, nil
}
