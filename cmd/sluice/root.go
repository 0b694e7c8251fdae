package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/albertbausili/sluice/internal/config"
	"github.com/albertbausili/sluice/internal/observability"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// app is the state shared by every subcommand once PersistentPreRunE ran.
type app struct {
	v      *viper.Viper
	file   string
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "sluice",
		Short:         "sluice is an embeddable HTTP/1.1 request-decoding server core.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.v = config.New(a.file)
			if err := bindFlags(a.v, cmd); err != nil {
				return err
			}
			cfg, err := config.Load(a.v)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = observability.NewLogger(cfg.Logger)
			a.cfg.Server.Logger = a.logger
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.file, "config", "c", "", "config file (default is ./sluice.yaml)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(newServeCmd(a), newConfigCmd(a))
	return root
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"addr":           "server.addr",
	"decode-workers": "server.decode_workers",
	"max-body-bytes": "server.max_body_bytes",
	"upgrade-h2c":    "server.upgrade_h2c",
	"log-level":      "logger.level",
	"log-format":     "logger.format",
	"metrics-addr":   "metrics.addr",
}

func addServerFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("addr", "", "address to listen on")
	f.Int("decode-workers", 0, "decode worker pool size")
	f.Int64("max-body-bytes", 0, "largest accepted request body")
	f.Bool("upgrade-h2c", false, "answer requests with an h2c upgrade handshake")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (console, json)")
	f.String("metrics-addr", "", "address of the Prometheus listener")
}

// bindFlags binds the flags defined on cmd. A flag left unset never overrides
// a file, environment or default value.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a.v.AllSettings())
		},
	}
	addServerFlags(cmd)
	return cmd
}
