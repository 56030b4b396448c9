package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/br00tm/infrawatch/internal/alert"
	"github.com/br00tm/infrawatch/internal/app"
	"github.com/br00tm/infrawatch/internal/config"
	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/logger"
)

type options struct {
	configFile string
	logLevel   string
}

// setup loads the config and builds the process logger. The returned
// closer flushes the log file, if any.
func (o *options) setup() (*config.Loader, *config.Config, zerolog.Logger, io.Closer, error) {
	loader := config.NewLoader(o.configFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, zerolog.Nop(), nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, zerolog.Nop(), nil, err
	}
	if f := loader.ConfigFile(); f != "" {
		log.Info().Str("file", f).Msg("Configuration loaded")
	}
	return loader, cfg, log, closer, nil
}

// withApp runs fn against a fully wired app and tears it down afterwards.
func (o *options) withApp(fn func(ctx context.Context, a *app.App, loader *config.Loader, log zerolog.Logger) error) error {
	loader, cfg, log, closer, err := o.setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Shutdown finished with errors")
		}
	}()
	return fn(ctx, a, loader, log)
}

func newRunCommand(o *options, use, short string, c app.Components) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(func(ctx context.Context, a *app.App, loader *config.Loader, log zerolog.Logger) error {
				loader.Watch(func(next *config.Config) {
					if o.logLevel != "" {
						return
					}
					if err := logger.SetLevel(next.Log.Level); err != nil {
						log.Warn().Err(err).Msg("Ignoring invalid log level from reloaded config")
						return
					}
					log.Info().Str("level", next.Log.Level).Msg("Log level reloaded")
				})
				return a.Run(ctx, c)
			})
		},
	}
}

func newEvaluateCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Run one rule evaluation cycle and print the counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(func(ctx context.Context, a *app.App, _ *config.Loader, _ zerolog.Logger) error {
				res, err := a.Engine.RunCycle(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			})
		},
	}
}

func newMigrateCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, log, closer, err := o.setup()
			if err != nil {
				return err
			}
			defer closer.Close()

			db, err := database.Open(cfg.Database, log)
			if err != nil {
				return err
			}
			defer database.Close(db)

			if err := database.Migrate(db); err != nil {
				return err
			}
			log.Info().Str("driver", cfg.Database.Driver).Msg("Database migrated")
			return nil
		},
	}
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [file]",
		Short: "Write the default configuration to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", path)
			return nil
		},
	})
	return cmd
}

func newRulesCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Import or export alert rules directly against the database",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import [file]",
		Short: "Upsert rules from a JSON or YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(func(ctx context.Context, a *app.App, _ *config.Loader, _ zerolog.Logger) error {
				created, updated, err := a.Rules.ImportRulesFromFile(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported rules: %d created, %d updated\n", created, updated)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export [file]",
		Short: "Write every rule to a JSON or YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(func(ctx context.Context, a *app.App, _ *config.Loader, _ zerolog.Logger) error {
				if err := a.Rules.ExportRulesToFile(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rules exported to %s (%s)\n", args[0], alert.FormatFromPath(args[0]))
				return nil
			})
		},
	})
	return cmd
}

func main() {
	o := &options{}

	rootCmd := &cobra.Command{
		Use:   "infrawatch",
		Short: "InfraWatch - metrics, logs and alerting for infrastructure",
		Long: `InfraWatch ingests metrics and logs, evaluates alert rules against them
and delivers notifications to email, Slack, Telegram, Discord and webhooks.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&o.configFile, "config", "", "config file (default ./config.yaml or /etc/infrawatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "override log.level")

	rootCmd.AddCommand(newRunCommand(o, "serve", "Run the API, scheduler and notification worker", app.All))
	rootCmd.AddCommand(newRunCommand(o, "api", "Run only the HTTP API", app.APIOnly))
	rootCmd.AddCommand(newRunCommand(o, "worker", "Run only the scheduler and notification worker", app.WorkerOnly))
	rootCmd.AddCommand(newEvaluateCommand(o))
	rootCmd.AddCommand(newMigrateCommand(o))
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newRulesCommand(o))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
