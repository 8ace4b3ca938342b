package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/app"
	"github.com/JakeFAU/follower-audit/internal/config"
	"github.com/JakeFAU/follower-audit/internal/logging"
)

const closeTimeout = 15 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject fakes.
var newApp = app.New

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	cfgFile  string
	logLevel string
	verbose  bool
}

// execute runs the CLI and shuts down whatever the command started. Cobra
// skips post-run hooks when RunE fails, so cleanup lives here.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var started *app.App
	cmd := newRootCmd(func(a *app.App) { started = a })
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	if started != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := started.Close(closeCtx); cerr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown: %w", cerr))
		}
		_ = started.Logger().Sync()
	}
	return err
}

func newRootCmd(onStart func(*app.App)) *cobra.Command {
	opts := &rootOptions{}
	progress := newProgressPrinter()

	cmd := &cobra.Command{
		Use:   "followeraudit",
		Short: "Audit an account's followers for bots and inactive profiles.",
		Long: `followeraudit pages through the follower list of an account, inspects
every profile, and flags followers that fail the configured heuristics.
Progress is saved as it goes, so an interrupted audit resumes where it left off.`,
		SilenceUsage: true,

		// Build the application once flags are parsed and inject it into the
		// command context for subcommands to use.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			if opts.verbose {
				cfg.Logging.Development = true
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			progress.out = cmd.ErrOrStderr()
			appInstance, err := newApp(cmd.Context(), cfg, app.Options{
				Logger:     logger,
				OnProgress: progress.Update,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			if onStart != nil {
				onStart(appInstance)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, TOML, or JSON)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "human readable development logging")

	cmd.AddCommand(
		newAuditCmd(),
		newServeCmd(),
		newExportCmd(),
		newShowCmd(),
		newClearCmd(),
		newListCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
