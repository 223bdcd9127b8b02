// Package commands implements the CLI commands for cartpilot.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/cartpilot/internal/config"
	"github.com/jmylchreest/cartpilot/internal/logger"
	"github.com/jmylchreest/cartpilot/internal/output"
	"github.com/jmylchreest/cartpilot/pkg/cartpilot"
)

var rootCmd = &cobra.Command{
	Use:   "cartpilot",
	Short: "Search a shopping site and fill the cart through a real browser",
	Long: `Cartpilot drives a stealth-configured Chrome session to search a
listings site, collect product records across result pages, and add
sponsored or chosen products to the cart.

Examples:
  # Search and print a markdown summary
  cartpilot search "wireless mouse"

  # Search, then add up to 3 sponsored results from the same page
  cartpilot search "usb hub" --add 3

  # Add the first 2 labelled sponsored results for a term
  cartpilot cart --top 2 --term "usb hub"

  # Add specific products by identifier
  cartpilot cart --ids B0HUB00001,B0HUB00002 --term "usb hub" -o json`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()

	// Global flags
	flags.String("config", "", "config file (default $HOME/.cartpilot.yaml)")
	flags.Bool("debug", false, "enable debug logging")
	flags.BoolP("quiet", "q", false, "suppress progress output")
	flags.StringP("format", "o", string(output.FormatMarkdown), "output format: markdown, json, jsonl, yaml")

	// Logging
	flags.String("log-file", "", "also write logs to this file (rotated)")
	flags.String("log-max-size", "10MB", "rotate the log file at this size")
	flags.Bool("log-json", false, "log as JSON")

	// Browser
	flags.Bool("headless", true, "run Chrome without a window")
	flags.String("site", "", "site profile YAML overlaid on the built-in profile")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("quiet", flags.Lookup("quiet"))
	_ = viper.BindPFlag("log.file", flags.Lookup("log-file"))
	_ = viper.BindPFlag("log.max_size", flags.Lookup("log-max-size"))
	_ = viper.BindPFlag("log.json", flags.Lookup("log-json"))
	_ = viper.BindPFlag("browser.headless", flags.Lookup("headless"))
	_ = viper.BindPFlag("site.profile", flags.Lookup("site"))
}

func initConfig() {
	config.Setup(viper.GetViper(), viper.GetString("config"))
}

// Execute runs the root command.
func Execute() error {
	defer logger.Close()
	return rootCmd.Execute()
}

// setup initializes logging, loads configuration and opens a client. The
// returned context is cancelled on SIGINT or SIGTERM.
func setup() (context.Context, *cartpilot.Client, func(), error) {
	if err := initLogger(); err != nil {
		return nil, nil, nil, err
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return nil, nil, nil, err
	}
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Debug("config loaded", "path", used)
	}

	client, err := cartpilot.New(cfg)
	if err != nil {
		logger.Error("failed to create client", "error", err)
		return nil, nil, nil, err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	cleanup := func() {
		cancel()
		if err := client.Close(); err != nil {
			logger.Warn("closing client", "error", err)
		}
	}
	return ctx, client, cleanup, nil
}

func initLogger() error {
	opts := logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
		JSON:  viper.GetBool("log.json"),
	}
	if path := viper.GetString("log.file"); path != "" {
		size, err := humanize.ParseBytes(viper.GetString("log.max_size"))
		if err != nil {
			return fmt.Errorf("invalid log-max-size %q: %w", viper.GetString("log.max_size"), err)
		}
		opts.File = &logger.FileOptions{
			Path:      path,
			MaxSizeMB: int(size / humanize.MByte),
			Compress:  true,
		}
	}
	logger.Init(opts)
	return nil
}

// emit writes envelopes to stdout in the selected format.
func emit(cmd *cobra.Command, envs ...output.Envelope) error {
	format, _ := cmd.Flags().GetString("format")
	var opts []output.WriterOption
	if cmd.Flags().Lookup("limit") != nil {
		limit, _ := cmd.Flags().GetInt("limit")
		opts = append(opts, output.WithLimit(limit))
	}
	w, err := output.NewWriter(cmd.OutOrStdout(), output.Format(strings.ToLower(format)), opts...)
	if err != nil {
		return err
	}
	for _, env := range envs {
		if err := w.Write(env); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}

// fail reports err as an error envelope and returns it so the process exits
// non-zero. The raw error only goes to the debug log.
func fail(cmd *cobra.Command, err error, prior ...output.Envelope) error {
	logger.Debug("command failed", "error", err)
	d := cartpilot.Describe(err)
	if emitErr := emit(cmd, append(prior, output.Error(d))...); emitErr != nil {
		logError("%s", d.Message)
	}
	return err
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// logInfo prints an info message to stderr (unless quiet mode).
func logInfo(format string, args ...any) {
	if !viper.GetBool("quiet") {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
