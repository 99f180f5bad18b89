// Package cli provides the command-line interface for ltrt
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ltrt/ltrt/pkg/config"
	"github.com/ltrt/ltrt/pkg/logger"
)

// CLI encapsulates the command tree and its output streams
type CLI struct {
	config   *Config
	rootCmd  *cobra.Command
	manager  *config.Manager
	logger   logger.Logger
	output   io.Writer
	errorOut io.Writer
}

// NewCLI creates a new CLI instance with the given configuration
func NewCLI(cfg *Config) *CLI {
	if cfg == nil {
		cfg = NewConfig()
	}

	c := &CLI{
		config:   cfg,
		output:   os.Stdout,
		errorOut: os.Stderr,
	}
	c.setupCommands()
	return c
}

// NewCLIWithOutput creates a CLI with custom output writers (for testing)
func NewCLIWithOutput(cfg *Config, output, errorOut io.Writer) *CLI {
	c := NewCLI(cfg)
	c.output = output
	c.errorOut = errorOut
	c.rootCmd.SetOut(output)
	c.rootCmd.SetErr(errorOut)
	return c
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

// Execute runs the ltrt command line
func Execute(version string) error {
	cfg := NewConfig()
	cfg.Version = version
	c := NewCLI(cfg)
	cobra.OnInitialize(c.initConfig)
	return c.Execute(os.Args[1:])
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "ltrt",
		Short: "Low-latency multi-camera pose pipeline",
		Long: `ltrt aligns frames from several cameras into time-synchronized sets,
tracks 2D keypoints per camera and triangulates them into 3D points.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.initConfig()
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	flags := c.rootCmd.PersistentFlags()
	flags.StringVar(&c.config.ConfigFile, "config", "", "config file (default: "+config.DefaultFileName+")")
	flags.StringVarP(&c.config.Verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("ltrt v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newRunCmd())
	c.rootCmd.AddCommand(c.newInitCmd())
	c.rootCmd.AddCommand(c.newValidateCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newStopCmd())
	c.rootCmd.AddCommand(c.newServeTrackerCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

// initConfig prepares the config manager once per CLI. The --verbosity
// flag overrides logging.level when given.
func (c *CLI) initConfig() {
	if c.manager != nil {
		return
	}
	c.manager = config.NewManager()
	if flag := c.rootCmd.PersistentFlags().Lookup("verbosity"); flag != nil {
		_ = c.manager.Viper().BindPFlag("logging.level", flag)
	}
	c.logger = c.newLogger("", c.config.Verbosity)
}

// loadConfig reads the configuration file and replaces the bootstrap
// logger with one honouring the logging section
func (c *CLI) loadConfig() (*config.Config, error) {
	c.initConfig()
	cfg, err := c.manager.LoadConfig(c.config.ConfigFile)
	if err != nil {
		return nil, err
	}
	c.logger = c.newLogger(cfg.Logging.File, cfg.Logging.Level)
	if used := c.manager.ConfigFileUsed(); used != "" {
		c.logger.Debug("Using config file", logger.WithField("file", used))
	}
	return cfg, nil
}

func (c *CLI) newLogger(file, level string) logger.Logger {
	if c.output == os.Stdout {
		return logger.CreateLogger(file, level)
	}
	return logger.CreateLoggerWithOutput(file, level, c.output)
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ltrt",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.output, "ltrt v%s\n", c.config.Version)
		},
	}
}

// Helper functions

func (c *CLI) printSuccess(message string) {
	fmt.Fprintf(c.output, "%s %s\n", color.GreenString("[ltrt]"), message)
}

func (c *CLI) printError(message string) {
	fmt.Fprintf(c.errorOut, "%s %s\n", color.RedString("[ltrt]"), message)
}

func (c *CLI) printInfo(message string) {
	fmt.Fprintf(c.output, "%s %s\n", color.CyanString("[ltrt]"), message)
}

func (c *CLI) printWarning(message string) {
	fmt.Fprintf(c.output, "%s %s\n", color.YellowString("[ltrt]"), message)
}
