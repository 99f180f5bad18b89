package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ltrt/ltrt/internal/engine"
	"github.com/ltrt/ltrt/pkg/config"
)

type initOptions struct {
	force     bool
	cameras   []int
	fps       float64
	remote    []string
	recording bool
}

func (c *CLI) newInitCmd() *cobra.Command {
	opts := initOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Create ` + config.DefaultFileName + ` (or the file named by --config) with
the default pipeline settings. Existing files are kept unless --force is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInit(opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "overwrite an existing config file")
	cmd.Flags().IntSliceVar(&opts.cameras, "cameras", nil, "camera ids (default 0,1,2)")
	cmd.Flags().Float64Var(&opts.fps, "fps", 0, "target frame rate")
	cmd.Flags().StringSliceVar(&opts.remote, "remote", nil, "remote tracker endpoints; switches the tracker mode to remote")
	cmd.Flags().BoolVar(&opts.recording, "record", false, "enable recording")

	return cmd
}

func (c *CLI) runInit(opts initOptions) error {
	path := c.config.ConfigFile
	if path == "" {
		path = config.DefaultFileName
	}

	cfg := config.Default()
	if len(opts.cameras) > 0 {
		cfg.Cameras = opts.cameras
	}
	if opts.fps > 0 {
		cfg.TargetFPS = opts.fps
	}
	if len(opts.remote) > 0 {
		cfg.Tracker.Mode = config.TrackerModeRemote
		cfg.Tracker.Endpoints = opts.remote
	}
	cfg.Recording.Enabled = opts.recording

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.WriteFile(path, opts.force); err != nil {
		return err
	}

	c.printSuccess(fmt.Sprintf("Created %s", path))
	c.printInfo(fmt.Sprintf("%d cameras at %.0f fps, alignment cutoff %s", len(cfg.Cameras), cfg.TargetFPS, cfg.Cutoff()))
	return nil
}

func (c *CLI) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long:  `Check that the configuration loads, that every value is usable and that the calibration covers every camera.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runValidate()
		},
	}
}

func (c *CLI) runValidate() error {
	cfg, err := c.loadConfig()
	if err != nil {
		c.printError(err.Error())
		return err
	}

	factory := engine.NewDependencyFactory(cfg, c.logger)
	if _, err := factory.Calibration(); err != nil {
		c.printError(err.Error())
		return err
	}

	source := "defaults"
	if used := c.manager.ConfigFileUsed(); used != "" {
		source = used
	}
	c.printSuccess(fmt.Sprintf("Configuration is valid (%s)", source))

	cameras := make([]string, len(cfg.Cameras))
	for i, id := range cfg.Cameras {
		cameras[i] = fmt.Sprint(id)
	}
	c.printInfo(fmt.Sprintf("cameras: %s", strings.Join(cameras, ", ")))
	c.printInfo(fmt.Sprintf("target fps: %g (cutoff %s)", cfg.TargetFPS, cfg.Cutoff()))
	c.printInfo(fmt.Sprintf("tracker: %s", cfg.Tracker.Mode))
	if cfg.Tracker.Mode == config.TrackerModeRemote {
		for i := range cfg.Cameras {
			c.printInfo(fmt.Sprintf("  camera %d -> %s", cfg.Cameras[i], cfg.TrackerEndpoint(i)))
		}
	}
	if cfg.CalibrationPath == "" {
		c.printWarning("No calibration_path set, using a synthetic camera ring")
	}
	return nil
}
