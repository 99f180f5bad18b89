package cli

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/ltrt/ltrt/internal/engine"
	"github.com/ltrt/ltrt/pkg/fake"
	"github.com/ltrt/ltrt/pkg/process"
	"github.com/ltrt/ltrt/pkg/remote"
)

// DefaultTrackerAddr is where serve-tracker listens by default
const DefaultTrackerAddr = "127.0.0.1:50051"

type serveOptions struct {
	listen string
	delay  time.Duration
}

func (c *CLI) newServeTrackerCmd() *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve-tracker",
		Short: "Serve a synthetic tracker over gRPC",
		Long: `Run an out-of-process tracker for every configured camera. Point a pipeline
at it with tracker.mode: remote and tracker.endpoints: [<address>].`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServeTracker(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.listen, "listen", "l", DefaultTrackerAddr, "address to listen on")
	cmd.Flags().DurationVar(&opts.delay, "delay", 0, "simulated inference time per frame")

	return cmd
}

func (c *CLI) runServeTracker(ctx context.Context, opts serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	factory := engine.NewDependencyFactory(cfg, c.logger)
	cal, err := factory.Calibration()
	if err != nil {
		return err
	}
	rig, err := fake.NewRig(cal, factory.Cameras(), opts.delay)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", opts.listen, err)
	}
	return c.serveTracker(ctx, remote.NewServer(rig, c.logger), lis)
}

// serveTracker serves until ctx ends or the process is signalled
func (c *CLI) serveTracker(ctx context.Context, srv *remote.Server, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pm := process.NewManager(c.logger)
	pm.RegisterShutdownHandler(cancel)
	pm.Start(ctx)
	defer pm.Stop()

	c.printInfo(fmt.Sprintf("Serving tracker on %s", lis.Addr()))
	if err := srv.Serve(ctx, lis); err != nil {
		return err
	}
	c.printSuccess(fmt.Sprintf("Tracker stopped after %d frames", srv.Served()))
	return nil
}
