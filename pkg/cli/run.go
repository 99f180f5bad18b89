package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ltrt/ltrt/internal/engine"
	"github.com/ltrt/ltrt/pkg/calibration"
	"github.com/ltrt/ltrt/pkg/config"
	lcontext "github.com/ltrt/ltrt/pkg/context"
	"github.com/ltrt/ltrt/pkg/interfaces"
	"github.com/ltrt/ltrt/pkg/logger"
	"github.com/ltrt/ltrt/pkg/metrics"
	"github.com/ltrt/ltrt/pkg/notifier"
	"github.com/ltrt/ltrt/pkg/process"
	"github.com/ltrt/ltrt/pkg/recorder"
	"github.com/ltrt/ltrt/pkg/report"
	"github.com/ltrt/ltrt/pkg/state"
)

// reportWarmup is the number of leading instants left out of latency
// summaries; the first frames include model warmup and connection setup
const reportWarmup = 10

type runOptions struct {
	frames     int
	report     string
	record     bool
	cpuprofile string
	progress   time.Duration
}

func (c *CLI) newRunCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline",
		Long: `Start the pipeline and run it until every source is exhausted, a stage
fails, or the process receives SIGINT, SIGTERM or SIGHUP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("frames") {
				opts.frames = -1
			}
			return c.runPipeline(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.frames, "frames", "n", 0, "frames per camera to replay (default from source.frames)")
	cmd.Flags().StringVar(&opts.report, "report", "", "write an HTML latency report to this path")
	cmd.Flags().BoolVar(&opts.record, "record", false, "record triangulated points")
	cmd.Flags().StringVar(&opts.cpuprofile, "cpuprofile", "", "write a CPU profile to this path")
	cmd.Flags().DurationVar(&opts.progress, "progress", 5*time.Second, "interval between progress log lines")

	return cmd
}

func (c *CLI) runPipeline(ctx context.Context, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rc := NewRuntimeConfig(c.config, ctx)

	cfg, err := c.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.frames >= 0 {
		cfg.Source.Frames = opts.frames
	}
	if opts.record {
		cfg.Recording.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := c.logger

	if opts.cpuprofile != "" {
		f, err := os.Create(opts.cpuprofile)
		if err != nil {
			return fmt.Errorf("failed to create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	runID := lcontext.GenerateRunID()
	ctx = lcontext.WithRunID(ctx, runID)

	rec := metrics.NewRecorder()
	sink := metrics.Fanout{rec, metrics.NewLogSink(log)}

	factory := engine.NewDependencyFactory(cfg, log).WithRunID(runID).WithMetrics(sink)
	deps, err := factory.CreateDefaults(ctx)
	if err != nil {
		return err
	}
	defer closeTrackers(deps, log)

	pipeline, err := engine.NewPipeline(factory.Options(), deps, log)
	if err != nil {
		closeSink(deps.Sink, log)
		return err
	}

	runState := state.RunState{
		RunID:      runID,
		State:      engine.StateCreated.String(),
		Cameras:    cfg.Cameras,
		TargetFPS:  cfg.TargetFPS,
		ConfigPath: c.manager.ConfigFileUsed(),
	}
	if r, ok := deps.Sink.(*recorder.Recorder); ok {
		runState.RecordingDir = r.Dir()
	}
	sm := state.NewStateManager(cfg.StateDir, log)
	if _, err := sm.InitializeState(runState); err != nil {
		log.Warn("Failed to write run state", logger.WithError(err))
	}
	sm.SetCounterSource(rec.Counters)
	defer sm.Cleanup()

	pipeline.Supervisor().OnTransition(func(t engine.Transition) {
		if err := sm.RecordTransition(runID, t.To.String(), t.Cause); err != nil {
			log.Debug("Failed to record transition", logger.WithError(err))
		}
	})
	sm.StartHeartbeat(ctx, state.DefaultHeartbeatInterval)

	notify := notifier.New(notifier.Config{Enabled: cfg.Notifications.Enabled, Sound: true}, log)

	if cfg.CalibrationPath != "" {
		watcher := calibration.NewWatcher(cfg.CalibrationPath, log, nil)
		if err := watcher.Start(ctx); err != nil {
			log.Warn("Calibration watcher unavailable", logger.WithError(err))
		} else {
			defer watcher.Stop()
		}
	}

	stopRequested := make(chan struct{})
	var stopOnce sync.Once
	pm := process.NewManager(log)
	pm.RegisterShutdownHandler(func() {
		stopOnce.Do(func() { close(stopRequested) })
	})
	pm.SetHeartbeat(func() { logProgress(log, rec) }, opts.progress)
	pm.Start(ctx)
	defer pm.Stop()

	c.printInfo(fmt.Sprintf("Starting run %s (%d cameras, %g fps)", runID, len(cfg.Cameras), cfg.TargetFPS))
	if _, err := pipeline.Start(ctx); err != nil {
		waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace(cfg))
		werr := pipeline.Wait(waitCtx)
		cancel()
		if werr == nil || errors.Is(werr, context.DeadlineExceeded) {
			werr = err
		}
		c.finishRun(sm, notify, runID, pipeline.Supervisor().Cause(), werr, rc.Elapsed())
		return werr
	}
	notify.NotifyStarted(runID, len(cfg.Cameras))

	select {
	case <-pipeline.Supervisor().Done():
	case <-stopRequested:
		c.printInfo("Shutting down gracefully...")
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace(cfg))
		if err := pipeline.Stop(stopCtx); err != nil {
			log.Warn("Shutdown incomplete", logger.WithError(err))
		}
		cancel()
	}

	werr := pipeline.Wait(context.Background())
	cause := pipeline.Supervisor().Cause()
	c.finishRun(sm, notify, runID, cause, werr, rc.Elapsed())
	if werr == nil && cause != nil {
		c.printInfo(fmt.Sprintf("Run ended: %v", cause))
	}

	c.printSummary(rec)
	if opts.report != "" {
		if err := report.FromRecorder("ltrt "+runID, rec, reportWarmup).WriteFile(opts.report); err != nil {
			log.Warn("Failed to write report", logger.WithError(err))
		} else {
			c.printSuccess(fmt.Sprintf("Report written to %s", opts.report))
		}
	}
	if runState.RecordingDir != "" {
		c.printSuccess(fmt.Sprintf("Recording saved in %s", runState.RecordingDir))
	}
	return werr
}

func (c *CLI) finishRun(sm *state.StateManager, notify *notifier.PipelineNotifier, runID string, cause, werr error, elapsed time.Duration) {
	if cause == nil {
		cause = werr
	}
	if err := sm.MarkStopped(runID, cause); err != nil {
		c.logger.Debug("Failed to record stop", logger.WithError(err))
	}
	notify.NotifyStopped(runID, cause, werr == nil, elapsed)
	if werr != nil {
		c.printError(fmt.Sprintf("Run %s failed after %s: %v", runID, elapsed.Round(time.Millisecond), werr))
		return
	}
	c.printSuccess(fmt.Sprintf("Run %s stopped after %s", runID, elapsed.Round(time.Millisecond)))
}

func (c *CLI) printSummary(rec *metrics.Recorder) {
	summaries := metrics.SummarizeRecorder(rec, reportWarmup)
	if len(summaries) > 0 {
		fmt.Fprintln(c.output)
		metrics.WriteReport(c.output, summaries)
	}
	writeCounters(c.output, rec.Counters())
}

func writeCounters(out io.Writer, counters map[string]int64) {
	if len(counters) == 0 {
		return
	}
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COUNTER\tVALUE")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%d\n", name, counters[name])
	}
	w.Flush()
}

func logProgress(log logger.Logger, rec *metrics.Recorder) {
	log.Info("Pipeline progress",
		logger.WithField("sets_aligned", rec.Counter(metrics.SetsAligned)),
		logger.WithField("emitted", rec.Counter(metrics.CombinedEmitted)),
		logger.WithField("discarded", rec.Counter(metrics.InstantsDiscarded)),
		logger.WithField("evicted", rec.Counter(metrics.FramesEvicted)))
}

func closeTrackers(deps engine.Dependencies, log logger.Logger) {
	for id, t := range deps.Trackers {
		if closer, ok := t.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				log.Debug("Failed to close tracker",
					logger.WithField("camera", id.String()),
					logger.WithError(err))
			}
		}
	}
}

// closeSink releases a sink the pipeline never took ownership of
func closeSink(sink interfaces.OutputSink, log logger.Logger) {
	if sink == nil {
		return
	}
	if err := sink.Close(); err != nil {
		log.Warn("Failed to close output sink", logger.WithError(err))
	}
}

// shutdownGrace bounds how long a stop request waits for a pipeline,
// covering the supervisor's own shutdown deadline plus worker termination
func shutdownGrace(cfg *config.Config) time.Duration {
	return 2 * cfg.Timeouts.Shutdown
}
