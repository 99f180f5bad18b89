package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ltrt/ltrt/internal/engine"
	"github.com/ltrt/ltrt/pkg/process"
	"github.com/ltrt/ltrt/pkg/state"
)

func (c *CLI) newStatusCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the latest run",
		Long:  `Read the run state files and report whether a pipeline is running, how it ended and its counters.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus(all)
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "list every recorded run")
	return cmd
}

func (c *CLI) runStatus(all bool) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	sm := state.NewStateManager(cfg.StateDir, c.logger)

	if all {
		states, err := sm.DiscoverStates()
		if err != nil {
			return err
		}
		if len(states) == 0 {
			c.printInfo("No runs recorded")
			return nil
		}
		c.printRuns(states)
		return nil
	}

	latest, err := sm.Latest()
	if errors.Is(err, state.ErrNoRuns) {
		c.printInfo("No runs recorded")
		return nil
	}
	if err != nil {
		return err
	}
	c.printRun(latest)
	return nil
}

func (c *CLI) printRuns(states map[string]*state.RunState) {
	runs := make([]*state.RunState, 0, len(states))
	for _, s := range states {
		runs = append(runs, s)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATE\tCAMERAS\tFPS\tSTARTED\tDURATION")
	fmt.Fprintln(w, "---\t-----\t-------\t---\t-------\t--------")
	for _, s := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%g\t%s\t%s\n",
			s.RunID, colorState(s), len(s.Cameras), s.TargetFPS,
			s.StartedAt.Format("2006-01-02 15:04:05"), runDuration(s))
	}
	w.Flush()
}

func (c *CLI) printRun(s *state.RunState) {
	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run:\t%s\n", s.RunID)
	fmt.Fprintf(w, "State:\t%s\n", colorState(s))
	fmt.Fprintf(w, "Cameras:\t%s\n", joinInts(s.Cameras))
	fmt.Fprintf(w, "Target FPS:\t%g\n", s.TargetFPS)
	fmt.Fprintf(w, "Started:\t%s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Duration:\t%s\n", runDuration(s))
	if s.IsActive() {
		fmt.Fprintf(w, "PID:\t%d\n", s.ProcessID)
		fmt.Fprintf(w, "Heartbeat:\t%s ago\n", time.Since(s.Heartbeat).Round(time.Second))
	}
	if s.Cause != "" {
		fmt.Fprintf(w, "Cause:\t%s\n", s.Cause)
	}
	if s.ConfigPath != "" {
		fmt.Fprintf(w, "Config:\t%s\n", s.ConfigPath)
	}
	if s.RecordingDir != "" {
		fmt.Fprintf(w, "Recording:\t%s\n", s.RecordingDir)
	}
	w.Flush()

	writeCounters(c.output, s.Counters)
}

// colorState renders a run's lifecycle state. A run whose process vanished
// without reaching STOPPED is reported as dead.
func colorState(s *state.RunState) string {
	label := s.State
	switch {
	case s.StoppedAt == nil && !s.IsActive():
		return color.RedString("DEAD (last %s)", label)
	case label == engine.StateRunning.String():
		return color.GreenString(label)
	case label == engine.StateStopped.String() && s.Cause != "":
		if strings.Contains(s.Cause, engine.ErrStreamExhausted.Error()) {
			return color.CyanString(label)
		}
		return color.RedString(label)
	case label == engine.StateStopped.String():
		return color.CyanString(label)
	default:
		return color.YellowString(label)
	}
}

func runDuration(s *state.RunState) string {
	end := time.Now()
	if s.StoppedAt != nil {
		end = *s.StoppedAt
	} else if !s.IsActive() {
		end = s.Heartbeat
	}
	return end.Sub(s.StartedAt).Round(time.Millisecond).String()
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}

func (c *CLI) newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running pipeline",
		Long:  `Send SIGTERM to the process of the latest active run and wait for it to exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStop()
		},
	}
}

func (c *CLI) runStop() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	sm := state.NewStateManager(cfg.StateDir, c.logger)

	latest, err := sm.Latest()
	if err != nil && !errors.Is(err, state.ErrNoRuns) {
		return err
	}
	if latest == nil || !latest.IsActive() {
		c.printInfo("No pipeline is running")
		return nil
	}

	c.printInfo(fmt.Sprintf("Stopping %s (pid %d)", latest.RunID, latest.ProcessID))
	if err := process.Terminate(latest.ProcessID, shutdownGrace(cfg)); err != nil {
		return fmt.Errorf("failed to stop %s: %w", latest.RunID, err)
	}
	c.printSuccess(fmt.Sprintf("Stopped %s", latest.RunID))
	return nil
}
