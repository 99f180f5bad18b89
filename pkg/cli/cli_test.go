package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ltrt/ltrt/pkg/calibration"
	"github.com/ltrt/ltrt/pkg/config"
	"github.com/ltrt/ltrt/pkg/fake"
	"github.com/ltrt/ltrt/pkg/logger"
	"github.com/ltrt/ltrt/pkg/remote"
	"github.com/ltrt/ltrt/pkg/state"
	"github.com/ltrt/ltrt/pkg/types"
)

func newTestCLI() (*CLI, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	cfg := NewConfig()
	cfg.Version = "1.2.3"
	return NewCLIWithOutput(cfg, &out, &errOut), &out, &errOut
}

const unpacedSource = `source:
  mode: synthetic
  frames: 20
  paced: false
`

// writeConfig writes a small unpaced synthetic configuration into dir.
// extra is appended verbatim as additional YAML.
func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	return writeConfigWithSource(t, dir, unpacedSource, extra)
}

func writeConfigWithSource(t *testing.T, dir, source, extra string) string {
	t.Helper()
	body := fmt.Sprintf(`version: "1.0"
target_fps: 30
cameras: [0, 1]
%schannels:
  raw_frames: 32
  tracker_input: 1
  results: 1
  output: 32
state_dir: %s
recording:
  root: %s
`, source, filepath.Join(dir, "state"), filepath.Join(dir, "recordings"))

	path := filepath.Join(dir, config.DefaultFileName)
	if err := os.WriteFile(path, []byte(body+extra), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	c, out, _ := newTestCLI()
	if err := c.Execute([]string{"version"}); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if got := out.String(); got != "ltrt v1.2.3\n" {
		t.Errorf("unexpected version output %q", got)
	}
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "ltrt.yaml")

	c, out, _ := newTestCLI()
	if err := c.Execute([]string{"init", "--config", path, "--cameras", "1,4,7", "--fps", "60"}); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !strings.Contains(out.String(), "Created "+path) {
		t.Errorf("missing success line in %q", out.String())
	}

	cfg, err := config.NewManager().LoadConfig(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if len(cfg.Cameras) != 3 || cfg.Cameras[2] != 7 {
		t.Errorf("unexpected cameras %v", cfg.Cameras)
	}
	if cfg.TargetFPS != 60 {
		t.Errorf("expected 60 fps, got %v", cfg.TargetFPS)
	}

	c, _, _ = newTestCLI()
	if err := c.Execute([]string{"init", "--config", path}); err == nil {
		t.Error("init should refuse to overwrite an existing file")
	}

	c, _, _ = newTestCLI()
	if err := c.Execute([]string{"init", "--config", path, "--force"}); err != nil {
		t.Errorf("init --force failed: %v", err)
	}
}

func TestInitCommand_Remote(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ltrt.yaml")

	c, _, _ := newTestCLI()
	if err := c.Execute([]string{"init", "--config", path, "--remote", "10.0.0.5:50051"}); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	cfg, err := config.NewManager().LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Tracker.Mode != config.TrackerModeRemote || cfg.TrackerEndpoint(2) != "10.0.0.5:50051" {
		t.Errorf("unexpected tracker config %+v", cfg.Tracker)
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	c, out, _ := newTestCLI()
	if err := c.Execute([]string{"validate", "--config", path}); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	for _, want := range []string{"Configuration is valid", "cameras: 0, 1", "synthetic camera ring"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("validate output missing %q:\n%s", want, out.String())
		}
	}
}

func TestValidateCommand_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name  string
		extra string
	}{
		{"missing calibration", "calibration_path: " + filepath.Join(dir, "missing.toml") + "\n"},
		{"bad tracker mode", "tracker:\n  mode: carrier-pigeon\n"},
		{"no in-flight instants", "aggregator:\n  max_in_flight: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.extra)
			c, _, errOut := newTestCLI()
			if err := c.Execute([]string{"validate", "--config", path}); err == nil {
				t.Fatal("expected validation error")
			}
			if errOut.Len() == 0 {
				t.Error("expected the error on stderr")
			}
		})
	}
}

func TestValidateCommand_CalibrationMustCoverCameras(t *testing.T) {
	dir := t.TempDir()
	calPath := filepath.Join(dir, "calibration.toml")
	f, err := os.Create(calPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := calibration.Ring([]types.CameraID{0}, 4).Encode(f); err != nil {
		t.Fatal(err)
	}
	f.Close()

	path := writeConfig(t, dir, "calibration_path: "+calPath+"\n")
	c, _, _ := newTestCLI()
	if err := c.Execute([]string{"validate", "--config", path}); err == nil {
		t.Error("expected error: camera 1 has no calibration")
	}
}

func TestRunCommand_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")
	reportPath := filepath.Join(dir, "out", "report.html")

	c, out, _ := newTestCLI()
	err := c.Execute([]string{"run", "--config", path, "--frames", "25", "--record", "--report", reportPath})
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out.String())
	}

	for _, want := range []string{"Starting run run_", "stopped after", "COUNTER", "sync.sets_aligned", "Recording saved in", "Report written to"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("run output missing %q", want)
		}
	}
	if _, err := os.Stat(reportPath); err != nil {
		t.Errorf("report not written: %v", err)
	}

	latest, err := state.NewStateManager(filepath.Join(dir, "state"), logger.NewNopLogger()).Latest()
	if err != nil {
		t.Fatalf("no run state: %v", err)
	}
	if latest.State != "STOPPED" {
		t.Errorf("expected STOPPED, got %s", latest.State)
	}
	if latest.StoppedAt == nil {
		t.Error("stop time not recorded")
	}
	if !strings.Contains(latest.Cause, "exhausted") {
		t.Errorf("expected end-of-stream cause, got %q", latest.Cause)
	}
	if latest.Counters["sync.sets_aligned"] == 0 {
		t.Errorf("expected counters in the final state, got %v", latest.Counters)
	}
	if latest.RecordingDir == "" || !strings.HasPrefix(latest.RecordingDir, filepath.Join(dir, "recordings")) {
		t.Errorf("unexpected recording dir %q", latest.RecordingDir)
	}
	if latest.IsActive() {
		t.Error("finished run must not be active")
	}
}

func TestRunCommand_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigWithSource(t, dir, "source:\n  mode: synthetic\n  frames: 100000\n  paced: true\n", "")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	c, out, _ := newTestCLI()
	if err := c.ExecuteContext(ctx, []string{"run", "--config", path}); err != nil {
		t.Fatalf("cancelled run should stop cleanly: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "stopped after") {
		t.Errorf("missing stop line:\n%s", out.String())
	}
}

func TestStatusCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	c, out, _ := newTestCLI()
	if err := c.Execute([]string{"status", "--config", path}); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out.String(), "No runs recorded") {
		t.Errorf("expected empty status, got %q", out.String())
	}

	sm := state.NewStateManager(filepath.Join(dir, "state"), logger.NewNopLogger())
	if _, err := sm.InitializeState(state.RunState{RunID: "run_old", State: "RUNNING", Cameras: []int{0, 1}, TargetFPS: 30,
		StartedAt: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := sm.MarkStopped("run_old", fmt.Errorf("tracker cam_1 failed")); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.InitializeState(state.RunState{RunID: "run_new", State: "RUNNING", Cameras: []int{0, 1}, TargetFPS: 30}); err != nil {
		t.Fatal(err)
	}

	c, out, _ = newTestCLI()
	if err := c.Execute([]string{"status", "--config", path}); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	for _, want := range []string{"run_new", "RUNNING", "PID:", "0, 1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("status missing %q:\n%s", want, out.String())
		}
	}

	c, out, _ = newTestCLI()
	if err := c.Execute([]string{"status", "--config", path, "--all"}); err != nil {
		t.Fatalf("status --all failed: %v", err)
	}
	if !strings.Contains(out.String(), "run_old") || !strings.Contains(out.String(), "run_new") {
		t.Errorf("status --all should list both runs:\n%s", out.String())
	}
}

func TestStopCommand_NothingRunning(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "")

	c, out, _ := newTestCLI()
	if err := c.Execute([]string{"stop", "--config", path}); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !strings.Contains(out.String(), "No pipeline is running") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestServeTracker_RemotePipeline(t *testing.T) {
	cameras := []types.CameraID{0, 1}
	rig, err := fake.NewRig(calibration.Ring(cameras, 4), cameras, 0)
	if err != nil {
		t.Fatal(err)
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, _, _ := newTestCLI()
	server.logger = logger.NewNopLogger()
	served := make(chan error, 1)
	go func() { served <- server.serveTracker(ctx, remote.NewServer(rig, logger.NewNopLogger()), lis) }()

	dir := t.TempDir()
	path := writeConfig(t, dir, fmt.Sprintf("tracker:\n  mode: remote\n  endpoints: [%q]\n", lis.Addr().String()))

	c, out, _ := newTestCLI()
	if err := c.Execute([]string{"run", "--config", path, "--frames", "10"}); err != nil {
		t.Fatalf("remote run failed: %v\n%s", err, out.String())
	}
	if rig.Calls() == 0 {
		t.Error("remote tracker was never called")
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tracker server did not stop")
	}
}

type closeFailingSink struct {
	closes int
}

func (s *closeFailingSink) Write(context.Context, *types.Triangulated) error { return nil }

func (s *closeFailingSink) Close() error {
	s.closes++
	return errors.New("database is locked")
}

func TestCloseSink(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	closeSink(nil, log)
	if buf.Len() != 0 {
		t.Errorf("nil sink should log nothing, got %q", buf.String())
	}

	sink := &closeFailingSink{}
	closeSink(sink, log)
	if sink.closes != 1 {
		t.Errorf("expected one Close, got %d", sink.closes)
	}
	if !strings.Contains(buf.String(), "Failed to close output sink") || !strings.Contains(buf.String(), "database is locked") {
		t.Errorf("expected the close failure to be logged, got %q", buf.String())
	}
}
