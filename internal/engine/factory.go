package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/ltrt/ltrt/pkg/calibration"
	"github.com/ltrt/ltrt/pkg/config"
	"github.com/ltrt/ltrt/pkg/fake"
	"github.com/ltrt/ltrt/pkg/interfaces"
	"github.com/ltrt/ltrt/pkg/logger"
	"github.com/ltrt/ltrt/pkg/metrics"
	"github.com/ltrt/ltrt/pkg/recorder"
	"github.com/ltrt/ltrt/pkg/remote"
	"github.com/ltrt/ltrt/pkg/timeutil"
	"github.com/ltrt/ltrt/pkg/triangulate"
	"github.com/ltrt/ltrt/pkg/types"
)

// SyntheticRingRadius places synthetic cameras when no calibration file is
// configured
const SyntheticRingRadius = 4.0

// DependencyFactory builds pipeline options and default collaborators from
// a loaded configuration. Constructors never fall back to concrete
// implementations on their own; this is the one place that does.
type DependencyFactory struct {
	cfg     *config.Config
	log     logger.Logger
	runID   string
	metrics metrics.Sink
	clock   timeutil.Clock
}

// NewDependencyFactory creates a new dependency factory
func NewDependencyFactory(cfg *config.Config, log logger.Logger) *DependencyFactory {
	return &DependencyFactory{
		cfg:     cfg,
		log:     log,
		metrics: metrics.Nop{},
		clock:   timeutil.RealClock{},
	}
}

// WithRunID names the recording session
func (f *DependencyFactory) WithRunID(id string) *DependencyFactory {
	f.runID = id
	return f
}

// WithMetrics sets the sink every stage reports to
func (f *DependencyFactory) WithMetrics(sink metrics.Sink) *DependencyFactory {
	if sink != nil {
		f.metrics = sink
	}
	return f
}

// WithClock replaces the wall clock
func (f *DependencyFactory) WithClock(clock timeutil.Clock) *DependencyFactory {
	if clock != nil {
		f.clock = clock
	}
	return f
}

// Cameras returns the configured camera ids in ascending order
func (f *DependencyFactory) Cameras() []types.CameraID {
	ids := make([]types.CameraID, len(f.cfg.Cameras))
	for i, id := range f.cfg.Cameras {
		ids[i] = types.CameraID(id)
	}
	return types.SortCameraIDs(ids)
}

// Options maps the configuration onto pipeline options
func (f *DependencyFactory) Options() Options {
	c := f.cfg
	return Options{
		Cameras:   f.Cameras(),
		TargetFPS: c.TargetFPS,
		Cutoff:    c.Cutoff(),
		Capacities: Capacities{
			RawFrames:    c.Channels.RawFrames,
			TrackerInput: c.Channels.TrackerInput,
			Results:      c.Channels.Results,
			Output:       c.Channels.Output,
		},
		Timeouts: Timeouts{
			Receive:        c.Timeouts.Receive,
			SyncPoll:       c.Timeouts.SyncPoll,
			SendBlock:      c.Timeouts.SendBlock,
			StartupGrace:   c.Timeouts.StartupGrace,
			Shutdown:       c.Timeouts.Shutdown,
			StallThreshold: c.Timeouts.StallThreshold,
		},
		MaxInFlight: c.Aggregator.MaxInFlight,
	}
}

// CreateDefaults creates every dependency the configuration asks for.
// On error, anything already opened is closed again.
func (f *DependencyFactory) CreateDefaults(ctx context.Context) (Dependencies, error) {
	return f.CreateWithOverrides(ctx, Dependencies{})
}

// CreateWithOverrides creates dependencies, taking every non-nil field of
// overrides instead of building the default
func (f *DependencyFactory) CreateWithOverrides(ctx context.Context, overrides Dependencies) (deps Dependencies, err error) {
	var opened []io.Closer
	defer func() {
		if err != nil {
			for _, c := range opened {
				_ = c.Close()
			}
		}
	}()

	deps = Dependencies{
		Sources:      overrides.Sources,
		Trackers:     overrides.Trackers,
		Triangulator: overrides.Triangulator,
		Calibration:  overrides.Calibration,
		Sink:         overrides.Sink,
		Metrics:      f.metrics,
		Clock:        f.clock,
	}
	if overrides.Metrics != nil {
		deps.Metrics = overrides.Metrics
	}
	if overrides.Clock != nil {
		deps.Clock = overrides.Clock
	}

	if deps.Calibration == nil {
		if deps.Calibration, err = f.Calibration(); err != nil {
			return deps, err
		}
	}
	if deps.Sources == nil {
		deps.Sources = f.createSources(deps.Clock)
	}
	if deps.Trackers == nil {
		if deps.Trackers, err = f.createTrackers(deps.Calibration, &opened); err != nil {
			return deps, err
		}
	}
	if deps.Triangulator == nil {
		deps.Triangulator = triangulate.New()
	}
	if deps.Sink == nil && f.cfg.Recording.Enabled {
		rec, err := f.createRecorder(ctx)
		if err != nil {
			return deps, err
		}
		opened = append(opened, rec)
		deps.Sink = rec
	}
	return deps, nil
}

// Calibration loads the configured calibration, or a synthetic ring when no
// file is configured
func (f *DependencyFactory) Calibration() (*calibration.Calibration, error) {
	if f.cfg.CalibrationPath == "" {
		f.log.Debug("No calibration file configured, using synthetic ring",
			logger.WithField("radius", SyntheticRingRadius))
		return calibration.Ring(f.Cameras(), SyntheticRingRadius), nil
	}
	cal, err := calibration.Load(f.cfg.CalibrationPath)
	if err != nil {
		return nil, err
	}
	if err := cal.Covers(f.Cameras()); err != nil {
		return nil, fmt.Errorf("%s: %w", f.cfg.CalibrationPath, err)
	}
	return cal, nil
}

func (f *DependencyFactory) createSources(clock timeutil.Clock) []interfaces.FrameSource {
	src := f.cfg.Source
	synthetic := fake.Sources(f.Cameras(), f.cfg.TargetFPS, src.Frames, src.Latency, src.Paced, clock)
	out := make([]interfaces.FrameSource, len(synthetic))
	for i, s := range synthetic {
		out[i] = s
	}
	return out
}

func (f *DependencyFactory) createTrackers(cal *calibration.Calibration, opened *[]io.Closer) (map[types.CameraID]interfaces.Tracker, error) {
	trackers := make(map[types.CameraID]interfaces.Tracker, len(f.cfg.Cameras))
	for i, id := range f.Cameras() {
		switch f.cfg.Tracker.Mode {
		case config.TrackerModeRemote:
			client, err := remote.Dial(id, f.cfg.TrackerEndpoint(i))
			if err != nil {
				return nil, err
			}
			*opened = append(*opened, client)
			trackers[id] = client
		default:
			cam, err := cal.Camera(id)
			if err != nil {
				return nil, err
			}
			trackers[id] = &fake.Tracker{Camera: cam}
		}
	}
	return trackers, nil
}

func (f *DependencyFactory) createRecorder(ctx context.Context) (*recorder.Recorder, error) {
	root, err := recorder.RecordingDir(f.cfg.Recording.Root)
	if err != nil {
		return nil, err
	}
	return recorder.Open(ctx, root, recorder.Session{
		ID:        f.runID,
		Cameras:   f.Cameras(),
		TargetFPS: f.cfg.TargetFPS,
		StartedAt: f.clock.Now(),
	}, f.log)
}
