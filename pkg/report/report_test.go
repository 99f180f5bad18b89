package report_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ltrt/ltrt/pkg/metrics"
	"github.com/ltrt/ltrt/pkg/report"
)

func recorded() *metrics.Recorder {
	r := metrics.NewRecorder()
	for i := 0; i < 20; i++ {
		r.Observe(metrics.StageQueuePull, time.Duration(i+1)*time.Millisecond, nil)
		r.Observe(metrics.StageTracking, 15*time.Millisecond, nil)
		r.Observe(metrics.StageTotal, 20*time.Millisecond, nil)
	}
	r.Count(metrics.SetsAligned, 20, nil)
	return r
}

func TestFromRecorder(t *testing.T) {
	rep := report.FromRecorder("run_abc", recorded(), 5)

	assert.Equal(t, "run_abc", rep.Title)
	assert.Len(t, rep.Samples[metrics.StageQueuePull], 20)
	assert.NotContains(t, rep.Samples, metrics.StageTriangulation)
	assert.EqualValues(t, 20, rep.Counters[metrics.SetsAligned])
	assert.NotEmpty(t, rep.Summaries)
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.FromRecorder("run_abc", recorded(), 0).Render(&buf))

	html := buf.String()
	assert.Contains(t, html, "<html")
	assert.Contains(t, html, "run_abc")
	assert.Contains(t, html, metrics.StageTracking)
	assert.Contains(t, html, metrics.SetsAligned)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "report.html")
	require.NoError(t, report.FromRecorder("run_abc", recorded(), 0).WriteFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
