// Package report renders a run's stage timings as an HTML page
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/ltrt/ltrt/pkg/metrics"
)

// Stages are the timings plotted, in pipeline order
var Stages = []string{
	metrics.StageQueuePull,
	metrics.StageTracking,
	metrics.StageTriangulation,
	metrics.StageTotal,
}

// Report is the data behind one page
type Report struct {
	Title     string
	Generated time.Time
	Summaries []metrics.Summary
	Samples   map[string][]time.Duration
	Counters  map[string]int64
}

// FromRecorder collects a report from a metrics recorder
func FromRecorder(title string, r *metrics.Recorder, warmup int) *Report {
	samples := make(map[string][]time.Duration, len(Stages))
	for _, name := range Stages {
		if s := r.Samples(name); len(s) > 0 {
			samples[name] = s
		}
	}
	return &Report{
		Title:     title,
		Generated: time.Now(),
		Summaries: metrics.SummarizeRecorder(r, warmup),
		Samples:   samples,
		Counters:  r.Counters(),
	}
}

// Render writes the HTML page
func (r *Report) Render(w io.Writer) error {
	page := components.NewPage()
	page.AddCharts(r.summaryChart(), r.timelineChart(), r.countersChart())
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	return nil
}

// WriteFile renders the page into path
func (r *Report) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := r.Render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (r *Report) summaryChart() *charts.Bar {
	x := make([]string, 0, len(r.Summaries))
	mean := make([]opts.BarData, 0, len(r.Summaries))
	med := make([]opts.BarData, 0, len(r.Summaries))
	p95 := make([]opts.BarData, 0, len(r.Summaries))
	for _, s := range r.Summaries {
		x = append(x, s.Name)
		mean = append(mean, opts.BarData{Value: ms(s.Mean)})
		med = append(med, opts.BarData{Value: ms(s.Median)})
		p95 = append(p95, opts.BarData{Value: ms(s.P95)})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: r.Title, Subtitle: "stage latency (ms), " + r.Generated.Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("mean", mean).
		AddSeries("median", med).
		AddSeries("p95", p95,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func (r *Report) timelineChart() *charts.Line {
	longest := 0
	for _, s := range r.Samples {
		if len(s) > longest {
			longest = len(s)
		}
	}
	x := make([]string, longest)
	for i := range x {
		x[i] = strconv.Itoa(i)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Per-instant latency", Subtitle: "ms"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "instant", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	line.SetXAxis(x)
	for _, name := range Stages {
		samples, ok := r.Samples[name]
		if !ok {
			continue
		}
		data := make([]opts.LineData, len(samples))
		for i, d := range samples {
			data[i] = opts.LineData{Value: ms(d)}
		}
		line.AddSeries(name, data)
	}
	return line
}

func (r *Report) countersChart() *charts.Bar {
	names := make([]string, 0, len(r.Counters))
	for name := range r.Counters {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([]opts.BarData, len(names))
	for i, name := range names {
		values[i] = opts.BarData{Value: r.Counters[name]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Pipeline counters"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("count", values,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
