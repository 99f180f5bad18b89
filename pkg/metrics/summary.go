package metrics

import (
	"fmt"
	"io"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// ExtremesCount is how many fastest and slowest samples a Summary keeps
const ExtremesCount = 5

// Summary describes the distribution of one stage's durations
type Summary struct {
	Name    string
	Count   int
	Mean    time.Duration // excludes the warm-up sample
	Median  time.Duration
	P95     time.Duration
	StdDev  time.Duration
	Fastest []time.Duration
	Slowest []time.Duration
}

// Summarize computes a Summary. The first warmup samples are left out of the
// mean since the first pass through a stage pays one-time setup costs.
func Summarize(name string, samples []time.Duration, warmup int) Summary {
	s := Summary{Name: name, Count: len(samples)}
	if len(samples) == 0 {
		return s
	}

	meanInput := samples
	if warmup > 0 && len(samples) > warmup {
		meanInput = samples[warmup:]
	}
	values := toMillis(meanInput)
	s.Mean = fromMillis(stat.Mean(values, nil))
	if len(values) > 1 {
		s.StdDev = fromMillis(stat.StdDev(values, nil))
	}

	sorted := toMillis(samples)
	sort.Float64s(sorted)
	s.Median = fromMillis(median(sorted))
	s.P95 = fromMillis(stat.Quantile(0.95, stat.Empirical, sorted, nil))

	n := ExtremesCount
	if n > len(sorted) {
		n = len(sorted)
	}
	for i := 0; i < n; i++ {
		s.Fastest = append(s.Fastest, fromMillis(sorted[i]))
		s.Slowest = append(s.Slowest, fromMillis(sorted[len(sorted)-1-i]))
	}
	return s
}

// PercentOfMedian reports s's median as a percentage of total's median
func (s Summary) PercentOfMedian(total Summary) float64 {
	if total.Median <= 0 {
		return 0
	}
	return float64(s.Median) / float64(total.Median) * 100
}

// Write prints the summary in the run-report text format
func (s Summary) Write(w io.Writer, total *Summary) {
	fmt.Fprintf(w, "%s (%d samples)\n", s.Name, s.Count)
	fmt.Fprintf(w, "\tAverage time: %.3f ms\n", millis(s.Mean))
	fmt.Fprintf(w, "\tMedian time: %.3f ms\n", millis(s.Median))
	fmt.Fprintf(w, "\tp95 time: %.3f ms\n", millis(s.P95))
	if total != nil && total.Name != s.Name {
		fmt.Fprintf(w, "\tPercent of median time: %.1f\n", s.PercentOfMedian(*total))
	}
	fmt.Fprintf(w, "\tFastest: %v\n", s.Fastest)
	fmt.Fprintf(w, "\tSlowest: %v\n", s.Slowest)
}

// SummarizeRecorder builds a Summary for every stage timing in r, ordered
// with the total last
func SummarizeRecorder(r *Recorder, warmup int) []Summary {
	order := []string{StageQueuePull, StageTracking, StageTriangulation, StageTotal}
	var out []Summary
	for _, name := range order {
		if samples := r.Samples(name); len(samples) > 0 {
			out = append(out, Summarize(name, samples, warmup))
		}
	}
	return out
}

// WriteReport prints every summary, with percentages relative to the total
func WriteReport(w io.Writer, summaries []Summary) {
	var total *Summary
	for i := range summaries {
		if summaries[i].Name == StageTotal {
			total = &summaries[i]
		}
	}
	for _, s := range summaries {
		s.Write(w, total)
	}
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func toMillis(ds []time.Duration) []float64 {
	out := make([]float64, len(ds))
	for i, d := range ds {
		out[i] = millis(d)
	}
	return out
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func fromMillis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
