package host

import (
	"math"
	"slices"
	"time"

	"github.com/knights-analytics/bmt/util/vectorutil"
)

// LatencyStats summarises a set of durations, in milliseconds.
type LatencyStats struct {
	Count   int     `json:"count"`
	TotalMS float64 `json:"total_ms"`
	MeanMS  float64 `json:"mean_ms"`
	MinMS   float64 `json:"min_ms"`
	MaxMS   float64 `json:"max_ms"`
	P50MS   float64 `json:"p50_ms"`
	P90MS   float64 `json:"p90_ms"`
	P99MS   float64 `json:"p99_ms"`
}

func toMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// ComputeLatencyStats uses nearest-rank percentiles.
func ComputeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}
	ms := make([]float64, len(durations))
	total := 0.0
	for i, d := range durations {
		ms[i] = toMS(d)
		total += ms[i]
	}
	slices.Sort(ms)
	return LatencyStats{
		Count:   len(ms),
		TotalMS: total,
		MeanMS:  vectorutil.Mean(ms),
		MinMS:   ms[0],
		MaxMS:   ms[len(ms)-1],
		P50MS:   percentile(ms, 50),
		P90MS:   percentile(ms, 90),
		P99MS:   percentile(ms, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	rank = min(max(rank, 1), len(sorted))
	return sorted[rank-1]
}

// Throughput is the number of inputs per second of inference time.
func Throughput(inputs int, inference LatencyStats) float64 {
	if inference.TotalMS <= 0 {
		return 0
	}
	return float64(inputs) / (inference.TotalMS / 1000)
}
