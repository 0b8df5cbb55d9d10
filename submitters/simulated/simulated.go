// Package simulated provides a conforming bmt.Submitter that needs no accelerator.
// Inference is a random sleep and each prediction is derived from a hash of the
// input bytes, so repeated runs over the same images agree.
package simulated

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"github.com/knights-analytics/bmt"
	"github.com/knights-analytics/bmt/util/fileutil"
	"github.com/knights-analytics/bmt/util/safeconv"
)

const (
	DefaultMinLatency = 5 * time.Millisecond
	DefaultMaxLatency = 50 * time.Millisecond
)

var (
	_ bmt.Submitter     = (*Submitter)(nil)
	_ bmt.StatsReporter = (*Submitter)(nil)
)

// Submitter mimics accelerator latency with a sleep drawn uniformly from
// [MinLatency, MaxLatency] per batch.
type Submitter struct {
	MinLatency time.Duration
	MaxLatency time.Duration

	sleep        func(time.Duration)
	numBatches   atomic.Uint64
	numInputs    atomic.Uint64
	totalSleepNS atomic.Uint64
}

func New(minLatency, maxLatency time.Duration) *Submitter {
	if minLatency <= 0 {
		minLatency = DefaultMinLatency
	}
	switch {
	case maxLatency <= 0:
		maxLatency = max(minLatency, DefaultMaxLatency)
	case maxLatency < minLatency:
		maxLatency = minLatency
	}
	return &Submitter{MinLatency: minLatency, MaxLatency: maxLatency, sleep: time.Sleep}
}

func (s *Submitter) OptionalSystemInfo() bmt.OptionalSystemInfo {
	return bmt.OptionalSystemInfo{CPUType: runtime.GOARCH, AcceleratorType: "simulated"}
}

func (s *Submitter) Initialize() error {
	log.Info().Dur("min_latency", s.MinLatency).Dur("max_latency", s.MaxLatency).Msg("simulated submitter initialized")
	return nil
}

// ConvertInput returns the raw file bytes as a uint8 sequence.
func (s *Submitter) ConvertInput(imagePath string) (bmt.ConvertedInput, error) {
	data, err := fileutil.ReadFileBytes(imagePath)
	if err != nil {
		return bmt.ConvertedInput{}, fmt.Errorf("reading %s: %w", imagePath, err)
	}
	return bmt.NewUint8Sequence(data...), nil
}

func (s *Submitter) RunInference(batch []bmt.ConvertedInput) ([]bmt.InferenceResult, error) {
	if len(batch) == 0 {
		return nil, bmt.ErrEmptyBatch
	}
	results := make([]bmt.InferenceResult, len(batch))
	for i, input := range batch {
		data, err := input.Uint8s()
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		results[i] = bmt.InferenceResult{PredictedIndex: classIndex(data)}
	}

	latency := s.MinLatency
	if span := s.MaxLatency - s.MinLatency; span > 0 {
		latency += rand.N(span + 1)
	}
	s.sleep(latency)

	s.numBatches.Add(1)
	s.numInputs.Add(uint64(len(batch)))
	s.totalSleepNS.Add(safeconv.DurationToU64(latency))
	return results, nil
}

func (s *Submitter) GetStats() []string {
	batches := s.numBatches.Load()
	total := safeconv.U64ToDuration(s.totalSleepNS.Load())
	avg := time.Duration(0)
	if batches > 0 {
		avg = total / time.Duration(batches)
	}
	return []string{
		"Statistics for simulated submitter:",
		fmt.Sprintf("Batches: %d, inputs: %d", batches, s.numInputs.Load()),
		fmt.Sprintf("Total simulated latency: %s, average per batch: %s", total, avg),
	}
}

func classIndex(data []uint8) int {
	h := fnv.New32a()
	_, _ = h.Write(data)
	return int(h.Sum32() % bmt.NumClasses)
}
