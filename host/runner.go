package host

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/knights-analytics/bmt"
)

var ErrNoInputs = errors.New("no input images")

// Runner drives one benchmark over a submitter: initialize once, convert every input,
// run inference batch by batch and collect timings and predictions.
type Runner struct {
	config    *Config
	submitter bmt.Submitter
	Metrics   *Metrics
}

func NewRunner(s bmt.Submitter, config *Config) *Runner {
	return &Runner{config: config, submitter: s, Metrics: NewMetrics()}
}

type runState struct {
	report         *Report
	labels         map[string]int
	convert        []time.Duration
	inference      []time.Duration
	measuredInputs int
}

// Run benchmarks paths in order. Conversion and inference failures abort the run unless
// KeepGoing is set, in which case they are recorded in the report.
func (r *Runner) Run(ctx context.Context, paths []string) (*Report, error) {
	if err := r.config.Validate(); err != nil {
		return nil, err
	}
	if r.config.Limit > 0 && len(paths) > r.config.Limit {
		paths = paths[:r.config.Limit]
	}
	if len(paths) == 0 {
		return nil, ErrNoInputs
	}

	state := &runState{
		report: &Report{
			RunID:         uuid.NewString(),
			StartedAt:     time.Now().UTC(),
			SystemInfo:    r.submitter.OptionalSystemInfo(),
			BatchSize:     r.config.BatchSize,
			WarmupBatches: r.config.WarmupBatches,
			NumInputs:     len(paths),
			Predictions:   make([]Prediction, 0, len(paths)),
		},
	}
	if r.config.LabelsPath != "" {
		labels, err := LoadLabels(r.config.LabelsPath)
		if err != nil {
			return nil, fmt.Errorf("loading labels: %w", err)
		}
		state.labels = labels
	}

	guarded := bmt.Guard(r.submitter)
	if err := guarded.Initialize(); err != nil {
		return nil, err
	}
	defer func() {
		if d, ok := r.submitter.(bmt.Destroyer); ok {
			if err := d.Destroy(); err != nil {
				log.Error().Err(err).Msg("failed to release submitter")
			}
		}
	}()
	log.Info().Str("run_id", state.report.RunID).Int("inputs", len(paths)).Int("batch_size", r.config.BatchSize).Msg("benchmark started")

	for start, batchIndex := 0, 0; start < len(paths); start, batchIndex = start+r.config.BatchSize, batchIndex+1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+r.config.BatchSize, len(paths))
		if err := r.runBatch(ctx, guarded, state, paths[start:end], batchIndex < r.config.WarmupBatches); err != nil {
			return nil, err
		}
	}

	report := state.report
	report.FinishedAt = time.Now().UTC()
	report.Conversion = ComputeLatencyStats(state.convert)
	report.Inference = ComputeLatencyStats(state.inference)
	report.ThroughputPerSecond = Throughput(state.measuredInputs, report.Inference)
	report.Accuracy = accuracy(report.Predictions)

	if reporter, ok := r.submitter.(bmt.StatsReporter); ok {
		for _, line := range reporter.GetStats() {
			log.Info().Msg(line)
		}
	}
	return report, nil
}

func (r *Runner) runBatch(ctx context.Context, guarded *bmt.Guarded, state *runState, paths []string, warmup bool) error {
	batch := make([]bmt.ConvertedInput, 0, len(paths))
	converted := make([]string, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		input, err := guarded.ConvertInput(path)
		elapsed := time.Since(start)
		if err != nil {
			r.Metrics.Inputs.WithLabelValues(statusConversionError).Inc()
			if !r.config.KeepGoing {
				return err
			}
			log.Warn().Err(err).Str("input", path).Msg("skipping input")
			state.report.Failures = append(state.report.Failures, Failure{Input: path, Stage: "conversion", Error: err.Error()})
			continue
		}
		r.Metrics.ConversionDuration.Observe(elapsed.Seconds())
		state.convert = append(state.convert, elapsed)
		batch = append(batch, input)
		converted = append(converted, path)
	}
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	results, err := guarded.RunInference(batch)
	elapsed := time.Since(start)
	r.Metrics.Batches.Inc()
	state.report.NumBatches++
	if err != nil {
		r.Metrics.Inputs.WithLabelValues(statusInferenceError).Add(float64(len(batch)))
		if !r.config.KeepGoing {
			return err
		}
		log.Warn().Err(err).Int("batch_size", len(batch)).Msg("skipping batch")
		for _, path := range converted {
			state.report.Failures = append(state.report.Failures, Failure{Input: path, Stage: "inference", Error: err.Error()})
		}
		return nil
	}
	r.Metrics.Inputs.WithLabelValues(statusOK).Add(float64(len(batch)))

	if warmup {
		log.Debug().Dur("elapsed", elapsed).Msg("warmup batch")
	} else {
		r.Metrics.InferenceDuration.Observe(elapsed.Seconds())
		state.inference = append(state.inference, elapsed)
		state.measuredInputs += len(batch)
	}

	for i, result := range results {
		prediction := Prediction{Input: converted[i], PredictedIndex: result.PredictedIndex}
		if expected, ok := state.labels[filepath.Base(converted[i])]; ok {
			prediction.ExpectedIndex = &expected
		}
		state.report.Predictions = append(state.report.Predictions, prediction)
	}
	state.report.NumProcessed += len(results)
	return nil
}

func accuracy(predictions []Prediction) *Accuracy {
	var a Accuracy
	for _, p := range predictions {
		if p.ExpectedIndex == nil {
			continue
		}
		a.Labeled++
		if *p.ExpectedIndex == p.PredictedIndex {
			a.Correct++
		}
	}
	if a.Labeled == 0 {
		return nil
	}
	a.Top1 = float64(a.Correct) / float64(a.Labeled)
	return &a
}
