package host

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/knights-analytics/bmt"
	"github.com/knights-analytics/bmt/util/fileutil"
)

type Prediction struct {
	Input          string `json:"input"`
	PredictedIndex int    `json:"predicted_index"`
	ExpectedIndex  *int   `json:"expected_index,omitempty"`
}

type Failure struct {
	Input string `json:"input"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

type Accuracy struct {
	Labeled int     `json:"labeled"`
	Correct int     `json:"correct"`
	Top1    float64 `json:"top1"`
}

// Report is the summary of one benchmark run.
type Report struct {
	RunID               string                 `json:"run_id"`
	StartedAt           time.Time              `json:"started_at"`
	FinishedAt          time.Time              `json:"finished_at"`
	SystemInfo          bmt.OptionalSystemInfo `json:"system_info"`
	BatchSize           int                    `json:"batch_size"`
	WarmupBatches       int                    `json:"warmup_batches"`
	NumInputs           int                    `json:"num_inputs"`
	NumProcessed        int                    `json:"num_processed"`
	NumBatches          int                    `json:"num_batches"`
	Conversion          LatencyStats           `json:"conversion"`
	Inference           LatencyStats           `json:"inference"`
	ThroughputPerSecond float64                `json:"throughput_per_second"`
	Accuracy            *Accuracy              `json:"accuracy,omitempty"`
	Failures            []Failure              `json:"failures,omitempty"`
	Predictions         []Prediction           `json:"predictions"`
}

// Write encodes the report as indented JSON to path, or to w when path is empty.
func (r *Report) Write(path string, w io.Writer) error {
	data, err := jsoniter.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if path == "" {
		_, err = w.Write(append(data, '\n'))
		return err
	}
	return fileutil.WriteFile(path, data, "application/json")
}

// Summary is the human readable digest logged at the end of a run.
func (r *Report) Summary() []string {
	lines := []string{
		fmt.Sprintf("Run %s: %d/%d inputs processed in %d batches (batch size %d, %d warmup)",
			r.RunID, r.NumProcessed, r.NumInputs, r.NumBatches, r.BatchSize, r.WarmupBatches),
		fmt.Sprintf("Inference: mean=%.3fms p50=%.3fms p90=%.3fms p99=%.3fms, throughput=%.2f inputs/s",
			r.Inference.MeanMS, r.Inference.P50MS, r.Inference.P90MS, r.Inference.P99MS, r.ThroughputPerSecond),
		fmt.Sprintf("Conversion: mean=%.3fms total=%.3fms", r.Conversion.MeanMS, r.Conversion.TotalMS),
	}
	if r.Accuracy != nil {
		lines = append(lines, fmt.Sprintf("Top-1 accuracy: %.4f (%d/%d)", r.Accuracy.Top1, r.Accuracy.Correct, r.Accuracy.Labeled))
	}
	if len(r.Failures) > 0 {
		lines = append(lines, fmt.Sprintf("Failures: %d", len(r.Failures)))
	}
	return lines
}

// LoadLabels reads ground truth lines of the form "<file name> <class index>".
// Lookups use the base name of the input path.
func LoadLabels(path string) (map[string]int, error) {
	lines, err := fileutil.ReadLines(path)
	if err != nil {
		return nil, err
	}
	labels := make(map[string]int, len(lines))
	for i, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: expected \"<file> <index>\", got %q", path, i+1, line)
		}
		index, convErr := strconv.Atoi(fields[1])
		if convErr != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, i+1, convErr)
		}
		if !(bmt.InferenceResult{PredictedIndex: index}).Valid() {
			return nil, fmt.Errorf("%s:%d: class index %d out of range", path, i+1, index)
		}
		labels[filepath.Base(fields[0])] = index
	}
	return labels, nil
}
