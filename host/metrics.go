package host

import (
	"bytes"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/knights-analytics/bmt/util/fileutil"
)

const (
	statusOK              = "ok"
	statusConversionError = "conversion_failed"
	statusInferenceError  = "inference_failed"
)

// Metrics are registered on a registry owned by one run, so runs do not share counters.
type Metrics struct {
	Registry           *prometheus.Registry
	InferenceDuration  prometheus.Histogram
	ConversionDuration prometheus.Histogram
	Inputs             *prometheus.CounterVec
	Batches            prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bmt_inference_batch_duration_seconds",
			Help:    "RunInference duration per batch, warmup batches excluded.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		ConversionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bmt_conversion_duration_seconds",
			Help:    "ConvertInput duration per input.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		Inputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bmt_inputs_total",
			Help: "Inputs seen by the runner, by outcome.",
		}, []string{"status"}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bmt_batches_total",
			Help: "Batches passed to RunInference.",
		}),
	}
	m.Registry.MustRegister(m.InferenceDuration, m.ConversionDuration, m.Inputs, m.Batches)
	return m
}

// Write encodes the registry in the Prometheus text format.
func (m *Metrics) Write(w io.Writer) error {
	families, err := m.Registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err = enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile writes the text format to any supported file system.
func (m *Metrics) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := m.Write(&buf); err != nil {
		return err
	}
	return fileutil.WriteFile(path, buf.Bytes(), "text/plain")
}
