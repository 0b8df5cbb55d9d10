// Package virtual is the reference stub a vendor starts from. It does no real work:
// every operation logs that it was called, inference sleeps for a random 5-50 ms and
// results are descriptive strings.
//
// Its RunInference takes a model and a data string rather than a batch of converted
// inputs, so it does not satisfy bmt.Submitter. See the simulated package for a stub
// that does.
package virtual

import (
	"math/rand/v2"
	"time"

	"github.com/phuslu/log"

	"github.com/knights-analytics/bmt"
)

const (
	DefaultName = "DeepX NPU"

	MinLatency = 5 * time.Millisecond
	MaxLatency = 50 * time.Millisecond
)

var _ bmt.ModelConverter = (*Submitter)(nil)

type Submitter struct {
	name  string
	sleep func(time.Duration)
}

// New returns a stub reporting itself as name, or DefaultName when name is empty.
func New(name string) *Submitter {
	if name == "" {
		name = DefaultName
	}
	return &Submitter{name: name, sleep: time.Sleep}
}

func (s *Submitter) Name() string {
	return s.name
}

func (s *Submitter) called(method string) {
	log.Info().Str("submitter", s.name).Msgf("%s is called from a %s submitter", method, s.name)
}

func (s *Submitter) Initialize() error {
	s.called("Initialize()")
	return nil
}

func (s *Submitter) RequiresModelConversion() bool {
	s.called("requiresModelConversion()")
	return true
}

func (s *Submitter) ConvertModel(model string) (string, error) {
	s.called("convertModel(model)")
	return "Converted(" + model + ") from a " + s.name + " submitter", nil
}

func (s *Submitter) RunInference(model, data string) string {
	s.called("runInference(model,data)")
	s.sleep(randomLatency(MinLatency, MaxLatency))
	return "InferenceResult(" + model + ", " + data + ") a " + s.name + " submitter"
}

// randomLatency draws a whole number of milliseconds uniformly from [lo, hi].
func randomLatency(lo, hi time.Duration) time.Duration {
	loMs, hiMs := lo.Milliseconds(), hi.Milliseconds()
	if hiMs <= loMs {
		return lo
	}
	return time.Duration(loMs+rand.Int64N(hiMs-loMs+1)) * time.Millisecond
}
