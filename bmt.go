// Package bmt defines the contract between a benchmark host and a vendor submitter.
//
// A submitter preprocesses images into ConvertedInput values and runs batched
// ImageNet classification over them. The host owns the lifecycle: it calls
// Initialize exactly once, then ConvertInput once per image, then RunInference
// on batches of converted inputs, timing only RunInference.
package bmt

// Submitter is the capability set a vendor implements to take part in a benchmark run.
//
// Implementations are driven by a single caller and do not need to be safe for
// concurrent use. OptionalSystemInfo is optional: embed BaseSubmitter to get the
// empty default.
type Submitter interface {
	// OptionalSystemInfo describes the hardware the submitter runs on. It must not fail.
	OptionalSystemInfo() OptionalSystemInfo
	// Initialize prepares the submitter (model load, device setup). It is called exactly once,
	// before any other operation.
	Initialize() error
	// ConvertInput turns one image path into the input representation consumed by RunInference.
	ConvertInput(imagePath string) (ConvertedInput, error)
	// RunInference classifies a batch and returns one result per input, in input order.
	RunInference(batch []ConvertedInput) ([]InferenceResult, error)
}

// BaseSubmitter provides the default OptionalSystemInfo for submitters that have
// nothing to report.
type BaseSubmitter struct{}

func (BaseSubmitter) OptionalSystemInfo() OptionalSystemInfo {
	return OptionalSystemInfo{}
}

// ModelConverter is implemented by submitters that need the benchmark model
// converted into a vendor format before Initialize.
type ModelConverter interface {
	RequiresModelConversion() bool
	ConvertModel(model string) (string, error)
}

// StatsReporter is implemented by submitters that keep their own timing statistics.
type StatsReporter interface {
	GetStats() []string
}

// Destroyer is implemented by submitters holding runtime resources that must be released
// once the host is done with them.
type Destroyer interface {
	Destroy() error
}
