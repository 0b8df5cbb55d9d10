//go:build cgo && (ORT || ALL)

package backends

import (
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/knights-analytics/bmt/options"
	"github.com/knights-analytics/bmt/util/fileutil"
)

type ORTModel struct {
	Session        *ort.DynamicAdvancedSession
	SessionOptions *ort.SessionOptions
	Options        *options.OrtOptions
	Destroy        func() error
}

func createORTModelBackend(model *Model, opts *options.Options) error {
	if err := initialiseORT(opts); err != nil {
		return err
	}
	sessionOptions := opts.BackendOptions.(*ort.SessionOptions)

	inputs, outputs, err := loadInputOutputMetaORTBytes(model.OnnxBytes)
	if err != nil {
		return errors.Join(err, opts.Destroy())
	}

	inputNames := make([]string, len(inputs))
	outputNames := make([]string, len(outputs))
	for i, v := range inputs {
		inputNames[i] = v.Name
	}
	for i, v := range outputs {
		outputNames[i] = v.Name
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(
		model.OnnxBytes,
		inputNames,
		outputNames,
		sessionOptions,
	)
	if err != nil {
		return errors.Join(err, opts.Destroy())
	}

	model.ORTModel = &ORTModel{
		Session:        session,
		SessionOptions: sessionOptions,
		Options:        opts.ORTOptions,
		Destroy: func() error {
			return session.Destroy()
		},
	}
	model.InputsMeta = inputs
	model.OutputsMeta = outputs
	return nil
}

// initialiseORT starts the onnxruntime environment and builds the session options.
// Only one environment can be active per process.
func initialiseORT(opts *options.Options) error {
	if ort.IsInitialized() {
		return errors.New("another ORT environment is currently active, and only one can be active at one time")
	}
	o := opts.ORTOptions
	if o.LibraryPath != nil {
		exists, err := fileutil.FileExists(*o.LibraryPath)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("cannot find the ort library at: %s", *o.LibraryPath)
		}
		ort.SetSharedLibraryPath(*o.LibraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return err
	}
	opts.Destroy = func() error {
		return ort.DestroyEnvironment()
	}

	sessionOptions, err := newORTSessionOptions(o)
	if err != nil {
		if sessionOptions != nil {
			err = errors.Join(err, sessionOptions.Destroy())
		}
		return errors.Join(err, ort.DestroyEnvironment())
	}
	opts.BackendOptions = sessionOptions
	opts.Destroy = func() error {
		return errors.Join(sessionOptions.Destroy(), ort.DestroyEnvironment())
	}
	return nil
}

func newORTSessionOptions(o *options.OrtOptions) (*ort.SessionOptions, error) {
	if o.Telemetry != nil && *o.Telemetry {
		if err := ort.EnableTelemetry(); err != nil {
			return nil, err
		}
	} else {
		if err := ort.DisableTelemetry(); err != nil {
			return nil, err
		}
	}

	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if o.IntraOpNumThreads != nil {
		if err = sessionOptions.SetIntraOpNumThreads(*o.IntraOpNumThreads); err != nil {
			return sessionOptions, err
		}
	}
	if o.InterOpNumThreads != nil {
		if err = sessionOptions.SetInterOpNumThreads(*o.InterOpNumThreads); err != nil {
			return sessionOptions, err
		}
	}
	if o.CPUMemArena != nil {
		if err = sessionOptions.SetCpuMemArena(*o.CPUMemArena); err != nil {
			return sessionOptions, err
		}
	}
	if o.MemPattern != nil {
		if err = sessionOptions.SetMemPattern(*o.MemPattern); err != nil {
			return sessionOptions, err
		}
	}
	if o.CudaOptions != nil {
		cudaOptions, optErr := ort.NewCUDAProviderOptions()
		if optErr != nil {
			return sessionOptions, optErr
		}
		defer cudaOptions.Destroy()
		if len(o.CudaOptions) > 0 {
			if optErr = cudaOptions.Update(o.CudaOptions); optErr != nil {
				return sessionOptions, optErr
			}
		}
		if err = sessionOptions.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return sessionOptions, err
		}
	}
	if o.CoreMLOptions != nil {
		if err = sessionOptions.AppendExecutionProviderCoreML(*o.CoreMLOptions); err != nil {
			return sessionOptions, err
		}
	}
	if o.DirectMLOptions != nil {
		if err = sessionOptions.AppendExecutionProviderDirectML(*o.DirectMLOptions); err != nil {
			return sessionOptions, err
		}
	}
	if o.OpenVINOOptions != nil {
		if err = sessionOptions.AppendExecutionProviderOpenVINO(o.OpenVINOOptions); err != nil {
			return sessionOptions, err
		}
	}
	if o.TensorRTOptions != nil {
		tensorRTOptions, optErr := ort.NewTensorRTProviderOptions()
		if optErr != nil {
			return sessionOptions, optErr
		}
		defer tensorRTOptions.Destroy()
		if len(o.TensorRTOptions) > 0 {
			if optErr = tensorRTOptions.Update(o.TensorRTOptions); optErr != nil {
				return sessionOptions, optErr
			}
		}
		if err = sessionOptions.AppendExecutionProviderTensorRT(tensorRTOptions); err != nil {
			return sessionOptions, err
		}
	}
	return sessionOptions, nil
}

func loadInputOutputMetaORTBytes(onnxBytes []byte) ([]InputOutputInfo, []InputOutputInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(onnxBytes)
	if err != nil {
		return nil, nil, err
	}
	return convertORTInputOutputs(inputs), convertORTInputOutputs(outputs), nil
}

func convertORTInputOutputs(inputOutputs []ort.InputOutputInfo) []InputOutputInfo {
	standardised := make([]InputOutputInfo, len(inputOutputs))
	for i, inputOutput := range inputOutputs {
		standardised[i] = InputOutputInfo{
			Name:       inputOutput.Name,
			Dimensions: Shape(inputOutput.Dimensions),
		}
	}
	return standardised
}

func runORTModel(model *Model, input []float32, shape Shape) (out []float32, err error) {
	if model.ORTModel == nil {
		return nil, errors.New("ORT session is not initialized")
	}
	inputTensor, err := ort.NewTensor(ort.NewShape(shape...), input)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, inputTensor.Destroy())
	}()

	// nil outputs are allocated by onnxruntime with the shape it infers
	outputTensors := make([]ort.Value, len(model.OutputsMeta))
	if err = model.ORTModel.Session.Run([]ort.Value{inputTensor}, outputTensors); err != nil {
		return nil, err
	}
	defer func() {
		for _, t := range outputTensors {
			if t != nil {
				err = errors.Join(err, t.Destroy())
			}
		}
	}()

	logits, ok := outputTensors[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output %s has type %T, expected a float32 tensor", model.OutputsMeta[0].Name, outputTensors[0])
	}
	data := logits.GetData()
	// the tensor memory is released with the tensor
	out = make([]float32, len(data))
	copy(out, data)
	return out, nil
}
