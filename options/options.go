package options

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/knights-analytics/bmt/util/fileutil"
)

const (
	BackendORT = "ORT"
	BackendGO  = "GO"
)

type Options struct {
	// BackendOptions holds the runtime specific session options once the backend is created.
	BackendOptions any
	ORTOptions     *OrtOptions
	Destroy        func() error
	Backend        string
	// OnnxFilename selects the model when the model directory holds more than one .onnx file.
	OnnxFilename string
}

func Defaults() *Options {
	libraryPathDefault := defaultLibraryPath()
	return &Options{
		Backend: BackendORT,
		ORTOptions: &OrtOptions{
			LibraryPath: &libraryPathDefault,
		},
		Destroy: func() error {
			return nil
		},
	}
}

// New returns the defaults for backend with opts applied in order.
func New(backend string, opts ...WithOption) (*Options, error) {
	if backend != BackendORT && backend != BackendGO {
		return nil, fmt.Errorf("backend %q is not supported, use %s or %s", backend, BackendORT, BackendGO)
	}
	o := Defaults()
	o.Backend = backend
	var errs []error
	for _, opt := range opts {
		errs = append(errs, opt(o))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return o, nil
}

func libraryName() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

func defaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return `.\onnxruntime.dll`
	case "darwin":
		return "/usr/local/lib/libonnxruntime.dylib"
	default:
		return "/usr/lib/libonnxruntime.so"
	}
}

type OrtOptions struct {
	LibraryPath       *string
	Telemetry         *bool
	IntraOpNumThreads *int
	InterOpNumThreads *int
	CPUMemArena       *bool
	MemPattern        *bool
	CudaOptions       map[string]string
	CoreMLOptions     *uint32
	DirectMLOptions   *int
	OpenVINOOptions   map[string]string
	TensorRTOptions   map[string]string
}

// WithOption is the interface for all option functions.
type WithOption func(o *Options) error

// WithOnnxFilename selects which .onnx file to load from a model directory.
func WithOnnxFilename(filename string) WithOption {
	return func(o *Options) error {
		o.OnnxFilename = filename
		return nil
	}
}

// WithOnnxLibraryPath (ORT only) Use this function to set the path to the "libonnxruntime.so", "libonnxruntime.dylib" or "onnxruntime.dll" files.
// A directory is resolved to the platform library inside it.
func WithOnnxLibraryPath(ortLibraryPath string) WithOption {
	return func(o *Options) error {
		if o.Backend != BackendORT {
			return fmt.Errorf("WithOnnxLibraryPath is only supported for ORT backend")
		}
		isDir, err := fileutil.IsDir(ortLibraryPath)
		if err != nil {
			return fmt.Errorf("failed to access ONNX Runtime library path %q: %w", ortLibraryPath, err)
		}
		libraryPath := ortLibraryPath
		if isDir {
			libraryPath = fileutil.PathJoinSafe(ortLibraryPath, libraryName())
			exists, existsErr := fileutil.FileExists(libraryPath)
			if existsErr != nil {
				return fmt.Errorf("error checking for existence of ONNX Runtime library file: %w", existsErr)
			}
			if !exists {
				return fmt.Errorf("ONNX Runtime library %s does not exist at %q", libraryName(), ortLibraryPath)
			}
		}
		o.ORTOptions.LibraryPath = &libraryPath
		return nil
	}
}

// WithTelemetry (ORT only) Enables telemetry events for the onnxruntime environment. Default is off.
func WithTelemetry() WithOption {
	return func(o *Options) error {
		if o.Backend == BackendORT {
			enabled := true
			o.ORTOptions.Telemetry = &enabled
			return nil
		}
		return fmt.Errorf("WithTelemetry is only supported for ORT backend")
	}
}

// WithIntraOpNumThreads (ORT only) Sets the number of threads used to parallelize execution within
// graph nodes. If unspecified, onnxruntime uses the number of physical CPU cores.
func WithIntraOpNumThreads(numThreads int) WithOption {
	return func(o *Options) error {
		if o.Backend == BackendORT {
			o.ORTOptions.IntraOpNumThreads = &numThreads
			return nil
		}
		return fmt.Errorf("WithIntraOpNumThreads is only supported for ORT backend")
	}
}

// WithInterOpNumThreads (ORT only) Sets the number of threads used to parallelize execution across separate
// graph nodes. If unspecified, onnxruntime uses the number of physical CPU cores.
func WithInterOpNumThreads(numThreads int) WithOption {
	return func(o *Options) error {
		if o.Backend == BackendORT {
			o.ORTOptions.InterOpNumThreads = &numThreads
			return nil
		}
		return fmt.Errorf("WithInterOpNumThreads is only supported for ORT backend")
	}
}

// WithCPUMemArena (ORT only) Enable/Disable the usage of the memory arena on CPU.
// Arena may pre-allocate memory for future usage. Default is true.
func WithCPUMemArena(enable bool) WithOption {
	return func(o *Options) error {
		if o.Backend == BackendORT {
			o.ORTOptions.CPUMemArena = &enable
			return nil
		}
		return fmt.Errorf("WithCPUMemArena is only supported for ORT backend")
	}
}

// WithMemPattern (ORT only) Enable/Disable the memory pattern optimization.
// If this is enabled memory is preallocated if all shapes are known. Default is true.
func WithMemPattern(enable bool) WithOption {
	return func(o *Options) error {
		if o.Backend == BackendORT {
			o.ORTOptions.MemPattern = &enable
			return nil
		}
		return fmt.Errorf("WithMemPattern is only supported for ORT backend")
	}
}

// WithCuda (ORT only) Use this function to set the options for CUDA provider.
// It takes a map of CUDA parameters as input, an empty map keeps the provider defaults.
func WithCuda(options map[string]string) WithOption {
	return func(o *Options) error {
		if o.Backend == BackendORT {
			o.ORTOptions.CudaOptions = options
			return nil
		}
		return fmt.Errorf("WithCuda is only supported for ORT backend")
	}
}

// WithCoreML (ORT only) Use this function to set the CoreML options flags for the ONNX backend configuration.
func WithCoreML(flags uint32) WithOption {
	return func(o *Options) error {
		if o.Backend == BackendORT {
			o.ORTOptions.CoreMLOptions = &flags
			return nil
		}
		return fmt.Errorf("WithCoreML is only supported for ORT backend")
	}
}

// WithDirectML (ORT only) Use this function to set the DirectML device ID for the
// onnxruntime session. By default, this option is not set.
func WithDirectML(deviceID int) WithOption {
	return func(o *Options) error {
		if o.Backend == BackendORT {
			o.ORTOptions.DirectMLOptions = &deviceID
			return nil
		}
		return fmt.Errorf("WithDirectML is only supported for ORT backend")
	}
}

// WithOpenVINO (ORT only) Use this function to set the options for the OpenVINO execution provider.
// Example usage: WithOpenVINO(map[string]string{"device_type": "CPU", "num_threads": "4"})
func WithOpenVINO(options map[string]string) WithOption {
	return func(o *Options) error {
		if o.Backend == BackendORT {
			o.ORTOptions.OpenVINOOptions = options
			return nil
		}
		return fmt.Errorf("WithOpenVINO is only supported for ORT backend")
	}
}

// WithTensorRT (ORT only) Use this function to set the options for the TensorRT provider.
// Note: For the TensorRT provider to work, the onnxruntime library must be built with TensorRT support.
func WithTensorRT(options map[string]string) WithOption {
	return func(o *Options) error {
		if o.Backend == BackendORT {
			o.ORTOptions.TensorRTOptions = options
			return nil
		}
		return fmt.Errorf("WithTensorRT is only supported for ORT backend")
	}
}
