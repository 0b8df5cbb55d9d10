package backends

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/knights-analytics/bmt/options"
	"github.com/knights-analytics/bmt/util/fileutil"
)

// Shape of a tensor. Dynamic dimensions are -1.
type Shape []int64

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.FormatInt(d, 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// InputOutputInfo describes a named model input or output.
type InputOutputInfo struct {
	Name       string
	Dimensions Shape
}

type Model struct {
	ID          string
	Backend     string
	ORTModel    *ORTModel
	GoModel     *GoModel
	Destroy     func() error
	IDLabelMap  map[int]string
	Path        string
	OnnxPath    string
	OnnxBytes   []byte
	InputsMeta  []InputOutputInfo
	OutputsMeta []InputOutputInfo
}

// modelID names a model by its path, plus the selected file when one was given.
func modelID(path, onnxFilename string) string {
	if onnxFilename == "" {
		return path
	}
	return path + ":" + onnxFilename
}

// LoadModel resolves the .onnx file at path (a file, or a directory holding it), reads the
// optional config.json next to it and creates the runtime session selected by opts.Backend.
func LoadModel(path string, opts *options.Options) (*Model, error) {
	if opts == nil {
		opts = options.Defaults()
	}
	model := &Model{
		ID:      modelID(path, opts.OnnxFilename),
		Backend: opts.Backend,
		Path:    path,
	}
	if err := resolveOnnxPath(model, opts.OnnxFilename); err != nil {
		return nil, err
	}
	if err := loadModelConfig(model); err != nil {
		return nil, err
	}
	onnxBytes, err := fileutil.ReadFileBytes(model.OnnxPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", model.OnnxPath, err)
	}
	model.OnnxBytes = onnxBytes

	if err = CreateModelBackend(model, opts); err != nil {
		return nil, err
	}
	// the runtime keeps its own copy of the graph
	model.OnnxBytes = nil

	model.Destroy = func() error {
		var destroyErr error
		switch opts.Backend {
		case options.BackendORT:
			if model.ORTModel != nil {
				destroyErr = model.ORTModel.Destroy()
				model.ORTModel = nil
			}
		case options.BackendGO:
			model.GoModel = nil
		}
		return errors.Join(destroyErr, opts.Destroy())
	}
	return model, nil
}

func CreateModelBackend(model *Model, opts *options.Options) error {
	switch opts.Backend {
	case options.BackendORT:
		return createORTModelBackend(model, opts)
	case options.BackendGO:
		return createGoModelBackend(model)
	default:
		return fmt.Errorf("backend %q is not supported", opts.Backend)
	}
}

func resolveOnnxPath(model *Model, onnxFilename string) error {
	if strings.HasSuffix(strings.ToLower(model.Path), ".onnx") {
		model.OnnxPath = model.Path
		model.Path = parentPath(model.Path)
		return nil
	}
	onnxFiles, err := getOnnxFiles(model.Path)
	if err != nil {
		return err
	}
	if len(onnxFiles) == 0 {
		return fmt.Errorf("no .onnx file detected at %s. There should be exactly one .onnx file", model.Path)
	}
	if len(onnxFiles) > 1 {
		if onnxFilename == "" {
			return fmt.Errorf("multiple .onnx file detected at %s and no OnnxFilename specified", model.Path)
		}
		for i := range onnxFiles {
			if onnxFiles[i][1] == onnxFilename {
				model.OnnxPath = fileutil.PathJoinSafe(onnxFiles[i]...)
				return nil
			}
		}
		return fmt.Errorf("file %s not found at %s", onnxFilename, model.Path)
	}
	model.OnnxPath = fileutil.PathJoinSafe(onnxFiles[0]...)
	return nil
}

func parentPath(path string) string {
	i := strings.LastIndexAny(path, `/\`)
	if i <= 0 {
		return "."
	}
	return path[:i]
}

func getOnnxFiles(path string) ([][]string, error) {
	var onnxFiles [][]string
	walker := func(_ context.Context, _ string, parent string, info os.FileInfo, _ io.Reader) (toContinue bool, err error) {
		if strings.HasSuffix(info.Name(), ".onnx") {
			onnxFiles = append(onnxFiles, []string{fileutil.PathJoinSafe(path, parent), info.Name()})
		}
		return true, nil
	}
	err := fileutil.WalkDir()(context.Background(), path, walker)
	return onnxFiles, err
}

type modelConfig struct {
	ID2Label map[string]string `json:"id2label"`
}

// loadModelConfig reads the class names from config.json, when the model ships one.
func loadModelConfig(model *Model) error {
	configPath := fileutil.PathJoinSafe(model.Path, "config.json")
	exists, err := fileutil.FileExists(configPath)
	if err != nil || !exists {
		return err
	}
	configBytes, err := fileutil.ReadFileBytes(configPath)
	if err != nil {
		return err
	}
	var config modelConfig
	if err = jsoniter.Unmarshal(configBytes, &config); err != nil {
		return fmt.Errorf("parsing %s: %w", configPath, err)
	}
	model.IDLabelMap = make(map[int]string, len(config.ID2Label))
	for k, label := range config.ID2Label {
		id, convErr := strconv.Atoi(k)
		if convErr != nil {
			return fmt.Errorf("could not convert label id %q in %s to int: %w", k, configPath, convErr)
		}
		model.IDLabelMap[id] = label
	}
	return nil
}

// Label returns the class name for index, or the index itself when the model has no labels.
func (m *Model) Label(index int) string {
	if label, ok := m.IDLabelMap[index]; ok {
		return label
	}
	return strconv.Itoa(index)
}

// ImageInput returns the single input of an image model.
func (m *Model) ImageInput() (InputOutputInfo, error) {
	if len(m.InputsMeta) != 1 {
		return InputOutputInfo{}, fmt.Errorf("image models must have exactly one input, %s has %d", m.ID, len(m.InputsMeta))
	}
	input := m.InputsMeta[0]
	if len(input.Dimensions) != 4 {
		return InputOutputInfo{}, fmt.Errorf("image input %s must be 4-dimensional, got %s", input.Name, input.Dimensions)
	}
	return input, nil
}

// Run executes one forward pass over a float32 batch of the given shape and returns
// the first output split into one row per batch item.
func (m *Model) Run(input []float32, shape Shape) ([][]float32, error) {
	if len(shape) == 0 || shape[0] <= 0 {
		return nil, fmt.Errorf("invalid input shape %s", shape)
	}
	size := int64(1)
	for _, d := range shape {
		size *= d
	}
	if int64(len(input)) != size {
		return nil, fmt.Errorf("input of length %d does not match shape %s", len(input), shape)
	}
	var out []float32
	var err error
	switch m.Backend {
	case options.BackendORT:
		out, err = runORTModel(m, input, shape)
	case options.BackendGO:
		out, err = runGoModel(m, input, shape)
	default:
		err = fmt.Errorf("backend %q is not supported", m.Backend)
	}
	if err != nil {
		return nil, err
	}
	return SplitRows(out, int(shape[0]))
}

// SplitRows splits a flat [batch, n] output into batch rows.
func SplitRows(data []float32, batch int) ([][]float32, error) {
	if batch <= 0 || len(data)%batch != 0 {
		return nil, fmt.Errorf("output of length %d cannot be split into %d rows", len(data), batch)
	}
	width := len(data) / batch
	rows := make([][]float32, batch)
	for i := range batch {
		rows[i] = data[i*width : (i+1)*width]
	}
	return rows, nil
}

// Close releases the runtime session.
func (m *Model) Close() error {
	if m.Destroy == nil {
		return nil
	}
	return m.Destroy()
}
