// Package classifier is a bmt.Submitter running an ImageNet classification model in ONNX
// format, on onnxruntime (ORT) or on the pure Go runtime (GO).
package classifier

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"github.com/knights-analytics/bmt"
	"github.com/knights-analytics/bmt/backends"
	"github.com/knights-analytics/bmt/options"
	"github.com/knights-analytics/bmt/util/imageutil"
	"github.com/knights-analytics/bmt/util/safeconv"
	"github.com/knights-analytics/bmt/util/vectorutil"
)

const (
	DefaultImageSize = 224
	// DefaultResizeSize is the shorter side images are scaled to before the center crop.
	DefaultResizeSize = 256
)

var (
	_ bmt.Submitter     = (*Classifier)(nil)
	_ bmt.StatsReporter = (*Classifier)(nil)
	_ bmt.Destroyer     = (*Classifier)(nil)
)

// imageModel is the part of backends.Model the classifier depends on.
type imageModel interface {
	ImageInput() (backends.InputOutputInfo, error)
	Run(input []float32, shape backends.Shape) ([][]float32, error)
	Label(index int) string
	Close() error
}

type Timings struct {
	NumCalls atomic.Uint64
	TotalNS  atomic.Uint64
}

func (t *Timings) add(start time.Time) {
	t.NumCalls.Add(1)
	t.TotalNS.Add(safeconv.DurationToU64(time.Since(start)))
}

func (t *Timings) String() string {
	calls := t.NumCalls.Load()
	total := safeconv.U64ToDuration(t.TotalNS.Load())
	return fmt.Sprintf("Total time=%s, Execution count=%d, Average query time=%s",
		total, calls, time.Duration(float64(total)/math.Max(1, float64(calls))))
}

type Classifier struct {
	ModelPath          string
	Backend            string
	InputKind          bmt.InputKind
	ImageSize          int
	Layout             imageutil.Layout
	LabelOffset        int
	ConvertTimings     *Timings
	InferenceTimings   *Timings
	sessionOptions     []options.WithOption
	preprocessSteps    []imageutil.PreprocessStep
	normalizationSteps []imageutil.NormalizationStep
	systemInfo         bmt.OptionalSystemInfo
	loadModel          func(path string, opts *options.Options) (imageModel, error)
	model              imageModel
	inputShape         backends.Shape
}

// Option configures a Classifier.
type Option func(c *Classifier) error

func WithBackend(backend string) Option {
	return func(c *Classifier) error {
		if backend != options.BackendORT && backend != options.BackendGO {
			return fmt.Errorf("backend %q is not supported, use %s or %s", backend, options.BackendORT, options.BackendGO)
		}
		c.Backend = backend
		return nil
	}
}

// WithSessionOptions passes runtime options (threads, execution providers) to the backend.
func WithSessionOptions(opts ...options.WithOption) Option {
	return func(c *Classifier) error {
		c.sessionOptions = append(c.sessionOptions, opts...)
		return nil
	}
}

// WithInputKind selects the ConvertedInput alternative produced by ConvertInput.
// Float32 kinds carry normalized values; uint8 and int32 kinds carry raw 0-255
// channel values and are normalized inside RunInference.
func WithInputKind(kind bmt.InputKind) Option {
	return func(c *Classifier) error {
		if kind == bmt.KindInvalid {
			return errors.New("input kind must be set")
		}
		c.InputKind = kind
		return nil
	}
}

// WithImageSize sets the square input size used when the model input has dynamic height and width.
func WithImageSize(size int) Option {
	return func(c *Classifier) error {
		if size <= 0 {
			return fmt.Errorf("invalid image size %d", size)
		}
		c.ImageSize = size
		return nil
	}
}

func WithPreprocessSteps(steps ...imageutil.PreprocessStep) Option {
	return func(c *Classifier) error {
		c.preprocessSteps = append(c.preprocessSteps, steps...)
		return nil
	}
}

func WithNormalizationSteps(steps ...imageutil.NormalizationStep) Option {
	return func(c *Classifier) error {
		c.normalizationSteps = append(c.normalizationSteps, steps...)
		return nil
	}
}

func WithNHWCFormat() Option {
	return func(c *Classifier) error {
		c.Layout = imageutil.NHWC
		return nil
	}
}

// WithLabelOffset is subtracted from the model's class index, for models with a leading background class.
func WithLabelOffset(offset int) Option {
	return func(c *Classifier) error {
		c.LabelOffset = offset
		return nil
	}
}

func WithSystemInfo(info bmt.OptionalSystemInfo) Option {
	return func(c *Classifier) error {
		c.systemInfo = info
		return nil
	}
}

// New configures a classifier for the model at modelPath. Nothing is loaded until Initialize.
func New(modelPath string, opts ...Option) (*Classifier, error) {
	c := &Classifier{
		ModelPath:        modelPath,
		Backend:          options.BackendORT,
		InputKind:        bmt.KindFloat32Buffer,
		Layout:           imageutil.NCHW,
		ConvertTimings:   &Timings{},
		InferenceTimings: &Timings{},
		loadModel:        loadBackendModel,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func loadBackendModel(path string, opts *options.Options) (imageModel, error) {
	model, err := backends.LoadModel(path, opts)
	if err != nil {
		return nil, err
	}
	return model, nil
}

func (c *Classifier) OptionalSystemInfo() bmt.OptionalSystemInfo {
	if c.systemInfo.IsZero() {
		return bmt.OptionalSystemInfo{CPUType: runtime.GOARCH, AcceleratorType: c.Backend}
	}
	return c.systemInfo
}

func (c *Classifier) Initialize() error {
	if c.model != nil {
		return bmt.ErrAlreadyInitialized
	}
	opts, err := options.New(c.Backend, c.sessionOptions...)
	if err != nil {
		return err
	}
	model, err := c.loadModel(c.ModelPath, opts)
	if err != nil {
		return fmt.Errorf("loading model %s: %w", c.ModelPath, err)
	}
	input, err := model.ImageInput()
	if err != nil {
		return errors.Join(err, model.Close())
	}
	shape, err := c.resolveInputShape(input.Dimensions)
	if err != nil {
		return errors.Join(err, model.Close())
	}
	c.model = model
	c.inputShape = shape

	if len(c.preprocessSteps) == 0 {
		h, w := c.height(), c.width()
		resize := max(h, w) * DefaultResizeSize / DefaultImageSize
		c.preprocessSteps = []imageutil.PreprocessStep{
			imageutil.ResizeStep(resize),
			imageutil.CenterCropStep(w, h),
		}
	}
	if len(c.normalizationSteps) == 0 {
		c.normalizationSteps = []imageutil.NormalizationStep{
			imageutil.RescaleStep(),
			imageutil.ImagenetPixelNormalizationStep(),
		}
	}
	log.Info().Str("model", c.ModelPath).Str("backend", c.Backend).Str("input", input.Name).
		Str("shape", c.inputShape.String()).Str("kind", c.InputKind.String()).Msg("classifier initialized")
	return nil
}

// resolveInputShape fills dynamic spatial dimensions from ImageSize and checks the channel count.
// The batch dimension is left as -1.
func (c *Classifier) resolveInputShape(dims backends.Shape) (backends.Shape, error) {
	size := int64(c.ImageSize)
	if size <= 0 {
		size = DefaultImageSize
	}
	shape := make(backends.Shape, 4)
	copy(shape, dims)
	shape[0] = -1
	channel, spatial := 1, []int{2, 3}
	if c.Layout == imageutil.NHWC {
		channel, spatial = 3, []int{1, 2}
	}
	if shape[channel] <= 0 {
		shape[channel] = 3
	}
	if shape[channel] != 3 {
		return nil, fmt.Errorf("expected 3 colour channels at dimension %d, model input is %s", channel, dims)
	}
	for _, i := range spatial {
		if shape[i] <= 0 {
			shape[i] = size
		}
	}
	return shape, nil
}

func (c *Classifier) height() int {
	if c.Layout == imageutil.NHWC {
		return safeconv.Int64ToInt(c.inputShape[1])
	}
	return safeconv.Int64ToInt(c.inputShape[2])
}

func (c *Classifier) width() int {
	if c.Layout == imageutil.NHWC {
		return safeconv.Int64ToInt(c.inputShape[2])
	}
	return safeconv.Int64ToInt(c.inputShape[3])
}

func (c *Classifier) inputLen() int {
	return 3 * c.height() * c.width()
}

func (c *Classifier) ConvertInput(imagePath string) (bmt.ConvertedInput, error) {
	if c.model == nil {
		return bmt.ConvertedInput{}, bmt.ErrNotInitialized
	}
	defer c.ConvertTimings.add(time.Now())

	img, err := imageutil.LoadImage(imagePath)
	if err != nil {
		return bmt.ConvertedInput{}, err
	}
	img, err = imageutil.Preprocess(img, c.preprocessSteps...)
	if err != nil {
		return bmt.ConvertedInput{}, err
	}
	if b := img.Bounds(); b.Dx() != c.width() || b.Dy() != c.height() {
		return bmt.ConvertedInput{}, fmt.Errorf("preprocessed image is %dx%d, model expects %dx%d", b.Dx(), b.Dy(), c.width(), c.height())
	}

	switch c.InputKind {
	case bmt.KindFloat32Buffer:
		return bmt.NewFloat32Buffer(imageutil.ToFloat32(img, c.Layout, c.normalizationSteps...)), nil
	case bmt.KindFloat32Sequence:
		return bmt.NewFloat32Sequence(imageutil.ToFloat32(img, c.Layout, c.normalizationSteps...)...), nil
	case bmt.KindUint8Buffer:
		return bmt.NewUint8Buffer(imageutil.ToUint8(img, c.Layout)), nil
	case bmt.KindUint8Sequence:
		return bmt.NewUint8Sequence(imageutil.ToUint8(img, c.Layout)...), nil
	case bmt.KindInt32Buffer:
		return bmt.NewInt32Buffer(toInt32(imageutil.ToUint8(img, c.Layout))), nil
	case bmt.KindInt32Sequence:
		return bmt.NewInt32Sequence(toInt32(imageutil.ToUint8(img, c.Layout))...), nil
	default:
		return bmt.ConvertedInput{}, fmt.Errorf("input kind %s is not supported", c.InputKind)
	}
}

func toInt32(data []uint8) []int32 {
	out := make([]int32, len(data))
	for i, v := range data {
		out[i] = int32(v)
	}
	return out
}

func (c *Classifier) RunInference(batch []bmt.ConvertedInput) ([]bmt.InferenceResult, error) {
	if c.model == nil {
		return nil, bmt.ErrNotInitialized
	}
	if len(batch) == 0 {
		return nil, bmt.ErrEmptyBatch
	}
	defer c.InferenceTimings.add(time.Now())

	n := c.inputLen()
	tensor := make([]float32, 0, n*len(batch))
	for i, input := range batch {
		values, err := c.toTensor(input)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		if len(values) != n {
			return nil, fmt.Errorf("input %d has %d values, expected %d", i, len(values), n)
		}
		tensor = append(tensor, values...)
	}

	shape := append(backends.Shape{int64(len(batch))}, c.inputShape[1:]...)
	logits, err := c.model.Run(tensor, shape)
	if err != nil {
		return nil, err
	}
	if len(logits) != len(batch) {
		return nil, fmt.Errorf("model returned %d rows for a batch of %d", len(logits), len(batch))
	}

	results := make([]bmt.InferenceResult, len(batch))
	for i, row := range logits {
		index, _, argErr := vectorutil.ArgMax(row)
		if argErr != nil {
			return nil, argErr
		}
		predicted := index - c.LabelOffset
		if predicted < 0 || predicted >= bmt.NumClasses {
			return nil, fmt.Errorf("%w: model class %d with offset %d", bmt.ErrClassIndexOutOfRange, index, c.LabelOffset)
		}
		results[i] = bmt.InferenceResult{PredictedIndex: predicted}
		if log.DefaultLogger.Level <= log.DebugLevel {
			log.Debug().Int("item", i).Int("class", predicted).Str("label", c.model.Label(index)).
				Float32("score", vectorutil.SoftMax(row)[index]).Msg("prediction")
		}
	}
	return results, nil
}

// toTensor returns the normalized float32 values of one input.
func (c *Classifier) toTensor(input bmt.ConvertedInput) ([]float32, error) {
	switch input.Kind() {
	case bmt.KindFloat32Buffer, bmt.KindFloat32Sequence:
		return input.Float32s()
	case bmt.KindUint8Buffer, bmt.KindUint8Sequence:
		data, err := input.Uint8s()
		if err != nil {
			return nil, err
		}
		return c.normalize(vectorutil.ToFloat32(data)), nil
	case bmt.KindInt32Buffer, bmt.KindInt32Sequence:
		data, err := input.Int32s()
		if err != nil {
			return nil, err
		}
		return c.normalize(vectorutil.ToFloat32(data)), nil
	default:
		return nil, &bmt.TypeMismatchError{Want: c.InputKind, Got: input.Kind()}
	}
}

// normalize applies the normalization steps in place to raw channel values in c.Layout order.
func (c *Classifier) normalize(values []float32) []float32 {
	plane := len(values) / 3
	for i := range plane {
		var ri, gi, bi int
		if c.Layout == imageutil.NHWC {
			ri, gi, bi = 3*i, 3*i+1, 3*i+2
		} else {
			ri, gi, bi = i, plane+i, 2*plane+i
		}
		r, g, b := values[ri], values[gi], values[bi]
		for _, step := range c.normalizationSteps {
			r, g, b = step.Apply(r, g, b)
		}
		values[ri], values[gi], values[bi] = r, g, b
	}
	return values
}

func (c *Classifier) GetStats() []string {
	return []string{
		fmt.Sprintf("Statistics for classifier: %s (%s)", c.ModelPath, c.Backend),
		"Conversion: " + c.ConvertTimings.String(),
		"Inference: " + c.InferenceTimings.String(),
	}
}

// Destroy releases the model. The classifier cannot be used afterwards.
func (c *Classifier) Destroy() error {
	if c.model == nil {
		return nil
	}
	err := c.model.Close()
	c.model = nil
	return err
}
