package bmt

import (
	"fmt"
	"strings"
)

// InputKind names the alternative held by a ConvertedInput.
type InputKind int

const (
	KindInvalid InputKind = iota
	KindUint8Buffer
	KindInt32Buffer
	KindFloat32Buffer
	KindUint8Sequence
	KindInt32Sequence
	KindFloat32Sequence
)

var kindNames = map[InputKind]string{
	KindInvalid:         "invalid",
	KindUint8Buffer:     "uint8-buffer",
	KindInt32Buffer:     "int32-buffer",
	KindFloat32Buffer:   "float32-buffer",
	KindUint8Sequence:   "uint8-sequence",
	KindInt32Sequence:   "int32-sequence",
	KindFloat32Sequence: "float32-sequence",
}

func (k InputKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("InputKind(%d)", int(k))
}

// IsSequence reports whether the kind is one of the growable alternatives.
func (k InputKind) IsSequence() bool {
	return k == KindUint8Sequence || k == KindInt32Sequence || k == KindFloat32Sequence
}

// ParseInputKind is the inverse of InputKind.String.
func ParseInputKind(s string) (InputKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if k != KindInvalid && name == s {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown input kind %q", s)
}

// ConvertedInput is the preprocessed form of one image, as produced by
// Submitter.ConvertInput. It holds exactly one of six alternatives: a fixed length
// buffer or a growable sequence of uint8, int32 or float32 elements.
//
// The value owns its backing slice. The zero value holds no alternative.
type ConvertedInput struct {
	kind InputKind
	u8   []uint8
	i32  []int32
	f32  []float32
}

func NewUint8Buffer(data []uint8) ConvertedInput {
	return ConvertedInput{kind: KindUint8Buffer, u8: data}
}

func NewInt32Buffer(data []int32) ConvertedInput {
	return ConvertedInput{kind: KindInt32Buffer, i32: data}
}

func NewFloat32Buffer(data []float32) ConvertedInput {
	return ConvertedInput{kind: KindFloat32Buffer, f32: data}
}

func NewUint8Sequence(data ...uint8) ConvertedInput {
	return ConvertedInput{kind: KindUint8Sequence, u8: data}
}

func NewInt32Sequence(data ...int32) ConvertedInput {
	return ConvertedInput{kind: KindInt32Sequence, i32: data}
}

func NewFloat32Sequence(data ...float32) ConvertedInput {
	return ConvertedInput{kind: KindFloat32Sequence, f32: data}
}

func (c ConvertedInput) Kind() InputKind {
	return c.kind
}

// Len returns the number of elements held, whatever the alternative.
func (c ConvertedInput) Len() int {
	switch c.kind {
	case KindUint8Buffer, KindUint8Sequence:
		return len(c.u8)
	case KindInt32Buffer, KindInt32Sequence:
		return len(c.i32)
	case KindFloat32Buffer, KindFloat32Sequence:
		return len(c.f32)
	default:
		return 0
	}
}

func (c ConvertedInput) expect(want InputKind) error {
	if c.kind != want {
		return &TypeMismatchError{Want: want, Got: c.kind}
	}
	return nil
}

func (c ConvertedInput) Uint8Buffer() ([]uint8, error) {
	if err := c.expect(KindUint8Buffer); err != nil {
		return nil, err
	}
	return c.u8, nil
}

func (c ConvertedInput) Int32Buffer() ([]int32, error) {
	if err := c.expect(KindInt32Buffer); err != nil {
		return nil, err
	}
	return c.i32, nil
}

func (c ConvertedInput) Float32Buffer() ([]float32, error) {
	if err := c.expect(KindFloat32Buffer); err != nil {
		return nil, err
	}
	return c.f32, nil
}

func (c ConvertedInput) Uint8Sequence() ([]uint8, error) {
	if err := c.expect(KindUint8Sequence); err != nil {
		return nil, err
	}
	return c.u8, nil
}

func (c ConvertedInput) Int32Sequence() ([]int32, error) {
	if err := c.expect(KindInt32Sequence); err != nil {
		return nil, err
	}
	return c.i32, nil
}

func (c ConvertedInput) Float32Sequence() ([]float32, error) {
	if err := c.expect(KindFloat32Sequence); err != nil {
		return nil, err
	}
	return c.f32, nil
}

// Uint8s returns the elements of either uint8 alternative.
func (c ConvertedInput) Uint8s() ([]uint8, error) {
	if c.kind == KindUint8Sequence {
		return c.u8, nil
	}
	return c.Uint8Buffer()
}

// Int32s returns the elements of either int32 alternative.
func (c ConvertedInput) Int32s() ([]int32, error) {
	if c.kind == KindInt32Sequence {
		return c.i32, nil
	}
	return c.Int32Buffer()
}

// Float32s returns the elements of either float32 alternative.
func (c ConvertedInput) Float32s() ([]float32, error) {
	if c.kind == KindFloat32Sequence {
		return c.f32, nil
	}
	return c.Float32Buffer()
}

// AppendUint8 grows a uint8 sequence. Buffers have a fixed length and cannot be appended to.
func (c *ConvertedInput) AppendUint8(values ...uint8) error {
	if err := c.expect(KindUint8Sequence); err != nil {
		return err
	}
	c.u8 = append(c.u8, values...)
	return nil
}

func (c *ConvertedInput) AppendInt32(values ...int32) error {
	if err := c.expect(KindInt32Sequence); err != nil {
		return err
	}
	c.i32 = append(c.i32, values...)
	return nil
}

func (c *ConvertedInput) AppendFloat32(values ...float32) error {
	if err := c.expect(KindFloat32Sequence); err != nil {
		return err
	}
	c.f32 = append(c.f32, values...)
	return nil
}

func (c ConvertedInput) String() string {
	return fmt.Sprintf("%s[%d]", c.kind, c.Len())
}
