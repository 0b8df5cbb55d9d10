package bmt

import (
	"errors"
	"fmt"
)

var (
	ErrInitialization       = errors.New("submitter initialization failed")
	ErrNotInitialized       = errors.New("submitter is not initialized")
	ErrAlreadyInitialized   = errors.New("submitter is already initialized")
	ErrConversion           = errors.New("input conversion failed")
	ErrInference            = errors.New("inference failed")
	ErrEmptyBatch           = errors.New("empty inference batch")
	ErrInvalidResults       = errors.New("invalid inference results")
	ErrResultCount          = errors.New("result count does not match batch size")
	ErrClassIndexOutOfRange = errors.New("predicted class index out of range")
	ErrTypeMismatch         = errors.New("converted input type mismatch")
)

// TypeMismatchError is returned when a ConvertedInput is read as an alternative it does not hold.
type TypeMismatchError struct {
	Want InputKind
	Got  InputKind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("converted input holds %s, not %s", e.Got, e.Want)
}

func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}
