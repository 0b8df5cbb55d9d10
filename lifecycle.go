package bmt

import (
	"fmt"
)

type lifecycleState int

const (
	stateConstructed lifecycleState = iota
	stateReady
	stateFailed
)

// Guarded wraps a Submitter and enforces the call order the host relies on:
// Initialize exactly once and before anything else, and well-formed inference output.
//
// A Guarded is not safe for concurrent use.
type Guarded struct {
	submitter Submitter
	state     lifecycleState
}

// Guard wraps s. The submitter must not have been initialized yet.
func Guard(s Submitter) *Guarded {
	return &Guarded{submitter: s}
}

// Submitter returns the wrapped submitter.
func (g *Guarded) Submitter() Submitter {
	return g.submitter
}

// Ready reports whether Initialize succeeded.
func (g *Guarded) Ready() bool {
	return g.state == stateReady
}

func (g *Guarded) OptionalSystemInfo() OptionalSystemInfo {
	return g.submitter.OptionalSystemInfo()
}

func (g *Guarded) Initialize() error {
	switch g.state {
	case stateReady:
		return ErrAlreadyInitialized
	case stateFailed:
		return fmt.Errorf("%w: a previous attempt failed", ErrInitialization)
	}
	if err := g.submitter.Initialize(); err != nil {
		g.state = stateFailed
		return fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	g.state = stateReady
	return nil
}

func (g *Guarded) ConvertInput(imagePath string) (ConvertedInput, error) {
	if g.state != stateReady {
		return ConvertedInput{}, ErrNotInitialized
	}
	input, err := g.submitter.ConvertInput(imagePath)
	if err != nil {
		return ConvertedInput{}, fmt.Errorf("%w: %s: %w", ErrConversion, imagePath, err)
	}
	if input.Kind() == KindInvalid {
		return ConvertedInput{}, fmt.Errorf("%w: %s: submitter returned an empty input", ErrConversion, imagePath)
	}
	return input, nil
}

func (g *Guarded) RunInference(batch []ConvertedInput) ([]InferenceResult, error) {
	if g.state != stateReady {
		return nil, ErrNotInitialized
	}
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}
	results, err := g.submitter.RunInference(batch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	if err = ValidateResults(len(batch), results); err != nil {
		return nil, err
	}
	return results, nil
}
