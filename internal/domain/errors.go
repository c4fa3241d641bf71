package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by the typed errors below through errors.Is.
var (
	ErrLoad        = errors.New("corpus load failed")
	ErrIndex       = errors.New("index build failed")
	ErrGeneration  = errors.New("generation failed")
	ErrEmptyCorpus = errors.New("corpus contains no documents")
)

// LoadError reports a missing or unreadable corpus location.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load corpus %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is allows comparison with ErrLoad.
func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// IndexError reports an empty or otherwise unusable corpus during indexing.
type IndexError struct {
	Op  string
	Err error
}

func (e *IndexError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("build index: %v", e.Err)
	}
	return fmt.Sprintf("build index: %s: %v", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// Is allows comparison with ErrIndex.
func (e *IndexError) Is(target error) bool { return target == ErrIndex }

// GenerationError reports a failed call to the generation backend. It is
// recoverable per turn.
type GenerationError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s [%d]: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Is allows comparison with ErrGeneration.
func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// NewGenerationError wraps err unless it already is a GenerationError.
func NewGenerationError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return err
	}
	return &GenerationError{Op: op, Err: err}
}
