// Package errors classifies pipeline failures by the stage that produced them,
// so the driver and the CLI can report what failed and on which resource.
package errors

import (
	"errors"
	"fmt"
)

// Stage identifies the pipeline step an error came from.
type Stage int

const (
	StageUnknown Stage = iota
	StageConfig
	StageFetch
	StageDigestStore
	StageParse
	StageMapping
	StageWrite
	StageDistribution
)

// String returns the string representation of Stage
func (s Stage) String() string {
	switch s {
	case StageConfig:
		return "config"
	case StageFetch:
		return "fetch"
	case StageDigestStore:
		return "digest_store"
	case StageParse:
		return "parse"
	case StageMapping:
		return "mapping"
	case StageWrite:
		return "write"
	case StageDistribution:
		return "distribution"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against any StageError of the same stage.
var (
	ErrConfig       = errors.New("configuration error")
	ErrFetch        = errors.New("fetch failed")
	ErrDigestStore  = errors.New("digest store failed")
	ErrParse        = errors.New("parse failed")
	ErrMapping      = errors.New("mapping failed")
	ErrWrite        = errors.New("write failed")
	ErrDistribution = errors.New("distribution failed")
)

var sentinels = map[Stage]error{
	StageConfig:       ErrConfig,
	StageFetch:        ErrFetch,
	StageDigestStore:  ErrDigestStore,
	StageParse:        ErrParse,
	StageMapping:      ErrMapping,
	StageWrite:        ErrWrite,
	StageDistribution: ErrDistribution,
}

// StageError wraps an error with the stage and the resource (URL, file path,
// sensor host) it concerns.
type StageError struct {
	Stage    Stage
	Resource string
	Err      error
}

// Error implements the error interface
func (e *StageError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Resource, e.Err)
}

// Unwrap returns the underlying error
func (e *StageError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's stage.
func (e *StageError) Is(target error) bool {
	s, ok := sentinels[e.Stage]
	return ok && s == target
}

// Wrap returns a StageError, or nil when err is nil.
func Wrap(stage Stage, resource string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Resource: resource, Err: err}
}

// Wrapf is Wrap with a formatted message around err.
func Wrapf(stage Stage, resource string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Resource: resource, Err: fmt.Errorf(format+": %w", append(args, err)...)}
}

// StageOf returns the stage of the outermost StageError in err's chain.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return StageUnknown
}

// ResourceOf returns the resource of the outermost StageError in err's chain.
func ResourceOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Resource
	}
	return ""
}
