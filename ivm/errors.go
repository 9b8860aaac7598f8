// Package ivm implements the value domain, row identity, and execution
// context shared by every stage of the aggregation pipeline engine.
package ivm

import "gopkg.in/src-d/go-errors.v1"

// Tagged error kinds, one per failure class named by the error handling
// design. Callers distinguish them with Is, the same idiom the auth package
// uses for ErrNotAuthorized/ErrNoPermission.
var (
	// ErrInvalidPipeline reports a structurally malformed pipeline: an
	// empty stage object, a stage key that isn't recognized, or a stage
	// whose shape doesn't match its operator (e.g. $limit given a
	// non-numeric argument).
	ErrInvalidPipeline = errors.NewKind("invalid pipeline: %s")

	// ErrUnknownOperator reports a single-key operator object whose key
	// does not name a registered operator.
	ErrUnknownOperator = errors.NewKind("unknown operator: %s")

	// ErrUnknownVariable reports a system variable reference ($$NAME) that
	// isn't one of the recognized names.
	ErrUnknownVariable = errors.NewKind("unknown variable: %s")

	// ErrTypeMismatch reports an operator applied to a value of the wrong
	// shape, such as $reduce over a non-array input.
	ErrTypeMismatch = errors.NewKind("type mismatch: %s")

	// ErrUnsupportedStage reports a stage or stage option IVM cannot
	// execute incrementally (and, in contexts where no batch fallback is
	// available, cannot execute at all): $lookup with a sub-pipeline,
	// $function, $where, $merge, $out.
	ErrUnsupportedStage = errors.NewKind("unsupported stage: %s")

	// ErrTransform reports a user-supplied external-event-source transform
	// that panicked or returned an error.
	ErrTransform = errors.NewKind("transform error: %s")
)
