package ivm

import (
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
)

// clock is what Now reads; tests and the config loader swap it for a
// fixed instant so "$$NOW" resolves deterministically.
var clock = time.Now

// Now returns the current instant per the active clock.
func Now() time.Time { return clock() }

// SetClock overrides the instant Now returns; nil restores the wall
// clock.
func SetClock(fn func() time.Time) {
	if fn == nil {
		clock = time.Now
		return
	}
	clock = fn
}

// EvalContext carries the (root, ctx) half of the eval(doc, expr, root,
// ctx) contract: the top-level document an evaluation started from, the
// reducer-local bindings ($$value/$$this), and the $$NOW instant captured
// once per top-level evaluation and reused for every nested reference, per
// spec.md's design note on global evaluation state.
type EvalContext struct {
	Root interface{}
	Now  time.Time
	Vars map[string]interface{}
}

// NewEvalContext starts a fresh top-level evaluation against root, fixing
// $$NOW for the whole evaluation.
func NewEvalContext(root interface{}, now time.Time) *EvalContext {
	return &EvalContext{Root: root, Now: now, Vars: make(map[string]interface{})}
}

// WithVar returns a child context with name bound to value, used to expose
// $$value/$$this inside $reduce and similar constructs without mutating the
// parent context other callers may still be using.
func (c *EvalContext) WithVar(name string, value interface{}) *EvalContext {
	child := &EvalContext{Root: c.Root, Now: c.Now, Vars: make(map[string]interface{}, len(c.Vars)+1)}
	for k, v := range c.Vars {
		child.Vars[k] = v
	}
	child.Vars[name] = value
	return child
}

// Var looks up a reducer-local binding.
func (c *EvalContext) Var(name string) (interface{}, bool) {
	if c == nil || c.Vars == nil {
		return nil, false
	}
	v, ok := c.Vars[name]
	return v, ok
}

// EngineContext is the ambient execution context threaded through the
// planner, the batch executor, and the streaming collection: a logger,
// an optional tracer, and the engine's tuning knobs, mirroring the way
// the teacher threads *logrus.Entry and tracing spans through engine
// operations.
type EngineContext struct {
	Logger *logrus.Entry
	Tracer opentracing.Tracer

	// TopKThreshold caps how large an adjacent $limit a $sort stage
	// absorbs as a bounded top-k window.
	TopKThreshold int

	// RebuildRetries is how many rebuild attempts a live view gets
	// after a soft failure before its last good result is retained.
	RebuildRetries int

	// EventSourceBuffer sizes an event source's feed channel when the
	// connection doesn't specify its own buffer.
	EventSourceBuffer int
}

// NewEngineContext builds a context with a default logger, a no-op
// tracer, and default tuning knobs. Callers may replace the logger and
// tracer on the returned context; internal/config builds one from a
// loaded EngineConfig via EngineConfig.EngineContext.
func NewEngineContext() *EngineContext {
	return &EngineContext{
		Logger:            logrus.NewEntry(logrus.StandardLogger()),
		Tracer:            opentracing.NoopTracer{},
		TopKThreshold:     1024,
		RebuildRetries:    3,
		EventSourceBuffer: 64,
	}
}

// StartSpan begins a span named op if a real tracer is configured,
// returning a finish function that is always safe to call.
func (c *EngineContext) StartSpan(op string) func() {
	if c == nil || c.Tracer == nil {
		return func() {}
	}
	span := c.Tracer.StartSpan(op)
	return func() { span.Finish() }
}
