// Package router is the façade application code calls for every read and
// write. It applies the mode policy, executes against the local and/or
// remote store, and hands successful local writes to the sync queue through
// a one-way mailbox. Failures never cross the public boundary as panics or
// returned Go errors on a second value: everything is encoded in Result.
package router

import (
	"context"

	"github.com/pomadehq/pomade/internal/policy"
)

// Result is the outcome of a routed operation. Err is set instead of
// returned so callers always get a resolved value; Cached marks a read that
// fell back to the local copy after a remote failure.
type Result[T any] struct {
	Data   T
	Source policy.Source
	Err    error
	Cached bool
}

// Ok reports whether the operation succeeded.
func (r Result[T]) Ok() bool {
	return r.Err == nil
}

// ModeInfo is the observability surface describing how the router is
// currently deciding.
type ModeInfo struct {
	Mode       policy.Mode   `json:"mode"`
	Policy     string        `json:"policy"`
	Online     bool          `json:"online"`
	DataSource policy.Source `json:"data_source"`
}

// Router routes reads and writes per the device's sync policy. The device
// context is an explicit dependency; the router never reads ambient global
// state.
type Router struct {
	dev     policy.DeviceContext
	pol     policy.SyncPolicy
	online  func() bool
	mailbox *Mailbox
}

// New creates a Router for a device. online is typically the reachability
// monitor's IsOnline; mailbox may be nil for devices that never queue
// (online-only kiosks).
func New(dev policy.DeviceContext, online func() bool, mailbox *Mailbox) *Router {
	return &Router{
		dev:     dev,
		pol:     policy.PolicyFor(dev),
		online:  online,
		mailbox: mailbox,
	}
}

// Device returns the device context the router was built with.
func (r *Router) Device() policy.DeviceContext {
	return r.dev
}

// Policy returns the collapsed sync policy in effect.
func (r *Router) Policy() policy.SyncPolicy {
	return r.pol
}

// GetModeInfo reports the current mode, reachability, and default read
// source. Debug/observability surface.
func (r *Router) GetModeInfo() ModeInfo {
	online := r.online()
	return ModeInfo{
		Mode:       r.dev.Mode,
		Policy:     r.pol.String(),
		Online:     online,
		DataSource: policy.DecideRead(r.pol, online, nil),
	}
}

// ReadConfig tunes a single read.
type ReadConfig struct {
	// Override forces the source, bypassing the policy. Used for
	// privileged operations like initial hydration.
	Override *policy.Source
}

// ReadOption mutates a ReadConfig.
type ReadOption func(*ReadConfig)

// WithSource forces the read to a specific source.
func WithSource(src policy.Source) ReadOption {
	return func(c *ReadConfig) { c.Override = &src }
}

// Read routes a read through the mode policy. On a server-sourced read
// failing while the device has a local fallback, the local function is
// retried transparently and the result marked Cached so the caller can
// signal staleness.
func Read[T any](r *Router, ctx context.Context, localFn, remoteFn func(context.Context) (T, error), opts ...ReadOption) Result[T] {
	var cfg ReadConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	src := policy.DecideRead(r.pol, r.online(), cfg.Override)
	if src == policy.SourceLocal {
		data, err := localFn(ctx)
		return Result[T]{Data: data, Source: policy.SourceLocal, Err: err}
	}

	data, err := remoteFn(ctx)
	if err == nil {
		return Result[T]{Data: data, Source: policy.SourceServer}
	}

	if r.pol.OfflineCapable() {
		local, lerr := localFn(ctx)
		if lerr == nil {
			return Result[T]{Data: local, Source: policy.SourceLocal, Cached: true}
		}
		return Result[T]{Source: policy.SourceLocal, Err: lerr}
	}

	return Result[T]{Source: policy.SourceServer, Err: err}
}

// Write routes a write through the mode policy.
//
// Online-only devices write straight to the remote; without connectivity the
// write fails immediately with the policy-violation error rather than being
// queued, because such devices have no durable local fallback.
//
// Offline-enabled devices write locally; local success is the operation's
// success and the caller gets it immediately. The mutation returned by
// enqueue (if any) is then sent to the sync queue without being awaited.
// Queue bookkeeping failures are the drainer's problem, never the caller's.
func Write[T any](r *Router, ctx context.Context, localFn, remoteFn func(context.Context) (T, error), enqueue func(data T) *Mutation) Result[T] {
	src, err := policy.DecideWrite(r.pol, r.online())
	if err != nil {
		return Result[T]{Err: err}
	}

	if src == policy.SourceServer {
		data, err := remoteFn(ctx)
		return Result[T]{Data: data, Source: policy.SourceServer, Err: err}
	}

	data, err := localFn(ctx)
	if err != nil {
		// No fallback for a local write failure: local is the primary
		// path here.
		return Result[T]{Source: policy.SourceLocal, Err: err}
	}

	if enqueue != nil && r.mailbox != nil {
		if mut := enqueue(data); mut != nil {
			r.mailbox.Send(mut)
		}
	}

	return Result[T]{Data: data, Source: policy.SourceLocal}
}
