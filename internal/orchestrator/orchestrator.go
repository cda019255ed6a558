// Package orchestrator abstracts the container runtime that backs worker
// sessions behind three operations — submit, resolve, delete — plus a
// reconcile pass that reconciles durable state against runtime reality.
// Nothing above this package needs to know it's Docker underneath.
package orchestrator

import "context"

// TTYDPort is the fixed port the worker's terminal server listens on inside
// the container; only the Gateway is permitted to reach it.
const TTYDPort = 7681

// Spec describes the worker lifecycle object to submit.
type Spec struct {
	SessionID  string
	Image      string
	CodeURL    string
	Command    string
	InstallCmd string
	Prompt     string
	ExitOnJob  bool
	// ActiveDeadlineSeconds is the worker's run-time budget. DockerDriver
	// does not enforce it as a deadline: a positive value only turns on a
	// 256-process limit, and the container runs until it exits or is
	// deleted.
	ActiveDeadlineSeconds int
}

// Driver is the seam between the Controller/Gateway and a concrete
// orchestrator backend.
type Driver interface {
	// Submit creates and starts the worker described by spec, returning an
	// orchestrator-assigned worker ID.
	Submit(ctx context.Context, spec Spec) (workerID string, err error)

	// ResolveEndpoint reports the address the Gateway should dial to reach
	// the worker's terminal server. ready is false while the worker is
	// still starting; callers should retry until it flips true or the
	// session expires.
	ResolveEndpoint(ctx context.Context, workerID string) (endpoint string, ready bool, err error)

	// BestEffortDelete tears down the worker. Errors are logged by the
	// caller, not propagated to the end user: a failed teardown must never
	// block a session response.
	BestEffortDelete(ctx context.Context, workerID string) error

	// Reconcile reports workers the orchestrator knows about that aren't
	// in the expected set (orphans) and sessions in the expected set with
	// no corresponding worker (missing), so the caller can correct durable
	// state and clean up drift from crashes or restarts.
	Reconcile(ctx context.Context, expectedSessionIDs map[string]string) (orphanWorkerIDs []string, missingSessionIDs []string, err error)

	Close() error
}
