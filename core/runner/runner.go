// Package runner defines the sandboxed code-execution port used by TOOL
// nodes. Arbitrary code is never executed in-process; concrete runners must
// isolate execution (subprocess, embedded VM) behind this interface.
package runner

import (
	"context"
	"errors"
)

// ErrDisabled is returned by NullRunner for every execution attempt.
var ErrDisabled = errors.New("runner: code execution disabled")

// Runner executes untrusted code against a variable snapshot.
type Runner interface {
	Execute(ctx context.Context, code string, vars map[string]any) (any, error)
	Destroy(ctx context.Context) error
}

// NullRunner denies all code execution. It is the default backend so that a
// deployment must opt in to a real isolated runner explicitly.
type NullRunner struct{}

// NewNullRunner creates a NullRunner.
func NewNullRunner() *NullRunner { return &NullRunner{} }

func (r *NullRunner) Execute(ctx context.Context, code string, vars map[string]any) (any, error) {
	return nil, ErrDisabled
}

func (r *NullRunner) Destroy(ctx context.Context) error { return nil }
