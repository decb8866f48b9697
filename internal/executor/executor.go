// Package executor defines the downstream command executor collaborator.
// The gate guarantees Execute is invoked at most once per authorized
// transition; what the executor does with the prompt is its own concern.
package executor

import "context"

// Executor runs an authorized prompt and returns a user-presentable summary.
type Executor interface {
	Execute(ctx context.Context, prompt string) (string, error)
}
