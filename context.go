package langsmith

import (
	"context"
)

// runTreeContextKey is the private context slot for the current run tree.
type runTreeContextKey struct{}

// ContextWithRunTree returns a context carrying rt as the current run.
// Pass the returned context down the call stack; callees pick the run up
// with RunTreeFromContext and hang children off it.
func ContextWithRunTree(ctx context.Context, rt *RunTree) context.Context {
	return context.WithValue(ctx, runTreeContextKey{}, rt)
}

// RunTreeFromContext returns the current run tree, if any.
func RunTreeFromContext(ctx context.Context) (*RunTree, bool) {
	rt, ok := ctx.Value(runTreeContextKey{}).(*RunTree)
	return rt, ok
}

// ChildFromContext creates a child of the context's current run, or a new
// root when the context carries none. This is the usual entry point for
// instrumenting a function without threading RunTrees explicitly.
func ChildFromContext(ctx context.Context, client *Client, opts ...RunTreeOption) (*RunTree, error) {
	if parent, ok := RunTreeFromContext(ctx); ok {
		return parent.CreateChild(opts...)
	}
	return NewRunTree(client, opts...)
}
