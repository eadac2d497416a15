package app

import (
	"context"
	"testing"
)

// testContext returns a context that is canceled when the test finishes.
// It stands in for t.Context, which requires Go 1.24.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
