package common

import (
	"context"
	"time"
)

// ContextWithDefaultTimeout returns a context for short control-plane
// calls such as teardown.
func ContextWithDefaultTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
