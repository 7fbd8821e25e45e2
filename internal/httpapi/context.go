package httpapi

import (
	"context"
	"net/http"
	"sync"
)

var (
	baseMu  sync.RWMutex
	baseCtx = context.Background()
)

// SetBaseContext installs the process context that long-lived handlers
// (event streams, generate waits) stop on. nil restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	baseMu.Lock()
	baseCtx = ctx
	baseMu.Unlock()
}

func serverContext() context.Context {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return baseCtx
}

// requestContext derives from r and is also canceled when the server
// context is. stop must be called when the handler returns.
func requestContext(r *http.Request) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(r.Context())
	unhook := context.AfterFunc(serverContext(), cancel)
	return ctx, func() {
		unhook()
		cancel()
	}
}
