package bridge

import (
	"context"
)

type contextKey struct{}

//	NewContext returns a copy of ctx carrying b.
func NewContext(ctx context.Context, b *Bridge) context.Context {
	return context.WithValue(ctx, contextKey{}, b)
}

func FromContext(ctx context.Context) (b *Bridge, ok bool) {
	b, ok = ctx.Value(contextKey{}).(*Bridge)
	if ok && b.Closed() {
		b, ok = nil, false
	}
	return
}

//	ForContext returns the open Bridge ctx carries, or connects a new one
//	with cfg and returns it with a ctx carrying it. Each task that connects
//	this way owns its Bridge and must Close it.
func ForContext(ctx context.Context, cfg Config) (b *Bridge, bound context.Context, err error) {
	if b, ok := FromContext(ctx); ok {
		return b, ctx, nil
	}
	if b, err = New(cfg); err != nil {
		return
	}
	bound = NewContext(ctx, b)
	return
}
