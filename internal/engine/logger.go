package engine

import (
	"context"
	"log/slog"
)

// replaySafeHandler пропускает записи только вне replay.
//
// Body orchestration выполняется многократно; без этого handler каждая
// строка лога повторялась бы при каждом execution.
type replaySafeHandler struct {
	inner slog.Handler
	ctx   *Context
}

func newReplaySafeHandler(inner slog.Handler, ctx *Context) *replaySafeHandler {
	return &replaySafeHandler{inner: inner, ctx: ctx}
}

func (h *replaySafeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.ctx.IsReplaying() {
		return false
	}
	return h.inner.Enabled(ctx, level)
}

func (h *replaySafeHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.ctx.IsReplaying() {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *replaySafeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &replaySafeHandler{inner: h.inner.WithAttrs(attrs), ctx: h.ctx}
}

func (h *replaySafeHandler) WithGroup(name string) slog.Handler {
	return &replaySafeHandler{inner: h.inner.WithGroup(name), ctx: h.ctx}
}
