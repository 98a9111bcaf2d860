package logging

import (
	"context"
	"errors"
	"log/slog"
)

// sink 一个输出目标. floor 为 nil 时只受全局级别约束.
type sink struct {
	handler slog.Handler
	floor   slog.Leveler
}

func (s sink) accepts(ctx context.Context, lvl slog.Level) bool {
	if s.floor != nil && lvl < s.floor.Level() {
		return false
	}
	return s.handler.Enabled(ctx, lvl)
}

// fanoutHandler 把记录写入所有接受该级别的目标. 例如文件记录全部日志，
// 控制台只保留 WARN 以上的校准告警.
type fanoutHandler struct {
	sinks []sink
}

func newFanoutHandler(sinks ...sink) slog.Handler {
	return &fanoutHandler{sinks: sinks}
}

func (h *fanoutHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	for _, s := range h.sinks {
		if s.accepts(ctx, lvl) {
			return true
		}
	}
	return false
}

// Handle 单个目标失败不影响其余目标，错误合并返回.
func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, s := range h.sinks {
		if !s.accepts(ctx, record.Level) {
			continue
		}
		if err := s.handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(hd slog.Handler) slog.Handler { return hd.WithAttrs(attrs) })
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	return h.derive(func(hd slog.Handler) slog.Handler { return hd.WithGroup(name) })
}

func (h *fanoutHandler) derive(fn func(slog.Handler) slog.Handler) slog.Handler {
	sinks := make([]sink, len(h.sinks))
	for i, s := range h.sinks {
		sinks[i] = sink{handler: fn(s.handler), floor: s.floor}
	}
	return &fanoutHandler{sinks: sinks}
}
