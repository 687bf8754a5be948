package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/colorfulnotion/gekko/common"
)

// terminalHandler prints one aligned line per record:
//
//	WARN [10-19|12:00:01.123] jit | Code cache is full  addr=0x80003100
type terminalHandler struct {
	mu       *sync.Mutex
	wr       io.Writer
	lvl      slog.Level
	useColor bool
	attrs    []slog.Attr
}

// NewTerminalHandlerWithLevel returns a handler that writes human-readable
// records at or above lvl to wr. With useColor the level is painted.
func NewTerminalHandlerWithLevel(wr io.Writer, lvl slog.Level, useColor bool) slog.Handler {
	return &terminalHandler{mu: &sync.Mutex{}, wr: wr, lvl: lvl, useColor: useColor}
}

func levelColor(l slog.Level) string {
	switch {
	case l >= LevelError:
		return common.ColorRed
	case l >= LevelWarn:
		return common.ColorYellow
	case l >= LevelInfo:
		return common.ColorGreen
	case l >= LevelDebug:
		return common.ColorCyan
	}
	return common.ColorGray
}

func (h *terminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.lvl
}

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	module := ""
	lvl := LevelAlignedString(r.Level)
	if h.useColor {
		lvl = common.Paint(levelColor(r.Level), lvl)
	}
	b.WriteString(lvl)
	b.WriteString(" [")
	b.WriteString(r.Time.Format("01-02|15:04:05.000"))
	b.WriteString("] ")

	var kv strings.Builder
	writeAttr := func(a slog.Attr) {
		if a.Key == "module" && module == "" {
			module = a.Value.String()
			return
		}
		fmt.Fprintf(&kv, " %s=%v", a.Key, a.Value.Any())
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})
	if module != "" {
		b.WriteString(module)
		b.WriteString(" | ")
	}
	b.WriteString(r.Message)
	if kv.Len() > 0 {
		b.WriteString(" ")
		b.WriteString(kv.String())
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.wr, b.String())
	return err
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &terminalHandler{mu: h.mu, wr: h.wr, lvl: h.lvl, useColor: h.useColor, attrs: merged}
}

func (h *terminalHandler) WithGroup(string) slog.Handler {
	return h
}

type discardHandler struct{}

// DiscardHandler returns a no-op handler
func DiscardHandler() slog.Handler {
	return &discardHandler{}
}

func (h *discardHandler) Handle(_ context.Context, r slog.Record) error {
	return nil
}

func (h *discardHandler) Enabled(_ context.Context, level slog.Level) bool {
	return false
}

func (h *discardHandler) WithGroup(name string) slog.Handler {
	return h
}

func (h *discardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}
