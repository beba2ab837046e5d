// Package logging wraps log/slog with the text handler used by both the
// agent and server binaries.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Handler formats records as a single line and mirrors every record above
// debug level (and debug records too when debug is set) to stderr in
// addition to the configured output file.
type Handler struct {
	out   io.Writer
	h     slog.Handler
	mu    *sync.Mutex
	debug bool
	attrs []slog.Attr
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.h.Enabled(ctx, level)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &Handler{out: h.out, h: h.h.WithAttrs(attrs), mu: h.mu, debug: h.debug, attrs: merged}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{out: h.out, h: h.h.WithGroup(name), mu: h.mu, debug: h.debug, attrs: h.attrs}
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	level := r.Level.String() + ":"
	formattedTime := r.Time.Format("2006/01/02 15:04:05")

	strs := []string{formattedTime, level, r.Message}
	for _, a := range h.attrs {
		strs = append(strs, a.String())
	}

	if r.NumAttrs() != 0 {
		r.Attrs(func(a slog.Attr) bool {
			strs = append(strs, a.String())
			return true
		})
	}
	result := strings.Join(strs, " ") + "\n"
	b := []byte(result)

	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.out != nil {
		_, err = h.out.Write(b)
	}
	if h.debug || r.Level > slog.LevelDebug {
		_, err = os.Stderr.Write(b)
	}
	return err
}

// SetDebug toggles whether debug-level records also print to stderr.
func (h *Handler) SetDebug(debug bool) {
	h.debug = debug
}

// NewHandler builds a Handler writing to file (may be nil) plus stderr
// mirroring for anything above debug level.
func NewHandler(file io.Writer, opts *slog.HandlerOptions, debug bool) *Handler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &Handler{
		out: file,
		h: slog.NewTextHandler(file, &slog.HandlerOptions{
			Level:     opts.Level,
			AddSource: opts.AddSource,
		}),
		mu:    &sync.Mutex{},
		debug: debug,
	}
}

// New creates a ready-to-use logger tagged with a component name, e.g.
// "modbus", "s7comm", "agent", "server".
func New(file io.Writer, component string, debug bool) *slog.Logger {
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	h := NewHandler(file, &slog.HandlerOptions{Level: programLevel}, debug)
	return slog.New(h).With("component", component)
}
