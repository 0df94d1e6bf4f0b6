// Package logbuf keeps the most recent log lines in memory for the control
// surface.
package logbuf

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Buffer is a fixed-size ring of log lines. It is an io.Writer so it can
// back a zapcore.Core directly.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func New(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{lines: make([]string, size)}
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		b.lines[b.next] = line
		b.next = (b.next + 1) % len(b.lines)
		if b.next == 0 {
			b.full = true
		}
	}
	return len(p), nil
}

func (b *Buffer) Sync() error { return nil }

// Lines returns up to n of the newest lines, oldest first. n <= 0 means all.
func (b *Buffer) Lines(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var all []string
	if b.full {
		all = append(all, b.lines[b.next:]...)
	}
	all = append(all, b.lines[:b.next]...)

	if n > 0 && n < len(all) {
		all = all[len(all)-n:]
	}
	return all
}

// Core returns a console-encoded core writing into b.
func (b *Buffer) Core(level zapcore.LevelEnabler) zapcore.Core {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(b), level)
}

// Tee is a zap.Option that copies every entry into b.
func (b *Buffer) Tee(level zapcore.LevelEnabler) zap.Option {
	return zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, b.Core(level))
	})
}
