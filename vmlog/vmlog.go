// Copyright 2024 The Probevm Authors
// This file is part of Probevm.
//
// Probevm is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Probevm is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Probevm. If not, see <http://www.gnu.org/licenses/>.

// Package vmlog is the leveled, call-site-annotated logger the VM uses to
// report faults; its one caller in this module is package vm, which logs
// a frame that fails to unwind during exception propagation. It never sits on the hot path of value-level instruction
// execution; it exists for the handful of fault and lifecycle events an
// operator needs to see.
package vmlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level orders log severities from most to least critical.
type Level int

const (
	LvlError Level = iota
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Level) tag() string {
	switch l {
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN "
	case LvlInfo:
		return "INFO "
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "?????"
	}
}

func (l Level) color() *color.Color {
	switch l {
	case LvlError:
		return color.New(color.FgRed, color.Bold)
	case LvlWarn:
		return color.New(color.FgYellow)
	case LvlInfo:
		return color.New(color.FgGreen)
	case LvlDebug:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}

// Logger writes leveled, optionally colorized messages with bound context
// fields. The zero value is not usable; construct with New or Default.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	level  Level
	useTTY bool
	ctx    []interface{}
}

// New returns a Logger writing to out at the given minimum level. If out is
// an *os.File connected to a terminal, output is colorized and, on
// Windows, routed through mattn/go-colorable so ANSI codes render
// correctly in legacy consoles.
func New(out *os.File, level Level) *Logger {
	useTTY := isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())
	var w io.Writer = out
	if useTTY {
		w = colorable.NewColorable(out)
	}
	return &Logger{out: w, level: level, useTTY: useTTY}
}

// Default returns a Logger writing to stderr at LvlInfo, matching the
// teacher corpus's convention of a process-wide default logger that
// individual packages narrow with With.
func Default() *Logger { return New(os.Stderr, LvlInfo) }

// With returns a child Logger with ctx key/value pairs appended to every
// message it logs, without mutating the receiver.
func (l *Logger) With(ctx ...interface{}) *Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return &Logger{out: l.out, level: l.level, useTTY: l.useTTY, ctx: merged}
}

func (l *Logger) log(level Level, skip int, msg string, ctx ...interface{}) {
	if level > l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("15:04:05.000")
	tag := level.tag()
	if l.useTTY {
		tag = level.color().Sprint(tag)
	}
	fmt.Fprintf(l.out, "[%s] %s %s", ts, tag, msg)

	all := append(append([]interface{}{}, l.ctx...), ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(l.out, " %v=%v", all[i], all[i+1])
	}
	if level >= LvlDebug {
		if frame := callerFrame(skip + 1); frame != "" {
			fmt.Fprintf(l.out, " caller=%s", frame)
		}
	}
	fmt.Fprintln(l.out)
}

func callerFrame(skip int) string {
	trace := stack.Trace().TrimRuntime()
	if len(trace) <= skip {
		return ""
	}
	return fmt.Sprintf("%+v", trace[skip])
}

func (l *Logger) Error(msg string, ctx ...interface{}) { l.log(LvlError, 2, msg, ctx...) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.log(LvlWarn, 2, msg, ctx...) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.log(LvlInfo, 2, msg, ctx...) }
func (l *Logger) Debug(msg string, ctx ...interface{}) { l.log(LvlDebug, 2, msg, ctx...) }
func (l *Logger) Trace(msg string, ctx ...interface{}) { l.log(LvlTrace, 2, msg, ctx...) }
