package log

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"log/syslog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the minimum level that will be emitted.
type Level int32

const (
	LevelSilent Level = iota - 1
	LevelError
	LevelInfo
	LevelTrace
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelSilent:
		return "silent"
	case LevelError:
		return "error"
	case LevelInfo:
		return "info"
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	}
	return fmt.Sprintf("level(%d)", int32(l))
}

// ParseLevel maps a verbosity name to a Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	case "info", "":
		return LevelInfo, nil
	case "error":
		return LevelError, nil
	case "silent", "none":
		return LevelSilent, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// multi is a simple fan-out writer (main writer + optional syslog).
type multi struct {
	mu sync.Mutex
	ws []io.Writer
}

func (m *multi) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.ws {
		_, _ = w.Write(p)
	}
	return len(p), nil
}

func (m *multi) add(w io.Writer) {
	m.mu.Lock()
	m.ws = append(m.ws, w)
	m.mu.Unlock()
}

// sink is the output shared by a root Logger and all of its named children.
type sink struct {
	level atomic.Int32

	mu         sync.Mutex
	base       *multi
	buf        *bufio.Writer
	out        *log.Logger
	flushTimer *time.Ticker
	insta      bool
	closers    []io.Closer

	errMu   sync.Mutex
	errFile *os.File
	errOut  *log.Logger
}

// Logger writes leveled lines to its sink. The zero value is not usable;
// build the root with New and hand components a child from Named.
type Logger struct {
	s    *sink
	name string
}

// New builds the root logger writing to w.
func New(w io.Writer, level Level, instaflush bool) *Logger {
	if w == nil {
		w = os.Stderr
	}
	s := &sink{base: &multi{ws: []io.Writer{w}}, insta: instaflush}
	s.level.Store(int32(level))
	s.mu.Lock()
	s.rebuildLocked()
	s.mu.Unlock()
	return &Logger{s: s}
}

// Discard returns a silent logger, handy for tests.
func Discard() *Logger {
	return New(io.Discard, LevelSilent, true)
}

// Named returns a child logger sharing the sink and level. Names nest with a dot.
func (l *Logger) Named(name string) *Logger {
	if l.name != "" && name != "" {
		name = l.name + "." + name
	}
	return &Logger{s: l.s, name: name}
}

func (l *Logger) Name() string { return l.name }

// SetLevel changes the active level for the root and every child.
func (l *Logger) SetLevel(level Level) { l.s.level.Store(int32(level)) }

func (l *Logger) Level() Level { return Level(l.s.level.Load()) }

// Enabled reports whether lines at level would be emitted.
func (l *Logger) Enabled(level Level) bool {
	return level != LevelSilent && Level(l.s.level.Load()) >= level
}

// SetInstaflush toggles line buffering. Switching to instaflush flushes any
// pending buffered data immediately.
func (l *Logger) SetInstaflush(v bool) {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insta == v {
		return
	}
	s.insta = v
	if s.buf != nil && v {
		_ = s.buf.Flush()
	}
	s.rebuildLocked()
}

// AttachSink adds an extra output.
func (l *Logger) AttachSink(w io.Writer) {
	if w == nil {
		return
	}
	l.s.base.add(w)
}

// EnableSyslog connects to the local syslog and attaches it as a sink.
func (l *Logger) EnableSyslog(tag string) error {
	sw, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
	if err != nil {
		return err
	}
	l.AttachSink(sw)
	l.s.mu.Lock()
	l.s.closers = append(l.s.closers, sw)
	l.s.mu.Unlock()
	return nil
}

// OpenErrorFile copies every error line into the file at path.
func (l *Logger) OpenErrorFile(path string) error {
	if path == "" {
		return nil
	}
	s := l.s
	s.errMu.Lock()
	defer s.errMu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if s.errFile != nil {
		_ = s.errFile.Close()
	}
	s.errFile = f
	s.errOut = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	return nil
}

// Flush forces a flush when buffering is enabled.
func (l *Logger) Flush() {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf != nil {
		_ = s.buf.Flush()
	}
}

// Close flushes pending output and releases the error file and syslog.
func (l *Logger) Close() {
	s := l.s
	s.mu.Lock()
	s.stopFlusherLocked()
	if s.buf != nil {
		_ = s.buf.Flush()
	}
	for _, c := range s.closers {
		_ = c.Close()
	}
	s.closers = nil
	s.mu.Unlock()

	s.errMu.Lock()
	if s.errFile != nil {
		_ = s.errFile.Sync()
		_ = s.errFile.Close()
		s.errFile = nil
		s.errOut = nil
	}
	s.errMu.Unlock()
}

// ---- printing ------------------------------------------------------------

// Errorf logs at error level and returns the formatted error; %w wraps.
func (l *Logger) Errorf(format string, a ...any) error {
	err := fmt.Errorf(format, a...)
	if !l.Enabled(LevelError) {
		return err
	}
	msg := l.prefix("[ERROR] ") + err.Error()
	l.out(msg)

	s := l.s
	s.errMu.Lock()
	if s.errOut != nil {
		s.errOut.Println(msg)
		_ = s.errFile.Sync()
	}
	s.errMu.Unlock()

	return err
}

func (l *Logger) Warnf(format string, a ...any) {
	if l.Enabled(LevelError) {
		l.out(l.prefix("[WARN] ") + fmt.Sprintf(format, a...))
	}
}

func (l *Logger) Infof(format string, a ...any) {
	if l.Enabled(LevelInfo) {
		l.out(l.prefix("[INFO] ") + fmt.Sprintf(format, a...))
	}
}

func (l *Logger) Tracef(format string, a ...any) {
	if l.Enabled(LevelTrace) {
		l.out(l.prefix("[TRACE] ") + fmt.Sprintf(format, a...))
	}
}

func (l *Logger) Debugf(format string, a ...any) {
	if l.Enabled(LevelDebug) {
		l.out(l.prefix("[DEBUG] ") + fmt.Sprintf(format, a...))
	}
}

func (l *Logger) prefix(tag string) string {
	if l.name == "" {
		return tag
	}
	return tag + "(" + l.name + ") "
}

func (l *Logger) out(msg string) {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		s.rebuildLocked()
	}
	s.out.Print(msg)
}

// ---- internals -----------------------------------------------------------

func (s *sink) rebuildLocked() {
	var w io.Writer = s.base
	if s.insta {
		s.buf = nil
		s.out = log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds)
		s.stopFlusherLocked()
		return
	}

	// buffered mode
	s.buf = bufio.NewWriterSize(w, 16*1024)
	s.out = log.New(s.buf, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	s.startFlusherLocked()
}

func (s *sink) startFlusherLocked() {
	s.stopFlusherLocked()
	t := time.NewTicker(2 * time.Second)
	s.flushTimer = t
	go func() {
		for range t.C {
			s.mu.Lock()
			if s.flushTimer != t {
				s.mu.Unlock()
				return
			}
			if s.buf != nil {
				_ = s.buf.Flush()
			}
			s.mu.Unlock()
		}
	}()
}

func (s *sink) stopFlusherLocked() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
}
