package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo, true)

	l.Debugf("hidden %d", 1)
	l.Tracef("hidden %d", 2)
	l.Infof("shown %d", 3)
	l.Warnf("warned")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug/trace lines leaked at info level: %q", out)
	}
	if !strings.Contains(out, "[INFO] shown 3") {
		t.Errorf("missing info line: %q", out)
	}
	if !strings.Contains(out, "[WARN] warned") {
		t.Errorf("missing warn line: %q", out)
	}

	buf.Reset()
	l.SetLevel(LevelDebug)
	l.Debugf("now visible")
	if !strings.Contains(buf.String(), "[DEBUG] now visible") {
		t.Errorf("debug line missing after SetLevel: %q", buf.String())
	}
}

func TestNamedChildren(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, LevelInfo, true)
	petep := root.Named("Petep")
	child := petep.Named("conn")

	petep.Infof("hello")
	child.Infof("nested")

	out := buf.String()
	if !strings.Contains(out, "[INFO] (Petep) hello") {
		t.Errorf("missing named prefix: %q", out)
	}
	if !strings.Contains(out, "[INFO] (Petep.conn) nested") {
		t.Errorf("missing nested prefix: %q", out)
	}

	root.SetLevel(LevelError)
	buf.Reset()
	child.Infof("suppressed")
	if buf.Len() != 0 {
		t.Errorf("child ignored root level: %q", buf.String())
	}
}

func TestErrorfWraps(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelError, true)
	base := errors.New("boom")

	err := l.Errorf("failed to connect: %w", base)
	if !errors.Is(err, base) {
		t.Fatalf("Errorf lost the wrapped error: %v", err)
	}
	if !strings.Contains(buf.String(), "[ERROR] failed to connect: boom") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestSilent(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelSilent, true)
	if err := l.Errorf("quiet"); err == nil {
		t.Fatal("Errorf must still return an error when silent")
	}
	l.Infof("quiet")
	if buf.Len() != 0 {
		t.Errorf("silent logger wrote %q", buf.String())
	}
}

func TestBufferedFlush(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo, false)
	defer l.Close()

	l.Infof("buffered")
	l.Flush()
	if !strings.Contains(buf.String(), "buffered") {
		t.Errorf("flush did not write pending data: %q", buf.String())
	}
}

func TestAttachSink(t *testing.T) {
	var main, extra bytes.Buffer
	l := New(&main, LevelInfo, true)
	l.AttachSink(&extra)
	l.Infof("fan out")

	if !strings.Contains(extra.String(), "fan out") {
		t.Errorf("extra sink missed the line: %q", extra.String())
	}
}

func TestErrorFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "errors.log")
	l := New(&bytes.Buffer{}, LevelInfo, true)
	if err := l.OpenErrorFile(path); err != nil {
		t.Fatalf("OpenErrorFile: %v", err)
	}
	l.Infof("not an error")
	l.Named("Proxifier").Errorf("exchange failed")
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read error file: %v", err)
	}
	if strings.Contains(string(data), "not an error") {
		t.Errorf("info line copied to error file: %q", data)
	}
	if !strings.Contains(string(data), "[ERROR] (Proxifier) exchange failed") {
		t.Errorf("error line missing: %q", data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		err  bool
	}{
		{"debug", LevelDebug, false},
		{"TRACE", LevelTrace, false},
		{"", LevelInfo, false},
		{"error", LevelError, false},
		{"silent", LevelSilent, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.err {
				t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
