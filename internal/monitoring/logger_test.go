package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("custom logger was not called")
	}

	// nil installs a no-op logger
	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("no-op logger should not have triggered callback")
	}
}

func TestLogStreams(t *testing.T) {
	defer SetLogWriters(LogWriters{})

	var ops, diag, trace bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops, Diag: &diag, Trace: &trace})

	Opsf("ops %d", 1)
	Diagf("diag %d", 2)
	Tracef("trace %d", 3)

	if !strings.Contains(ops.String(), "ops 1") {
		t.Errorf("ops stream missing message: %q", ops.String())
	}
	if !strings.Contains(diag.String(), "diag 2") {
		t.Errorf("diag stream missing message: %q", diag.String())
	}
	if !strings.Contains(trace.String(), "trace 3") {
		t.Errorf("trace stream missing message: %q", trace.String())
	}
}

func TestLogStreams_DisabledWriters(t *testing.T) {
	defer SetLogWriters(LogWriters{})

	var ops bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops})

	// Disabled streams must not panic.
	Diagf("dropped")
	Tracef("dropped")
	Opsf("kept")

	if !strings.Contains(ops.String(), "kept") {
		t.Errorf("ops stream missing message: %q", ops.String())
	}
}
