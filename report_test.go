package rtsync

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	r := &LogReporter{Logger: log.New(&buf, "", 0)}
	r.Errorf("name = %s", "x")
	r.Debugf("hidden")
	if got := buf.String(); got != "ERROR name = x\n" {
		t.Fatalf("output = %q", got)
	}

	buf.Reset()
	r.Verbose = true
	r.Debugf("val = %d", 3)
	if got := buf.String(); !strings.HasPrefix(got, "DEBUG val = 3") {
		t.Fatalf("output = %q", got)
	}
}

func TestThreadSync_UnlockReportsError(t *testing.T) {
	var buf bytes.Buffer
	s := NewThreadSync("reported", WithReporter(&LogReporter{Logger: log.New(&buf, "", 0)}))
	if err := s.Unlock(); err == nil {
		t.Fatal("Unlock of a free lock succeeded")
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Fatalf("no error line reported: %q", buf.String())
	}
}
