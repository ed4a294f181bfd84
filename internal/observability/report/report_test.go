package report

import (
	"errors"
	"testing"
	"time"

	"tgsbot/pkg/logx"
)

func TestDisabledWithoutDSN(t *testing.T) {
	t.Parallel()

	r, err := New(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Enabled() {
		t.Fatalf("enabled without dsn")
	}
	r.Capture(errors.New("x"), map[string]string{"a": "b"})
	r.Recovered("boom", nil)
	if !r.Flush(time.Millisecond) {
		t.Fatalf("flush on disabled reporter should succeed")
	}
}

func TestNilReporterIsSafe(t *testing.T) {
	t.Parallel()

	var r *Reporter
	r.Capture(errors.New("x"), nil)
	if r.Enabled() {
		t.Fatalf("nil reporter enabled")
	}
}

func TestInvalidDSN(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{DSN: "://not a dsn"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for malformed dsn")
	}
}
