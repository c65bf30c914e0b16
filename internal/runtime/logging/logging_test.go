package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
)

func TestWatermillServiceLoggerDelegates(t *testing.T) {
	base := newRecordingWatermillLogger()
	logger := NewWatermillServiceLogger(base)

	logger.Debug("dbg", LogFields{"component": "scan"})
	logger.Info("info", nil)
	logger.Trace("trace", LogFields{"trace": true})
	logger.Error("oops", errors.New("boom"), LogFields{"failed": true})

	child := logger.With(LogFields{"topic": "motion-status"})
	child.Info("child_info", nil)

	if len(base.entries) != 6 {
		t.Fatalf("expected 6 log entries, got %d", len(base.entries))
	}
	if base.entries[0].level != "debug" || base.entries[0].fields["component"] != "scan" {
		t.Fatalf("unexpected first entry: %#v", base.entries[0])
	}
	if base.entries[3].err == nil {
		t.Fatal("expected error to be forwarded")
	}
	if base.entries[4].fields["topic"] != "motion-status" {
		t.Fatalf("expected With to propagate fields, got %#v", base.entries[4].fields)
	}
}

func TestWithWithoutFieldsReturnsSameLogger(t *testing.T) {
	logger := NewNopLogger()
	if logger.With(nil) != logger {
		t.Fatal("expected With(nil) to return the receiver")
	}
}

func TestConstructorsPanicOnNil(t *testing.T) {
	tests := map[string]func(){
		"watermill": func() { NewWatermillServiceLogger(nil) },
		"slog":      func() { NewSlogServiceLogger(nil) },
		"adapter":   func() { NewWatermillAdapter(nil) },
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Fatal("expected panic")
				}
			}()
			fn()
		})
	}
}

func TestWatermillAdapterUnwrapsWatermillLoggers(t *testing.T) {
	base := newRecordingWatermillLogger()
	adapter := NewWatermillAdapter(NewWatermillServiceLogger(base))
	if adapter != watermill.LoggerAdapter(base) {
		t.Fatalf("expected adapter to unwrap to the original watermill logger, got %T", adapter)
	}
}

func TestWatermillAdapterDelegates(t *testing.T) {
	base := &recordingServiceLogger{}
	adapter := NewWatermillAdapter(base)

	adapter.Debug("dbg", watermill.LogFields{"k": "v"})
	adapter.Info("info", nil)
	adapter.Trace("trace", nil)
	adapter.Error("err", errors.New("boom"), nil)

	child := adapter.With(watermill.LogFields{"child": "yes"})
	child.Info("child_info", nil)

	if len(base.entries) != 4 {
		t.Fatalf("expected 4 delegated entries on base, got %d", len(base.entries))
	}
	if base.entries[0].fields["k"] != "v" {
		t.Fatalf("expected fields to be converted, got %#v", base.entries[0].fields)
	}
}

func TestLevelForDebug(t *testing.T) {
	if LevelForDebug(0) != slog.LevelInfo {
		t.Error("debug 0 should log at info")
	}
	if LevelForDebug(1) != slog.LevelDebug {
		t.Error("debug 1 should log at debug")
	}
	if LevelForDebug(5) != watermill.LevelTrace {
		t.Error("debug >= 2 should log at trace")
	}
}

func TestNewDefaultLoggerFiltersByLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(buf, 0)
	logger.Debug("hidden", nil)
	logger.Info("shown", LogFields{"group": "motion-status"})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered at info level: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "motion-status") {
		t.Fatalf("expected info line with fields, got %s", out)
	}
}

type watermillEntry struct {
	level  string
	fields watermill.LogFields
	err    error
}

type recordingWatermillLogger struct {
	entries []watermillEntry
	sink    *[]watermillEntry
	fields  watermill.LogFields
}

func newRecordingWatermillLogger() *recordingWatermillLogger {
	logger := &recordingWatermillLogger{}
	logger.sink = &logger.entries
	return logger
}

func (r *recordingWatermillLogger) record(level string, err error, fields watermill.LogFields) {
	merged := r.fields.Add(fields)
	*r.sink = append(*r.sink, watermillEntry{level: level, fields: merged, err: err})
}

func (r *recordingWatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.record("error", err, fields)
}

func (r *recordingWatermillLogger) Info(msg string, fields watermill.LogFields) {
	r.record("info", nil, fields)
}

func (r *recordingWatermillLogger) Debug(msg string, fields watermill.LogFields) {
	r.record("debug", nil, fields)
}

func (r *recordingWatermillLogger) Trace(msg string, fields watermill.LogFields) {
	r.record("trace", nil, fields)
}

func (r *recordingWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	child := &recordingWatermillLogger{sink: r.sink, fields: r.fields.Add(fields)}
	r.record("with", nil, fields)
	return child
}

type loggedEntry struct {
	level  string
	msg    string
	fields LogFields
	err    error
}

type recordingServiceLogger struct {
	entries []loggedEntry
}

func (r *recordingServiceLogger) With(fields LogFields) ServiceLogger {
	return &recordingServiceLogger{}
}

func (r *recordingServiceLogger) Debug(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "debug", msg: msg, fields: fields})
}

func (r *recordingServiceLogger) Info(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "info", msg: msg, fields: fields})
}

func (r *recordingServiceLogger) Error(msg string, err error, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "error", msg: msg, fields: fields, err: err})
}

func (r *recordingServiceLogger) Trace(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "trace", msg: msg, fields: fields})
}
