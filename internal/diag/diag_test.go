package diag

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type staticSettings map[string]string

func (s staticSettings) Get(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

// recordingHandler keeps every record it is given.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
	err     error
	panics  bool
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler           { return h }
func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	if h.panics {
		panic("sink exploded")
	}
	if h.err != nil {
		return h.err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *recordingHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.records))
	for i, r := range h.records {
		out[i] = r.Message
	}
	return out
}

func TestLevelGating(t *testing.T) {
	tests := []struct {
		name     string
		settings staticSettings
		want     []string
	}{
		{
			name:     "disabled emits nothing",
			settings: staticSettings{"MESSAGE_LOGGING": "false", "MESSAGE_LOGGING_DETAILED": "true"},
			want:     nil,
		},
		{
			name:     "enabled caps at info",
			settings: staticSettings{"MESSAGE_LOGGING": "true"},
			want:     []string{"e", "w", "i"},
		},
		{
			name:     "detailed allows verbose",
			settings: staticSettings{"MESSAGE_LOGGING": "true", "MESSAGE_LOGGING_DETAILED": "true"},
			want:     []string{"e", "w", "i", "d", "v"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingHandler{}
			d := New(tt.settings, sink, &recordingHandler{}, nil)
			d.Error("e")
			d.Warn("w")
			d.Info("i")
			d.Debug("d")
			d.Verbose("v")

			got := sink.messages()
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("record %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
			if m := d.Metrics(); m.MessagesLogged != int64(len(tt.want)) {
				t.Errorf("messages logged = %d, want %d", m.MessagesLogged, len(tt.want))
			}
		})
	}
}

func TestSinkFailureFallsBack(t *testing.T) {
	settings := staticSettings{"MESSAGE_LOGGING": "true"}

	for _, sink := range []*recordingHandler{{err: errors.New("disk full")}, {panics: true}} {
		fallback := &recordingHandler{}
		d := New(settings, sink, fallback, nil)

		d.Error("boom")

		if got := fallback.messages(); len(got) != 1 || got[0] != "boom" {
			t.Errorf("fallback got %v, want [boom]", got)
		}
		if m := d.Metrics(); m.ErrorsEncountered != 1 {
			t.Errorf("errors encountered = %d, want 1", m.ErrorsEncountered)
		}
	}
}

func TestTimerClassification(t *testing.T) {
	sink := &recordingHandler{}
	d := New(staticSettings{"MESSAGE_LOGGING": "true", "MESSAGE_LOGGING_DETAILED": "true"}, sink, nil, nil)

	d.LogPerformance("fast", 5*time.Millisecond)
	d.LogPerformance("slow", 150*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.records) != 2 {
		t.Fatalf("got %d records, want 2", len(sink.records))
	}
	if sink.records[0].Level != SlogLevelVerbose {
		t.Errorf("fast op level = %v, want verbose", sink.records[0].Level)
	}
	if sink.records[1].Level != slog.LevelWarn || sink.records[1].Message != "slow operation detected" {
		t.Errorf("slow op = %v %q", sink.records[1].Level, sink.records[1].Message)
	}
}

func TestRollingWindow(t *testing.T) {
	// Logging disabled: timings are still collected.
	d := New(staticSettings{}, &recordingHandler{}, &recordingHandler{}, nil)

	for i := 1; i <= 150; i++ {
		d.LogPerformance("op", time.Duration(i)*time.Millisecond)
	}
	m := d.Metrics()
	if m.Samples != 100 {
		t.Fatalf("samples = %d, want 100", m.Samples)
	}
	// Window holds 51..150ms.
	if m.AverageMs != 100.5 {
		t.Errorf("average = %v, want 100.5", m.AverageMs)
	}
	if m.MaxMs != 150 || m.MinMs != 1 {
		t.Errorf("max/min = %v/%v, want 150/1", m.MaxMs, m.MinMs)
	}

	d.ResetMetrics()
	if m := d.Metrics(); m.Samples != 0 || m.MaxMs != 0 || m.MessagesLogged != 0 {
		t.Errorf("metrics after reset = %+v", m)
	}

	if dur := d.StartTimer("noop").End(); dur < 0 {
		t.Errorf("timer returned %v", dur)
	}
}

func TestDumpDebugInfo(t *testing.T) {
	sink := &recordingHandler{}
	settings := staticSettings{"MESSAGE_LOGGING": "true", "MESSAGE_LOGGING_MAX_ENTRIES": "500"}
	d := New(settings, sink, nil, nil)

	info := d.DumpDebugInfo()
	if info.Level != "INFO" || !info.Enabled || info.Detailed {
		t.Errorf("info = %+v", info)
	}
	if info.Settings["MESSAGE_LOGGING_MAX_ENTRIES"] != "500" {
		t.Errorf("settings = %v", info.Settings)
	}
	if len(sink.messages()) != 1 {
		t.Errorf("expected one emitted record, got %v", sink.messages())
	}
}

func TestLogAPICallSanitizesArgs(t *testing.T) {
	sink := &recordingHandler{}
	d := New(staticSettings{"MESSAGE_LOGGING": "true", "MESSAGE_LOGGING_DETAILED": "true"}, sink, nil, nil)

	d.LogAPICall("sendMessage", []any{"c1", func() {}}, nil, nil)
	d.LogAPICall("deleteMessage", []any{"c1"}, nil, errors.New("gone"))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.records) != 2 {
		t.Fatalf("got %d records", len(sink.records))
	}
	var args any
	sink.records[0].Attrs(func(a slog.Attr) bool {
		if a.Key == "args" {
			args = a.Value.Any()
		}
		return true
	})
	list, ok := args.([]any)
	if !ok || len(list) != 2 || list[1] != "[Filtered]" {
		t.Errorf("args = %#v", args)
	}
	if sink.records[1].Level != slog.LevelError {
		t.Errorf("failed call level = %v", sink.records[1].Level)
	}
}
