// Package diag is the leveled, self-measuring diagnostics facade used by the
// message logger. It only observes; nothing it does feeds back into the
// pipeline.
package diag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/V4T54L/msgtap/internal/adapter/sanitize"
	"github.com/V4T54L/msgtap/internal/domain"
	"github.com/V4T54L/msgtap/internal/pkg/logger"
)

// Level orders diagnostics from most to least severe.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
	LevelVerbose
)

// SlogLevelVerbose is the slog level used for VERBOSE records.
const SlogLevelVerbose = logger.LevelVerbose

// SlowOperationThreshold is the duration above which a timed operation is
// reported as a warning.
const SlowOperationThreshold = 100 * time.Millisecond

const windowSize = 100

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	case LevelVerbose:
		return "VERBOSE"
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelInfo:
		return slog.LevelInfo
	case LevelDebug:
		return slog.LevelDebug
	}
	return SlogLevelVerbose
}

// Metrics is a snapshot of the facade's self-measurements.
type Metrics struct {
	MessagesLogged    int64     `json:"messages_logged"`
	ErrorsEncountered int64     `json:"errors_encountered"`
	LastLogTime       time.Time `json:"last_log_time"`
	Samples           int       `json:"samples"`
	AverageMs         float64   `json:"average_ms"`
	MaxMs             float64   `json:"max_ms"`
	MinMs             float64   `json:"min_ms"`
}

// DebugInfo is the result of DumpDebugInfo.
type DebugInfo struct {
	Level    string            `json:"level"`
	Enabled  bool              `json:"enabled"`
	Detailed bool              `json:"detailed"`
	Metrics  Metrics           `json:"metrics"`
	Settings map[string]string `json:"settings"`
}

// Diagnostics emits leveled records to a slog.Handler, gated by the
// MESSAGE_LOGGING and MESSAGE_LOGGING_DETAILED settings.
type Diagnostics struct {
	settings  domain.Settings
	sink      slog.Handler
	fallback  slog.Handler
	sanitizer *sanitize.Sanitizer

	mu      sync.Mutex
	logged  int64
	errors  int64
	lastLog time.Time
	window  []time.Duration
	next    int
	maxDur  time.Duration
	minDur  time.Duration
	sampled bool
}

// New creates a Diagnostics facade. A nil fallback writes text to stderr; a
// nil sanitizer uses the default limits without redaction.
func New(settings domain.Settings, sink, fallback slog.Handler, sanitizer *sanitize.Sanitizer) *Diagnostics {
	if fallback == nil {
		fallback = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: SlogLevelVerbose})
	}
	if sink == nil {
		sink = fallback
	}
	if sanitizer == nil {
		sanitizer = sanitize.NewSanitizer(nil, nil)
	}
	attrs := []slog.Attr{slog.String("component", "message_log")}
	return &Diagnostics{
		settings:  settings,
		sink:      sink.WithAttrs(attrs),
		fallback:  fallback.WithAttrs(attrs),
		sanitizer: sanitizer,
		window:    make([]time.Duration, 0, windowSize),
	}
}

// Enabled reports whether the master MESSAGE_LOGGING flag is on.
func (d *Diagnostics) Enabled() bool {
	return domain.SettingBool(d.settings, domain.SettingMessageLogging)
}

// CurrentLevel is VERBOSE in detailed mode and INFO otherwise.
func (d *Diagnostics) CurrentLevel() Level {
	if domain.SettingBool(d.settings, domain.SettingMessageLoggingDetailed) {
		return LevelVerbose
	}
	return LevelInfo
}

// ShouldLog reports whether a record at level would be emitted.
func (d *Diagnostics) ShouldLog(level Level) bool {
	return d.Enabled() && level <= d.CurrentLevel()
}

func (d *Diagnostics) Error(msg string, args ...any)   { d.emit(LevelError, msg, args...) }
func (d *Diagnostics) Warn(msg string, args ...any)    { d.emit(LevelWarn, msg, args...) }
func (d *Diagnostics) Info(msg string, args ...any)    { d.emit(LevelInfo, msg, args...) }
func (d *Diagnostics) Debug(msg string, args ...any)   { d.emit(LevelDebug, msg, args...) }
func (d *Diagnostics) Verbose(msg string, args ...any) { d.emit(LevelVerbose, msg, args...) }

func (d *Diagnostics) emit(level Level, msg string, args ...any) {
	if !d.ShouldLog(level) {
		return
	}

	start := time.Now()
	rec := slog.NewRecord(start, level.slog(), msg, 0)
	rec.Add(args...)

	if err := handle(d.sink, rec.Clone()); err != nil {
		rec.AddAttrs(slog.String("sink_error", err.Error()))
		_ = handle(d.fallback, rec)
	}

	d.mu.Lock()
	d.logged++
	if level == LevelError {
		d.errors++
	}
	d.lastLog = time.Now()
	d.sampleLocked(time.Since(start))
	d.mu.Unlock()
}

// handle writes rec to h, turning a panicking handler into an error.
func handle(h slog.Handler, rec slog.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("diagnostics sink panicked: %v", r)
		}
	}()
	return h.Handle(context.Background(), rec)
}

func (d *Diagnostics) sampleLocked(dur time.Duration) {
	if len(d.window) < windowSize {
		d.window = append(d.window, dur)
	} else {
		d.window[d.next] = dur
		d.next = (d.next + 1) % windowSize
	}
	if !d.sampled || dur > d.maxDur {
		d.maxDur = dur
	}
	if !d.sampled || dur < d.minDur {
		d.minDur = dur
	}
	d.sampled = true
}

// Metrics returns a snapshot of the self-measurements.
func (d *Diagnostics) Metrics() Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()

	m := Metrics{
		MessagesLogged:    d.logged,
		ErrorsEncountered: d.errors,
		LastLogTime:       d.lastLog,
		Samples:           len(d.window),
		MaxMs:             ms(d.maxDur),
		MinMs:             ms(d.minDur),
	}
	if len(d.window) > 0 {
		var sum time.Duration
		for _, dur := range d.window {
			sum += dur
		}
		m.AverageMs = ms(sum) / float64(len(d.window))
	}
	return m
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// ResetMetrics clears every counter and the timing window.
func (d *Diagnostics) ResetMetrics() {
	d.mu.Lock()
	d.logged, d.errors = 0, 0
	d.lastLog = time.Time{}
	d.window = d.window[:0]
	d.next = 0
	d.maxDur, d.minDur = 0, 0
	d.sampled = false
	d.mu.Unlock()

	d.Info("debug metrics reset")
}

// Timer measures one operation. Create with StartTimer.
type Timer struct {
	d     *Diagnostics
	label string
	start time.Time
}

// StartTimer starts timing label.
func (d *Diagnostics) StartTimer(label string) *Timer {
	return &Timer{d: d, label: label, start: time.Now()}
}

// End records the elapsed time and reports it: at WARN when slower than
// SlowOperationThreshold, at VERBOSE otherwise.
func (t *Timer) End(args ...any) time.Duration {
	dur := time.Since(t.start)
	t.d.LogPerformance(t.label, dur, args...)
	return dur
}

// LogPerformance records dur in the timing window and reports it.
func (d *Diagnostics) LogPerformance(operation string, dur time.Duration, args ...any) {
	d.mu.Lock()
	d.sampleLocked(dur)
	d.mu.Unlock()

	attrs := append([]any{"operation", operation, "duration_ms", ms(dur)}, args...)
	if dur > SlowOperationThreshold {
		d.Warn("slow operation detected", attrs...)
		return
	}
	d.Verbose("performance", attrs...)
}

// LogAPICall reports an intercepted host call with sanitized arguments. A
// non-nil err is reported at ERROR.
func (d *Diagnostics) LogAPICall(method string, args []any, result any, err error) {
	level := LevelVerbose
	if err != nil {
		level = LevelError
	}
	if !d.ShouldLog(level) {
		return
	}

	attrs := []any{"method", method, "args", d.sanitizer.Sanitize(args)}
	if result != nil {
		attrs = append(attrs, "result", d.sanitizer.Sanitize(result))
	}
	if err != nil {
		attrs = append(attrs, "error", err)
		d.Error("api call failed", attrs...)
		return
	}
	d.Verbose("api call", attrs...)
}

// LogMessageEvent reports a pipeline event at DEBUG with sanitized data.
func (d *Diagnostics) LogMessageEvent(eventType string, data any) {
	if !d.ShouldLog(LevelDebug) {
		return
	}
	d.Debug("message event", "event_type", eventType, "data", d.sanitizer.Sanitize(data))
}

// DumpDebugInfo returns the current level, flags, metrics and settings, and
// emits them at INFO when logging is enabled.
func (d *Diagnostics) DumpDebugInfo() DebugInfo {
	info := DebugInfo{
		Level:    d.CurrentLevel().String(),
		Enabled:  d.Enabled(),
		Detailed: domain.SettingBool(d.settings, domain.SettingMessageLoggingDetailed),
		Metrics:  d.Metrics(),
		Settings: make(map[string]string),
	}
	for _, key := range []string{domain.SettingMessageLogging, domain.SettingMessageLoggingDetailed, domain.SettingMaxEntries} {
		if d.settings == nil {
			break
		}
		if v, ok := d.settings.Get(key); ok {
			info.Settings[key] = v
		}
	}

	if info.Enabled {
		d.Info("debug info",
			"level", info.Level,
			"detailed", info.Detailed,
			"messages_logged", info.Metrics.MessagesLogged,
			"errors_encountered", info.Metrics.ErrorsEncountered,
			"average_ms", info.Metrics.AverageMs,
			"settings", info.Settings,
		)
	}
	return info
}
