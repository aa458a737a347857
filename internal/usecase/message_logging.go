package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/V4T54L/msgtap/internal/adapter/metrics"
	"github.com/V4T54L/msgtap/internal/adapter/sanitize"
	"github.com/V4T54L/msgtap/internal/diag"
	"github.com/V4T54L/msgtap/internal/domain"
	"github.com/V4T54L/msgtap/internal/enrich"
	"github.com/V4T54L/msgtap/internal/interpose"
	"github.com/V4T54L/msgtap/internal/logstore"
	"github.com/V4T54L/msgtap/internal/tracker"
)

// maxContentLength bounds the content stored on an entry.
const maxContentLength = 500

// interposedSlots are the host client slots wrapped while logging is enabled.
var interposedSlots = []string{
	domain.SlotSendMessage,
	domain.SlotUpdateMessage,
	domain.SlotDeleteMessage,
}

// SnapshotTracker turns repeated observations of a message into transitions.
type SnapshotTracker interface {
	Observe(key string, msg domain.Message) tracker.Transition
	Sweep(live map[string]struct{}) int
	Reset()
	Len() int
}

// MessageLoggingDeps are the collaborators of MessageLoggingUseCase. Store,
// Holder, Settings and Log are required; the rest default to no-op or fresh
// instances.
type MessageLoggingDeps struct {
	Store      domain.ConversationStore
	Holder     interpose.Holder
	Settings   domain.Settings
	Log        *logstore.Store
	Tracker    SnapshotTracker
	Interposer *interpose.Interposer
	Enricher   *enrich.Service
	Diag       *diag.Diagnostics
	Sanitizer  *sanitize.Sanitizer
	Metrics    *metrics.PipelineMetrics
	Logger     *slog.Logger
}

// MessageLoggingUseCase turns host activity into log entries. It observes
// the conversation graph and interposes the host client's message calls
// while the MESSAGE_LOGGING setting is on.
type MessageLoggingUseCase struct {
	store      domain.ConversationStore
	holder     interpose.Holder
	settings   domain.Settings
	log        *logstore.Store
	tracker    SnapshotTracker
	interposer *interpose.Interposer
	enricher   *enrich.Service
	diag       *diag.Diagnostics
	sanitizer  *sanitize.Sanitizer
	metrics    *metrics.PipelineMetrics
	logger     *slog.Logger

	mu          sync.Mutex
	enabled     bool
	unsubscribe func()

	listenersMu  sync.RWMutex
	listeners    map[int]func(domain.LogEntry)
	nextListener int

	inflight sync.WaitGroup
}

// NewMessageLoggingUseCase creates the use case in the disabled state. Call
// Reload to apply the current settings.
func NewMessageLoggingUseCase(deps MessageLoggingDeps) *MessageLoggingUseCase {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	uc := &MessageLoggingUseCase{
		store:      deps.Store,
		holder:     deps.Holder,
		settings:   deps.Settings,
		log:        deps.Log,
		tracker:    deps.Tracker,
		interposer: deps.Interposer,
		enricher:   deps.Enricher,
		diag:       deps.Diag,
		sanitizer:  deps.Sanitizer,
		metrics:    deps.Metrics,
		logger:     logger.With("component", "message_logging"),
		listeners:  make(map[int]func(domain.LogEntry)),
	}
	if uc.tracker == nil {
		uc.tracker = tracker.New()
	}
	if uc.interposer == nil {
		uc.interposer = interpose.New(logger)
	}
	if uc.sanitizer == nil {
		uc.sanitizer = sanitize.NewSanitizer(nil, logger)
	}
	if uc.diag == nil {
		discard := slog.NewTextHandler(io.Discard, nil)
		uc.diag = diag.New(deps.Settings, discard, discard, uc.sanitizer)
	}
	return uc
}

// Reload applies every setting the use case reads.
func (uc *MessageLoggingUseCase) Reload() {
	uc.applyCapacity()
	uc.applyToggle()
}

// OnSettingChanged applies a single changed setting. It is meant to be
// registered with SettingsRepository.Watch.
func (uc *MessageLoggingUseCase) OnSettingChanged(key string) {
	switch key {
	case domain.SettingMessageLogging:
		uc.applyToggle()
	case domain.SettingMaxEntries:
		uc.applyCapacity()
	case domain.SettingMessageLoggingDetailed:
		uc.diag.Debug("detailed logging toggled",
			"detailed", domain.SettingBool(uc.settings, domain.SettingMessageLoggingDetailed))
	}
}

func (uc *MessageLoggingUseCase) applyCapacity() {
	n := domain.SettingInt(uc.settings, domain.SettingMaxEntries, logstore.DefaultCapacity)
	uc.log.SetCapacity(n)
}

func (uc *MessageLoggingUseCase) applyToggle() {
	if domain.SettingBool(uc.settings, domain.SettingMessageLogging) {
		uc.enable()
		return
	}
	uc.disable()
}

// Enabled reports whether logging is currently active.
func (uc *MessageLoggingUseCase) Enabled() bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.enabled
}

func (uc *MessageLoggingUseCase) enable() {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.enabled {
		return
	}

	uc.unsubscribe = uc.store.SubscribeConversations(uc.handleConversations)

	installed := 0
	for _, slot := range interposedSlots {
		h := uc.interposer.Install(uc.holder, slot, func(original interpose.Callable) interpose.Callable {
			return interpose.Wrap(original, uc.hooks(slot))
		})
		if h != nil {
			installed++
		}
	}

	uc.enabled = true
	uc.logger.Info("message logging enabled", "slots", installed)
	uc.diag.Info("message logging enabled", "slots", installed)
}

func (uc *MessageLoggingUseCase) disable() {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if !uc.enabled {
		return
	}

	if uc.unsubscribe != nil {
		uc.unsubscribe()
		uc.unsubscribe = nil
	}
	for _, slot := range interposedSlots {
		uc.interposer.Restore(uc.holder, slot)
	}
	tracked := uc.tracker.Len()
	uc.tracker.Reset()

	uc.enabled = false
	uc.logger.Info("message logging disabled", "tracked_messages", tracked)
	// Diagnostics are gated on the same setting, so this is usually silent.
	uc.diag.Info("message logging disabled")
}

// Drain waits for in-flight enrichment and appends, or for ctx.
func (uc *MessageLoggingUseCase) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		uc.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining message log: %w", ctx.Err())
	}
}

// Close disables logging regardless of settings and drains in-flight work.
func (uc *MessageLoggingUseCase) Close(ctx context.Context) error {
	uc.disable()
	return uc.Drain(ctx)
}

// OnAppend registers fn to be called with every appended entry. fn runs on
// the appending goroutine and must not block.
func (uc *MessageLoggingUseCase) OnAppend(fn func(domain.LogEntry)) (cancel func()) {
	uc.listenersMu.Lock()
	id := uc.nextListener
	uc.nextListener++
	uc.listeners[id] = fn
	uc.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			uc.listenersMu.Lock()
			delete(uc.listeners, id)
			uc.listenersMu.Unlock()
		})
	}
}

// goTracked runs fn off the caller's path. Drain waits for it.
func (uc *MessageLoggingUseCase) goTracked(op string, fn func()) {
	uc.inflight.Add(1)
	go func() {
		defer uc.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				uc.logger.Error("message logging task panicked", "operation", op, "error", fmt.Sprint(r))
				uc.diag.Error("message logging task panicked", "operation", op, "error", fmt.Sprint(r))
			}
		}()
		fn()
	}()
}

// record appends entry and fans it out to diagnostics and listeners.
func (uc *MessageLoggingUseCase) record(entry domain.LogEntry) domain.LogEntry {
	stored := uc.log.Append(entry)

	if domain.SettingBool(uc.settings, domain.SettingMessageLoggingDetailed) {
		uc.diag.Info(logstore.FormatEntry(stored),
			"message_id", stored.MessageID,
			"timestamp", stored.Timestamp)
	}
	uc.diag.LogMessageEvent(string(stored.Type), stored)

	uc.listenersMu.RLock()
	defer uc.listenersMu.RUnlock()
	for _, fn := range uc.listeners {
		uc.safeNotify(fn, stored)
	}
	return stored
}

func (uc *MessageLoggingUseCase) safeNotify(fn func(domain.LogEntry), e domain.LogEntry) {
	defer func() {
		if r := recover(); r != nil {
			uc.logger.Error("append listener panicked", "error", fmt.Sprint(r))
		}
	}()
	fn(e)
}

// conversationTitle is a synchronous, best-effort lookup.
func (uc *MessageLoggingUseCase) conversationTitle(conversationID string) (title string) {
	defer func() {
		if r := recover(); r != nil {
			title = ""
		}
	}()
	if conversationID == "" {
		return ""
	}
	conv, ok := uc.store.Conversation(conversationID)
	if !ok {
		return ""
	}
	return conv.Title
}

// Logs returns up to limit entries, newest first, optionally restricted to
// one conversation. limit <= 0 means all.
func (uc *MessageLoggingUseCase) Logs(conversationID string, limit int) []domain.LogEntry {
	return uc.log.Query(domain.LogFilter{
		ConversationID: conversationID,
		Limit:          limit,
		NewestFirst:    true,
	})
}

// Query returns the entries matching f.
func (uc *MessageLoggingUseCase) Query(f domain.LogFilter) []domain.LogEntry {
	return uc.log.Query(f)
}

// ExportLogs renders the whole log as pretty-printed JSON.
func (uc *MessageLoggingUseCase) ExportLogs() string {
	return uc.log.Export(domain.LogFilter{})
}

// ExportFilteredLogs renders the entries matching f as pretty-printed JSON.
func (uc *MessageLoggingUseCase) ExportFilteredLogs(f domain.LogFilter) string {
	return uc.log.Export(f)
}

// ClearLogs empties the log.
func (uc *MessageLoggingUseCase) ClearLogs() {
	previous := uc.log.Len()
	uc.log.Clear()
	uc.diag.Info("message logs cleared", "previous_count", previous)
}

// Stats aggregates the entries matching f.
func (uc *MessageLoggingUseCase) Stats(f domain.LogFilter) domain.LogStats {
	return uc.log.Stats(f)
}

// SetMaxEntries changes the log capacity and returns the effective value.
func (uc *MessageLoggingUseCase) SetMaxEntries(n int) int {
	effective := uc.log.SetCapacity(n)
	uc.diag.Info("max log entries updated", "requested", n, "max_entries", effective)
	return effective
}

// PersistMaxEntries applies n like SetMaxEntries and, when the settings are
// writable, stores the effective value under MESSAGE_LOGGING_MAX_ENTRIES so a
// later reload keeps it.
func (uc *MessageLoggingUseCase) PersistMaxEntries(ctx context.Context, n int) (int, error) {
	effective := uc.SetMaxEntries(n)
	repo, ok := uc.settings.(domain.SettingsRepository)
	if !ok {
		return effective, nil
	}
	if err := repo.Set(ctx, domain.SettingMaxEntries, strconv.Itoa(effective)); err != nil {
		return effective, fmt.Errorf("failed to persist max entries: %w", err)
	}
	return effective, nil
}

// Search returns entries whose text fields contain query.
func (uc *MessageLoggingUseCase) Search(query string, f domain.LogFilter) []domain.LogEntry {
	return uc.log.Search(query, f)
}

// Recent returns entries appended within window, newest first.
func (uc *MessageLoggingUseCase) Recent(window time.Duration) []domain.LogEntry {
	return uc.log.Recent(window)
}

// Diagnostics exposes the facade used for the pipeline's own reporting.
func (uc *MessageLoggingUseCase) Diagnostics() *diag.Diagnostics {
	return uc.diag
}

// MaxEntries returns the current log capacity.
func (uc *MessageLoggingUseCase) MaxEntries() int {
	return uc.log.Capacity()
}

// Status summarizes the logger's state.
type Status struct {
	Enabled         bool `json:"enabled"`
	Detailed        bool `json:"detailed"`
	MaxEntries      int  `json:"max_entries"`
	Entries         int  `json:"entries"`
	TrackedMessages int  `json:"tracked_messages"`
	InterposedSlots int  `json:"interposed_slots"`
}

// Status reports the current state.
func (uc *MessageLoggingUseCase) Status() Status {
	return Status{
		Enabled:         uc.Enabled(),
		Detailed:        domain.SettingBool(uc.settings, domain.SettingMessageLoggingDetailed),
		MaxEntries:      uc.log.Capacity(),
		Entries:         uc.log.Len(),
		TrackedMessages: uc.tracker.Len(),
		InterposedSlots: uc.interposedCount(),
	}
}

func (uc *MessageLoggingUseCase) interposedCount() int {
	n := 0
	for _, slot := range interposedSlots {
		if uc.interposer.Active(uc.holder, slot) {
			n++
		}
	}
	return n
}
