package transcript

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/translate"
)

// dictationTranslateTimeout bounds the translation of a dictation entry,
// which outlives the request that produced it.
const dictationTranslateTimeout = 30 * time.Second

// job is one unit of FIFO work: the drafts of a flushed turn or a dictation.
type job struct {
	ctx    context.Context
	cancel context.CancelFunc
	drafts []Entry
}

// Aggregator collects the user and model transcription fragments of the
// current turn and turns them into [Entry] values when the turn completes.
//
// Flushed drafts are handed to a single worker goroutine that translates
// them (when enabled) and appends them to the [Log] strictly in flush order.
// A failed or cancelled translation still produces the entry, without a
// translation.
//
// All methods are safe for concurrent use. Call [Aggregator.Start] before
// flushing and [Aggregator.Stop] on shutdown.
type Aggregator struct {
	log        *Log
	translator translate.Translator
	metrics    *observe.Metrics
	now        func() time.Time
	newID      func() string
	translate  atomic.Bool

	mu    sync.Mutex
	user  strings.Builder
	model strings.Builder

	qmu     sync.Mutex
	queue   []job
	pending sync.WaitGroup
	wake    chan struct{}

	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

// Option configures an [Aggregator].
type Option func(*Aggregator)

// WithTranslator sets the translator used for flushed entries. Without one
// entries are never translated.
func WithTranslator(t translate.Translator) Option {
	return func(a *Aggregator) { a.translator = t }
}

// WithTranslation sets whether translation starts enabled. Default true.
func WithTranslation(enabled bool) Option {
	return func(a *Aggregator) { a.translate.Store(enabled) }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithClock overrides time.Now for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithIDGenerator overrides the UUID entry id generator.
func WithIDGenerator(fn func() string) Option {
	return func(a *Aggregator) { a.newID = fn }
}

// NewAggregator creates an Aggregator appending to log.
func NewAggregator(log *Log, opts ...Option) *Aggregator {
	a := &Aggregator{
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	a.translate.Store(true)
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Start launches the worker goroutine. Calling Start more than once has no
// effect.
func (a *Aggregator) Start() {
	if a.started.Swap(true) {
		return
	}
	go a.worker()
}

// Stop processes every queued job and then stops the worker. Safe to call
// multiple times.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		a.qmu.Lock()
		close(a.stop)
		a.qmu.Unlock()
		if a.started.Load() {
			<-a.done
			return
		}
		a.drain()
	})
}

// Log returns the transcript log entries are appended to.
func (a *Aggregator) Log() *Log { return a.log }

// SetTranslate enables or disables translation of future flushes.
func (a *Aggregator) SetTranslate(enabled bool) { a.translate.Store(enabled) }

// Translating reports whether translation is enabled.
func (a *Aggregator) Translating() bool {
	return a.translate.Load() && a.translator != nil
}

// AppendUser appends an input transcription fragment to the current turn.
func (a *Aggregator) AppendUser(fragment string) {
	a.mu.Lock()
	a.user.WriteString(fragment)
	a.mu.Unlock()
}

// AppendModel appends an output transcription fragment to the current turn.
func (a *Aggregator) AppendModel(fragment string) {
	a.mu.Lock()
	a.model.WriteString(fragment)
	a.mu.Unlock()
}

// Buffers returns the current, not yet flushed, turn text.
func (a *Aggregator) Buffers() (user, model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user.String(), a.model.String()
}

// Discard drops the current turn without producing entries.
func (a *Aggregator) Discard() {
	a.mu.Lock()
	a.user.Reset()
	a.model.Reset()
	a.mu.Unlock()
}

// CompleteTurn reads and resets both buffers atomically and queues one entry
// per non-empty buffer, user first. Translations run under ctx. It returns
// the number of entries queued.
func (a *Aggregator) CompleteTurn(ctx context.Context, sessionID string) int {
	a.mu.Lock()
	user := strings.TrimSpace(a.user.String())
	model := strings.TrimSpace(a.model.String())
	a.user.Reset()
	a.model.Reset()
	a.mu.Unlock()

	now := a.now()
	var drafts []Entry
	if user != "" {
		drafts = append(drafts, Entry{ID: a.newID(), SessionID: sessionID, Role: RoleUser, Text: user, CreatedAt: now})
	}
	if model != "" {
		drafts = append(drafts, Entry{ID: a.newID(), SessionID: sessionID, Role: RoleModel, Text: model, CreatedAt: now})
	}
	if len(drafts) > 0 {
		a.enqueue(job{ctx: ctx, drafts: drafts})
	}
	return len(drafts)
}

// AddDictation queues a single dictation entry, bypassing the turn buffers.
// Blank text is ignored and reported as false. The translation is detached
// from ctx's cancellation, so returning from the caller (an HTTP handler, for
// instance) does not drop it.
func (a *Aggregator) AddDictation(ctx context.Context, sessionID, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dictationTranslateTimeout)
	a.enqueue(job{ctx: ctx, cancel: cancel, drafts: []Entry{{
		ID:          a.newID(),
		SessionID:   sessionID,
		Role:        RoleUser,
		Text:        text,
		CreatedAt:   a.now(),
		IsDictation: true,
	}}})
	return true
}

// Wait blocks until every queued job has been appended to the log.
func (a *Aggregator) Wait() { a.pending.Wait() }

func (a *Aggregator) enqueue(j job) {
	a.qmu.Lock()
	select {
	case <-a.stop:
		a.qmu.Unlock()
		if j.cancel != nil {
			j.cancel()
		}
		slog.Warn("transcript aggregator stopped, dropping entries", "count", len(j.drafts))
		return
	default:
	}
	a.pending.Add(1)
	a.queue = append(a.queue, j)
	a.qmu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Aggregator) worker() {
	defer close(a.done)
	for {
		select {
		case <-a.wake:
			a.drain()
		case <-a.stop:
			a.drain()
			return
		}
	}
}

func (a *Aggregator) drain() {
	for {
		a.qmu.Lock()
		if len(a.queue) == 0 {
			a.qmu.Unlock()
			return
		}
		j := a.queue[0]
		a.queue[0] = job{}
		a.queue = a.queue[1:]
		a.qmu.Unlock()

		for _, e := range j.drafts {
			if a.Translating() {
				e.Translation = a.translateText(j.ctx, e.Text)
			}
			a.log.Append(e)
			a.metrics.RecordTranscriptEntry(j.ctx, string(e.Role), e.IsDictation)
		}
		if j.cancel != nil {
			j.cancel()
		}
		a.pending.Done()
	}
}

// translateText returns the translation of text or "" when none should be
// recorded. Failures are logged and swallowed.
func (a *Aggregator) translateText(ctx context.Context, text string) string {
	ctx, span := observe.StartSpan(ctx, observe.SpanTranslate)
	start := time.Now()
	out, ok, err := a.translator.Translate(ctx, text)
	a.metrics.TranslationDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)

	switch {
	case err == nil:
		a.metrics.RecordProviderRequest(ctx, "translator", "translate", "ok")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		slog.Debug("translation cancelled", "err", err)
		return ""
	default:
		a.metrics.RecordProviderRequest(ctx, "translator", "translate", "error")
		a.metrics.RecordProviderError(ctx, "translator", "translate")
		observe.Logger(ctx).Warn("translation failed, keeping entry untranslated", "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	return out
}
