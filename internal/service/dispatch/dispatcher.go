// Package dispatch runs the per-event reply cycle: decide, assemble, race the
// model against its deadline, write back to shared memory and deliver.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/tavern-link/backend/internal/config"
	"github.com/zhouzirui/tavern-link/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-link/backend/internal/model/event"
	speechmodel "github.com/zhouzirui/tavern-link/backend/internal/model/speech"
	"github.com/zhouzirui/tavern-link/backend/internal/observability"
	"github.com/zhouzirui/tavern-link/backend/internal/service/ai"
	"github.com/zhouzirui/tavern-link/backend/internal/service/prompt"
	"github.com/zhouzirui/tavern-link/backend/internal/service/speech"
	"github.com/zhouzirui/tavern-link/backend/internal/service/sticky"
	"github.com/zhouzirui/tavern-link/backend/internal/service/trigger"
)

// State is a step of the reply cycle.
type State string

const (
	StateDeciding      State = "deciding"
	StateAssembling    State = "assembling"
	StateAwaitingModel State = "awaiting_model"
	StateDelivering    State = "delivering"
	StateFailed        State = "failed"
	StateDone          State = "done"
)

// Outcome summarizes a finished cycle.
type Outcome string

const (
	OutcomeIgnored Outcome = "ignored"
	OutcomeReplied Outcome = "replied"
	OutcomeFailed  Outcome = "failed"
)

// Result describes one cycle. State is the last state entered before Done.
// A replied cycle carries ReasonPersistenceFailure when the write-back did not reach storage.
type Result struct {
	State   State
	Outcome Outcome
	Reason  Reason
	Reply   string
	Parts   []speech.Part
}

// Settings supplies the live chat settings.
type Settings interface {
	Snapshot() config.ChatSettings
}

// Assembler builds model input for a cycle.
type Assembler interface {
	Assemble(ctx context.Context, characterID, text string, windowLimit int) (prompt.Assembly, error)
}

// Memory is the write side of the shared memory store.
type Memory interface {
	Append(ctx context.Context, role chat.Role, content string) chat.Turn
	InSync() bool
}

// Ledger is the write side of the sticky-trigger ledger.
type Ledger interface {
	Refresh(ctx context.Context, conversationID string, triggered []sticky.Trigger)
	InSync() bool
}

// Rewriter post-processes model replies.
type Rewriter interface {
	Process(text string) string
}

// Synthesizer renders voice parts.
type Synthesizer interface {
	Enabled() bool
	Synthesize(ctx context.Context, text string) (speechmodel.Audio, error)
}

// Transport delivers messages to chat targets.
type Transport interface {
	SendText(ctx context.Context, target event.Target, text string) error
	SendAudio(ctx context.Context, target event.Target, audio speechmodel.Audio) error
}

// Sleeper pauses between deliveries. Pauses are not cancellable.
type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

const (
	segmentPause = 500 * time.Millisecond
	partPause    = 300 * time.Millisecond

	defaultQueueSize = 64
)

// Deps are the collaborators of a Dispatcher. Synthesizer may be nil.
type Deps struct {
	Settings    Settings
	Assembler   Assembler
	Model       ai.Client
	Rewriter    Rewriter
	Memory      Memory
	Ledger      Ledger
	Synthesizer Synthesizer
	Transport   Transport
}

// Dispatcher serializes reply cycles over the single shared conversation.
type Dispatcher struct {
	deps         Deps
	conversation string
	sleeper      Sleeper
	queue        chan event.Inbound
	metrics      *observability.Metrics
	logger       zerolog.Logger

	// mu spans Assembling through Delivering.
	mu sync.Mutex
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithSleeper replaces the pacing clock.
func WithSleeper(s Sleeper) Option {
	return func(d *Dispatcher) { d.sleeper = s }
}

// WithQueueSize sets the inbound queue capacity used by Enqueue.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan event.Inbound, n)
		}
	}
}

// WithMetrics records cycle outcomes and latencies.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New validates deps and builds a Dispatcher for the global conversation.
func New(deps Deps, opts ...Option) (*Dispatcher, error) {
	switch {
	case deps.Settings == nil:
		return nil, errors.New("dispatch: settings are required")
	case deps.Assembler == nil:
		return nil, errors.New("dispatch: assembler is required")
	case deps.Model == nil:
		return nil, errors.New("dispatch: model client is required")
	case deps.Memory == nil || deps.Ledger == nil:
		return nil, errors.New("dispatch: memory and ledger are required")
	case deps.Transport == nil:
		return nil, errors.New("dispatch: transport is required")
	}

	d := &Dispatcher{
		deps:         deps,
		conversation: chat.GlobalConversation,
		sleeper:      realSleeper{},
		queue:        make(chan event.Inbound, defaultQueueSize),
		logger:       log.With().Str("component", "dispatch").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Enqueue hands an event to the worker without blocking. It reports false
// when the event carries no text or the queue is full and the event was dropped.
func (d *Dispatcher) Enqueue(ev event.Inbound) bool {
	if !ev.HasText() {
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.logger.Warn().Str("target", ev.Target().String()).Msg("dispatch queue full, dropping event")
		return false
	}
}

// Run processes queued events one at a time in arrival order until ctx ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-d.queue:
			d.Handle(ctx, ev)
		}
	}
}

// Handle runs one full cycle for ev.
func (d *Dispatcher) Handle(ctx context.Context, ev event.Inbound) Result {
	settings := d.deps.Settings.Snapshot()

	if !trigger.Decide(trigger.InputFor(ev, settings)) {
		return d.finish(Result{State: StateDeciding, Outcome: OutcomeIgnored})
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	target := ev.Target()
	text := ev.ContextText()
	logger := d.logger.With().Str("target", target.String()).Logger()
	logger.Info().Str("text", truncate(text, 100)).Msg("message received")
	logger.Debug().Str("text", text).Msg("full message")

	assembly, err := d.deps.Assembler.Assemble(ctx, settings.DefaultCharacter, text, settings.HistoryLimit)
	if err != nil {
		logger.Error().Err(err).Msg("context assembly failed")
		d.notify(ctx, logger, target, Notice(ReasonAssemblyError, 0))
		return d.finish(Result{State: StateAssembling, Outcome: OutcomeFailed, Reason: ReasonAssemblyError})
	}
	logTriggered(logger, assembly.Triggered)

	timeout := settings.AITimeout()
	reply, err := d.callModel(ctx, assembly.Messages, timeout)
	if err != nil {
		reason := Classify(err)
		var deadline time.Duration
		if reason == ReasonModelTimeout && errors.Is(err, context.DeadlineExceeded) {
			deadline = timeout
		}
		logger.Error().Err(err).Str("reason", string(reason)).Msg("model call failed")
		d.notify(ctx, logger, target, Notice(reason, deadline))
		return d.finish(Result{State: StateAwaitingModel, Outcome: OutcomeFailed, Reason: reason})
	}

	rewritten := reply
	if d.deps.Rewriter != nil {
		rewritten = d.deps.Rewriter.Process(reply)
	}

	d.deps.Memory.Append(ctx, chat.RoleUser, text)
	d.deps.Memory.Append(ctx, chat.RoleAssistant, rewritten)
	d.deps.Ledger.Refresh(ctx, d.conversation, newTriggers(assembly.Triggered))

	reason := ReasonNone
	if !d.deps.Memory.InSync() || !d.deps.Ledger.InSync() {
		reason = ReasonPersistenceFailure
		logger.Warn().Str("reason", string(reason)).Msg("write-back not persisted, continuing from memory")
	}

	logger.Info().Str("reply", truncate(rewritten, 50)).Msg("reply ready")

	parts := speech.SplitVoiceTags(rewritten)
	d.deliver(ctx, logger, target, parts, settings)

	return d.finish(Result{State: StateDelivering, Outcome: OutcomeReplied, Reason: reason, Reply: rewritten, Parts: parts})
}

type modelResult struct {
	reply string
	err   error
}

// callModel makes one attempt bounded by timeout. A reply arriving after the
// deadline lands in the buffered channel and is dropped.
func (d *Dispatcher) callModel(ctx context.Context, messages []*schema.Message, timeout time.Duration) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan modelResult, 1)
	start := time.Now()
	go func() {
		reply, err := d.deps.Model.Chat(callCtx, messages)
		done <- modelResult{reply: reply, err: err}
	}()

	select {
	case res := <-done:
		d.metrics.ObserveModelLatency(time.Since(start))
		if res.err != nil {
			return "", res.err
		}
		if strings.TrimSpace(res.reply) == "" {
			return "", ai.ErrEmptyReply
		}
		return res.reply, nil
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("no reply within %s: %w", timeout, context.DeadlineExceeded)
	}
}

// notify sends a failure notice; its own failure is only logged.
func (d *Dispatcher) notify(ctx context.Context, logger zerolog.Logger, target event.Target, notice string) {
	if err := d.deps.Transport.SendText(ctx, target, notice); err != nil {
		d.metrics.DeliveryFailed("notice")
		logger.Error().Err(err).Msg("failed to send failure notice")
	}
}

func (d *Dispatcher) finish(res Result) Result {
	d.metrics.ObserveOutcome(string(res.Outcome), string(res.Reason))
	return res
}

// newTriggers keeps the entries matched by keyword this cycle. Entries that
// were only carried by the ledger are left to decay.
func newTriggers(entries []prompt.TriggeredEntry) []sticky.Trigger {
	var out []sticky.Trigger
	for _, e := range entries {
		if e.TriggeredByKeyword && e.Sticky > 0 {
			out = append(out, sticky.Trigger{Key: e.Key, Duration: e.Sticky})
		}
	}
	return out
}

func logTriggered(logger zerolog.Logger, entries []prompt.TriggeredEntry) {
	keyword, carried := 0, 0
	for _, e := range entries {
		if e.TriggeredByKeyword {
			keyword++
		}
		if e.TriggeredBySticky {
			carried++
		}
	}
	logger.Info().Int("entries", len(entries)).Int("keyword", keyword).Int("sticky", carried).Msg("world book matched")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
