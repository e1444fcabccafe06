package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/reverie-labs/reverie/internal/observability"
	"github.com/reverie-labs/reverie/internal/tracing"
	"github.com/reverie-labs/reverie/pkg/fsm"
	"github.com/reverie-labs/reverie/pkg/provider"
	"github.com/reverie-labs/reverie/pkg/toolrouter"
	"github.com/rs/zerolog"
)

// States of the reasoning loop.
const (
	StateIdle         fsm.State = "idle"
	StateAnalyzing    fsm.State = "analyzing"
	StateDeliberating fsm.State = "deliberating"
	StateActing       fsm.State = "acting"
	StateReviewing    fsm.State = "reviewing"
	StateRecovering   fsm.State = "recovering"
	StateResponding   fsm.State = "responding"
)

// Events driving the loop.
const (
	EventStart           fsm.Event = "Start"
	EventContextFetched  fsm.Event = "ContextFetched"
	EventReasoningDone   fsm.Event = "ReasoningDone"
	EventReasoningFailed fsm.Event = "ReasoningFailed"
	EventToolsDone       fsm.Event = "ToolsDone"
	EventReviewed        fsm.Event = "Reviewed"
	EventRecovered       fsm.Event = "Recovered"
	EventRecoveryFailed  fsm.Event = "RecoveryFailed"
	EventDelivered       fsm.Event = "Delivered"
)

var (
	// ErrStopped is returned by HandleInput after Stop.
	ErrStopped = errors.New("engine is stopped")
	// ErrBusy is returned by HandleInput when the input queue is full.
	ErrBusy = errors.New("engine input queue is full")
)

const (
	defaultContextTimeout   = 10 * time.Second
	defaultReasoningTimeout = 30 * time.Second
	defaultToolTimeout      = 30 * time.Second
	defaultMaxPasses        = 10
	inputQueueSize          = 16
)

// Assembler builds the token-budgeted context string for one turn.
type Assembler interface {
	AssembleContext(ctx context.Context, sessionID, query string) (string, error)
}

// ToolRunner exposes the routable tools and executes them.
// *toolrouter.Router satisfies it.
type ToolRunner interface {
	Tools(ctx context.Context) []provider.ToolSpec
	Execute(ctx context.Context, name string, args map[string]any) toolrouter.Output
}

// Responder delivers the final reply of a run, e.g. to a gateway
// publish or a transcript recorder. Delivery is best effort.
type Responder func(ctx context.Context, sessionID, text string)

// Recoverer produces the apology text for a failed run. The default
// composes one deterministically from the recorded error.
type Recoverer func(ctx context.Context, lastError string) (string, error)

// Config wires one engine instance.
type Config struct {
	SessionID string
	Assembler Assembler
	Provider  provider.Provider
	Tools     ToolRunner
	Responder Responder
	Recoverer Recoverer
	Logger    zerolog.Logger

	ContextTimeout   time.Duration
	ReasoningTimeout time.Duration
	ToolTimeout      time.Duration
	MaxPasses        int
}

type inputEvent struct {
	sessionID string
	input     string
}

// DecisionEngine runs the reasoning loop for a single session. All
// state transitions execute on the engine's own goroutine.
type DecisionEngine struct {
	cfg     Config
	logger  zerolog.Logger
	machine *fsm.Machine[*AgentContext]

	inputCh chan inputEvent
	stopCh  chan struct{}

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func transitionTable() []fsm.Rule[*AgentContext] {
	requiresTool := func(ac *AgentContext) bool { return ac.requiresTool() }

	return []fsm.Rule[*AgentContext]{
		{From: StateIdle, On: EventStart, To: StateAnalyzing},
		{From: StateAnalyzing, On: EventContextFetched, To: StateDeliberating},
		{From: StateDeliberating, On: EventReasoningDone, Guard: requiresTool, To: StateActing},
		{From: StateDeliberating, On: EventReasoningDone, To: StateResponding},
		{From: StateDeliberating, On: EventReasoningFailed, To: StateRecovering},
		{From: StateActing, On: EventToolsDone, To: StateReviewing},
		{From: StateReviewing, On: EventReviewed, To: StateDeliberating},
		{From: StateRecovering, On: EventRecovered, To: StateResponding},
		{From: StateRecovering, On: EventRecoveryFailed, To: StateIdle},
		{From: StateResponding, On: EventDelivered, To: StateIdle},
	}
}

// New creates a stopped engine for one session.
func New(cfg Config) (*DecisionEngine, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if cfg.Assembler == nil {
		return nil, fmt.Errorf("assembler is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.ContextTimeout <= 0 {
		cfg.ContextTimeout = defaultContextTimeout
	}
	if cfg.ReasoningTimeout <= 0 {
		cfg.ReasoningTimeout = defaultReasoningTimeout
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaultToolTimeout
	}
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = defaultMaxPasses
	}
	if cfg.Recoverer == nil {
		cfg.Recoverer = defaultRecoverer
	}

	observability.EnsureRegistered()

	machine, err := fsm.New(StateIdle, transitionTable())
	if err != nil {
		return nil, err
	}

	return &DecisionEngine{
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("session_id", cfg.SessionID).Logger(),
		machine: machine,
		inputCh: make(chan inputEvent, inputQueueSize),
		stopCh:  make(chan struct{}),
	}, nil
}

func defaultRecoverer(ctx context.Context, lastError string) (string, error) {
	return fmt.Sprintf("I'm sorry, I ran into a problem and couldn't finish that request (%s). Please try again.", lastError), nil
}

// Start launches the engine goroutine. Only the first call has effect.
func (e *DecisionEngine) Start() {
	e.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		e.cancelMu.Lock()
		e.cancel = cancel
		e.cancelMu.Unlock()

		e.wg.Add(1)
		go e.loop(ctx)
		e.logger.Debug().Msg("Engine started")
	})
}

// Stop halts the engine, cancelling any in-flight call. Safe to call
// multiple times; blocks until the engine goroutine has exited.
func (e *DecisionEngine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.cancelMu.Lock()
		if e.cancel != nil {
			e.cancel()
		}
		e.cancelMu.Unlock()
	})
	e.wg.Wait()
}

// HandleInput posts a start event. Completion is asynchronous: the
// final text is delivered through the configured Responder, not a
// return value.
func (e *DecisionEngine) HandleInput(sessionID, input string) error {
	select {
	case <-e.stopCh:
		return ErrStopped
	default:
	}

	select {
	case e.inputCh <- inputEvent{sessionID: sessionID, input: input}:
		return nil
	case <-e.stopCh:
		return ErrStopped
	default:
		return ErrBusy
	}
}

func (e *DecisionEngine) loop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case ev := <-e.inputCh:
			e.run(ctx, ev)
		}
	}
}

// run drives one input from idle back to idle.
func (e *DecisionEngine) run(ctx context.Context, ev inputEvent) {
	start := time.Now()

	runID, err := gonanoid.New(10)
	if err != nil {
		runID = fmt.Sprintf("run-%d", start.UnixNano())
	}

	ctx = tracing.WithSessionID(ctx, ev.sessionID)
	ctx = tracing.WithRunID(ctx, runID)
	ctx, span := tracing.StartSpan(ctx, "engine", "engine.run")
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger)

	ac := &AgentContext{
		SessionID: ev.sessionID,
		RunID:     runID,
		Input:     ev.input,
		History:   []string{"user: " + ev.input},
	}

	e.machine.Reset(StateIdle)
	e.fire(EventStart, ac, logger)

	outcome := "ok"
	for e.machine.State() != StateIdle {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("Run cancelled")
			observability.RecordEngineRun("cancelled", time.Since(start))
			return
		default:
		}

		switch e.machine.State() {
		case StateAnalyzing:
			e.analyze(ctx, ac, logger)
		case StateDeliberating:
			e.deliberate(ctx, ac, logger)
		case StateActing:
			e.act(ctx, ac, logger)
		case StateReviewing:
			e.review(ac, logger)
		case StateRecovering:
			outcome = "recovered"
			if !e.recover(ctx, ac, logger) {
				outcome = "failed"
			}
		case StateResponding:
			e.respond(ctx, ac, logger)
		}
	}

	observability.RecordEngineRun(outcome, time.Since(start))
	logger.Info().
		Str("outcome", outcome).
		Int("passes", ac.passes).
		Dur("duration", time.Since(start)).
		Msg("Run finished")
}

func (e *DecisionEngine) fire(event fsm.Event, ac *AgentContext, logger zerolog.Logger) {
	from := e.machine.State()
	to, err := e.machine.Fire(event, ac)
	if err != nil {
		// The handlers only fire events declared in the table, so this
		// is a programming error worth a loud log.
		logger.Error().Err(err).Str("from", string(from)).Str("event", string(event)).Msg("Invalid transition")
		e.machine.Reset(StateIdle)
		return
	}
	observability.RecordTransition(string(from), string(to))
	logger.Debug().Str("from", string(from)).Str("to", string(to)).Str("event", string(event)).Msg("Transition")
}

// analyze fetches the assembled context. Failure or timeout degrades
// the run but never blocks it.
func (e *DecisionEngine) analyze(ctx context.Context, ac *AgentContext, logger zerolog.Logger) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.ContextTimeout)
	defer cancel()

	assembled, err := e.cfg.Assembler.AssembleContext(fetchCtx, ac.SessionID, ac.Input)
	if err != nil {
		marker := "context fetch failed"
		if errors.Is(err, context.DeadlineExceeded) {
			marker = "context fetch timeout"
		}
		ac.LastError = fmt.Sprintf("%s: %v", marker, err)
		logger.Warn().Err(err).Msg("Context fetch degraded")
	} else {
		ac.ContextString = assembled
	}

	e.fire(EventContextFetched, ac, logger)
}

// deliberate asks the model to reason over the context and the input,
// plus any tool outputs from earlier passes.
func (e *DecisionEngine) deliberate(ctx context.Context, ac *AgentContext, logger zerolog.Logger) {
	if ac.passes >= e.cfg.MaxPasses {
		ac.LastError = fmt.Sprintf("tool pass limit reached (%d)", e.cfg.MaxPasses)
		logger.Warn().Int("passes", ac.passes).Msg("Pass limit reached")
		e.fire(EventReasoningFailed, ac, logger)
		return
	}
	ac.passes++

	var tools []provider.ToolSpec
	if e.cfg.Tools != nil {
		tools = e.cfg.Tools.Tools(ctx)
	}

	reasonCtx, cancel := context.WithTimeout(ctx, e.cfg.ReasoningTimeout)
	defer cancel()

	genStart := time.Now()
	result, err := e.cfg.Provider.Generate(reasonCtx, provider.Request{
		System: ac.ContextString,
		Prompt: e.buildPrompt(ac),
		Tools:  tools,
	})
	observability.RecordGenerate(e.cfg.Provider.Name(), time.Since(genStart))
	if err != nil {
		marker := "reasoning failed"
		if errors.Is(err, context.DeadlineExceeded) {
			marker = "reasoning timeout"
		}
		ac.LastError = fmt.Sprintf("%s: %v", marker, err)
		logger.Warn().Err(err).Msg("Reasoning call failed")
		e.fire(EventReasoningFailed, ac, logger)
		return
	}

	if result.Text != "" {
		ac.Thoughts = append(ac.Thoughts, result.Text)
	}

	if result.HasToolCalls() {
		ac.ToolCalls = result.ToolCalls
	} else {
		ac.ToolCalls = nil
		ac.Response = result.Text
	}
	e.fire(EventReasoningDone, ac, logger)
}

// buildPrompt renders the user input plus the outputs of any tool
// passes already taken this run.
func (e *DecisionEngine) buildPrompt(ac *AgentContext) string {
	if len(ac.ToolOutputs) == 0 {
		return ac.Input
	}

	var b strings.Builder
	b.WriteString(ac.Input)
	b.WriteString("\n\nTool results so far:")
	for _, tr := range ac.ToolOutputs {
		b.WriteString("\n- ")
		b.WriteString(tr.Name)
		if tr.Output.IsError {
			b.WriteString(" (error)")
		}
		b.WriteString(": ")
		b.WriteString(tr.Output.Content)
	}
	return b.String()
}

// act executes every pending tool call. A call that exceeds the tool
// timeout is recorded as a synthetic timeout output; failures never
// abort the loop.
func (e *DecisionEngine) act(ctx context.Context, ac *AgentContext, logger zerolog.Logger) {
	for _, tc := range ac.ToolCalls {
		out := e.executeTool(ctx, tc)
		ac.ToolOutputs = append(ac.ToolOutputs, ToolResult{Name: tc.Name, Output: out})
		if out.IsError {
			logger.Warn().Str("tool", tc.Name).Str("output", out.Content).Msg("Tool call failed")
		}
	}
	e.fire(EventToolsDone, ac, logger)
}

func (e *DecisionEngine) executeTool(ctx context.Context, tc provider.ToolCall) toolrouter.Output {
	if e.cfg.Tools == nil {
		return toolrouter.Output{Content: "no tool runner configured", IsError: true}
	}

	toolCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	defer cancel()

	done := make(chan toolrouter.Output, 1)
	go func() {
		done <- e.cfg.Tools.Execute(toolCtx, tc.Name, tc.Args)
	}()

	select {
	case out := <-done:
		return out
	case <-toolCtx.Done():
		return toolrouter.Output{
			Content: fmt.Sprintf("timeout: tool %s did not finish within %s", tc.Name, e.cfg.ToolTimeout),
			IsError: true,
		}
	}
}

// review hands the tool outputs back for another reasoning pass.
func (e *DecisionEngine) review(ac *AgentContext, logger zerolog.Logger) {
	ac.ToolCalls = nil
	e.fire(EventReviewed, ac, logger)
}

// recover produces an apology for the recorded error. Returns false
// when recovery itself failed and the run ended terminally.
func (e *DecisionEngine) recover(ctx context.Context, ac *AgentContext, logger zerolog.Logger) bool {
	apology, err := e.cfg.Recoverer(ctx, ac.LastError)
	if err != nil {
		logger.Error().Err(err).Msg("Recovery failed")
		ac.Response = "I was unable to recover from an internal error. Please start a new conversation."
		e.deliver(ctx, ac, logger)
		e.fire(EventRecoveryFailed, ac, logger)
		return false
	}

	ac.Response = apology
	e.fire(EventRecovered, ac, logger)
	return true
}

func (e *DecisionEngine) respond(ctx context.Context, ac *AgentContext, logger zerolog.Logger) {
	e.deliver(ctx, ac, logger)
	e.fire(EventDelivered, ac, logger)
}

func (e *DecisionEngine) deliver(ctx context.Context, ac *AgentContext, logger zerolog.Logger) {
	ac.History = append(ac.History, "assistant: "+ac.Response)
	if e.cfg.Responder != nil {
		e.cfg.Responder(ctx, ac.SessionID, ac.Response)
	}
	logger.Debug().Int("response_len", len(ac.Response)).Msg("Response delivered")
}
