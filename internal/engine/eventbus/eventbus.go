// Package eventbus implements the engine's single event channel and the
// per-item loggers that feed it: exec_started/exec_finished, message
// events, flash (jump) notifications, and synchronous prompts.
package eventbus

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EventType is the exhaustive set of events the engine emits.
type EventType string

const (
	ExecStarted             EventType = "exec_started"
	ExecFinished            EventType = "exec_finished"
	EventMsg                EventType = "event_msg"
	ProcessMsg              EventType = "process_msg"
	StandardExecutionMsg    EventType = "standard_execution_msg"
	PersistentExecutionMsg  EventType = "persistent_execution_msg"
	KernelExecutionMsg      EventType = "kernel_execution_msg"
	Flash                   EventType = "flash"
	Prompt                  EventType = "prompt"
	ServerStatusMsg         EventType = "server_status_msg"
	DAGExecFinished         EventType = "dag_exec_finished"
)

// Payload is a free-form event payload, mirroring the original's dict.
type Payload map[string]any

// Event is one (type, payload) pair flowing through the bus.
type Event struct {
	Type    EventType
	Payload Payload
}

// Bus is the single FIFO channel every item logger publishes to, and the
// engine facade reads from via GetEvent.
type Bus struct {
	ch chan Event
}

// NewBus creates a bus with the given channel capacity.
func NewBus(capacity int) *Bus {
	return &Bus{ch: make(chan Event, capacity)}
}

// Put enqueues an event. Blocks if the channel is full — callers that must
// never block (scheduler dispatch) should size the bus generously.
func (b *Bus) Put(e Event) { b.ch <- e }

// Get blocks until an event is available.
func (b *Bus) Get() Event { return <-b.ch }

// Chan exposes the underlying channel for select-based consumption.
func (b *Bus) Chan() <-chan Event { return b.ch }

// Prompter is the exported name for the prompt dispatcher returned by
// NewPrompter, so callers outside this package can hold a reference
// without re-deriving it from a type-inferred local.
type Prompter = prompter

// prompter answers synchronous prompts: Ask blocks until Answer is called
// with the same prompter id.
type prompter struct {
	mu      sync.Mutex
	waitFor map[string]chan string
}

func newPrompter() *prompter {
	return &prompter{waitFor: map[string]chan string{}}
}

func (p *prompter) register(id string) chan string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan string, 1)
	p.waitFor[id] = ch
	return ch
}

func (p *prompter) answer(id, value string) error {
	p.mu.Lock()
	ch, ok := p.waitFor[id]
	if ok {
		delete(p.waitFor, id)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending prompt with id %q", id)
	}
	ch <- value
	return nil
}

// Logger is a per-item, per-filter-combination façade over the bus. A
// silent logger (used for the backward direction) drops everything except
// prompts, matching SuppressedMessage in the original.
type Logger struct {
	bus      *Bus
	itemName string
	filterID string
	silent   bool
	prompter *prompter
	cache    *lru.Cache[string, string]
}

// NewLogger builds an active logger for itemName, sharing bus and the
// engine-wide prompt cache/dispatcher.
func NewLogger(bus *Bus, itemName string, prompter *prompter, cache *lru.Cache[string, string]) *Logger {
	return &Logger{bus: bus, itemName: itemName, prompter: prompter, cache: cache}
}

// NewSilentLogger builds a silent logger for the backward direction.
func NewSilentLogger(bus *Bus, itemName string, prompter *prompter, cache *lru.Cache[string, string]) *Logger {
	return &Logger{bus: bus, itemName: itemName, silent: true, prompter: prompter, cache: cache}
}

// NewPrompter creates the shared synchronous-prompt dispatcher for one
// engine run, along with its bounded answer cache.
func NewPrompter(cacheSize int) (*prompter, *lru.Cache[string, string]) {
	cache, _ := lru.New[string, string](cacheSize)
	return newPrompter(), cache
}

// SetFilterID tags every subsequent message with filterID (propagates to
// every non-silent sub-message, matching QueueLogger.set_filter_id).
func (l *Logger) SetFilterID(filterID string) { l.filterID = filterID }

func (l *Logger) emit(eventType EventType, msgType, text string) {
	if l.silent {
		return
	}
	l.bus.Put(Event{Type: eventType, Payload: Payload{
		"item_name": l.itemName,
		"filter_id": l.filterID,
		"msg_type":  msgType,
		"msg_text":  text,
	}})
}

func (l *Logger) Msg(text string)        { l.emit(EventMsg, "msg", text) }
func (l *Logger) MsgSuccess(text string) { l.emit(EventMsg, "msg_success", text) }
func (l *Logger) MsgWarning(text string) { l.emit(EventMsg, "msg_warning", text) }
func (l *Logger) MsgError(text string)   { l.emit(EventMsg, "msg_error", text) }
func (l *Logger) MsgProc(text string)      { l.emit(ProcessMsg, "msg", text) }
func (l *Logger) MsgProcError(text string) { l.emit(ProcessMsg, "msg_error", text) }

func (l *Logger) MsgStandardExecution(text string)   { l.emit(StandardExecutionMsg, "", text) }
func (l *Logger) MsgPersistentExecution(text string) { l.emit(PersistentExecutionMsg, "", text) }
func (l *Logger) MsgKernelExecution(text string)     { l.emit(KernelExecutionMsg, "", text) }

// EmitFlash posts a flash event, active even for a silent logger (jump
// edges need to flash regardless of direction).
func (l *Logger) EmitFlash() {
	l.bus.Put(Event{Type: Flash, Payload: Payload{"item_name": l.itemName}})
}

// Ask posts a synchronous prompt and blocks until AnswerPrompt(id, ...) is
// called with a matching id. Identical prompts (same rendered key) are
// cached so the same question is asked at most once per engine run.
func (l *Logger) Ask(key string, data Payload) (string, error) {
	if cached, ok := l.cache.Get(key); ok {
		return cached, nil
	}
	id := fmt.Sprintf("%s#%d", l.itemName, len(key))
	ch := l.prompter.register(id)
	l.bus.Put(Event{Type: Prompt, Payload: Payload{"prompter_id": id, "data": data}})
	answer := <-ch
	l.cache.Add(key, answer)
	return answer, nil
}

// AnswerPrompt delivers an answer for a pending prompt id (called by the
// engine facade on behalf of the caller driving GetEvent/AnswerPrompt).
func AnswerPrompt(p *prompter, promptID, answer string) error {
	return p.answer(promptID, answer)
}
