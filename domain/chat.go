package domain

import (
	"errors"
	"sync"
)

type Role string

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
)

const (
	// GreetingText seeds every new or reset transcript.
	GreetingText = "안녕하세요! 무엇을 도와드릴까요?"

	// ApologyText replaces the reply when generation fails.
	ApologyText = "죄송합니다. 응답을 생성할 수 없습니다."

	// ErrorReplyPrefix starts the error-inclusive apology.
	ErrorReplyPrefix = "오류가 발생했습니다: "
)

var ErrCycleInProgress = errors.New("a reply is already being generated for this session")

// Turn is one message of a conversation. Turns are never edited once appended.
type Turn struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Transcript is the ordered history of one session. It is safe for
// concurrent use; each instance carries its own lock.
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn

	// cycle serialises reply cycles, separate from mu so that snapshots
	// stay readable while a generation call is pending.
	cycle sync.Mutex
}

// NewTranscript returns an initialized transcript holding the greeting.
func NewTranscript() *Transcript {
	t := &Transcript{}
	t.Initialize()
	return t
}

// Initialize seeds the greeting when the transcript is empty. It is a no-op
// otherwise.
func (t *Transcript) Initialize() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.turns) == 0 {
		t.turns = greeting()
	}
}

func (t *Transcript) AppendTurn(role Role, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.turns = append(t.turns, Turn{Role: role, Content: content})
}

// Reset discards every turn and restores the single greeting.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.turns = greeting()
}

// Snapshot returns a copy of the turns in insertion order.
func (t *Transcript) Snapshot() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// TryBeginCycle claims the transcript for one reply cycle. It reports false
// when another cycle is still running.
func (t *Transcript) TryBeginCycle() bool {
	return t.cycle.TryLock()
}

func (t *Transcript) EndCycle() {
	t.cycle.Unlock()
}

func greeting() []Turn {
	return []Turn{{Role: AssistantRole, Content: GreetingText}}
}
