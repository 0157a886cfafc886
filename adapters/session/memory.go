package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/satriahrh/gemini-chat/domain"
)

// MemoryStore keeps every live transcript in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	transcripts map[string]*domain.Transcript
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transcripts: make(map[string]*domain.Transcript),
	}
}

// Create starts a new session holding the greeting.
func (s *MemoryStore) Create() (string, *domain.Transcript) {
	id := uuid.NewString()
	tr := domain.NewTranscript()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcripts[id] = tr
	return id, tr
}

func (s *MemoryStore) Get(id string) (*domain.Transcript, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, ok := s.transcripts[id]
	return tr, ok
}

func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.transcripts, id)
}

func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transcripts)
}
