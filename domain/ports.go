package domain

import "context"

// Hasher fingerprints transcript snapshots for conditional requests.
type Hasher interface {
	Hash(data []byte) string
}

// SessionStore keeps the transcripts of all live sessions.
type SessionStore interface {
	Create() (id string, transcript *Transcript)
	Get(id string) (*Transcript, bool)
	Delete(id string)
	Count() int
}

// Transcriber turns recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, sampleRate int) (string, error)
}

// Synthesizer reads text aloud and returns encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
