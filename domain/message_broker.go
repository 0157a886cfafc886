package domain

import (
	"context"
	"time"
)

// MessageBroker carries transcript change notifications from the
// orchestrator to whichever shell renders the session. Routing keys are
// session ids; subscribing with an empty key receives every session.
type MessageBroker interface {
	Publish(ctx context.Context, topic, routingKey string, payload []byte) error
	Subscribe(ctx context.Context, topic, routingKey string) (<-chan Message, error)
	Close() error
}

type Message struct {
	Topic      string
	RoutingKey string
	Payload    []byte
	Timestamp  time.Time
}

const TranscriptTopic = "transcript.updated"

// TranscriptEvent tells the shells that a session transcript changed and
// has to be re-rendered.
type TranscriptEvent struct {
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	Turns     []Turn    `json:"turns"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	ReasonReply = "reply"
	ReasonReset = "reset"
)
