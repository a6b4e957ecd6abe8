// Package memory records alert notifications in process instead of sending
// them to Pub/Sub.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message is one recorded publish.
type Message struct {
	ID         string
	Topic      string
	Payload    any
	Attributes map[string]string
}

// Publisher keeps every notification it is handed.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes later publishes return err. A nil err restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records payload under topic. Payloads that expose Attributes have
// them captured the way the Pub/Sub publisher would send them.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	msg := Message{
		ID:      fmt.Sprintf("mem-%d", len(p.messages)+1),
		Topic:   topic,
		Payload: payload,
	}
	if a, ok := payload.(interface{ Attributes() map[string]string }); ok {
		msg.Attributes = a.Attributes()
	}
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns a copy of the recorded publishes in order.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}
