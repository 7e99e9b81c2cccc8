// Package mail defines the outbound email capability.
package mail

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Text    string
}

// Validate checks that the message can be sent.
func (m Message) Validate() error {
	if m.To == "" {
		return errors.New("mail: recipient is required")
	}
	if m.Subject == "" {
		return errors.New("mail: subject is required")
	}
	return nil
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them. Bodies
// carry live codes, so they are only logged at debug level.
type LogSender struct {
	// Logger defaults to the global logger.
	Logger *zerolog.Logger
}

// Send logs msg.
func (s LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	l := s.Logger
	if l == nil {
		l = &log.Logger
	}
	l.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("Email")
	l.Debug().
		Str("to", msg.To).
		Str("text", msg.Text).
		Msg("Email body")
	return nil
}

// MemorySender records messages for inspection in tests.
type MemorySender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

// Send records msg, or fails with the error set by FailWith.
func (s *MemorySender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

// FailWith makes subsequent sends return err. A nil err restores delivery.
func (s *MemorySender) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Sent returns a copy of the recorded messages.
func (s *MemorySender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

// Last returns the most recent message sent to addr.
func (s *MemorySender) Last(addr string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].To == addr {
			return s.sent[i], true
		}
	}
	return Message{}, false
}
