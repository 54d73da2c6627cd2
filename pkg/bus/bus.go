// Package bus carries session and tool lifecycle notifications to
// observers. The terminal frontend subscribes in process through the
// memory bus; headless deployments publish the same subjects over NATS
// so remote dashboards can follow a run.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned when a request expires without a reply.
	ErrTimeout = errors.New("request timeout")

	// ErrNoResponders is returned when nobody is subscribed to a request subject.
	ErrNoResponders = errors.New("no responders available")

	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")
)

// Bus is the publish/subscribe fabric. Implementations must be safe for
// concurrent use.
type Bus interface {
	// Publish sends a message to all subscribers of the subject. It returns
	// without waiting for delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the subject. The handler
	// runs on a separate goroutine per subscription. Subjects support NATS
	// wildcards: "quill.session.*.tool" matches one token, "quill.session.>"
	// matches the rest of the subject.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// QueueSubscribe joins a queue group so messages on the subject are
	// load-balanced across its members.
	QueueSubscribe(ctx context.Context, subject, queue string, handler MessageHandler) (Subscription, error)

	// Request publishes and waits for a single reply.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes one incoming message. For request/reply, return
// data to send as the response; return nil for no response.
type MessageHandler func(msg *Message) []byte

// Message is one delivery from the bus.
type Message struct {
	Subject string
	Data    []byte
	ReplyTo string // set when the sender expects a response
}

// Subscription is an active subscription that can be cancelled.
type Subscription interface {
	Unsubscribe() error

	// Subject returns the subject pattern this subscription covers.
	Subject() string
}

// Config holds connection settings for a NATS-backed bus.
type Config struct {
	// URL is the NATS server URL. Ignored by the memory bus.
	URL string

	// Name identifies this client to the server.
	Name string

	// Timeout bounds connection establishment and requests.
	Timeout time.Duration
}

// DefaultConfig returns the connection defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "quill",
		Timeout: 30 * time.Second,
	}
}

// SubjectToolEvents is the subject carrying tool call state changes and
// output chunks for one session.
func SubjectToolEvents(sessionID string) string {
	return fmt.Sprintf("quill.session.%s.tool", sessionID)
}

// SubjectLifecycle is the subject carrying session start and end events.
func SubjectLifecycle(sessionID string) string {
	return fmt.Sprintf("quill.session.%s.lifecycle", sessionID)
}

// SubjectAllSessions matches every event from every session.
const SubjectAllSessions = "quill.session.>"
