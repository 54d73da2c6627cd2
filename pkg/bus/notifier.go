package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/odvcencio/quill/pkg/logging"
	"github.com/odvcencio/quill/pkg/scheduler"
)

// ToolEvent is the wire form of a scheduler notification.
type ToolEvent struct {
	SessionID   string    `json:"session_id"`
	Kind        string    `json:"kind"`
	CallID      string    `json:"call_id"`
	Tool        string    `json:"tool"`
	State       string    `json:"state,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Chunk       string    `json:"chunk,omitempty"`
	Time        time.Time `json:"time"`
}

// LifecycleEvent marks a session starting or ending.
type LifecycleEvent struct {
	SessionID string    `json:"session_id"`
	Event     string    `json:"event"`
	Time      time.Time `json:"time"`
}

const (
	LifecycleStarted = "started"
	LifecycleEnded   = "ended"
)

// Notifier publishes one session's events onto a bus. Publish failures are
// logged and swallowed; observers are best effort and never stall a run.
type Notifier struct {
	bus       Bus
	sessionID string
	logger    *logging.Logger
}

// NewNotifier creates a notifier for the given session.
func NewNotifier(b Bus, sessionID string, logger *logging.Logger) *Notifier {
	return &Notifier{bus: b, sessionID: sessionID, logger: logger}
}

// SessionStarted announces the session on its lifecycle subject.
func (n *Notifier) SessionStarted(ctx context.Context) {
	n.publishLifecycle(ctx, LifecycleStarted)
}

// SessionEnded announces the session's end.
func (n *Notifier) SessionEnded(ctx context.Context) {
	n.publishLifecycle(ctx, LifecycleEnded)
}

func (n *Notifier) publishLifecycle(ctx context.Context, event string) {
	if n == nil || n.bus == nil {
		return
	}
	data, err := json.Marshal(LifecycleEvent{
		SessionID: n.sessionID,
		Event:     event,
		Time:      time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := n.bus.Publish(ctx, SubjectLifecycle(n.sessionID), data); err != nil {
		n.logger.Warn(logging.CategorySession, "bus_publish_failed", "lifecycle event dropped", map[string]any{
			"event": event,
			"error": err.Error(),
		})
	}
}

// PumpToolEvents forwards scheduler events until the channel closes or the
// context ends. Run it on its own goroutine alongside the dispatch loop.
func (n *Notifier) PumpToolEvents(ctx context.Context, events <-chan scheduler.Event) {
	if n == nil || n.bus == nil {
		return
	}
	subject := SubjectToolEvents(n.sessionID)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ToolEvent{
				SessionID:   n.sessionID,
				Kind:        string(event.Kind),
				CallID:      event.CallID,
				Tool:        event.Name,
				State:       string(event.State),
				DisplayName: event.DisplayName,
				Chunk:       event.Chunk,
				Time:        time.Now().UTC(),
			})
			if err != nil {
				continue
			}
			if err := n.bus.Publish(ctx, subject, data); err != nil {
				n.logger.Warn(logging.CategoryScheduler, "bus_publish_failed", "tool event dropped", map[string]any{
					"call_id": event.CallID,
					"error":   err.Error(),
				})
			}
		}
	}
}
