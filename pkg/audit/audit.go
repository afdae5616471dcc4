// Package audit records structured events for policy decisions and manual
// operator actions. Events are written as JSON lines to a configurable sink;
// write failures are surfaced to the caller but safe to ignore for advisory
// trails.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes an audit record.
type EventType string

const (
	EventInvocation EventType = "INVOCATION"
	EventPolicy     EventType = "POLICY"
	EventOperator   EventType = "OPERATOR"
	EventSystem     EventType = "SYSTEM"
)

// Event is one structured audit record.
type Event struct {
	ID        string         `json:"id"`
	CallerID  string         `json:"caller_id"`
	Type      EventType      `json:"type"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Record(ctx context.Context, caller string, eventType EventType, action, resource string, metadata map[string]any) error
}

type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger creates a Logger writing JSON lines to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given sink. Injection
// point for tests and custom collectors.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

func (l *logger) Record(_ context.Context, caller string, eventType EventType, action, resource string, metadata map[string]any) error {
	if caller == "" {
		caller = "system"
	}
	event := Event{
		ID:        uuid.New().String(),
		CallerID:  caller,
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(line); err != nil {
		return err
	}
	_, err = l.writer.Write([]byte("\n"))
	return err
}

// Nop returns a Logger that discards every event.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Record(context.Context, string, EventType, string, string, map[string]any) error {
	return nil
}
