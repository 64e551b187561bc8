// Package audit emits the structured event stream that accompanies the
// ledger: one JSON line per orchestration decision (preflight verdicts,
// reservations, refunds, terminal statuses). The stream is for operators
// and incident review; the ledger remains the billing source of truth.
package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes an audit event.
type EventType string

const (
	EventBilling   EventType = "BILLING"
	EventExecution EventType = "EXECUTION"
	EventSystem    EventType = "SYSTEM"
)

// Event is one structured audit record.
type Event struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	WorkOrderID string         `json:"work_order_id,omitempty"`
	Type        EventType      `json:"type"`
	Action      string         `json:"action"`
	Resource    string         `json:"resource,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Record(tenantID, workOrderID string, eventType EventType, action, resource string, metadata map[string]any) error
}

type logger struct {
	mu     sync.Mutex
	writer io.Writer
	clock  func() time.Time
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer. This
// allows injection for testing and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w, clock: time.Now}
}

// NewLoggerWithClock pins the event clock; tests use it for stable output.
func NewLoggerWithClock(w io.Writer, clock func() time.Time) Logger {
	l := NewLoggerWithWriter(w).(*logger)
	l.clock = clock
	return l
}

func (l *logger) Record(tenantID, workOrderID string, eventType EventType, action, resource string, metadata map[string]any) error {
	event := Event{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		WorkOrderID: workOrderID,
		Type:        eventType,
		Action:      action,
		Resource:    resource,
		Timestamp:   l.clock().UTC(),
		Metadata:    metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
	return err
}

// Nop discards every event; used where audit output is not wired.
type Nop struct{}

func (Nop) Record(string, string, EventType, string, string, map[string]any) error { return nil }
