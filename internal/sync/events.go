package sync

import "time"

// SyncEventType identifies a sync notification.
type SyncEventType string

const (
	SyncEventStarted   SyncEventType = "started"
	SyncEventCompleted SyncEventType = "completed"
	SyncEventFailed    SyncEventType = "failed"
)

// maxErrorHistory bounds the errors kept by the engine.
const maxErrorHistory = 100

// SyncEvent is delivered to the event handler at the start and end of a pass.
type SyncEvent struct {
	Type      SyncEventType
	Message   string
	Result    *SyncResult
	Timestamp time.Time
}

// SyncEventHandler receives sync notifications.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(event SyncEvent)

// OnSyncEvent calls f(event).
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) {
	f(event)
}

// SyncErrorEntry is one recorded failure.
type SyncErrorEntry struct {
	EntityID  string    `json:"entity_id,omitempty"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// SetEventHandler sets the handler notified of pass events. nil disables
// notifications.
func (e *Engine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// emitEvent delivers event synchronously on the pass goroutine.
func (e *Engine) emitEvent(event SyncEvent) {
	e.mu.RLock()
	handler := e.handler
	now := e.now
	e.mu.RUnlock()

	if handler == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now()
	}
	handler.OnSyncEvent(event)
}

// GetErrorHistory returns a copy of the recent errors, oldest first.
func (e *Engine) GetErrorHistory() []SyncErrorEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SyncErrorEntry, len(e.errorHistory))
	copy(out, e.errorHistory)
	return out
}

// ClearErrorHistory drops the recorded errors.
func (e *Engine) ClearErrorHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorHistory = make([]SyncErrorEntry, 0)
}

func (e *Engine) recordError(entityID, operation string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorHistory = append(e.errorHistory, SyncErrorEntry{
		EntityID:  entityID,
		Operation: operation,
		Error:     err.Error(),
		Timestamp: e.now(),
	})
	if len(e.errorHistory) > maxErrorHistory {
		e.errorHistory = e.errorHistory[len(e.errorHistory)-maxErrorHistory:]
	}
}
