// Package notify defines the engine's outward-facing notification sink
// and monitoring-checkpoint interfaces (§6). The core never throws to the
// outside; every significant event flows through one of these two typed
// emitters instead.
package notify

import "time"

// EventType enumerates the notification sink's event kinds.
type EventType string

const (
	EventFSMTransition EventType = "FSM_TRANSITION"
	EventError         EventType = "ERROR"
	EventKillSwitch    EventType = "KILL_SWITCH"
	EventStopMoved     EventType = "STOP_MOVED"
	EventTakeProfit    EventType = "TAKE_PROFIT"
)

// Event is one notification sink payload.
type Event struct {
	Type        EventType
	TimestampMs int64
	Payload     map[string]any
}

// Sink is the notification sink collaborator (§6 "Notification sink").
// Implementations must not block the caller for long; a log-only Sink is
// provided as the default for standalone operation.
type Sink interface {
	Notify(Event) error
}

// CheckpointStatus is the lifecycle status of a monitoring checkpoint.
type CheckpointStatus string

const (
	CheckpointInProgress CheckpointStatus = "in_progress"
	CheckpointCompleted  CheckpointStatus = "completed"
	CheckpointFailed     CheckpointStatus = "failed"
)

// CheckpointType enumerates the monitoring checkpoint kinds emitted on
// each phase edge (§6 "Monitoring checkpoints").
type CheckpointType string

const (
	CheckpointScanStart           CheckpointType = "SCAN_START"
	CheckpointScanComplete        CheckpointType = "SCAN_COMPLETE"
	CheckpointLevelBuildingStart  CheckpointType = "LEVEL_BUILDING_START"
	CheckpointLevelBuildingDone   CheckpointType = "LEVEL_BUILDING_COMPLETE"
	CheckpointSignalDetected      CheckpointType = "SIGNAL_DETECTED"
	CheckpointPositionSizing      CheckpointType = "POSITION_SIZING"
	CheckpointOrderPlaced         CheckpointType = "ORDER_PLACED"
	CheckpointOrderFilled         CheckpointType = "ORDER_FILLED"
	CheckpointPositionOpened      CheckpointType = "POSITION_OPENED"
	CheckpointPositionManaged     CheckpointType = "POSITION_MANAGED"
	CheckpointPositionClosed      CheckpointType = "POSITION_CLOSED"
	CheckpointError               CheckpointType = "ERROR"
)

// Checkpoint is a single monitoring checkpoint emission.
type Checkpoint struct {
	Type      CheckpointType
	Status    CheckpointStatus
	SessionID string
	Metrics   map[string]float64
	Data      map[string]any
}

// Monitor is the monitoring-checkpoint collaborator. A nil Monitor is
// valid everywhere it's accepted; callers should use NopMonitor{} instead
// of nil to avoid nil checks at every call site.
type Monitor interface {
	Checkpoint(Checkpoint) error
}

// LoggingSink is the default Sink: it logs every event via the supplied
// function (typically a *zap.Logger method) instead of dispatching
// anywhere external.
type LoggingSink struct {
	Log func(eventType string, payload map[string]any)
}

// Notify implements Sink.
func (s LoggingSink) Notify(e Event) error {
	if s.Log != nil {
		s.Log(string(e.Type), e.Payload)
	}
	return nil
}

// NopMonitor discards every checkpoint. Used when no monitoring
// collaborator is attached.
type NopMonitor struct{}

// Checkpoint implements Monitor.
func (NopMonitor) Checkpoint(Checkpoint) error { return nil }

// NowMs returns the current time in Unix milliseconds, the timestamp unit
// used throughout the notification payloads.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
