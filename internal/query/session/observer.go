package session

import (
	"time"

	"github.com/carthingy/carthingy/internal/query/model"
)

// Snapshot is an immutable copy of the session taken after one update.
type Snapshot struct {
	SessionID string
	Query     model.Query
	State     model.SessionState
	Record    model.VehicleRecord
	Log       []string
	// Alert is set from the moment a session fails until it is dismissed.
	Alert     *Alert
	StartedAt time.Time
}

// Alert is the human-readable notice raised once per failed session.
type Alert struct {
	Title   string
	Message string
}

// Observer receives one Snapshot per processed update, in order.
//
// OnUpdate runs synchronously on the goroutine that produced the update.
// It must not call Start, Close or DismissAlert on the same session.
type Observer interface {
	OnUpdate(Snapshot)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) OnUpdate(s Snapshot) { f(s) }
