package game

import "time"

type EventKind string

const (
	EventSnapshot          EventKind = "state"
	EventUsernameConfirmed EventKind = "username_set"
	EventAdminAuthResult   EventKind = "admin_login_result"
	EventResetConfirmed    EventKind = "admin_reset_success"
	EventExportResult      EventKind = "admin_export_data"
	EventLiquidation       EventKind = "risk_liquidated"
	EventSessionEnded      EventKind = "game_ended"
	EventRejected          EventKind = "rejected"
)

// Event is an outbound message. An empty SessionID addresses every connected session.
type Event struct {
	Kind      EventKind
	SessionID string
	Payload   any
}

func (e Event) Broadcast() bool { return e.SessionID == "" }

type UsernamePayload struct {
	Name string `json:"name"`
}

type AdminAuthPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type LiquidationPayload struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
}

type RejectedPayload struct {
	Op      string    `json:"op"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

type MessagePayload struct {
	Message string `json:"message"`
}

// Publisher receives events after the engine lock is released. Implementations must not block.
type Publisher interface {
	Publish(ev Event)
}

type PublisherFunc func(ev Event)

func (f PublisherFunc) Publish(ev Event) { f(ev) }

// Publishers fans one event out to several publishers in order.
type Publishers []Publisher

func (ps Publishers) Publish(ev Event) {
	for _, p := range ps {
		if p != nil {
			p.Publish(ev)
		}
	}
}

// Recorder observes engine activity for metrics.
type Recorder interface {
	TickProcessed(phase Phase, took time.Duration)
	TradeExecuted(side Side, qty int64)
	Liquidated()
	PhaseChanged(phase Phase)
}

type nopRecorder struct{}

func (nopRecorder) TickProcessed(Phase, time.Duration) {}
func (nopRecorder) TradeExecuted(Side, int64)          {}
func (nopRecorder) Liquidated()                        {}
func (nopRecorder) PhaseChanged(Phase)                 {}
