// Package feed provides the push connections that deliver market, chart and
// trade-info events.
package feed

import "context"

// State is the lifecycle state of a push connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	// StateOffline means the server was not ready or reconnection gave up.
	StateOffline State = "offline"
)

// Sender emits outbound events on a connection.
type Sender interface {
	Send(event string, payload interface{}) error
	IsConnected() bool
}

// Socket defines the interface for a push connection.
type Socket interface {
	Sender

	// Connect probes readiness and opens the connection. It returns false
	// when the server is not ready or every dial attempt failed.
	Connect(ctx context.Context) bool
	Disconnect()
	State() State

	OnEvent(handler func(Event))
	// OnConnect fires after every successful open; reconnected is true
	// when the open followed a drop.
	OnConnect(handler func(reconnected bool))
	OnStateChange(handler func(State))
	OnError(handler func(error))
}
