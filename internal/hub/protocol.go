package hub

// EventMessage is pushed to clients after a lifecycle change.
type EventMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Data      any    `json:"data,omitempty"`
	Ts        int64  `json:"ts"`
}

type ConnectedMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is what the UI sends: subscribe or unsubscribe to a session.
// An empty sessionId on subscribe means every session.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
}
