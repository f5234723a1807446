package connmgr

// EventType identifies a Manager event.
type EventType int

const (
	EventConnecting EventType = iota
	EventConnected
	EventConnectFailed
	EventSendFailed
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventSendFailed:
		return "send_failed"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event reports something the fire-and-forget API does not return.
type Event struct {
	Type       EventType
	Kind       Kind
	Identifier string
	Attempt    string // connect attempt id; empty for send and close events
	Command    string // set for EventSendFailed
	Err        error
}
