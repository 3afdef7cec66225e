package model

// Event types sent to subscribers.
const (
	EventUpdate = "update"
	EventError  = "error"
	EventPong   = "pong"
)

// Snapshot is the payload of an update event.
type Snapshot struct {
	Nearest     *Aircraft  `json:"nearest"`
	Others      []Aircraft `json:"others"`
	OthersTotal int        `json:"othersTotal"`
	Now         int64      `json:"now"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Event is one outbound frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func UpdateEvent(s Snapshot) Event {
	if s.Others == nil {
		s.Others = []Aircraft{}
	}
	return Event{Type: EventUpdate, Data: s}
}

func ErrorEvent(message, detail string) Event {
	return Event{Type: EventError, Data: ErrorPayload{Message: message, Detail: detail}}
}
