package eventstore

import (
	"encoding/json"
	"time"
)

// Event types.
const (
	TypeBuildStarted   = "BuildStarted"
	TypeRoundStarted   = "RoundStarted"
	TypeRoundCompleted = "RoundCompleted"
	TypeBuildCommitted = "BuildCommitted"
	TypeBuildFailed    = "BuildFailed"
)

// Event is one entry of the build log.
type Event interface {
	ID() int64
	BuildID() string
	Type() string
	Timestamp() time.Time
	Payload() []byte
}

// BaseEvent is the stored form of every event.
type BaseEvent struct {
	EventID        int64
	EventBuildID   string
	EventType      string
	EventTimestamp time.Time
	EventPayload   []byte
}

func (e *BaseEvent) ID() int64            { return e.EventID }
func (e *BaseEvent) BuildID() string      { return e.EventBuildID }
func (e *BaseEvent) Type() string         { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTimestamp }
func (e *BaseEvent) Payload() []byte      { return e.EventPayload }

// Decode unmarshals the payload of e into v.
func Decode(e Event, v any) error {
	return json.Unmarshal(e.Payload(), v)
}

func newEvent(buildID, typ string, payload any) (*BaseEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &BaseEvent{
		EventBuildID:   buildID,
		EventType:      typ,
		EventTimestamp: time.Now(),
		EventPayload:   data,
	}, nil
}

// BuildStarted payload.
type BuildStarted struct {
	Target      string `json:"target"`
	Incremental bool   `json:"incremental"`
	Sources     int    `json:"sources"`
}

// RoundStarted payload.
type RoundStarted struct {
	Round int `json:"round"`
	// Taint maps every package compiled in the round to the reason it was tainted.
	Taint map[string]string `json:"taint"`
}

// RoundCompleted payload.
type RoundCompleted struct {
	Round      int    `json:"round"`
	Outcome    string `json:"outcome"`
	DurationMS int64  `json:"duration_ms"`
}

// BuildCommitted payload.
type BuildCommitted struct {
	Rounds   int      `json:"rounds"`
	Compiled []string `json:"compiled,omitempty"`
	UpToDate bool     `json:"up_to_date"`
}

// BuildFailed payload.
type BuildFailed struct {
	Rounds   int    `json:"rounds"`
	Category string `json:"category"`
	Error    string `json:"error"`
}
