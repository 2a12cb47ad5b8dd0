package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is one row-level change on the operators table.
type ChangeEvent struct {
	Type         EventType `json:"type"`
	Registration string    `json:"registration"`
}

// ChangeFeed delivers change events until ctx is done or the returned cancel
// is called.
type ChangeFeed interface {
	Subscribe(ctx context.Context) (<-chan ChangeEvent, func())
}

// ParseEvent decodes a notification payload.
func ParseEvent(payload string) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("decoding change event: %w", err)
	}
	ev.Type = EventType(strings.ToUpper(string(ev.Type)))
	ev.Registration = strings.TrimSpace(ev.Registration)
	switch ev.Type {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return ChangeEvent{}, fmt.Errorf("unknown change type %q", ev.Type)
	}
	if ev.Registration == "" {
		return ChangeEvent{}, fmt.Errorf("change event without registration")
	}
	return ev, nil
}
