package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// ErrUnknownEventType is returned when a record carries a type tag outside
// the closed union. Consumers treat such records as poison pills.
type ErrUnknownEventType struct {
	Tag string
}

func (e *ErrUnknownEventType) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Tag)
}

// Marshal encodes an event to its wire form: the variant name as type tag
// plus the JSON payload.
func Marshal(ev Event) (tag string, data []byte, err error) {
	data, err = json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s: %w", ev.EventType(), err)
	}
	return ev.EventType(), data, nil
}

// decoders maps the wire type tag to a payload decoder. The table is the Go
// rendition of the union's From coercions: one entry per variant, nothing
// dynamic.
var decoders = map[string]func([]byte) (Event, error){
	"ProjectCreated":            func(b []byte) (Event, error) { return decodeProjectCreated(b) },
	"ProjectUpdated":            decodeInto[ProjectUpdated],
	"ProjectDeleted":            decodeInto[ProjectDeleted],
	"ProjectSecretCreated":      decodeInto[ProjectSecretCreated],
	"ProjectUserInviteCreated":  decodeInto[ProjectUserInviteCreated],
	"ProjectUserInviteAccepted": decodeInto[ProjectUserInviteAccepted],
	"ProjectUserDeleted":        decodeInto[ProjectUserDeleted],
	"ResourceCreated":           decodeInto[ResourceCreated],
	"ResourceUpdated":           decodeInto[ResourceUpdated],
	"ResourceDeleted":           decodeInto[ResourceDeleted],
	"UsageCreated":              decodeInto[UsageCreated],
}

func decodeInto[T Event](data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode %T: %w", ev, err)
	}
	return ev, nil
}

// decodeProjectCreated tolerates the older record shape that predates the
// status, timestamp, and billing fields, defaulting them on decode.
func decodeProjectCreated(data []byte) (Event, error) {
	var ev ProjectCreated
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode ProjectCreated: %w", err)
	}
	if ev.Status == "" {
		ev.Status = StatusActive
	}
	now := time.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	if ev.UpdatedAt.IsZero() {
		ev.UpdatedAt = ev.CreatedAt
	}
	return ev, nil
}

// Decode resolves the type tag and decodes the payload. An unrecognised tag
// yields *ErrUnknownEventType.
func Decode(tag string, data []byte) (Event, error) {
	dec, ok := decoders[tag]
	if !ok {
		return nil, &ErrUnknownEventType{Tag: tag}
	}
	return dec(data)
}
