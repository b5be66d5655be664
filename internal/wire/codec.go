package wire

import (
	"encoding/json"
	"fmt"
)

// Frame is the envelope for every message on the persistent connection.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an outbound frame. A nil payload produces a frame with no
// data field.
func Encode(event string, payload any) ([]byte, error) {
	f := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		f.Data = data
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", event, err)
	}
	return raw, nil
}

// Decode unmarshals an inbound frame envelope.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("frame has no event")
	}
	return f, nil
}

// ParsePayload decodes the typed payload for a known server-to-client event.
// Unknown events return an error so callers can log and skip them.
func ParsePayload(f Frame) (any, error) {
	var (
		payload any
		err     error
	)
	switch f.Event {
	case EventUserOnline:
		payload, err = decodeAs[UserOnline](f)
	case EventUserOffline:
		payload, err = decodeAs[UserOffline](f)
	case EventNewMessage:
		payload, err = decodeAs[MessageRecord](f)
	case EventUserTyping:
		payload, err = decodeAs[UserTyping](f)
	case EventUserStopTyping:
		payload, err = decodeAs[UserStopTyping](f)
	case EventMessageError:
		payload, err = decodeAs[MessageError](f)
	case EventMessagesSeen:
		payload, err = decodeAs[MessagesSeen](f)
	default:
		return nil, fmt.Errorf("unknown event %q", f.Event)
	}
	return payload, err
}

func decodeAs[T any](f Frame) (T, error) {
	var v T
	if err := json.Unmarshal(f.Data, &v); err != nil {
		return v, fmt.Errorf("unmarshal %s payload: %w", f.Event, err)
	}
	return v, nil
}
