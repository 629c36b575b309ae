// Package eventbus is the Cloud-side realtime channel of spec.md §4.4: a
// per-gate websocket session plus a broadcast primitive, dispatched through
// a single tagged-variant handler rather than per-type polymorphism (the
// design note of spec.md §9).
package eventbus

import "encoding/json"

// Kind is the wire discriminator carried in every message's "type" field.
type Kind string

const (
	KindHeartbeat  Kind = "heartbeat"
	KindPing       Kind = "ping"
	KindPong       Kind = "pong"
	KindSyncEvent  Kind = "sync_event"
	KindSlotUpdate Kind = "slot_update"
	KindVehicleIn  Kind = "vehicle_in"
	KindVehicleOut Kind = "vehicle_out"
)

// envelope is the minimal shape every inbound frame is peeked through to
// find its discriminator before the rest of the payload is unmarshalled.
type envelope struct {
	Type Kind `json:"type"`
}

// ParseKind extracts the Kind from a raw JSON frame.
func ParseKind(raw []byte) (Kind, error) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return "", err
	}
	return e.Type, nil
}

// Frame is the full inbound shape dispatch needs beyond the bare
// discriminator: the gate-stamped "ts" a ping/pong round trip carries, and
// the nested "event" a sync_event replay carries, matching
// original_source/parking-cloud/cloud_ws.py's data.get("ts")/data.get("event").
type Frame struct {
	Type  Kind            `json:"type"`
	Gate  string          `json:"gate"`
	Ts    int64           `json:"ts"`
	Event json.RawMessage `json:"event"`
}

// ParseFrame unmarshals a raw inbound frame into its full shape, for
// handlers that need more than the discriminator ParseKind peeks at.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// buildFrame builds a generic outbound frame: Kind plus an arbitrary
// payload map merged into one flat JSON object (payload keys sit beside
// "type", matching original_source/cloud_ws.py's dict literals).
func buildFrame(kind Kind, payload map[string]interface{}) map[string]interface{} {
	frame := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		frame[k] = v
	}
	frame["type"] = kind
	return frame
}
