package eventbus

import (
	"encoding/json"
	"testing"
)

func TestParseKindExtractsDiscriminator(t *testing.T) {
	t.Parallel()
	kind, err := ParseKind([]byte(`{"type":"heartbeat","gate":"G1"}`))
	if err != nil {
		t.Fatalf("parse kind: %v", err)
	}
	if kind != KindHeartbeat {
		t.Fatalf("expected heartbeat, got %s", kind)
	}
}

func TestParseKindRejectsMalformedJSON(t *testing.T) {
	t.Parallel()
	if _, err := ParseKind([]byte("not json")); err == nil {
		t.Fatalf("expected an error for malformed JSON")
	}
}

func TestBuildFrameMergesPayloadAndType(t *testing.T) {
	t.Parallel()
	frame := buildFrame(KindSlotUpdate, map[string]interface{}{"slotId": "A1", "occupied": true})
	if frame["type"] != KindSlotUpdate {
		t.Fatalf("expected type field set, got %v", frame["type"])
	}
	if frame["slotId"] != "A1" || frame["occupied"] != true {
		t.Fatalf("expected payload fields preserved, got %+v", frame)
	}
}

func TestBuildFramePongHasNoPayload(t *testing.T) {
	t.Parallel()
	frame := buildFrame(KindPong, nil)
	if len(frame) != 1 || frame["type"] != KindPong {
		t.Fatalf("expected a bare pong frame, got %+v", frame)
	}
}

func TestParseFrameExtractsTs(t *testing.T) {
	t.Parallel()
	frame, err := ParseFrame([]byte(`{"type":"ping","gate":"G1","ts":1700000000123}`))
	if err != nil {
		t.Fatalf("parse frame: %v", err)
	}
	if frame.Type != KindPing || frame.Gate != "G1" || frame.Ts != 1700000000123 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestParseFrameExtractsNestedEvent(t *testing.T) {
	t.Parallel()
	frame, err := ParseFrame([]byte(`{"type":"sync_event","event":{"type":"vehicle_in","plate":"ABC-123"}}`))
	if err != nil {
		t.Fatalf("parse frame: %v", err)
	}
	if frame.Type != KindSyncEvent {
		t.Fatalf("expected sync_event, got %s", frame.Type)
	}
	var event map[string]interface{}
	if err := json.Unmarshal(frame.Event, &event); err != nil {
		t.Fatalf("unmarshal nested event: %v", err)
	}
	if event["type"] != "vehicle_in" || event["plate"] != "ABC-123" {
		t.Fatalf("unexpected nested event: %+v", event)
	}
}

func TestParseFrameRejectsMalformedJSON(t *testing.T) {
	t.Parallel()
	if _, err := ParseFrame([]byte("not json")); err == nil {
		t.Fatalf("expected an error for malformed JSON")
	}
}
