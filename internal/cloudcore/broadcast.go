package cloudcore

// Broadcaster is the Event Bus's inbound seam into the Mutation Engine. The
// Engine never imports the eventbus package directly (it would cycle back
// through cloudapi); eventbus.Hub satisfies this interface and is injected
// at wiring time in cmd/cloud.
type Broadcaster interface {
	Broadcast(kind string, payload map[string]interface{})
}

// NopBroadcaster discards every message; used by tests that don't care
// about bus fan-out.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(string, map[string]interface{}) {}
