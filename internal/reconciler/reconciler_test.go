package reconciler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meomeohuhu/ParkingDistributed/internal/gatecloud"
	"github.com/meomeohuhu/ParkingDistributed/internal/gatestore"
	"github.com/meomeohuhu/ParkingDistributed/internal/imagestore"
)

func newTestGateStore(t *testing.T) *gatestore.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/gate.db"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store := gatestore.NewStore(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestSnapshotPullerUpsertsRemoteSlots(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/slots/map":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"slots": []gatecloud.RemoteSlot{{SlotID: "A1", Zone: "A", Occupied: true, Version: 3}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	store := newTestGateStore(t)
	cloud := gatecloud.New(server.URL, "secret")
	puller := NewSnapshotPuller(store, cloud, zap.NewNop().Sugar())

	ctx := context.Background()
	puller.tick(ctx)

	slots, err := store.ListSlots(ctx)
	if err != nil {
		t.Fatalf("list_slots: %v", err)
	}
	if len(slots) != 1 || slots[0].Version != 3 || !slots[0].Occupied {
		t.Fatalf("expected the remote snapshot to be upserted, got %+v", slots)
	}

	lastOK, err := store.GetSyncState(ctx, gatestore.KeyLastCloudOKAt)
	if err != nil {
		t.Fatalf("get_sync_state: %v", err)
	}
	if lastOK == "" {
		t.Fatalf("expected last_cloud_ok_at to be stamped after a successful pull")
	}
}

func TestSnapshotPullerSkipsWhenCloudUnhealthy(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	store := newTestGateStore(t)
	cloud := gatecloud.New(server.URL, "secret")
	puller := NewSnapshotPuller(store, cloud, zap.NewNop().Sugar())
	puller.tick(context.Background())

	lastOK, err := store.GetSyncState(context.Background(), gatestore.KeyLastCloudOKAt)
	if err != nil {
		t.Fatalf("get_sync_state: %v", err)
	}
	if lastOK != "" {
		t.Fatalf("expected no sync stamp when the cloud reports unhealthy")
	}
}

func TestQueueDrainerMarksEventDoneOnSuccess(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/vehicle_in":
			json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	store := newTestGateStore(t)
	cloud := gatecloud.New(server.URL, "secret")
	images := imagestore.New(t.TempDir())
	drainer := NewQueueDrainer(store, cloud, images, zap.NewNop().Sugar())

	ctx := context.Background()
	payload, _ := json.Marshal(map[string]string{"plate": "ABC-123", "slot": "A1", "gate": "G1"})
	if err := store.Enqueue(ctx, "ev-1", "vehicle_in", string(payload)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	drainer.tick(ctx)

	pending, err := store.PendingEvents(ctx, 10)
	if err != nil {
		t.Fatalf("pending_events: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected the event to be drained, got %+v", pending)
	}
}

func TestQueueDrainerRecordsReconciliationReportOnConflict(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/vehicle_in":
			w.WriteHeader(http.StatusConflict)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	store := newTestGateStore(t)
	cloud := gatecloud.New(server.URL, "secret")
	images := imagestore.New(t.TempDir())
	drainer := NewQueueDrainer(store, cloud, images, zap.NewNop().Sugar())

	ctx := context.Background()
	payload, _ := json.Marshal(map[string]string{"plate": "ABC-123", "slot": "A1", "gate": "G1"})
	if err := store.Enqueue(ctx, "ev-1", "vehicle_in", string(payload)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	drainer.tick(ctx)

	pending, err := store.PendingEvents(ctx, 10)
	if err != nil {
		t.Fatalf("pending_events: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected a terminal CONFLICT to be marked done, got %+v", pending)
	}
	reports, err := store.ListReconciliationReports(ctx)
	if err != nil {
		t.Fatalf("list_reconciliation_reports: %v", err)
	}
	if len(reports) != 1 || reports[0].EventID != "ev-1" {
		t.Fatalf("expected one reconciliation report for ev-1, got %+v", reports)
	}
}

func TestQueueDrainerLeavesEventPendingOnNetworkFailure(t *testing.T) {
	t.Parallel()
	store := newTestGateStore(t)
	cloud := gatecloud.New("http://127.0.0.1:1", "secret")
	images := imagestore.New(t.TempDir())
	drainer := NewQueueDrainer(store, cloud, images, zap.NewNop().Sugar())

	ctx := context.Background()
	payload, _ := json.Marshal(map[string]string{"plate": "ABC-123", "slot": "A1", "gate": "G1"})
	if err := store.Enqueue(ctx, "ev-1", "vehicle_in", string(payload)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	drainer.tick(ctx)

	pending, err := store.PendingEvents(ctx, 10)
	if err != nil {
		t.Fatalf("pending_events: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected the event to stay pending when the cloud is unreachable, got %+v", pending)
	}
}
