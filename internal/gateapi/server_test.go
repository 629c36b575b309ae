package gateapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meomeohuhu/ParkingDistributed/internal/gatestore"
	"github.com/meomeohuhu/ParkingDistributed/internal/imagestore"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gatestore.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/gate.db"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store := gatestore.NewStore(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	server := NewServer(store, nil, nil, imagestore.New(t.TempDir()), "G1", "http://cloud.invalid", zap.NewNop().Sugar())
	return server.NewRouter(), store
}

func postJSON(t *testing.T, router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestVehicleInAppliesLocallyWithoutCloud(t *testing.T) {
	t.Parallel()
	router, store := newTestRouter(t)

	rec := postJSON(t, router, "/vehicle_in", map[string]string{
		"plate": "abc-123", "slot": "A1", "gate": "G1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		OK           bool `json:"ok"`
		LocalApplied bool `json:"local_applied"`
		CloudPushed  bool `json:"cloud_pushed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.OK || !out.LocalApplied || out.CloudPushed {
		t.Fatalf("expected local_applied=true, cloud_pushed=false, got %+v", out)
	}

	slots, err := store.ListSlots(context.Background())
	if err != nil {
		t.Fatalf("list_slots: %v", err)
	}
	if len(slots) != 1 || !slots[0].Occupied {
		t.Fatalf("expected slot A1 occupied locally, got %+v", slots)
	}

	pending, err := store.PendingEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending_events: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected the event to remain queued for the cloud, got %+v", pending)
	}
}

func TestSuggestSlotReturnsLowestFreeSlotID(t *testing.T) {
	t.Parallel()
	router, store := newTestRouter(t)
	ctx := context.Background()
	if err := store.EnsureSlot(ctx, "B1"); err != nil {
		t.Fatalf("ensure B1: %v", err)
	}
	if err := store.EnsureSlot(ctx, "A1"); err != nil {
		t.Fatalf("ensure A1: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/suggest_slot/G1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, request)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Slot string `json:"slot"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Slot != "A1" {
		t.Fatalf("expected A1 (lexicographically first), got %q", out.Slot)
	}
}

func TestHealthReportsLastCloudOKAt(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)
	request := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, request)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := out["last_cloud_ok_at"]; !ok {
		t.Fatalf("expected last_cloud_ok_at in the health body, got %+v", out)
	}
}
