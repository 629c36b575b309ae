package cloudapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meomeohuhu/ParkingDistributed/internal/cloudcore"
	"github.com/meomeohuhu/ParkingDistributed/internal/imagestore"
)

const testSecret = "shared-secret"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/cloud.db"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store := cloudcore.NewStore(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Create(&cloudcore.Gate{GateID: "G1"}).Error; err != nil {
		t.Fatalf("seed gate: %v", err)
	}
	if err := db.Create(&cloudcore.Slot{SlotID: "A1"}).Error; err != nil {
		t.Fatalf("seed slot: %v", err)
	}
	engine := cloudcore.NewEngine(store, cloudcore.NewInMemoryReservationRegistry(), cloudcore.NopBroadcaster{})
	server := NewServer(engine, nil, imagestore.New(t.TempDir()), testSecret, zap.NewNop().Sugar())
	return server.NewRouter()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthedRouteRejectsMissingToken(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/gates", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rec.Code)
	}
}

func TestAuthedRouteAcceptsSharedSecret(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/gates", nil, testSecret)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with the shared secret, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestVehicleInThenOutOverHTTP(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/vehicle_in", map[string]string{
		"plate": "ABC-123", "gate": "G1", "slot": "A1", "event_id": "ev-1",
	}, testSecret)
	if rec.Code != http.StatusOK {
		t.Fatalf("vehicle_in: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/vehicle_in", map[string]string{
		"plate": "ZZZ-999", "gate": "G1", "slot": "A1", "event_id": "ev-2",
	}, testSecret)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 occupying an occupied slot, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/vehicle_out", map[string]string{
		"plate": "ABC-123", "gate": "G1", "event_id": "ev-3",
	}, testSecret)
	if rec.Code != http.StatusOK {
		t.Fatalf("vehicle_out: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Fee int64 `json:"fee"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Fee != 5000 {
		t.Fatalf("expected minimum fee 5000, got %d", out.Fee)
	}
}

func TestAddSlotThenDeleteOverHTTP(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/admin/slots", map[string]interface{}{
		"slotid": "B1", "zone": "B", "x": 2, "y": 2,
	}, testSecret)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add_slot: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodDelete, "/admin/slots/B1", nil, testSecret)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete_slot: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
