package gateapi

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meomeohuhu/ParkingDistributed/internal/clock"
	"github.com/meomeohuhu/ParkingDistributed/internal/gatestore"
	"github.com/meomeohuhu/ParkingDistributed/internal/imagestore"
)

// handleSlots implements GET /slots?mode=in|out|all, filtering
// slots_local by occupancy.
func (s *Server) handleSlots(c *gin.Context) {
	slots, err := s.store.ListSlots(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	mode := c.Query("mode")
	out := make([]gatestore.SlotLocal, 0, len(slots))
	for _, slot := range slots {
		switch mode {
		case "in":
			if slot.Occupied {
				out = append(out, slot)
			}
		case "out":
			if !slot.Occupied {
				out = append(out, slot)
			}
		default:
			out = append(out, slot)
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "slots": out})
}

// handleSlotsMap implements GET /slots/map, returning all local slots plus
// last_cloud_ok_at.
func (s *Server) handleSlotsMap(c *gin.Context) {
	slots, err := s.store.ListSlots(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	lastOK, _ := s.store.GetSyncState(c.Request.Context(), gatestore.KeyLastCloudOKAt)
	c.JSON(http.StatusOK, gin.H{"ok": true, "slots": slots, "last_cloud_ok_at": lastOK})
}

// handleSuggestSlot implements GET /suggest_slot/{gate}: the lowest
// lexicographic unoccupied slotid, no distance computation at the edge.
func (s *Server) handleSuggestSlot(c *gin.Context) {
	slots, err := s.store.ListSlots(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	var free []string
	for _, slot := range slots {
		if !slot.Occupied {
			free = append(free, slot.SlotID)
		}
	}
	if len(free) == 0 {
		c.JSON(http.StatusOK, gin.H{"ok": true, "slot": nil})
		return
	}
	sort.Strings(free)
	c.JSON(http.StatusOK, gin.H{"ok": true, "slot": free[0]})
}

func (s *Server) handleUploadImage(kind imagestore.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		plate := c.PostForm("plate")
		if plate == "" {
			plate = c.Query("plate")
		}
		file, _, err := c.Request.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing image file"})
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
			return
		}

		epoch := clock.Now().Unix()
		var path string
		if s.cloud != nil && s.cloud.Healthy(c.Request.Context()) {
			cloudPath, err := s.cloud.UploadImage(c.Request.Context(), string(kind), plate, data)
			if err == nil {
				c.JSON(http.StatusOK, gin.H{"ok": true, "path": cloudPath})
				return
			}
		}
		path, err = s.images.Save(kind, plate, epoch, data)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "path": "local:" + path})
	}
}

func (s *Server) handleViewImage(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing path"})
		return
	}
	full, err := s.images.Resolve(path)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.File(full)
}

// handleVehicleIn implements spec.md §4.6's five-step local-first
// vehicle_in: local apply, enqueue, best-effort cloud push (image upgrade
// first), best-effort sync_event, then respond.
func (s *Server) handleVehicleIn(c *gin.Context) {
	var input struct {
		Plate string `json:"plate" binding:"required"`
		Slot  string `json:"slot" binding:"required"`
		Gate  string `json:"gate"`
		ImgIn string `json:"img_in"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if input.Gate == "" {
		input.Gate = s.gateID
	}
	ctx := c.Request.Context()

	if err := s.store.EnsureSlot(ctx, input.Slot); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if err := s.store.ApplyOccupy(ctx, input.Slot, strings.ToUpper(input.Plate)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	eventID := uuid.New().String()
	payload := map[string]string{"plate": input.Plate, "slot": input.Slot, "gate": input.Gate, "img_in": input.ImgIn}
	payloadJSON, _ := json.Marshal(payload)
	if err := s.store.Enqueue(ctx, eventID, "vehicle_in", string(payloadJSON)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	cloudPushed := false
	if s.cloud != nil && s.cloud.Healthy(ctx) {
		imgIn := input.ImgIn
		if strings.HasPrefix(imgIn, "local:") {
			if full, err := s.images.Resolve(imgIn); err == nil {
				if data, rerr := os.ReadFile(full); rerr == nil {
					if cloudPath, uerr := s.cloud.UploadImage(ctx, string(imagestore.KindIn), input.Plate, data); uerr == nil {
						imgIn = cloudPath
					}
				}
			}
		}
		result, err := s.cloud.VehicleIn(ctx, input.Plate, input.Gate, input.Slot, imgIn, eventID)
		if err == nil && (result.OK || result.Dedup) {
			_ = s.store.MarkDoneByEventID(ctx, eventID)
			cloudPushed = true
		}
	}
	if s.ws != nil {
		s.ws.SendSyncEvent("vehicle_in", map[string]interface{}{
			"plate": input.Plate, "slot": input.Slot, "gate": input.Gate,
		})
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "local_applied": true, "cloud_pushed": cloudPushed, "event_id": eventID})
}

// handleVehicleOut implements spec.md §4.6's vehicle_out: free the local
// slot holding plate (if any), enqueue regardless, best-effort push.
func (s *Server) handleVehicleOut(c *gin.Context) {
	var input struct {
		Plate  string `json:"plate" binding:"required"`
		Gate   string `json:"gate"`
		ImgOut string `json:"img_out"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if input.Gate == "" {
		input.Gate = s.gateID
	}
	ctx := c.Request.Context()
	plate := strings.ToUpper(input.Plate)

	slot, err := s.store.FindOpenSlotByPlate(ctx, plate)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	var slotID *string
	if slot != nil {
		if err := s.store.ApplyFree(ctx, slot.SlotID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
			return
		}
		slotID = &slot.SlotID
	}

	eventID := uuid.New().String()
	payload := map[string]string{"plate": input.Plate, "gate": input.Gate, "img_out": input.ImgOut}
	payloadJSON, _ := json.Marshal(payload)
	if err := s.store.Enqueue(ctx, eventID, "vehicle_out", string(payloadJSON)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	cloudPushed := false
	if s.cloud != nil && s.cloud.Healthy(ctx) {
		imgOut := input.ImgOut
		if strings.HasPrefix(imgOut, "local:") {
			if full, err := s.images.Resolve(imgOut); err == nil {
				if data, rerr := os.ReadFile(full); rerr == nil {
					if cloudPath, uerr := s.cloud.UploadImage(ctx, string(imagestore.KindOut), input.Plate, data); uerr == nil {
						imgOut = cloudPath
					}
				}
			}
		}
		result, err := s.cloud.VehicleOut(ctx, input.Plate, input.Gate, imgOut, eventID)
		if err == nil && (result.OK || result.Dedup) {
			_ = s.store.MarkDoneByEventID(ctx, eventID)
			cloudPushed = true
		}
	}
	if s.ws != nil {
		s.ws.SendSyncEvent("vehicle_out", map[string]interface{}{"plate": input.Plate, "gate": input.Gate})
	}

	c.JSON(http.StatusOK, gin.H{
		"ok": true, "local_applied": true, "cloud_pushed": cloudPushed,
		"event_id": eventID, "slot": slotID,
	})
}
