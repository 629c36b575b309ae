package cloudapi

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meomeohuhu/ParkingDistributed/internal/apperr"
	"github.com/meomeohuhu/ParkingDistributed/internal/clock"
	"github.com/meomeohuhu/ParkingDistributed/internal/cloudcore"
	"github.com/meomeohuhu/ParkingDistributed/internal/imagestore"
)

func (s *Server) handleWebSocket(c *gin.Context) {
	gateID := c.Param("gateid")
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "event bus disabled"})
		return
	}
	if err := s.hub.Serve(c.Writer, c.Request, gateID); err != nil {
		s.log.Warnw("websocket upgrade failed", "gate", gateID, "err", err)
	}
}

func (s *Server) handleViewImage(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		renderError(c, apperr.New("view_image", "input", apperr.BadInput, "missing path"))
		return
	}
	full, err := s.images.Resolve(path)
	if err != nil {
		renderError(c, err)
		return
	}
	c.File(full)
}

func (s *Server) handleUploadImage(kind imagestore.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		plate := c.PostForm("plate")
		if plate == "" {
			plate = c.Query("plate")
		}
		file, _, err := c.Request.FormFile("image")
		if err != nil {
			renderError(c, apperr.New("upload_image", "input", apperr.BadInput, "missing image file"))
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			renderError(c, apperr.Wrap("upload_image", "body", apperr.Internal, err))
			return
		}
		path, err := s.images.Save(kind, plate, clock.Now().Unix(), data)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "path": path})
	}
}

func (s *Server) handleTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	trans, err := s.engine.ListTransactions(c.Request.Context(), limit)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "transactions": trans})
}

func (s *Server) handleSlotInfo(c *gin.Context) {
	info, err := s.engine.SlotInfo(c.Request.Context(), c.Param("slotid"))
	if err != nil {
		renderError(c, err)
		return
	}
	if info == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true, "occupied": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "occupied": true, "info": info})
}

func (s *Server) handleSlotsMap(c *gin.Context) {
	slots, err := s.engine.SlotsMap(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "slots": slots})
}

func (s *Server) handleCreateVietQR(c *gin.Context) {
	var input struct {
		Plate  string `json:"plate" binding:"required"`
		Gate   string `json:"gate" binding:"required"`
		Amount int64  `json:"amount" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		renderError(c, apperr.New("create_vietqr", "input", apperr.BadInput, err.Error()))
		return
	}
	payment, url, err := s.engine.CreateVietQRPayment(c.Request.Context(), input.Plate, input.Gate, input.Amount)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "payment": payment, "qr_url": url})
}

func (s *Server) handleListGates(c *gin.Context) {
	gates, err := s.engine.ListGates(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	now := clock.Now()
	out := make([]gin.H, 0, len(gates))
	for _, g := range gates {
		out = append(out, gin.H{"gateid": g.GateID, "x": g.X, "y": g.Y, "last_sync": g.LastSync, "role": g.Role, "online": g.Online(now)})
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "gates": out})
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	var input struct {
		GateID string `json:"gateid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		renderError(c, apperr.New("heartbeat", "input", apperr.BadInput, err.Error()))
		return
	}
	if err := s.engine.Heartbeat(c.Request.Context(), input.GateID); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleReserveSlot(c *gin.Context) {
	var input struct {
		Gate string `json:"gate" binding:"required"`
		Slot string `json:"slot" binding:"required"`
		TTL  int    `json:"ttl"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		renderError(c, apperr.New("reserve_slot", "input", apperr.BadInput, err.Error()))
		return
	}
	ttl := time.Duration(input.TTL) * time.Second
	if err := s.engine.ReserveSlot(c.Request.Context(), input.Gate, input.Slot, ttl); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleInspectReservation(c *gin.Context) {
	info, err := s.engine.InspectReservation(c.Request.Context(), c.Param("slotid"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok": true, "slotid": info.SlotID, "owner": info.Owner,
		"remaining_seconds": info.Remaining.Seconds(),
	})
}

func (s *Server) handleSlotsForGate(c *gin.Context) {
	gateID := c.Query("gate_id")
	if gateID == "" {
		renderError(c, apperr.New("slots_for_gate", "input", apperr.BadInput, "missing gate_id"))
		return
	}
	slots, err := s.engine.SlotsForGate(c.Request.Context(), gateID)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "slots": slots})
}

func (s *Server) handleSuggestSlot(c *gin.Context) {
	slot, dist, err := s.engine.SuggestSlot(c.Request.Context(), c.Param("gateid"))
	if err != nil {
		renderError(c, err)
		return
	}
	if slot == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true, "slot": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "slot": slot, "distance": dist})
}

func (s *Server) handleVehicleIn(c *gin.Context) {
	var input struct {
		Plate   string `json:"plate" binding:"required"`
		Gate    string `json:"gate" binding:"required"`
		Slot    string `json:"slot" binding:"required"`
		ImgIn   string `json:"img_in"`
		EventID string `json:"event_id"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		renderError(c, apperr.New("vehicle_in", "input", apperr.BadInput, err.Error()))
		return
	}
	result, err := s.engine.VehicleIn(c.Request.Context(), cloudcore.VehicleInInput{
		Plate: input.Plate, Gate: input.Gate, Slot: input.Slot, ImgIn: input.ImgIn, EventID: input.EventID,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "dedup": result.Dedup})
}

func (s *Server) handleVehicleOut(c *gin.Context) {
	var input struct {
		Plate   string `json:"plate" binding:"required"`
		Gate    string `json:"gate"`
		ImgOut  string `json:"img_out"`
		EventID string `json:"event_id"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		renderError(c, apperr.New("vehicle_out", "input", apperr.BadInput, err.Error()))
		return
	}
	result, err := s.engine.VehicleOut(c.Request.Context(), cloudcore.VehicleOutInput{
		Plate: input.Plate, Gate: input.Gate, ImgOut: input.ImgOut, EventID: input.EventID,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok": true, "dedup": result.Dedup, "slot": result.Slot,
		"duration_minutes": result.DurationMinutes, "fee": result.Fee,
	})
}

func (s *Server) handleFeeQuote(c *gin.Context) {
	plate := c.Query("plate")
	if plate == "" {
		renderError(c, apperr.New("fee_quote", "input", apperr.BadInput, "missing plate"))
		return
	}
	quote, err := s.engine.FeeQuote(c.Request.Context(), plate)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "quote": quote})
}

func (s *Server) handleAddSlot(c *gin.Context) {
	var input struct {
		SlotID string  `json:"slotid" binding:"required"`
		Zone   string  `json:"zone"`
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		renderError(c, apperr.New("add_slot", "input", apperr.BadInput, err.Error()))
		return
	}
	if err := s.engine.AddSlot(c.Request.Context(), input.SlotID, input.Zone, input.X, input.Y); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true})
}

func (s *Server) handleUpdateSlot(c *gin.Context) {
	var input struct {
		Zone string  `json:"zone"`
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		renderError(c, apperr.New("update_slot", "input", apperr.BadInput, err.Error()))
		return
	}
	if err := s.engine.UpdateSlot(c.Request.Context(), c.Param("slotid"), input.Zone, input.X, input.Y); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleDeleteSlot(c *gin.Context) {
	if err := s.engine.DeleteSlot(c.Request.Context(), c.Param("slotid")); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleLayoutGrid(c *gin.Context) {
	width, err := strconv.Atoi(c.Param("width"))
	if err != nil {
		renderError(c, apperr.New("layout_grid", "input", apperr.BadInput, "width must be an integer"))
		return
	}
	if err := s.engine.LayoutGrid(c.Request.Context(), width); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleCreateManualPayment(c *gin.Context) {
	var input struct {
		Plate  string `json:"plate" binding:"required"`
		Gate   string `json:"gate" binding:"required"`
		Amount int64  `json:"amount" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		renderError(c, apperr.New("create_manual_payment", "input", apperr.BadInput, err.Error()))
		return
	}
	payment, err := s.engine.CreateManualPayment(c.Request.Context(), input.Plate, input.Gate, input.Amount)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "payment": payment})
}

func (s *Server) handleConfirmManualPayment(c *gin.Context) {
	var input struct {
		PaymentID string `json:"payment_id" binding:"required"`
		Plate     string `json:"plate"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		renderError(c, apperr.New("confirm_manual_payment", "input", apperr.BadInput, err.Error()))
		return
	}
	payment, err := s.engine.ConfirmManualPayment(c.Request.Context(), input.PaymentID)
	if err != nil {
		renderError(c, err)
		return
	}
	if input.Plate != "" {
		_ = s.engine.LinkPayment(c.Request.Context(), input.Plate, payment.PaymentID)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "payment": payment})
}

func (s *Server) handleConfirmCashPayment(c *gin.Context) {
	var input struct {
		Plate  string `json:"plate" binding:"required"`
		Gate   string `json:"gate" binding:"required"`
		Amount int64  `json:"amount" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		renderError(c, apperr.New("confirm_cash_payment", "input", apperr.BadInput, err.Error()))
		return
	}
	payment, err := s.engine.ConfirmCashPayment(c.Request.Context(), input.Plate, input.Gate, input.Amount)
	if err != nil {
		renderError(c, err)
		return
	}
	_ = s.engine.LinkPayment(c.Request.Context(), input.Plate, payment.PaymentID)
	c.JSON(http.StatusOK, gin.H{"ok": true, "payment": payment})
}
