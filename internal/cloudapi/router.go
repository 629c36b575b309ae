// Package cloudapi is the Cloud HTTP surface of spec.md §6: gin routes,
// JWT auth middleware, and the handlers that translate requests into
// internal/cloudcore.Engine calls, in the teacher's gin.Default()+gin.H
// style generalized to the new domain.
package cloudapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meomeohuhu/ParkingDistributed/internal/cloudcore"
	"github.com/meomeohuhu/ParkingDistributed/internal/eventbus"
	"github.com/meomeohuhu/ParkingDistributed/internal/imagestore"
)

// Server holds everything the route handlers close over.
type Server struct {
	engine *cloudcore.Engine
	hub    *eventbus.Hub
	images *imagestore.Store
	secret string
	log    *zap.SugaredLogger
}

// NewServer wires a Server. hub may be nil only in tests that do not
// exercise the websocket endpoint.
func NewServer(engine *cloudcore.Engine, hub *eventbus.Hub, images *imagestore.Store, secret string, log *zap.SugaredLogger) *Server {
	return &Server{engine: engine, hub: hub, images: images, secret: secret, log: log}
}

// NewRouter builds the gin.Engine with every route of spec §6 wired up.
func (s *Server) NewRouter() *gin.Engine {
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/health", s.handleHealth)
	r.POST("/login", s.handleLogin)
	r.GET("/view_image", s.handleViewImage)
	r.POST("/upload_image_in", s.handleUploadImage(imagestore.KindIn))
	r.POST("/upload_image_out", s.handleUploadImage(imagestore.KindOut))
	r.GET("/transactions", s.handleTransactions)
	r.GET("/slot_info/:slotid", s.handleSlotInfo)
	r.GET("/slots/map", s.handleSlotsMap)
	r.POST("/payments/vietqr/create", s.handleCreateVietQR)

	r.GET("/ws/gate/:gateid", s.handleWebSocket)

	authed := r.Group("/")
	authed.Use(s.AuthMiddleware())
	{
		authed.GET("/gates", s.handleListGates)
		authed.POST("/heartbeat", s.handleHeartbeat)
		authed.POST("/reserve_slot", s.handleReserveSlot)
		authed.GET("/reserve_slot/:slotid", s.handleInspectReservation)
		authed.GET("/slots", s.handleSlotsForGate)
		authed.GET("/suggest_slot/:gateid", s.handleSuggestSlot)
		authed.POST("/vehicle_in", s.handleVehicleIn)
		authed.POST("/vehicle_out", s.handleVehicleOut)
		authed.GET("/fee", s.handleFeeQuote)

		authed.POST("/admin/slots", s.handleAddSlot)
		authed.PUT("/admin/slots/:slotid", s.handleUpdateSlot)
		authed.DELETE("/admin/slots/:slotid", s.handleDeleteSlot)
		authed.POST("/admin/slots/layout_grid/:width", s.handleLayoutGrid)

		authed.POST("/payments/manual/create", s.handleCreateManualPayment)
		authed.POST("/payments/manual/confirm", s.handleConfirmManualPayment)
		authed.POST("/payments/cash/confirm", s.handleConfirmCashPayment)
	}

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
}
