// Package gateapi is the Gate Local API of spec.md §4.6: every operation
// is local-first and succeeds when the Cloud is unreachable, applying to
// gatestore first and only best-effort pushing to the Cloud afterward. That
// push runs inside the request, bounded by gatecloud's per-call timeouts.
package gateapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meomeohuhu/ParkingDistributed/internal/clock"
	"github.com/meomeohuhu/ParkingDistributed/internal/gatecloud"
	"github.com/meomeohuhu/ParkingDistributed/internal/gatestore"
	"github.com/meomeohuhu/ParkingDistributed/internal/imagestore"
	"github.com/meomeohuhu/ParkingDistributed/internal/wsclient"
)

// Server holds everything the Gate Local API's handlers close over.
type Server struct {
	store    *gatestore.Store
	cloud    *gatecloud.Client
	ws       *wsclient.Client
	images   *imagestore.Store
	gateID   string
	cloudAPI string
	log      *zap.SugaredLogger
}

func NewServer(store *gatestore.Store, cloud *gatecloud.Client, ws *wsclient.Client, images *imagestore.Store, gateID, cloudAPI string, log *zap.SugaredLogger) *Server {
	return &Server{store: store, cloud: cloud, ws: ws, images: images, gateID: gateID, cloudAPI: cloudAPI, log: log}
}

func (s *Server) NewRouter() *gin.Engine {
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/slots", s.handleSlots)
	r.GET("/slots/map", s.handleSlotsMap)
	r.GET("/suggest_slot/:gate", s.handleSuggestSlot)
	r.POST("/upload_image_in", s.handleUploadImage(imagestore.KindIn))
	r.POST("/upload_image_out", s.handleUploadImage(imagestore.KindOut))
	r.POST("/vehicle_in", s.handleVehicleIn)
	r.POST("/vehicle_out", s.handleVehicleOut)
	r.GET("/view_image", s.handleViewImage)
	r.GET("/health", s.handleHealth)
	r.GET("/reconciliation_reports", s.handleReconciliationReports)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	lastOK, _ := s.store.GetSyncState(c.Request.Context(), gatestore.KeyLastCloudOKAt)
	var rttMS int64
	if s.ws != nil {
		rttMS = s.ws.LastRTT().Milliseconds()
	}
	c.JSON(http.StatusOK, gin.H{
		"ok": true, "gate": s.gateID, "cloud_api": s.cloudAPI,
		"last_cloud_ok_at": lastOK, "time": clock.Now(), "ws_rtt_ms": rttMS,
	})
}

func (s *Server) handleReconciliationReports(c *gin.Context) {
	reports, err := s.store.ListReconciliationReports(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "reports": reports})
}
