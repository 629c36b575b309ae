// Package reconciler runs the Gate's two background workers (spec.md
// §4.7): the Snapshot Puller, which heals divergence by overwriting local
// state from the Cloud's authoritative snapshot, and the Queue Drainer,
// which retries the durable outbox until the Cloud acknowledges or
// permanently rejects each event.
package reconciler

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/meomeohuhu/ParkingDistributed/internal/clock"
	"github.com/meomeohuhu/ParkingDistributed/internal/gatecloud"
	"github.com/meomeohuhu/ParkingDistributed/internal/gatestore"
	"github.com/meomeohuhu/ParkingDistributed/internal/imagestore"
)

const (
	snapshotTick = 3 * time.Second
	drainTick    = 2 * time.Second
	drainBatch   = 50
)

// SnapshotPuller pulls GET /slots/map every tick and upserts every row into
// the local store, the reconvergence point for any divergence caused by
// optimistic local apply or missed bus events.
type SnapshotPuller struct {
	store *gatestore.Store
	cloud *gatecloud.Client
	log   *zap.SugaredLogger
}

func NewSnapshotPuller(store *gatestore.Store, cloud *gatecloud.Client, log *zap.SugaredLogger) *SnapshotPuller {
	return &SnapshotPuller{store: store, cloud: cloud, log: log}
}

// Run loops until ctx is cancelled.
func (p *SnapshotPuller) Run(ctx context.Context) {
	ticker := time.NewTicker(snapshotTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *SnapshotPuller) tick(ctx context.Context) {
	if !p.cloud.Healthy(ctx) {
		return
	}
	remote, err := p.cloud.SlotsMap(ctx)
	if err != nil {
		p.log.Debugw("snapshot pull failed", "err", err)
		return
	}
	slots := make([]gatestore.SlotLocal, 0, len(remote))
	for _, r := range remote {
		slots = append(slots, gatestore.SlotLocal{
			SlotID: r.SlotID, Zone: r.Zone, X: r.X, Y: r.Y,
			Occupied: r.Occupied, Plate: r.Plate, Version: r.Version,
		})
	}
	if err := p.store.UpsertFromSnapshot(ctx, slots); err != nil {
		p.log.Warnw("snapshot upsert failed", "err", err)
		return
	}
	_ = p.store.SetSyncState(ctx, gatestore.KeyLastCloudOKAt, clock.Now().Format(time.RFC3339))
}

// QueueDrainer retries pending outbox events against the Cloud in
// created_at order, at-least-once; the Cloud's ProcessedEvent ledger
// collapses duplicates to exactly-once effect.
type QueueDrainer struct {
	store  *gatestore.Store
	cloud  *gatecloud.Client
	images *imagestore.Store
	log    *zap.SugaredLogger
}

func NewQueueDrainer(store *gatestore.Store, cloud *gatecloud.Client, images *imagestore.Store, log *zap.SugaredLogger) *QueueDrainer {
	return &QueueDrainer{store: store, cloud: cloud, images: images, log: log}
}

func (d *QueueDrainer) Run(ctx context.Context) {
	ticker := time.NewTicker(drainTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *QueueDrainer) tick(ctx context.Context) {
	if !d.cloud.Healthy(ctx) {
		return
	}
	events, err := d.store.PendingEvents(ctx, drainBatch)
	if err != nil {
		d.log.Warnw("pending_events failed", "err", err)
		return
	}
	for _, ev := range events {
		d.drain(ctx, ev)
	}
}

func (d *QueueDrainer) drain(ctx context.Context, ev gatestore.QueuedEvent) {
	var payload map[string]string
	if err := json.Unmarshal([]byte(ev.Payload), &payload); err != nil {
		d.log.Warnw("queued event has malformed payload, dropping", "event_id", ev.EventID, "err", err)
		_ = d.store.MarkDone(ctx, ev.ID)
		return
	}

	imgKey := "img_in"
	kind := imagestore.KindIn
	if ev.EventType == "vehicle_out" {
		imgKey = "img_out"
		kind = imagestore.KindOut
	}
	if imgPath := payload[imgKey]; len(imgPath) > 6 && imgPath[:6] == "local:" {
		if full, err := d.images.Resolve(imgPath); err == nil {
			if data, err := os.ReadFile(full); err == nil {
				if cloudPath, err := d.cloud.UploadImage(ctx, string(kind), payload["plate"], data); err == nil {
					payload[imgKey] = cloudPath
					rewritten, _ := json.Marshal(payload)
					_ = d.store.UpdatePayload(ctx, ev.ID, string(rewritten))
				}
			}
		}
	}

	var result gatecloud.MutationResult
	var err error
	switch ev.EventType {
	case "vehicle_in":
		result, err = d.cloud.VehicleIn(ctx, payload["plate"], payload["gate"], payload["slot"], payload[imgKey], ev.EventID)
	case "vehicle_out":
		result, err = d.cloud.VehicleOut(ctx, payload["plate"], payload["gate"], payload[imgKey], ev.EventID)
	default:
		d.log.Warnw("unknown queued event type", "type", ev.EventType)
		_ = d.store.MarkDone(ctx, ev.ID)
		return
	}

	if err != nil {
		return // stays pending, retried next tick
	}
	if result.Conflict {
		_ = d.store.MarkDone(ctx, ev.ID)
		_ = d.store.AppendReconciliationReport(ctx, ev.EventID, ev.EventType, ev.Payload,
			"cloud rejected with CONFLICT: slot or plate state diverged from authoritative state")
		return
	}
	if result.OK || result.Dedup {
		_ = d.store.MarkDone(ctx, ev.ID)
	}
}
