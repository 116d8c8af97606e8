package oobd

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/edgefleet/oobd/internal/filestore"
	"github.com/edgefleet/oobd/internal/storage"
	"github.com/edgefleet/oobd/pkg/oid"
)

// sweepPageSize bounds how many operations a reaper page loads.
const sweepPageSize = 100

// Engine owns the operation lifecycle: creating operations, serving
// device polls, applying status reports, accepting file uploads, and
// sweeping stale rows. All status transitions go through conditional
// updates, so concurrent writers cannot resurrect a terminal operation.
type Engine struct {
	store    *storage.Store
	files    filestore.Store
	events   Publisher
	auth     *Authenticator
	settings Settings
}

func NewEngine(store *storage.Store, files filestore.Store, events Publisher, auth *Authenticator, settings Settings) *Engine {
	return &Engine{store: store, files: files, events: events, auth: auth, settings: settings}
}

// RegisterAsset creates or re-registers an asset and returns the device
// bearer token.
func (e *Engine) RegisterAsset(ctx context.Context, tenantID, assetID string) (string, error) {
	token, err := e.auth.CreateAsset(ctx, tenantID, assetID)
	if err != nil {
		return "", err
	}
	e.events.Publish(&Event{Type: EventTokenGenerate, TenantID: tenantID, AssetID: assetID})
	return token, nil
}

// Poll serves a device's request for work. reportedBootID comes from
// the X-OOB header and may be empty.
//
// The poll first settles bookkeeping: a boot-id change completes
// acknowledged Reboot operations, and operations out of tries are
// failed. What survives is returned oldest first, with delivery tries
// counted for everything the device already acknowledged. A failure
// handling one operation skips that operation, not the whole poll.
func (e *Engine) Poll(ctx context.Context, asset *storage.Asset, reportedBootID string) ([]EdgeOperation, error) {
	metricPollsTotal.Inc()

	ops, err := e.store.ListOperations(ctx, asset.TenantID, storage.OperationFilter{
		AssetID:  asset.AssetID,
		Statuses: NonTerminalStatuses,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list pending operations")
	}

	completed, updateBootID := DetectReboot(asset.BootID, reportedBootID, ops)
	completedIDs := make(map[oid.OID]bool, len(completed))
	for _, op := range completed {
		if err := e.finishOperation(ctx, op, StatusSuccess, ""); err != nil {
			log.Warn().Err(err).Str("operationId", op.ID.Hex()).Msg("reboot completion not applied")
			continue
		}
		completedIDs[op.ID] = true
	}
	if updateBootID {
		if err := e.store.SetAssetBootID(ctx, asset.TenantID, asset.AssetID, reportedBootID); err != nil {
			return nil, errors.Wrap(err, "store boot id")
		}
	}

	var deliver []*storage.Operation
	var acknowledged []oid.OID
	for _, op := range ops {
		if completedIDs[op.ID] {
			continue
		}
		if op.Tries >= e.settings.MaxOperationTries {
			detail := fmt.Sprintf("Device failed to complete operation after %d tries", op.Tries)
			if err := e.finishOperation(ctx, op, StatusFailed, detail); err != nil {
				log.Warn().Err(err).Str("operationId", op.ID.Hex()).Msg("tries exhaustion not applied")
			}
			continue
		}
		if op.Status != StatusCreated {
			acknowledged = append(acknowledged, op.ID)
		}
		deliver = append(deliver, op)
	}

	if err := e.store.IncrementTries(ctx, acknowledged); err != nil {
		return nil, errors.Wrap(err, "count delivery tries")
	}

	out := make([]EdgeOperation, 0, len(deliver))
	for _, op := range deliver {
		// Unknown kinds still accrue tries above, so they expire like
		// everything else, but they are never handed to the device.
		if !IsKnownName(op.Name) {
			log.Warn().Str("operationId", op.ID.Hex()).Str("name", op.Name).Msg("dropping operation of unknown kind")
			continue
		}
		edge, err := e.toEdgeOperation(op)
		if err != nil {
			log.Warn().Err(err).Str("operationId", op.ID.Hex()).Msg("operation not serializable for device")
			continue
		}
		out = append(out, edge)
	}
	return out, nil
}

// toEdgeOperation builds the device-facing view. Created status and
// Reboot parameters are omitted; SendFiles parameters gain the upload
// destination.
func (e *Engine) toEdgeOperation(op *storage.Operation) (EdgeOperation, error) {
	edge := EdgeOperation{
		ID:         op.ID.Hex(),
		Name:       op.Name,
		Parameters: op.Parameters,
	}
	if op.Name == NameReboot {
		// A reboot takes no arguments.
		edge.Parameters = nil
	}
	if op.Status != StatusCreated {
		edge.Status = op.Status
	}
	if op.Name == NameSendFiles && op.UploadToken != "" {
		params := map[string]interface{}{}
		if len(op.Parameters) > 0 {
			if err := json.Unmarshal(op.Parameters, &params); err != nil {
				return EdgeOperation{}, errors.Wrap(err, "decode parameters")
			}
		}
		params["destination"] = fmt.Sprintf("%s/api/oob/operations/%s/upload?uploadToken=%s",
			e.settings.APIHost, op.ID.Hex(), op.UploadToken)
		raw, err := json.Marshal(params)
		if err != nil {
			return EdgeOperation{}, errors.Wrap(err, "encode parameters")
		}
		edge.Parameters = raw
	}
	return edge, nil
}

// DeviceReport is a device's status update for one operation.
type DeviceReport struct {
	Status            string
	AdditionalDetails *string
	Progress          *ProgressView
}

// ApplyDeviceUpdate applies a device's status report. The update only
// lands while the operation is non-terminal; losing that race is not an
// error, because the device cannot act on a failure anyway.
func (e *Engine) ApplyDeviceUpdate(ctx context.Context, asset *storage.Asset, id oid.OID, report DeviceReport) error {
	op, err := e.store.GetAssetOperation(ctx, asset.TenantID, asset.AssetID, id)
	if err != nil {
		return errors.Wrap(err, "fetch operation")
	}
	if op == nil {
		return NotFound("operation %s not found", id.Hex())
	}

	update := storage.OperationUpdate{
		Status:            report.Status,
		AdditionalDetails: report.AdditionalDetails,
	}
	if report.Progress != nil {
		update.Progress = &storage.Progress{Position: report.Progress.Position, Size: report.Progress.Size}
	}
	if op.Status == StatusCreated {
		// First acknowledgment counts as the first delivery.
		one := 1
		update.Tries = &one
	}

	updated, err := e.store.UpdateOperationWhereStatus(ctx, asset.TenantID, asset.AssetID, id, update, NonTerminalStatuses)
	if err != nil {
		return errors.Wrap(err, "apply device update")
	}
	if !updated {
		metricTransitionRaces.Inc()
		logEvent := log.Info()
		if IsTerminal(report.Status) {
			logEvent = log.Warn()
		}
		logEvent.Str("operationId", id.Hex()).Str("status", report.Status).Msg("device update lost status race")
		return nil
	}

	metricOperationTransitions.WithLabelValues(report.Status).Inc()
	e.events.Publish(&Event{
		Type:     EventOperationUpdate,
		TenantID: asset.TenantID,
		AssetID:  asset.AssetID,
		Payload: map[string]interface{}{
			"id":     id.Hex(),
			"status": report.Status,
		},
	})
	return nil
}

// Upload accepts a device's file for a SendFiles operation. The
// supplied token must match the stored one exactly; comparison is
// constant time so the token cannot be probed byte by byte.
func (e *Engine) Upload(ctx context.Context, id oid.OID, suppliedToken string, body io.Reader) error {
	op, err := e.store.GetOperation(ctx, id)
	if err != nil {
		return errors.Wrap(err, "fetch operation")
	}
	if op == nil {
		metricUploadsTotal.WithLabelValues("rejected").Inc()
		return NotFound("operation %s not found", id.Hex())
	}
	if op.Name != NameSendFiles || op.UploadToken == "" {
		metricUploadsTotal.WithLabelValues("rejected").Inc()
		return BadRequest("operation accepts no uploads")
	}
	if IsTerminal(op.Status) {
		metricUploadsTotal.WithLabelValues("rejected").Inc()
		return BadRequest("operation already finished")
	}
	if subtle.ConstantTimeCompare([]byte(op.UploadToken), []byte(suppliedToken)) != 1 {
		metricUploadsTotal.WithLabelValues("rejected").Inc()
		return Unauthorized("invalid upload token")
	}

	if err := e.files.Upload(ctx, fileKey(op), body); err != nil {
		metricUploadsTotal.WithLabelValues("error").Inc()
		return errors.Wrap(err, "store uploaded file")
	}
	metricUploadsTotal.WithLabelValues("ok").Inc()
	return nil
}

// CreateOperation queues a new operation for an asset. The soft cap on
// pending operations keeps a dead device from accumulating unbounded
// work.
func (e *Engine) CreateOperation(ctx context.Context, tenantID, assetID, name string, parameters json.RawMessage) (oid.OID, error) {
	if !IsKnownName(name) {
		return oid.Zero, BadRequest("unknown operation name %q", name)
	}
	asset, err := e.store.GetAsset(ctx, tenantID, assetID)
	if err != nil {
		return oid.Zero, errors.Wrap(err, "fetch asset")
	}
	if asset == nil {
		return oid.Zero, NotFound("asset %q not found", assetID)
	}

	pending, err := e.store.CountOperations(ctx, tenantID, assetID, NonTerminalStatuses)
	if err != nil {
		return oid.Zero, errors.Wrap(err, "count pending operations")
	}
	if pending >= e.settings.MaxPendingPerAsset {
		return oid.Zero, BadRequest("asset has %d unfinished operations, limit is %d", pending, e.settings.MaxPendingPerAsset)
	}

	op := &storage.Operation{
		TenantID:   tenantID,
		AssetID:    assetID,
		ID:         oid.New(),
		Name:       name,
		Status:     StatusCreated,
		Parameters: parameters,
	}
	if name == NameSendFiles {
		raw := make([]byte, e.settings.UploadTokenBytes)
		if _, err := rand.Read(raw); err != nil {
			return oid.Zero, errors.Wrap(err, "generate upload token")
		}
		op.UploadToken = hex.EncodeToString(raw)
	}
	if err := e.store.CreateOperation(ctx, op); err != nil {
		return oid.Zero, errors.Wrap(err, "store operation")
	}

	metricOperationsCreated.WithLabelValues(name).Inc()
	e.events.Publish(&Event{
		Type:     EventOperationCreate,
		TenantID: tenantID,
		AssetID:  assetID,
		Payload: map[string]interface{}{
			"id":   op.ID.Hex(),
			"name": name,
		},
	})
	return op.ID, nil
}

// CancelOperation cancels an operation the device has not yet seen.
// Once acknowledged, the device may already be acting on it, so
// cancellation is refused.
func (e *Engine) CancelOperation(ctx context.Context, tenantID, assetID string, id oid.OID) error {
	op, err := e.store.GetAssetOperation(ctx, tenantID, assetID, id)
	if err != nil {
		return errors.Wrap(err, "fetch operation")
	}
	if op == nil {
		return NotFound("operation %s not found", id.Hex())
	}

	updated, err := e.store.UpdateOperationWhereStatus(ctx, tenantID, assetID, id,
		storage.OperationUpdate{Status: StatusCancelled}, []string{StatusCreated})
	if err != nil {
		return errors.Wrap(err, "cancel operation")
	}
	if !updated {
		return BadRequest("operation already delivered to the device")
	}

	metricOperationTransitions.WithLabelValues(StatusCancelled).Inc()
	e.events.Publish(&Event{
		Type:     EventOperationUpdate,
		TenantID: tenantID,
		AssetID:  assetID,
		Payload: map[string]interface{}{
			"id":     id.Hex(),
			"status": StatusCancelled,
		},
	})
	return nil
}

// ListAssets returns the management view of a tenant's assets.
func (e *Engine) ListAssets(ctx context.Context, tenantID string, filter storage.AssetFilter) ([]AssetView, error) {
	assets, err := e.store.ListAssets(ctx, tenantID, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list assets")
	}
	out := make([]AssetView, 0, len(assets))
	for _, asset := range assets {
		out = append(out, AssetView{
			TenantID:   asset.TenantID,
			AssetID:    asset.AssetID,
			BootID:     asset.BootID,
			LastActive: asset.LastActive,
		})
	}
	return out, nil
}

// ListOperations returns the management view of a tenant's operations.
func (e *Engine) ListOperations(ctx context.Context, tenantID string, filter storage.OperationFilter) ([]OperationView, error) {
	ops, err := e.store.ListOperations(ctx, tenantID, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list operations")
	}
	out := make([]OperationView, 0, len(ops))
	for _, op := range ops {
		out = append(out, toOperationView(op))
	}
	return out, nil
}

// GetOperation returns the management view of one operation.
func (e *Engine) GetOperation(ctx context.Context, tenantID, assetID string, id oid.OID) (*OperationView, error) {
	op, err := e.store.GetAssetOperation(ctx, tenantID, assetID, id)
	if err != nil {
		return nil, errors.Wrap(err, "fetch operation")
	}
	if op == nil {
		return nil, NotFound("operation %s not found", id.Hex())
	}
	view := toOperationView(op)
	return &view, nil
}

// DownloadLink returns a URL for the file a completed SendFiles
// operation collected.
func (e *Engine) DownloadLink(ctx context.Context, tenantID, assetID string, id oid.OID) (string, error) {
	op, err := e.store.GetAssetOperation(ctx, tenantID, assetID, id)
	if err != nil {
		return "", errors.Wrap(err, "fetch operation")
	}
	if op == nil {
		return "", NotFound("operation %s not found", id.Hex())
	}
	if op.Name != NameSendFiles {
		return "", BadRequest("operation %s collects no files", id.Hex())
	}
	if op.Status != StatusSuccess {
		return "", BadRequest("operation %s has not completed", id.Hex())
	}
	link, err := e.files.DownloadLink(ctx, fileKey(op), e.settings.DownloadLinkTTL)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return "", NotFound("no file stored for operation %s", id.Hex())
		}
		return "", errors.Wrap(err, "build download link")
	}
	return link, nil
}

// DeleteAsset removes an asset and everything it owns: unfinished
// operations are failed (with events), collected files are removed,
// and the rows cascade away.
func (e *Engine) DeleteAsset(ctx context.Context, tenantID, assetID string) error {
	asset, err := e.store.GetAsset(ctx, tenantID, assetID)
	if err != nil {
		return errors.Wrap(err, "fetch asset")
	}
	if asset == nil {
		return NotFound("asset %q not found", assetID)
	}

	ops, err := e.store.ListOperations(ctx, tenantID, storage.OperationFilter{AssetID: assetID})
	if err != nil {
		return errors.Wrap(err, "list asset operations")
	}
	for _, op := range ops {
		if !IsTerminal(op.Status) {
			if err := e.finishOperation(ctx, op, StatusFailed, DetailTimedOut); err != nil {
				log.Warn().Err(err).Str("operationId", op.ID.Hex()).Msg("operation not failed during asset delete")
			}
		}
		e.removeFile(ctx, op)
	}

	if err := e.store.DeleteAsset(ctx, tenantID, assetID); err != nil {
		return errors.Wrap(err, "delete asset")
	}
	e.auth.InvalidateAsset(assetID)
	e.events.Publish(&Event{Type: EventAssetDelete, TenantID: tenantID, AssetID: assetID})
	return nil
}

// CheckpointFunc is invoked after each sweep page with the id cursor
// reached, so long sweeps can persist progress.
type CheckpointFunc func(cursor oid.OID) error

// SweepTimeouts fails every non-terminal operation created before
// cutoff and removes any file it collected. Returns how many
// operations were failed.
func (e *Engine) SweepTimeouts(ctx context.Context, cutoff time.Time, checkpoint CheckpointFunc) (int, error) {
	timer := prometheus.NewTimer(metricSweepDuration.WithLabelValues("timeout"))
	defer timer.ObserveDuration()

	max := oid.FromTime(cutoff)
	swept := 0
	err := e.sweep(ctx, storage.OperationFilter{Statuses: NonTerminalStatuses, IDMax: &max}, checkpoint, func(op *storage.Operation) error {
		if err := e.finishOperation(ctx, op, StatusFailed, DetailTimedOut); err != nil {
			return err
		}
		e.removeFile(ctx, op)
		metricSweptOperations.WithLabelValues("timeout").Inc()
		swept++
		return nil
	})
	return swept, err
}

// SweepRetention deletes terminal operations created before cutoff,
// together with their files. Returns how many rows were deleted.
func (e *Engine) SweepRetention(ctx context.Context, cutoff time.Time, checkpoint CheckpointFunc) (int, error) {
	timer := prometheus.NewTimer(metricSweepDuration.WithLabelValues("retention"))
	defer timer.ObserveDuration()

	max := oid.FromTime(cutoff)
	swept := 0
	err := e.sweep(ctx, storage.OperationFilter{Statuses: TerminalStatuses, IDMax: &max}, checkpoint, func(op *storage.Operation) error {
		e.removeFile(ctx, op)
		if err := e.store.DeleteOperation(ctx, op.ID); err != nil {
			return errors.Wrap(err, "delete operation row")
		}
		metricSweptOperations.WithLabelValues("retention").Inc()
		swept++
		return nil
	})
	return swept, err
}

// sweep pages through operations matching filter, applying visit to
// each. A page failure aborts the sweep; progress up to the last
// checkpoint is kept.
func (e *Engine) sweep(ctx context.Context, filter storage.OperationFilter, checkpoint CheckpointFunc, visit func(*storage.Operation) error) error {
	filter.Limit = sweepPageSize
	for {
		ops, err := e.store.ListOperations(ctx, "", filter)
		if err != nil {
			return errors.Wrap(err, "load sweep page")
		}
		if len(ops) == 0 {
			return nil
		}
		for _, op := range ops {
			if err := visit(op); err != nil {
				return err
			}
		}
		cursor := ops[len(ops)-1].ID
		if checkpoint != nil {
			if err := checkpoint(cursor); err != nil {
				return errors.Wrap(err, "sweep checkpoint")
			}
		}
		filter.IDAfter = &cursor
	}
}

// finishOperation moves op to a terminal status if it is still
// non-terminal, and publishes the transition. Losing the race is fine:
// someone else finished it first.
func (e *Engine) finishOperation(ctx context.Context, op *storage.Operation, status, detail string) error {
	update := storage.OperationUpdate{Status: status}
	if detail != "" {
		update.AdditionalDetails = &detail
	}
	updated, err := e.store.UpdateOperationWhereStatus(ctx, op.TenantID, op.AssetID, op.ID, update, NonTerminalStatuses)
	if err != nil {
		return err
	}
	if !updated {
		metricTransitionRaces.Inc()
		return nil
	}
	metricOperationTransitions.WithLabelValues(status).Inc()
	e.events.Publish(&Event{
		Type:     EventOperationUpdate,
		TenantID: op.TenantID,
		AssetID:  op.AssetID,
		Payload: map[string]interface{}{
			"id":     op.ID.Hex(),
			"status": status,
		},
	})
	return nil
}

// removeFile deletes the stored file for a SendFiles operation, if any.
// An object-store failure here is logged, not returned: cleanup must not
// block sweeps or asset deletion.
func (e *Engine) removeFile(ctx context.Context, op *storage.Operation) {
	if op.Name != NameSendFiles {
		return
	}
	if err := e.files.Delete(ctx, fileKey(op)); err != nil {
		log.Warn().Err(err).Str("operationId", op.ID.Hex()).Msg("stored file not removed")
	}
}

func fileKey(op *storage.Operation) string {
	return op.TenantID + "/" + op.ID.Hex()
}

func toOperationView(op *storage.Operation) OperationView {
	view := OperationView{
		ID:                op.ID.Hex(),
		TenantID:          op.TenantID,
		AssetID:           op.AssetID,
		Name:              op.Name,
		Status:            op.Status,
		Tries:             op.Tries,
		AdditionalDetails: op.AdditionalDetails,
		Parameters:        op.Parameters,
		CreatedAt:         op.ID.Time(),
	}
	if op.Progress != nil {
		view.Progress = &ProgressView{Position: op.Progress.Position, Size: op.Progress.Size}
	}
	return view
}
