// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cartographus-sync/internal/cms"
	"github.com/tomtom215/cartographus-sync/internal/logging"
	"github.com/tomtom215/cartographus-sync/internal/metrics"
	"github.com/tomtom215/cartographus-sync/internal/store"
	"github.com/tomtom215/cartographus-sync/internal/syncerr"
	"github.com/tomtom215/cartographus-sync/internal/wire"
)

// Source tags where the change being applied originated.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// ConflictStrategy selects how ResolveConflict builds the payload for a
// merge resolution when no merged payload is supplied: lastWriterWins keeps
// the side with the later updatedAt, and every other value (merge, and the
// default manual) shallow-merges. Apply never resolves a conflict itself; it
// logs every conflict it detects for resolution.
type ConflictStrategy string

const (
	StrategyManual         ConflictStrategy = "manual"
	StrategyMerge          ConflictStrategy = "merge"
	StrategyLastWriterWins ConflictStrategy = "lastWriterWins"
)

// MediaSyncer is the subset of the media-mirror service (§4.K) the
// resolver needs: rewriting URLs and mirroring file objects inline with
// apply, without syncengine importing the object-store client directly.
type MediaSyncer interface {
	SyncContentMedia(ctx context.Context, data json.RawMessage) json.RawMessage
	ProcessReplicaFileRecords(ctx context.Context, records []wire.FileRecord) map[string]string
	UpdateContentFileIds(data json.RawMessage, mapping map[string]string) json.RawMessage
}

// Resolver implements §4.F: applying incoming changes to the CMS, conflict
// detection, and manual/auto conflict resolution.
type Resolver struct {
	db       *store.DB
	adapter  cms.Adapter
	media    MediaSyncer // nil disables media mirroring
	strategy ConflictStrategy
}

// NewResolver builds a Resolver. media may be nil if media mirroring is
// disabled.
func NewResolver(db *store.DB, adapter cms.Adapter, media MediaSyncer, strategy ConflictStrategy) *Resolver {
	if strategy == "" {
		strategy = StrategyManual
	}
	return &Resolver{db: db, adapter: adapter, media: media, strategy: strategy}
}

// Apply implements the §4.F algorithm. For source=local the CMS write has
// already happened and this only bumps the version and marks the entity
// synced — a host that writes through cms.Adapter directly rather than via
// the Interceptor's middleware hook calls Apply itself with SourceLocal
// to get the same version bookkeeping the Interceptor's handleReplica/
// handleMaster otherwise does inline. For source=remote the full
// reject/conflict-check/dispatch pipeline runs.
func (r *Resolver) Apply(ctx context.Context, msg *wire.SyncMessage, source Source) error {
	start := time.Now()
	defer func() { metrics.RecordApply(time.Since(start)) }()

	if !r.adapter.KnownContentType(msg.ContentType) {
		return syncerr.NewPermanent("apply", fmt.Errorf("%w: %s", syncerr.ErrUnknownContentType, msg.ContentType))
	}

	if source == SourceLocal {
		if _, err := r.db.Metadata().IncrementVersion(ctx, msg.ContentType, msg.ContentID, msg.ShipID); err != nil {
			return syncerr.NewRetryable("apply.increment_version", err)
		}
		if msg.Operation == wire.OpDelete {
			if err := r.db.Metadata().Delete(ctx, msg.ContentType, msg.ContentID); err != nil {
				return syncerr.NewRetryable("apply.delete_metadata", err)
			}
			return nil
		}
		return r.markSyncedOrRetry(ctx, msg)
	}

	localData, getErr := r.adapter.Get(ctx, msg.ContentType, msg.ContentID)
	localExists := getErr == nil
	if getErr != nil && !errors.Is(getErr, cms.ErrNotFound) {
		return syncerr.NewRetryable("apply.get", getErr)
	}

	meta, metaErr := r.db.Metadata().Get(ctx, msg.ContentType, msg.ContentID)
	metaExists := metaErr == nil
	if metaErr != nil && !errors.Is(metaErr, store.ErrMetadataNotFound) {
		return syncerr.NewRetryable("apply.get_metadata", metaErr)
	}

	if localExists && metaExists {
		hasConflict, fields, kind := detectConflict(meta.SyncVersion, msg.Version, localData, msg.Data)
		if hasConflict {
			metrics.ConflictsTotal.WithLabelValues(string(kind)).Inc()
			if err := r.db.Conflicts().Upsert(ctx, &store.ConflictLogEntry{
				ContentType:       msg.ContentType,
				EntityID:          msg.ContentID,
				LocalData:         localData,
				RemoteData:        msg.Data,
				ConflictingFields: fields,
				ConflictType:      kind,
			}); err != nil {
				return syncerr.NewRetryable("apply.log_conflict", err)
			}
			if err := r.db.Metadata().MarkConflict(ctx, msg.ContentType, msg.ContentID); err != nil {
				return syncerr.NewRetryable("apply.mark_conflict", err)
			}
			logging.Warn().Str("contentType", msg.ContentType).Str("entityId", msg.ContentID).
				Strs("fields", fields).Str("kind", string(kind)).Msg("sync conflict detected, not applying")
			return nil
		}
	}

	data := msg.Data
	if r.media != nil {
		data = r.media.SyncContentMedia(ctx, data)
	}
	if r.media != nil && len(msg.FileRecords) > 0 {
		mapping := r.media.ProcessReplicaFileRecords(ctx, msg.FileRecords)
		data = r.media.UpdateContentFileIds(data, mapping)
	}

	switch msg.Operation {
	case wire.OpCreate:
		if localExists {
			logging.Warn().Str("contentType", msg.ContentType).Str("entityId", msg.ContentID).
				Msg("dropping create for entity that already exists locally")
			return nil
		}
		if err := r.adapter.Create(ctx, msg.ContentType, msg.ContentID, data); err != nil {
			return syncerr.NewRetryable("apply.create", err)
		}
	case wire.OpUpdate, wire.OpPublish:
		if !localExists {
			logging.Warn().Str("contentType", msg.ContentType).Str("entityId", msg.ContentID).
				Msg("dropping update for entity absent locally")
			return nil
		}
		if err := r.adapter.Update(ctx, msg.ContentType, msg.ContentID, data); err != nil {
			return syncerr.NewRetryable("apply.update", err)
		}
	case wire.OpDelete:
		if localExists {
			if err := r.adapter.Delete(ctx, msg.ContentType, msg.ContentID); err != nil {
				return syncerr.NewRetryable("apply.delete", err)
			}
		}
		if err := r.db.Metadata().Delete(ctx, msg.ContentType, msg.ContentID); err != nil {
			return syncerr.NewRetryable("apply.delete_metadata", err)
		}
		return nil
	default:
		return syncerr.NewPermanent("apply", fmt.Errorf("unknown operation %q", msg.Operation))
	}

	if _, err := r.db.Metadata().IncrementVersion(ctx, msg.ContentType, msg.ContentID, msg.ShipID); err != nil {
		return syncerr.NewRetryable("apply.increment_version", err)
	}
	return r.markSyncedOrRetry(ctx, msg)
}

func (r *Resolver) markSyncedOrRetry(ctx context.Context, msg *wire.SyncMessage) error {
	if err := r.db.Metadata().MarkSynced(ctx, msg.ContentType, msg.ContentID); err != nil {
		return syncerr.NewRetryable("apply.mark_synced", err)
	}
	return nil
}

// ResolveConflict implements the manual-resolution half of §4.F: the
// operator's chosen payload (or the computed auto-merge/last-writer-wins
// result) is written back to the CMS, the conflict is marked resolved, and
// metadata is re-synced.
func (r *Resolver) ResolveConflict(ctx context.Context, conflictID int64, resolution store.Resolution, merged json.RawMessage, resolvedBy string) error {
	c, err := r.db.Conflicts().Get(ctx, conflictID)
	if err != nil {
		return fmt.Errorf("get conflict: %w", err)
	}

	var payload json.RawMessage
	switch resolution {
	case store.ResolutionKeepLocal:
		payload = c.LocalData
	case store.ResolutionKeepRemote:
		payload = c.RemoteData
	case store.ResolutionMerge:
		if len(merged) > 0 {
			payload = merged
		} else {
			payload, err = r.autoResolve(c)
			if err != nil {
				return fmt.Errorf("auto-merge conflict: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown resolution %q", resolution)
	}

	_, getErr := r.adapter.Get(ctx, c.ContentType, c.EntityID)
	exists := getErr == nil
	var writeErr error
	switch {
	case exists:
		writeErr = r.adapter.Update(ctx, c.ContentType, c.EntityID, payload)
	case payload != nil:
		writeErr = r.adapter.Create(ctx, c.ContentType, c.EntityID, payload)
	}
	if writeErr != nil {
		return fmt.Errorf("write resolved payload: %w", writeErr)
	}

	if err := r.db.Conflicts().Resolve(ctx, conflictID, resolution, merged, resolvedBy); err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	if err := r.db.Metadata().MarkSynced(ctx, c.ContentType, c.EntityID); err != nil {
		return fmt.Errorf("mark synced after resolve: %w", err)
	}
	return nil
}

// autoResolve applies the resolver's configured strategy (merge or
// last-writer-wins) when a manual merge payload was not supplied.
func (r *Resolver) autoResolve(c *store.ConflictLogEntry) (json.RawMessage, error) {
	switch r.strategy {
	case StrategyLastWriterWins:
		local := decodeObjectAny(c.LocalData)
		remote := decodeObjectAny(c.RemoteData)
		if lastWriterIsRemote(local, remote) {
			return c.RemoteData, nil
		}
		return c.LocalData, nil
	default:
		return autoMerge(c.LocalData, c.RemoteData)
	}
}

func lastWriterIsRemote(local, remote map[string]any) bool {
	lt, lok := local["updatedAt"].(string)
	rt, rok := remote["updatedAt"].(string)
	if !lok || !rok {
		return false
	}
	lp, err1 := time.Parse(time.RFC3339, lt)
	rp, err2 := time.Parse(time.RFC3339, rt)
	if err1 != nil || err2 != nil {
		return false
	}
	return rp.After(lp)
}
