// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package media

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cartographus-sync/internal/cms"
	"github.com/tomtom215/cartographus-sync/internal/logging"
	"github.com/tomtom215/cartographus-sync/internal/wire"
)

// Syncer adapts Mirror to the syncengine.MediaSyncer contract: the
// resolver only ever needs "rewrite/sync media inline with apply and
// never fail the apply", so every error here is logged and swallowed,
// matching §4.K bullet 5.
type Syncer struct {
	mirror  *Mirror
	adapter cms.Adapter
}

// NewSyncer builds a Syncer over mirror using adapter for the master-side
// file-record bookkeeping.
func NewSyncer(mirror *Mirror, adapter cms.Adapter) *Syncer {
	return &Syncer{mirror: mirror, adapter: adapter}
}

// SyncContentMedia implements syncengine.MediaSyncer.
func (s *Syncer) SyncContentMedia(ctx context.Context, data json.RawMessage) json.RawMessage {
	return s.mirror.SyncContentMedia(ctx, data)
}

// ProcessReplicaFileRecords implements syncengine.MediaSyncer.
func (s *Syncer) ProcessReplicaFileRecords(ctx context.Context, records []wire.FileRecord) map[string]string {
	mapping, err := s.mirror.ProcessReplicaFileRecords(ctx, s.adapter, records)
	if err != nil {
		logging.Warn().Err(err).Msg("media mirror: failed to process replica file records")
		return nil
	}
	return mapping
}

// UpdateContentFileIds implements syncengine.MediaSyncer.
func (s *Syncer) UpdateContentFileIds(data json.RawMessage, mapping map[string]string) json.RawMessage {
	return s.mirror.UpdateContentFileIDs(data, mapping)
}

// PrepareForPush implements the outbound half of §4.K (bullet "prepareForPush
// ... on replica push", §8 scenario S5): it pushes any local-only object a
// queued change references up to master and rewrites the payload to
// master's base URL, so a replica-created entity never reaches master still
// pointing at a `local-store` URL master can't serve.
func (s *Syncer) PrepareForPush(ctx context.Context, data json.RawMessage) (json.RawMessage, []wire.FileRecord, error) {
	return s.mirror.PrepareForPush(ctx, data)
}
