// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/cartographus-sync/internal/cms"
	"github.com/tomtom215/cartographus-sync/internal/wire"
)

// fileContentType is the synthetic CMS content type used to persist
// FileRecord metadata so it can be looked up by hash and referenced by id
// like any other synced entity.
const fileContentType = "file"

// ProcessReplicaFileRecords runs on the master: for every replica-provided
// FileRecord whose hash is not already known, it creates a CMS file row
// and returns a mapping from the replica-side id to the new master-side id.
func (m *Mirror) ProcessReplicaFileRecords(ctx context.Context, adapter cms.Adapter, records []wire.FileRecord) (map[string]string, error) {
	mapping := make(map[string]string, len(records))
	for _, rec := range records {
		masterID, err := m.findByHash(ctx, adapter, rec.Hash)
		if err != nil {
			return mapping, fmt.Errorf("look up file record by hash: %w", err)
		}
		if masterID == "" {
			masterID = rec.Hash
			if masterID == "" {
				masterID = uuid.NewString()
			}
			payload, err := json.Marshal(fileRow{
				ID:   masterID,
				Name: rec.Name,
				Hash: rec.Hash,
				Ext:  rec.Ext,
				MIME: rec.MIME,
				Size: rec.Size,
				URL:  rec.URL,
			})
			if err != nil {
				return mapping, fmt.Errorf("marshal file row: %w", err)
			}
			if err := adapter.Create(ctx, fileContentType, masterID, payload); err != nil {
				return mapping, fmt.Errorf("create master file row: %w", err)
			}
		}
		mapping[rec.ID] = masterID
	}
	return mapping, nil
}

// UpdateContentFileIDs rewrites any string leaf in data equal to a
// replica-side file id into its master-side equivalent.
func (m *Mirror) UpdateContentFileIDs(data json.RawMessage, mapping map[string]string) json.RawMessage {
	if len(mapping) == 0 || len(data) == 0 {
		return data
	}
	v, err := decodeAny(data)
	if err != nil || v == nil {
		return data
	}
	rewritten := walkStrings(v, m.maxDepth, func(s string) string {
		if masterID, ok := mapping[s]; ok {
			return masterID
		}
		return s
	})
	out, err := encodeAny(rewritten)
	if err != nil {
		return data
	}
	return out
}

type fileRow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Hash string `json:"hash"`
	Ext  string `json:"ext,omitempty"`
	MIME string `json:"mime,omitempty"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// findByHash is a best-effort lookup: the reference cms.Store adapter has
// no secondary index, so this only recognizes an exact id match (the
// common case when the same record round-trips through apply twice); a
// real CMS adapter would implement a proper hash index.
func (m *Mirror) findByHash(ctx context.Context, adapter cms.Adapter, hash string) (string, error) {
	_, err := adapter.Get(ctx, fileContentType, hash)
	if errors.Is(err, cms.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}
