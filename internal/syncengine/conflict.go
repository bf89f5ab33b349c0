// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package syncengine

import (
	"sort"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cartographus-sync/internal/store"
)

// reservedFields are excluded from the structural diff: identity and
// sync-bookkeeping columns that legitimately differ between peers without
// representing a real content conflict.
var reservedFields = map[string]bool{
	"id":                 true,
	"createdAt":          true,
	"updatedAt":          true,
	"syncVersion":        true,
	"modifiedByLocation": true,
	"syncStatus":         true,
	"conflictFlag":       true,
	"lastSyncedAt":       true,
}

// detectConflict implements §4.A's detectConflict: equal syncVersion means
// no conflict; otherwise a per-field structural diff of the two payloads
// (excluding reservedFields) determines whether the conflict is "direct"
// (both sides have the field, values differ) or "structural" (the field is
// present on only one side).
func detectConflict(localVersion, remoteVersion uint64, localData, remoteData []byte) (hasConflict bool, fields []string, kind store.ConflictKind) {
	if localVersion == remoteVersion {
		return false, nil, store.ConflictNone
	}

	local := decodeObject(localData)
	remote := decodeObject(remoteData)

	seen := make(map[string]bool)
	structural := false
	for k := range local {
		seen[k] = true
	}
	for k := range remote {
		seen[k] = true
	}

	var diffs []string
	for k := range seen {
		if reservedFields[k] {
			continue
		}
		lv, lok := local[k]
		rv, rok := remote[k]
		if lok != rok {
			diffs = append(diffs, k)
			structural = true
			continue
		}
		if !jsonEqual(lv, rv) {
			diffs = append(diffs, k)
		}
	}

	if len(diffs) == 0 {
		return false, nil, store.ConflictNone
	}
	sort.Strings(diffs)
	if structural {
		return true, diffs, store.ConflictStructural
	}
	return true, diffs, store.ConflictDirect
}

func decodeObject(data []byte) map[string]json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return string(a) == string(b)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return string(a) == string(b)
	}
	na, err1 := json.Marshal(av)
	nb, err2 := json.Marshal(bv)
	if err1 != nil || err2 != nil {
		return string(a) == string(b)
	}
	return string(na) == string(nb)
}

// autoMerge shallow-combines local and remote, taking local as the base and
// filling in any field absent there from remote, skipping reservedFields.
func autoMerge(localData, remoteData []byte) ([]byte, error) {
	local := decodeObjectAny(localData)
	remote := decodeObjectAny(remoteData)

	merged := make(map[string]any, len(local)+len(remote))
	for k, v := range remote {
		if reservedFields[k] {
			continue
		}
		merged[k] = v
	}
	for k, v := range local {
		if reservedFields[k] {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

func decodeObjectAny(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
